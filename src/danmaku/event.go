// Package danmaku 定义统一的弹幕事件模型，并把上游 JSON 命令
// 归一化为封闭的事件变体集合。
package danmaku

import (
	"encoding/json"
	"fmt"
)

// Kind 事件类型标签，序列化后即下游协议里的 type 字段。
type Kind string

const (
	KindChat           Kind = "danmaku"
	KindGift           Kind = "gift"
	KindGuard          Kind = "guard"
	KindEntrance       Kind = "welcome"
	KindSuperChat      Kind = "superchat"
	KindViewerCount    Kind = "watched"
	KindRankCount      Kind = "rank"
	KindPopularity     Kind = "popularity"
	KindLiveStatus     Kind = "live_status"
	KindSessionDivider Kind = "session_divider"
	KindSystem         Kind = "system"
	KindError          Kind = "error"
)

// Event 归一化事件。变体集合是封闭的，消费方用类型断言分发。
type Event interface {
	EventKind() Kind
	// EventTime 事件的 unix 秒时间戳
	EventTime() int64
}

// DefaultFace 协议里缺失头像时的占位图
const DefaultFace = "https://i0.hdslb.com/bfs/face/member/noface.jpg"

// User 事件携带的用户身份
type User struct {
	UID      int64  `json:"uid"`
	Username string `json:"username"`
	Face     string `json:"face,omitempty"`
	IsAdmin  bool   `json:"isAdmin,omitempty"`
	IsVip    bool   `json:"isVip,omitempty"`
	IsSvip   bool   `json:"isSvip,omitempty"`
	// GuardLevel 大航海等级: 0=无 1=总督 2=提督 3=舰长
	GuardLevel int    `json:"guardLevel,omitempty"`
	Medal      *Medal `json:"medal,omitempty"`
}

// Medal 粉丝勋章
type Medal struct {
	Level  int64  `json:"level"`
	Name   string `json:"name"`
	UpName string `json:"upName"`
	RoomID int64  `json:"roomId"`
}

// Emote 弹幕中的表情，键为其在文本中替换的字面子串
type Emote struct {
	URL            string `json:"url"`
	Width          int64  `json:"width"`
	Height         int64  `json:"height"`
	EmoticonID     int64  `json:"emoticon_id,omitempty"`
	EmoticonUnique string `json:"emoticon_unique,omitempty"`
}

// Chat 弹幕
type Chat struct {
	User      User             `json:"user"`
	Content   string           `json:"content"`
	Emotes    map[string]Emote `json:"emots,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

func (e *Chat) EventKind() Kind  { return KindChat }
func (e *Chat) EventTime() int64 { return e.Timestamp }

// Gift 礼物
type Gift struct {
	User     User   `json:"user"`
	GiftID   int64  `json:"giftId"`
	GiftName string `json:"giftName"`
	Num      int64  `json:"num"`
	Price    int64  `json:"price"`
	// CoinType 货币类型: gold=付费 silver=免费
	CoinType  string `json:"coinType"`
	TotalCoin int64  `json:"totalCoin"`
	Timestamp int64  `json:"timestamp"`
}

func (e *Gift) EventKind() Kind  { return KindGift }
func (e *Gift) EventTime() int64 { return e.Timestamp }

// GuardPurchase 上舰（大航海订阅）
type GuardPurchase struct {
	User       User   `json:"user"`
	GuardLevel int64  `json:"guardLevel"`
	Num        int64  `json:"num"`
	Price      int64  `json:"price"`
	GiftName   string `json:"giftName"`
	Timestamp  int64  `json:"timestamp"`
}

func (e *GuardPurchase) EventKind() Kind  { return KindGuard }
func (e *GuardPurchase) EventTime() int64 { return e.Timestamp }

// Entrance 进房/关注/分享
type Entrance struct {
	User User `json:"user"`
	// MsgType 1=进入 2=关注 3=分享
	MsgType   int64 `json:"msgType"`
	Timestamp int64 `json:"timestamp"`
}

func (e *Entrance) EventKind() Kind  { return KindEntrance }
func (e *Entrance) EventTime() int64 { return e.Timestamp }

// SuperChat 醒目留言
type SuperChat struct {
	User            User   `json:"user"`
	Price           int64  `json:"price"`
	Message         string `json:"message"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	Time            int64  `json:"time"`
}

func (e *SuperChat) EventKind() Kind  { return KindSuperChat }
func (e *SuperChat) EventTime() int64 { return e.Time }

// ViewerCount 看过人数变化
type ViewerCount struct {
	Num       int64  `json:"num"`
	TextSmall string `json:"textSmall,omitempty"`
	TextLarge string `json:"textLarge,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (e *ViewerCount) EventKind() Kind  { return KindViewerCount }
func (e *ViewerCount) EventTime() int64 { return e.Timestamp }

// RankCount 高能榜人数变化
type RankCount struct {
	Count     int64 `json:"count"`
	Timestamp int64 `json:"timestamp"`
}

func (e *RankCount) EventKind() Kind  { return KindRankCount }
func (e *RankCount) EventTime() int64 { return e.Timestamp }

// Popularity 心跳回复里的人气值
type Popularity struct {
	Value     uint32 `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

func (e *Popularity) EventKind() Kind  { return KindPopularity }
func (e *Popularity) EventTime() int64 { return e.Timestamp }

// LiveStatusChanged 开播/下播/轮播状态变化
type LiveStatusChanged struct {
	// Status 0=未开播 1=直播中 2=轮播
	Status int `json:"liveStatus"`
	// StartAt 开播时间戳，未开播时为 0
	StartAt   int64 `json:"startAt,omitempty"`
	Timestamp int64 `json:"timestamp"`
}

func (e *LiveStatusChanged) EventKind() Kind  { return KindLiveStatus }
func (e *LiveStatusChanged) EventTime() int64 { return e.Timestamp }

// SessionDivider 场次分隔符，礼物聚合不会跨越它
type SessionDivider struct {
	SessionID int64 `json:"sessionId"`
	Timestamp int64 `json:"timestamp"`
}

func (e *SessionDivider) EventKind() Kind  { return KindSessionDivider }
func (e *SessionDivider) EventTime() int64 { return e.Timestamp }

// SystemNotice 连接状态等系统提示
type SystemNotice struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (e *SystemNotice) EventKind() Kind  { return KindSystem }
func (e *SystemNotice) EventTime() int64 { return e.Timestamp }

// ErrorNotice 错误提示
type ErrorNotice struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (e *ErrorNotice) EventKind() Kind  { return KindError }
func (e *ErrorNotice) EventTime() int64 { return e.Timestamp }

// Marshal 序列化事件并注入 type 标签。
func Marshal(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if len(b) < 2 || b[0] != '{' {
		return nil, fmt.Errorf("event did not marshal to an object: %s", b)
	}
	head := fmt.Sprintf(`{"type":%q`, e.EventKind())
	if len(b) == 2 { // "{}"
		return []byte(head + "}"), nil
	}
	return append([]byte(head+","), b[1:]...), nil
}
