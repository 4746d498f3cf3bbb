// Package live 维护到B站直播间的上游连接：HTTP 元数据读取、
// 弹幕 WebSocket 状态机、场次跟踪。
package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hr3lxphr6j/requests"
	"github.com/tidwall/gjson"

	"github.com/chenguaself/blive-danmaku/src/pkg/ratelimit"
)

const (
	roomInitURL   = "https://api.live.bilibili.com/room/v1/Room/room_init"
	roomInfoURL   = "https://api.live.bilibili.com/room/v1/Room/get_info"
	danmuConfURL  = "https://api.live.bilibili.com/room/v1/Danmu/getConf"
	roomDetailURL = "https://api.live.bilibili.com/xlive/web-room/v1/index/getInfoByRoom"
	goldRankURL   = "https://api.live.bilibili.com/xlive/general-interface/v1/rank/getOnlineGoldRank"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// apiMinInterval 对上游 REST 接口的最小请求间隔，防止触发风控
	apiMinInterval = 200 * time.Millisecond
)

var (
	ErrRoomNotExist = errors.New("直播间不存在")
	ErrNoDanmuHost  = errors.New("弹幕服务器列表为空")
)

// cstZone 上游的 live_time 是不带时区的北京时间字符串
var cstZone = time.FixedZone("CST", 8*3600)

// DanmuHost 弹幕服务器候选节点
type DanmuHost struct {
	Host    string
	WSSPort int64
}

// DanmuConf 弹幕服务器认证信息
type DanmuConf struct {
	Token string
	Hosts []DanmuHost
}

// LiveStatus 直播状态快照
type LiveStatus struct {
	// Status 0=未开播 1=直播中 2=轮播
	Status int
	// StartAt 开播时间戳（unix 秒），未开播为 0
	StartAt   int64
	AnchorUID int64
	Title     string
}

// RoomInfo 直播间与主播的展示信息
type RoomInfo struct {
	Title      string `json:"title"`
	AnchorUID  int64  `json:"anchorUid"`
	AnchorName string `json:"anchorName"`
	AnchorFace string `json:"anchorFace"`
	Followers  int64  `json:"followers"`
	FansClub   int64  `json:"fansClub"`
	GuardCount int64  `json:"guardCount"`
	Viewers    int64  `json:"viewers"`
}

// Client 上游 HTTP API 客户端。所有读取都是无副作用的独立请求。
type Client struct {
	session *requests.Session
	cookies map[string]string
	limiter *ratelimit.Limiter

	mu sync.Mutex
	// anchorUIDs 房间号 -> 主播uid，高能榜接口需要
	anchorUIDs map[int64]int64
}

func NewClient(cookieKVs map[string]string) *Client {
	return &Client{
		session:    requests.NewSession(&http.Client{Timeout: 10 * time.Second}),
		cookies:    cookieKVs,
		limiter:    ratelimit.New(apiMinInterval),
		anchorUIDs: make(map[int64]int64),
	}
}

// get 请求并校验业务码，返回 data 节点
func (c *Client) get(url string, options ...requests.RequestOption) (gjson.Result, error) {
	c.limiter.Wait(context.Background())
	options = append(options,
		requests.UserAgent(userAgent),
		requests.Cookies(c.cookies),
	)
	resp, err := c.session.Get(url, options...)
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("上游返回 %d", resp.StatusCode)
	}
	body, err := resp.Bytes()
	if err != nil {
		return gjson.Result{}, err
	}
	if code := gjson.GetBytes(body, "code").Int(); code != 0 {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = gjson.GetBytes(body, "msg").String()
		}
		return gjson.Result{}, fmt.Errorf("上游业务错误 %d: %s", code, msg)
	}
	return gjson.ParseBytes(body).Get("data"), nil
}

// ResolveRoomID 把短号/靓号解析成真实房间号
func (c *Client) ResolveRoomID(id int64) (int64, error) {
	data, err := c.get(roomInitURL, requests.Query("id", strconv.FormatInt(id, 10)))
	if err != nil {
		return 0, err
	}
	realID := data.Get("room_id").Int()
	if realID == 0 {
		return 0, ErrRoomNotExist
	}
	return realID, nil
}

// GetDanmuConf 获取弹幕服务器 token 和候选节点。
// 用旧版接口（不需要 Wbi 签名），带 Cookie 时上游才不会脱敏用户信息。
func (c *Client) GetDanmuConf(roomID int64) (*DanmuConf, error) {
	data, err := c.get(danmuConfURL,
		requests.Query("room_id", strconv.FormatInt(roomID, 10)),
		requests.Query("platform", "pc"),
		requests.Query("player", "web"),
	)
	if err != nil {
		return nil, err
	}

	conf := &DanmuConf{Token: data.Get("token").String()}
	hosts := data.Get("host_server_list")
	if !hosts.Exists() {
		hosts = data.Get("host_list")
	}
	hosts.ForEach(func(_, value gjson.Result) bool {
		conf.Hosts = append(conf.Hosts, DanmuHost{
			Host:    value.Get("host").String(),
			WSSPort: value.Get("wss_port").Int(),
		})
		return true
	})
	if len(conf.Hosts) == 0 {
		return nil, ErrNoDanmuHost
	}
	return conf, nil
}

// GetLiveStatus 查询直播状态
func (c *Client) GetLiveStatus(roomID int64) (*LiveStatus, error) {
	data, err := c.get(roomInfoURL,
		requests.Query("room_id", strconv.FormatInt(roomID, 10)),
		requests.Query("from", "room"),
	)
	if err != nil {
		return nil, err
	}

	status := &LiveStatus{
		Status:    int(data.Get("live_status").Int()),
		StartAt:   parseLiveTime(data.Get("live_time").String()),
		AnchorUID: data.Get("uid").Int(),
		Title:     data.Get("title").String(),
	}
	if status.AnchorUID != 0 {
		c.mu.Lock()
		c.anchorUIDs[roomID] = status.AnchorUID
		c.mu.Unlock()
	}
	return status, nil
}

// GetRankCount 查询高能榜人数。接口需要主播 uid，缓存没有时先查一次状态。
func (c *Client) GetRankCount(roomID int64) (int64, error) {
	c.mu.Lock()
	uid, ok := c.anchorUIDs[roomID]
	c.mu.Unlock()
	if !ok {
		status, err := c.GetLiveStatus(roomID)
		if err != nil {
			return 0, err
		}
		uid = status.AnchorUID
	}

	data, err := c.get(goldRankURL,
		requests.Query("roomId", strconv.FormatInt(roomID, 10)),
		requests.Query("ruid", strconv.FormatInt(uid, 10)),
		requests.Query("page", "1"),
		requests.Query("pageSize", "1"),
	)
	if err != nil {
		return 0, err
	}
	return data.Get("onlineNum").Int(), nil
}

// GetRoomInfo 查询主播名字、头像和各项人数
func (c *Client) GetRoomInfo(roomID int64) (*RoomInfo, error) {
	data, err := c.get(roomDetailURL, requests.Query("room_id", strconv.FormatInt(roomID, 10)))
	if err != nil {
		return nil, err
	}
	return &RoomInfo{
		Title:      data.Get("room_info.title").String(),
		AnchorUID:  data.Get("room_info.uid").Int(),
		AnchorName: data.Get("anchor_info.base_info.uname").String(),
		AnchorFace: data.Get("anchor_info.base_info.face").String(),
		Followers:  data.Get("anchor_info.relation_info.attention").Int(),
		FansClub:   data.Get("anchor_info.medal_info.fansclub").Int(),
		GuardCount: data.Get("guard_info.count").Int(),
		Viewers:    data.Get("room_info.online").Int(),
	}, nil
}

// parseLiveTime 解析 "2006-01-02 15:04:05" 形式的开播时间。
// 未开播时上游返回 "0000-00-00 00:00:00"，按 0 处理。
func parseLiveTime(s string) int64 {
	if s == "" || s == "0000-00-00 00:00:00" {
		return 0
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, cstZone)
	if err != nil {
		return 0
	}
	return t.Unix()
}
