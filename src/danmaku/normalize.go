package danmaku

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// 这些命令数据量大但对展示无用，直接吞掉，不在 debug 以上级别留日志
var suppressedCommands = map[string]struct{}{
	"LIKE_INFO_V3_CLICK":  {}, // 点赞
	"LIKE_INFO_V3_UPDATE": {}, // 点赞数刷新
	"ENTRY_EFFECT":        {}, // 进场特效
	"ONLINE_RANK_V3":      {}, // 高能榜分页快照
	"STOP_LIVE_ROOM_LIST": {}, // 停播房间列表
}

// Normalize 把一条上游 JSON 命令归一化为事件。
// 被过滤、未识别或无法解析的命令返回 nil——归一化对输入是全函数，绝不报错。
func Normalize(body []byte) Event {
	cmd := gjson.GetBytes(body, "cmd").String()
	// 部分命令会带 ":" 后缀（如 "DANMU_MSG:4:0:2:2:2:0"）
	if i := strings.IndexByte(cmd, ':'); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "DANMU_MSG":
		return normalizeChat(body)
	case "SEND_GIFT":
		return normalizeGift(body)
	case "GUARD_BUY":
		return normalizeGuard(body)
	case "INTERACT_WORD", "INTERACT_WORD_V2":
		return normalizeEntrance(body)
	case "SUPER_CHAT_MESSAGE":
		return normalizeSuperChat(body)
	case "WATCHED_CHANGE":
		return &ViewerCount{
			Num:       gjson.GetBytes(body, "data.num").Int(),
			TextSmall: gjson.GetBytes(body, "data.text_small").String(),
			TextLarge: gjson.GetBytes(body, "data.text_large").String(),
			Timestamp: time.Now().Unix(),
		}
	case "ONLINE_RANK_COUNT":
		return &RankCount{
			Count:     gjson.GetBytes(body, "data.count").Int(),
			Timestamp: time.Now().Unix(),
		}
	case "LIVE":
		return &LiveStatusChanged{
			Status:    1,
			StartAt:   gjson.GetBytes(body, "live_time").Int(),
			Timestamp: time.Now().Unix(),
		}
	case "PREPARING":
		return &LiveStatusChanged{Status: 0, Timestamp: time.Now().Unix()}
	case "":
		logrus.Debug("命令缺少 cmd 字段，丢弃")
		return nil
	default:
		if _, ok := suppressedCommands[cmd]; ok {
			return nil
		}
		logrus.WithField("cmd", cmd).Info("未识别的命令，丢弃")
		return nil
	}
}

func normalizeChat(body []byte) Event {
	info := gjson.GetBytes(body, "info")
	if !info.IsArray() {
		logrus.Debug("DANMU_MSG 缺少 info 数组，丢弃")
		return nil
	}

	content := info.Get("1").String()
	emotes := make(map[string]Emote)

	// 大表情：整条弹幕就是一个表情，内容是表情文本（如"乐"）。
	// 包装成 [文本] 形式，使键能与渲染后的文本匹配。
	if big := info.Get("0.13"); big.Get("emoticon_unique").String() != "" {
		key := "[" + content + "]"
		emotes[key] = Emote{
			URL:            big.Get("url").String(),
			Width:          intOr(big.Get("width"), 60),
			Height:         intOr(big.Get("height"), 60),
			EmoticonID:     big.Get("emoticon_id").Int(),
			EmoticonUnique: big.Get("emoticon_unique").String(),
		}
		content = key
	}

	// 文本内嵌的小表情在 info[0][15].extra（本身是个 JSON 字符串）
	extra := info.Get("0.15.extra")
	if extra.Type == gjson.String {
		extra = gjson.Parse(extra.String())
	}
	extra.Get("emots").ForEach(func(key, value gjson.Result) bool {
		emotes[key.String()] = Emote{
			URL:            value.Get("url").String(),
			Width:          intOr(value.Get("width"), 60),
			Height:         intOr(value.Get("height"), 60),
			EmoticonID:     value.Get("emoticon_id").Int(),
			EmoticonUnique: value.Get("emoticon_unique").String(),
		}
		return true
	})
	if len(emotes) == 0 {
		emotes = nil
	}

	face := info.Get("0.15.user.base.face").String()
	if face == "" {
		face = DefaultFace
	}

	var medal *Medal
	if m := info.Get("3"); m.IsArray() && len(m.Array()) > 0 {
		medal = &Medal{
			Level:  m.Get("0").Int(),
			Name:   m.Get("1").String(),
			UpName: m.Get("2").String(),
			RoomID: m.Get("3").Int(),
		}
	}

	ts := info.Get("9.ts").Int()
	if ts == 0 {
		ts = time.Now().Unix()
	}

	return &Chat{
		User: User{
			UID:        info.Get("2.0").Int(),
			Username:   info.Get("2.1").String(),
			Face:       face,
			IsAdmin:    info.Get("2.2").Int() == 1,
			IsVip:      info.Get("2.3").Int() == 1,
			IsSvip:     info.Get("2.4").Int() == 1,
			GuardLevel: int(info.Get("7").Int()),
			Medal:      medal,
		},
		Content:   content,
		Emotes:    emotes,
		Timestamp: ts,
	}
}

func normalizeGift(body []byte) Event {
	data := gjson.GetBytes(body, "data")
	ts := data.Get("timestamp").Int()
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return &Gift{
		User: User{
			UID:      data.Get("uid").Int(),
			Username: data.Get("uname").String(),
			Face:     data.Get("face").String(),
		},
		GiftID:    data.Get("giftId").Int(),
		GiftName:  data.Get("giftName").String(),
		Num:       data.Get("num").Int(),
		Price:     data.Get("price").Int(),
		CoinType:  data.Get("coin_type").String(),
		TotalCoin: data.Get("total_coin").Int(),
		Timestamp: ts,
	}
}

func normalizeGuard(body []byte) Event {
	data := gjson.GetBytes(body, "data")
	ts := data.Get("start_time").Int()
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return &GuardPurchase{
		User: User{
			UID:      data.Get("uid").Int(),
			Username: data.Get("username").String(),
		},
		GuardLevel: data.Get("guard_level").Int(),
		Num:        data.Get("num").Int(),
		Price:      data.Get("price").Int(),
		GiftName:   data.Get("gift_name").String(),
		Timestamp:  ts,
	}
}

func normalizeEntrance(body []byte) Event {
	data := gjson.GetBytes(body, "data")
	username := data.Get("uname").String()
	if username == "" {
		username = data.Get("name").String()
	}
	// 空用户名、占位名和打码用户名是隐私脱敏的游客，整条压掉
	if username == "" || username == "用户" || strings.Contains(username, "*") {
		return nil
	}
	msgType := data.Get("msg_type").Int()
	if msgType == 0 {
		msgType = 1
	}
	ts := data.Get("timestamp").Int()
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return &Entrance{
		User: User{
			UID:      data.Get("uid").Int(),
			Username: username,
		},
		MsgType:   msgType,
		Timestamp: ts,
	}
}

func normalizeSuperChat(body []byte) Event {
	data := gjson.GetBytes(body, "data")
	ts := data.Get("time").Int()
	if ts == 0 {
		ts = data.Get("timestamp").Int()
	}
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return &SuperChat{
		User: User{
			UID:      data.Get("uid").Int(),
			Username: data.Get("user_info.uname").String(),
			Face:     data.Get("user_info.face").String(),
		},
		Price:           data.Get("price").Int(),
		Message:         data.Get("message").String(),
		BackgroundColor: data.Get("background_bottom_color").String(),
		Time:            ts,
	}
}

func intOr(r gjson.Result, fallback int64) int64 {
	if v := r.Int(); v > 0 {
		return v
	}
	return fallback
}
