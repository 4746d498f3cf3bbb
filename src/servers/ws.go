package servers

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/chenguaself/blive-danmaku/src/danmaku"
	"github.com/chenguaself/blive-danmaku/src/live"
	"github.com/chenguaself/blive-danmaku/src/log"
	"github.com/chenguaself/blive-danmaku/src/pkg/sentry"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 前端跨端口访问，放开来源检查
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveDanmakuWS GET /ws/danmaku?roomId=N[&backlog=1]
// 接入后依次下发：房间快照、（可选）当前场次的历史回放、实时事件流。
func (s *Server) serveDanmakuWS(writer http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(r.URL.Query().Get("roomId"), 10, 64)
	if err != nil || roomID <= 0 {
		writeError(writer, http.StatusBadRequest, "缺少 roomId 参数")
		return
	}

	conn, err := upgrader.Upgrade(writer, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	logger := log.GetLogger().WithField("room", roomID)

	sub, err := s.manager.Attach(r.Context(), roomID)
	if err != nil {
		logger.WithError(err).Error("订阅失败")
		writeEvent(conn, &danmaku.ErrorNotice{
			Message:   "连接直播间失败: " + err.Error(),
			Timestamp: time.Now().Unix(),
		})
		return
	}
	defer s.manager.Detach(sub)
	logger.WithField("subscriber", sub.ID).Info("客户端已接入")

	s.sendSnapshot(conn, roomID)
	if r.URL.Query().Get("backlog") == "1" {
		s.sendBacklog(conn, roomID)
	}

	// 读循环只用来探测客户端断开
	done := make(chan struct{})
	sentry.Go(func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	for {
		select {
		case <-done:
			logger.WithField("subscriber", sub.ID).Info("客户端已断开")
			return
		case ev := <-sub.Events:
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

// snapshotTTL 房间快照缓存时长
const snapshotTTL = 10 * time.Second

// roomSnapshot 接入时下发的房间状态，字段缺失表示对应查询失败
type roomSnapshot struct {
	status *live.LiveStatus
	info   *live.RoomInfo
	rank   int64
	rankOK bool
}

func (s *Server) snapshot(roomID int64) *roomSnapshot {
	if v, err := s.snapshots.Get(roomID); err == nil {
		return v.(*roomSnapshot)
	}
	logger := log.GetLogger().WithField("room", roomID)

	snap := &roomSnapshot{}
	if status, err := s.client.GetLiveStatus(roomID); err == nil {
		snap.status = status
	} else {
		logger.WithError(err).Debug("快照查询直播状态失败")
	}
	if info, err := s.client.GetRoomInfo(roomID); err == nil {
		snap.info = info
	} else {
		logger.WithError(err).Debug("快照查询房间信息失败")
	}
	if count, err := s.client.GetRankCount(roomID); err == nil {
		snap.rank = count
		snap.rankOK = true
	} else {
		logger.WithError(err).Debug("快照查询高能榜失败")
	}
	s.snapshots.SetWithExpire(roomID, snap, snapshotTTL)
	return snap
}

// sendSnapshot 接入时立即推一份当前状态，不等上游事件
func (s *Server) sendSnapshot(conn *websocket.Conn, roomID int64) {
	snap := s.snapshot(roomID)
	now := time.Now().Unix()
	if snap.status != nil {
		writeEvent(conn, &danmaku.LiveStatusChanged{
			Status: snap.status.Status, StartAt: snap.status.StartAt, Timestamp: now,
		})
	}
	if snap.info != nil {
		writeRaw(conn, map[string]any{"type": "room_info", "data": snap.info, "timestamp": now})
	}
	if snap.rankOK {
		writeEvent(conn, &danmaku.RankCount{Count: snap.rank, Timestamp: now})
	}
}

// rawEvent 回放时的原始历史行，穿过礼物聚合但不参与合并
type rawEvent struct {
	kind danmaku.Kind
	ts   int64
	data []byte
}

func (e *rawEvent) EventKind() danmaku.Kind { return e.kind }
func (e *rawEvent) EventTime() int64        { return e.ts }

// sendBacklog 回放当前场次已落盘的记录。
// 礼物在回放时重新过一遍聚合，和实时流看到的结果一致。
func (s *Server) sendBacklog(conn *websocket.Conn, roomID int64) {
	sessionID := s.manager.SessionID(roomID)
	if sessionID == 0 {
		return
	}
	lines, err := s.store.LoadMerged(roomID, sessionID)
	if err != nil {
		if !os.IsNotExist(err) {
			log.GetLogger().WithError(err).WithField("room", roomID).Error("读取回放记录失败")
		}
		return
	}

	var list []danmaku.Event
	for _, line := range lines {
		kind := gjson.GetBytes(line, "type").String()
		if kind == string(danmaku.KindGift) {
			var gift danmaku.Gift
			if err := json.Unmarshal(line, &gift); err == nil {
				list = danmaku.AppendGift(list, &gift)
				continue
			}
		}
		ts := gjson.GetBytes(line, "timestamp").Int()
		if ts == 0 {
			ts = gjson.GetBytes(line, "time").Int()
		}
		if ts > 10000000000 {
			ts /= 1000
		}
		list = append(list, &rawEvent{kind: danmaku.Kind(kind), ts: ts, data: line})
	}

	for _, ev := range list {
		if raw, ok := ev.(*rawEvent); ok {
			if err := writeMessage(conn, raw.data); err != nil {
				return
			}
			continue
		}
		if err := writeEvent(conn, ev); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev danmaku.Event) error {
	b, err := danmaku.Marshal(ev)
	if err != nil {
		return nil
	}
	return writeMessage(conn, b)
}

func writeRaw(conn *websocket.Conn, obj map[string]any) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil
	}
	return writeMessage(conn, b)
}

func writeMessage(conn *websocket.Conn, b []byte) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
