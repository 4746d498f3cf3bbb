package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/chenguaself/blive-danmaku/src/consts"
	"github.com/chenguaself/blive-danmaku/src/danmaku"
	"github.com/chenguaself/blive-danmaku/src/metrics"
	"github.com/chenguaself/blive-danmaku/src/pkg/sentry"
	"github.com/chenguaself/blive-danmaku/src/pkg/utils"
	"github.com/chenguaself/blive-danmaku/src/protocol"
)

const (
	heartbeatInterval = 30 * time.Second
	handshakeTimeout  = 10 * time.Second
	// eventBuffer 连接出口通道容量。读循环绝不阻塞，写满即丢
	eventBuffer = 1024
)

// Status 连接状态机
type Status int

const (
	StatusDisconnected Status = iota
	StatusResolving
	StatusHandshaking
	StatusAuthenticated
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusResolving:
		return "resolving"
	case StatusHandshaking:
		return "handshaking"
	case StatusAuthenticated:
		return "authenticated"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// authPayload 认证包体。protover=3 要求上游用 brotli 压缩下发
type authPayload struct {
	UID      int64  `json:"uid"`
	RoomID   int64  `json:"roomid"`
	ProtoVer int    `json:"protover"`
	Platform string `json:"platform"`
	Type     int    `json:"type"`
	Key      string `json:"key"`
}

// Connection 单个直播间的弹幕连接。
// Connect 可重复调用：每次先拆掉旧的 socket 和心跳再重新握手。
type Connection struct {
	client  *Client
	inputID int64 // 用户输入的房间号，可能是短号
	uid     int64

	mu     sync.Mutex
	status Status
	realID int64
	ws     *websocket.Conn
	cancel context.CancelFunc

	session *sessionTracker
	events  chan danmaku.Event
	logger  *logrus.Entry
	onClose func()
}

func NewConnection(roomID, uid int64, client *Client) *Connection {
	return &Connection{
		client:  client,
		inputID: roomID,
		uid:     uid,
		session: newSessionTracker(),
		events:  make(chan danmaku.Event, eventBuffer),
		logger:  logrus.WithField("room", roomID),
	}
}

// Events 归一化后的事件出口
func (c *Connection) Events() <-chan danmaku.Event {
	return c.events
}

// SetOnClose 注册意外断开时的回调（主动 Close 不触发），
// 由上层决定是否重连。要在 Connect 之前调用。
func (c *Connection) SetOnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// SessionID 当前场次号，未开播为 0
func (c *Connection) SessionID() int64 {
	return c.session.Current()
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RealID 真实房间号，解析前为 0
func (c *Connection) RealID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.realID
}

// Connect 建立（或重建）到弹幕服务器的连接。
// 解析房间号、取认证信息、握手、发认证包、等 op=8 回复，
// 全部成功后才启动读循环和心跳。任何一步失败都回到 Disconnected。
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.teardownLocked()
	c.status = StatusResolving
	c.mu.Unlock()

	fail := func(err error) error {
		c.setStatus(StatusDisconnected)
		return err
	}

	realID := c.RealID()
	if realID == 0 {
		id, err := c.client.ResolveRoomID(c.inputID)
		if err != nil {
			return fail(fmt.Errorf("解析房间号失败: %w", err))
		}
		realID = id
		c.mu.Lock()
		c.realID = id
		c.mu.Unlock()
		if id != c.inputID {
			c.logger.WithField("real_id", id).Info("短号已解析")
		}
	}

	conf, err := c.client.GetDanmuConf(realID)
	if err != nil {
		return fail(fmt.Errorf("获取弹幕服务器信息失败: %w", err))
	}

	c.setStatus(StatusHandshaking)
	host := conf.Hosts[0]
	wsURL := fmt.Sprintf("wss://%s:%d/sub", host.Host, host.WSSPort)

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		// 在 TLS 之下包一层字节计数，流量走 /metrics 暴露
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := (&net.Dialer{Timeout: handshakeTimeout}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return utils.CountConn(conn, nil,
				func(n int) { metrics.UpstreamBytesTotal.WithLabelValues("read").Add(float64(n)) },
				func(n int) { metrics.UpstreamBytesTotal.WithLabelValues("write").Add(float64(n)) },
			), nil
		},
	}
	header := http.Header{}
	header.Set("User-Agent", userAgent)
	header.Set("Origin", "https://live.bilibili.com")
	ws, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fail(fmt.Errorf("连接 %s 失败: %w", wsURL, err))
	}

	if err := c.authenticate(ws, realID, conf.Token); err != nil {
		ws.Close()
		return fail(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.ws = ws
	c.cancel = cancel
	c.status = StatusAuthenticated
	c.mu.Unlock()

	c.logger.Info("直播间连接成功")
	c.emit(&danmaku.SystemNotice{Message: "直播间连接成功", Timestamp: time.Now().Unix()})

	sentry.Go(func() { c.readLoop(ws) })
	sentry.Go(func() { c.heartbeatLoop(runCtx, ws) })
	return nil
}

func (c *Connection) authenticate(ws *websocket.Conn, roomID int64, token string) error {
	if c.uid == 0 {
		c.logger.Warn("以游客身份(uid=0)连接，上游会对用户信息脱敏")
	}
	body, err := json.Marshal(authPayload{
		UID:      c.uid,
		RoomID:   roomID,
		ProtoVer: 3,
		Platform: "web",
		Type:     2,
		Key:      token,
	})
	if err != nil {
		return err
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, protocol.EncodeFrame(body, protocol.OpAuth)); err != nil {
		return fmt.Errorf("发送认证包失败: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})
	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("等待认证回复失败: %w", err)
	}
	for _, frame := range protocol.DecodeFrames(data) {
		if frame.Operation != protocol.OpAuthReply {
			continue
		}
		if code := gjson.GetBytes(frame.Body, "code").Int(); code != 0 {
			return fmt.Errorf("认证被拒绝: code=%d", code)
		}
		return nil
	}
	return errors.New("未收到认证回复")
}

func (c *Connection) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClosed(ws, err)
			return
		}
		for _, frame := range protocol.DecodeFrames(data) {
			c.handleFrame(frame)
		}
	}
}

func (c *Connection) handleFrame(frame protocol.Frame) {
	switch frame.Operation {
	case protocol.OpHeartbeatReply:
		if v, ok := protocol.Popularity(frame.Body); ok {
			c.session.Touch()
			c.emit(&danmaku.Popularity{Value: v, Timestamp: time.Now().Unix()})
		}
	case protocol.OpMessage:
		ev := danmaku.Normalize(frame.Body)
		if ev == nil {
			return
		}
		c.session.Touch()
		if st, ok := ev.(*danmaku.LiveStatusChanged); ok {
			c.applyLiveStatus(st.Status, st.StartAt)
		}
		c.emit(ev)
	}
}

// applyLiveStatus 把开播/下播同步进场次跟踪，开启新场次时
// 先向下游发一条场次分隔符。
func (c *Connection) applyLiveStatus(status int, startAt int64) {
	switch status {
	case consts.LiveStatusLive:
		prev := c.session.Current()
		id := c.session.MarkLive(startAt)
		if id != prev {
			c.logger.WithField("session", id).Info("开始新场次")
			c.emit(&danmaku.SessionDivider{SessionID: id, Timestamp: time.Now().Unix()})
		}
	case consts.LiveStatusOff:
		c.session.MarkPreparing()
	}
}

func (c *Connection) heartbeatLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	beat := protocol.EncodeFrame(nil, protocol.OpHeartbeat)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteMessage(websocket.BinaryMessage, beat); err != nil {
				c.logger.WithError(err).Warn("心跳发送失败")
				ws.Close()
				return
			}
			c.session.Touch()
		}
	}
}

func (c *Connection) handleClosed(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		// 已经被新一轮 Connect 替换掉的旧 socket，忽略
		c.mu.Unlock()
		return
	}
	deliberate := c.status == StatusClosing
	c.teardownLocked()
	c.status = StatusDisconnected
	onClose := c.onClose
	c.mu.Unlock()

	c.emit(&danmaku.SystemNotice{Message: "直播间连接已关闭", Timestamp: time.Now().Unix()})
	if deliberate {
		return
	}
	c.logger.WithError(err).Warn("连接意外断开")
	if onClose != nil {
		sentry.Go(onClose)
	}
}

// Close 主动断开，不触发 OnClose
func (c *Connection) Close() {
	c.mu.Lock()
	c.status = StatusClosing
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		// readLoop 收到关闭错误后把状态落回 Disconnected
		ws.Close()
		return
	}
	c.mu.Lock()
	c.teardownLocked()
	c.status = StatusDisconnected
	c.mu.Unlock()
}

// teardownLocked 拆掉当前 socket 和心跳，调用方持锁
func (c *Connection) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// RefreshLiveStatus 主动查询直播状态并同步场次跟踪。
// 连接建立后立即调一次，让历史记录一开始就有场次可挂。
func (c *Connection) RefreshLiveStatus() (*LiveStatus, error) {
	roomID := c.RealID()
	if roomID == 0 {
		roomID = c.inputID
	}
	status, err := c.client.GetLiveStatus(roomID)
	if err != nil {
		return nil, err
	}
	switch status.Status {
	case consts.LiveStatusLive:
		c.applyLiveStatus(consts.LiveStatusLive, status.StartAt)
	case consts.LiveStatusOff:
		c.session.MarkPreparing()
	}
	return status, nil
}

// RoomInfo 查询主播展示信息
func (c *Connection) RoomInfo() (*RoomInfo, error) {
	roomID := c.RealID()
	if roomID == 0 {
		roomID = c.inputID
	}
	return c.client.GetRoomInfo(roomID)
}

func (c *Connection) emit(ev danmaku.Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.WithField("type", ev.EventKind()).Warn("事件通道已满，丢弃")
	}
}
