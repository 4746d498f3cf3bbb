package rooms

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/chenguaself/blive-danmaku/src/configs"
	"github.com/chenguaself/blive-danmaku/src/consts"
	"github.com/chenguaself/blive-danmaku/src/danmaku"
	"github.com/chenguaself/blive-danmaku/src/facecache"
	"github.com/chenguaself/blive-danmaku/src/history"
	"github.com/chenguaself/blive-danmaku/src/live"
	"github.com/chenguaself/blive-danmaku/src/metrics"
	"github.com/chenguaself/blive-danmaku/src/notify"
	"github.com/chenguaself/blive-danmaku/src/pkg/sentry"
)

// reconnectDelay 监控房间意外断开后的重连等待
var reconnectDelay = 5 * time.Second

// connection 管理器对上游连接的最小依赖
type connection interface {
	Connect(ctx context.Context) error
	Close()
	Events() <-chan danmaku.Event
	SetOnClose(func())
	SessionID() int64
	RealID() int64
	RefreshLiveStatus() (*live.LiveStatus, error)
	RoomInfo() (*live.RoomInfo, error)
}

// Subscriber 一个下游订阅者。Events 缓冲写满时丢弃，绝不阻塞读循环。
type Subscriber struct {
	ID     string
	RoomID int64
	Events <-chan danmaku.Event
	ch     chan danmaku.Event
}

type worker struct {
	roomID int64
	conn   connection

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	reconnect   *time.Timer
	done        chan struct{}
	stopped     bool
}

func (w *worker) subscriberCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subscribers)
}

func (w *worker) teardown() {
	w.mu.Lock()
	if w.reconnect != nil {
		w.reconnect.Stop()
		w.reconnect = nil
	}
	if !w.stopped {
		w.stopped = true
		close(w.done)
	}
	w.mu.Unlock()
	w.conn.Close()
}

// Manager 按房间复用上游连接，向订阅者扇出事件。
// 连接按需建立：有人订阅或房间在监控列表里；两者都不满足时回收。
type Manager struct {
	cfg      *configs.Config
	store    *history.Store
	faces    *facecache.Store
	notifier *notify.Notifier

	// newConn 可注入，测试用
	newConn func(roomID int64) connection

	mu        sync.RWMutex
	workers   map[int64]*worker
	monitored map[int64]*MonitorConfig
}

func NewManager(cfg *configs.Config, client *live.Client, store *history.Store, faces *facecache.Store, notifier *notify.Notifier) (*Manager, error) {
	monitored, err := loadMonitored(cfg.MonitorFile())
	if err != nil {
		return nil, err
	}
	if len(monitored) > 0 {
		logrus.WithField("rooms", len(monitored)).Info("已加载监控房间列表")
	}

	uid := cfg.UID()
	m := &Manager{
		cfg:       cfg,
		store:     store,
		faces:     faces,
		notifier:  notifier,
		workers:   make(map[int64]*worker),
		monitored: monitored,
	}
	m.newConn = func(roomID int64) connection {
		return live.NewConnection(roomID, uid, client)
	}
	return m, nil
}

// Init 启动时拉起所有未暂停的监控房间
func (m *Manager) Init(ctx context.Context) {
	m.mu.RLock()
	var ids []int64
	for id, cfg := range m.monitored {
		if !cfg.Paused {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if _, err := m.ensureWorker(ctx, id); err != nil {
			logrus.WithError(err).WithField("room", id).Error("监控房间初始连接失败")
		}
	}
}

// Close 停掉所有连接
func (m *Manager) Close() {
	m.mu.Lock()
	workers := m.workers
	m.workers = make(map[int64]*worker)
	m.mu.Unlock()
	for _, w := range workers {
		w.teardown()
		metrics.ConnectionsActive.Dec()
	}
}

// Attach 订阅一个房间，必要时建立连接
func (m *Manager) Attach(ctx context.Context, roomID int64) (*Subscriber, error) {
	w, err := m.ensureWorker(ctx, roomID)
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		ID:     uuid.Must(uuid.NewV4()).String(),
		RoomID: roomID,
		ch:     make(chan danmaku.Event, m.cfg.SubscriberBuffer),
	}
	sub.Events = sub.ch

	w.mu.Lock()
	w.subscribers[sub.ID] = sub
	w.mu.Unlock()
	metrics.SubscribersActive.Inc()
	return sub, nil
}

// Detach 取消订阅并做闲置检查
func (m *Manager) Detach(sub *Subscriber) {
	if sub == nil {
		return
	}
	m.mu.RLock()
	w := m.workers[sub.RoomID]
	m.mu.RUnlock()
	if w == nil {
		return
	}

	w.mu.Lock()
	if _, ok := w.subscribers[sub.ID]; ok {
		delete(w.subscribers, sub.ID)
		metrics.SubscribersActive.Dec()
	}
	w.mu.Unlock()
	m.checkIdle(sub.RoomID)
}

// SessionID 房间当前场次号，无连接或未开播为 0
func (m *Manager) SessionID(roomID int64) int64 {
	m.mu.RLock()
	w := m.workers[roomID]
	m.mu.RUnlock()
	if w == nil {
		return 0
	}
	return w.conn.SessionID()
}

// ensureWorker 取已有连接或新建一个
func (m *Manager) ensureWorker(ctx context.Context, roomID int64) (*worker, error) {
	m.mu.Lock()
	if w, ok := m.workers[roomID]; ok {
		m.mu.Unlock()
		return w, nil
	}
	conn := m.newConn(roomID)
	w := &worker{
		roomID:      roomID,
		conn:        conn,
		subscribers: make(map[string]*Subscriber),
		done:        make(chan struct{}),
	}
	conn.SetOnClose(func() { m.handleUnexpectedClose(roomID) })
	m.workers[roomID] = w
	m.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	sentry.Go(func() { m.pump(w) })

	logrus.WithField("room", roomID).Info("建立房间连接")
	if err := conn.Connect(ctx); err != nil {
		logrus.WithError(err).WithField("room", roomID).Error("房间连接失败")
		if m.isActiveMonitored(roomID) {
			// 监控中的房间保留 worker，稍后重试
			m.scheduleReconnect(roomID)
			return w, nil
		}
		m.evict(roomID)
		return nil, err
	}

	m.primeWorker(w)
	return w, nil
}

// primeWorker 连接建立后立即初始化场次并缓存主播信息
func (m *Manager) primeWorker(w *worker) {
	if _, err := w.conn.RefreshLiveStatus(); err != nil {
		logrus.WithError(err).WithField("room", w.roomID).Warn("查询直播状态失败")
	}
	info, err := w.conn.RoomInfo()
	if err != nil {
		logrus.WithError(err).WithField("room", w.roomID).Warn("查询房间信息失败")
		return
	}
	m.updateRoomInfo(w.roomID, info.AnchorName, info.AnchorFace)
}

// pump 把连接的事件搬给订阅者和历史存储
func (m *Manager) pump(w *worker) {
	for {
		select {
		case <-w.done:
			return
		case ev := <-w.conn.Events():
			m.dispatch(w, ev)
		}
	}
}

func (m *Manager) dispatch(w *worker, ev danmaku.Event) {
	roomLabel := strconv.FormatInt(w.roomID, 10)
	metrics.EventsTotal.WithLabelValues(roomLabel, string(ev.EventKind())).Inc()
	m.fillFace(ev)

	if st, ok := ev.(*danmaku.LiveStatusChanged); ok {
		m.notifyLiveStatus(w.roomID, st)
	}

	if history.KindOf(ev) != "" {
		if sessionID := w.conn.SessionID(); sessionID != 0 {
			roomID := w.roomID
			sentry.Go(func() { m.store.Append(roomID, sessionID, ev) })
		}
	}

	w.mu.Lock()
	for _, sub := range w.subscribers {
		select {
		case sub.ch <- ev:
		default:
			metrics.DroppedEventsTotal.WithLabelValues(roomLabel).Inc()
		}
	}
	w.mu.Unlock()
}

// fillFace 补全事件里缺失的头像。上游带了头像就顺手写进缓存，
// 弹幕这类不带头像的事件从缓存里取。
func (m *Manager) fillFace(ev danmaku.Event) {
	if m.faces == nil {
		return
	}
	var user *danmaku.User
	switch e := ev.(type) {
	case *danmaku.Chat:
		user = &e.User
	case *danmaku.Gift:
		user = &e.User
	case *danmaku.SuperChat:
		user = &e.User
	case *danmaku.GuardPurchase:
		user = &e.User
	default:
		return
	}
	if user.UID == 0 {
		return
	}
	if user.Face != "" && user.Face != danmaku.DefaultFace {
		m.faces.Put(user.UID, user.Face)
		return
	}
	user.Face = m.faces.Get(user.UID)
}

func (m *Manager) notifyLiveStatus(roomID int64, st *danmaku.LiveStatusChanged) {
	m.mu.RLock()
	cfg := m.monitored[roomID]
	m.mu.RUnlock()
	if cfg == nil {
		return
	}
	status := notify.StatusStop
	if st.Status == consts.LiveStatusLive {
		status = notify.StatusStart
	}
	name := cfg.Uname
	sentry.Go(func() { m.notifier.SendLiveStatus(roomID, name, status) })
}

// handleUnexpectedClose 连接意外断开。监控中或还有人订阅就安排重连，
// 否则按闲置回收。
func (m *Manager) handleUnexpectedClose(roomID int64) {
	m.mu.RLock()
	w := m.workers[roomID]
	m.mu.RUnlock()
	if w == nil {
		return
	}
	if m.isActiveMonitored(roomID) || w.subscriberCount() > 0 {
		logrus.WithField("room", roomID).Warnf("房间连接断开，%s 后重连", reconnectDelay)
		m.scheduleReconnect(roomID)
		return
	}
	m.checkIdle(roomID)
}

func (m *Manager) scheduleReconnect(roomID int64) {
	m.mu.RLock()
	w := m.workers[roomID]
	m.mu.RUnlock()
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.reconnect != nil {
		w.reconnect.Stop()
	}
	w.reconnect = time.AfterFunc(reconnectDelay, func() { m.tryReconnect(roomID) })
}

// tryReconnect 定时器到点。期间房间可能已被暂停或移除，触发时再查一遍。
func (m *Manager) tryReconnect(roomID int64) {
	m.mu.RLock()
	w := m.workers[roomID]
	m.mu.RUnlock()
	if w == nil {
		return
	}
	if !m.isActiveMonitored(roomID) && w.subscriberCount() == 0 {
		m.checkIdle(roomID)
		return
	}

	metrics.ReconnectsTotal.WithLabelValues(strconv.FormatInt(roomID, 10)).Inc()
	if err := w.conn.Connect(context.Background()); err != nil {
		logrus.WithError(err).WithField("room", roomID).Error("重连失败，继续等待")
		m.scheduleReconnect(roomID)
		return
	}
	m.primeWorker(w)
}

// checkIdle 没有订阅者、又不在有效监控中的房间，断开回收
func (m *Manager) checkIdle(roomID int64) {
	if m.isActiveMonitored(roomID) {
		return
	}
	m.mu.Lock()
	w := m.workers[roomID]
	if w == nil {
		m.mu.Unlock()
		return
	}
	if w.subscriberCount() > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.workers, roomID)
	m.mu.Unlock()

	logrus.WithField("room", roomID).Info("无订阅者且未监控，断开房间连接")
	w.teardown()
	metrics.ConnectionsActive.Dec()
}

// evict 无条件回收 worker
func (m *Manager) evict(roomID int64) {
	m.mu.Lock()
	w := m.workers[roomID]
	delete(m.workers, roomID)
	m.mu.Unlock()
	if w != nil {
		w.teardown()
		metrics.ConnectionsActive.Dec()
	}
}

func (m *Manager) isActiveMonitored(roomID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.monitored[roomID]
	return cfg != nil && !cfg.Paused
}

// AddMonitored 加入监控列表并建立连接。已存在时返回 false。
func (m *Manager) AddMonitored(ctx context.Context, roomID int64) (bool, error) {
	m.mu.Lock()
	if _, ok := m.monitored[roomID]; ok {
		m.mu.Unlock()
		return false, nil
	}
	m.monitored[roomID] = &MonitorConfig{AddedAt: time.Now().UnixMilli()}
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return false, err
	}

	if _, err := m.ensureWorker(ctx, roomID); err != nil {
		logrus.WithError(err).WithField("room", roomID).Error("监控房间连接失败")
	}
	return true, nil
}

// RemoveMonitored 移出监控列表并做闲置检查
func (m *Manager) RemoveMonitored(roomID int64) (bool, error) {
	m.mu.Lock()
	if _, ok := m.monitored[roomID]; !ok {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.monitored, roomID)
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return false, err
	}
	m.checkIdle(roomID)
	return true, nil
}

// Pause 暂停监控：取消待执行的重连，没人订阅就断开
func (m *Manager) Pause(roomID int64) (bool, error) {
	m.mu.Lock()
	cfg := m.monitored[roomID]
	if cfg == nil {
		m.mu.Unlock()
		return false, nil
	}
	cfg.Paused = true
	err := m.saveLocked()
	w := m.workers[roomID]
	m.mu.Unlock()
	if err != nil {
		return false, err
	}

	if w != nil {
		w.mu.Lock()
		if w.reconnect != nil {
			w.reconnect.Stop()
			w.reconnect = nil
		}
		w.mu.Unlock()
	}
	m.checkIdle(roomID)
	return true, nil
}

// Resume 恢复监控并重新建立连接
func (m *Manager) Resume(ctx context.Context, roomID int64) (bool, error) {
	m.mu.Lock()
	cfg := m.monitored[roomID]
	if cfg == nil {
		m.mu.Unlock()
		return false, nil
	}
	cfg.Paused = false
	err := m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return false, err
	}

	if _, err := m.ensureWorker(ctx, roomID); err != nil {
		logrus.WithError(err).WithField("room", roomID).Error("恢复监控连接失败")
	}
	return true, nil
}

// updateRoomInfo 刷新监控列表里缓存的主播昵称和头像
func (m *Manager) updateRoomInfo(roomID int64, uname, face string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.monitored[roomID]
	if cfg == nil {
		return
	}
	changed := false
	if uname != "" && cfg.Uname != uname {
		cfg.Uname = uname
		changed = true
	}
	if face != "" && cfg.Face != face {
		cfg.Face = face
		changed = true
	}
	if changed {
		if err := m.saveLocked(); err != nil {
			logrus.WithError(err).Error("保存监控房间列表失败")
		}
	}
}

// saveLocked 持久化监控列表，调用方持有 m.mu
func (m *Manager) saveLocked() error {
	return saveMonitored(m.cfg.MonitorFile(), m.monitored)
}

// RoomStatus 对外暴露的房间状态
type RoomStatus struct {
	RoomID    int64  `json:"roomId"`
	Paused    bool   `json:"paused"`
	AddedAt   int64  `json:"addedAt"`
	Uname     string `json:"uname,omitempty"`
	Face      string `json:"face,omitempty"`
	Connected bool   `json:"connected"`
	SessionID int64  `json:"sessionId,omitempty"`
}

// MonitoredRooms 监控列表快照，按房间号升序
func (m *Manager) MonitoredRooms() []RoomStatus {
	m.mu.RLock()
	out := make([]RoomStatus, 0, len(m.monitored))
	for id, cfg := range m.monitored {
		status := RoomStatus{
			RoomID:  id,
			Paused:  cfg.Paused,
			AddedAt: cfg.AddedAt,
			Uname:   cfg.Uname,
			Face:    cfg.Face,
		}
		if w, ok := m.workers[id]; ok {
			status.Connected = true
			status.SessionID = w.conn.SessionID()
		}
		out = append(out, status)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}
