package live

import (
	"sync"
	"time"
)

// sessionGap 判定"同一场直播"的最大静默间隔。
// 主播掉线重连、网络抖动造成的短暂断流不应切分场次。
const sessionGap = 15 * time.Minute

// sessionTracker 跟踪当前场次。场次号就是该场第一次上报的开播时间戳，
// 历史记录按它落盘分目录。
type sessionTracker struct {
	mu sync.Mutex

	currentSessionID int64
	lastSessionID    int64
	lastActivity     time.Time

	now func() time.Time
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{now: time.Now}
}

// MarkLive 收到开播上报。距离上次活动不足 sessionGap 时视为同一场的
// 续播，沿用上一个场次号；否则以开播时间开启新场次。
func (t *sessionTracker) MarkLive(startAt int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.lastSessionID != 0 && !t.lastActivity.IsZero() && now.Sub(t.lastActivity) < sessionGap {
		t.currentSessionID = t.lastSessionID
	} else {
		if startAt == 0 {
			startAt = now.Unix()
		}
		t.currentSessionID = startAt
		t.lastSessionID = startAt
	}
	t.lastActivity = now
	return t.currentSessionID
}

// MarkPreparing 收到下播上报。清掉当前场次但保留 last*，
// 短暂下播后重新开播仍能续回原场次。
func (t *sessionTracker) MarkPreparing() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentSessionID = 0
	t.lastActivity = t.now()
}

// Touch 刷新活动时间（每条事件、每次心跳都算活动）。
// 未开播时不刷新：下播后连接还挂着，心跳不能把上一场一直续住。
func (t *sessionTracker) Touch() {
	t.mu.Lock()
	if t.currentSessionID != 0 {
		t.lastActivity = t.now()
	}
	t.mu.Unlock()
}

// Current 当前场次号，未开播时为 0
func (t *sessionTracker) Current() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSessionID
}
