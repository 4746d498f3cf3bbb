// Package ratelimit 提供对上游接口的最小访问间隔限制
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 保证两次访问之间至少间隔 minInterval。
// 间隔为 0 时不限制。
type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastAccess  time.Time
}

func New(minInterval time.Duration) *Limiter {
	return &Limiter{minInterval: minInterval}
}

// SetInterval 更新最小访问间隔
func (l *Limiter) SetInterval(interval time.Duration) {
	l.mu.Lock()
	l.minInterval = interval
	l.mu.Unlock()
}

// Wait 阻塞到允许访问为止。等待期间不持锁，ctx 取消时返回 false。
func (l *Limiter) Wait(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		l.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(l.lastAccess)
		if l.minInterval <= 0 || elapsed >= l.minInterval {
			l.lastAccess = now
			l.mu.Unlock()
			return true
		}
		waitTime := l.minInterval - elapsed
		l.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// NextAllowedTime 下次允许访问的时间
func (l *Limiter) NextAllowedTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.minInterval <= 0 {
		return time.Now()
	}
	return l.lastAccess.Add(l.minInterval)
}
