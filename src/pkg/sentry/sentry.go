// Package sentry 提供 Sentry 错误监控的封装，
// 以及带 panic 恢复的 goroutine 启动器。
package sentry

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

var (
	initialized bool
	initMu      sync.RWMutex
)

// Init 初始化 Sentry SDK，dsn 留空则禁用。
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		SampleRate:       1.0,
	})
	if err != nil {
		return err
	}
	initMu.Lock()
	initialized = true
	initMu.Unlock()
	return nil
}

func isInitialized() bool {
	initMu.RLock()
	defer initMu.RUnlock()
	return initialized
}

// Flush 等待未发送的事件发出，进程退出前调用。
func Flush(timeout time.Duration) {
	if isInitialized() {
		sentry.Flush(timeout)
	}
}

// Recover 捕获当前 goroutine 的 panic，上报后继续（不再次抛出）。
func Recover() {
	if r := recover(); r != nil {
		if isInitialized() {
			sentry.CurrentHub().Recover(r)
		}
		logrus.WithField("panic", r).Error("recovered from panic")
	}
}

// CaptureException 上报一个错误。
func CaptureException(err error) {
	if err == nil {
		return
	}
	if isInitialized() {
		sentry.CaptureException(err)
	}
}

// Go 启动一个带 panic 恢复的 goroutine。
func Go(f func()) {
	go func() {
		defer Recover()
		f()
	}()
}

// GoWithContext 启动一个带 panic 恢复的 goroutine，并传入 ctx。
func GoWithContext(ctx context.Context, f func(context.Context)) {
	go func() {
		defer Recover()
		f(ctx)
	}()
}
