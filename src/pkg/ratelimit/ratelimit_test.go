package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitNoLimit(t *testing.T) {
	l := New(0)
	start := time.Now()
	for i := 0; i < 10; i++ {
		assert.True(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitEnforcesInterval(t *testing.T) {
	l := New(50 * time.Millisecond)
	start := time.Now()
	assert.True(t, l.Wait(context.Background()))
	assert.True(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitCancelled(t *testing.T) {
	l := New(time.Hour)
	assert.True(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, l.Wait(ctx))
}

func TestNextAllowedTime(t *testing.T) {
	l := New(time.Minute)
	assert.True(t, l.Wait(context.Background()))
	next := l.NextAllowedTime()
	assert.Greater(t, time.Until(next), 50*time.Second)
}
