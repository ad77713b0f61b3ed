package primitives

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalLoop_TicksRepeatedly(t *testing.T) {
	var count int32
	l := NewIntervalLoop(IntervalLoopConfig{
		Name:     "test",
		Interval: 5 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	time.Sleep(40 * time.Millisecond)
	cancel()
	l.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
}

func TestIntervalLoop_SkipsOverlappingTick(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32
	l := NewIntervalLoop(IntervalLoopConfig{
		Name:     "slow",
		Interval: 5 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			n := atomic.AddInt32(&concurrent, 1)
			if n > atomic.LoadInt32(&maxConcurrent) {
				atomic.StoreInt32(&maxConcurrent, n)
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	l.Stop()

	assert.Equal(t, int32(1), maxConcurrent)
}

func TestIntervalLoop_SurvivesTickError(t *testing.T) {
	var calls int32
	l := NewIntervalLoop(IntervalLoopConfig{
		Name:     "erroring",
		Interval: 5 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("boom")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	l.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
	assert.Error(t, l.LastError())
}

func TestIntervalLoop_IsStaleAfterThreshold(t *testing.T) {
	fake := time.Now()
	l := NewIntervalLoop(IntervalLoopConfig{
		Name:       "health",
		Interval:   time.Hour,
		StaleAfter: time.Minute,
		Fn:         func(ctx context.Context) error { return nil },
	})
	l.now = func() time.Time { return fake }

	assert.False(t, l.IsStale())

	l.tick(context.Background())
	assert.False(t, l.IsStale())

	fake = fake.Add(2 * time.Minute)
	assert.True(t, l.IsStale())
}
