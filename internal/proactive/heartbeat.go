package proactive

import (
	"time"

	"github.com/nextlevelbuilder/friendbot/internal/primitives"
)

// NewHeartbeat wraps a Dispatcher in an IntervalLoop: one RunOnce sweep per
// tick, non-overlapping, with a staleness probe the gateway health check
// can read via IsStale.
func NewHeartbeat(d *Dispatcher, interval time.Duration, staleAfter time.Duration) *primitives.IntervalLoop {
	return primitives.NewIntervalLoop(primitives.IntervalLoopConfig{
		Name:       "proactive-heartbeat",
		Interval:   interval,
		Fn:         d.RunOnce,
		StaleAfter: staleAfter,
	})
}
