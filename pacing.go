package camrelay

import (
	"errors"
	"sync/atomic"
	"time"
)

// PacingClock derives presentation timestamps from the nominal frame rate.
// The n-th call to Next returns n*Δ regardless of when it happens.
type PacingClock struct {
	interval time.Duration
	count    atomic.Uint64
}

func NewPacingClock(rate FrameRate) (*PacingClock, error) {
	if err := rate.validate(); err != nil {
		return nil, err
	}
	interval := rate.Interval()
	if interval <= 0 {
		return nil, errors.New("frame rate too high, interval below 1ns")
	}
	return &PacingClock{
		interval: interval,
	}, nil
}

// Next returns the timestamp and duration of the next delivered frame and
// advances the counter.
func (c *PacingClock) Next() (pts, duration time.Duration) {
	n := c.count.Add(1) - 1
	return time.Duration(n) * c.interval, c.interval
}

// Reset restarts the timeline at zero.
func (c *PacingClock) Reset() {
	c.count.Store(0)
}

func (c *PacingClock) Interval() time.Duration {
	return c.interval
}

// Count returns the number of timestamps handed out since the last Reset.
func (c *PacingClock) Count() uint64 {
	return c.count.Load()
}
