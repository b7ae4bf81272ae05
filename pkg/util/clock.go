package util

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// ManualClock only moves when told to. Each Now call advances by Step so
// consecutive events get distinct timestamps.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, Step: time.Millisecond}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.Step)
	return t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
