package runtime

import (
	"sync"
	"time"
)

// Clock stamps observed events with the local wall clock. Wall clocks can step
// backwards, so a stamp never precedes the previous one handed out.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	if t.Before(c.last) {
		return c.last
	}
	c.last = t
	return t
}
