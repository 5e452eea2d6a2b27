package counter

import "sync/atomic"

// Counter tracks how much of a fixed budget is currently in use.
type Counter struct {
	max     uint64
	current atomic.Uint64
}

func NewCounter(max uint64) Counter {
	return Counter{max: max}
}

func (c *Counter) HasSpaceFor(cost uint64) bool {
	if cost > c.max {
		return false
	}
	return c.current.Load()+cost <= c.max
}

func (c *Counter) Inc(cost uint64) {
	c.current.Add(cost)
}

func (c *Counter) Dec(cost uint64) {
	// Add of the two's complement decrements, per sync/atomic docs.
	c.current.Add(^(cost - 1))
}

func (c *Counter) Current() uint64 {
	return c.current.Load()
}
