package service

import (
	"sync"
	"time"
)

// ledgerClock hands out strictly increasing UTC timestamps at microsecond
// precision, the resolution of the reservations.created_at column.
type ledgerClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newLedgerClock(now func() time.Time) *ledgerClock {
	if now == nil {
		now = time.Now
	}
	return &ledgerClock{now: now}
}

// Next returns a timestamp later than every previous one.
func (c *ledgerClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
