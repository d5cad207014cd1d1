// Package clock offsets wall-clock time onto a simulated timeline so the
// tracker can pretend it is, say, departure time without waiting for it.
package clock

import (
	"sync"
	"time"
)

// SimClock maps wall-clock time onto a simulated timeline anchored at
// (realStart, simulatedStart). The zero value is not usable; use New.
type SimClock struct {
	mu             sync.RWMutex
	now            func() time.Time
	realStart      time.Time
	simulatedStart time.Time
}

// New returns a clock that reports real time until it is synced.
func New() *SimClock {
	return NewWithSource(time.Now)
}

// NewWithSource uses now as the wall clock.
func NewWithSource(now func() time.Time) *SimClock {
	t := now()
	return &SimClock{now: now, realStart: t, simulatedStart: t}
}

// CurrentTime returns simulatedStart + (now - realStart).
func CurrentTime(now, realStart, simulatedStart time.Time) time.Time {
	return simulatedStart.Add(now.Sub(realStart))
}

// Sync replaces both anchors at once.
func (c *SimClock) Sync(realStart, simulatedStart time.Time) {
	c.mu.Lock()
	c.realStart = realStart
	c.simulatedStart = simulatedStart
	c.mu.Unlock()
}

// SyncNow anchors simulatedStart at the current wall-clock instant.
func (c *SimClock) SyncNow(simulatedStart time.Time) {
	c.Sync(c.now(), simulatedStart)
}

// Now returns the current simulated time.
func (c *SimClock) Now() time.Time {
	c.mu.RLock()
	realStart, simStart := c.realStart, c.simulatedStart
	c.mu.RUnlock()
	return CurrentTime(c.now(), realStart, simStart)
}

// Offset is the simulated time minus wall-clock time.
func (c *SimClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.simulatedStart.Sub(c.realStart)
}
