// Package ingesttest provides deterministic clocks and ID generators for stage tests.
package ingesttest

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns a fixed time that tests can advance.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a Clock at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now implements ingest.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// IDs yields prefix-1, prefix-2, ...
type IDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDs builds a sequential generator.
func NewIDs(prefix string) *IDs {
	return &IDs{prefix: prefix}
}

// NewID implements ingest.IDGenerator.
func (g *IDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n), nil
}
