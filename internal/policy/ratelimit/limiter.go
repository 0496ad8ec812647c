// Package ratelimit enforces a minimum spacing between calls that share a throttle key.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DelayObserver is notified whenever a caller actually waited on a key.
type DelayObserver func(key string, waited time.Duration)

// Limiter owns one token bucket per key. Each bucket holds a single token refilled every
// minInterval, so consecutive calls on a key are spaced at least minInterval apart.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	observe  DelayObserver
}

// New creates an empty Limiter. observe may be nil.
func New(observe DelayObserver) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		observe:  observe,
	}
}

// Wait blocks until a call on key may proceed, respecting ctx. A non-positive minInterval
// never blocks.
func (l *Limiter) Wait(ctx context.Context, key string, minInterval time.Duration) error {
	if minInterval <= 0 {
		return nil
	}
	limiter := l.limiterFor(key, minInterval)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait %s: %w", key, err)
	}
	if waited := time.Since(start); waited > time.Millisecond && l.observe != nil {
		l.observe(key, waited)
	}
	return nil
}

// Keys reports the keys currently tracked.
func (l *Limiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.limiters))
	for k := range l.limiters {
		keys = append(keys, k)
	}
	return keys
}

func (l *Limiter) limiterFor(key string, minInterval time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	every := rate.Every(minInterval)
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(every, 1)
		l.limiters[key] = limiter
		return limiter
	}
	if limiter.Limit() != every {
		limiter.SetLimit(every)
	}
	return limiter
}
