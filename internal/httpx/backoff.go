package httpx

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// JitterFraction is the symmetric random spread applied to every retry delay.
const JitterFraction = 0.15

// DefaultRetryableStatuses are retried unless a Policy overrides them.
var DefaultRetryableStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Backoff is the pre-jitter delay before retry number attempt (1-based):
// min(maxDelay, base*2^(attempt-1)). It is non-decreasing in attempt and never exceeds maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay >= float64(maxDelay) || math.IsInf(delay, 1) {
		return maxDelay
	}
	return time.Duration(delay)
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or HTTP-date form.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := when.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// applyJitter spreads d by ±JitterFraction using r in [0,1) and caps the result at maxDelay.
func applyJitter(d, maxDelay time.Duration, r float64) time.Duration {
	spread := (2*r - 1) * JitterFraction
	out := time.Duration(float64(d) * (1 + spread))
	if out < 0 {
		out = 0
	}
	if maxDelay > 0 && out > maxDelay {
		out = maxDelay
	}
	return out
}
