package httpx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	policies := []struct{ base, maxDelay time.Duration }{
		{100 * time.Millisecond, 2 * time.Second},
		{250 * time.Millisecond, 250 * time.Millisecond},
		{time.Second, 30 * time.Second},
		{0, time.Second},
	}
	for _, p := range policies {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 80; attempt++ {
			d := Backoff(attempt, p.base, p.maxDelay)
			require.GreaterOrEqual(t, d, prev, "attempt %d base %v", attempt, p.base)
			require.LessOrEqual(t, d, p.maxDelay, "attempt %d base %v", attempt, p.base)
			prev = d
		}
	}
	assert.Equal(t, 100*time.Millisecond, Backoff(1, 100*time.Millisecond, time.Second))
	assert.Equal(t, 400*time.Millisecond, Backoff(3, 100*time.Millisecond, time.Second))
}

func TestApplyJitterStaysWithinSpreadAndCap(t *testing.T) {
	t.Parallel()

	base := time.Second
	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		got := applyJitter(base, 10*time.Second, r)
		assert.GreaterOrEqual(t, got, time.Duration(float64(base)*(1-JitterFraction)))
		assert.LessOrEqual(t, got, time.Duration(float64(base)*(1+JitterFraction)))
	}
	assert.Equal(t, time.Second, applyJitter(time.Second, time.Second, 0.999))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	d, ok := ParseRetryAfter("7", now)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(90*time.Second).Format(time.RFC1123), now)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(-time.Minute).Format(time.RFC1123), now)
	require.True(t, ok)
	assert.Zero(t, d)

	_, ok = ParseRetryAfter("soon", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("", now)
	assert.False(t, ok)
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		keep []string
		drop []string
	}{
		{
			name: "api key",
			in:   "https://www.googleapis.com/youtube/v3/search?q=wrestling&key=AIzaSECRET",
			keep: []string{"q=wrestling", "key=REDACTED"},
			drop: []string{"AIzaSECRET"},
		},
		{
			name: "mixed case token and userinfo",
			in:   "https://user:pw@serpapi.com/search?API_KEY=abc&Access_Token=def&engine=google",
			keep: []string{"engine=google"},
			drop: []string{"abc", "def", "pw"},
		},
		{
			name: "no query",
			in:   "https://example.com/path",
			keep: []string{"https://example.com/path"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RedactURL(tt.in)
			for _, s := range tt.keep {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.drop {
				assert.NotContains(t, got, s)
			}
		})
	}
	assert.Equal(t, "invalid-url", RedactURL("://bad"))
}
