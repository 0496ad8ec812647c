// Package httpx is the retrying HTTP layer every provider client goes through: exponential backoff
// with jitter, Retry-After support, per-key throttling, bounded bodies, and redacted errors.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"
)

// Throttler spaces calls sharing a key. ratelimit.Limiter satisfies it.
type Throttler interface {
	Wait(ctx context.Context, key string, minInterval time.Duration) error
}

// Policy controls retries for one call.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RetryableStatuses []int
}

// Config configures a Client.
type Config struct {
	Policy    Policy
	Timeout   time.Duration
	UserAgent string
	// MaxBodyBytes bounds every response body read; defaults to 16 MiB.
	MaxBodyBytes int64
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	// OnRetry is called before each retry sleep with the throttle key and the failed status (0 for
	// transport errors).
	OnRetry func(key string, status int)
}

// Request describes one provider call.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	ThrottleKey string
	MinInterval time.Duration
	// Policy overrides the client default when non-nil.
	Policy *Policy
}

// Response is a fully-read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs provider calls with retries.
type Client struct {
	http      *http.Client
	throttle  Throttler
	policy    Policy
	userAgent string
	maxBody   int64
	onRetry   func(string, int)
	logger    *zap.Logger

	sleep  func(context.Context, time.Duration) error
	random func() float64
	now    func() time.Time
}

// New builds a Client. throttle may be nil.
func New(cfg Config, throttle Throttler, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	policy := cfg.Policy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 16 << 20
	}
	return &Client{
		http:      hc,
		throttle:  throttle,
		policy:    policy,
		userAgent: cfg.UserAgent,
		maxBody:   maxBody,
		onRetry:   cfg.OnRetry,
		logger:    logger,
		sleep:     sleepContext,
		random:    rand.Float64,
		now:       time.Now,
	}
}

// UserAgent is the default User-Agent header value.
func (c *Client) UserAgent() string { return c.userAgent }

// Do executes req, retrying retryable failures. Non-2xx responses become *FetchError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	policy := c.policy
	if req.Policy != nil {
		policy = *req.Policy
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	statuses := policy.RetryableStatuses
	if statuses == nil {
		statuses = DefaultRetryableStatuses
	}
	safeURL := RedactURL(req.URL)

	for attempt := 1; ; attempt++ {
		if c.throttle != nil && req.ThrottleKey != "" {
			if err := c.throttle.Wait(ctx, req.ThrottleKey, req.MinInterval); err != nil {
				return nil, &FetchError{URL: safeURL, Attempts: attempt, Err: err}
			}
		}

		resp, err := c.once(ctx, req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		failure := &FetchError{URL: safeURL, Attempts: attempt}
		var retryAfter time.Duration
		var hasRetryAfter bool
		if err != nil {
			failure.Err = err
			failure.retryable = retryableTransport(ctx, err)
		} else {
			failure.StatusCode = resp.StatusCode
			failure.Body = truncate(string(resp.Body), 512)
			failure.retryable = slices.Contains(statuses, resp.StatusCode)
			retryAfter, hasRetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		}
		if !failure.retryable || attempt >= policy.MaxAttempts {
			return nil, failure
		}

		delay := Backoff(attempt, policy.BaseDelay, policy.MaxDelay)
		if hasRetryAfter {
			delay = min(retryAfter, policy.MaxDelay)
		}
		delay = applyJitter(delay, policy.MaxDelay, c.random())

		c.logger.Debug("Retrying provider call",
			zap.String("url", safeURL),
			zap.Int("attempt", attempt),
			zap.Int("status", failure.StatusCode),
			zap.Duration("delay", delay),
			zap.Error(failure.Err),
		)
		if c.onRetry != nil {
			c.onRetry(req.ThrottleKey, failure.StatusCode)
		}
		if err := c.sleep(ctx, delay); err != nil {
			failure.Err = err
			failure.retryable = false
			return nil, failure
		}
	}
}

func (c *Client) once(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" && c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close response body", zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, req Request, out any) error {
	req.Method = http.MethodGet
	req.Header = withHeader(req.Header, "Accept", "application/json")
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", RedactURL(req.URL), err)
	}
	return nil
}

// GetText fetches url and returns the body as a string.
func (c *Client) GetText(ctx context.Context, req Request) (string, error) {
	req.Method = http.MethodGet
	resp, err := c.Do(ctx, req)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// PostJSON encodes in as the request body and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, req Request, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req.Method = http.MethodPost
	req.Body = payload
	req.Header = withHeader(req.Header, "Content-Type", "application/json")
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", RedactURL(req.URL), err)
	}
	return nil
}

func withHeader(h http.Header, name, value string) http.Header {
	if h == nil {
		h = http.Header{}
	} else {
		h = h.Clone()
	}
	if h.Get(name) == "" {
		h.Set(name, value)
	}
	return h
}

// retryableTransport retries per-request timeouts but never a cancelled or expired caller context.
func retryableTransport(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
