// Package robots enforces robots.txt directives for direct page fetches.
package robots

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
)

// Doer is the subset of httpx.Client the enforcer needs.
type Doer interface {
	Do(ctx context.Context, req httpx.Request) (*httpx.Response, error)
}

// Policy decides whether a URL may be fetched.
type Policy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Enforcer caches parsed robots.txt per host.
type Enforcer struct {
	client    Doer
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

// New returns an Enforcer, or an allow-all policy when respect is false.
func New(respect bool, client Doer, userAgent string, logger *zap.Logger) Policy {
	if !respect || client == nil {
		return allowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{client: client, userAgent: userAgent, logger: logger}
}

// Allowed implements Policy. Fetch failures other than HTTP statuses allow access.
func (e *Enforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, err := e.load(ctx, parsed)
	if err != nil {
		e.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, e.userAgent)
}

func (e *Enforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if data, ok := e.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	status, body := 200, []byte(nil)
	resp, err := e.client.Do(ctx, httpx.Request{
		URL:    robotsURL.String(),
		Policy: &httpx.Policy{MaxAttempts: 1},
	})
	var fe *httpx.FetchError
	switch {
	case err == nil:
		status, body = resp.StatusCode, resp.Body
	case errors.As(err, &fe) && fe.StatusCode != 0:
		status = fe.StatusCode
	default:
		return nil, fmt.Errorf("fetch robots: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	e.cache.Store(hostKey, data)
	return data, nil
}

type allowAll struct{}

func (allowAll) Allowed(context.Context, string) bool { return true }
