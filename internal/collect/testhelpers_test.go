package collect

import (
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
)

// newMockClient returns a single-attempt client whose transport is an httpmock registry.
func newMockClient(t *testing.T) (*httpx.Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	client := httpx.New(httpx.Config{
		Policy:     httpx.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Timeout:    time.Second,
		UserAgent:  "collect-test",
		HTTPClient: &http.Client{Transport: mt},
	}, nil, nil)
	return client, mt
}
