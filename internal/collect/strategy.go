// Package collect implements the provider strategies that turn ContentSources into
// CollectedDocuments, the relevance filters shared by web-oriented providers, and the Collect stage.
package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// Fetcher is the subset of httpx.Client that strategies call.
type Fetcher interface {
	GetJSON(ctx context.Context, req httpx.Request, out any) error
	GetText(ctx context.Context, req httpx.Request) (string, error)
}

// Result is one strategy run over one source.
type Result struct {
	Documents []ingest.CollectedDocument
	// Malformed counts provider items dropped because required fields were missing.
	Malformed int
	// Filtered counts well-formed items rejected by relevance policy.
	Filtered int
}

// Strategy collects documents from one provider type.
type Strategy interface {
	Name() string
	// Preflight reports missing credentials before any source is processed.
	Preflight() error
	Collect(ctx context.Context, src ingest.ContentSource, limit int) (Result, error)
}

// Registry maps source types to strategies.
type Registry map[ingest.SourceType]Strategy

// Lookup returns the strategy for a source type.
func (r Registry) Lookup(t ingest.SourceType) (Strategy, error) {
	s, ok := r[t]
	if !ok {
		return nil, fmt.Errorf("no collector for source type %q", t)
	}
	return s, nil
}

// Options configures the built-in strategies.
type Options struct {
	MinInterval     time.Duration
	YouTubeAPIKey   string
	YouTubeBaseURL  string
	RedditBaseURL   string
	BraveAPIKey     string
	BraveBaseURL    string
	SerpAPIKey      string
	SerpAPIBaseURL  string
	FeedFallbackURL string
}

// candidate is a provider item before validation and relevance policy.
type candidate struct {
	ExternalID  string
	URL         string
	Title       string
	Description string
	Author      string
	Language    string
	PublishedAt *time.Time
	Raw         any
}

func (c candidate) valid() bool {
	return c.URL != "" && c.Title != ""
}

func rawJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func parseTime(layouts []string, value string) *time.Time {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
