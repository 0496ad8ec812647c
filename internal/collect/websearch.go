package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/htmltext"
	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// searchProvider is one link in the web search fallback chain.
type searchProvider struct {
	name   string
	search func(ctx context.Context, query string, count int) ([]candidate, error)
}

// WebSearch tries each configured provider in priority order and keeps the first non-empty result
// set. A provider error moves on only when a later provider is configured.
type WebSearch struct {
	fetch       Fetcher
	opts        Options
	minInterval time.Duration
	policy      Policy
	providers   []searchProvider
	logger      *zap.Logger
}

// NewWebSearch builds the web search chain from the providers that have credentials.
func NewWebSearch(fetch Fetcher, opts Options, blocklist *Blocklist, logger *zap.Logger) *WebSearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &WebSearch{
		fetch:       fetch,
		opts:        opts,
		minInterval: opts.MinInterval,
		policy:      Policy{Blocklist: blocklist, CheckHosts: true, RequireKeywords: true},
		logger:      logger,
	}
	if opts.BraveAPIKey != "" {
		w.providers = append(w.providers, searchProvider{name: "brave", search: w.brave})
	}
	if opts.SerpAPIKey != "" {
		w.providers = append(w.providers, searchProvider{name: "serpapi", search: w.serpapi})
	}
	if opts.FeedFallbackURL != "" {
		w.providers = append(w.providers, searchProvider{name: "feed", search: w.feed})
	}
	return w
}

// Name implements Strategy.
func (w *WebSearch) Name() string { return "web_search" }

// Providers lists the configured chain in priority order.
func (w *WebSearch) Providers() []string {
	names := make([]string, 0, len(w.providers))
	for _, p := range w.providers {
		names = append(names, p.name)
	}
	return names
}

// Preflight implements Strategy.
func (w *WebSearch) Preflight() error {
	if len(w.providers) == 0 {
		return fmt.Errorf("web search needs a brave or serpapi key or a feed fallback: %w", ingest.ErrMissingCredential)
	}
	return nil
}

// Collect implements Strategy.
func (w *WebSearch) Collect(ctx context.Context, src ingest.ContentSource, limit int) (Result, error) {
	if err := w.Preflight(); err != nil {
		return Result{}, err
	}
	count := min(max(limit*2, 5), 20)
	// lastErr surfaces a provider failure when no later provider had anything to offer.
	var lastErr error
	for i, p := range w.providers {
		candidates, err := p.search(ctx, src.Query, count)
		if err != nil {
			lastErr = fmt.Errorf("%s search: %w", p.name, err)
			if i < len(w.providers)-1 {
				w.logger.Warn("Search provider failed; trying next",
					zap.String("provider", p.name),
					zap.String("next", w.providers[i+1].name),
					zap.Error(err),
				)
			}
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		return finalize(src, w.policy, candidates, limit), nil
	}
	return Result{}, lastErr
}

type braveResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

type webResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

func (w *WebSearch) brave(ctx context.Context, query string, count int) ([]candidate, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	var resp braveResponse
	err := w.fetch.GetJSON(ctx, httpx.Request{
		URL:         strings.TrimRight(w.opts.BraveBaseURL, "/") + "/web/search?" + q.Encode(),
		Header:      http.Header{"X-Subscription-Token": {w.opts.BraveAPIKey}},
		ThrottleKey: "brave",
		MinInterval: w.minInterval,
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		// Brave wraps matched terms in <strong>.
		norm := webResult{URL: r.URL, Title: htmltext.Decode(r.Title), Snippet: htmltext.Decode(r.Description)}
		out = append(out, webCandidate(norm))
	}
	return out, nil
}

func (w *WebSearch) serpapi(ctx context.Context, query string, count int) ([]candidate, error) {
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("num", strconv.Itoa(count))
	q.Set("api_key", w.opts.SerpAPIKey)
	var resp struct {
		Organic []struct {
			Link    string `json:"link"`
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	err := w.fetch.GetJSON(ctx, httpx.Request{
		URL:         strings.TrimRight(w.opts.SerpAPIBaseURL, "/") + "/search.json?" + q.Encode(),
		ThrottleKey: "serpapi",
		MinInterval: w.minInterval,
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		out = append(out, webCandidate(webResult{URL: r.Link, Title: r.Title, Snippet: r.Snippet}))
	}
	return out, nil
}

func (w *WebSearch) feed(ctx context.Context, query string, count int) ([]candidate, error) {
	target := fmt.Sprintf(w.opts.FeedFallbackURL, url.QueryEscape(query))
	items, err := fetchFeed(ctx, w.fetch, target, "feed_search", w.minInterval)
	if err != nil {
		return nil, err
	}
	if len(items) > count {
		items = items[:count]
	}
	return feedCandidates(items), nil
}

func webCandidate(r webResult) candidate {
	return candidate{
		ExternalID:  ingest.NormalizeURL(r.URL),
		URL:         r.URL,
		Title:       r.Title,
		Description: r.Snippet,
		Raw:         r,
	}
}
