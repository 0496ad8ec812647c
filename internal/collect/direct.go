package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/combat-training-ingest/internal/htmltext"
	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
	"github.com/JakeFAU/combat-training-ingest/internal/policy/robots"
)

// DirectExcerptChars bounds the body excerpt kept for a directly fetched page.
const DirectExcerptChars = 1200

// Direct fetches one operator-chosen page and keeps its meta description plus a text excerpt.
type Direct struct {
	fetch       Fetcher
	robots      robots.Policy
	minInterval time.Duration
	policy      Policy
}

// NewDirect builds the direct URL strategy. robotsPolicy may be nil.
func NewDirect(fetch Fetcher, opts Options, robotsPolicy robots.Policy) *Direct {
	return &Direct{
		fetch:       fetch,
		robots:      robotsPolicy,
		minInterval: opts.MinInterval,
		policy:      Policy{},
	}
}

// Name implements Strategy.
func (d *Direct) Name() string { return "url" }

// Preflight implements Strategy.
func (d *Direct) Preflight() error { return nil }

// Collect implements Strategy.
func (d *Direct) Collect(ctx context.Context, src ingest.ContentSource, _ int) (Result, error) {
	target := ingest.FirstNonEmpty(src.TargetURL, src.MetaString("url"))
	if target == "" {
		return Result{}, fmt.Errorf("url source %s has no target url: %w", src.ID, ingest.ErrMalformed)
	}
	if d.robots != nil && !d.robots.Allowed(ctx, target) {
		return Result{Filtered: 1}, nil
	}
	html, err := d.fetch.GetText(ctx, httpx.Request{
		URL:         target,
		ThrottleKey: hostKey(target),
		MinInterval: d.minInterval,
	})
	if err != nil {
		return Result{}, fmt.Errorf("fetch page: %w", err)
	}
	page, err := htmltext.Parse(html)
	if err != nil {
		return Result{}, err
	}
	c := candidate{
		URL:         target,
		Title:       ingest.FirstNonEmpty(page.Title, src.MetaString("title"), target),
		Description: DirectBody(page),
		Raw: map[string]any{
			"title":       page.Title,
			"description": page.Description,
			"excerpt":     htmltext.Truncate(page.Text, DirectExcerptChars),
		},
	}
	return finalize(src, d.policy, []candidate{c}, 1), nil
}

// DirectBody joins the meta description and a bounded excerpt of the page text.
func DirectBody(page htmltext.Page) string {
	excerpt := htmltext.Truncate(page.Text, DirectExcerptChars)
	switch {
	case page.Description == "":
		return excerpt
	case excerpt == "":
		return page.Description
	default:
		return page.Description + "\n\n" + excerpt
	}
}
