package collect

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

const redditThrottleKey = "reddit"

// Reddit searches public Reddit listings, optionally restricted to one subreddit.
type Reddit struct {
	fetch       Fetcher
	baseURL     string
	minInterval time.Duration
	policy      Policy
}

// NewReddit builds the social search strategy.
func NewReddit(fetch Fetcher, opts Options, blocklist *Blocklist) *Reddit {
	return &Reddit{
		fetch:       fetch,
		baseURL:     strings.TrimRight(opts.RedditBaseURL, "/"),
		minInterval: opts.MinInterval,
		policy:      Policy{Blocklist: blocklist, RequireKeywords: true},
	}
}

// Name implements Strategy.
func (r *Reddit) Name() string { return "reddit" }

// Preflight implements Strategy. Public search needs no credential.
func (r *Reddit) Preflight() error { return nil }

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Body       string  `json:"selftext"`
	Permalink  string  `json:"permalink"`
	Author     string  `json:"author"`
	CreatedUTC float64 `json:"created_utc"`
	URL        string  `json:"url"`
	Subreddit  string  `json:"subreddit"`
}

// Collect implements Strategy.
func (r *Reddit) Collect(ctx context.Context, src ingest.ContentSource, limit int) (Result, error) {
	q := url.Values{}
	q.Set("q", src.Query)
	q.Set("limit", strconv.Itoa(min(max(limit*2, 5), 100)))
	q.Set("sort", ingest.FirstNonEmpty(src.MetaString("sort"), "relevance"))
	q.Set("type", "link")
	endpoint := r.baseURL + "/search.json"
	if sub := strings.Trim(src.MetaString("subreddit"), "/ "); sub != "" {
		sub = strings.TrimPrefix(sub, "r/")
		endpoint = r.baseURL + "/r/" + url.PathEscape(sub) + "/search.json"
		q.Set("restrict_sr", "1")
	}

	var listing redditListing
	err := r.fetch.GetJSON(ctx, httpx.Request{
		URL:         endpoint + "?" + q.Encode(),
		ThrottleKey: redditThrottleKey,
		MinInterval: r.minInterval,
	}, &listing)
	if err != nil {
		return Result{}, fmt.Errorf("reddit search: %w", err)
	}

	candidates := make([]candidate, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		c := candidate{
			ExternalID:  post.ID,
			Title:       post.Title,
			Description: post.Body,
			Author:      post.Author,
			Raw:         post,
		}
		if post.Permalink != "" {
			c.URL = r.baseURL + "/" + strings.TrimLeft(post.Permalink, "/")
		}
		if post.CreatedUTC > 0 {
			ts := time.Unix(int64(post.CreatedUTC), 0).UTC()
			c.PublishedAt = &ts
		}
		candidates = append(candidates, c)
	}
	return finalize(src, r.policy, candidates, limit), nil
}
