package collect

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/combat-training-ingest/internal/htmltext"
	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

var (
	feedItemRe   = regexp.MustCompile(`(?is)<(?:item|entry)\b[^>]*>(.*?)</(?:item|entry)>`)
	atomLinkRe   = regexp.MustCompile(`(?is)<link\b([^>]*)/?>`)
	hrefAttrRe   = regexp.MustCompile(`(?is)\bhref\s*=\s*["']([^"']+)["']`)
	relAttrRe    = regexp.MustCompile(`(?is)\brel\s*=\s*["']([^"']+)["']`)
	feedTimeFmts = []string{time.RFC1123Z, time.RFC1123, time.RFC3339, "Mon, 2 Jan 2006 15:04:05 -0700", "Mon, 2 Jan 2006 15:04:05 MST"}
)

// FeedItem is one entry parsed from an RSS or Atom document.
type FeedItem struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	Published   string `json:"published,omitempty"`
}

// ParseFeed extracts item-like blocks from RSS or Atom markup. Entities are decoded and links are
// resolved against base; an item without a link falls back to base itself.
func ParseFeed(body string, base string) []FeedItem {
	baseURL, _ := url.Parse(base)
	matches := feedItemRe.FindAllStringSubmatch(body, -1)
	items := make([]FeedItem, 0, len(matches))
	for _, m := range matches {
		block := m[1]
		item := FeedItem{
			ID:          htmltext.Decode(tagText(block, "guid", "id")),
			Title:       htmltext.Decode(tagText(block, "title")),
			Description: htmltext.Decode(tagText(block, "description", "summary", "content:encoded", "content")),
			Author:      htmltext.Decode(tagText(block, "dc:creator", "author", "name")),
			Published:   strings.TrimSpace(tagText(block, "pubDate", "published", "updated", "dc:date")),
		}
		item.Link = resolveLink(baseURL, feedLink(block), base)
		items = append(items, item)
	}
	return items
}

var feedTagRes = func() map[string]*regexp.Regexp {
	names := []string{
		"guid", "id", "title", "description", "summary", "content:encoded", "content",
		"dc:creator", "author", "name", "pubDate", "published", "updated", "dc:date", "link",
	}
	out := make(map[string]*regexp.Regexp, len(names))
	for _, name := range names {
		q := regexp.QuoteMeta(name)
		out[name] = regexp.MustCompile(`(?is)<` + q + `(?:\s[^>]*)?>(.*?)</` + q + `>`)
	}
	return out
}()

// tagText returns the inner text of the first present tag among names.
func tagText(block string, names ...string) string {
	for _, name := range names {
		re, ok := feedTagRes[name]
		if !ok {
			continue
		}
		if m := re.FindStringSubmatch(block); m != nil && strings.TrimSpace(m[1]) != "" {
			return m[1]
		}
	}
	return ""
}

// feedLink prefers an RSS <link>text</link>, then an Atom alternate link href.
func feedLink(block string) string {
	if text := strings.TrimSpace(htmltext.Decode(tagText(block, "link"))); text != "" {
		return text
	}
	fallback := ""
	for _, m := range atomLinkRe.FindAllStringSubmatch(block, -1) {
		href := hrefAttrRe.FindStringSubmatch(m[1])
		if href == nil {
			continue
		}
		rel := relAttrRe.FindStringSubmatch(m[1])
		if rel == nil || strings.EqualFold(rel[1], "alternate") {
			return htmltext.Decode(href[1])
		}
		if fallback == "" {
			fallback = htmltext.Decode(href[1])
		}
	}
	return fallback
}

func resolveLink(base *url.URL, link, fallback string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return fallback
	}
	ref, err := url.Parse(link)
	if err != nil {
		return fallback
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func feedCandidates(items []FeedItem) []candidate {
	out := make([]candidate, 0, len(items))
	for _, it := range items {
		out = append(out, candidate{
			ExternalID:  it.ID,
			URL:         it.Link,
			Title:       it.Title,
			Description: it.Description,
			Author:      it.Author,
			PublishedAt: parseTime(feedTimeFmts, it.Published),
			Raw:         it,
		})
	}
	return out
}

// Feed collects entries from an RSS or Atom feed at the source's target URL.
type Feed struct {
	fetch       Fetcher
	minInterval time.Duration
	policy      Policy
}

// NewFeed builds the feed strategy.
func NewFeed(fetch Fetcher, opts Options, blocklist *Blocklist) *Feed {
	return &Feed{
		fetch:       fetch,
		minInterval: opts.MinInterval,
		policy:      Policy{Blocklist: blocklist, CheckHosts: true, RequireKeywords: true},
	}
}

// Name implements Strategy.
func (f *Feed) Name() string { return "rss" }

// Preflight implements Strategy.
func (f *Feed) Preflight() error { return nil }

// Collect implements Strategy.
func (f *Feed) Collect(ctx context.Context, src ingest.ContentSource, limit int) (Result, error) {
	target := ingest.FirstNonEmpty(src.TargetURL, src.MetaString("feed_url"))
	if target == "" {
		return Result{}, fmt.Errorf("feed source %s has no target url: %w", src.ID, ingest.ErrMalformed)
	}
	items, err := fetchFeed(ctx, f.fetch, target, hostKey(target), f.minInterval)
	if err != nil {
		return Result{}, err
	}
	return finalize(src, f.policy, feedCandidates(items), limit), nil
}

func fetchFeed(ctx context.Context, fetch Fetcher, target, throttleKey string, minInterval time.Duration) ([]FeedItem, error) {
	body, err := fetch.GetText(ctx, httpx.Request{
		URL:         target,
		Header:      map[string][]string{"Accept": {"application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.5"}},
		ThrottleKey: throttleKey,
		MinInterval: minInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	return ParseFeed(body, target), nil
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "feed"
	}
	return "host:" + strings.ToLower(u.Hostname())
}
