package collect

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// DefaultBlockedDomains are social platforms whose pages are not crawlable training content.
var DefaultBlockedDomains = []string{
	"facebook.com", "instagram.com", "tiktok.com", "x.com", "twitter.com", "pinterest.com",
	"linkedin.com", "snapchat.com", "threads.net", "fb.com",
}

// Blocklist matches hosts by registrable domain, exact host, or "*.suffix" pattern.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBlocklist builds a Blocklist from patterns such as "example.com", "*.example.com", ".example.com".
func NewBlocklist(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether host, or its registrable domain, is listed.
func (b *Blocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	if root, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		if _, exact := b.exact[root]; exact {
			return true
		}
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// BlocksURL reports whether rawURL's host is blocked. Unparseable URLs are blocked.
func (b *Blocklist) BlocksURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return true
	}
	return b.IsBlocked(u.Hostname())
}

// Collection confidence weights.
const (
	baseConfidence    = 0.35
	keywordWeight     = 0.08
	maxKeywordCredits = 4
	sportBonus        = 0.1
	descriptionBonus  = 0.05
)

// Policy applies the relevance rules shared by collectors.
type Policy struct {
	Blocklist *Blocklist
	// CheckHosts enables the blocklist; direct URLs chosen by an operator skip it.
	CheckHosts bool
	// RequireKeywords enables the training keyword and entertainment-wrestling gates.
	RequireKeywords bool
}

// verdict is the outcome of applying Policy to one candidate.
type verdict int

const (
	accepted verdict = iota
	rejectedMalformed
	rejectedFiltered
)

// apply validates a candidate and converts it into a CollectedDocument.
func (p Policy) apply(src ingest.ContentSource, c candidate) (ingest.CollectedDocument, verdict) {
	c.URL = strings.TrimSpace(c.URL)
	c.Title = strings.TrimSpace(c.Title)
	c.Description = strings.TrimSpace(c.Description)
	if !c.valid() {
		return ingest.CollectedDocument{}, rejectedMalformed
	}
	if p.CheckHosts && p.Blocklist.BlocksURL(c.URL) {
		return ingest.CollectedDocument{}, rejectedFiltered
	}

	text := c.Title + " " + c.Description
	hits := ingest.TrainingKeywordHits(text)
	sport := ingest.ResolveSport(src.SportHint(), c.Title, c.Description)
	if p.RequireKeywords {
		if hits == 0 {
			return ingest.CollectedDocument{}, rejectedFiltered
		}
		wrestling := src.SportHint() == ingest.SportWrestling || sport == ingest.SportWrestling
		if wrestling && ingest.IsEntertainmentWrestling(text) {
			return ingest.CollectedDocument{}, rejectedFiltered
		}
	}

	return ingest.CollectedDocument{
		ExternalID:  ingest.FirstNonEmpty(c.ExternalID, ingest.NormalizeURL(c.URL)),
		URL:         c.URL,
		Title:       c.Title,
		Description: c.Description,
		Author:      strings.TrimSpace(c.Author),
		PublishedAt: c.PublishedAt,
		Sport:       sport,
		Language:    ingest.FirstNonEmpty(c.Language, src.MetaString("language")),
		Raw:         rawJSON(c.Raw),
		Confidence:  Score(hits, sport != "", c.Description != ""),
	}, accepted
}

// Score is the collection confidence: a base plus credit for keyword hits, a resolved sport, and a
// non-empty description, clamped to the confidence range.
func Score(keywordHits int, hasSport, hasDescription bool) float64 {
	score := baseConfidence + keywordWeight*float64(min(keywordHits, maxKeywordCredits))
	if hasSport {
		score += sportBonus
	}
	if hasDescription {
		score += descriptionBonus
	}
	return ingest.ClampConfidence(score)
}

// finalize runs candidates through the policy and caps the accepted documents at limit.
func finalize(src ingest.ContentSource, p Policy, candidates []candidate, limit int) Result {
	var res Result
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if limit > 0 && len(res.Documents) >= limit {
			break
		}
		doc, v := p.apply(src, c)
		switch v {
		case rejectedMalformed:
			res.Malformed++
			continue
		case rejectedFiltered:
			res.Filtered++
			continue
		}
		key := ingest.NormalizeURL(doc.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		res.Documents = append(res.Documents, doc)
	}
	return res
}
