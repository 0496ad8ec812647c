package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/htmltext"
	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
	"github.com/JakeFAU/combat-training-ingest/internal/llm"
	"github.com/JakeFAU/combat-training-ingest/internal/policy/robots"
)

// WebOptions tunes text extraction.
type WebOptions struct {
	Model            string
	SnippetMinChars  int
	MaxChars         int
	RelevanceMin     float64
	FetchMinInterval time.Duration
}

// WebExtractor extracts signals from non-video documents.
type WebExtractor struct {
	analyzer  Analyzer
	fetch     PageFetcher
	robots    robots.Policy
	heuristic *Heuristic
	opts      WebOptions
	logger    *zap.Logger
}

// NewWebExtractor builds the text path. analyzer, fetch, and robotsPolicy may be nil.
func NewWebExtractor(analyzer Analyzer, fetch PageFetcher, robotsPolicy robots.Policy, heuristic *Heuristic, opts WebOptions, logger *zap.Logger) *WebExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 12000
	}
	return &WebExtractor{analyzer: analyzer, fetch: fetch, robots: robotsPolicy, heuristic: heuristic, opts: opts, logger: logger}
}

// Extract produces an outcome for one document. Model failures fall back to the heuristic, so
// only store-independent outcomes are returned and the error is always nil.
func (w *WebExtractor) Extract(ctx context.Context, doc ingest.SourceDocument, src ingest.ContentSource) (Outcome, error) {
	logger := w.logger.With(zap.String("doc_id", doc.ID))
	sportHint := ingest.FirstNonEmpty(src.SportHint(), doc.Sport)

	text, err := w.body(ctx, doc)
	if err != nil {
		logger.Warn("Page fetch failed; using heuristic", zap.String("url", httpx.RedactURL(doc.URL)), zap.Error(err))
		return extracted(w.heuristic.Extract(ctx, doc, sportHint, ""), true), nil
	}
	text = htmltext.Truncate(text, w.opts.MaxChars)

	if w.analyzer == nil || w.analyzer.Preflight() != nil {
		return extracted(w.heuristic.Extract(ctx, doc, sportHint, text), true), nil
	}
	analysis, err := w.analyzer.ExtractText(ctx, w.opts.Model, llm.TextInput{
		Title:     doc.Title,
		URL:       doc.URL,
		SportHint: sportHint,
		Body:      text,
	})
	if err != nil {
		logger.Warn("Text extraction failed; using heuristic", zap.Error(err))
		return extracted(w.heuristic.Extract(ctx, doc, sportHint, text), true), nil
	}
	if analysis.RelevanceScore < w.opts.RelevanceMin {
		return discarded(fmt.Sprintf("relevance %.2f below %.2f: %s", analysis.RelevanceScore, w.opts.RelevanceMin, analysis.RelevanceReason)), nil
	}
	return extracted(textSignal(doc, sportHint, analysis), false), nil
}

// body reuses the collected snippet when it is long enough and otherwise re-fetches the page.
func (w *WebExtractor) body(ctx context.Context, doc ingest.SourceDocument) (string, error) {
	snippet := doc.Title + "\n\n" + doc.Description
	if utf8.RuneCountInString(doc.Description) >= w.opts.SnippetMinChars || w.fetch == nil || doc.URL == "" {
		return snippet, nil
	}
	if w.robots != nil && !w.robots.Allowed(ctx, doc.URL) {
		return snippet, nil
	}
	html, err := w.fetch.GetText(ctx, httpx.Request{
		URL:         doc.URL,
		ThrottleKey: "page",
		MinInterval: w.opts.FetchMinInterval,
	})
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	page, err := htmltext.Parse(html)
	if err != nil {
		return "", err
	}
	return ingest.FirstNonEmpty(page.Title, doc.Title) + "\n\n" + ingest.FirstNonEmpty(page.Description+"\n\n"+page.Text, doc.Description), nil
}

func textSignal(doc ingest.SourceDocument, sportHint string, a llm.Analysis) ingest.ExtractedSignal {
	sport := ingest.FirstNonEmpty(a.Sport, ingest.NormalizeSport(sportHint), ingest.DetectSport(doc.Title+" "+doc.Description))
	exercises := make([]ingest.ExerciseMention, 0, len(a.Exercises))
	for _, m := range a.Exercises {
		category := m.Category
		if category == "" {
			category = ingest.InferCategory(m.Name)
		}
		exercises = append(exercises, ingest.ExerciseMention{Name: m.Name, Category: category, Sport: ingest.FirstNonEmpty(m.Sport, sport)})
	}
	athletes := make([]ingest.AthleteMention, 0, len(a.Athletes))
	for _, m := range a.Athletes {
		athletes = append(athletes, ingest.AthleteMention{Name: m.Name, Sport: ingest.FirstNonEmpty(m.Sport, sport)})
	}
	confidence := a.Confidence
	if confidence <= 0 {
		confidence = a.RelevanceScore
	}
	payload, _ := json.Marshal(a)
	return ingest.ExtractedSignal{
		DocumentID:       doc.ID,
		Version:          ingest.SignalVersion,
		Method:           ingest.MethodText,
		Sport:            sport,
		AthleteMentions:  athletes,
		ExerciseMentions: exercises,
		RoutineSummary:   a.RoutineSummary,
		Payload:          payload,
		Confidence:       ingest.ClampConfidence(confidence),
	}
}
