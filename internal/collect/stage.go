package collect

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
	"github.com/JakeFAU/combat-training-ingest/internal/policy/robots"
)

// NewRegistry wires the built-in strategies for every source type.
func NewRegistry(fetch Fetcher, opts Options, robotsPolicy robots.Policy, logger *zap.Logger) Registry {
	blocklist := NewBlocklist(DefaultBlockedDomains)
	return Registry{
		ingest.SourceYouTube:   NewYouTube(fetch, opts, blocklist),
		ingest.SourceReddit:    NewReddit(fetch, opts, blocklist),
		ingest.SourceWebSearch: NewWebSearch(fetch, opts, blocklist, logger),
		ingest.SourceFeed:      NewFeed(fetch, opts, blocklist),
		ingest.SourceURL:       NewDirect(fetch, opts, robotsPolicy),
	}
}

// Repository is the store surface the Collect stage needs.
type Repository interface {
	ingest.SourceRepository
	ingest.DocumentRepository
}

// Stage runs every active source through its strategy and persists new documents.
type Stage struct {
	repo       Repository
	strategies Registry
	clock      ingest.Clock
	ids        ingest.IDGenerator
	logger     *zap.Logger
}

// NewStage builds the Collect stage.
func NewStage(repo Repository, strategies Registry, clock ingest.Clock, ids ingest.IDGenerator, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{repo: repo, strategies: strategies, clock: clock, ids: ids, logger: logger}
}

// RunOptions bounds one invocation.
type RunOptions struct {
	SourceLimit    int
	ItemsPerSource int
}

// Run collects from up to SourceLimit active sources. A missing credential for any source type in
// the batch aborts before any source is processed; every other failure is counted per source or item.
func (s *Stage) Run(ctx context.Context, opts RunOptions) (ingest.Counters, error) {
	var counters ingest.Counters
	sources, err := s.repo.ListActiveSources(ctx, opts.SourceLimit)
	if err != nil {
		return counters, fmt.Errorf("list sources: %w", err)
	}
	if err := s.preflight(sources); err != nil {
		return counters, err
	}

	for _, src := range sources {
		s.collectSource(ctx, src, opts.ItemsPerSource, &counters)
	}
	s.logger.Info("Collect finished",
		zap.Int("sources", len(sources)),
		zap.Int("created", counters.Created),
		zap.Int("skipped", counters.Skipped),
		zap.Int("failed", counters.Failed),
		zap.Int("malformed", counters.Malformed),
	)
	return counters, nil
}

func (s *Stage) preflight(sources []ingest.ContentSource) error {
	checked := map[ingest.SourceType]bool{}
	for _, src := range sources {
		if checked[src.SourceType] {
			continue
		}
		checked[src.SourceType] = true
		strategy, err := s.strategies.Lookup(src.SourceType)
		if err != nil {
			continue
		}
		if err := strategy.Preflight(); err != nil {
			return &ingest.SetupError{Stage: "collect", Err: err}
		}
	}
	return nil
}

func (s *Stage) collectSource(ctx context.Context, src ingest.ContentSource, defaultLimit int, counters *ingest.Counters) {
	logger := s.logger.With(zap.String("source_id", src.ID), zap.String("source_type", string(src.SourceType)))
	strategy, err := s.strategies.Lookup(src.SourceType)
	if err != nil {
		counters.Failed++
		logger.Warn("Skipping source", zap.Error(err))
		return
	}
	limit := defaultLimit
	if n, ok := src.MetaInt("max_items"); ok && n > 0 && (limit <= 0 || n < limit) {
		limit = n
	}

	res, err := strategy.Collect(ctx, src, limit)
	if err != nil {
		counters.Failed++
		var fe *httpx.FetchError
		if errors.As(err, &fe) {
			logger.Warn("Source collection failed", zap.Int("status", fe.StatusCode), zap.String("url", fe.URL), zap.Error(err))
		} else {
			logger.Warn("Source collection failed", zap.Error(err))
		}
		return
	}
	counters.Malformed += res.Malformed
	counters.AddExtra("filtered", res.Filtered)
	if res.Malformed > 0 {
		logger.Debug("Dropped malformed provider items", zap.Int("count", res.Malformed))
	}

	for _, doc := range res.Documents {
		counters.Processed++
		s.store(ctx, src, doc, counters, logger)
	}

	if err := s.repo.MarkSourceCollected(ctx, src.ID, s.clock.Now()); err != nil {
		logger.Warn("Failed to mark source collected", zap.Error(err))
	}
}

func (s *Stage) store(ctx context.Context, src ingest.ContentSource, doc ingest.CollectedDocument, counters *ingest.Counters, logger *zap.Logger) {
	id, err := s.ids.NewID()
	if err != nil {
		counters.Failed++
		logger.Warn("Failed to allocate document id", zap.Error(err))
		return
	}
	now := s.clock.Now()
	row := ingest.SourceDocument{
		ID:          id,
		SourceID:    src.ID,
		SourceType:  src.SourceType,
		ExternalID:  doc.ExternalID,
		URL:         doc.URL,
		Title:       doc.Title,
		Description: doc.Description,
		Author:      doc.Author,
		PublishedAt: doc.PublishedAt,
		Sport:       doc.Sport,
		Language:    doc.Language,
		Raw:         doc.Raw,
		Confidence:  ingest.ClampConfidence(doc.Confidence),
		Fingerprint: ingest.Fingerprint(doc.URL, doc.Title, doc.Description),
		State:       ingest.StateCollected,
		CollectedAt: now,
		UpdatedAt:   now,
	}
	err = s.repo.InsertDocument(ctx, row)
	switch {
	case err == nil:
		counters.Created++
	case errors.Is(err, ingest.ErrDuplicate):
		counters.Skipped++
	default:
		counters.Failed++
		logger.Warn("Failed to store document", zap.String("url", httpx.RedactURL(doc.URL)), zap.Error(err))
	}
}
