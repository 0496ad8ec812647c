package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/collect"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// Extractor produces an outcome for one document.
type Extractor interface {
	Extract(ctx context.Context, doc ingest.SourceDocument, src ingest.ContentSource) (Outcome, error)
}

// Preflighter is an Extractor with environment requirements.
type Preflighter interface {
	Extractor
	Preflight() error
}

// Stage moves collected documents to extracted, discarded, or error.
type Stage struct {
	repo   Repository
	video  Preflighter
	web    Extractor
	clock  ingest.Clock
	ids    ingest.IDGenerator
	logger *zap.Logger
}

// NewStage builds the Extract stage. video may be nil when video ingestion is disabled.
func NewStage(repo Repository, video Preflighter, web Extractor, clock ingest.Clock, ids ingest.IDGenerator, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{repo: repo, video: video, web: web, clock: clock, ids: ids, logger: logger}
}

// RunOptions bounds one invocation.
type RunOptions struct {
	Limit int
	// VideoOnly leaves non-video documents untouched.
	VideoOnly bool
	// RetryErrors moves error documents back to collected before the batch is selected.
	RetryErrors bool
}

type workItem struct {
	doc   ingest.SourceDocument
	src   ingest.ContentSource
	video bool
}

// Run extracts one batch. Missing video tooling or credentials abort before any document is
// processed, but only when the batch contains a video document.
func (s *Stage) Run(ctx context.Context, opts RunOptions) (ingest.Counters, error) {
	var counters ingest.Counters
	if opts.RetryErrors {
		if err := s.requeueErrors(ctx, opts.Limit, &counters); err != nil {
			return counters, err
		}
	}
	docs, err := s.repo.ListDocumentsByState(ctx, ingest.StateCollected, opts.Limit)
	if err != nil {
		return counters, fmt.Errorf("list collected documents: %w", err)
	}

	items := make([]workItem, 0, len(docs))
	sources := map[string]ingest.ContentSource{}
	needsVideo := false
	for _, doc := range docs {
		src, ok := sources[doc.SourceID]
		if !ok {
			src, err = s.repo.GetSource(ctx, doc.SourceID)
			if err != nil {
				s.logger.Warn("Source lookup failed; treating as plain web document", zap.String("doc_id", doc.ID), zap.Error(err))
				src = ingest.ContentSource{ID: doc.SourceID, SourceType: doc.SourceType}
			}
			sources[doc.SourceID] = src
		}
		isVideo := s.video != nil && collect.VideoID(doc.URL) != "" && src.AllowsVideo()
		if opts.VideoOnly && !isVideo {
			counters.Skipped++
			continue
		}
		needsVideo = needsVideo || isVideo
		items = append(items, workItem{doc: doc, src: src, video: isVideo})
	}
	if needsVideo {
		if err := s.video.Preflight(); err != nil {
			return counters, &ingest.SetupError{Stage: "extract", Err: err}
		}
	}

	for _, item := range items {
		counters.Processed++
		s.extractOne(ctx, item, &counters)
	}
	s.logger.Info("Extract finished",
		zap.Int("processed", counters.Processed),
		zap.Int("created", counters.Created),
		zap.Int("failed", counters.Failed),
		zap.Int("discarded", counters.Extra["discarded"]),
	)
	return counters, nil
}

func (s *Stage) requeueErrors(ctx context.Context, limit int, counters *ingest.Counters) error {
	failed, err := s.repo.ListDocumentsByState(ctx, ingest.StateError, limit)
	if err != nil {
		return fmt.Errorf("list error documents: %w", err)
	}
	for _, doc := range failed {
		if err := s.repo.UpdateDocumentState(ctx, doc.ID, ingest.StateCollected, "retry", s.clock.Now()); err != nil {
			s.logger.Warn("Failed to requeue document", zap.String("doc_id", doc.ID), zap.Error(err))
			continue
		}
		counters.Inc("retried")
	}
	return nil
}

func (s *Stage) extractOne(ctx context.Context, item workItem, counters *ingest.Counters) {
	logger := s.logger.With(zap.String("doc_id", item.doc.ID), zap.Bool("video", item.video))
	var extractor Extractor = s.web
	if item.video {
		extractor = s.video
	}

	outcome, err := extractor.Extract(ctx, item.doc, item.src)
	if err != nil {
		counters.Failed++
		logger.Warn("Extraction failed", zap.Error(err))
		s.setState(ctx, item.doc.ID, ingest.StateError, err.Error(), logger)
		return
	}

	switch outcome.State {
	case ingest.StateDiscarded:
		counters.Inc("discarded")
		s.setState(ctx, item.doc.ID, ingest.StateDiscarded, outcome.Reason, logger)
	case ingest.StateExtracted:
		if err := s.saveSignal(ctx, outcome.Signal); err != nil {
			counters.Failed++
			logger.Warn("Failed to save signal", zap.Error(err))
			s.setState(ctx, item.doc.ID, ingest.StateError, err.Error(), logger)
			return
		}
		counters.Created++
		if outcome.Heuristic {
			counters.Inc("heuristic")
		}
		s.setState(ctx, item.doc.ID, ingest.StateExtracted, outcome.Signal.Method, logger)
	default:
		counters.Failed++
		logger.Warn("Extractor returned no decision", zap.String("state", string(outcome.State)))
	}
}

func (s *Stage) saveSignal(ctx context.Context, signal *ingest.ExtractedSignal) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("allocate signal id: %w", err)
	}
	signal.ID = id
	signal.CreatedAt = s.clock.Now()
	if err := s.repo.UpsertSignal(ctx, *signal); err != nil {
		return fmt.Errorf("upsert signal: %w", err)
	}
	return nil
}

func (s *Stage) setState(ctx context.Context, id string, state ingest.ProcessingState, reason string, logger *zap.Logger) {
	if err := s.repo.UpdateDocumentState(ctx, id, state, reason, s.clock.Now()); err != nil {
		logger.Warn("Failed to update document state", zap.String("state", string(state)), zap.Error(err))
	}
}
