package moderation

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// Repository is the store surface the Queue stage needs.
type Repository interface {
	ingest.DocumentRepository
	ingest.SignalRepository
	ingest.QueueRepository
}

// Stage moves extracted documents to queued, or to normalized when they yield no proposals.
type Stage struct {
	repo   Repository
	clock  ingest.Clock
	ids    ingest.IDGenerator
	logger *zap.Logger
}

// NewStage builds the Queue stage.
func NewStage(repo Repository, clock ingest.Clock, ids ingest.IDGenerator, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{repo: repo, clock: clock, ids: ids, logger: logger}
}

// Run queues proposals for up to limit extracted documents. Proposals that already exist are
// counted as skipped.
func (s *Stage) Run(ctx context.Context, limit int) (ingest.Counters, error) {
	var counters ingest.Counters
	docs, err := s.repo.ListDocumentsByState(ctx, ingest.StateExtracted, limit)
	if err != nil {
		return counters, fmt.Errorf("list extracted documents: %w", err)
	}
	for _, doc := range docs {
		counters.Processed++
		logger := s.logger.With(zap.String("doc_id", doc.ID))
		if err := s.queueDocument(ctx, doc, &counters); err != nil {
			counters.Failed++
			logger.Warn("Queue build failed", zap.Error(err))
			if serr := s.repo.UpdateDocumentState(ctx, doc.ID, ingest.StateError, err.Error(), s.clock.Now()); serr != nil {
				logger.Warn("Failed to record document error", zap.Error(serr))
			}
		}
	}
	s.logger.Info("Queue finished",
		zap.Int("processed", counters.Processed),
		zap.Int("created", counters.Created),
		zap.Int("skipped", counters.Skipped),
		zap.Int("failed", counters.Failed),
	)
	return counters, nil
}

func (s *Stage) queueDocument(ctx context.Context, doc ingest.SourceDocument, counters *ingest.Counters) error {
	sig, err := s.repo.GetSignal(ctx, doc.ID, ingest.SignalVersion)
	if err != nil {
		return fmt.Errorf("load signal: %w", err)
	}
	proposals := Derive(doc, sig)
	attribution := []ingest.Attribution{doc.Attribution()}
	for _, p := range proposals {
		item, err := s.item(doc, p, attribution)
		if err != nil {
			return err
		}
		inserted, err := s.repo.InsertQueueItem(ctx, item)
		if err != nil {
			return fmt.Errorf("insert %s proposal %q: %w", p.Type, p.Key, err)
		}
		if inserted {
			counters.Created++
			counters.Inc(string(p.Type))
		} else {
			counters.Skipped++
		}
	}

	next, reason := ingest.StateQueued, fmt.Sprintf("%d proposals", len(proposals))
	if len(proposals) == 0 {
		next, reason = ingest.StateNormalized, "no proposals"
	}
	if err := s.repo.UpdateDocumentState(ctx, doc.ID, next, reason, s.clock.Now()); err != nil {
		return fmt.Errorf("update document state: %w", err)
	}
	return nil
}

func (s *Stage) item(doc ingest.SourceDocument, p Proposal, attribution []ingest.Attribution) (ingest.ModerationQueueItem, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return ingest.ModerationQueueItem{}, fmt.Errorf("allocate queue id: %w", err)
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return ingest.ModerationQueueItem{}, fmt.Errorf("encode %s payload: %w", p.Type, err)
	}
	return ingest.ModerationQueueItem{
		ID:          id,
		DocumentID:  doc.ID,
		QueueType:   p.Type,
		ProposalKey: p.Key,
		Payload:     payload,
		Attribution: attribution,
		Confidence:  p.Confidence,
		Status:      ingest.QueuePending,
		CreatedAt:   s.clock.Now(),
	}, nil
}
