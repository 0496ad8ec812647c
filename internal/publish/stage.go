// Package publish promotes approved moderation items into the canonical catalog.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// Notification event names.
const (
	EventEntityPublished = "entity.published"
	EventDrillPublished  = "drill.published"
)

// Publisher delivers notifications about newly published records.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Repository is the store surface the Publish stage needs.
type Repository interface {
	ingest.DocumentRepository
	ingest.QueueRepository
	ingest.CatalogRepository
	ListPublishedVideoEvents(ctx context.Context, limit int) ([]ingest.VideoEventBatch, error)
	MarkDrillsPublished(ctx context.Context, ingestID string, at time.Time) error
}

// Notification is the payload sent for each new PublishedRecord.
type Notification struct {
	QueueItemID string    `json:"queue_item_id"`
	DocumentID  string    `json:"document_id"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Confidence  float64   `json:"confidence"`
	PublishedAt time.Time `json:"published_at"`
}

// DrillNotification is the payload sent when a drill enters the catalog.
type DrillNotification struct {
	DrillID    string  `json:"drill_id"`
	Key        string  `json:"key"`
	Name       string  `json:"name"`
	Sport      string  `json:"sport"`
	Difficulty string  `json:"difficulty"`
	Confidence float64 `json:"confidence"`
}

// Stage publishes approved items and promotes video events into drills.
type Stage struct {
	repo     Repository
	notifier Publisher
	catalog  upserter
	clock    ingest.Clock
	ids      ingest.IDGenerator
	logger   *zap.Logger
}

// NewStage builds the Publish stage. notifier may be nil.
func NewStage(repo Repository, notifier Publisher, clock ingest.Clock, ids ingest.IDGenerator, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{
		repo:     repo,
		notifier: notifier,
		catalog:  upserter{repo: repo, clock: clock, ids: ids},
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// RunOptions bounds one invocation.
type RunOptions struct {
	Limit int
	// AutoDrills promotes exercise events of published videos into drills.
	AutoDrills bool
	// AutoRoutines also groups each such video's events into a routine.
	AutoRoutines bool
}

// Run publishes up to Limit approved items. Items that can never publish (ErrMalformed) are
// rejected with the error as the note; other failures stay approved and are retried next run.
func (s *Stage) Run(ctx context.Context, opts RunOptions) (ingest.Counters, error) {
	var counters ingest.Counters
	items, err := s.repo.ListQueueItems(ctx, ingest.QueueApproved, opts.Limit)
	if err != nil {
		return counters, fmt.Errorf("list approved items: %w", err)
	}

	var touched []string
	seen := map[string]struct{}{}
	for _, item := range items {
		counters.Processed++
		if err := s.publishItem(ctx, item, &counters); err != nil {
			counters.Failed++
			s.logger.Warn("Publish failed", zap.String("item_id", item.ID), zap.String("queue_type", string(item.QueueType)), zap.Error(err))
			// A rejected item may be the last open one of its document.
			if !errors.Is(err, ingest.ErrMalformed) || !s.reject(ctx, item, err, &counters) {
				continue
			}
		}
		if _, ok := seen[item.DocumentID]; !ok {
			seen[item.DocumentID] = struct{}{}
			touched = append(touched, item.DocumentID)
		}
	}
	for _, docID := range touched {
		s.finalizeDocument(ctx, docID, &counters)
	}

	if opts.AutoDrills {
		if err := s.publishDrills(ctx, opts, &counters); err != nil {
			return counters, err
		}
	}
	s.logger.Info("Publish finished",
		zap.Int("processed", counters.Processed),
		zap.Int("created", counters.Created),
		zap.Int("updated", counters.Updated),
		zap.Int("failed", counters.Failed),
	)
	return counters, nil
}

func (s *Stage) publishItem(ctx context.Context, item ingest.ModerationQueueItem, counters *ingest.Counters) error {
	entityType, entityID, created, err := s.catalog.apply(ctx, item)
	if err != nil {
		return err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("allocate record id: %w", err)
	}
	now := s.clock.Now()
	record := ingest.PublishedRecord{ID: id, QueueItemID: item.ID, EntityType: entityType, EntityID: entityID, PublishedAt: now}
	inserted, err := s.repo.InsertPublishedRecord(ctx, record)
	if err != nil {
		return fmt.Errorf("insert published record: %w", err)
	}
	if err := s.repo.UpdateQueueItemStatus(ctx, item.ID, ingest.QueuePublished, "", now); err != nil {
		return fmt.Errorf("mark item published: %w", err)
	}

	if created {
		counters.Created++
	} else {
		counters.Updated++
	}
	counters.Inc(entityType)
	if inserted {
		s.notify(ctx, EventEntityPublished, Notification{
			QueueItemID: item.ID,
			DocumentID:  item.DocumentID,
			EntityType:  entityType,
			EntityID:    entityID,
			Confidence:  item.Confidence,
			PublishedAt: now,
		}, counters)
	}
	return nil
}

// reject retires an item that cannot publish, reporting whether the status was written.
func (s *Stage) reject(ctx context.Context, item ingest.ModerationQueueItem, cause error, counters *ingest.Counters) bool {
	note := "publish rejected: " + cause.Error()
	if err := s.repo.UpdateQueueItemStatus(ctx, item.ID, ingest.QueueRejected, note, s.clock.Now()); err != nil {
		s.logger.Warn("Failed to reject unpublishable item", zap.String("item_id", item.ID), zap.Error(err))
		return false
	}
	counters.Inc("rejected_malformed")
	return true
}

// finalizeDocument marks a document published once none of its proposals remain open.
func (s *Stage) finalizeDocument(ctx context.Context, docID string, counters *ingest.Counters) {
	logger := s.logger.With(zap.String("doc_id", docID))
	counts, err := s.repo.CountDocumentQueue(ctx, docID)
	if err != nil {
		logger.Warn("Failed to count document queue", zap.Error(err))
		return
	}
	if counts.Open > 0 || counts.Published == 0 {
		return
	}
	reason := fmt.Sprintf("%d published, %d rejected", counts.Published, counts.Rejected)
	if err := s.repo.UpdateDocumentState(ctx, docID, ingest.StatePublished, reason, s.clock.Now()); err != nil {
		logger.Warn("Failed to mark document published", zap.Error(err))
		return
	}
	counters.Inc("documents_published")
}

func (s *Stage) publishDrills(ctx context.Context, opts RunOptions, counters *ingest.Counters) error {
	batches, err := s.repo.ListPublishedVideoEvents(ctx, opts.Limit)
	if err != nil {
		return fmt.Errorf("list published video events: %w", err)
	}
	for _, batch := range batches {
		logger := s.logger.With(zap.String("doc_id", batch.Document.ID), zap.String("ingest_id", batch.Ingest.ID))
		if s.promoteVideo(ctx, batch, opts, counters, logger) {
			if err := s.repo.MarkDrillsPublished(ctx, batch.Ingest.ID, s.clock.Now()); err != nil {
				counters.Inc("drills_failed")
				logger.Warn("Failed to mark video promoted", zap.Error(err))
			}
		}
	}
	return nil
}

// promoteVideo publishes one video's drills and routine. It reports false when a retryable
// failure means the video should be picked up again next run.
func (s *Stage) promoteVideo(ctx context.Context, batch ingest.VideoEventBatch, opts RunOptions, counters *ingest.Counters, logger *zap.Logger) bool {
	done := true
	for _, e := range batch.Events {
		d, created, err := s.catalog.drill(ctx, batch, e)
		if err != nil {
			counters.Inc("drills_failed")
			logger.Warn("Drill publish failed", zap.String("event_id", e.ID), zap.Error(err))
			done = done && errors.Is(err, ingest.ErrMalformed)
			continue
		}
		if !created {
			counters.Inc("drills_updated")
			continue
		}
		counters.Inc("drills_created")
		s.notify(ctx, EventDrillPublished, DrillNotification{
			DrillID: d.ID, Key: d.Key, Name: d.Name, Sport: d.Sport, Difficulty: d.Difficulty, Confidence: d.Confidence,
		}, counters)
	}
	if !opts.AutoRoutines {
		return done
	}
	r := videoRoutine(batch)
	if len(r.Exercises) == 0 {
		return done
	}
	_, created, err := s.catalog.routine(ctx, r)
	switch {
	case err != nil:
		counters.Inc("video_routines_failed")
		logger.Warn("Video routine publish failed", zap.Error(err))
		return done && errors.Is(err, ingest.ErrMalformed)
	case created:
		counters.Inc("video_routines_created")
	}
	return done
}

func (s *Stage) notify(ctx context.Context, event string, payload any, counters *ingest.Counters) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Publish(ctx, event, payload); err != nil {
		counters.Inc("notify_failed")
		s.logger.Warn("Notification failed", zap.String("event", event), zap.Error(err))
	}
}
