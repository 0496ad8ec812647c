// Package review applies confidence thresholds to pending moderation items.
package review

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// ErrThresholds marks an unusable threshold pair.
var ErrThresholds = errors.New("invalid review thresholds")

// Thresholds are inclusive on both boundaries.
type Thresholds struct {
	Approve float64
	Reject  float64
}

// Validate rejects overlapping or out-of-range thresholds.
func (t Thresholds) Validate() error {
	if t.Reject < 0 || t.Approve > ingest.MaxConfidence || t.Reject >= t.Approve {
		return fmt.Errorf("%w: need 0 <= reject < approve <= %.3f, got reject=%.3f approve=%.3f",
			ErrThresholds, ingest.MaxConfidence, t.Reject, t.Approve)
	}
	return nil
}

// Decision is the outcome for one item.
type Decision struct {
	Status ingest.QueueStatus
	Note   string
}

// Decide is the pure decision step: approved at or above Approve, rejected at or below Reject,
// pending in between.
func Decide(confidence float64, t Thresholds) Decision {
	switch {
	case ingest.AtLeast(confidence, t.Approve):
		return Decision{Status: ingest.QueueApproved, Note: fmt.Sprintf("confidence %.3f >= approve threshold %.3f", confidence, t.Approve)}
	case ingest.AtMost(confidence, t.Reject):
		return Decision{Status: ingest.QueueRejected, Note: fmt.Sprintf("confidence %.3f <= reject threshold %.3f", confidence, t.Reject)}
	default:
		return Decision{Status: ingest.QueuePending, Note: fmt.Sprintf("confidence %.3f between %.3f and %.3f", confidence, t.Reject, t.Approve)}
	}
}

// Stage auto-reviews pending queue items. Each item is reviewed once: an item left pending is
// stamped with its note so later runs move on to newer proposals.
type Stage struct {
	repo       ingest.QueueRepository
	thresholds Thresholds
	clock      ingest.Clock
	logger     *zap.Logger
}

// NewStage builds the Review stage.
func NewStage(repo ingest.QueueRepository, thresholds Thresholds, clock ingest.Clock, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{repo: repo, thresholds: thresholds, clock: clock, logger: logger}
}

// Run reviews up to limit unreviewed items. Items left pending count as skipped.
func (s *Stage) Run(ctx context.Context, limit int) (ingest.Counters, error) {
	var counters ingest.Counters
	if err := s.thresholds.Validate(); err != nil {
		return counters, &ingest.SetupError{Stage: "review", Err: err}
	}
	items, err := s.repo.ListUnreviewedQueueItems(ctx, limit)
	if err != nil {
		return counters, fmt.Errorf("list unreviewed items: %w", err)
	}
	for _, item := range items {
		counters.Processed++
		d := Decide(item.Confidence, s.thresholds)
		if err := s.repo.UpdateQueueItemStatus(ctx, item.ID, d.Status, d.Note, s.clock.Now()); err != nil {
			counters.Failed++
			s.logger.Warn("Failed to record review decision", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		if d.Status == ingest.QueuePending {
			counters.Skipped++
			continue
		}
		counters.Updated++
		counters.Inc(string(d.Status))
	}
	s.logger.Info("Review finished",
		zap.Int("processed", counters.Processed),
		zap.Int("approved", counters.Extra[string(ingest.QueueApproved)]),
		zap.Int("rejected", counters.Extra[string(ingest.QueueRejected)]),
		zap.Int("pending", counters.Skipped),
	)
	return counters, nil
}
