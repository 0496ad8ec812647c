package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// UpsertSignal inserts or overwrites the (document, version) signal, keeping the original id and
// creation time.
func (s *Store) UpsertSignal(ctx context.Context, sig ingest.ExtractedSignal) error {
	athletes, err := marshalJSON(nonNil(sig.AthleteMentions))
	if err != nil {
		return err
	}
	exercises, err := marshalJSON(nonNil(sig.ExerciseMentions))
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("extracted_signals").
		Columns("id", "document_id", "version", "method", "sport", "athlete_mentions", "exercise_mentions",
			"routine_summary", "payload", "confidence", "created_at").
		Values(sig.ID, sig.DocumentID, sig.Version, sig.Method, sig.Sport, athletes, exercises, sig.RoutineSummary,
			nullJSON(sig.Payload), sig.Confidence, sig.CreatedAt).
		Suffix(`ON CONFLICT (document_id, version) DO UPDATE SET
			method = EXCLUDED.method, sport = EXCLUDED.sport, athlete_mentions = EXCLUDED.athlete_mentions,
			exercise_mentions = EXCLUDED.exercise_mentions, routine_summary = EXCLUDED.routine_summary,
			payload = EXCLUDED.payload, confidence = EXCLUDED.confidence`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build signal upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert signal: %w", err)
	}
	return nil
}

// GetSignal fetches a signal by document and version.
func (s *Store) GetSignal(ctx context.Context, documentID, version string) (ingest.ExtractedSignal, error) {
	var (
		sig                 ingest.ExtractedSignal
		athletes, exercises []byte
		payload             []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, document_id, version, method, sport, athlete_mentions, exercise_mentions,
		routine_summary, payload, confidence, created_at
		FROM extracted_signals WHERE document_id = $1 AND version = $2`, documentID, version).
		Scan(&sig.ID, &sig.DocumentID, &sig.Version, &sig.Method, &sig.Sport, &athletes, &exercises,
			&sig.RoutineSummary, &payload, &sig.Confidence, &sig.CreatedAt)
	if err != nil {
		return ingest.ExtractedSignal{}, notFound(err, "signal "+documentID+"/"+version)
	}
	if err := unmarshalJSON(athletes, &sig.AthleteMentions); err != nil {
		return ingest.ExtractedSignal{}, err
	}
	if err := unmarshalJSON(exercises, &sig.ExerciseMentions); err != nil {
		return ingest.ExtractedSignal{}, err
	}
	if len(payload) > 0 {
		sig.Payload = json.RawMessage(payload)
	}
	return sig, nil
}

// InsertQueueItem stores a proposal unless the (document, type, key) triple exists.
func (s *Store) InsertQueueItem(ctx context.Context, item ingest.ModerationQueueItem) (bool, error) {
	attribution, err := marshalJSON(nonNil(item.Attribution))
	if err != nil {
		return false, err
	}
	query, args, err := psql.Insert("moderation_queue").
		Columns("id", "document_id", "queue_type", "proposal_key", "payload", "attribution", "confidence", "status",
			"reviewer_note", "created_at").
		Values(item.ID, item.DocumentID, string(item.QueueType), item.ProposalKey, []byte(item.Payload), attribution,
			item.Confidence, string(item.Status), item.ReviewerNote, item.CreatedAt).
		Suffix("ON CONFLICT (document_id, queue_type, proposal_key) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build queue insert: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert queue item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const queueColumns = "id, document_id, queue_type, proposal_key, payload, attribution, confidence, status, " +
	"reviewer_note, created_at, reviewed_at, published_at"

func scanQueueItem(row rowScanner) (ingest.ModerationQueueItem, error) {
	var (
		item                 ingest.ModerationQueueItem
		queueType, status    string
		payload, attribution []byte
	)
	if err := row.Scan(&item.ID, &item.DocumentID, &queueType, &item.ProposalKey, &payload, &attribution,
		&item.Confidence, &status, &item.ReviewerNote, &item.CreatedAt, &item.ReviewedAt, &item.PublishedAt); err != nil {
		return ingest.ModerationQueueItem{}, err
	}
	item.QueueType = ingest.QueueType(queueType)
	item.Status = ingest.QueueStatus(status)
	item.Payload = json.RawMessage(payload)
	if err := unmarshalJSON(attribution, &item.Attribution); err != nil {
		return ingest.ModerationQueueItem{}, err
	}
	return item, nil
}

// ListQueueItems returns items in status, oldest first.
func (s *Store) ListQueueItems(ctx context.Context, status ingest.QueueStatus, limit int) ([]ingest.ModerationQueueItem, error) {
	return s.listQueue(ctx, sq.Eq{"status": string(status)}, limit)
}

// ListUnreviewedQueueItems returns pending items without a review stamp, oldest first.
func (s *Store) ListUnreviewedQueueItems(ctx context.Context, limit int) ([]ingest.ModerationQueueItem, error) {
	return s.listQueue(ctx, sq.Eq{"status": string(ingest.QueuePending), "reviewed_at": nil}, limit)
}

func (s *Store) listQueue(ctx context.Context, where sq.Eq, limit int) ([]ingest.ModerationQueueItem, error) {
	query, args, err := limited(psql.Select(queueColumns).
		From("moderation_queue").
		Where(where).
		OrderBy("created_at", "id"), limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build queue query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()
	var out []ingest.ModerationQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// UpdateQueueItemStatus records a review outcome or publication. An empty note keeps the existing one.
func (s *Store) UpdateQueueItemStatus(ctx context.Context, id string, status ingest.QueueStatus, note string, at time.Time) error {
	b := psql.Update("moderation_queue").Set("status", string(status)).Where(sq.Eq{"id": id})
	if note != "" {
		b = b.Set("reviewer_note", note)
	}
	switch status {
	case ingest.QueuePending, ingest.QueueApproved, ingest.QueueRejected:
		b = b.Set("reviewed_at", at)
	case ingest.QueuePublished:
		b = b.Set("published_at", at)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build queue update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue item %s: %w", id, ingest.ErrNotFound)
	}
	return nil
}

// CountDocumentQueue summarizes the proposals of one document.
func (s *Store) CountDocumentQueue(ctx context.Context, documentID string) (ingest.DocumentQueueCounts, error) {
	var counts ingest.DocumentQueueCounts
	err := s.pool.QueryRow(ctx, `SELECT
			count(*) FILTER (WHERE status IN ('pending', 'approved')),
			count(*) FILTER (WHERE status = 'published'),
			count(*) FILTER (WHERE status = 'rejected')
		FROM moderation_queue WHERE document_id = $1`, documentID).
		Scan(&counts.Open, &counts.Published, &counts.Rejected)
	if err != nil {
		return ingest.DocumentQueueCounts{}, fmt.Errorf("count document queue: %w", err)
	}
	return counts, nil
}

// nonNil keeps empty JSON arrays as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
