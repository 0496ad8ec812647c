package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

const videoColumns = "id, document_id, state, duration_seconds, channel, transcript, language, sport, relevance_score, " +
	"relevance_reason, routine_summary, athlete_mentions, confidence, artifact_dir, error_message, started_at, " +
	"completed_at, updated_at, drills_published_at"

func scanVideo(row rowScanner) (ingest.VideoIngest, error) {
	var (
		v        ingest.VideoIngest
		state    string
		mentions []byte
	)
	if err := row.Scan(&v.ID, &v.DocumentID, &state, &v.DurationSeconds, &v.Channel, &v.Transcript, &v.Language,
		&v.Sport, &v.RelevanceScore, &v.RelevanceReason, &v.RoutineSummary, &mentions, &v.Confidence,
		&v.ArtifactDir, &v.ErrorMessage, &v.StartedAt, &v.CompletedAt, &v.UpdatedAt, &v.DrillsPublishedAt); err != nil {
		return ingest.VideoIngest{}, err
	}
	v.State = ingest.VideoState(state)
	if err := unmarshalJSON(mentions, &v.AthleteMentions); err != nil {
		return ingest.VideoIngest{}, err
	}
	return v, nil
}

// GetVideoIngest fetches the ingest row of a document.
func (s *Store) GetVideoIngest(ctx context.Context, documentID string) (ingest.VideoIngest, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+videoColumns+" FROM video_ingests WHERE document_id = $1", documentID)
	v, err := scanVideo(row)
	if err != nil {
		return ingest.VideoIngest{}, notFound(err, "video ingest for "+documentID)
	}
	return v, nil
}

// SaveVideoIngest upserts the ingest row keyed by document. The row id never changes.
func (s *Store) SaveVideoIngest(ctx context.Context, v ingest.VideoIngest) error {
	mentions := v.AthleteMentions
	if mentions == nil {
		mentions = []string{}
	}
	mentionsJSON, err := marshalJSON(mentions)
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("video_ingests").
		Columns("id", "document_id", "state", "duration_seconds", "channel", "transcript", "language", "sport",
			"relevance_score", "relevance_reason", "routine_summary", "athlete_mentions", "confidence", "artifact_dir",
			"error_message", "started_at", "completed_at", "updated_at", "drills_published_at").
		Values(v.ID, v.DocumentID, string(v.State), v.DurationSeconds, v.Channel, v.Transcript, v.Language, v.Sport,
			v.RelevanceScore, v.RelevanceReason, v.RoutineSummary, mentionsJSON, v.Confidence, v.ArtifactDir,
			v.ErrorMessage, v.StartedAt, v.CompletedAt, v.UpdatedAt, v.DrillsPublishedAt).
		Suffix(`ON CONFLICT (document_id) DO UPDATE SET
			state = EXCLUDED.state, duration_seconds = EXCLUDED.duration_seconds, channel = EXCLUDED.channel,
			transcript = EXCLUDED.transcript, language = EXCLUDED.language, sport = EXCLUDED.sport,
			relevance_score = EXCLUDED.relevance_score, relevance_reason = EXCLUDED.relevance_reason,
			routine_summary = EXCLUDED.routine_summary, athlete_mentions = EXCLUDED.athlete_mentions,
			confidence = EXCLUDED.confidence, artifact_dir = EXCLUDED.artifact_dir,
			error_message = EXCLUDED.error_message, started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at, updated_at = EXCLUDED.updated_at,
			drills_published_at = EXCLUDED.drills_published_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build video ingest upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save video ingest: %w", err)
	}
	return nil
}

// replaceChildren deletes every child row of an ingest and inserts rows in one transaction.
func (s *Store) replaceChildren(ctx context.Context, table, ingestID string, insert string, rows [][]any) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s replace: %w", table, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, "DELETE FROM "+table+" WHERE ingest_id = $1", ingestID); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for _, args := range rows {
		if _, err = tx.Exec(ctx, insert, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s replace: %w", table, err)
	}
	return nil
}

const (
	insertSegment = "INSERT INTO transcript_segments (ingest_id, segment_index, start_seconds, end_seconds, text, confidence) " +
		"VALUES ($1, $2, $3, $4, $5, $6)"
	insertDetection = "INSERT INTO frame_detections (ingest_id, frame_index, timestamp_seconds, label, description, confidence) " +
		"VALUES ($1, $2, $3, $4, $5, $6)"
	insertEvent = "INSERT INTO exercise_events (id, ingest_id, start_seconds, end_seconds, sport, exercise_name, sets, reps, " +
		"duration_seconds, rest_seconds, confidence, evidence) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)"
)

// ReplaceTranscriptSegments swaps the full segment set of an ingest.
func (s *Store) ReplaceTranscriptSegments(ctx context.Context, ingestID string, segments []ingest.TranscriptSegment) error {
	rows := make([][]any, 0, len(segments))
	for _, seg := range segments {
		rows = append(rows, []any{ingestID, seg.Index, seg.StartSeconds, seg.EndSeconds, seg.Text, seg.Confidence})
	}
	return s.replaceChildren(ctx, "transcript_segments", ingestID, insertSegment, rows)
}

// ReplaceFrameDetections swaps the full detection set of an ingest.
func (s *Store) ReplaceFrameDetections(ctx context.Context, ingestID string, detections []ingest.FrameDetection) error {
	rows := make([][]any, 0, len(detections))
	for _, d := range detections {
		rows = append(rows, []any{ingestID, d.FrameIndex, d.TimestampSeconds, d.Label, d.Description, d.Confidence})
	}
	return s.replaceChildren(ctx, "frame_detections", ingestID, insertDetection, rows)
}

// ReplaceExerciseEvents swaps the full event set of an ingest.
func (s *Store) ReplaceExerciseEvents(ctx context.Context, ingestID string, events []ingest.ExerciseEvent) error {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{e.ID, ingestID, e.StartSeconds, e.EndSeconds, e.Sport, e.ExerciseName, e.Sets, e.Reps,
			e.DurationSeconds, e.RestSeconds, e.Confidence, e.Evidence})
	}
	return s.replaceChildren(ctx, "exercise_events", ingestID, insertEvent, rows)
}

const eventColumns = "id, ingest_id, start_seconds, end_seconds, sport, exercise_name, sets, reps, duration_seconds, " +
	"rest_seconds, confidence, evidence"

func scanEvents(rows pgx.Rows) ([]ingest.ExerciseEvent, error) {
	defer rows.Close()
	var out []ingest.ExerciseEvent
	for rows.Next() {
		var e ingest.ExerciseEvent
		if err := rows.Scan(&e.ID, &e.IngestID, &e.StartSeconds, &e.EndSeconds, &e.Sport, &e.ExerciseName, &e.Sets,
			&e.Reps, &e.DurationSeconds, &e.RestSeconds, &e.Confidence, &e.Evidence); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListExerciseEvents returns the events of one ingest in playback order.
func (s *Store) ListExerciseEvents(ctx context.Context, ingestID string) ([]ingest.ExerciseEvent, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+eventColumns+" FROM exercise_events WHERE ingest_id = $1 ORDER BY start_seconds, id", ingestID)
	if err != nil {
		return nil, fmt.Errorf("list exercise events: %w", err)
	}
	return scanEvents(rows)
}

// ListPublishedVideoEvents returns completed, not yet promoted ingests with events whose document
// has at least one published queue item.
func (s *Store) ListPublishedVideoEvents(ctx context.Context, limit int) ([]ingest.VideoEventBatch, error) {
	query, args, err := limited(psql.Select("v.document_id").
		From("video_ingests v").
		Where(sq.Eq{"v.state": string(ingest.VideoCompleted), "v.drills_published_at": nil}).
		Where("EXISTS (SELECT 1 FROM exercise_events e WHERE e.ingest_id = v.id)").
		Where(sq.Expr("EXISTS (SELECT 1 FROM moderation_queue q WHERE q.document_id = v.document_id AND q.status = ?)",
			string(ingest.QueuePublished))).
		OrderBy("v.updated_at", "v.id"), limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build video event query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list published videos: %w", err)
	}
	docIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan published videos: %w", err)
	}

	batches := make([]ingest.VideoEventBatch, 0, len(docIDs))
	for _, docID := range docIDs {
		v, err := s.GetVideoIngest(ctx, docID)
		if err != nil {
			return nil, err
		}
		doc, err := s.GetDocument(ctx, docID)
		if err != nil {
			return nil, err
		}
		events, err := s.ListExerciseEvents(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		batches = append(batches, ingest.VideoEventBatch{Ingest: v, Document: doc, Events: events})
	}
	return batches, nil
}

// MarkDrillsPublished stamps an ingest so the drill pass does not select it again.
func (s *Store) MarkDrillsPublished(ctx context.Context, ingestID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, "UPDATE video_ingests SET drills_published_at = $2 WHERE id = $1", ingestID, at)
	if err != nil {
		return fmt.Errorf("mark drills published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video ingest %s: %w", ingestID, ingest.ErrNotFound)
	}
	return nil
}
