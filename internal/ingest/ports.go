package ingest

import (
	"context"
	"time"
)

// SourceRepository reads operator-managed content sources.
type SourceRepository interface {
	ListActiveSources(ctx context.Context, limit int) ([]ContentSource, error)
	GetSource(ctx context.Context, id string) (ContentSource, error)
	MarkSourceCollected(ctx context.Context, id string, at time.Time) error
}

// DocumentRepository persists collected documents. InsertDocument returns ErrDuplicate when the
// fingerprint already exists.
type DocumentRepository interface {
	InsertDocument(ctx context.Context, doc SourceDocument) error
	GetDocument(ctx context.Context, id string) (SourceDocument, error)
	ListDocumentsByState(ctx context.Context, state ProcessingState, limit int) ([]SourceDocument, error)
	UpdateDocumentState(ctx context.Context, id string, state ProcessingState, reason string, at time.Time) error
}

// VideoRepository persists the video sub-pipeline. Child rows are always replaced wholesale.
type VideoRepository interface {
	GetVideoIngest(ctx context.Context, documentID string) (VideoIngest, error)
	SaveVideoIngest(ctx context.Context, ingest VideoIngest) error
	ReplaceTranscriptSegments(ctx context.Context, ingestID string, segments []TranscriptSegment) error
	ReplaceFrameDetections(ctx context.Context, ingestID string, detections []FrameDetection) error
	ReplaceExerciseEvents(ctx context.Context, ingestID string, events []ExerciseEvent) error
	ListExerciseEvents(ctx context.Context, ingestID string) ([]ExerciseEvent, error)
	// ListPublishedVideoEvents skips ingests whose events were already promoted.
	ListPublishedVideoEvents(ctx context.Context, limit int) ([]VideoEventBatch, error)
	MarkDrillsPublished(ctx context.Context, ingestID string, at time.Time) error
}

// SignalRepository persists extracted signals keyed by (document, version).
type SignalRepository interface {
	UpsertSignal(ctx context.Context, signal ExtractedSignal) error
	GetSignal(ctx context.Context, documentID, version string) (ExtractedSignal, error)
}

// QueueRepository persists moderation proposals. InsertQueueItem reports false when the
// (document, queue type, proposal key) triple already exists. UpdateQueueItemStatus stamps
// ReviewedAt for review outcomes, including an item left pending.
type QueueRepository interface {
	InsertQueueItem(ctx context.Context, item ModerationQueueItem) (bool, error)
	ListQueueItems(ctx context.Context, status QueueStatus, limit int) ([]ModerationQueueItem, error)
	// ListUnreviewedQueueItems returns pending items the auto-reviewer has not looked at yet.
	ListUnreviewedQueueItems(ctx context.Context, limit int) ([]ModerationQueueItem, error)
	UpdateQueueItemStatus(ctx context.Context, id string, status QueueStatus, note string, at time.Time) error
	CountDocumentQueue(ctx context.Context, documentID string) (DocumentQueueCounts, error)
}

// CatalogRepository persists canonical entities. Find* methods match natural keys
// case-insensitively and return ErrNotFound when absent; Save* methods upsert by ID.
type CatalogRepository interface {
	FindAthlete(ctx context.Context, name, sport string) (Athlete, error)
	SaveAthlete(ctx context.Context, athlete Athlete) error
	FindExercise(ctx context.Context, name, sport string) (Exercise, error)
	SaveExercise(ctx context.Context, exercise Exercise) error
	FindAthleteExercise(ctx context.Context, athleteID, exerciseID string) (AthleteExercise, error)
	SaveAthleteExercise(ctx context.Context, link AthleteExercise) error
	FindRoutine(ctx context.Context, title, sport string) (Routine, error)
	SaveRoutine(ctx context.Context, routine Routine) error
	FindDrill(ctx context.Context, key string) (Drill, error)
	SaveDrill(ctx context.Context, drill Drill) error
	InsertPublishedRecord(ctx context.Context, record PublishedRecord) (bool, error)
	ListAthleteNames(ctx context.Context, limit int) ([]string, error)
	ListExerciseNames(ctx context.Context, limit int) ([]string, error)
}

// Store is the full persistence collaborator.
type Store interface {
	SourceRepository
	DocumentRepository
	VideoRepository
	SignalRepository
	QueueRepository
	CatalogRepository
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row IDs.
type IDGenerator interface {
	NewID() (string, error)
}
