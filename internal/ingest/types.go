// Package ingest defines the data model, state machines, and repository ports shared by every
// pipeline stage (collect, extract, queue, review, publish).
package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// SourceType identifies the provider strategy used to collect from a ContentSource.
type SourceType string

// Supported source types.
const (
	SourceYouTube   SourceType = "youtube"
	SourceReddit    SourceType = "reddit"
	SourceWebSearch SourceType = "web_search"
	SourceFeed      SourceType = "rss"
	SourceURL       SourceType = "url"
)

// ContentSource is an operator-managed collection target. The pipeline only reads it.
type ContentSource struct {
	ID              string
	SourceType      SourceType
	Platform        string
	Query           string
	TargetURL       string
	Metadata        map[string]any
	Active          bool
	LastCollectedAt *time.Time
}

// MetaString returns a trimmed string metadata value, or "" when absent or not a string.
func (s ContentSource) MetaString(key string) string {
	v, ok := s.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(str)
}

// MetaBool reports a boolean metadata value and whether it was present and well-typed.
func (s ContentSource) MetaBool(key string) (bool, bool) {
	v, ok := s.Metadata[key]
	if !ok || v == nil {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

// MetaInt reports an integer metadata value. JSON numbers decode as float64.
func (s ContentSource) MetaInt(key string) (int, bool) {
	v, ok := s.Metadata[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// SportHint is the operator-declared sport for this source, if any.
func (s ContentSource) SportHint() string {
	return NormalizeSport(s.MetaString("sport"))
}

// AllowsVideo reports whether documents from this source may enter the video sub-pipeline.
// An explicit allow_video flag wins; otherwise only the video-search provider opts in.
func (s ContentSource) AllowsVideo() bool {
	if allowed, ok := s.MetaBool("allow_video"); ok {
		return allowed
	}
	return s.SourceType == SourceYouTube
}

// CollectedDocument is the normalized shape every collector strategy produces.
type CollectedDocument struct {
	ExternalID  string
	URL         string
	Title       string
	Description string
	Author      string
	PublishedAt *time.Time
	Sport       string
	Language    string
	Raw         json.RawMessage
	Confidence  float64
}

// ProcessingState tracks a SourceDocument through the pipeline.
type ProcessingState string

// Document processing states.
const (
	StateCollected  ProcessingState = "collected"
	StateExtracted  ProcessingState = "extracted"
	StateDiscarded  ProcessingState = "discarded"
	StateError      ProcessingState = "error"
	StateQueued     ProcessingState = "queued"
	StateNormalized ProcessingState = "normalized"
	StatePublished  ProcessingState = "published"
)

// SourceDocument is a persisted CollectedDocument, unique per fingerprint.
type SourceDocument struct {
	ID          string
	SourceID    string
	SourceType  SourceType
	ExternalID  string
	URL         string
	Title       string
	Description string
	Author      string
	PublishedAt *time.Time
	Sport       string
	Language    string
	Raw         json.RawMessage
	Confidence  float64
	Fingerprint string
	State       ProcessingState
	StateReason string
	CollectedAt time.Time
	UpdatedAt   time.Time
}

// Attribution describes where a document came from, for provenance on proposals and entities.
func (d SourceDocument) Attribution() Attribution {
	return Attribution{
		DocumentID: d.ID,
		URL:        d.URL,
		Title:      d.Title,
		SourceType: string(d.SourceType),
		Author:     d.Author,
	}
}

// VideoState tracks one video through the extraction sub-pipeline.
type VideoState string

// Video ingest states.
const (
	VideoPending      VideoState = "pending"
	VideoDownloading  VideoState = "downloading"
	VideoTranscribing VideoState = "transcribing"
	VideoAnalyzing    VideoState = "analyzing"
	VideoCompleted    VideoState = "completed"
	VideoSkipped      VideoState = "skipped"
	VideoFailed       VideoState = "failed"
)

// VideoIngest is the per-video extraction record.
type VideoIngest struct {
	ID              string
	DocumentID      string
	State           VideoState
	DurationSeconds int
	Channel         string
	Transcript      string
	Language        string
	Sport           string
	RelevanceScore  float64
	RelevanceReason string
	RoutineSummary  string
	AthleteMentions []string
	Confidence      float64
	ArtifactDir     string
	ErrorMessage    string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
	// DrillsPublishedAt is set once the events were promoted into the drill catalog.
	DrillsPublishedAt *time.Time
}

// TranscriptSegment is one timed span of a video transcript.
type TranscriptSegment struct {
	IngestID     string
	Index        int
	StartSeconds float64
	EndSeconds   float64
	Text         string
	Confidence   float64
}

// FrameDetection is a model observation tied to one sampled frame.
type FrameDetection struct {
	IngestID         string
	FrameIndex       int
	TimestampSeconds float64
	Label            string
	Description      string
	Confidence       float64
}

// ExerciseEvent is a timed exercise occurrence detected in a video.
type ExerciseEvent struct {
	ID              string
	IngestID        string
	StartSeconds    float64
	EndSeconds      float64
	Sport           string
	ExerciseName    string
	Sets            *int
	Reps            *int
	DurationSeconds *int
	RestSeconds     *int
	Confidence      float64
	Evidence        string
}

// AthleteMention is an athlete named by a document.
type AthleteMention struct {
	Name  string `json:"name"`
	Sport string `json:"sport,omitempty"`
}

// ExerciseMention is an exercise named by a document.
type ExerciseMention struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Sport    string `json:"sport,omitempty"`
}

// Extraction methods recorded on signals.
const (
	MethodVideo     = "video"
	MethodText      = "text_model"
	MethodHeuristic = "heuristic"
)

// SignalVersion is the current extraction version; reruns overwrite the same (document, version) row.
const SignalVersion = "v1"

// ExtractedSignal is the structured training signal derived from one document.
type ExtractedSignal struct {
	ID               string
	DocumentID       string
	Version          string
	Method           string
	Sport            string
	AthleteMentions  []AthleteMention
	ExerciseMentions []ExerciseMention
	RoutineSummary   string
	Payload          json.RawMessage
	Confidence       float64
	CreatedAt        time.Time
}

// QueueType classifies a moderation proposal.
type QueueType string

// Proposal types.
const (
	QueueAthlete         QueueType = "athlete"
	QueueExercise        QueueType = "exercise"
	QueueAthleteExercise QueueType = "athlete_exercise"
	QueueRoutine         QueueType = "routine"
)

// QueueStatus is the moderation decision state of a proposal.
type QueueStatus string

// Queue statuses.
const (
	QueuePending   QueueStatus = "pending"
	QueueApproved  QueueStatus = "approved"
	QueueRejected  QueueStatus = "rejected"
	QueuePublished QueueStatus = "published"
)

// ModerationQueueItem is a proposed mutation of the canonical store.
type ModerationQueueItem struct {
	ID           string
	DocumentID   string
	QueueType    QueueType
	ProposalKey  string
	Payload      json.RawMessage
	Attribution  []Attribution
	Confidence   float64
	Status       QueueStatus
	ReviewerNote string
	CreatedAt    time.Time
	ReviewedAt   *time.Time
	PublishedAt  *time.Time
}

// AthleteProposal is the payload of an athlete queue item.
type AthleteProposal struct {
	Name  string `json:"name"`
	Sport string `json:"sport"`
}

// ExerciseProposal is the payload of an exercise queue item.
type ExerciseProposal struct {
	Name        string `json:"name"`
	Sport       string `json:"sport"`
	Category    string `json:"category"`
	AthleteHint string `json:"athlete_hint,omitempty"`
}

// AthleteExerciseProposal is the payload of an athlete_exercise queue item.
type AthleteExerciseProposal struct {
	AthleteName  string `json:"athlete_name"`
	ExerciseName string `json:"exercise_name"`
	Sport        string `json:"sport"`
	Category     string `json:"category"`
}

// RoutineProposal is the payload of a routine queue item.
type RoutineProposal struct {
	Title     string   `json:"title"`
	Sport     string   `json:"sport"`
	Summary   string   `json:"summary,omitempty"`
	Steps     []string `json:"steps,omitempty"`
	Exercises []string `json:"exercises,omitempty"`
}

// Athlete is a canonical athlete.
type Athlete struct {
	ID          string
	Name        string
	Sport       string
	Attribution []Attribution
	Confidence  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Exercise is a canonical exercise.
type Exercise struct {
	ID          string
	Name        string
	Sport       string
	Category    string
	Attribution []Attribution
	Confidence  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AthleteExercise links an athlete to an exercise they perform.
type AthleteExercise struct {
	ID          string
	AthleteID   string
	ExerciseID  string
	Sport       string
	Attribution []Attribution
	Confidence  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Routine origins.
const (
	RoutineFromProposal = "proposal"
	RoutineFromVideo    = "video_auto"
)

// Routine is a canonical training routine.
type Routine struct {
	ID          string
	Title       string
	Sport       string
	Summary     string
	Steps       []string
	Exercises   []string
	Origin      string
	Attribution []Attribution
	Confidence  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Drill difficulty bands.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Drill is a public catalog entry promoted from detected exercise events.
type Drill struct {
	ID          string
	Key         string
	Name        string
	Sport       string
	Category    string
	Difficulty  string
	Evidence    string
	Attribution []Attribution
	Confidence  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Entity types recorded on PublishedRecord.
const (
	EntityAthlete         = "athlete"
	EntityExercise        = "exercise"
	EntityAthleteExercise = "athlete_exercise"
	EntityRoutine         = "routine"
)

// PublishedRecord links a queue item to the canonical record it produced. Unique on QueueItemID.
type PublishedRecord struct {
	ID          string
	QueueItemID string
	EntityType  string
	EntityID    string
	PublishedAt time.Time
}

// VideoEventBatch groups the exercise events of one completed video whose document has published proposals.
type VideoEventBatch struct {
	Ingest   VideoIngest
	Document SourceDocument
	Events   []ExerciseEvent
}

// DocumentQueueCounts summarizes the moderation state of one document's proposals.
type DocumentQueueCounts struct {
	Open      int
	Published int
	Rejected  int
}
