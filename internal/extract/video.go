package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
	"github.com/JakeFAU/combat-training-ingest/internal/llm"
	"github.com/JakeFAU/combat-training-ingest/internal/media"
	"github.com/JakeFAU/combat-training-ingest/internal/transcribe"
)

// Video confidence weights.
const (
	eventWeight     = 0.7
	relevanceWeight = 0.3
)

// VideoOptions tunes the video sub-pipeline.
type VideoOptions struct {
	Model         string
	MaxSeconds    int
	RelevanceMin  float64
	KeepArtifacts bool
}

// VideoExtractor runs the download, transcribe, and analyze steps for one video document.
type VideoExtractor struct {
	repo        ingest.VideoRepository
	tools       MediaTools
	transcriber Transcriber
	analyzer    Analyzer
	workspace   *media.Workspace
	archive     Archiver
	clock       ingest.Clock
	ids         ingest.IDGenerator
	opts        VideoOptions
	logger      *zap.Logger
}

// VideoDeps groups the collaborators of a VideoExtractor.
type VideoDeps struct {
	Repo        ingest.VideoRepository
	Tools       MediaTools
	Transcriber Transcriber
	Analyzer    Analyzer
	Workspace   *media.Workspace
	// Archive may be nil, in which case nothing is kept after a purge.
	Archive Archiver
	Clock   ingest.Clock
	IDs     ingest.IDGenerator
}

// NewVideoExtractor builds the video path.
func NewVideoExtractor(deps VideoDeps, opts VideoOptions, logger *zap.Logger) *VideoExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VideoExtractor{
		repo:        deps.Repo,
		tools:       deps.Tools,
		transcriber: deps.Transcriber,
		analyzer:    deps.Analyzer,
		workspace:   deps.Workspace,
		archive:     deps.Archive,
		clock:       deps.Clock,
		ids:         deps.IDs,
		opts:        opts,
		logger:      logger,
	}
}

// Preflight verifies media tooling and model credentials.
func (v *VideoExtractor) Preflight() error {
	return multierr.Combine(v.tools.Preflight(), v.transcriber.Preflight(), v.analyzer.Preflight())
}

// run tracks one ingest record through its state machine.
type run struct {
	v      *VideoExtractor
	rec    ingest.VideoIngest
	logger *zap.Logger
}

func (r *run) advance(ctx context.Context, to ingest.VideoState) error {
	if r.rec.State != to && !ingest.CanAdvanceVideo(r.rec.State, to) {
		return fmt.Errorf("%w: video %s -> %s", ingest.ErrInvalidTransition, r.rec.State, to)
	}
	now := r.v.clock.Now()
	r.rec.State = to
	r.rec.UpdatedAt = now
	if to.IsTerminal() {
		r.rec.CompletedAt = &now
	}
	if err := r.v.repo.SaveVideoIngest(ctx, r.rec); err != nil {
		return fmt.Errorf("save video ingest: %w", err)
	}
	return nil
}

// Extract runs the sub-pipeline. Any failure marks the ingest failed and is returned.
func (v *VideoExtractor) Extract(ctx context.Context, doc ingest.SourceDocument, src ingest.ContentSource) (Outcome, error) {
	r, reuse, err := v.begin(ctx, doc)
	if err != nil {
		return Outcome{}, err
	}
	if reuse != nil {
		return *reuse, nil
	}

	outcome, err := v.process(ctx, r, doc, src)
	if err != nil {
		r.rec.ErrorMessage = err.Error()
		if ferr := r.advance(ctx, ingest.VideoFailed); ferr != nil {
			r.logger.Warn("Failed to record video failure", zap.Error(ferr))
		}
		return Outcome{}, err
	}
	return outcome, nil
}

// begin loads or creates the ingest record. Completed and skipped ingests are not reprocessed.
func (v *VideoExtractor) begin(ctx context.Context, doc ingest.SourceDocument) (*run, *Outcome, error) {
	logger := v.logger.With(zap.String("doc_id", doc.ID))
	rec, err := v.repo.GetVideoIngest(ctx, doc.ID)
	switch {
	case errors.Is(err, ingest.ErrNotFound):
		id, idErr := v.ids.NewID()
		if idErr != nil {
			return nil, nil, fmt.Errorf("allocate ingest id: %w", idErr)
		}
		now := v.clock.Now()
		rec = ingest.VideoIngest{ID: id, DocumentID: doc.ID, State: ingest.VideoPending, StartedAt: &now, UpdatedAt: now}
		if err := v.repo.SaveVideoIngest(ctx, rec); err != nil {
			return nil, nil, fmt.Errorf("save video ingest: %w", err)
		}
	case err != nil:
		return nil, nil, fmt.Errorf("load video ingest: %w", err)
	}

	r := &run{v: v, rec: rec, logger: logger}
	switch rec.State {
	case ingest.VideoSkipped:
		out := discarded(rec.ErrorMessage)
		return nil, &out, nil
	case ingest.VideoCompleted:
		events, err := v.repo.ListExerciseEvents(ctx, rec.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("load exercise events: %w", err)
		}
		out := extracted(videoSignal(doc, rec, events, nil), false)
		return nil, &out, nil
	case ingest.VideoPending:
	default:
		// An interrupted ingest is closed out as failed; failed ingests restart at pending.
		if !rec.State.IsTerminal() {
			r.rec.ErrorMessage = "interrupted during " + string(rec.State)
			if err := r.advance(ctx, ingest.VideoFailed); err != nil {
				return nil, nil, err
			}
		}
		now := v.clock.Now()
		r.rec.ErrorMessage = ""
		r.rec.StartedAt = &now
		r.rec.CompletedAt = nil
		if err := r.advance(ctx, ingest.VideoPending); err != nil {
			return nil, nil, err
		}
	}
	return r, nil, nil
}

func (v *VideoExtractor) process(ctx context.Context, r *run, doc ingest.SourceDocument, src ingest.ContentSource) (Outcome, error) {
	meta, err := v.tools.Probe(ctx, doc.URL)
	if err != nil {
		return Outcome{}, err
	}
	r.rec.DurationSeconds = meta.DurationSeconds
	r.rec.Channel = ingest.FirstNonEmpty(meta.Channel, doc.Author)
	if v.opts.MaxSeconds > 0 && meta.DurationSeconds > v.opts.MaxSeconds {
		reason := fmt.Sprintf("duration %ds exceeds %ds", meta.DurationSeconds, v.opts.MaxSeconds)
		r.rec.ErrorMessage = reason
		if err := r.advance(ctx, ingest.VideoSkipped); err != nil {
			return Outcome{}, err
		}
		r.logger.Info("Video skipped", zap.String("reason", reason))
		return discarded(reason), nil
	}

	if err := r.advance(ctx, ingest.VideoDownloading); err != nil {
		return Outcome{}, err
	}
	dir, err := v.workspace.Acquire(doc.ID)
	if err != nil {
		return Outcome{}, err
	}
	defer func() {
		if rerr := dir.Release(); rerr != nil {
			r.logger.Warn("Failed to release artifact dir", zap.Error(rerr))
		}
	}()
	r.rec.ArtifactDir = dir.Path

	arts, err := v.tools.Download(ctx, doc.URL, dir.Path)
	if err != nil {
		return Outcome{}, err
	}
	frames, err := v.tools.SampleFrames(ctx, arts.Video, dir.Path)
	if err != nil {
		return Outcome{}, err
	}

	if err := r.advance(ctx, ingest.VideoTranscribing); err != nil {
		return Outcome{}, err
	}
	transcript, err := v.transcriber.Transcribe(ctx, arts.Audio)
	if err != nil {
		return Outcome{}, err
	}
	r.rec.Transcript = transcript.Text
	r.rec.Language = transcript.Language
	if err := v.repo.ReplaceTranscriptSegments(ctx, r.rec.ID, segmentRows(r.rec.ID, transcript)); err != nil {
		return Outcome{}, fmt.Errorf("replace transcript segments: %w", err)
	}

	if err := r.advance(ctx, ingest.VideoAnalyzing); err != nil {
		return Outcome{}, err
	}
	images, err := loadFrames(frames)
	if err != nil {
		return Outcome{}, err
	}
	sportHint := ingest.FirstNonEmpty(src.SportHint(), doc.Sport)
	analysis, err := v.analyzer.AnalyzeVideo(ctx, v.opts.Model, llm.VideoInput{
		Title:       doc.Title,
		Description: doc.Description,
		Channel:     r.rec.Channel,
		SportHint:   sportHint,
		Transcript:  transcript.Text,
		Frames:      images,
	})
	if err != nil {
		return Outcome{}, err
	}
	if err := v.repo.ReplaceFrameDetections(ctx, r.rec.ID, detectionRows(r.rec.ID, frames, analysis)); err != nil {
		return Outcome{}, fmt.Errorf("replace frame detections: %w", err)
	}
	events, err := v.eventRows(r.rec.ID, analysis)
	if err != nil {
		return Outcome{}, err
	}
	if err := v.repo.ReplaceExerciseEvents(ctx, r.rec.ID, events); err != nil {
		return Outcome{}, fmt.Errorf("replace exercise events: %w", err)
	}

	r.rec.Sport = ingest.FirstNonEmpty(analysis.Sport, ingest.NormalizeSport(sportHint))
	r.rec.RelevanceScore = analysis.RelevanceScore
	r.rec.RelevanceReason = analysis.RelevanceReason
	r.rec.RoutineSummary = analysis.RoutineSummary
	r.rec.AthleteMentions = athleteNames(analysis.Athletes)

	if analysis.RelevanceScore < v.opts.RelevanceMin {
		reason := fmt.Sprintf("relevance %.2f below %.2f: %s", analysis.RelevanceScore, v.opts.RelevanceMin, analysis.RelevanceReason)
		r.rec.ErrorMessage = reason
		if err := r.advance(ctx, ingest.VideoSkipped); err != nil {
			return Outcome{}, err
		}
		v.finishArtifacts(ctx, r, dir, transcript, analysis)
		return discarded(reason), nil
	}

	r.rec.Confidence = VideoConfidence(events, analysis.RelevanceScore)
	if err := r.advance(ctx, ingest.VideoCompleted); err != nil {
		return Outcome{}, err
	}
	v.finishArtifacts(ctx, r, dir, transcript, analysis)
	return extracted(videoSignal(doc, r.rec, events, &analysis), false), nil
}

// finishArtifacts archives the extraction record and purges the working directory unless retained.
func (v *VideoExtractor) finishArtifacts(ctx context.Context, r *run, dir *media.Dir, transcript transcribe.Transcript, analysis llm.Analysis) {
	if v.opts.KeepArtifacts {
		return
	}
	if v.archive != nil {
		for name, body := range map[string]any{"transcript.json": transcript, "analysis.json": analysis} {
			data, err := json.MarshalIndent(body, "", "  ")
			if err != nil {
				continue
			}
			key := path.Join("video", r.rec.DocumentID, name)
			if _, err := v.archive.PutObject(ctx, key, "application/json", bytes.NewReader(data)); err != nil {
				r.logger.Warn("Failed to archive artifact", zap.String("object", key), zap.Error(err))
			}
		}
	}
	if err := dir.Purge(); err != nil {
		r.logger.Warn("Failed to purge artifact dir", zap.Error(err))
	}
}

// VideoConfidence blends the mean event confidence with relevance. Without events only the
// relevance term contributes.
func VideoConfidence(events []ingest.ExerciseEvent, relevance float64) float64 {
	mean := 0.0
	if len(events) > 0 {
		for _, e := range events {
			mean += e.Confidence
		}
		mean /= float64(len(events))
	}
	return ingest.ClampConfidence(eventWeight*mean + relevanceWeight*relevance)
}

func segmentRows(ingestID string, t transcribe.Transcript) []ingest.TranscriptSegment {
	rows := make([]ingest.TranscriptSegment, 0, len(t.Segments))
	for i, s := range t.Segments {
		rows = append(rows, ingest.TranscriptSegment{
			IngestID:     ingestID,
			Index:        i,
			StartSeconds: s.StartSeconds,
			EndSeconds:   s.EndSeconds,
			Text:         s.Text,
			Confidence:   s.Confidence,
		})
	}
	return rows
}

func detectionRows(ingestID string, frames []media.Frame, a llm.Analysis) []ingest.FrameDetection {
	rows := make([]ingest.FrameDetection, 0, len(a.Frames))
	for _, d := range a.Frames {
		if d.FrameIndex < 0 || d.FrameIndex >= len(frames) {
			continue
		}
		rows = append(rows, ingest.FrameDetection{
			IngestID:         ingestID,
			FrameIndex:       d.FrameIndex,
			TimestampSeconds: frames[d.FrameIndex].TimestampSeconds,
			Label:            d.Label,
			Description:      d.Description,
			Confidence:       d.Confidence,
		})
	}
	return rows
}

func (v *VideoExtractor) eventRows(ingestID string, a llm.Analysis) ([]ingest.ExerciseEvent, error) {
	rows := make([]ingest.ExerciseEvent, 0, len(a.Events))
	for _, e := range a.Events {
		id, err := v.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("allocate event id: %w", err)
		}
		rows = append(rows, ingest.ExerciseEvent{
			ID:              id,
			IngestID:        ingestID,
			StartSeconds:    e.StartSeconds,
			EndSeconds:      e.EndSeconds,
			Sport:           ingest.FirstNonEmpty(e.Sport, a.Sport),
			ExerciseName:    e.ExerciseName,
			Sets:            e.Sets,
			Reps:            e.Reps,
			DurationSeconds: e.DurationSeconds,
			RestSeconds:     e.RestSeconds,
			Confidence:      e.Confidence,
			Evidence:        e.Evidence,
		})
	}
	return rows, nil
}

func loadFrames(frames []media.Frame) ([]llm.FrameImage, error) {
	out := make([]llm.FrameImage, 0, len(frames))
	for _, f := range frames {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("read frame %d: %w", f.Index, err)
		}
		out = append(out, llm.FrameImage{Index: f.Index, TimestampSeconds: f.TimestampSeconds, JPEG: data})
	}
	return out, nil
}

func athleteNames(mentions []ingest.AthleteMention) []string {
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, m.Name)
	}
	return out
}

// videoSignal builds the signal of a completed ingest. analysis is nil when an earlier completed
// ingest is reused.
func videoSignal(doc ingest.SourceDocument, rec ingest.VideoIngest, events []ingest.ExerciseEvent, analysis *llm.Analysis) ingest.ExtractedSignal {
	sport := ingest.FirstNonEmpty(rec.Sport, doc.Sport)
	athletes := make([]ingest.AthleteMention, 0, len(rec.AthleteMentions))
	for _, name := range rec.AthleteMentions {
		athletes = append(athletes, ingest.AthleteMention{Name: name, Sport: sport})
	}
	var exercises []ingest.ExerciseMention
	seen := map[string]struct{}{}
	for _, e := range events {
		key := ingest.Slug(e.ExerciseName)
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		exercises = append(exercises, ingest.ExerciseMention{
			Name:     strings.TrimSpace(e.ExerciseName),
			Category: ingest.InferCategory(e.ExerciseName),
			Sport:    ingest.FirstNonEmpty(e.Sport, sport),
		})
	}

	payload := map[string]any{
		"method":            ingest.MethodVideo,
		"ingest_id":         rec.ID,
		"duration_seconds":  rec.DurationSeconds,
		"channel":           rec.Channel,
		"relevance_score":   rec.RelevanceScore,
		"relevance_reason":  rec.RelevanceReason,
		"exercise_events":   len(events),
		"transcript_length": len(rec.Transcript),
	}
	if analysis != nil {
		payload["analysis"] = analysis
	}
	raw, _ := json.Marshal(payload)
	return ingest.ExtractedSignal{
		DocumentID:       doc.ID,
		Version:          ingest.SignalVersion,
		Method:           ingest.MethodVideo,
		Sport:            sport,
		AthleteMentions:  athletes,
		ExerciseMentions: exercises,
		RoutineSummary:   rec.RoutineSummary,
		Payload:          raw,
		Confidence:       rec.Confidence,
	}
}
