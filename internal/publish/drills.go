package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// Drill difficulty bands.
const (
	advancedAt     = 0.82
	intermediateAt = 0.62
)

// DrillKey is the deterministic catalog key of an exercise within a sport.
func DrillKey(sport, name string) string {
	return "drill:" + ingest.Slug(sport) + ":" + ingest.Slug(name)
}

// Difficulty maps a confidence to a band.
func Difficulty(confidence float64) string {
	switch {
	case ingest.AtLeast(confidence, advancedAt):
		return ingest.DifficultyAdvanced
	case ingest.AtLeast(confidence, intermediateAt):
		return ingest.DifficultyIntermediate
	default:
		return ingest.DifficultyBeginner
	}
}

func (u upserter) drill(ctx context.Context, batch ingest.VideoEventBatch, e ingest.ExerciseEvent) (ingest.Drill, bool, error) {
	name := strings.TrimSpace(e.ExerciseName)
	sport := ingest.FirstNonEmpty(ingest.NormalizeSport(e.Sport), ingest.NormalizeSport(batch.Ingest.Sport), ingest.NormalizeSport(batch.Document.Sport))
	if ingest.IsPlaceholderName(name) || sport == "" {
		return ingest.Drill{}, false, fmt.Errorf("%w: event %q without name or sport", ingest.ErrMalformed, e.ID)
	}
	key := DrillKey(sport, name)
	attribution := []ingest.Attribution{batch.Document.Attribution()}
	now := u.clock.Now()

	existing, err := u.repo.FindDrill(ctx, key)
	switch {
	case err == nil:
		existing.Attribution = ingest.MergeAttribution(existing.Attribution, attribution)
		existing.Confidence = ingest.MaxOf(existing.Confidence, e.Confidence)
		existing.Difficulty = Difficulty(existing.Confidence)
		existing.Evidence = ingest.FirstNonEmpty(existing.Evidence, e.Evidence)
		existing.UpdatedAt = now
		if err := u.repo.SaveDrill(ctx, existing); err != nil {
			return ingest.Drill{}, false, fmt.Errorf("save drill: %w", err)
		}
		return existing, false, nil
	case !errors.Is(err, ingest.ErrNotFound):
		return ingest.Drill{}, false, fmt.Errorf("find drill: %w", err)
	}
	id, err := u.newID()
	if err != nil {
		return ingest.Drill{}, false, err
	}
	confidence := ingest.ClampConfidence(e.Confidence)
	d := ingest.Drill{
		ID: id, Key: key, Name: name, Sport: sport,
		Category:    ingest.InferCategory(name),
		Difficulty:  Difficulty(confidence),
		Evidence:    e.Evidence,
		Attribution: attribution,
		Confidence:  confidence,
		CreatedAt:   now, UpdatedAt: now,
	}
	if err := u.repo.SaveDrill(ctx, d); err != nil {
		return ingest.Drill{}, false, fmt.Errorf("save drill: %w", err)
	}
	return d, true, nil
}

// videoRoutine groups the events of one video into a routine in playback order.
func videoRoutine(batch ingest.VideoEventBatch) ingest.Routine {
	sport := ingest.FirstNonEmpty(ingest.NormalizeSport(batch.Ingest.Sport), ingest.NormalizeSport(batch.Document.Sport))
	title := strings.TrimSpace(batch.Document.Title)
	if title == "" {
		title = "Video routine " + batch.Ingest.ID
	}
	steps := make([]string, 0, len(batch.Events))
	names := make([]string, 0, len(batch.Events))
	for _, e := range batch.Events {
		name := strings.TrimSpace(e.ExerciseName)
		if ingest.IsPlaceholderName(name) {
			continue
		}
		steps = append(steps, stepText(e))
		names = append(names, name)
	}
	return ingest.Routine{
		Title:       title,
		Sport:       sport,
		Summary:     batch.Ingest.RoutineSummary,
		Steps:       steps,
		Exercises:   names,
		Origin:      ingest.RoutineFromVideo,
		Attribution: []ingest.Attribution{batch.Document.Attribution()},
		Confidence:  batch.Ingest.Confidence,
	}
}

// stepText renders "Sprawls: 3x10, 30s rest @ 0:10".
func stepText(e ingest.ExerciseEvent) string {
	var parts []string
	switch {
	case e.Sets != nil && e.Reps != nil:
		parts = append(parts, fmt.Sprintf("%dx%d", *e.Sets, *e.Reps))
	case e.Reps != nil:
		parts = append(parts, fmt.Sprintf("%d reps", *e.Reps))
	case e.Sets != nil:
		parts = append(parts, fmt.Sprintf("%d sets", *e.Sets))
	}
	if e.DurationSeconds != nil {
		parts = append(parts, fmt.Sprintf("%ds", *e.DurationSeconds))
	}
	if e.RestSeconds != nil {
		parts = append(parts, fmt.Sprintf("%ds rest", *e.RestSeconds))
	}
	out := strings.TrimSpace(e.ExerciseName)
	if len(parts) > 0 {
		out += ": " + strings.Join(parts, ", ")
	}
	start := int(e.StartSeconds)
	return fmt.Sprintf("%s @ %d:%02d", out, start/60, start%60)
}
