package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// upserter writes canonical records. Every method returns the entity ID and whether it was new.
type upserter struct {
	repo  ingest.CatalogRepository
	clock ingest.Clock
	ids   ingest.IDGenerator
}

func decode[T any](item ingest.ModerationQueueItem) (T, error) {
	var payload T
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w: %w", item.QueueType, ingest.ErrMalformed, err)
	}
	return payload, nil
}

func requireSport(raw string) (string, error) {
	sport := ingest.NormalizeSport(raw)
	if sport == "" {
		return "", fmt.Errorf("%w: unknown sport %q", ingest.ErrMalformed, raw)
	}
	return sport, nil
}

func (u upserter) apply(ctx context.Context, item ingest.ModerationQueueItem) (string, string, bool, error) {
	switch item.QueueType {
	case ingest.QueueAthlete:
		p, err := decode[ingest.AthleteProposal](item)
		if err != nil {
			return "", "", false, err
		}
		sport, err := requireSport(p.Sport)
		if err != nil {
			return "", "", false, err
		}
		id, created, err := u.athlete(ctx, p.Name, sport, item.Attribution, item.Confidence)
		return ingest.EntityAthlete, id, created, err
	case ingest.QueueExercise:
		p, err := decode[ingest.ExerciseProposal](item)
		if err != nil {
			return "", "", false, err
		}
		sport, err := requireSport(p.Sport)
		if err != nil {
			return "", "", false, err
		}
		id, created, err := u.exercise(ctx, p.Name, sport, p.Category, item.Attribution, item.Confidence)
		return ingest.EntityExercise, id, created, err
	case ingest.QueueAthleteExercise:
		p, err := decode[ingest.AthleteExerciseProposal](item)
		if err != nil {
			return "", "", false, err
		}
		id, created, err := u.link(ctx, p, item.Attribution, item.Confidence)
		return ingest.EntityAthleteExercise, id, created, err
	case ingest.QueueRoutine:
		p, err := decode[ingest.RoutineProposal](item)
		if err != nil {
			return "", "", false, err
		}
		id, created, err := u.routine(ctx, ingest.Routine{
			Title:       p.Title,
			Sport:       ingest.NormalizeSport(p.Sport),
			Summary:     p.Summary,
			Steps:       p.Steps,
			Exercises:   p.Exercises,
			Origin:      ingest.RoutineFromProposal,
			Attribution: item.Attribution,
			Confidence:  item.Confidence,
		})
		return ingest.EntityRoutine, id, created, err
	default:
		return "", "", false, fmt.Errorf("%w: unknown queue type %q", ingest.ErrMalformed, item.QueueType)
	}
}

func (u upserter) newID() (string, error) {
	id, err := u.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("allocate id: %w", err)
	}
	return id, nil
}

func (u upserter) athlete(ctx context.Context, name, sport string, attribution []ingest.Attribution, confidence float64) (string, bool, error) {
	name = strings.TrimSpace(name)
	if ingest.IsPlaceholderName(name) {
		return "", false, fmt.Errorf("%w: athlete name %q", ingest.ErrMalformed, name)
	}
	now := u.clock.Now()
	existing, err := u.repo.FindAthlete(ctx, name, sport)
	switch {
	case err == nil:
		existing.Attribution = ingest.MergeAttribution(existing.Attribution, attribution)
		existing.Confidence = ingest.MaxOf(existing.Confidence, confidence)
		existing.UpdatedAt = now
		if err := u.repo.SaveAthlete(ctx, existing); err != nil {
			return "", false, fmt.Errorf("save athlete: %w", err)
		}
		return existing.ID, false, nil
	case !errors.Is(err, ingest.ErrNotFound):
		return "", false, fmt.Errorf("find athlete: %w", err)
	}
	id, err := u.newID()
	if err != nil {
		return "", false, err
	}
	a := ingest.Athlete{
		ID: id, Name: name, Sport: sport,
		Attribution: ingest.MergeAttribution(nil, attribution),
		Confidence:  ingest.ClampConfidence(confidence),
		CreatedAt:   now, UpdatedAt: now,
	}
	if err := u.repo.SaveAthlete(ctx, a); err != nil {
		return "", false, fmt.Errorf("save athlete: %w", err)
	}
	return id, true, nil
}

func (u upserter) exercise(ctx context.Context, name, sport, category string, attribution []ingest.Attribution, confidence float64) (string, bool, error) {
	name = strings.TrimSpace(name)
	if ingest.IsPlaceholderName(name) {
		return "", false, fmt.Errorf("%w: exercise name %q", ingest.ErrMalformed, name)
	}
	if !ingest.ValidCategory(category) {
		category = ingest.InferCategory(name)
	}
	now := u.clock.Now()
	existing, err := u.repo.FindExercise(ctx, name, sport)
	switch {
	case err == nil:
		existing.Attribution = ingest.MergeAttribution(existing.Attribution, attribution)
		existing.Confidence = ingest.MaxOf(existing.Confidence, confidence)
		existing.UpdatedAt = now
		if err := u.repo.SaveExercise(ctx, existing); err != nil {
			return "", false, fmt.Errorf("save exercise: %w", err)
		}
		return existing.ID, false, nil
	case !errors.Is(err, ingest.ErrNotFound):
		return "", false, fmt.Errorf("find exercise: %w", err)
	}
	id, err := u.newID()
	if err != nil {
		return "", false, err
	}
	e := ingest.Exercise{
		ID: id, Name: name, Sport: sport, Category: category,
		Attribution: ingest.MergeAttribution(nil, attribution),
		Confidence:  ingest.ClampConfidence(confidence),
		CreatedAt:   now, UpdatedAt: now,
	}
	if err := u.repo.SaveExercise(ctx, e); err != nil {
		return "", false, fmt.Errorf("save exercise: %w", err)
	}
	return id, true, nil
}

// FallbackAthleteName stands in for an unnamed athlete on links.
func FallbackAthleteName(sport string) string {
	return ingest.DisplayName(sport) + " Athlete"
}

func (u upserter) link(ctx context.Context, p ingest.AthleteExerciseProposal, attribution []ingest.Attribution, confidence float64) (string, bool, error) {
	sport, err := requireSport(p.Sport)
	if err != nil {
		return "", false, err
	}
	athleteName := p.AthleteName
	if ingest.IsPlaceholderName(athleteName) {
		athleteName = FallbackAthleteName(sport)
	}
	athleteID, _, err := u.athlete(ctx, athleteName, sport, attribution, confidence)
	if err != nil {
		return "", false, fmt.Errorf("ensure athlete: %w", err)
	}
	exerciseID, _, err := u.exercise(ctx, p.ExerciseName, sport, p.Category, attribution, confidence)
	if err != nil {
		return "", false, fmt.Errorf("ensure exercise: %w", err)
	}

	now := u.clock.Now()
	existing, err := u.repo.FindAthleteExercise(ctx, athleteID, exerciseID)
	switch {
	case err == nil:
		existing.Attribution = ingest.MergeAttribution(existing.Attribution, attribution)
		existing.Confidence = ingest.MaxOf(existing.Confidence, confidence)
		existing.UpdatedAt = now
		if err := u.repo.SaveAthleteExercise(ctx, existing); err != nil {
			return "", false, fmt.Errorf("save athlete exercise: %w", err)
		}
		return existing.ID, false, nil
	case !errors.Is(err, ingest.ErrNotFound):
		return "", false, fmt.Errorf("find athlete exercise: %w", err)
	}
	id, err := u.newID()
	if err != nil {
		return "", false, err
	}
	l := ingest.AthleteExercise{
		ID: id, AthleteID: athleteID, ExerciseID: exerciseID, Sport: sport,
		Attribution: ingest.MergeAttribution(nil, attribution),
		Confidence:  ingest.ClampConfidence(confidence),
		CreatedAt:   now, UpdatedAt: now,
	}
	if err := u.repo.SaveAthleteExercise(ctx, l); err != nil {
		return "", false, fmt.Errorf("save athlete exercise: %w", err)
	}
	return id, true, nil
}

// routine upserts by (title, sport). Existing steps and summary are kept; exercise lists are unioned.
func (u upserter) routine(ctx context.Context, r ingest.Routine) (string, bool, error) {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return "", false, fmt.Errorf("%w: routine without title", ingest.ErrMalformed)
	}
	now := u.clock.Now()
	existing, err := u.repo.FindRoutine(ctx, r.Title, r.Sport)
	switch {
	case err == nil:
		existing.Attribution = ingest.MergeAttribution(existing.Attribution, r.Attribution)
		existing.Confidence = ingest.MaxOf(existing.Confidence, r.Confidence)
		existing.Summary = ingest.FirstNonEmpty(existing.Summary, r.Summary)
		if len(existing.Steps) == 0 {
			existing.Steps = r.Steps
		}
		existing.Exercises = unionNames(existing.Exercises, r.Exercises)
		existing.UpdatedAt = now
		if err := u.repo.SaveRoutine(ctx, existing); err != nil {
			return "", false, fmt.Errorf("save routine: %w", err)
		}
		return existing.ID, false, nil
	case !errors.Is(err, ingest.ErrNotFound):
		return "", false, fmt.Errorf("find routine: %w", err)
	}
	id, err := u.newID()
	if err != nil {
		return "", false, err
	}
	r.ID = id
	r.Attribution = ingest.MergeAttribution(nil, r.Attribution)
	r.Exercises = unionNames(nil, r.Exercises)
	r.Confidence = ingest.ClampConfidence(r.Confidence)
	r.CreatedAt, r.UpdatedAt = now, now
	if err := u.repo.SaveRoutine(ctx, r); err != nil {
		return "", false, fmt.Errorf("save routine: %w", err)
	}
	return id, true, nil
}

func unionNames(existing, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming))
	seen := map[string]struct{}{}
	for _, list := range [][]string{existing, incoming} {
		for _, name := range list {
			key := ingest.Slug(name)
			if _, dup := seen[key]; dup || key == "" {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
