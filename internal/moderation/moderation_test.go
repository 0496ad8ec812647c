package moderation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest/ingesttest"
	"github.com/JakeFAU/combat-training-ingest/internal/storage/memory"
)

var queueNow = time.Date(2025, 4, 3, 12, 0, 0, 0, time.UTC)

const strengthTitle = "Elite Wrestling Strength Workout: Squats and Pull-ups"

func strengthDoc() ingest.SourceDocument {
	return ingest.SourceDocument{
		ID:          "doc-1",
		SourceID:    "src-1",
		SourceType:  ingest.SourceFeed,
		URL:         "https://gym.test/elite-strength",
		Title:       strengthTitle,
		Description: "Strength day.\n1. Back squats 5x5\n2) Pull-ups to failure\n- Farmer carries\nCool down after.",
		Fingerprint: "fp-1",
		State:       ingest.StateExtracted,
		CollectedAt: queueNow,
	}
}

func strengthSignal() ingest.ExtractedSignal {
	return ingest.ExtractedSignal{
		DocumentID: "doc-1",
		Version:    ingest.SignalVersion,
		Method:     ingest.MethodHeuristic,
		Sport:      ingest.SportWrestling,
		ExerciseMentions: []ingest.ExerciseMention{
			{Name: "Squats", Category: ingest.CategoryLegs},
			{Name: "Pull-ups", Category: ingest.CategoryBack},
		},
		Confidence: 0.8,
	}
}

func TestDeriveStrengthWorkout(t *testing.T) {
	t.Parallel()

	proposals := Derive(strengthDoc(), strengthSignal())
	require.Len(t, proposals, 3)
	for _, p := range proposals {
		assert.NotEqual(t, ingest.QueueAthleteExercise, p.Type, "links need a named athlete")
	}

	assert.Equal(t, ingest.QueueExercise, proposals[0].Type)
	assert.Equal(t, "squats", proposals[0].Key)
	assert.Equal(t, ingest.ExerciseProposal{Name: "Squats", Sport: ingest.SportWrestling, Category: ingest.CategoryLegs}, proposals[0].Payload)
	assert.InDelta(t, 0.78, proposals[0].Confidence, 1e-9)

	assert.Equal(t, "pull-ups", proposals[1].Key)
	assert.Equal(t, ingest.CategoryBack, proposals[1].Payload.(ingest.ExerciseProposal).Category)

	routine := proposals[2]
	assert.Equal(t, ingest.QueueRoutine, routine.Type)
	assert.Equal(t, "elite-wrestling-strength-workout-squats-and-pull-ups", routine.Key)
	assert.InDelta(t, 0.77, routine.Confidence, 1e-9)
	payload := routine.Payload.(ingest.RoutineProposal)
	assert.Equal(t, strengthTitle, payload.Title)
	assert.Equal(t, []string{"Back squats 5x5", "Pull-ups to failure", "Farmer carries"}, payload.Steps)
	assert.Equal(t, []string{"Squats", "Pull-ups"}, payload.Exercises)
}

func TestDeriveAthletesAndLinks(t *testing.T) {
	t.Parallel()

	sig := strengthSignal()
	sig.AthleteMentions = []ingest.AthleteMention{
		{Name: "David Taylor"},
		{Name: "the coach"},
		{Name: "david taylor"},
		{Name: "Mijaín López", Sport: "greco roman"},
	}
	proposals := Derive(strengthDoc(), sig)

	byType := map[ingest.QueueType][]Proposal{}
	for _, p := range proposals {
		byType[p.Type] = append(byType[p.Type], p)
	}
	require.Len(t, byType[ingest.QueueAthlete], 2, "placeholders and repeats are dropped")
	assert.Equal(t, "mijain-lopez", byType[ingest.QueueAthlete][1].Key)
	assert.InDelta(t, 0.8, byType[ingest.QueueAthlete][0].Confidence, 1e-9)

	assert.Equal(t, "David Taylor", byType[ingest.QueueExercise][0].Payload.(ingest.ExerciseProposal).AthleteHint)

	links := byType[ingest.QueueAthleteExercise]
	require.Len(t, links, 4)
	assert.Equal(t, "david-taylor--squats", links[0].Key)
	assert.InDelta(t, 0.75, links[0].Confidence, 1e-9)
}

func TestDeriveBoundsLinkFanOut(t *testing.T) {
	t.Parallel()

	sig := ingest.ExtractedSignal{Sport: ingest.SportBoxing, Confidence: 0.9}
	for _, n := range []string{"Ali", "Frazier", "Foreman", "Holmes", "Norton", "Spinks"} {
		sig.AthleteMentions = append(sig.AthleteMentions, ingest.AthleteMention{Name: "Coach " + n})
	}
	for _, n := range []string{"Jab", "Cross", "Hook", "Uppercut", "Slip", "Roll", "Pivot", "Step"} {
		sig.ExerciseMentions = append(sig.ExerciseMentions, ingest.ExerciseMention{Name: n + " drill"})
	}
	links := 0
	for _, p := range Derive(ingest.SourceDocument{ID: "d", Title: "Boxing"}, sig) {
		if p.Type == ingest.QueueAthleteExercise {
			links++
		}
	}
	assert.Equal(t, 24, links)
}

func TestDeriveWithoutSportOrContent(t *testing.T) {
	t.Parallel()

	sig := ingest.ExtractedSignal{
		AthleteMentions:  []ingest.AthleteMention{{Name: "Someone Famous"}},
		ExerciseMentions: []ingest.ExerciseMention{{Name: "Burpees"}},
		Confidence:       0.9,
	}
	doc := ingest.SourceDocument{ID: "d", Title: "Morning routine"}
	proposals := Derive(doc, sig)
	assert.Empty(t, proposals, "mentions without a resolvable sport and no steps or summary yield nothing")

	sig.RoutineSummary = "Ten minutes of burpees."
	proposals = Derive(doc, sig)
	require.Len(t, proposals, 1)
	assert.Equal(t, ingest.QueueRoutine, proposals[0].Type)
}

func TestDeriveIsStable(t *testing.T) {
	t.Parallel()

	first := Derive(strengthDoc(), strengthSignal())
	second := Derive(strengthDoc(), strengthSignal())
	assert.Equal(t, first, second)
}

func TestRoutineSteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "numbered", in: "1. Jump rope\n2. Shadowbox", want: []string{"Jump rope", "Shadowbox"}},
		{name: "bullets", in: "* Sprawls\n• Stance work", want: []string{"Sprawls", "Stance work"}},
		{name: "prose", in: "We start with sprawls and finish with sprints.", want: nil},
		{name: "year is not a step", in: "2024 season recap", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RoutineSteps(tt.in))
		})
	}

	var many string
	for range 20 {
		many += "- step\n"
	}
	assert.Len(t, RoutineSteps(many), maxRoutineSteps)
}

func seedExtracted(t *testing.T, store *memory.Store, doc ingest.SourceDocument, sig ingest.ExtractedSignal) {
	t.Helper()
	ctx := context.Background()
	doc.State = ingest.StateCollected
	require.NoError(t, store.InsertDocument(ctx, doc))
	require.NoError(t, store.UpdateDocumentState(ctx, doc.ID, ingest.StateExtracted, "heuristic", queueNow))
	require.NoError(t, store.UpsertSignal(ctx, sig))
}

func TestStageQueuesProposals(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	seedExtracted(t, store, strengthDoc(), strengthSignal())

	// A proposal already present from an earlier run is not inserted again.
	inserted, err := store.InsertQueueItem(ctx, ingest.ModerationQueueItem{
		ID: "existing", DocumentID: "doc-1", QueueType: ingest.QueueExercise, ProposalKey: "squats",
		Status: ingest.QueuePending, Confidence: 0.78, CreatedAt: queueNow.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.True(t, inserted)

	stage := NewStage(store, ingesttest.NewClock(queueNow), ingesttest.NewIDs("q"), nil)
	counters, err := stage.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Processed)
	assert.Equal(t, 2, counters.Created)
	assert.Equal(t, 1, counters.Skipped)
	assert.Equal(t, 1, counters.Extra["routine"])

	items, err := store.ListQueueItems(ctx, ingest.QueuePending, 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	routine := items[2]
	assert.Equal(t, ingest.QueueRoutine, routine.QueueType)
	assert.Equal(t, []ingest.Attribution{strengthDoc().Attribution()}, routine.Attribution)
	var payload ingest.RoutineProposal
	require.NoError(t, json.Unmarshal(routine.Payload, &payload))
	assert.Equal(t, strengthTitle, payload.Title)

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ingest.StateQueued, doc.State)

	counters, err = stage.Run(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, counters.Processed)
}

func TestStageNormalizesEmptyAndFailsMissingSignal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	seedExtracted(t, store, ingest.SourceDocument{ID: "empty", URL: "https://a.test", Title: "Fight recap", Fingerprint: "a"},
		ingest.ExtractedSignal{DocumentID: "empty", Version: ingest.SignalVersion, Confidence: 0.4})
	require.NoError(t, store.InsertDocument(ctx, ingest.SourceDocument{ID: "orphan", URL: "https://b.test", Fingerprint: "b", State: ingest.StateCollected}))
	require.NoError(t, store.UpdateDocumentState(ctx, "orphan", ingest.StateExtracted, "", queueNow))

	stage := NewStage(store, ingesttest.NewClock(queueNow), ingesttest.NewIDs("q"), nil)
	counters, err := stage.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, counters.Processed)
	assert.Equal(t, 1, counters.Failed)

	empty, err := store.GetDocument(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, ingest.StateNormalized, empty.State)
	orphan, err := store.GetDocument(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, ingest.StateError, orphan.State)
}
