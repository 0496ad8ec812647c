package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest/ingesttest"
	notifymemory "github.com/JakeFAU/combat-training-ingest/internal/notify/memory"
	"github.com/JakeFAU/combat-training-ingest/internal/storage/memory"
)

var publishNow = time.Date(2025, 4, 5, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	notifier *notifymemory.Publisher
	stage    *Stage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: memory.NewStore(), notifier: notifymemory.New()}
	f.stage = NewStage(f.store, f.notifier, ingesttest.NewClock(publishNow), ingesttest.NewIDs("p"), nil)
	return f
}

func (f *fixture) doc(t *testing.T, id string) ingest.SourceDocument {
	t.Helper()
	doc := ingest.SourceDocument{
		ID: id, SourceID: "src", SourceType: ingest.SourceFeed, URL: "https://gym.test/" + id,
		Title: "Workout " + id, Fingerprint: "fp-" + id, State: ingest.StateCollected, CollectedAt: publishNow,
	}
	require.NoError(t, f.store.InsertDocument(f.ctx, doc))
	for _, next := range []ingest.ProcessingState{ingest.StateExtracted, ingest.StateQueued} {
		require.NoError(t, f.store.UpdateDocumentState(f.ctx, id, next, "", publishNow))
	}
	doc.State = ingest.StateQueued
	return doc
}

func (f *fixture) item(t *testing.T, doc ingest.SourceDocument, id string, typ ingest.QueueType, key string, payload any, confidence float64, status ingest.QueueStatus) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	inserted, err := f.store.InsertQueueItem(f.ctx, ingest.ModerationQueueItem{
		ID: id, DocumentID: doc.ID, QueueType: typ, ProposalKey: key, Payload: raw,
		Attribution: []ingest.Attribution{doc.Attribution()}, Confidence: confidence,
		Status: status, CreatedAt: publishNow,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func (f *fixture) state(t *testing.T, id string) ingest.ProcessingState {
	t.Helper()
	doc, err := f.store.GetDocument(f.ctx, id)
	require.NoError(t, err)
	return doc.State
}

func TestPublishTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	doc := f.doc(t, "d1")
	f.item(t, doc, "q1", ingest.QueueExercise, "squats",
		ingest.ExerciseProposal{Name: "Squats", Sport: ingest.SportWrestling, Category: ingest.CategoryLegs}, 0.78, ingest.QueueApproved)

	counters, err := f.stage.Run(f.ctx, RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Created)
	first, err := f.store.FindExercise(f.ctx, "squats", ingest.SportWrestling)
	require.NoError(t, err)
	assert.InDelta(t, 0.78, first.Confidence, 1e-9)
	assert.Equal(t, ingest.StatePublished, f.state(t, "d1"))

	// Force the same item back through the publisher.
	require.NoError(t, f.store.UpdateQueueItemStatus(f.ctx, "q1", ingest.QueueApproved, "", publishNow))
	counters, err = f.stage.Run(f.ctx, RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, counters.Created)
	assert.Equal(t, 1, counters.Updated)

	second, err := f.store.FindExercise(f.ctx, "Squats", ingest.SportWrestling)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, first.Confidence, second.Confidence, 1e-12)
	assert.Len(t, second.Attribution, 1)
	assert.Len(t, f.store.Snapshot().Published, 1)
	assert.Len(t, f.notifier.Messages(), 1, "only new published records notify")
}

func TestPublishMergesAcrossDocuments(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d1, d2 := f.doc(t, "d1"), f.doc(t, "d2")
	f.item(t, d1, "q1", ingest.QueueAthlete, "jordan-burroughs", ingest.AthleteProposal{Name: "Jordan Burroughs", Sport: ingest.SportWrestling}, 0.9, ingest.QueueApproved)
	f.item(t, d2, "q2", ingest.QueueAthlete, "jordan-burroughs", ingest.AthleteProposal{Name: "JORDAN BURROUGHS", Sport: "freestyle wrestling"}, 0.8, ingest.QueueApproved)

	counters, err := f.stage.Run(f.ctx, RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Created)
	assert.Equal(t, 1, counters.Updated)

	a, err := f.store.FindAthlete(f.ctx, "jordan burroughs", ingest.SportWrestling)
	require.NoError(t, err)
	assert.Equal(t, "Jordan Burroughs", a.Name)
	assert.InDelta(t, 0.9, a.Confidence, 1e-9)
	assert.Equal(t, []string{"https://gym.test/d1", "https://gym.test/d2"}, []string{a.Attribution[0].URL, a.Attribution[1].URL})
}

func TestPublishLinkCreatesEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	doc := f.doc(t, "d1")
	f.item(t, doc, "q1", ingest.QueueAthleteExercise, "--sprawls",
		ingest.AthleteExerciseProposal{ExerciseName: "Sprawls", Sport: ingest.SportMuayThai, Category: ingest.CategoryConditioning}, 0.8, ingest.QueueApproved)

	counters, err := f.stage.Run(f.ctx, RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Created)
	assert.Equal(t, 1, counters.Extra[ingest.EntityAthleteExercise])

	fallback, err := f.store.FindAthlete(f.ctx, "Muay Thai Athlete", ingest.SportMuayThai)
	require.NoError(t, err)
	ex, err := f.store.FindExercise(f.ctx, "Sprawls", ingest.SportMuayThai)
	require.NoError(t, err)
	assert.Equal(t, ingest.CategoryConditioning, ex.Category)
	link, err := f.store.FindAthleteExercise(f.ctx, fallback.ID, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, f.store.Snapshot().Published[0].EntityID, link.ID)
}

func TestPublishRoutineMergesExercises(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d1, d2 := f.doc(t, "d1"), f.doc(t, "d2")
	f.item(t, d1, "q1", ingest.QueueRoutine, "leg-day", ingest.RoutineProposal{Title: "Leg Day", Sport: ingest.SportBJJ, Steps: []string{"Squat"}, Exercises: []string{"Squats"}}, 0.8, ingest.QueueApproved)
	f.item(t, d2, "q2", ingest.QueueRoutine, "leg-day", ingest.RoutineProposal{Title: "leg day", Sport: ingest.SportBJJ, Summary: "Legs.", Steps: []string{"Other"}, Exercises: []string{"squats", "Lunges"}}, 0.7, ingest.QueueApproved)

	_, err := f.stage.Run(f.ctx, RunOptions{Limit: 10})
	require.NoError(t, err)
	r, err := f.store.FindRoutine(f.ctx, "Leg Day", ingest.SportBJJ)
	require.NoError(t, err)
	assert.Equal(t, []string{"Squat"}, r.Steps)
	assert.Equal(t, []string{"Squats", "Lunges"}, r.Exercises)
	assert.Equal(t, "Legs.", r.Summary)
	assert.Equal(t, ingest.RoutineFromProposal, r.Origin)
}

func TestPublishRejectsMalformedAndLeavesDocumentOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	doc := f.doc(t, "d1")
	f.item(t, doc, "ok", ingest.QueueAthlete, "a", ingest.AthleteProposal{Name: "Royce Gracie", Sport: ingest.SportBJJ}, 0.9, ingest.QueueApproved)
	f.item(t, doc, "bad", ingest.QueueExercise, "b", ingest.ExerciseProposal{Name: "Armbar", Sport: "curling"}, 0.9, ingest.QueueApproved)
	f.item(t, doc, "wait", ingest.QueueExercise, "c", ingest.ExerciseProposal{Name: "Triangle", Sport: ingest.SportBJJ}, 0.5, ingest.QueuePending)

	counters, err := f.stage.Run(f.ctx, RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Created)
	assert.Equal(t, 1, counters.Failed)
	assert.Equal(t, 1, counters.Extra["rejected_malformed"])
	assert.Equal(t, ingest.StateQueued, f.state(t, "d1"), "a pending proposal keeps the document open")

	rejected, err := f.store.ListQueueItems(f.ctx, ingest.QueueRejected, 10)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "bad", rejected[0].ID)
	assert.Contains(t, rejected[0].ReviewerNote, `unknown sport "curling"`)

	require.NoError(t, f.store.UpdateQueueItemStatus(f.ctx, "wait", ingest.QueueRejected, "manual", publishNow))
	f.item(t, doc, "late", ingest.QueueAthlete, "d", ingest.AthleteProposal{Name: "Rickson Gracie", Sport: ingest.SportBJJ}, 0.9, ingest.QueueApproved)
	counters, err = f.stage.Run(f.ctx, RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, counters.Failed)
	assert.Equal(t, 1, counters.Extra["documents_published"])
	assert.Equal(t, ingest.StatePublished, f.state(t, "d1"))
}

func TestPublishMalformedItemDoesNotBlockBacklog(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	doc := f.doc(t, "d1")
	f.item(t, doc, "bad", ingest.QueueExercise, "bad", ingest.ExerciseProposal{Name: "Stones", Sport: "curling"}, 0.9, ingest.QueueApproved)
	f.item(t, doc, "good", ingest.QueueExercise, "squats", ingest.ExerciseProposal{Name: "Squats", Sport: ingest.SportWrestling}, 0.9, ingest.QueueApproved)

	for range 2 {
		_, err := f.stage.Run(f.ctx, RunOptions{Limit: 1})
		require.NoError(t, err)
	}
	ex, err := f.store.FindExercise(f.ctx, "squats", ingest.SportWrestling)
	require.NoError(t, err)
	assert.Equal(t, ingest.CategoryLegs, ex.Category)
	assert.Equal(t, ingest.StatePublished, f.state(t, "d1"))
}

// flakyCatalog fails athlete writes the way an unavailable database would.
type flakyCatalog struct {
	*memory.Store
}

func (flakyCatalog) SaveAthlete(context.Context, ingest.Athlete) error {
	return errors.New("connection reset")
}

func TestPublishStoreFailureKeepsItemApproved(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	doc := f.doc(t, "d1")
	f.item(t, doc, "q1", ingest.QueueAthlete, "a", ingest.AthleteProposal{Name: "Royce Gracie", Sport: ingest.SportBJJ}, 0.9, ingest.QueueApproved)

	stage := NewStage(flakyCatalog{f.store}, nil, ingesttest.NewClock(publishNow), ingesttest.NewIDs("p"), nil)
	counters, err := stage.Run(f.ctx, RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Failed)
	assert.Zero(t, counters.Extra["rejected_malformed"])

	approved, err := f.store.ListQueueItems(f.ctx, ingest.QueueApproved, 10)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Empty(t, approved[0].ReviewerNote)
}

func TestPublishDrillsFromVideoEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	doc := f.doc(t, "v1")
	f.item(t, doc, "q1", ingest.QueueAthlete, "kyle-dake", ingest.AthleteProposal{Name: "Kyle Dake", Sport: ingest.SportWrestling}, 0.9, ingest.QueueApproved)
	require.NoError(t, f.store.SaveVideoIngest(f.ctx, ingest.VideoIngest{
		ID: "ing-1", DocumentID: "v1", State: ingest.VideoCompleted, Sport: ingest.SportWrestling,
		RoutineSummary: "Sprawl ladder.", Confidence: 0.7,
	}))
	sets, reps, rest := 3, 10, 30
	require.NoError(t, f.store.ReplaceExerciseEvents(f.ctx, "ing-1", []ingest.ExerciseEvent{
		{ID: "e1", IngestID: "ing-1", StartSeconds: 70, ExerciseName: "Sprawls", Sets: &sets, Reps: &reps, RestSeconds: &rest, Confidence: 0.85, Evidence: "on the mat"},
		{ID: "e2", IngestID: "ing-1", StartSeconds: 130, ExerciseName: "Stance motion", Confidence: 0.65},
		{ID: "e3", IngestID: "ing-1", StartSeconds: 190, ExerciseName: "Sprawls", Confidence: 0.5},
		{ID: "e4", IngestID: "ing-1", StartSeconds: 200, ExerciseName: "unknown", Confidence: 0.9},
	}))

	opts := RunOptions{Limit: 10, AutoDrills: true, AutoRoutines: true}
	counters, err := f.stage.Run(f.ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, counters.Extra["drills_created"])
	assert.Equal(t, 1, counters.Extra["drills_updated"])
	assert.Equal(t, 1, counters.Extra["drills_failed"])
	assert.Equal(t, 1, counters.Extra["video_routines_created"])

	sprawl, err := f.store.FindDrill(f.ctx, "drill:wrestling:sprawls")
	require.NoError(t, err)
	assert.Equal(t, ingest.DifficultyAdvanced, sprawl.Difficulty)
	assert.InDelta(t, 0.85, sprawl.Confidence, 1e-9)
	assert.Equal(t, "on the mat", sprawl.Evidence)
	stance, err := f.store.FindDrill(f.ctx, DrillKey(ingest.SportWrestling, "Stance motion"))
	require.NoError(t, err)
	assert.Equal(t, ingest.DifficultyIntermediate, stance.Difficulty)

	r, err := f.store.FindRoutine(f.ctx, "Workout v1", ingest.SportWrestling)
	require.NoError(t, err)
	assert.Equal(t, ingest.RoutineFromVideo, r.Origin)
	assert.Equal(t, []string{"Sprawls: 3x10, 30s rest @ 1:10", "Stance motion @ 2:10", "Sprawls @ 3:10"}, r.Steps)
	assert.Equal(t, []string{"Sprawls", "Stance motion"}, r.Exercises)

	v, err := f.store.GetVideoIngest(f.ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, v.DrillsPublishedAt)

	notes := len(f.notifier.Messages())
	counters, err = f.stage.Run(f.ctx, opts)
	require.NoError(t, err)
	assert.Zero(t, counters.Extra["drills_created"])
	assert.Zero(t, counters.Extra["drills_updated"], "promoted videos are not selected again")
	assert.Len(t, f.store.Snapshot().Drills, 2)
	assert.Len(t, f.notifier.Messages(), notes)
}

func (f *fixture) publishedVideo(t *testing.T, docID, exercise string) {
	t.Helper()
	doc := f.doc(t, docID)
	f.item(t, doc, "q-"+docID, ingest.QueueAthlete, "a-"+docID, ingest.AthleteProposal{Name: "Kyle Dake", Sport: ingest.SportWrestling}, 0.9, ingest.QueueApproved)
	ingestID := "ing-" + docID
	require.NoError(t, f.store.SaveVideoIngest(f.ctx, ingest.VideoIngest{
		ID: ingestID, DocumentID: docID, State: ingest.VideoCompleted, Sport: ingest.SportWrestling, Confidence: 0.7,
	}))
	require.NoError(t, f.store.ReplaceExerciseEvents(f.ctx, ingestID, []ingest.ExerciseEvent{
		{ID: "e-" + docID, IngestID: ingestID, ExerciseName: exercise, Confidence: 0.7},
	}))
}

func TestPublishDrillsWorkThroughVideoBacklog(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publishedVideo(t, "v1", "Sprawls")
	f.publishedVideo(t, "v2", "Burpees")

	opts := RunOptions{Limit: 1, AutoDrills: true}
	var created int
	for range 3 {
		counters, err := f.stage.Run(f.ctx, opts)
		require.NoError(t, err)
		created += counters.Extra["drills_created"]
		assert.Zero(t, counters.Extra["drills_updated"])
	}
	assert.Equal(t, 2, created)
	_, err := f.store.FindDrill(f.ctx, DrillKey(ingest.SportWrestling, "Burpees"))
	require.NoError(t, err)
}

// flakyDrills fails drill writes until healed.
type flakyDrills struct {
	*memory.Store
	healed bool
}

func (d *flakyDrills) SaveDrill(ctx context.Context, drill ingest.Drill) error {
	if !d.healed {
		return errors.New("connection reset")
	}
	return d.Store.SaveDrill(ctx, drill)
}

func TestPublishDrillsRetriesVideoAfterStoreFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publishedVideo(t, "v1", "Sprawls")
	repo := &flakyDrills{Store: f.store}
	stage := NewStage(repo, nil, ingesttest.NewClock(publishNow), ingesttest.NewIDs("p"), nil)

	counters, err := stage.Run(f.ctx, RunOptions{Limit: 10, AutoDrills: true})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Extra["drills_failed"])
	v, err := f.store.GetVideoIngest(f.ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, v.DrillsPublishedAt)

	repo.healed = true
	counters, err = stage.Run(f.ctx, RunOptions{Limit: 10, AutoDrills: true})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Extra["drills_created"])
}

func TestDifficulty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		confidence float64
		want       string
	}{
		{0.95, ingest.DifficultyAdvanced},
		{0.82, ingest.DifficultyAdvanced},
		{0.81, ingest.DifficultyIntermediate},
		{0.62, ingest.DifficultyIntermediate},
		{0.61, ingest.DifficultyBeginner},
		{0, ingest.DifficultyBeginner},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Difficulty(tt.confidence), "confidence %.2f", tt.confidence)
	}
}

func TestFallbackAthleteName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Wrestling Athlete", FallbackAthleteName(ingest.SportWrestling))
	assert.Equal(t, "Muay Thai Athlete", FallbackAthleteName(ingest.SportMuayThai))
}
