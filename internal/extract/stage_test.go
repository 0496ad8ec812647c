package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest/ingesttest"
	"github.com/JakeFAU/combat-training-ingest/internal/llm"
	"github.com/JakeFAU/combat-training-ingest/internal/media"
	"github.com/JakeFAU/combat-training-ingest/internal/storage/memory"
	"github.com/JakeFAU/combat-training-ingest/internal/transcribe"
)

var extractNow = time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	store       *memory.Store
	blobs       *memory.BlobStore
	tools       *fakeTools
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
	workspace   string
	stage       *Stage
}

func newHarness(t *testing.T, videoOpts VideoOptions) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		blobs:     memory.NewBlobStore(),
		tools:     &fakeTools{meta: media.Metadata{DurationSeconds: 300, Channel: "Mat Lab"}},
		workspace: t.TempDir(),
		transcriber: &fakeTranscriber{transcript: transcribe.Transcript{
			Text:     "three sets of ten sprawls",
			Language: "en",
			Segments: []transcribe.Segment{{StartSeconds: 0, EndSeconds: 4, Text: "three sets of ten sprawls", Confidence: 0.9}},
		}},
		analyzer: &fakeAnalyzer{
			video: llm.Analysis{
				Sport:          ingest.SportWrestling,
				RelevanceScore: 0.8,
				RoutineSummary: "Sprawl intervals.",
				Athletes:       []ingest.AthleteMention{{Name: "Kyle Dake"}},
				Frames:         []llm.FrameDetection{{FrameIndex: 1, Label: "sprawl", Confidence: 0.7}},
				Events: []llm.Event{
					{StartSeconds: 10, EndSeconds: 40, ExerciseName: "Sprawls", Sets: intPtr(3), Reps: intPtr(10), Confidence: 0.6},
					{StartSeconds: 50, EndSeconds: 80, ExerciseName: "Sprawls", Confidence: 0.8},
				},
			},
			text: llm.Analysis{
				Sport:          ingest.SportBoxing,
				RelevanceScore: 0.9,
				Confidence:     0.72,
				Exercises:      []ingest.ExerciseMention{{Name: "Heavy Bag"}},
			},
		},
	}
	clock := ingesttest.NewClock(extractNow)
	ids := ingesttest.NewIDs("x")
	if videoOpts.Model == "" {
		videoOpts.Model = "vision"
	}
	if videoOpts.MaxSeconds == 0 {
		videoOpts.MaxSeconds = 1200
	}
	if videoOpts.RelevanceMin == 0 {
		videoOpts.RelevanceMin = 0.45
	}
	video := NewVideoExtractor(VideoDeps{
		Repo:        h.store,
		Tools:       h.tools,
		Transcriber: h.transcriber,
		Analyzer:    h.analyzer,
		Workspace:   media.NewWorkspace(h.workspace),
		Archive:     h.blobs,
		Clock:       clock,
		IDs:         ids,
	}, videoOpts, nil)
	web := NewWebExtractor(h.analyzer, nil, nil, NewHeuristic(h.store, 8, nil), WebOptions{Model: "text", SnippetMinChars: 10, MaxChars: 2000, RelevanceMin: 0.45}, nil)
	h.stage = NewStage(h.store, video, web, clock, ids, nil)
	return h
}

func (h *harness) addDoc(t *testing.T, id, url, title, description string, srcType ingest.SourceType) {
	t.Helper()
	h.store.AddSource(ingest.ContentSource{ID: "src-" + id, SourceType: srcType, Active: true})
	require.NoError(t, h.store.InsertDocument(context.Background(), ingest.SourceDocument{
		ID: id, SourceID: "src-" + id, SourceType: srcType, URL: url, Title: title, Description: description,
		Fingerprint: ingest.Fingerprint(url, title, description), State: ingest.StateCollected, CollectedAt: extractNow,
	}))
}

func (h *harness) doc(t *testing.T, id string) ingest.SourceDocument {
	t.Helper()
	doc, err := h.store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func TestVideoOverDurationIsSkippedWithoutDownload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, VideoOptions{MaxSeconds: 1200})
	h.tools.meta.DurationSeconds = 3600
	h.addDoc(t, "v1", "https://www.youtube.com/watch?v=long", "Two hour seminar", "", ingest.SourceYouTube)

	counters, err := h.stage.Run(context.Background(), RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Extra["discarded"])
	assert.Zero(t, h.tools.downloads)

	rec, err := h.store.GetVideoIngest(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, ingest.VideoSkipped, rec.State)
	assert.Contains(t, rec.ErrorMessage, "exceeds")
	assert.Empty(t, h.store.Snapshot().Segments[rec.ID])
	assert.Equal(t, ingest.StateDiscarded, h.doc(t, "v1").State)
}

func TestVideoCompletesAndArchives(t *testing.T) {
	t.Parallel()

	h := newHarness(t, VideoOptions{})
	h.addDoc(t, "v1", "https://youtu.be/abc", "Sprawl conditioning", "wrestling drills", ingest.SourceYouTube)

	counters, err := h.stage.Run(context.Background(), RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Created)

	rec, err := h.store.GetVideoIngest(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, ingest.VideoCompleted, rec.State)
	assert.Equal(t, "Mat Lab", rec.Channel)
	assert.InDelta(t, 0.7*0.7+0.3*0.8, rec.Confidence, 1e-9)
	require.NotNil(t, rec.CompletedAt)

	snap := h.store.Snapshot()
	assert.Len(t, snap.Segments[rec.ID], 1)
	require.Len(t, snap.Detections[rec.ID], 1)
	assert.InDelta(t, 20, snap.Detections[rec.ID][0].TimestampSeconds, 1e-9)
	assert.Len(t, snap.Events[rec.ID], 2)

	sig, err := h.store.GetSignal(context.Background(), "v1", ingest.SignalVersion)
	require.NoError(t, err)
	assert.Equal(t, ingest.MethodVideo, sig.Method)
	require.Len(t, sig.ExerciseMentions, 1, "same-name events collapse into one mention")
	assert.Equal(t, "Sprawls", sig.ExerciseMentions[0].Name)
	assert.Equal(t, []ingest.AthleteMention{{Name: "Kyle Dake", Sport: ingest.SportWrestling}}, sig.AthleteMentions)

	assert.ElementsMatch(t, []string{"video/v1/analysis.json", "video/v1/transcript.json"}, h.blobs.Paths())
	assert.NoDirExists(t, rec.ArtifactDir)
	require.Len(t, h.analyzer.videoInputs, 1)
	assert.Len(t, h.analyzer.videoInputs[0].Frames, 2)
	assert.Equal(t, ingest.StateExtracted, h.doc(t, "v1").State)
}

func TestVideoLowRelevanceIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, VideoOptions{KeepArtifacts: true})
	h.analyzer.video.RelevanceScore = 0.2
	h.analyzer.video.RelevanceReason = "match highlights"
	h.addDoc(t, "v1", "https://youtu.be/abc", "Highlights", "", ingest.SourceYouTube)

	_, err := h.stage.Run(context.Background(), RunOptions{Limit: 10})
	require.NoError(t, err)

	rec, err := h.store.GetVideoIngest(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, ingest.VideoSkipped, rec.State)
	assert.Contains(t, rec.ErrorMessage, "match highlights")
	assert.DirExists(t, rec.ArtifactDir, "artifacts are retained when requested")
	assert.Empty(t, h.blobs.Paths())
	assert.Equal(t, ingest.StateDiscarded, h.doc(t, "v1").State)
}

func TestVideoFailureMarksIngestAndDocument(t *testing.T) {
	t.Parallel()

	h := newHarness(t, VideoOptions{})
	h.tools.downloadErr = errors.New("HTTP Error 403")
	h.addDoc(t, "v1", "https://youtu.be/abc", "Drill", "", ingest.SourceYouTube)

	counters, err := h.stage.Run(context.Background(), RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Failed)

	rec, err := h.store.GetVideoIngest(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, ingest.VideoFailed, rec.State)
	assert.Contains(t, rec.ErrorMessage, "403")
	assert.Equal(t, ingest.StateError, h.doc(t, "v1").State)

	// A retry restarts the failed ingest and completes it.
	h.tools.downloadErr = nil
	counters, err = h.stage.Run(context.Background(), RunOptions{Limit: 10, RetryErrors: true})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Extra["retried"])
	assert.Equal(t, 1, counters.Created)
	rec, err = h.store.GetVideoIngest(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, ingest.VideoCompleted, rec.State)
	assert.Empty(t, rec.ErrorMessage)
}

func TestVideoPreflightAbortsOnlyWithVideoDocuments(t *testing.T) {
	t.Parallel()

	h := newHarness(t, VideoOptions{})
	h.tools.preflightErr = ingest.ErrMissingTool
	h.addDoc(t, "w1", "https://gym.test/post", "Boxing heavy bag workout", "Rounds on the bag for conditioning.", ingest.SourceFeed)

	counters, err := h.stage.Run(context.Background(), RunOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Created)

	h.addDoc(t, "v1", "https://youtu.be/abc", "Drill", "", ingest.SourceYouTube)
	_, err = h.stage.Run(context.Background(), RunOptions{Limit: 10})
	require.Error(t, err)
	assert.True(t, ingest.IsSetupError(err))
	assert.ErrorIs(t, err, ingest.ErrMissingTool)
	assert.Equal(t, ingest.StateCollected, h.doc(t, "v1").State)
}

func TestVideoOnlyLeavesWebDocuments(t *testing.T) {
	t.Parallel()

	h := newHarness(t, VideoOptions{})
	h.addDoc(t, "w1", "https://gym.test/post", "Boxing workout", "Rounds.", ingest.SourceFeed)
	// Watch links from sources without the video opt-in stay on the text path.
	h.addDoc(t, "w2", "https://youtu.be/zzz", "Boxing workout video", "Rounds.", ingest.SourceReddit)

	counters, err := h.stage.Run(context.Background(), RunOptions{Limit: 10, VideoOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, counters.Skipped)
	assert.Zero(t, counters.Processed)
	assert.Equal(t, ingest.StateCollected, h.doc(t, "w1").State)
}

func TestWebExtraction(t *testing.T) {
	t.Parallel()

	t.Run("model signal", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, VideoOptions{})
		h.addDoc(t, "w1", "https://gym.test/post", "Boxing heavy bag workout", "Rounds on the heavy bag for conditioning.", ingest.SourceFeed)

		_, err := h.stage.Run(context.Background(), RunOptions{Limit: 10})
		require.NoError(t, err)
		sig, err := h.store.GetSignal(context.Background(), "w1", ingest.SignalVersion)
		require.NoError(t, err)
		assert.Equal(t, ingest.MethodText, sig.Method)
		assert.InDelta(t, 0.72, sig.Confidence, 1e-9)
		require.Len(t, sig.ExerciseMentions, 1)
		assert.Equal(t, ingest.CategoryConditioning, sig.ExerciseMentions[0].Category)
		require.Len(t, h.analyzer.textInputs, 1)
		assert.Contains(t, h.analyzer.textInputs[0].Body, "heavy bag")
	})

	t.Run("low relevance discards", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, VideoOptions{})
		h.analyzer.text.RelevanceScore = 0.1
		h.analyzer.text.RelevanceReason = "fight results"
		h.addDoc(t, "w1", "https://news.test/results", "Fight night results", "Who won on the card.", ingest.SourceFeed)

		counters, err := h.stage.Run(context.Background(), RunOptions{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, counters.Extra["discarded"])
		doc := h.doc(t, "w1")
		assert.Equal(t, ingest.StateDiscarded, doc.State)
		assert.Contains(t, doc.StateReason, "fight results")
	})

	t.Run("model failure falls back to heuristic", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, VideoOptions{})
		h.analyzer.textErr = errors.New("429 quota")
		h.addDoc(t, "w1", "https://gym.test/post", "Elite Wrestling Strength Workout: Squats and Pull-ups", "Strength day for wrestlers.", ingest.SourceFeed)

		counters, err := h.stage.Run(context.Background(), RunOptions{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, counters.Extra["heuristic"])
		sig, err := h.store.GetSignal(context.Background(), "w1", ingest.SignalVersion)
		require.NoError(t, err)
		assert.Equal(t, ingest.MethodHeuristic, sig.Method)
		assert.Equal(t, ingest.StateExtracted, h.doc(t, "w1").State)
	})
}
