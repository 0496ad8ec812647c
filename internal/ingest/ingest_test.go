package ingest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampConfidenceBoundsAndMonotonic(t *testing.T) {
	t.Parallel()

	inputs := []float64{math.Inf(-1), -5, -0.0001, 0, 0.1, 0.5, 0.78, 0.998, 0.999, 1, 42, math.Inf(1)}
	prev := -1.0
	for _, x := range inputs {
		got := ClampConfidence(x)
		require.GreaterOrEqual(t, got, 0.0, "x=%v", x)
		require.LessOrEqual(t, got, MaxConfidence, "x=%v", x)
		require.GreaterOrEqual(t, got, prev, "clamp must be monotonic at x=%v", x)
		prev = got
	}
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
}

func TestAtLeastAtMostTolerateDiscountRounding(t *testing.T) {
	t.Parallel()

	discounted := 0.8 - 0.02
	assert.True(t, AtLeast(discounted, 0.78))
	assert.True(t, AtMost(0.28, 0.28))
	assert.False(t, AtLeast(0.5, 0.78))
	assert.False(t, AtMost(0.5, 0.28))
}

func TestFingerprintDeterministicAndDistinct(t *testing.T) {
	t.Parallel()

	a := Fingerprint("https://Example.com/watch?b=2&a=1#frag", "Squat Day", "Legs")
	b := Fingerprint("https://example.com/watch?a=1&b=2", "  squat   day ", "legs")
	require.Equal(t, a, b, "normalization should make equivalent documents collide")
	require.Len(t, a, 64)

	triples := [][3]string{
		{"https://x.test/a", "ab", "c"},
		{"https://x.test/a", "a", "bc"},
		{"https://x.test/a", "abc", ""},
		{"https://x.test/b", "ab", "c"},
	}
	seen := map[string]bool{}
	for _, tr := range triples {
		fp := Fingerprint(tr[0], tr[1], tr[2])
		require.False(t, seen[fp], "collision for %v", tr)
		seen[fp] = true
	}
}

func TestMergeAttributionIdempotentAndDeduplicating(t *testing.T) {
	t.Parallel()

	list := []Attribution{
		{URL: "https://a.test/1", Title: "one"},
		{URL: "https://b.test/2", Title: "two"},
	}
	require.Equal(t, list, MergeAttribution(list, list))

	other := []Attribution{
		{URL: "https://B.test/2/", Title: "two again"},
		{URL: "https://c.test/3", Title: "three"},
	}
	merged := MergeAttribution(list, other)
	require.Len(t, merged, 3)
	urls := map[string]int{}
	for _, a := range merged {
		urls[NormalizeURL(a.URL)]++
	}
	for u, n := range urls {
		assert.Equal(t, 1, n, "duplicate url %s", u)
	}
	assert.Equal(t, "one", merged[0].Title, "existing order is preserved")
}

func TestDocumentTransitionsOnlyMoveForward(t *testing.T) {
	t.Parallel()

	assert.True(t, CanAdvanceDocument(StateCollected, StateExtracted))
	assert.True(t, CanAdvanceDocument(StateExtracted, StateQueued))
	assert.True(t, CanAdvanceDocument(StateQueued, StatePublished))
	assert.True(t, CanAdvanceDocument(StateError, StateCollected))
	assert.False(t, CanAdvanceDocument(StateQueued, StateCollected))
	assert.False(t, CanAdvanceDocument(StatePublished, StateQueued))
	assert.False(t, CanAdvanceDocument(StateDiscarded, StateCollected))
	require.ErrorIs(t, CheckDocumentTransition(StateExtracted, StateCollected), ErrInvalidTransition)
}

func TestVideoTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, CanAdvanceVideo(VideoPending, VideoDownloading))
	assert.True(t, CanAdvanceVideo(VideoPending, VideoSkipped))
	assert.True(t, CanAdvanceVideo(VideoAnalyzing, VideoCompleted))
	assert.True(t, CanAdvanceVideo(VideoDownloading, VideoFailed))
	assert.True(t, CanAdvanceVideo(VideoFailed, VideoPending))
	assert.False(t, CanAdvanceVideo(VideoAnalyzing, VideoDownloading))
	assert.False(t, CanAdvanceVideo(VideoCompleted, VideoPending))
	assert.False(t, CanAdvanceVideo(VideoSkipped, VideoFailed))
}

func TestSlugAndNaturalKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pull-ups", Slug("Pull-ups!"))
	assert.Equal(t, "jose-aldo", Slug("  José Aldo "))
	assert.Equal(t, NaturalKey("JOSÉ ALDO", "MMA"), NaturalKey("jose aldo", "mixed martial arts"))
	assert.Equal(t, "Muay Thai", DisplayName(SportMuayThai))
}

func TestInferCategory(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Squats":            CategoryLegs,
		"Pull-ups":          CategoryBack,
		"Push-ups":          CategoryChest,
		"Hanging Leg Raise": CategoryCore,
		"Overhead Press":    CategoryShoulders,
		"Hammer Curl":       CategoryArms,
		"Burpees":           CategoryConditioning,
		"Kettlebell Swing":  CategoryFullBody,
		"Sprawl":            CategoryFullBody,
	}
	for name, want := range cases {
		assert.Equal(t, want, InferCategory(name), name)
		assert.True(t, ValidCategory(InferCategory(name)))
	}
	assert.Len(t, Categories(), 8)
}

func TestSportDetectionAndPrecedence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SportWrestling, DetectSport("Elite Wrestling Strength Workout"))
	assert.Equal(t, SportBJJ, DetectSport("No-Gi jiu jitsu guard drills"))
	assert.Equal(t, "", DetectSport("cooking pasta at home"))
	assert.Equal(t, SportMuayThai, NormalizeSport("Muay Thai"))
	assert.Equal(t, "", NormalizeSport("chess"))

	assert.Equal(t, SportJudo, ResolveSport("judo", "boxing drills", ""))
	assert.Equal(t, SportBoxing, ResolveSport("", "boxing drills", ""))
	assert.Equal(t, "", ResolveSport("", "gardening", ""))
	assert.Equal(t, "b", FirstNonEmpty("", "  ", "b", "c"))

	v, ok := FirstPresent(0, 0, 7)
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestKeywordPolicies(t *testing.T) {
	t.Parallel()

	assert.Positive(t, TrainingKeywordHits("Wrestling conditioning workout"))
	assert.Zero(t, TrainingKeywordHits("Match highlights"))
	assert.True(t, IsEntertainmentWrestling("WWE Raw training segment"))
	assert.False(t, IsEntertainmentWrestling("folkstyle wrestling drills"))
	assert.True(t, IsPlaceholderName("Coach"))
	assert.True(t, IsPlaceholderName("??"))
	assert.False(t, IsPlaceholderName("Jordan Burroughs"))
}

func TestContentSourceMetadata(t *testing.T) {
	t.Parallel()

	src := ContentSource{SourceType: SourceWebSearch, Metadata: map[string]any{
		"sport": "Muay Thai", "allow_video": "true", "max_items": float64(7),
	}}
	assert.Equal(t, SportMuayThai, src.SportHint())
	assert.True(t, src.AllowsVideo())
	n, ok := src.MetaInt("max_items")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	assert.True(t, ContentSource{SourceType: SourceYouTube}.AllowsVideo())
	assert.False(t, ContentSource{SourceType: SourceReddit}.AllowsVideo())
}

func TestDocumentPredecessorsIncludeTargetFirst(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []ProcessingState{StatePublished, StateNormalized, StateQueued}, DocumentPredecessors(StatePublished))
	assert.Equal(t, []ProcessingState{StateCollected, StateError}, DocumentPredecessors(StateCollected))
	assert.NoError(t, CheckDocumentTransition(StateQueued, StateQueued))
}

func TestCountersAddAndExtra(t *testing.T) {
	t.Parallel()

	var c Counters
	c.Inc("approved")
	c.AddExtra("approved", 2)
	c.AddExtra("ignored", 0)
	c.Add(Counters{Processed: 3, Failed: 1, Extra: map[string]int{"rejected": 1}})
	assert.Equal(t, 3, c.Processed)
	assert.Equal(t, 1, c.Failed)
	assert.Equal(t, []string{"approved", "rejected"}, c.ExtraKeys())
	assert.Equal(t, 3, c.Extra["approved"])
}
