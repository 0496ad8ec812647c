package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/htmltext"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// SeedExercises is the built-in exercise dictionary merged with the store's exercise names.
var SeedExercises = []string{
	"Squats", "Front Squat", "Split Squat", "Lunges", "Deadlift", "Romanian Deadlift", "Hip Thrust",
	"Box Jumps", "Calf Raises", "Pull-ups", "Chin-ups", "Rows", "Rope Climb", "Push-ups", "Bench Press",
	"Dips", "Overhead Press", "Push Press", "Handstand Push-ups", "Bicep Curls", "Hammer Curl",
	"Farmer Carry", "Plank", "Hanging Leg Raise", "Russian Twist", "Sit-ups", "Neck Bridge",
	"Kettlebell Swing", "Turkish Get-up", "Power Clean", "Thrusters", "Sandbag Carry", "Bear Crawl",
	"Burpees", "Sprawls", "Jump Rope", "Sprints", "Shadowboxing", "Heavy Bag", "Sled Push",
	"Assault Bike", "Hip Escape", "Technical Stand-up", "Shots", "Uchi Komi", "Mitt Work",
}

const (
	dictionaryLimit = 5000
	dictionaryTTL   = 10 * time.Minute
	summaryFallback = 240

	heuristicBase      = 0.3
	heuristicPerMatch  = 0.05
	heuristicSportBump = 0.1
	heuristicCap       = 0.65
)

var sentenceSplit = regexp.MustCompile(`[^.!?\n]+[.!?]?`)

// Heuristic derives a signal from keyword and dictionary matches alone.
type Heuristic struct {
	dict       Dictionary
	cache      *gocache.Cache
	maxMatches int
	logger     *zap.Logger
}

// NewHeuristic builds the fallback extractor. dict may be nil.
func NewHeuristic(dict Dictionary, maxMatches int, logger *zap.Logger) *Heuristic {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxMatches <= 0 {
		maxMatches = 8
	}
	return &Heuristic{
		dict:       dict,
		cache:      gocache.New(dictionaryTTL, 2*dictionaryTTL),
		maxMatches: maxMatches,
		logger:     logger,
	}
}

// Extract always returns a signal.
func (h *Heuristic) Extract(ctx context.Context, doc ingest.SourceDocument, sportHint, text string) ingest.ExtractedSignal {
	if strings.TrimSpace(text) == "" {
		text = doc.Title + ". " + doc.Description
	}
	corpus := doc.Title + "\n" + text
	sport := ingest.FirstNonEmpty(ingest.NormalizeSport(sportHint), ingest.ResolveSport("", doc.Title, text), doc.Sport)

	var athletes []ingest.AthleteMention
	for _, name := range matchNames(corpus, h.names(ctx, "athletes"), h.maxMatches) {
		athletes = append(athletes, ingest.AthleteMention{Name: name, Sport: sport})
	}
	var exercises []ingest.ExerciseMention
	for _, name := range matchNames(corpus, h.exerciseNames(ctx), h.maxMatches) {
		exercises = append(exercises, ingest.ExerciseMention{Name: name, Category: ingest.InferCategory(name), Sport: sport})
	}

	matches := len(athletes) + len(exercises)
	confidence := heuristicBase + heuristicPerMatch*float64(matches)
	if sport != "" {
		confidence += heuristicSportBump
	}
	confidence = min(confidence, heuristicCap)

	summary := Summary(text)
	payload, _ := json.Marshal(map[string]any{
		"method":            ingest.MethodHeuristic,
		"sport":             sport,
		"athlete_mentions":  athletes,
		"exercise_mentions": exercises,
		"routine_summary":   summary,
	})
	return ingest.ExtractedSignal{
		DocumentID:       doc.ID,
		Version:          ingest.SignalVersion,
		Method:           ingest.MethodHeuristic,
		Sport:            sport,
		AthleteMentions:  athletes,
		ExerciseMentions: exercises,
		RoutineSummary:   summary,
		Payload:          payload,
		Confidence:       ingest.ClampConfidence(confidence),
	}
}

// Summary picks the first sentence mentioning a training keyword, else a short excerpt.
func Summary(text string) string {
	text = htmltext.Collapse(text)
	for _, sentence := range sentenceSplit.FindAllString(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence != "" && ingest.TrainingKeywordHits(sentence) > 0 {
			return sentence
		}
	}
	return htmltext.Truncate(text, summaryFallback)
}

func (h *Heuristic) exerciseNames(ctx context.Context) []string {
	stored := h.names(ctx, "exercises")
	seen := make(map[string]struct{}, len(stored)+len(SeedExercises))
	out := make([]string, 0, len(stored)+len(SeedExercises))
	for _, name := range append(append([]string{}, SeedExercises...), stored...) {
		key := singular(ingest.Slug(name))
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

// names loads a dictionary through the cache. Load failures degrade to an empty list.
func (h *Heuristic) names(ctx context.Context, kind string) []string {
	if cached, ok := h.cache.Get(kind); ok {
		if names, ok := cached.([]string); ok {
			return names
		}
	}
	if h.dict == nil {
		return nil
	}
	var (
		names []string
		err   error
	)
	switch kind {
	case "athletes":
		names, err = h.dict.ListAthleteNames(ctx, dictionaryLimit)
	default:
		names, err = h.dict.ListExerciseNames(ctx, dictionaryLimit)
	}
	if err != nil {
		h.logger.Warn("Dictionary load failed; matching without it", zap.String("dictionary", kind), zap.Error(err))
		return nil
	}
	h.cache.SetDefault(kind, names)
	return names
}

// Invalidate drops cached dictionaries so newly published names are matched.
func (h *Heuristic) Invalidate() {
	h.cache.Flush()
}

// matchNames returns up to limit names found in text, tolerating a plural "s".
func matchNames(text string, names []string, limit int) []string {
	var out []string
	for _, name := range names {
		if len(out) >= limit {
			break
		}
		if ingest.IsPlaceholderName(name) {
			continue
		}
		base := strings.TrimSuffix(name, "s")
		if ingest.ContainsPhrase(text, name) || ingest.ContainsPhrase(text, base) || ingest.ContainsPhrase(text, base+"s") {
			out = append(out, name)
		}
	}
	return out
}

func singular(slug string) string {
	return strings.TrimSuffix(slug, "s")
}
