package ingest

import (
	"sort"
	"strings"
)

// Sport identifiers.
const (
	SportWrestling  = "wrestling"
	SportBJJ        = "bjj"
	SportJudo       = "judo"
	SportBoxing     = "boxing"
	SportMuayThai   = "muay_thai"
	SportKickboxing = "kickboxing"
	SportMMA        = "mma"
	SportKarate     = "karate"
	SportTaekwondo  = "taekwondo"
	SportSambo      = "sambo"
)

// sportTerms lists detection phrases per sport, in detection priority order. Earlier sports win ties.
var sportTerms = []struct {
	sport string
	terms []string
}{
	{SportBJJ, []string{"bjj", "jiu jitsu", "jiujitsu", "brazilian jiu", "no gi", "nogi", "grappling"}},
	{SportMuayThai, []string{"muay thai", "muaythai", "thai boxing", "clinch knee"}},
	{SportKickboxing, []string{"kickboxing", "kick boxing", "k1"}},
	{SportMMA, []string{"mma", "mixed martial arts", "ufc", "cage fight", "bellator", "one championship"}},
	{SportWrestling, []string{"wrestling", "wrestler", "folkstyle", "freestyle wrestling", "greco roman", "single leg", "double leg", "ncaa wrestling"}},
	{SportJudo, []string{"judo", "judoka", "uchi mata", "seoi nage"}},
	{SportBoxing, []string{"boxing", "boxer", "heavy bag", "shadowboxing", "shadow boxing", "jab cross", "mitt work", "pad work"}},
	{SportKarate, []string{"karate", "kumite", "kata"}},
	{SportTaekwondo, []string{"taekwondo", "tae kwon do", "tkd"}},
	{SportSambo, []string{"sambo"}},
}

var sportAliases = map[string]string{
	"brazilian jiu jitsu": SportBJJ,
	"jiu jitsu":           SportBJJ,
	"jiujitsu":            SportBJJ,
	"grappling":           SportBJJ,
	"muay thai":           SportMuayThai,
	"muaythai":            SportMuayThai,
	"thai boxing":         SportMuayThai,
	"kick boxing":         SportKickboxing,
	"mixed martial arts":  SportMMA,
	"ufc":                 SportMMA,
	"freestyle wrestling": SportWrestling,
	"folkstyle wrestling": SportWrestling,
	"greco roman":         SportWrestling,
	"tae kwon do":         SportTaekwondo,
	"tkd":                 SportTaekwondo,
}

// NormalizeSport maps free-form sport labels to a known identifier, or "" when unrecognized.
func NormalizeSport(s string) string {
	norm := tokenText(s)
	if norm == "" {
		return ""
	}
	if alias, ok := sportAliases[norm]; ok {
		return alias
	}
	id := strings.ReplaceAll(norm, " ", "_")
	for _, entry := range sportTerms {
		if entry.sport == id {
			return id
		}
	}
	return ""
}

// KnownSports lists every sport identifier.
func KnownSports() []string {
	out := make([]string, 0, len(sportTerms))
	for _, entry := range sportTerms {
		out = append(out, entry.sport)
	}
	sort.Strings(out)
	return out
}

// DetectSport returns the sport with the most term hits in text, or "" when none match.
func DetectSport(text string) string {
	padded := " " + tokenText(text) + " "
	best, bestHits := "", 0
	for _, entry := range sportTerms {
		hits := 0
		for _, term := range entry.terms {
			if strings.Contains(padded, " "+term+" ") || strings.Contains(padded, " "+term+"s ") {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = entry.sport, hits
		}
	}
	return best
}

// TrainingKeywords gate collection: a result must mention at least one.
var TrainingKeywords = []string{
	"workout", "train", "drill", "technique", "conditioning", "strength", "routine", "exercise",
	"sparring", "circuit", "program", "session", "warm up", "warmup", "mobility", "practice",
	"tutorial", "lesson", "how to", "interval", "cardio", "plyometric", "footwork", "fight camp",
}

// entertainmentWrestlingTerms flag scripted wrestling, rejected when collecting for wrestling.
var entertainmentWrestlingTerms = []string{
	"wwe", "aew", "smackdown", "raw", "wrestlemania", "royal rumble", "tna", "impact wrestling",
	"nxt", "summerslam", "njpw", "kayfabe", "pay per view", "ppv",
}

// TrainingKeywordHits counts distinct training keywords appearing at a word start in text.
func TrainingKeywordHits(text string) int {
	padded := " " + tokenText(text) + " "
	hits := 0
	for _, kw := range TrainingKeywords {
		if strings.Contains(padded, " "+kw) {
			hits++
		}
	}
	return hits
}

// IsEntertainmentWrestling reports whether text looks like scripted wrestling entertainment.
func IsEntertainmentWrestling(text string) bool {
	padded := " " + tokenText(text) + " "
	for _, term := range entertainmentWrestlingTerms {
		if strings.Contains(padded, " "+term+" ") {
			return true
		}
	}
	return false
}

// Exercise categories. Every exercise maps to exactly one.
const (
	CategoryLegs         = "legs"
	CategoryBack         = "back"
	CategoryChest        = "chest"
	CategoryShoulders    = "shoulders"
	CategoryArms         = "arms"
	CategoryCore         = "core"
	CategoryConditioning = "conditioning"
	CategoryFullBody     = "full-body"
)

// categoryBuckets are checked in order; phrases that would be shadowed by a later, shorter
// keyword ("leg raise" vs "leg") sit in an earlier bucket.
var categoryBuckets = []struct {
	category string
	terms    []string
}{
	{CategoryCore, []string{"plank", "crunch", "sit up", "situp", "leg raise", "hollow", "russian twist", "ab wheel", "abs", "core", "v up", "dead bug", "neck bridge", "wrestler bridge"}},
	{CategoryFullBody, []string{"kettlebell swing", "clean", "snatch", "thruster", "turkish get", "get up", "bear crawl", "sandbag", "tire flip", "complex"}},
	{CategoryBack, []string{"pull up", "pullup", "chin up", "chinup", "row", "deadlift", "lat ", "lat pull", "back extension", "face pull", "rope climb", "superman"}},
	{CategoryChest, []string{"push up", "pushup", "bench", "dip", "chest", "fly", "flye"}},
	{CategoryShoulders, []string{"overhead press", "military press", "push press", "shoulder", "lateral raise", "handstand", "landmine press", "arnold press"}},
	{CategoryArms, []string{"curl", "tricep", "bicep", "grip", "forearm", "skull crusher", "wrist"}},
	{CategoryLegs, []string{"squat", "lunge", "leg press", "calf", "step up", "box jump", "hamstring", "glute", "hip thrust", "split squat", "pistol", "jump squat", "leg"}},
	{CategoryConditioning, []string{"sprint", "run", "burpee", "jump rope", "skipping", "sled", "bike", "assault", "rower", "shadowbox", "shadow box", "bag work", "heavy bag", "interval", "hiit", "circuit", "sparring", "conditioning", "footwork", "agility", "swim"}},
}

// Categories lists the fixed exercise categories.
func Categories() []string {
	return []string{
		CategoryLegs, CategoryBack, CategoryChest, CategoryShoulders,
		CategoryArms, CategoryCore, CategoryConditioning, CategoryFullBody,
	}
}

// ValidCategory reports whether c is one of the fixed categories.
func ValidCategory(c string) bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// InferCategory maps an exercise name to a category by keyword, defaulting to full-body.
func InferCategory(name string) string {
	padded := " " + tokenText(name) + " "
	for _, bucket := range categoryBuckets {
		for _, term := range bucket.terms {
			if strings.Contains(padded, " "+term) {
				return bucket.category
			}
		}
	}
	return CategoryFullBody
}

var placeholderNames = map[string]struct{}{
	"": {}, "unknown": {}, "n a": {}, "na": {}, "none": {}, "null": {}, "nil": {}, "coach": {},
	"the coach": {}, "athlete": {}, "the athlete": {}, "trainer": {}, "instructor": {}, "fighter": {},
	"narrator": {}, "host": {}, "speaker": {}, "presenter": {}, "unnamed": {}, "various": {},
	"someone": {}, "person": {}, "man": {}, "woman": {}, "he": {}, "she": {}, "they": {}, "tbd": {},
	"unspecified": {}, "exercise": {}, "workout": {}, "drill": {}, "student": {}, "partner": {},
}

// IsPlaceholderName reports whether a mention is a generic stand-in rather than a real name.
func IsPlaceholderName(name string) bool {
	norm := tokenText(name)
	if len(norm) < 2 {
		return true
	}
	if _, ok := placeholderNames[norm]; ok {
		return true
	}
	return !strings.ContainsAny(norm, "abcdefghijklmnopqrstuvwxyz")
}

// tokenText folds s and collapses every non-alphanumeric run into one space.
func tokenText(s string) string {
	folded := Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// ContainsPhrase reports whether phrase occurs in text on word boundaries, ignoring case and accents.
func ContainsPhrase(text, phrase string) bool {
	p := tokenText(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(" "+tokenText(text)+" ", " "+p+" ")
}
