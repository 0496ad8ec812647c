// Package moderation turns extracted signals into moderation queue proposals.
package moderation

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// Per-type confidence discounts. Derived claims are less certain than the mentions they come from.
const (
	exerciseDiscount = 0.02
	linkDiscount     = 0.05
	routineDiscount  = 0.03
)

// Link fan-out bounds.
const (
	maxLinkAthletes  = 4
	maxLinkExercises = 6
	maxRoutineSteps  = 12
)

// Proposal is one candidate queue item before it is persisted.
type Proposal struct {
	Type       ingest.QueueType
	Key        string
	Payload    any
	Confidence float64
}

type athlete struct {
	name  string
	sport string
}

type exercise struct {
	name     string
	sport    string
	category string
}

// Derive builds the proposals for one document. It performs no I/O and is stable: the same
// document and signal always yield the same keys in the same order.
func Derive(doc ingest.SourceDocument, sig ingest.ExtractedSignal) []Proposal {
	fallbackSport := ingest.FirstNonEmpty(
		ingest.NormalizeSport(sig.Sport),
		ingest.NormalizeSport(doc.Sport),
		ingest.DetectSport(doc.Title+" "+doc.Description),
	)
	athletes := validAthletes(sig.AthleteMentions, fallbackSport)
	exercises := validExercises(sig.ExerciseMentions, fallbackSport)

	var out []Proposal
	for _, a := range athletes {
		out = append(out, Proposal{
			Type:       ingest.QueueAthlete,
			Key:        ingest.Slug(a.name),
			Payload:    ingest.AthleteProposal{Name: a.name, Sport: a.sport},
			Confidence: ingest.ClampConfidence(sig.Confidence),
		})
	}

	hint := ""
	if len(athletes) > 0 {
		hint = athletes[0].name
	}
	for _, e := range exercises {
		out = append(out, Proposal{
			Type:       ingest.QueueExercise,
			Key:        ingest.Slug(e.name),
			Payload:    ingest.ExerciseProposal{Name: e.name, Sport: e.sport, Category: e.category, AthleteHint: hint},
			Confidence: ingest.ClampConfidence(sig.Confidence - exerciseDiscount),
		})
	}

	// Links are only proposed for named athletes. The publisher's sport fallback athlete covers
	// link payloads whose athlete is a placeholder.
	for _, a := range head(athletes, maxLinkAthletes) {
		for _, e := range head(exercises, maxLinkExercises) {
			out = append(out, Proposal{
				Type: ingest.QueueAthleteExercise,
				Key:  ingest.Slug(a.name) + "--" + ingest.Slug(e.name),
				Payload: ingest.AthleteExerciseProposal{
					AthleteName:  a.name,
					ExerciseName: e.name,
					Sport:        ingest.FirstNonEmpty(e.sport, a.sport),
					Category:     e.category,
				},
				Confidence: ingest.ClampConfidence(sig.Confidence - linkDiscount),
			})
		}
	}

	steps := RoutineSteps(doc.Description)
	summary := strings.TrimSpace(sig.RoutineSummary)
	if summary != "" || len(steps) > 0 || len(exercises) > 0 {
		title := strings.TrimSpace(doc.Title)
		key := ingest.Slug(title)
		if key == "" {
			key = "routine"
		}
		names := make([]string, 0, len(exercises))
		for _, e := range exercises {
			names = append(names, e.name)
		}
		out = append(out, Proposal{
			Type:       ingest.QueueRoutine,
			Key:        key,
			Payload:    ingest.RoutineProposal{Title: title, Sport: fallbackSport, Summary: summary, Steps: steps, Exercises: names},
			Confidence: ingest.ClampConfidence(sig.Confidence - routineDiscount),
		})
	}
	return out
}

func validAthletes(mentions []ingest.AthleteMention, fallbackSport string) []athlete {
	var out []athlete
	seen := map[string]struct{}{}
	for _, m := range mentions {
		name := strings.TrimSpace(m.Name)
		if ingest.IsPlaceholderName(name) {
			continue
		}
		sport := ingest.FirstNonEmpty(ingest.NormalizeSport(m.Sport), fallbackSport)
		if sport == "" {
			continue
		}
		key := ingest.Slug(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, athlete{name: name, sport: sport})
	}
	return out
}

func validExercises(mentions []ingest.ExerciseMention, fallbackSport string) []exercise {
	var out []exercise
	seen := map[string]struct{}{}
	for _, m := range mentions {
		name := strings.TrimSpace(m.Name)
		if ingest.IsPlaceholderName(name) {
			continue
		}
		sport := ingest.FirstNonEmpty(ingest.NormalizeSport(m.Sport), fallbackSport)
		if sport == "" {
			continue
		}
		key := ingest.Slug(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		category := m.Category
		if !ingest.ValidCategory(category) {
			category = ingest.InferCategory(name)
		}
		out = append(out, exercise{name: name, sport: sport, category: category})
	}
	return out
}

var stepLine = regexp.MustCompile(`^\s*(?:\d{1,2}[.)]|[-*•])\s+(.+?)\s*$`)

// RoutineSteps extracts numbered or bulleted lines from a description, in order.
func RoutineSteps(description string) []string {
	var steps []string
	for _, line := range strings.Split(description, "\n") {
		m := stepLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		steps = append(steps, m[1])
		if len(steps) == maxRoutineSteps {
			break
		}
	}
	return steps
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
