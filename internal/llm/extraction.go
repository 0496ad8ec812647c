package llm

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

const textSystemPrompt = `You extract combat-sport training information from web documents.
Respond with a single JSON object and nothing else, using exactly these keys:
{"sport": string|null, "relevance_score": number 0-1, "relevance_reason": string,
 "routine_summary": string, "athlete_mentions": [{"name": string, "sport": string}],
 "exercise_mentions": [{"name": string, "category": string}], "confidence": number 0-1}
relevance_score is the probability that the document is genuine training content for a combat sport
(not news, match results, or entertainment). Only name athletes explicitly mentioned. Use null or
empty arrays when unsure.`

const videoSystemPrompt = `You analyze combat-sport training videos from a transcript and sampled frames.
Respond with a single JSON object and nothing else, using exactly these keys:
{"sport": string|null, "relevance_score": number 0-1, "relevance_reason": string,
 "routine_summary": string, "athlete_mentions": [{"name": string, "sport": string}],
 "frame_detections": [{"frame_index": integer, "label": string, "description": string, "confidence": number}],
 "exercise_events": [{"start_second": number, "end_second": number, "sport": string, "exercise_name": string,
   "sets": integer|null, "reps": integer|null, "duration_seconds": integer|null, "rest_seconds": integer|null,
   "confidence": number 0-1, "evidence": string}]}
frame_index must be one of the frame indexes provided. Only report exercises you can see or hear.`

// maxTranscriptChars bounds the transcript sent with a video analysis request.
const maxTranscriptChars = 16000

// Analysis is the validated extraction result.
type Analysis struct {
	Sport           string                   `json:"sport,omitempty"`
	RelevanceScore  float64                  `json:"relevance_score"`
	RelevanceReason string                   `json:"relevance_reason,omitempty"`
	RoutineSummary  string                   `json:"routine_summary,omitempty"`
	Athletes        []ingest.AthleteMention  `json:"athlete_mentions,omitempty"`
	Exercises       []ingest.ExerciseMention `json:"exercise_mentions,omitempty"`
	Frames          []FrameDetection         `json:"frame_detections,omitempty"`
	Events          []Event                  `json:"exercise_events,omitempty"`
	Confidence      float64                  `json:"confidence"`
}

// FrameDetection is an observation tied to a provided frame index.
type FrameDetection struct {
	FrameIndex  int     `json:"frame_index"`
	Label       string  `json:"label"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Event is a timed exercise occurrence.
type Event struct {
	StartSeconds    float64 `json:"start_second"`
	EndSeconds      float64 `json:"end_second"`
	Sport           string  `json:"sport,omitempty"`
	ExerciseName    string  `json:"exercise_name"`
	Sets            *int    `json:"sets,omitempty"`
	Reps            *int    `json:"reps,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
	RestSeconds     *int    `json:"rest_seconds,omitempty"`
	Confidence      float64 `json:"confidence"`
	Evidence        string  `json:"evidence,omitempty"`
}

type analysisWire struct {
	Sport            string      `json:"sport"`
	RelevanceScore   flexFloat   `json:"relevance_score"`
	RelevanceReason  string      `json:"relevance_reason"`
	RoutineSummary   string      `json:"routine_summary"`
	AthleteMentions  []mention   `json:"athlete_mentions"`
	ExerciseMentions []mention   `json:"exercise_mentions"`
	FrameDetections  []frameWire `json:"frame_detections"`
	ExerciseEvents   []eventWire `json:"exercise_events"`
	Confidence       flexFloat   `json:"confidence"`
}

type frameWire struct {
	FrameIndex  flexFloat `json:"frame_index"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	Confidence  flexFloat `json:"confidence"`
}

type eventWire struct {
	StartSecond     flexFloat `json:"start_second"`
	EndSecond       flexFloat `json:"end_second"`
	Sport           string    `json:"sport"`
	ExerciseName    string    `json:"exercise_name"`
	Sets            flexFloat `json:"sets"`
	Reps            flexFloat `json:"reps"`
	DurationSeconds flexFloat `json:"duration_seconds"`
	RestSeconds     flexFloat `json:"rest_seconds"`
	Confidence      flexFloat `json:"confidence"`
	Evidence        string    `json:"evidence"`
}

// TextInput is a web document prepared for extraction.
type TextInput struct {
	Title     string
	URL       string
	SportHint string
	Body      string
}

// ExtractText runs the text-only extraction schema over one document.
func (c *Client) ExtractText(ctx context.Context, model string, in TextInput) (Analysis, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nURL: %s\n", in.Title, in.URL)
	if in.SportHint != "" {
		fmt.Fprintf(&b, "Sport hint: %s\n", in.SportHint)
	}
	b.WriteString("\nContent:\n")
	b.WriteString(in.Body)

	content, err := c.CompleteJSON(ctx, model, textSystemPrompt, []Part{{Text: b.String()}})
	if err != nil {
		return Analysis{}, err
	}
	return parseAnalysis(content, 0)
}

// FrameImage is a sampled frame sent inline.
type FrameImage struct {
	Index            int
	TimestampSeconds float64
	JPEG             []byte
}

// VideoInput is a downloaded video prepared for multimodal analysis.
type VideoInput struct {
	Title       string
	Description string
	Channel     string
	SportHint   string
	Transcript  string
	Frames      []FrameImage
}

// AnalyzeVideo runs one multimodal call combining the transcript and sampled frames.
func (c *Client) AnalyzeVideo(ctx context.Context, model string, in VideoInput) (Analysis, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nChannel: %s\n", in.Title, in.Channel)
	if in.SportHint != "" {
		fmt.Fprintf(&b, "Sport hint: %s\n", in.SportHint)
	}
	if in.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", in.Description)
	}
	transcript := in.Transcript
	if len(transcript) > maxTranscriptChars {
		transcript = transcript[:maxTranscriptChars]
	}
	fmt.Fprintf(&b, "\nTranscript:\n%s\n", transcript)

	parts := []Part{{Text: b.String()}}
	for _, f := range in.Frames {
		parts = append(parts,
			Part{Text: "Frame " + strconv.Itoa(f.Index) + " at " + strconv.FormatFloat(f.TimestampSeconds, 'f', 0, 64) + "s"},
			Part{JPEG: f.JPEG},
		)
	}
	content, err := c.CompleteJSON(ctx, model, videoSystemPrompt, parts)
	if err != nil {
		return Analysis{}, err
	}
	return parseAnalysis(content, len(in.Frames))
}

// parseAnalysis validates model output. Frame detections must reference one of frameCount frames.
func parseAnalysis(content string, frameCount int) (Analysis, error) {
	var wire analysisWire
	if err := DecodeJSON(content, &wire); err != nil {
		return Analysis{}, fmt.Errorf("parse analysis: %w: %w", ingest.ErrMalformed, err)
	}
	if !wire.RelevanceScore.Set {
		return Analysis{}, fmt.Errorf("parse analysis: relevance_score missing: %w", ingest.ErrMalformed)
	}

	out := Analysis{
		Sport:           ingest.NormalizeSport(wire.Sport),
		RelevanceScore:  clampUnit(wire.RelevanceScore.Value),
		RelevanceReason: strings.TrimSpace(wire.RelevanceReason),
		RoutineSummary:  strings.TrimSpace(wire.RoutineSummary),
		Confidence:      ingest.ClampConfidence(wire.Confidence.Value),
	}
	for _, m := range wire.AthleteMentions {
		if m.Name == "" {
			continue
		}
		out.Athletes = append(out.Athletes, ingest.AthleteMention{Name: m.Name, Sport: ingest.NormalizeSport(m.Sport)})
	}
	for _, m := range wire.ExerciseMentions {
		if m.Name == "" {
			continue
		}
		category := strings.ToLower(m.Category)
		if !ingest.ValidCategory(category) {
			category = ""
		}
		out.Exercises = append(out.Exercises, ingest.ExerciseMention{Name: m.Name, Category: category, Sport: ingest.NormalizeSport(m.Sport)})
	}
	for _, f := range wire.FrameDetections {
		idx := int(f.FrameIndex.Value)
		if !f.FrameIndex.Set || float64(idx) != f.FrameIndex.Value || idx < 0 || idx >= frameCount {
			continue
		}
		label := strings.TrimSpace(f.Label)
		if label == "" {
			continue
		}
		out.Frames = append(out.Frames, FrameDetection{
			FrameIndex:  idx,
			Label:       label,
			Description: strings.TrimSpace(f.Description),
			Confidence:  ingest.ClampConfidence(f.Confidence.Value),
		})
	}
	for _, e := range wire.ExerciseEvents {
		name := strings.TrimSpace(e.ExerciseName)
		if name == "" {
			continue
		}
		start := max(e.StartSecond.Value, 0)
		end := max(e.EndSecond.Value, start)
		out.Events = append(out.Events, Event{
			StartSeconds:    start,
			EndSeconds:      end,
			Sport:           ingest.FirstNonEmpty(ingest.NormalizeSport(e.Sport), out.Sport),
			ExerciseName:    name,
			Sets:            e.Sets.intPtr(),
			Reps:            e.Reps.intPtr(),
			DurationSeconds: e.DurationSeconds.intPtr(),
			RestSeconds:     e.RestSeconds.intPtr(),
			Confidence:      ingest.ClampConfidence(e.Confidence.Value),
			Evidence:        strings.TrimSpace(e.Evidence),
		})
	}
	return out, nil
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
