package ingest

import (
	"fmt"
	"sort"
)

var documentTransitions = map[ProcessingState][]ProcessingState{
	StateCollected:  {StateExtracted, StateDiscarded, StateError},
	StateExtracted:  {StateQueued, StateNormalized, StateError},
	StateQueued:     {StateNormalized, StatePublished},
	StateNormalized: {StatePublished},
	// error re-enters collected for a retry; nothing else moves backward.
	StateError: {StateCollected},
}

// CanAdvanceDocument reports whether a document may move from one processing state to another.
func CanAdvanceDocument(from, to ProcessingState) bool {
	for _, next := range documentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DocumentPredecessors lists the states from which a document may enter to. It includes to itself
// so that repeating a write is idempotent.
func DocumentPredecessors(to ProcessingState) []ProcessingState {
	out := []ProcessingState{to}
	for from, nexts := range documentTransitions {
		for _, next := range nexts {
			if next == to && from != to {
				out = append(out, from)
			}
		}
	}
	sort.Slice(out[1:], func(i, j int) bool { return out[1+i] < out[1+j] })
	return out
}

// CheckDocumentTransition returns an error describing an illegal document transition.
func CheckDocumentTransition(from, to ProcessingState) error {
	if from != to && !CanAdvanceDocument(from, to) {
		return fmt.Errorf("%w: document %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

var videoRank = map[VideoState]int{
	VideoPending:      0,
	VideoDownloading:  1,
	VideoTranscribing: 2,
	VideoAnalyzing:    3,
	VideoCompleted:    4,
	VideoSkipped:      4,
	VideoFailed:       4,
}

// IsTerminal reports whether a video state ends the sub-pipeline.
func (s VideoState) IsTerminal() bool {
	return s == VideoCompleted || s == VideoSkipped || s == VideoFailed
}

// CanAdvanceVideo reports whether a video ingest may move between states. States only move forward;
// a failed ingest may restart at pending when its document is retried.
func CanAdvanceVideo(from, to VideoState) bool {
	if from == VideoFailed && to == VideoPending {
		return true
	}
	fromRank, okFrom := videoRank[from]
	toRank, okTo := videoRank[to]
	if !okFrom || !okTo || from.IsTerminal() {
		return false
	}
	return toRank > fromRank
}
