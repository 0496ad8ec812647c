package memory

import (
	"slices"
	"sort"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// Snapshot is a point-in-time copy of the store contents for assertions and dry-run summaries.
type Snapshot struct {
	Documents  []ingest.SourceDocument
	Queue      []ingest.ModerationQueueItem
	Published  []ingest.PublishedRecord
	Athletes   []ingest.Athlete
	Exercises  []ingest.Exercise
	Links      []ingest.AthleteExercise
	Routines   []ingest.Routine
	Drills     []ingest.Drill
	Segments   map[string][]ingest.TranscriptSegment
	Detections map[string][]ingest.FrameDetection
	Events     map[string][]ingest.ExerciseEvent
}

// Snapshot copies every table in insertion order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Documents:  ordered(s, s.docs, func(d ingest.SourceDocument) string { return d.ID }),
		Queue:      ordered(s, s.queue, func(q ingest.ModerationQueueItem) string { return q.ID }),
		Published:  ordered(s, s.published, func(p ingest.PublishedRecord) string { return p.ID }),
		Athletes:   ordered(s, s.athletes, func(a ingest.Athlete) string { return a.ID }),
		Exercises:  ordered(s, s.exercises, func(e ingest.Exercise) string { return e.ID }),
		Links:      ordered(s, s.links, func(l ingest.AthleteExercise) string { return l.ID }),
		Routines:   ordered(s, s.routines, func(r ingest.Routine) string { return r.ID }),
		Drills:     ordered(s, s.drills, func(d ingest.Drill) string { return d.ID }),
		Segments:   make(map[string][]ingest.TranscriptSegment, len(s.segments)),
		Detections: make(map[string][]ingest.FrameDetection, len(s.frames)),
		Events:     make(map[string][]ingest.ExerciseEvent, len(s.events)),
	}
	for k, v := range s.segments {
		snap.Segments[k] = slices.Clone(v)
	}
	for k, v := range s.frames {
		snap.Detections[k] = slices.Clone(v)
	}
	for k, v := range s.events {
		snap.Events[k] = slices.Clone(v)
	}
	return snap
}

func ordered[K comparable, V any](s *Store, m map[K]V, id func(V) string) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return s.order[id(out[i])] < s.order[id(out[j])] })
	return out
}
