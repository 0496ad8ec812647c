// Package memory provides in-memory implementations of the pipeline store and the artifact blob
// store for development, dry runs, and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// Store implements ingest.Store with maps guarded by one lock. Uniqueness rules mirror the
// Postgres schema so stage behavior is identical across drivers.
type Store struct {
	mu sync.RWMutex

	sources       map[string]ingest.ContentSource
	docs          map[string]ingest.SourceDocument
	fingerprints  map[string]string
	videos        map[string]ingest.VideoIngest // by document id
	segments      map[string][]ingest.TranscriptSegment
	frames        map[string][]ingest.FrameDetection
	events        map[string][]ingest.ExerciseEvent
	signals       map[string]ingest.ExtractedSignal // by document id + version
	queue         map[string]ingest.ModerationQueueItem
	queueKeys     map[string]string
	athletes      map[string]ingest.Athlete
	exercises     map[string]ingest.Exercise
	links         map[string]ingest.AthleteExercise
	routines      map[string]ingest.Routine
	drills        map[string]ingest.Drill
	published     map[string]ingest.PublishedRecord // by queue item id
	insertCounter int64
	order         map[string]int64
}

var _ ingest.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sources:      make(map[string]ingest.ContentSource),
		docs:         make(map[string]ingest.SourceDocument),
		fingerprints: make(map[string]string),
		videos:       make(map[string]ingest.VideoIngest),
		segments:     make(map[string][]ingest.TranscriptSegment),
		frames:       make(map[string][]ingest.FrameDetection),
		events:       make(map[string][]ingest.ExerciseEvent),
		signals:      make(map[string]ingest.ExtractedSignal),
		queue:        make(map[string]ingest.ModerationQueueItem),
		queueKeys:    make(map[string]string),
		athletes:     make(map[string]ingest.Athlete),
		exercises:    make(map[string]ingest.Exercise),
		links:        make(map[string]ingest.AthleteExercise),
		routines:     make(map[string]ingest.Routine),
		drills:       make(map[string]ingest.Drill),
		published:    make(map[string]ingest.PublishedRecord),
		order:        make(map[string]int64),
	}
}

// Close implements ingest.Store.
func (s *Store) Close() {}

// seq records insertion order so list queries are stable when timestamps tie.
func (s *Store) seq(id string) {
	if _, ok := s.order[id]; ok {
		return
	}
	s.insertCounter++
	s.order[id] = s.insertCounter
}

// AddSource registers a content source; sources are operator-managed so there is no port for it.
func (s *Store) AddSource(src ingest.ContentSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
	s.seq(src.ID)
}

// ListActiveSources returns active sources, least recently collected first.
func (s *Store) ListActiveSources(_ context.Context, limit int) ([]ingest.ContentSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.ContentSource, 0, len(s.sources))
	for _, src := range s.sources {
		if src.Active {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastCollectedAt, out[j].LastCollectedAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return capList(out, limit), nil
}

// GetSource fetches one source.
func (s *Store) GetSource(_ context.Context, id string) (ingest.ContentSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return ingest.ContentSource{}, fmt.Errorf("source %s: %w", id, ingest.ErrNotFound)
	}
	return src, nil
}

// MarkSourceCollected stamps last_collected_at.
func (s *Store) MarkSourceCollected(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ingest.ErrNotFound)
	}
	ts := at
	src.LastCollectedAt = &ts
	s.sources[id] = src
	return nil
}

// InsertDocument stores a document, rejecting a repeated fingerprint with ErrDuplicate.
func (s *Store) InsertDocument(_ context.Context, doc ingest.SourceDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.fingerprints[doc.Fingerprint]; exists {
		return fmt.Errorf("document fingerprint %s: %w", doc.Fingerprint, ingest.ErrDuplicate)
	}
	if _, exists := s.docs[doc.ID]; exists {
		return fmt.Errorf("document %s: %w", doc.ID, ingest.ErrDuplicate)
	}
	s.docs[doc.ID] = doc
	s.fingerprints[doc.Fingerprint] = doc.ID
	s.seq(doc.ID)
	return nil
}

// GetDocument fetches one document.
func (s *Store) GetDocument(_ context.Context, id string) (ingest.SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return ingest.SourceDocument{}, fmt.Errorf("document %s: %w", id, ingest.ErrNotFound)
	}
	return doc, nil
}

// ListDocumentsByState returns documents in state, oldest first.
func (s *Store) ListDocumentsByState(_ context.Context, state ingest.ProcessingState, limit int) ([]ingest.SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.SourceDocument
	for _, doc := range s.docs {
		if doc.State == state {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CollectedAt.Equal(out[j].CollectedAt) {
			return out[i].CollectedAt.Before(out[j].CollectedAt)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return capList(out, limit), nil
}

// UpdateDocumentState moves a document forward, rejecting backward moves.
func (s *Store) UpdateDocumentState(_ context.Context, id string, state ingest.ProcessingState, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ingest.ErrNotFound)
	}
	if err := ingest.CheckDocumentTransition(doc.State, state); err != nil {
		return err
	}
	doc.State = state
	doc.StateReason = reason
	doc.UpdatedAt = at
	s.docs[id] = doc
	return nil
}

// GetVideoIngest fetches the ingest row of a document.
func (s *Store) GetVideoIngest(_ context.Context, documentID string) (ingest.VideoIngest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.videos[documentID]
	if !ok {
		return ingest.VideoIngest{}, fmt.Errorf("video ingest for %s: %w", documentID, ingest.ErrNotFound)
	}
	return v, nil
}

// SaveVideoIngest upserts the ingest row keyed by document.
func (s *Store) SaveVideoIngest(_ context.Context, v ingest.VideoIngest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.videos[v.DocumentID]; ok {
		v.ID = existing.ID
	}
	v.AthleteMentions = slices.Clone(v.AthleteMentions)
	s.videos[v.DocumentID] = v
	s.seq(v.ID)
	return nil
}

// ReplaceTranscriptSegments swaps the full segment set of an ingest.
func (s *Store) ReplaceTranscriptSegments(_ context.Context, ingestID string, segments []ingest.TranscriptSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[ingestID] = slices.Clone(segments)
	return nil
}

// ReplaceFrameDetections swaps the full detection set of an ingest.
func (s *Store) ReplaceFrameDetections(_ context.Context, ingestID string, detections []ingest.FrameDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[ingestID] = slices.Clone(detections)
	return nil
}

// ReplaceExerciseEvents swaps the full event set of an ingest.
func (s *Store) ReplaceExerciseEvents(_ context.Context, ingestID string, events []ingest.ExerciseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ingestID] = slices.Clone(events)
	return nil
}

// ListExerciseEvents returns the events of one ingest.
func (s *Store) ListExerciseEvents(_ context.Context, ingestID string) ([]ingest.ExerciseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[ingestID]), nil
}

// ListPublishedVideoEvents returns completed, not yet promoted ingests with events whose document
// has at least one published queue item.
func (s *Store) ListPublishedVideoEvents(_ context.Context, limit int) ([]ingest.VideoEventBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	publishedDocs := map[string]bool{}
	for _, item := range s.queue {
		if item.Status == ingest.QueuePublished {
			publishedDocs[item.DocumentID] = true
		}
	}
	var out []ingest.VideoEventBatch
	for docID, v := range s.videos {
		events := s.events[v.ID]
		if v.State != ingest.VideoCompleted || v.DrillsPublishedAt != nil || !publishedDocs[docID] || len(events) == 0 {
			continue
		}
		out = append(out, ingest.VideoEventBatch{Ingest: v, Document: s.docs[docID], Events: slices.Clone(events)})
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].Ingest.ID] < s.order[out[j].Ingest.ID] })
	return capList(out, limit), nil
}

// MarkDrillsPublished records that an ingest's events reached the drill catalog.
func (s *Store) MarkDrillsPublished(_ context.Context, ingestID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for docID, v := range s.videos {
		if v.ID != ingestID {
			continue
		}
		ts := at
		v.DrillsPublishedAt = &ts
		s.videos[docID] = v
		return nil
	}
	return fmt.Errorf("video ingest %s: %w", ingestID, ingest.ErrNotFound)
}

func signalKey(documentID, version string) string { return documentID + "\x00" + version }

// UpsertSignal inserts or overwrites the (document, version) signal.
func (s *Store) UpsertSignal(_ context.Context, signal ingest.ExtractedSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := signalKey(signal.DocumentID, signal.Version)
	if existing, ok := s.signals[key]; ok {
		signal.ID = existing.ID
		signal.CreatedAt = existing.CreatedAt
	}
	s.signals[key] = signal
	return nil
}

// GetSignal fetches a signal by document and version.
func (s *Store) GetSignal(_ context.Context, documentID, version string) (ingest.ExtractedSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[signalKey(documentID, version)]
	if !ok {
		return ingest.ExtractedSignal{}, fmt.Errorf("signal %s/%s: %w", documentID, version, ingest.ErrNotFound)
	}
	return sig, nil
}

func queueKey(item ingest.ModerationQueueItem) string {
	return item.DocumentID + "\x00" + string(item.QueueType) + "\x00" + item.ProposalKey
}

// InsertQueueItem stores a proposal unless the (document, type, key) triple exists.
func (s *Store) InsertQueueItem(_ context.Context, item ingest.ModerationQueueItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := queueKey(item)
	if _, exists := s.queueKeys[key]; exists {
		return false, nil
	}
	item.Attribution = slices.Clone(item.Attribution)
	s.queue[item.ID] = item
	s.queueKeys[key] = item.ID
	s.seq(item.ID)
	return true, nil
}

// ListQueueItems returns items in status, oldest first.
func (s *Store) ListQueueItems(_ context.Context, status ingest.QueueStatus, limit int) ([]ingest.ModerationQueueItem, error) {
	return s.listQueue(limit, func(item ingest.ModerationQueueItem) bool { return item.Status == status }), nil
}

// ListUnreviewedQueueItems returns pending items without a review stamp, oldest first.
func (s *Store) ListUnreviewedQueueItems(_ context.Context, limit int) ([]ingest.ModerationQueueItem, error) {
	return s.listQueue(limit, func(item ingest.ModerationQueueItem) bool {
		return item.Status == ingest.QueuePending && item.ReviewedAt == nil
	}), nil
}

func (s *Store) listQueue(limit int, keep func(ingest.ModerationQueueItem) bool) []ingest.ModerationQueueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.ModerationQueueItem
	for _, item := range s.queue {
		if keep(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return capList(out, limit)
}

// UpdateQueueItemStatus records a decision or publication.
func (s *Store) UpdateQueueItemStatus(_ context.Context, id string, status ingest.QueueStatus, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return fmt.Errorf("queue item %s: %w", id, ingest.ErrNotFound)
	}
	item.Status = status
	if note != "" {
		item.ReviewerNote = note
	}
	ts := at
	switch status {
	case ingest.QueuePending, ingest.QueueApproved, ingest.QueueRejected:
		item.ReviewedAt = &ts
	case ingest.QueuePublished:
		item.PublishedAt = &ts
	}
	s.queue[id] = item
	return nil
}

// CountDocumentQueue summarizes the proposals of one document.
func (s *Store) CountDocumentQueue(_ context.Context, documentID string) (ingest.DocumentQueueCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts ingest.DocumentQueueCounts
	for _, item := range s.queue {
		if item.DocumentID != documentID {
			continue
		}
		switch item.Status {
		case ingest.QueuePending, ingest.QueueApproved:
			counts.Open++
		case ingest.QueuePublished:
			counts.Published++
		case ingest.QueueRejected:
			counts.Rejected++
		}
	}
	return counts, nil
}

// FindAthlete matches by case- and accent-insensitive name within a sport.
func (s *Store) FindAthlete(_ context.Context, name, sport string) (ingest.Athlete, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := ingest.NaturalKey(name, sport)
	for _, a := range s.athletes {
		if ingest.NaturalKey(a.Name, a.Sport) == want {
			return a, nil
		}
	}
	return ingest.Athlete{}, fmt.Errorf("athlete %q: %w", name, ingest.ErrNotFound)
}

// SaveAthlete upserts by ID.
func (s *Store) SaveAthlete(_ context.Context, a ingest.Athlete) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Attribution = slices.Clone(a.Attribution)
	s.athletes[a.ID] = a
	s.seq(a.ID)
	return nil
}

// FindExercise matches by case- and accent-insensitive name within a sport.
func (s *Store) FindExercise(_ context.Context, name, sport string) (ingest.Exercise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := ingest.NaturalKey(name, sport)
	for _, e := range s.exercises {
		if ingest.NaturalKey(e.Name, e.Sport) == want {
			return e, nil
		}
	}
	return ingest.Exercise{}, fmt.Errorf("exercise %q: %w", name, ingest.ErrNotFound)
}

// SaveExercise upserts by ID.
func (s *Store) SaveExercise(_ context.Context, e ingest.Exercise) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Attribution = slices.Clone(e.Attribution)
	s.exercises[e.ID] = e
	s.seq(e.ID)
	return nil
}

// FindAthleteExercise matches a link by its endpoints.
func (s *Store) FindAthleteExercise(_ context.Context, athleteID, exerciseID string) (ingest.AthleteExercise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.links {
		if l.AthleteID == athleteID && l.ExerciseID == exerciseID {
			return l, nil
		}
	}
	return ingest.AthleteExercise{}, fmt.Errorf("athlete exercise %s/%s: %w", athleteID, exerciseID, ingest.ErrNotFound)
}

// SaveAthleteExercise upserts by ID.
func (s *Store) SaveAthleteExercise(_ context.Context, l ingest.AthleteExercise) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.Attribution = slices.Clone(l.Attribution)
	s.links[l.ID] = l
	s.seq(l.ID)
	return nil
}

// FindRoutine matches by case- and accent-insensitive title within a sport.
func (s *Store) FindRoutine(_ context.Context, title, sport string) (ingest.Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := ingest.NaturalKey(title, sport)
	for _, r := range s.routines {
		if ingest.NaturalKey(r.Title, r.Sport) == want {
			return r, nil
		}
	}
	return ingest.Routine{}, fmt.Errorf("routine %q: %w", title, ingest.ErrNotFound)
}

// SaveRoutine upserts by ID.
func (s *Store) SaveRoutine(_ context.Context, r ingest.Routine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Attribution = slices.Clone(r.Attribution)
	r.Steps = slices.Clone(r.Steps)
	r.Exercises = slices.Clone(r.Exercises)
	s.routines[r.ID] = r
	s.seq(r.ID)
	return nil
}

// FindDrill fetches a drill by its deterministic key.
func (s *Store) FindDrill(_ context.Context, key string) (ingest.Drill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.drills {
		if d.Key == key {
			return d, nil
		}
	}
	return ingest.Drill{}, fmt.Errorf("drill %s: %w", key, ingest.ErrNotFound)
}

// SaveDrill upserts by ID.
func (s *Store) SaveDrill(_ context.Context, d ingest.Drill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.Attribution = slices.Clone(d.Attribution)
	s.drills[d.ID] = d
	s.seq(d.ID)
	return nil
}

// InsertPublishedRecord stores the audit row unless the queue item already has one.
func (s *Store) InsertPublishedRecord(_ context.Context, record ingest.PublishedRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.published[record.QueueItemID]; exists {
		return false, nil
	}
	s.published[record.QueueItemID] = record
	s.seq(record.ID)
	return true, nil
}

// ListAthleteNames returns canonical athlete names in name order.
func (s *Store) ListAthleteNames(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.athletes))
	for _, a := range s.athletes {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return capList(names, limit), nil
}

// ListExerciseNames returns canonical exercise names in name order.
func (s *Store) ListExerciseNames(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.exercises))
	for _, e := range s.exercises {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return capList(names, limit), nil
}

func capList[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
