package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

const upsertAthlete = `INSERT INTO athletes (id, natural_key, name, sport, attribution, confidence, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET natural_key = EXCLUDED.natural_key, name = EXCLUDED.name, sport = EXCLUDED.sport,
		attribution = EXCLUDED.attribution, confidence = EXCLUDED.confidence, updated_at = EXCLUDED.updated_at`

// FindAthlete matches by case- and accent-insensitive name within a sport.
func (s *Store) FindAthlete(ctx context.Context, name, sport string) (ingest.Athlete, error) {
	var (
		a           ingest.Athlete
		attribution []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, name, sport, attribution, confidence, created_at, updated_at
		FROM athletes WHERE natural_key = $1`, ingest.NaturalKey(name, sport)).
		Scan(&a.ID, &a.Name, &a.Sport, &attribution, &a.Confidence, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return ingest.Athlete{}, notFound(err, fmt.Sprintf("athlete %q", name))
	}
	return a, unmarshalJSON(attribution, &a.Attribution)
}

// SaveAthlete upserts by id.
func (s *Store) SaveAthlete(ctx context.Context, a ingest.Athlete) error {
	attribution, err := marshalJSON(nonNil(a.Attribution))
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertAthlete, a.ID, ingest.NaturalKey(a.Name, a.Sport), a.Name, a.Sport,
		attribution, a.Confidence, a.CreatedAt, a.UpdatedAt); err != nil {
		return saveErr("athlete", err)
	}
	return nil
}

const upsertExercise = `INSERT INTO exercises (id, natural_key, name, sport, category, attribution, confidence, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET natural_key = EXCLUDED.natural_key, name = EXCLUDED.name, sport = EXCLUDED.sport,
		category = EXCLUDED.category, attribution = EXCLUDED.attribution, confidence = EXCLUDED.confidence,
		updated_at = EXCLUDED.updated_at`

// FindExercise matches by case- and accent-insensitive name within a sport.
func (s *Store) FindExercise(ctx context.Context, name, sport string) (ingest.Exercise, error) {
	var (
		e           ingest.Exercise
		attribution []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, name, sport, category, attribution, confidence, created_at, updated_at
		FROM exercises WHERE natural_key = $1`, ingest.NaturalKey(name, sport)).
		Scan(&e.ID, &e.Name, &e.Sport, &e.Category, &attribution, &e.Confidence, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return ingest.Exercise{}, notFound(err, fmt.Sprintf("exercise %q", name))
	}
	return e, unmarshalJSON(attribution, &e.Attribution)
}

// SaveExercise upserts by id.
func (s *Store) SaveExercise(ctx context.Context, e ingest.Exercise) error {
	attribution, err := marshalJSON(nonNil(e.Attribution))
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertExercise, e.ID, ingest.NaturalKey(e.Name, e.Sport), e.Name, e.Sport, e.Category,
		attribution, e.Confidence, e.CreatedAt, e.UpdatedAt); err != nil {
		return saveErr("exercise", err)
	}
	return nil
}

// FindAthleteExercise matches a link by its endpoints.
func (s *Store) FindAthleteExercise(ctx context.Context, athleteID, exerciseID string) (ingest.AthleteExercise, error) {
	var (
		l           ingest.AthleteExercise
		attribution []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, athlete_id, exercise_id, sport, attribution, confidence, created_at, updated_at
		FROM athlete_exercises WHERE athlete_id = $1 AND exercise_id = $2`, athleteID, exerciseID).
		Scan(&l.ID, &l.AthleteID, &l.ExerciseID, &l.Sport, &attribution, &l.Confidence, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return ingest.AthleteExercise{}, notFound(err, "athlete exercise "+athleteID+"/"+exerciseID)
	}
	return l, unmarshalJSON(attribution, &l.Attribution)
}

// SaveAthleteExercise upserts by id.
func (s *Store) SaveAthleteExercise(ctx context.Context, l ingest.AthleteExercise) error {
	attribution, err := marshalJSON(nonNil(l.Attribution))
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO athlete_exercises
		(id, athlete_id, exercise_id, sport, attribution, confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET attribution = EXCLUDED.attribution, confidence = EXCLUDED.confidence,
			updated_at = EXCLUDED.updated_at`,
		l.ID, l.AthleteID, l.ExerciseID, l.Sport, attribution, l.Confidence, l.CreatedAt, l.UpdatedAt); err != nil {
		return saveErr("athlete exercise", err)
	}
	return nil
}

// FindRoutine matches by case- and accent-insensitive title within a sport.
func (s *Store) FindRoutine(ctx context.Context, title, sport string) (ingest.Routine, error) {
	var (
		r                             ingest.Routine
		steps, exercises, attribution []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, title, sport, summary, steps, exercises, origin, attribution, confidence,
		created_at, updated_at FROM routines WHERE natural_key = $1`, ingest.NaturalKey(title, sport)).
		Scan(&r.ID, &r.Title, &r.Sport, &r.Summary, &steps, &exercises, &r.Origin, &attribution, &r.Confidence,
			&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return ingest.Routine{}, notFound(err, fmt.Sprintf("routine %q", title))
	}
	for _, col := range []struct {
		raw []byte
		dst any
	}{{steps, &r.Steps}, {exercises, &r.Exercises}, {attribution, &r.Attribution}} {
		if err := unmarshalJSON(col.raw, col.dst); err != nil {
			return ingest.Routine{}, err
		}
	}
	return r, nil
}

// SaveRoutine upserts by id.
func (s *Store) SaveRoutine(ctx context.Context, r ingest.Routine) error {
	steps, err := marshalJSON(nonNil(r.Steps))
	if err != nil {
		return err
	}
	exercises, err := marshalJSON(nonNil(r.Exercises))
	if err != nil {
		return err
	}
	attribution, err := marshalJSON(nonNil(r.Attribution))
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO routines
		(id, natural_key, title, sport, summary, steps, exercises, origin, attribution, confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET summary = EXCLUDED.summary, steps = EXCLUDED.steps,
			exercises = EXCLUDED.exercises, attribution = EXCLUDED.attribution, confidence = EXCLUDED.confidence,
			updated_at = EXCLUDED.updated_at`,
		r.ID, ingest.NaturalKey(r.Title, r.Sport), r.Title, r.Sport, r.Summary, steps, exercises, r.Origin,
		attribution, r.Confidence, r.CreatedAt, r.UpdatedAt); err != nil {
		return saveErr("routine", err)
	}
	return nil
}

// FindDrill fetches a drill by its deterministic key.
func (s *Store) FindDrill(ctx context.Context, key string) (ingest.Drill, error) {
	var (
		d           ingest.Drill
		attribution []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, key, name, sport, category, difficulty, evidence, attribution, confidence,
		created_at, updated_at FROM drills WHERE key = $1`, key).
		Scan(&d.ID, &d.Key, &d.Name, &d.Sport, &d.Category, &d.Difficulty, &d.Evidence, &attribution, &d.Confidence,
			&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return ingest.Drill{}, notFound(err, "drill "+key)
	}
	return d, unmarshalJSON(attribution, &d.Attribution)
}

// SaveDrill upserts by id.
func (s *Store) SaveDrill(ctx context.Context, d ingest.Drill) error {
	attribution, err := marshalJSON(nonNil(d.Attribution))
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO drills
		(id, key, name, sport, category, difficulty, evidence, attribution, confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET difficulty = EXCLUDED.difficulty, evidence = EXCLUDED.evidence,
			attribution = EXCLUDED.attribution, confidence = EXCLUDED.confidence, updated_at = EXCLUDED.updated_at`,
		d.ID, d.Key, d.Name, d.Sport, d.Category, d.Difficulty, d.Evidence, attribution, d.Confidence,
		d.CreatedAt, d.UpdatedAt); err != nil {
		return saveErr("drill", err)
	}
	return nil
}

// InsertPublishedRecord stores the audit row unless the queue item already has one.
func (s *Store) InsertPublishedRecord(ctx context.Context, record ingest.PublishedRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO published_records (id, queue_item_id, entity_type, entity_id, published_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (queue_item_id) DO NOTHING`,
		record.ID, record.QueueItemID, record.EntityType, record.EntityID, record.PublishedAt)
	if err != nil {
		return false, fmt.Errorf("insert published record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListAthleteNames returns canonical athlete names in name order.
func (s *Store) ListAthleteNames(ctx context.Context, limit int) ([]string, error) {
	return s.listNames(ctx, "athletes", limit)
}

// ListExerciseNames returns canonical exercise names in name order.
func (s *Store) ListExerciseNames(ctx context.Context, limit int) ([]string, error) {
	return s.listNames(ctx, "exercises", limit)
}

func (s *Store) listNames(ctx context.Context, table string, limit int) ([]string, error) {
	query, args, err := limited(psql.Select("DISTINCT name").From(table).OrderBy("name"), limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s name query: %w", table, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s names: %w", table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan %s names: %w", table, err)
	}
	return names, nil
}

// saveErr maps a natural-key collision on insert to ErrDuplicate.
func saveErr(what string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("save %s: %w", what, ingest.ErrDuplicate)
	}
	return fmt.Errorf("save %s: %w", what, err)
}
