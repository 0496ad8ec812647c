// Package postgres implements the pipeline store on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// psql builds statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements ingest.Store.
type Store struct {
	pool pool
}

var _ ingest.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Schema returns the embedded DDL.
func Schema() string { return schema }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ingest.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func limited(b sq.SelectBuilder, limit int) sq.SelectBuilder {
	if limit > 0 {
		return b.Limit(uint64(limit))
	}
	return b
}

func marshalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return raw, nil
}

func unmarshalJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

// nullJSON keeps an empty raw message as SQL NULL.
func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

const sourceColumns = "id, source_type, platform, query, target_url, metadata, active, last_collected_at"

func scanSource(row rowScanner) (ingest.ContentSource, error) {
	var (
		src        ingest.ContentSource
		sourceType string
		metadata   []byte
	)
	if err := row.Scan(&src.ID, &sourceType, &src.Platform, &src.Query, &src.TargetURL, &metadata, &src.Active, &src.LastCollectedAt); err != nil {
		return ingest.ContentSource{}, err
	}
	src.SourceType = ingest.SourceType(sourceType)
	if err := unmarshalJSON(metadata, &src.Metadata); err != nil {
		return ingest.ContentSource{}, err
	}
	return src, nil
}

// ListActiveSources returns active sources, never-collected first, then least recently collected.
func (s *Store) ListActiveSources(ctx context.Context, limit int) ([]ingest.ContentSource, error) {
	query, args, err := limited(psql.Select(sourceColumns).
		From("content_sources").
		Where(sq.Eq{"active": true}).
		OrderBy("last_collected_at ASC NULLS FIRST", "id"), limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build source query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	var out []ingest.ContentSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// GetSource fetches one source.
func (s *Store) GetSource(ctx context.Context, id string) (ingest.ContentSource, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+sourceColumns+" FROM content_sources WHERE id = $1", id)
	src, err := scanSource(row)
	if err != nil {
		return ingest.ContentSource{}, notFound(err, "source "+id)
	}
	return src, nil
}

// MarkSourceCollected records a successful collection.
func (s *Store) MarkSourceCollected(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, "UPDATE content_sources SET last_collected_at = $1 WHERE id = $2", at, id)
	if err != nil {
		return fmt.Errorf("mark source collected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, ingest.ErrNotFound)
	}
	return nil
}

const documentColumns = "id, source_id, source_type, external_id, url, title, description, author, published_at, " +
	"sport, language, raw, confidence, fingerprint, state, state_reason, collected_at, updated_at"

func scanDocument(row rowScanner) (ingest.SourceDocument, error) {
	var (
		doc               ingest.SourceDocument
		sourceType, state string
		raw               []byte
	)
	if err := row.Scan(&doc.ID, &doc.SourceID, &sourceType, &doc.ExternalID, &doc.URL, &doc.Title, &doc.Description,
		&doc.Author, &doc.PublishedAt, &doc.Sport, &doc.Language, &raw, &doc.Confidence, &doc.Fingerprint,
		&state, &doc.StateReason, &doc.CollectedAt, &doc.UpdatedAt); err != nil {
		return ingest.SourceDocument{}, err
	}
	doc.SourceType = ingest.SourceType(sourceType)
	doc.State = ingest.ProcessingState(state)
	if len(raw) > 0 {
		doc.Raw = json.RawMessage(raw)
	}
	return doc, nil
}

// InsertDocument stores a new document. A repeated fingerprint returns ErrDuplicate.
func (s *Store) InsertDocument(ctx context.Context, doc ingest.SourceDocument) error {
	updated := doc.UpdatedAt
	if updated.IsZero() {
		updated = doc.CollectedAt
	}
	query, args, err := psql.Insert("source_documents").
		Columns("id", "source_id", "source_type", "external_id", "url", "title", "description", "author", "published_at",
			"sport", "language", "raw", "confidence", "fingerprint", "state", "state_reason", "collected_at", "updated_at").
		Values(doc.ID, doc.SourceID, string(doc.SourceType), doc.ExternalID, doc.URL, doc.Title, doc.Description, doc.Author,
			doc.PublishedAt, doc.Sport, doc.Language, nullJSON(doc.Raw), doc.Confidence, doc.Fingerprint, string(doc.State),
			doc.StateReason, doc.CollectedAt, updated).
		ToSql()
	if err != nil {
		return fmt.Errorf("build document insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("document fingerprint %s: %w", doc.Fingerprint, ingest.ErrDuplicate)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument fetches one document.
func (s *Store) GetDocument(ctx context.Context, id string) (ingest.SourceDocument, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+documentColumns+" FROM source_documents WHERE id = $1", id)
	doc, err := scanDocument(row)
	if err != nil {
		return ingest.SourceDocument{}, notFound(err, "document "+id)
	}
	return doc, nil
}

// ListDocumentsByState returns documents in state, oldest collected first.
func (s *Store) ListDocumentsByState(ctx context.Context, state ingest.ProcessingState, limit int) ([]ingest.SourceDocument, error) {
	query, args, err := limited(psql.Select(documentColumns).
		From("source_documents").
		Where(sq.Eq{"state": string(state)}).
		OrderBy("collected_at", "id"), limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build document query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []ingest.SourceDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// UpdateDocumentState moves a document forward. The predecessor check runs in the WHERE clause so
// concurrent writers cannot move a document backward.
func (s *Store) UpdateDocumentState(ctx context.Context, id string, state ingest.ProcessingState, reason string, at time.Time) error {
	preds := ingest.DocumentPredecessors(state)
	allowed := make([]string, 0, len(preds))
	for _, p := range preds {
		allowed = append(allowed, string(p))
	}
	query, args, err := psql.Update("source_documents").
		Set("state", string(state)).
		Set("state_reason", reason).
		Set("updated_at", at).
		Where(sq.Eq{"id": id, "state": allowed}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build state update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document state: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	if err := s.pool.QueryRow(ctx, "SELECT state FROM source_documents WHERE id = $1", id).Scan(&current); err != nil {
		return notFound(err, "document "+id)
	}
	return ingest.CheckDocumentTransition(ingest.ProcessingState(current), state)
}
