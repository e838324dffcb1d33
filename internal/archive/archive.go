// Package archive stores generated interview reports in PostgreSQL together
// with the sanitized transcript they were generated from.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/panelai/internal/feedback"
)

// ErrNotFound is returned by [Store.Report] for an unknown id.
var ErrNotFound = errors.New("archive: report not found")

// Schema is the SQL DDL for the interview_reports table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS interview_reports (
    id             TEXT PRIMARY KEY,
    job_title      TEXT NOT NULL DEFAULT '',
    interview_type TEXT NOT NULL DEFAULT 'General',
    difficulty     TEXT NOT NULL DEFAULT '',
    overall_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
    transcript     JSONB NOT NULL DEFAULT '[]',
    report         JSONB NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_interview_reports_created ON interview_reports(created_at DESC);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [feedback.Archive] backed by PostgreSQL.
type Store struct {
	db    DB
	close func()
}

// Compile-time interface check.
var _ feedback.Archive = (*Store)(nil)

// New returns a Store on db. The caller owns db and should call
// [Store.Migrate] before the first write.
func New(db DB) *Store {
	return &Store{db: db, close: func() {}}
}

// Open connects a pool to dsn, verifies it and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool opened by [Open]. It is a no-op for stores built
// with [New].
func (s *Store) Close() { s.close() }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("archive: ping: %w", err)
	}
	return nil
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// SaveReport inserts rec. Saving an id twice keeps the first report.
func (s *Store) SaveReport(ctx context.Context, rec feedback.Record) error {
	if rec.ID == "" {
		return errors.New("archive: record id is required")
	}
	transcriptJSON, err := json.Marshal(emptyItems(rec.Request.Transcript))
	if err != nil {
		return fmt.Errorf("archive: marshal transcript: %w", err)
	}
	reportJSON, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("archive: marshal report: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO interview_reports (
			id, job_title, interview_type, difficulty, overall_score,
			transcript, report, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING`

	cfg := rec.Request.Config
	if _, err := s.db.Exec(ctx, query,
		rec.ID, cfg.JobTitle, cfg.InterviewType, cfg.Difficulty, rec.Report.OverallScore,
		transcriptJSON, reportJSON, createdAt,
	); err != nil {
		return fmt.Errorf("archive: save report: %w", err)
	}
	return nil
}

// Report loads the record stored under id.
func (s *Store) Report(ctx context.Context, id string) (feedback.Record, error) {
	const query = `
		SELECT id, job_title, interview_type, difficulty, transcript, report, created_at
		FROM interview_reports WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return feedback.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return feedback.Record{}, fmt.Errorf("archive: load report: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]feedback.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT id, job_title, interview_type, difficulty, transcript, report, created_at
		FROM interview_reports ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list reports: %w", err)
	}
	defer rows.Close()

	var out []feedback.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("archive: scan report: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: list reports: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (feedback.Record, error) {
	var (
		rec            feedback.Record
		transcriptJSON []byte
		reportJSON     []byte
	)
	cfg := &rec.Request.Config
	if err := row.Scan(&rec.ID, &cfg.JobTitle, &cfg.InterviewType, &cfg.Difficulty,
		&transcriptJSON, &reportJSON, &rec.CreatedAt); err != nil {
		return feedback.Record{}, err
	}
	if err := json.Unmarshal(transcriptJSON, &rec.Request.Transcript); err != nil {
		return feedback.Record{}, fmt.Errorf("unmarshal transcript: %w", err)
	}
	if err := json.Unmarshal(reportJSON, &rec.Report); err != nil {
		return feedback.Record{}, fmt.Errorf("unmarshal report: %w", err)
	}
	return rec, nil
}

func emptyItems(items []feedback.Item) []feedback.Item {
	if items == nil {
		return []feedback.Item{}
	}
	return items
}
