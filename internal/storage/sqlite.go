// Package storage persists reminder records in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lazarusking/theaccelbot/internal/jobs"
	"github.com/lazarusking/theaccelbot/internal/logger"
)

// errBadTimestamp marks a row whose next_fire_at cannot be parsed.
var errBadTimestamp = errors.New("invalid next_fire_at")

// Options tune the connection.
type Options struct {
	BusyTimeout time.Duration
}

// SQLiteStore implements jobs.Store. Every method is a single statement.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (creating if needed) the database at path, applies pragmas
// and runs migrations.
func Open(ctx context.Context, path string, opts Options, log *logger.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if err := Migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	if log != nil {
		log.InfoCtx(ctx, "job database opened", logger.Field{Key: "path", Value: path})
	}
	return New(db, log), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, log *logger.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, log: log}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Create(ctx context.Context, r jobs.Record) (string, error) {
	if r.ID == "" {
		return "", errors.New("job id is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, owner_chat, owner_user, payload, recurrence, next_fire_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID, r.OwnerChat, r.OwnerUser, r.Payload, recurrenceValue(r.Recurrence), formatTime(r.NextFireAt))
	if err != nil {
		return "", fmt.Errorf("insert job %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert job %s: %w", r.ID, err)
	}
	if n == 0 {
		return "", fmt.Errorf("insert job %s: %w", r.ID, jobs.ErrDuplicateID)
	}
	return r.ID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (jobs.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_chat, owner_user, payload, recurrence, next_fire_at
		 FROM jobs WHERE id = ?`, id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Record{}, fmt.Errorf("get job %s: %w", id, jobs.ErrNotFound)
	}
	if err != nil {
		return jobs.Record{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) ListByOwner(ctx context.Context, chat int64) ([]jobs.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_chat, owner_user, payload, recurrence, next_fire_at
		 FROM jobs WHERE owner_chat = ? ORDER BY rowid`, chat)
	if err != nil {
		return nil, fmt.Errorf("list jobs for chat %d: %w", chat, err)
	}
	return s.collect(ctx, rows)
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]jobs.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_chat, owner_user, payload, recurrence, next_fire_at
		 FROM jobs ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return s.collect(ctx, rows)
}

func (s *SQLiteStore) UpdateNextFire(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET next_fire_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update job %s: %w", id, jobs.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (jobs.Record, error) {
	var (
		r          jobs.Record
		recurrence sql.NullString
		next       string
	)
	if err := sc.Scan(&r.ID, &r.OwnerChat, &r.OwnerUser, &r.Payload, &recurrence, &next); err != nil {
		return jobs.Record{}, err
	}
	r.Recurrence = jobs.Recurrence(recurrence.String)

	t, err := parseTime(next)
	if err != nil {
		return jobs.Record{}, fmt.Errorf("job %s: %w", r.ID, err)
	}
	r.NextFireAt = t
	return r, nil
}

// collect reads every row. Rows with an unreadable timestamp are logged
// and skipped so one corrupt row cannot block recovery.
func (s *SQLiteStore) collect(ctx context.Context, rows *sql.Rows) ([]jobs.Record, error) {
	defer rows.Close()

	var out []jobs.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if errors.Is(err, errBadTimestamp) {
			if s.log != nil {
				s.log.WarnCtx(ctx, "skipping job with corrupt timestamp", logger.Field{Key: "error", Value: err.Error()})
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func recurrenceValue(r jobs.Recurrence) sql.NullString {
	if r == jobs.RecurrenceNone {
		return sql.NullString{}
	}
	return sql.NullString{String: string(r), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 with any offset, which covers rows written by
// older releases, and normalizes to UTC.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", errBadTimestamp, s, err)
	}
	return t.UTC(), nil
}

var _ jobs.Store = (*SQLiteStore)(nil)
