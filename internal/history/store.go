// Package history persists an audit log of dispatch outcomes in SQLite.
// The dedup session itself never persists; this store exists so a host can
// inspect what ran, when, and how it ended.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"skillrun/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatches (
		id          TEXT PRIMARY KEY,
		session     TEXT NOT NULL,
		skill       TEXT NOT NULL,
		args        TEXT,
		outcome     TEXT NOT NULL,
		result_len  INTEGER NOT NULL DEFAULT 0,
		error       TEXT,
		cache_hit   INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dispatches_session ON dispatches(session);
	CREATE INDEX IF NOT EXISTS idx_dispatches_created ON dispatches(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordDispatch appends one dispatch record.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, rec domain.DispatchRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatches (id, session, skill, args, outcome, result_len, error, cache_hit, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Session, rec.Skill, rec.ArgsJSON, rec.Outcome,
		rec.ResultLen, rec.Error, boolToInt(rec.CacheHit),
		rec.Duration.Milliseconds(), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch record: %w", err)
	}
	return nil
}

// Recent returns the newest records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.DispatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, skill, args, outcome, result_len, error, cache_hit, duration_ms, created_at
		FROM dispatches ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	var out []domain.DispatchRecord
	for rows.Next() {
		var rec domain.DispatchRecord
		var cacheHit, durationMs int64
		var created string
		if err := rows.Scan(&rec.ID, &rec.Session, &rec.Skill, &rec.ArgsJSON, &rec.Outcome,
			&rec.ResultLen, &rec.Error, &cacheHit, &durationMs, &created); err != nil {
			return nil, fmt.Errorf("scan dispatch record: %w", err)
		}
		rec.CacheHit = cacheHit != 0
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune removes records older than the retention window.
func (s *SQLiteStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM dispatches WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune dispatches: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned dispatch history", "removed", n)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
