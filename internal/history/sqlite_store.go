package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/kdbxdiff/internal/events"
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// SQLiteStore implements SQLite-based history storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore opens or creates the history database at dbPath.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_history"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS comparisons (
        id TEXT PRIMARY KEY,
        created_at INTEGER NOT NULL,
        before_name TEXT NOT NULL,
        before_sha256 TEXT NOT NULL,
        before_version TEXT NOT NULL,
        after_name TEXT NOT NULL,
        after_sha256 TEXT NOT NULL,
        after_version TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS comparison_counts (
        comparison_id TEXT NOT NULL,
        kind TEXT NOT NULL,
        count INTEGER NOT NULL,
        PRIMARY KEY (comparison_id, kind),
        FOREIGN KEY (comparison_id) REFERENCES comparisons(id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_comparisons_created ON comparisons(created_at);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Record implements Store.
func (s *SQLiteStore) Record(ctx context.Context, r *Record) error {
	r.prepare()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
        INSERT OR REPLACE INTO comparisons
            (id, created_at, before_name, before_sha256, before_version,
             after_name, after_sha256, after_version)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, r.ID, r.Time.UnixMilli(),
		r.Before.Name, r.Before.SHA256, r.Before.Version,
		r.After.Name, r.After.SHA256, r.After.Version)
	if err != nil {
		return fmt.Errorf("insert comparison: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM comparison_counts WHERE comparison_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clear counts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO comparison_counts (comparison_id, kind, count) VALUES (?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare counts: %w", err)
	}
	defer stmt.Close()

	for kind, n := range r.Counts {
		if _, err := stmt.ExecContext(ctx, r.ID, kind, n); err != nil {
			return fmt.Errorf("insert count %s: %w", kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"id":      r.ID,
		"changes": r.Total(),
	}).Debug("Recorded comparison")
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	rows, err := s.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, `ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
}

func (s *SQLiteStore) query(ctx context.Context, where string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, created_at, before_name, before_sha256, before_version,
               after_name, after_sha256, after_version
        FROM comparisons `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query comparisons: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r  Record
			ms int64
		)
		if err := rows.Scan(&r.ID, &ms,
			&r.Before.Name, &r.Before.SHA256, &r.Before.Version,
			&r.After.Name, &r.After.SHA256, &r.After.Version); err != nil {
			return nil, fmt.Errorf("scan comparison row: %w", err)
		}
		r.Time = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comparisons: %w", err)
	}

	for i := range out {
		if out[i].Counts, err = s.counts(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) counts(ctx context.Context, id string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT kind, count FROM comparison_counts WHERE comparison_id = ?
    `, id)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
