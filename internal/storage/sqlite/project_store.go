// Package sqlite provides a single-file project store for self-hosted deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table.
type Config struct {
	DSN   string
	Table string
}

// Project is a stored project row.
type Project struct {
	ID            string
	ScreenshotURL string
	UpdatedAt     time.Time
}

// ProjectStore upserts screenshot references into SQLite.
type ProjectStore struct {
	db    *sql.DB
	table string
}

// Open opens (or creates) the database and ensures the project table exists.
func Open(ctx context.Context, cfg Config) (*ProjectStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "projects"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	screenshot_url TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL DEFAULT 0
)`, table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &ProjectStore{db: db, table: table}, nil
}

// Close closes the database handle.
func (s *ProjectStore) Close() error {
	return s.db.Close()
}

// UpdateScreenshot upserts the project's screenshot reference.
func (s *ProjectStore) UpdateScreenshot(ctx context.Context, projectID, url string, at time.Time) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, screenshot_url, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET screenshot_url = excluded.screenshot_url, updated_at = excluded.updated_at`, s.table)
	if _, err := s.db.ExecContext(ctx, query, projectID, url, at.UnixMilli()); err != nil {
		return fmt.Errorf("upsert project %s: %w", projectID, err)
	}
	return nil
}

// Get loads one project row. The boolean is false when no row exists.
func (s *ProjectStore) Get(ctx context.Context, projectID string) (Project, bool, error) {
	query := fmt.Sprintf(`SELECT id, screenshot_url, updated_at FROM %s WHERE id = ?`, s.table)
	var (
		p  Project
		ms int64
	)
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(&p.ID, &p.ScreenshotURL, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, false, nil
	}
	if err != nil {
		return Project{}, false, fmt.Errorf("get project %s: %w", projectID, err)
	}
	p.UpdatedAt = time.UnixMilli(ms).UTC()
	return p, true, nil
}
