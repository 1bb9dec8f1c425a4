// Package postgres provides the Postgres-backed project store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTable = "projects"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for project updates.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ProjectStore updates screenshot references on existing project rows.
type ProjectStore struct {
	pool  execCloser
	table string
}

// NewProjectStore connects a pool using cfg.
func NewProjectStore(ctx context.Context, cfg Config) (*ProjectStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProjectStore{pool: pool, table: table}, nil
}

// NewProjectStoreWithPool constructs a store from an existing pool.
func NewProjectStoreWithPool(pool execCloser, table string) (*ProjectStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ProjectStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *ProjectStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpdateScreenshot sets screenshot_url on the project row. A missing row is an error.
func (s *ProjectStore) UpdateScreenshot(ctx context.Context, projectID, url string, at time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("project store is not configured")
	}
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	query := fmt.Sprintf(`UPDATE %s SET screenshot_url = $1, updated_at = $2 WHERE id = $3`, s.table)
	tag, err := s.pool.Exec(ctx, query, url, at, projectID)
	if err != nil {
		return fmt.Errorf("update project %s: %w", projectID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s not found", projectID)
	}
	return nil
}
