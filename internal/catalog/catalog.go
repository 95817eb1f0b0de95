package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/domain"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// Catalog wraps the runs database.
type Catalog struct {
	db     *sql.DB
	driver string
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg config.CatalogConfig) (*Catalog, error) {
	var driverName, dsn string
	switch cfg.Driver {
	case "sqlite":
		driverName = "sqlite3"
		dsn = cfg.SQLite.Path
	case "postgres":
		driverName = "postgres"
		dsn = cfg.Postgres.DSN
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown catalog driver: %s", cfg.Driver), nil)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, domain.ConfigError("open catalog database", err)
	}

	switch cfg.Driver {
	case "sqlite":
		if cfg.SQLite.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.SQLite.MaxOpenConns)
		}
	case "postgres":
		if cfg.Postgres.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		}
		if cfg.Postgres.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		}
		if cfg.Postgres.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.ConfigError("connect to catalog database", err)
	}

	c := &Catalog{db: db, driver: cfg.Driver}

	if cfg.Driver == "sqlite" && cfg.SQLite.JournalMode != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA journal_mode=%s", cfg.SQLite.JournalMode)); err != nil {
			db.Close()
			return nil, domain.ConfigError("set catalog journal mode", err)
		}
	}

	if err := c.applySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// applySchema creates the tables and indexes when they do not exist yet.
func (c *Catalog) applySchema(ctx context.Context) error {
	var stmts []string
	switch c.driver {
	case "sqlite":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS runs (
				id TEXT PRIMARY KEY,
				root TEXT NOT NULL,
				output_root TEXT,
				backend TEXT NOT NULL,
				resumed INTEGER NOT NULL DEFAULT 0,
				interrupted INTEGER NOT NULL DEFAULT 0,
				discovered INTEGER NOT NULL DEFAULT 0,
				succeeded INTEGER NOT NULL DEFAULT 0,
				failed INTEGER NOT NULL DEFAULT 0,
				skipped INTEGER NOT NULL DEFAULT 0,
				cached INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP NOT NULL,
				finished_at TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS documents (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL,
				path TEXT NOT NULL,
				output_path TEXT,
				status TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				error TEXT,
				size_bytes INTEGER NOT NULL DEFAULT 0,
				sha256 TEXT,
				metadata TEXT,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_run ON documents(run_id)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path)`,
		}
	default:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS runs (
				id TEXT PRIMARY KEY,
				root TEXT NOT NULL,
				output_root TEXT,
				backend TEXT NOT NULL,
				resumed BOOLEAN NOT NULL DEFAULT FALSE,
				interrupted BOOLEAN NOT NULL DEFAULT FALSE,
				discovered INTEGER NOT NULL DEFAULT 0,
				succeeded INTEGER NOT NULL DEFAULT 0,
				failed INTEGER NOT NULL DEFAULT 0,
				skipped INTEGER NOT NULL DEFAULT 0,
				cached INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMPTZ NOT NULL,
				finished_at TIMESTAMPTZ
			)`,
			`CREATE TABLE IF NOT EXISTS documents (
				id BIGSERIAL PRIMARY KEY,
				run_id TEXT NOT NULL,
				path TEXT NOT NULL,
				output_path TEXT,
				status TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				error TEXT,
				size_bytes BIGINT NOT NULL DEFAULT 0,
				sha256 TEXT,
				metadata TEXT,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_run ON documents(run_id)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return domain.ConfigError("apply catalog schema", err)
		}
	}
	return nil
}

// CreateRun inserts a new run row.
func (c *Catalog) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO runs (id, root, output_root, backend, resumed, interrupted,
			discovered, succeeded, failed, skipped, cached, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := c.db.ExecContext(ctx, query,
		run.ID, run.Root, run.OutputRoot, run.Backend, run.Resumed, run.Interrupted,
		run.Discovered, run.Succeeded, run.Failed, run.Skipped, run.Cached,
		run.StartedAt, run.FinishedAt,
	)
	return err
}

// FinishRun updates the run's counters and closing state.
func (c *Catalog) FinishRun(ctx context.Context, run *Run) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	query := `
		UPDATE runs
		SET interrupted = $1, discovered = $2, succeeded = $3, failed = $4,
			skipped = $5, cached = $6, finished_at = $7
		WHERE id = $8
	`
	_, err := c.db.ExecContext(ctx, query,
		run.Interrupted, run.Discovered, run.Succeeded, run.Failed,
		run.Skipped, run.Cached, run.FinishedAt, run.ID,
	)
	return err
}

// GetRun retrieves a run by ID.
func (c *Catalog) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, root, output_root, backend, resumed, interrupted,
			discovered, succeeded, failed, skipped, cached, started_at, finished_at
		FROM runs WHERE id = $1
	`
	run := &Run{}
	var finishedAt sql.NullTime
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Root, &run.OutputRoot, &run.Backend, &run.Resumed, &run.Interrupted,
		&run.Discovered, &run.Succeeded, &run.Failed, &run.Skipped, &run.Cached,
		&run.StartedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

// ListRuns lists the most recent runs.
func (c *Catalog) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit < 1 {
		limit = 20
	}
	query := `
		SELECT id, root, output_root, backend, resumed, interrupted,
			discovered, succeeded, failed, skipped, cached, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var finishedAt sql.NullTime
		if err := rows.Scan(
			&run.ID, &run.Root, &run.OutputRoot, &run.Backend, &run.Resumed, &run.Interrupted,
			&run.Discovered, &run.Succeeded, &run.Failed, &run.Skipped, &run.Cached,
			&run.StartedAt, &finishedAt,
		); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordDocument inserts the terminal outcome of one file within a run.
func (c *Catalog) RecordDocument(ctx context.Context, rec *DocumentRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	var metadata sql.NullString
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode document metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO documents (run_id, path, output_path, status, attempts,
			error, size_bytes, sha256, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := c.db.ExecContext(ctx, query,
		rec.RunID, rec.Path, rec.OutputPath, string(rec.Status), rec.Attempts,
		rec.Error, rec.SizeBytes, rec.SHA256, metadata, rec.UpdatedAt,
	)
	return err
}

// ListDocuments lists all document records for a run, ordered by path.
func (c *Catalog) ListDocuments(ctx context.Context, runID string) ([]*DocumentRecord, error) {
	query := `
		SELECT id, run_id, path, output_path, status, attempts,
			error, size_bytes, sha256, metadata, updated_at
		FROM documents
		WHERE run_id = $1
		ORDER BY path
	`
	rows, err := c.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*DocumentRecord
	for rows.Next() {
		rec := &DocumentRecord{}
		var status string
		var metadata sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Path, &rec.OutputPath, &status, &rec.Attempts,
			&rec.Error, &rec.SizeBytes, &rec.SHA256, &metadata, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.Status = domain.Status(status)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode document metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
