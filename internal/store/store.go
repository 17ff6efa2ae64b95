// Package store persists a ledger of forge runs in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoDatabase is returned by Connect when no database URL is configured.
var ErrNoDatabase = errors.New("no database configured")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Attempt is a single verification recorded for a run.
type Attempt struct {
	Number      int
	Succeeded   bool
	ExitCode    int
	Unavailable bool
	Output      string
}

// Run is one CreatePlugin invocation.
type Run struct {
	ID                string
	VulnerabilityType string
	PluginName        string
	ExtractionTier    int
	DefaultedFields   []string
	Attempts          int
	Repairs           int
	Succeeded         bool
	UnavailableCount  int
	Location          string
	LastOutput        string
	CreatedAt         time.Time
	// History is written by RecordRun and left empty by ListRuns.
	History []Attempt
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS forge_runs (
    id UUID PRIMARY KEY,
    vulnerability_type TEXT NOT NULL,
    plugin_name TEXT NOT NULL,
    extraction_tier INT NOT NULL,
    defaulted_fields JSONB NOT NULL DEFAULT '[]',
    attempts INT NOT NULL,
    repairs INT NOT NULL,
    succeeded BOOLEAN NOT NULL,
    unavailable_count INT NOT NULL,
    location TEXT NOT NULL,
    last_output TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS forge_attempts (
    run_id UUID NOT NULL REFERENCES forge_runs(id) ON DELETE CASCADE,
    attempt INT NOT NULL,
    succeeded BOOLEAN NOT NULL,
    exit_code INT NOT NULL,
    unavailable BOOLEAN NOT NULL,
    output TEXT NOT NULL,
    PRIMARY KEY (run_id, attempt)
);
`

const insertRunSQL = `
INSERT INTO forge_runs (id, vulnerability_type, plugin_name, extraction_tier, defaulted_fields,
    attempts, repairs, succeeded, unavailable_count, location, last_output, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`

const listRunsSQL = `
SELECT id, vulnerability_type, plugin_name, extraction_tier, defaulted_fields,
    attempts, repairs, succeeded, unavailable_count, location, last_output, created_at
FROM forge_runs
ORDER BY created_at DESC
LIMIT $1;
`

var attemptColumns = []string{"run_id", "attempt", "succeeded", "exit_code", "unavailable", "output"}

// Ledger records forge runs.
type Ledger struct {
	pool DBPool
	log  *zap.Logger
}

// NewLedger creates a ledger on pool and verifies the connection.
func NewLedger(ctx context.Context, pool DBPool, logger *zap.Logger) (*Ledger, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Ledger{pool: pool, log: logger.Named("store")}, nil
}

// Connect opens a pgx pool for url and wraps it in a Ledger. The returned
// close function releases the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Ledger, func(), error) {
	if url == "" {
		return nil, nil, ErrNoDatabase
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	ledger, err := NewLedger(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return ledger, pool.Close, nil
}

// EnsureSchema creates the ledger tables when they are missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// RecordRun inserts run and its attempt history in one transaction.
func (l *Ledger) RecordRun(ctx context.Context, run Run) error {
	defaulted := run.DefaultedFields
	if defaulted == nil {
		defaulted = []string{}
	}
	defaultedJSON, err := json.Marshal(defaulted)
	if err != nil {
		return fmt.Errorf("failed to encode defaulted fields: %w", err)
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			l.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, insertRunSQL,
		run.ID, run.VulnerabilityType, run.PluginName, run.ExtractionTier, defaultedJSON,
		run.Attempts, run.Repairs, run.Succeeded, run.UnavailableCount,
		run.Location, run.LastOutput, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	if len(run.History) > 0 {
		rows := make([][]any, len(run.History))
		for i, a := range run.History {
			rows[i] = []any{run.ID, a.Number, a.Succeeded, a.ExitCode, a.Unavailable, a.Output}
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"forge_attempts"}, attemptColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy attempts: %w", err)
		}
		if int(copied) != len(rows) {
			return fmt.Errorf("mismatch in copied attempts count: expected %d, got %d", len(rows), copied)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	l.log.Debug("Recorded run.", zap.String("run_id", run.ID), zap.Bool("succeeded", run.Succeeded))
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var defaulted []byte
		err := rows.Scan(
			&r.ID, &r.VulnerabilityType, &r.PluginName, &r.ExtractionTier, &defaulted,
			&r.Attempts, &r.Repairs, &r.Succeeded, &r.UnavailableCount,
			&r.Location, &r.LastOutput, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if len(defaulted) > 0 {
			if err := json.Unmarshal(defaulted, &r.DefaultedFields); err != nil {
				return nil, fmt.Errorf("failed to decode defaulted fields for run %s: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
