package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/crawler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    service     TEXT NOT NULL DEFAULT '',
    start_url   TEXT NOT NULL,
    final_url   TEXT NOT NULL,
    success     BOOLEAN NOT NULL,
    click_count INTEGER NOT NULL,
    path        JSONB NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    state       TEXT NOT NULL,
    visited     JSONB NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS controls (
    run_id     TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    label      TEXT NOT NULL,
    type       TEXT NOT NULL,
    selector   TEXT NOT NULL,
    url        TEXT NOT NULL,
    state      TEXT NOT NULL DEFAULT '',
    categories TEXT[] NOT NULL,
    PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS idx_runs_start_url ON runs (start_url);
`

const upsertRunSQL = `
INSERT INTO runs (run_id, service, start_url, final_url, success, click_count, path, reason, state, visited, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (run_id) DO UPDATE SET
    final_url = EXCLUDED.final_url,
    success = EXCLUDED.success,
    click_count = EXCLUDED.click_count,
    path = EXCLUDED.path,
    reason = EXCLUDED.reason,
    state = EXCLUDED.state,
    visited = EXCLUDED.visited,
    finished_at = EXCLUDED.finished_at;
`

const deleteControlsSQL = `DELETE FROM controls WHERE run_id = $1;`

var controlColumns = []string{"run_id", "position", "label", "type", "selector", "url", "state", "categories"}

// Store persists run results to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a connection pool for databaseURL and wraps it in a Store.
// The returned close function releases the pool.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the runs and controls tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Name identifies the sink in logs.
func (s *Store) Name() string { return "postgres" }

// Save writes a run and replaces its controls in one transaction.
func (s *Store) Save(ctx context.Context, res *crawler.RunResult) error {
	path, err := json.Marshal(res.Path)
	if err != nil {
		return fmt.Errorf("failed to encode path: %w", err)
	}
	visited, err := json.Marshal(res.Visited)
	if err != nil {
		return fmt.Errorf("failed to encode visited screens: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, upsertRunSQL,
		res.RunID, res.Service, res.StartURL, res.FinalURL,
		res.Success, res.ClickCount, path, res.Reason, string(res.State), visited,
		res.StartedAt.UTC(), res.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", res.RunID, err)
	}
	if _, err := tx.Exec(ctx, deleteControlsSQL, res.RunID); err != nil {
		return fmt.Errorf("failed to clear controls of run %s: %w", res.RunID, err)
	}
	if len(res.Controls) > 0 {
		if err := s.copyControls(ctx, tx, res.RunID, res.Controls); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Persisted run.", zap.String("run_id", res.RunID), zap.Int("controls", len(res.Controls)))
	return nil
}

func (s *Store) copyControls(ctx context.Context, tx pgx.Tx, runID string, controls []crawler.Control) error {
	rows := make([][]any, len(controls))
	for i, c := range controls {
		categories := c.Categories
		if categories == nil {
			categories = []string{}
		}
		rows[i] = []any{runID, i, c.Label, string(c.Type), c.Selector, c.URL, c.State, categories}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"controls"}, controlColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy controls: %w", err)
	}
	if int(n) != len(controls) {
		return fmt.Errorf("mismatch in copied controls count: expected %d, got %d", len(controls), n)
	}
	return nil
}

// ControlsByRunID returns the controls of a run in harvest order.
func (s *Store) ControlsByRunID(ctx context.Context, runID string) ([]crawler.Control, error) {
	query := `
        SELECT label, type, selector, url, state, categories
        FROM controls
        WHERE run_id = $1
        ORDER BY position ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query controls: %w", err)
	}
	defer rows.Close()

	var out []crawler.Control
	for rows.Next() {
		var c crawler.Control
		var typ string
		if err := rows.Scan(&c.Label, &typ, &c.Selector, &c.URL, &c.State, &c.Categories); err != nil {
			return nil, fmt.Errorf("failed to scan control row: %w", err)
		}
		c.Type = crawler.ControlType(typ)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Run loads a stored run with its controls. It returns nil when the run is unknown.
func (s *Store) Run(ctx context.Context, runID string) (*crawler.RunResult, error) {
	query := `
        SELECT service, start_url, final_url, success, click_count, path, reason, state, visited, started_at, finished_at
        FROM runs
        WHERE run_id = $1;
    `
	res := &crawler.RunResult{RunID: runID}
	var (
		path, visited []byte
		state         string
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&res.Service, &res.StartURL, &res.FinalURL, &res.Success, &res.ClickCount,
		&path, &res.Reason, &state, &visited, &res.StartedAt, &res.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	res.State = crawler.EvalState(state)
	if err := json.Unmarshal(path, &res.Path); err != nil {
		return nil, fmt.Errorf("corrupt path for run %s: %w", runID, err)
	}
	if err := json.Unmarshal(visited, &res.Visited); err != nil {
		return nil, fmt.Errorf("corrupt visited screens for run %s: %w", runID, err)
	}

	controls, err := s.ControlsByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	res.Controls = controls
	if res.Controls == nil {
		res.Controls = []crawler.Control{}
	}
	return res, nil
}
