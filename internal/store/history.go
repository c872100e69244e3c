package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/xkilldash9x/settings-crawler/internal/crawler"
)

const historyFile = "history.db"

// HistoryEntry is one row of the local run history.
type HistoryEntry struct {
	RunID      string
	Service    string
	StartURL   string
	FinalURL   string
	Success    bool
	ClickCount int
	Path       []string
	Reason     string
	Controls   int
	FinishedAt time.Time
}

// History keeps a local record of every run in a SQLite database, so
// repeated runs against the same site can be compared without a server.
type History struct {
	db   *sql.DB
	path string
}

// OpenHistory opens or creates the history database under dir.
func OpenHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	dbPath := filepath.Join(dir, historyFile)

	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	h := &History{db: db, path: dbPath}
	if err := h.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) createTables() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		service     TEXT NOT NULL DEFAULT '',
		start_url   TEXT NOT NULL,
		final_url   TEXT NOT NULL,
		success     INTEGER NOT NULL,
		click_count INTEGER NOT NULL,
		path        TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		controls    INTEGER NOT NULL,
		result      TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
	CREATE INDEX IF NOT EXISTS idx_runs_start_url ON runs(start_url);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history tables: %w", err)
	}
	return nil
}

// Name identifies the sink in logs.
func (h *History) Name() string { return "history" }

// Path returns the database file location.
func (h *History) Path() string { return h.path }

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Save records a run. Saving the same run twice replaces the earlier row.
func (h *History) Save(ctx context.Context, res *crawler.RunResult) error {
	path, err := json.Marshal(res.Path)
	if err != nil {
		return fmt.Errorf("failed to encode path: %w", err)
	}
	full, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode run result: %w", err)
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, service, start_url, final_url, success, click_count, path, reason, controls, result, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			final_url = excluded.final_url,
			success = excluded.success,
			click_count = excluded.click_count,
			path = excluded.path,
			reason = excluded.reason,
			controls = excluded.controls,
			result = excluded.result,
			finished_at = excluded.finished_at
	`, res.RunID, res.Service, res.StartURL, res.FinalURL, boolToInt(res.Success),
		res.ClickCount, string(path), res.Reason, len(res.Controls), string(full),
		res.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", res.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. A non-empty startURL
// restricts the list to runs against that URL.
func (h *History) Recent(ctx context.Context, startURL string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, service, start_url, final_url, success, click_count, path, reason, controls, finished_at
		FROM runs
		WHERE ? = '' OR start_url = ?
		ORDER BY finished_at DESC
		LIMIT ?
	`, startURL, startURL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var success int
		var path, finished string
		if err := rows.Scan(&e.RunID, &e.Service, &e.StartURL, &e.FinalURL, &success,
			&e.ClickCount, &path, &e.Reason, &e.Controls, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Success = success != 0
		if err := json.Unmarshal([]byte(path), &e.Path); err != nil {
			return nil, fmt.Errorf("corrupt path for run %s: %w", e.RunID, err)
		}
		e.FinishedAt = parseTimestamp(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Run returns the full stored result of a run, or nil if it is unknown.
func (h *History) Run(ctx context.Context, runID string) (*crawler.RunResult, error) {
	var raw string
	err := h.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE run_id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	var res crawler.RunResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("corrupt result for run %s: %w", runID, err)
	}
	return &res, nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
