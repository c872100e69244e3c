package results

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/settings-crawler/internal/crawler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const timestampLayout = "20060102_150405"

// FileName returns the result file name for a run: <host>_<YYYYmmdd_HHMMSS>.json.
func FileName(res *crawler.RunResult) string {
	host := "unknown"
	if u, err := url.Parse(res.StartURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	// Colons in IPv6 hosts are not portable in file names.
	host = strings.ReplaceAll(host, ":", "_")

	ts := res.FinishedAt
	if ts.IsZero() {
		ts = res.StartedAt
	}
	return fmt.Sprintf("%s_%s.json", host, ts.Format(timestampLayout))
}

// Encode writes res as indented JSON.
func Encode(w io.Writer, res *crawler.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// Load reads a run result previously written by JSONWriter.
func Load(path string) (*crawler.RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}
	var res crawler.RunResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse result file %s: %w", path, err)
	}
	return &res, nil
}

// JSONWriter stores each run result as a file in a directory.
type JSONWriter struct {
	dir string

	mu   sync.Mutex
	last string
}

// NewJSONWriter creates a writer for dir. The directory is created on first save.
func NewJSONWriter(dir string) *JSONWriter {
	return &JSONWriter{dir: dir}
}

// Name identifies the sink in logs.
func (w *JSONWriter) Name() string { return "json" }

// LastPath returns the file written by the most recent successful Save.
func (w *JSONWriter) LastPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Save writes res to <dir>/<host>_<timestamp>.json.
func (w *JSONWriter) Save(_ context.Context, res *crawler.RunResult) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	path := filepath.Join(w.dir, FileName(res))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create result file %s: %w", path, err)
	}
	if err := Encode(f, res); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close result file: %w", err)
	}

	w.mu.Lock()
	w.last = path
	w.mu.Unlock()
	return nil
}
