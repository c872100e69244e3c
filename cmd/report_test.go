package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/crawler"
	"github.com/xkilldash9x/settings-crawler/internal/results"
)

func sampleResult() *crawler.RunResult {
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &crawler.RunResult{
		RunID:      "run-42",
		Service:    "zoom",
		StartURL:   "https://zoom.us/profile",
		Success:    true,
		ClickCount: 2,
		Path:       []string{"Settings", "Privacy"},
		FinalURL:   "https://zoom.us/profile/setting/privacy",
		Reason:     "url pattern",
		State:      crawler.StateSuccess,
		Controls: []crawler.Control{
			{Label: "Share usage data", Type: crawler.ControlToggle, Selector: "#share", State: "on", Categories: []string{"sharing"}},
		},
		StartedAt:  started,
		FinishedAt: started.Add(20 * time.Second),
	}
}

// writeResult stores res the way the crawl command does and returns the path.
func writeResult(t *testing.T, res *crawler.RunResult) string {
	t.Helper()
	w := results.NewJSONWriter(t.TempDir())
	require.NoError(t, w.Save(context.Background(), res))
	return w.LastPath()
}

func TestRunReport_FromFile(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	path := writeResult(t, sampleResult())

	t.Run("markdown to stdout", func(t *testing.T) {
		var out bytes.Buffer
		err := runReport(ctx, zap.NewNop(), cfg, path, reportOptions{format: "markdown"}, nil, &out)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "# Settings Crawl Report: zoom")
		assert.Contains(t, out.String(), "Share usage data")
		assert.Contains(t, out.String(), "Privacy")
	})

	t.Run("json to stdout", func(t *testing.T) {
		var out bytes.Buffer
		err := runReport(ctx, zap.NewNop(), cfg, path, reportOptions{format: "json"}, nil, &out)
		require.NoError(t, err)

		var decoded crawler.RunResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		assert.Equal(t, "run-42", decoded.RunID)
		assert.Equal(t, []string{"Settings", "Privacy"}, decoded.Path)
	})

	t.Run("markdown to a file", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "report.md")
		var out bytes.Buffer
		err := runReport(ctx, zap.NewNop(), cfg, path, reportOptions{format: "md", output: output}, nil, &out)
		require.NoError(t, err)
		assert.Empty(t, out.String())

		data, err := os.ReadFile(output)
		require.NoError(t, err)
		assert.Contains(t, string(data), "## Click Path")
	})

	t.Run("missing file", func(t *testing.T) {
		var out bytes.Buffer
		err := runReport(ctx, zap.NewNop(), cfg, filepath.Join(t.TempDir(), "nope.json"), reportOptions{format: "markdown"}, nil, &out)
		assert.Error(t, err)
	})
}

func TestRunReport_ByRunID(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	res := sampleResult()

	t.Run("found", func(t *testing.T) {
		cleaned := false
		factory := new(MockRunSourceFactory)
		factory.On("Open", mock.Anything, cfg, sourceDatabase, mock.Anything).
			Return(mapSource{res.RunID: res}, func() { cleaned = true }, nil)

		var out bytes.Buffer
		err := runReport(ctx, zap.NewNop(), cfg, "", reportOptions{runID: "run-42", source: sourceDatabase, format: "json"}, factory, &out)
		require.NoError(t, err)
		factory.AssertExpectations(t)
		assert.True(t, cleaned)
		assert.Contains(t, out.String(), `"run_id": "run-42"`)
	})

	t.Run("not found", func(t *testing.T) {
		factory := new(MockRunSourceFactory)
		factory.On("Open", mock.Anything, cfg, sourceHistory, mock.Anything).
			Return(mapSource{}, func() {}, nil)

		var out bytes.Buffer
		err := runReport(ctx, zap.NewNop(), cfg, "", reportOptions{runID: "missing", source: sourceHistory, format: "markdown"}, factory, &out)
		require.Error(t, err)
		assert.Equal(t, "run missing not found in history", err.Error())
	})

	t.Run("source unavailable", func(t *testing.T) {
		factory := new(MockRunSourceFactory)
		factory.On("Open", mock.Anything, cfg, sourceDatabase, mock.Anything).
			Return(nil, nil, errors.New("connection refused"))

		var out bytes.Buffer
		err := runReport(ctx, zap.NewNop(), cfg, "", reportOptions{runID: "run-42", source: sourceDatabase, format: "markdown"}, factory, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open database")
	})
}

func TestRunReport_InvalidInput(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	path := writeResult(t, sampleResult())

	tests := []struct {
		name    string
		file    string
		opts    reportOptions
		wantErr string
	}{
		{"neither file nor run id", "", reportOptions{format: "markdown"}, "pass either a result file or --run-id"},
		{"both file and run id", path, reportOptions{runID: "run-42", format: "markdown"}, "pass either a result file or --run-id"},
		{"unsupported format", path, reportOptions{format: "sarif"}, "unsupported report format: sarif"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runReport(ctx, zap.NewNop(), cfg, tt.file, tt.opts, nil, &out)
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}

	t.Run("unsupported format creates no output file", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "report.txt")
		var out bytes.Buffer
		err := runReport(ctx, zap.NewNop(), cfg, path, reportOptions{format: "html", output: output}, nil, &out)
		require.Error(t, err)
		assert.NoFileExists(t, output)
	})
}

func TestDefaultRunSourceFactory(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	factory := NewRunSourceFactory()

	t.Run("history", func(t *testing.T) {
		src, cleanup, err := factory.Open(ctx, cfg, sourceHistory, zap.NewNop())
		require.NoError(t, err)
		defer cleanup()
		res, err := src.Run(ctx, "unknown")
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("database without url", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Database.URL = ""
		_, _, err := factory.Open(ctx, cfg, sourceDatabase, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database URL is not configured")
	})

	t.Run("unknown source", func(t *testing.T) {
		_, _, err := factory.Open(ctx, cfg, "s3", zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported source "s3"`)
	})
}
