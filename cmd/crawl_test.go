package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/settings-crawler/internal/crawler"
	"github.com/xkilldash9x/settings-crawler/internal/results"
)

const sitesYAML = `
defaults:
  extra_denylist: ["billing"]
sites:
  zoom:
    start_url: https://zoom.us/profile
    query: ["recording"]
    max_steps: 6
  bare:
    start_url: example.org
`

func TestResolveTarget(t *testing.T) {
	t.Run("positional argument", func(t *testing.T) {
		cfg := newTestConfig(t)
		target, err := resolveTarget(cfg, []string{"example.com/account"}, "", "", overridden{})
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/account", target.StartURL)
		assert.Empty(t, target.Service)
	})

	t.Run("service from sites file", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Crawler.SitesFile = writeFile(t, "sites.yaml", sitesYAML)

		target, err := resolveTarget(cfg, nil, "Zoom", "", overridden{})
		require.NoError(t, err)
		assert.Equal(t, "https://zoom.us/profile", target.StartURL)
		assert.Equal(t, "Zoom", target.Service)
		assert.Equal(t, []string{"recording"}, cfg.Crawler.Query)
		assert.Equal(t, 6, cfg.Crawler.MaxSteps)
		assert.Equal(t, []string{"billing"}, cfg.Crawler.ExtraDenylist)
	})

	t.Run("command line wins over the site entry", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Crawler.SitesFile = writeFile(t, "sites.yaml", sitesYAML)
		cfg.Crawler.Query = []string{"privacy"}
		cfg.Crawler.MaxSteps = 3

		target, err := resolveTarget(cfg, []string{"https://zoom.us/account"}, "zoom", "", overridden{query: true, maxSteps: true})
		require.NoError(t, err)
		assert.Equal(t, "https://zoom.us/account", target.StartURL)
		assert.Equal(t, []string{"privacy"}, cfg.Crawler.Query)
		assert.Equal(t, 3, cfg.Crawler.MaxSteps)
	})

	t.Run("site without scheme", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Crawler.SitesFile = writeFile(t, "sites.yaml", sitesYAML)
		target, err := resolveTarget(cfg, nil, "bare", "", overridden{})
		require.NoError(t, err)
		assert.Equal(t, "https://example.org", target.StartURL)
	})

	t.Run("unknown service", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Crawler.SitesFile = writeFile(t, "sites.yaml", sitesYAML)
		_, err := resolveTarget(cfg, nil, "slack", "", overridden{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `service "slack" not found`)
	})

	t.Run("json file", func(t *testing.T) {
		cfg := newTestConfig(t)
		path := writeFile(t, "prev.json", `[{"final_url": "https://example.com/settings"}, {"url": "https://ignored.example"}]`)
		target, err := resolveTarget(cfg, nil, "", path, overridden{})
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/settings", target.StartURL)
	})

	t.Run("nothing to start from", func(t *testing.T) {
		_, err := resolveTarget(newTestConfig(t), nil, "", "", overridden{})
		assert.ErrorIs(t, err, crawler.ErrNoStartURL)
	})
}

func TestStartURLFromJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"start_url preferred", `{"start_url": "https://a.example", "url": "https://b.example"}`, "https://a.example", false},
		{"url fallback", `{"url": "https://b.example", "final_url": "https://c.example"}`, "https://b.example", false},
		{"final_url fallback", `{"final_url": "https://c.example"}`, "https://c.example", false},
		{"empty strings skipped", `{"start_url": "  ", "url": "https://b.example"}`, "https://b.example", false},
		{"first element of array", `[{"url": "https://first.example"}]`, "https://first.example", false},
		{"empty array", `[]`, "", true},
		{"no url keys", `{"service": "zoom"}`, "", true},
		{"not an object", `"https://a.example"`, "", true},
		{"invalid json", `{`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := startURLFromJSON(writeFile(t, "doc.json", tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := startURLFromJSON("does-not-exist.json")
	assert.Error(t, err)
}

func TestRunCrawl(t *testing.T) {
	ctx := context.Background()

	t.Run("successful crawl writes and prints the result", func(t *testing.T) {
		cfg := newTestConfig(t)
		target := crawlTarget{StartURL: "https://example.com/settings/privacy", Service: "example"}
		components := newTestComponents(cfg, target.StartURL, privacyPage)

		factory := new(MockComponentFactory)
		factory.On("Create", mock.Anything, cfg, target.StartURL, mock.AnythingOfType("*zap.Logger")).Return(components, nil)

		var out bytes.Buffer
		err := runCrawl(ctx, zaptest.NewLogger(t), cfg, target, factory, &out)
		require.NoError(t, err)
		factory.AssertExpectations(t)

		var printed crawler.RunResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
		assert.True(t, printed.Success)
		assert.Equal(t, 0, printed.ClickCount)
		assert.Equal(t, "example", printed.Service)
		assert.NotEmpty(t, printed.Controls)

		require.NotEmpty(t, components.JSON.LastPath())
		saved, err := results.Load(components.JSON.LastPath())
		require.NoError(t, err)
		assert.Equal(t, printed.RunID, saved.RunID)
	})

	t.Run("unsuccessful crawl still completes", func(t *testing.T) {
		cfg := newTestConfig(t)
		target := crawlTarget{StartURL: "https://example.com/"}
		components := newTestComponents(cfg, target.StartURL,
			`<html><body><a href="/account/delete">Delete account</a></body></html>`)

		factory := new(MockComponentFactory)
		factory.On("Create", mock.Anything, cfg, target.StartURL, mock.Anything).Return(components, nil)

		var out bytes.Buffer
		require.NoError(t, runCrawl(ctx, zap.NewNop(), cfg, target, factory, &out))

		var printed crawler.RunResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
		assert.False(t, printed.Success)
		assert.Equal(t, "no candidates", printed.Reason)
	})

	t.Run("a failing sink does not fail the crawl", func(t *testing.T) {
		cfg := newTestConfig(t)
		// A regular file where the results directory should be.
		blocker := writeFile(t, "results", "not a directory")
		cfg.Results.Dir = blocker
		target := crawlTarget{StartURL: "https://example.com/settings/privacy"}
		components := newTestComponents(cfg, target.StartURL, privacyPage)

		factory := new(MockComponentFactory)
		factory.On("Create", mock.Anything, cfg, target.StartURL, mock.Anything).Return(components, nil)

		var out bytes.Buffer
		require.NoError(t, runCrawl(ctx, zap.NewNop(), cfg, target, factory, &out))
		assert.Contains(t, out.String(), `"success": true`)
		assert.Empty(t, components.JSON.LastPath())

		info, err := os.Stat(blocker)
		require.NoError(t, err)
		assert.False(t, info.IsDir())
	})

	t.Run("unreachable start page still yields a result", func(t *testing.T) {
		cfg := newTestConfig(t)
		target := crawlTarget{StartURL: "https://unreachable.example/"}
		components := newTestComponents(cfg, "about:blank", "<html><body></body></html>")
		components.StartErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

		factory := new(MockComponentFactory)
		factory.On("Create", mock.Anything, cfg, target.StartURL, mock.Anything).Return(components, nil)

		var out bytes.Buffer
		require.NoError(t, runCrawl(ctx, zap.NewNop(), cfg, target, factory, &out))

		var printed crawler.RunResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
		assert.False(t, printed.Success)
		assert.Equal(t, crawler.ReasonStartFailed, printed.Reason)
		assert.Equal(t, crawler.StateExhausted, printed.State)
		assert.Equal(t, target.StartURL, printed.StartURL)
		assert.NotEmpty(t, components.JSON.LastPath(), "the result file is written")
	})

	t.Run("invalid evaluator pattern fails before any browser starts", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Evaluator.URLPatterns = []string{"(settings"}
		target := crawlTarget{StartURL: "https://example.com/"}

		factory := new(MockComponentFactory)

		var out bytes.Buffer
		err := runCrawl(ctx, zap.NewNop(), cfg, target, factory, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid crawl options")
		factory.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.Empty(t, out.String())
	})

	t.Run("setup failure is an error", func(t *testing.T) {
		cfg := newTestConfig(t)
		target := crawlTarget{StartURL: "https://example.com/"}
		setupErr := errors.New("storage state file missing")

		factory := new(MockComponentFactory)
		factory.On("Create", mock.Anything, cfg, target.StartURL, mock.Anything).Return(nil, setupErr)

		var out bytes.Buffer
		err := runCrawl(ctx, zap.NewNop(), cfg, target, factory, &out)
		require.Error(t, err)
		assert.ErrorIs(t, err, setupErr)
		assert.Contains(t, err.Error(), "failed to initialize crawl components")
		assert.Empty(t, out.String())
	})
}

func TestComponents_Shutdown(t *testing.T) {
	var order []string
	c := &Components{}
	c.onShutdown(func(context.Context) error { order = append(order, "db"); return nil })
	c.onShutdown(func(context.Context) error { order = append(order, "driver"); return errors.New("already closed") })
	c.onShutdown(func(context.Context) error { order = append(order, "session"); return nil })

	c.Shutdown(context.Background())
	assert.Equal(t, []string{"session", "driver", "db"}, order)

	c.Shutdown(context.Background())
	assert.Len(t, order, 3, "shutdown runs once")
}
