package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/settings-crawler/internal/config"
	"github.com/xkilldash9x/settings-crawler/internal/observability"
)

// executeCommand runs the command tree with args and returns its stdout.
func executeCommand(t *testing.T, components ComponentFactory, sources RunSourceFactory, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := newRootCommand(components, sources)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Version(t *testing.T) {
	out, err := executeCommand(t, nil, nil, "--version")
	require.NoError(t, err)
	assert.Equal(t, "settings-crawler version dev\n", out)

	out, err = executeCommand(t, nil, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "settings-crawler dev")
}

func TestRootCommand_CrawlFlagsReachConfig(t *testing.T) {
	resultsDir := filepath.Join(t.TempDir(), "out")
	var captured *config.Config

	factory := new(MockComponentFactory)
	factory.On("Create", mock.Anything, mock.MatchedBy(func(cfg *config.Config) bool {
		captured = cfg
		return true
	}), "https://example.com/account", mock.Anything).Return(nil, errors.New("no browser in tests"))

	_, err := executeCommand(t, factory, nil,
		"crawl", "example.com/account",
		"--max-steps", "3",
		"--results-dir", resultsDir,
		"--query", "privacy,sharing",
		"--driver", "chromedp",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser in tests")
	factory.AssertExpectations(t)

	require.NotNil(t, captured)
	assert.Equal(t, 3, captured.Crawler.MaxSteps)
	assert.Equal(t, resultsDir, captured.Results.Dir)
	assert.Equal(t, []string{"privacy", "sharing"}, captured.Crawler.Query)
	assert.Equal(t, config.DriverChromedp, captured.Browser.Driver)
}

func TestRootCommand_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CRAWLER_CRAWLER_MAX_STEPS", "7")
	var captured *config.Config

	factory := new(MockComponentFactory)
	factory.On("Create", mock.Anything, mock.MatchedBy(func(cfg *config.Config) bool {
		captured = cfg
		return true
	}), mock.Anything, mock.Anything).Return(nil, errors.New("stop"))

	_, err := executeCommand(t, factory, nil, "crawl", "https://example.com")
	require.Error(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, 7, captured.Crawler.MaxSteps)
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	t.Setenv("CRAWLER_BROWSER_DRIVER", "bogus")

	factory := new(MockComponentFactory)
	_, err := executeCommand(t, factory, nil, "crawl", "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load or validate config")
	factory.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRootCommand_InvalidURLPatternInConfigFile(t *testing.T) {
	cfgFile := writeFile(t, "config.yaml", "evaluator:\n  url_patterns: [\"(settings\"]\n")

	factory := new(MockComponentFactory)
	_, err := executeCommand(t, factory, nil, "--config", cfgFile, "crawl", "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid url_patterns entry")
	factory.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRootCommand_CrawlWithoutTarget(t *testing.T) {
	factory := new(MockComponentFactory)
	_, err := executeCommand(t, factory, nil, "crawl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no start URL")
	factory.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRootCommand_EmptyHistory(t *testing.T) {
	t.Setenv("CRAWLER_HISTORY_DIR", t.TempDir())

	out, err := executeCommand(t, nil, nil, "history")
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded.\n", out)
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}
