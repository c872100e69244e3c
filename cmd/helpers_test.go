package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/browser"
	"github.com/xkilldash9x/settings-crawler/internal/config"
	"github.com/xkilldash9x/settings-crawler/internal/crawler"
	"github.com/xkilldash9x/settings-crawler/internal/results"
)

// staticPage is a browser.Page that always shows the same document.
type staticPage struct {
	url string
	doc string
}

func (p *staticPage) URL() string                                  { return p.url }
func (p *staticPage) Navigate(context.Context, string) error       { return nil }
func (p *staticPage) WaitForLoad(context.Context) error            { return nil }
func (p *staticPage) Snapshot(context.Context) (string, error)     { return p.doc, nil }
func (p *staticPage) Hover(context.Context, string) error          { return nil }
func (p *staticPage) ScrollIntoView(context.Context, string) error { return nil }
func (p *staticPage) Click(context.Context, string, browser.ClickOptions) error {
	return nil
}
func (p *staticPage) DOMClick(context.Context, string) error { return nil }
func (p *staticPage) Focus(context.Context, string) error    { return nil }
func (p *staticPage) Press(context.Context, string) error    { return nil }
func (p *staticPage) ScrollBy(context.Context, int) error    { return nil }
func (p *staticPage) ExpectPopup(ctx context.Context, action func(context.Context) error) (browser.Page, error) {
	if err := action(ctx); err != nil {
		return nil, err
	}
	return nil, browser.ErrNoPopup
}
func (p *staticPage) Close() error { return nil }

type pageHolder struct {
	mu   sync.Mutex
	page browser.Page
}

func (h *pageHolder) Page() browser.Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.page
}

func (h *pageHolder) SetPage(p browser.Page) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.page = p
}

const privacyPage = `<html><head><title>Privacy</title></head><body>
	<h1>Privacy settings</h1>
	<div role="switch" aria-checked="true" aria-label="Share usage data"></div>
	<input type="checkbox" aria-label="Personalized ads" checked>
	<a href="/download">Download your data</a>
</body></html>`

// MockComponentFactory is a testify mock of ComponentFactory.
type MockComponentFactory struct {
	mock.Mock
}

func (m *MockComponentFactory) Create(ctx context.Context, cfg *config.Config, startURL string, logger *zap.Logger) (*Components, error) {
	args := m.Called(ctx, cfg, startURL, logger)
	if c := args.Get(0); c != nil {
		return c.(*Components), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRunSourceFactory is a testify mock of RunSourceFactory.
type MockRunSourceFactory struct {
	mock.Mock
}

func (m *MockRunSourceFactory) Open(ctx context.Context, cfg *config.Config, source string, logger *zap.Logger) (RunSource, func(), error) {
	args := m.Called(ctx, cfg, source, logger)
	var src RunSource
	if s := args.Get(0); s != nil {
		src = s.(RunSource)
	}
	var cleanup func()
	if fn := args.Get(1); fn != nil {
		cleanup = fn.(func())
	}
	return src, cleanup, args.Error(2)
}

type mapSource map[string]*crawler.RunResult

func (m mapSource) Run(_ context.Context, runID string) (*crawler.RunResult, error) {
	return m[runID], nil
}

// newTestConfig returns the default configuration tuned for fast traversals
// of in-memory pages.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Results.Dir = filepath.Join(t.TempDir(), "results")
	cfg.History.Dir = filepath.Join(t.TempDir(), "history")
	cfg.Network.PostLoadWait = 0
	cfg.Network.LoadStateTimeout = 50 * time.Millisecond
	cfg.Crawler.BannerAttempts = 1
	cfg.Crawler.BannerInterval = 0
	cfg.Crawler.ExpansionSettle = 0
	cfg.Crawler.StateChangeTimeout = 40 * time.Millisecond
	cfg.Crawler.PollInterval = 5 * time.Millisecond
	return cfg
}

// newTestComponents wires a static page and a JSON sink.
func newTestComponents(cfg *config.Config, pageURL, doc string) *Components {
	w := results.NewJSONWriter(cfg.Results.Dir)
	return &Components{
		Holder: &pageHolder{page: &staticPage{url: pageURL, doc: doc}},
		Sinks:  []results.Sink{w},
		JSON:   w,
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
