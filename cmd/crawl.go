package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/browser"
	"github.com/xkilldash9x/settings-crawler/internal/config"
	"github.com/xkilldash9x/settings-crawler/internal/crawler"
	"github.com/xkilldash9x/settings-crawler/internal/llmclient"
	"github.com/xkilldash9x/settings-crawler/internal/observability"
	"github.com/xkilldash9x/settings-crawler/internal/results"
	"github.com/xkilldash9x/settings-crawler/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sinkTimeout bounds result persistence, which also runs after cancellation.
const sinkTimeout = 30 * time.Second

// crawlTarget is the resolved input of one crawl.
type crawlTarget struct {
	StartURL string
	Service  string
}

// Components holds the collaborators of one crawl.
type Components struct {
	Holder     crawler.PageHolder
	Classifier llmclient.Classifier
	Sinks      []results.Sink
	JSON       *results.JSONWriter
	// StartErr is set when the browser came up but the start page did not load.
	StartErr error

	closers []func(context.Context) error
}

// Shutdown releases every component in reverse order of creation.
func (c *Components) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](shutdownCtx); err != nil {
			observability.GetLogger().Warn("Error during component shutdown", zap.Error(err))
		}
	}
	c.closers = nil
}

func (c *Components) onShutdown(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

// ComponentFactory creates the components of a crawl. It is an interface so
// tests can run the command without a browser or database.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, startURL string, logger *zap.Logger) (*Components, error)
}

type defaultComponentFactory struct{}

// NewComponentFactory returns the factory used in production.
func NewComponentFactory() ComponentFactory {
	return &defaultComponentFactory{}
}

// Create wires sinks, the optional classifier and finally the browser, so
// that configuration and connectivity problems surface before any browser
// is launched.
func (f *defaultComponentFactory) Create(ctx context.Context, cfg *config.Config, startURL string, logger *zap.Logger) (*Components, error) {
	c := &Components{JSON: results.NewJSONWriter(cfg.Results.Dir)}
	c.Sinks = append(c.Sinks, c.JSON)

	fail := func(err error) (*Components, error) {
		c.Shutdown(ctx)
		return nil, err
	}

	if cfg.Database.URL != "" {
		db, closeDB, err := store.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize database store: %w", err))
		}
		c.onShutdown(func(context.Context) error { closeDB(); return nil })
		if err := db.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		c.Sinks = append(c.Sinks, db)
	}

	if cfg.History.Enabled {
		h, err := store.OpenHistory(cfg.History.Dir)
		if err != nil {
			return fail(fmt.Errorf("failed to open run history: %w", err))
		}
		c.onShutdown(func(context.Context) error { return h.Close() })
		c.Sinks = append(c.Sinks, h)
	}

	classifier, err := llmclient.NewClassifier(ctx, cfg.LLM, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize classifier: %w", err))
	}
	c.Classifier = classifier

	driver, err := browser.NewDriver(cfg, logger)
	if err != nil {
		return fail(err)
	}
	c.onShutdown(driver.Close)

	session, err := browser.Bootstrap(ctx, driver, cfg, startURL, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to start browser session: %w", err))
	}
	c.onShutdown(session.Close)
	c.Holder = session
	c.StartErr = session.StartError()
	return c, nil
}

func newCrawlCmd(factory ComponentFactory) *cobra.Command {
	var service, jsonFile string

	crawlCmd := &cobra.Command{
		Use:   "crawl [start_url]",
		Short: "Navigates from a start page to its privacy settings and harvests the controls found there",
		Long: `Starting from a page of a web service, clicks through the most promising links,
menus and tabs until a privacy settings page is reached, then lists its toggles,
checkboxes, radios, selects and data links. Nothing on the page is ever changed.

The start URL comes from the argument, --json-file, or the sites file entry
named by --service, in that order.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			target, err := resolveTarget(cfg, args, service, jsonFile, overridden{
				query:    cmd.Flags().Changed("query"),
				maxSteps: cmd.Flags().Changed("max-steps"),
			})
			if err != nil {
				return err
			}
			return runCrawl(ctx, logger, cfg, target, factory, cmd.OutOrStdout())
		},
	}

	f := crawlCmd.Flags()
	f.StringVar(&service, "service", "", "Service name to look up in the sites file")
	f.StringVar(&jsonFile, "json-file", "", "JSON document to take the start URL from (start_url, url or final_url)")
	f.String("sites-file", "", "Per-service overrides (YAML)")
	f.String("profile", "", "Persistent browser profile directory")
	f.Int("max-steps", 0, "Click budget for the traversal")
	f.Int("max-pages", 0, "Maximum number of distinct screens to visit")
	f.StringSlice("query", nil, "Goal terms, repeatable or comma-separated")
	f.String("storage-dir", "", "Directory of saved authentication state, one <host>.json per site")
	f.String("results-dir", "", "Directory for run result documents")
	f.String("driver", "", "Browser driver: playwright or chromedp")
	f.Bool("headless", false, "Run the browser without a window")
	f.Bool("require-auth", false, "Fail unless saved authentication state exists for the host")

	return crawlCmd
}

// overridden records which site-overridable values were set on the command line.
type overridden struct {
	query    bool
	maxSteps bool
}

// resolveTarget determines the start URL and applies the sites file entry of
// the selected service to cfg. Command line values win over the site entry.
func resolveTarget(cfg *config.Config, args []string, service, jsonFile string, flags overridden) (crawlTarget, error) {
	target := crawlTarget{Service: service}

	if service != "" {
		sites, err := config.LoadSitesFile(cfg.Crawler.SitesFile)
		if err != nil {
			return target, err
		}
		site, ok := sites.Site(service)
		if !ok {
			return target, fmt.Errorf("service %q not found in %s", service, cfg.Crawler.SitesFile)
		}
		target.StartURL = site.StartURL
		if len(site.Query) > 0 && !flags.query {
			cfg.Crawler.Query = site.Query
		}
		if site.MaxSteps > 0 && !flags.maxSteps {
			cfg.Crawler.MaxSteps = site.MaxSteps
		}
		cfg.Crawler.ExtraDenylist = append(cfg.Crawler.ExtraDenylist, site.ExtraDenylist...)
	}

	if jsonFile != "" {
		u, err := startURLFromJSON(jsonFile)
		if err != nil {
			return target, err
		}
		target.StartURL = u
	}
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		target.StartURL = args[0]
	}

	if strings.TrimSpace(target.StartURL) == "" {
		return target, fmt.Errorf("%w: pass a URL, --json-file or --service", crawler.ErrNoStartURL)
	}
	target.StartURL = normalizeURL(target.StartURL)
	return target, nil
}

// normalizeURL defaults a bare host to https.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		return "https://" + raw
	}
	return raw
}

// startURLFromJSON reads start_url, url or final_url from a JSON object, or
// from the first object of a JSON array.
func startURLFromJSON(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read JSON file: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse JSON file %s: %w", path, err)
	}
	if list, ok := doc.([]any); ok {
		if len(list) == 0 {
			return "", fmt.Errorf("JSON file %s holds an empty array", path)
		}
		doc = list[0]
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return "", fmt.Errorf("JSON file %s does not hold an object", path)
	}
	for _, key := range []string{"start_url", "url", "final_url"} {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("JSON file %s has no start_url, url or final_url", path)
}

// runCrawl performs one traversal and delivers its result. Only setup
// failures are errors; an unsuccessful traversal still completes normally.
func runCrawl(ctx context.Context, logger *zap.Logger, cfg *config.Config, target crawlTarget, factory ComponentFactory, out io.Writer) error {
	logger.Info("Starting crawl",
		zap.String("start_url", target.StartURL),
		zap.String("service", target.Service),
		zap.String("driver", cfg.Browser.Driver),
		zap.Int("max_steps", cfg.Crawler.MaxSteps))

	opts := crawler.NewOptions(cfg, target.StartURL)
	opts.Service = target.Service
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid crawl options: %w", err)
	}

	components, err := factory.Create(ctx, cfg, target.StartURL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize crawl components: %w", err)
	}
	defer components.Shutdown(ctx)

	opts.Classifier = components.Classifier
	opts.StartErr = components.StartErr

	engine, err := crawler.NewEngine(opts, logger)
	if err != nil {
		return fmt.Errorf("failed to create crawler: %w", err)
	}

	res, runErr := engine.Run(ctx, components.Holder)
	if runErr != nil {
		logger.Error("Crawl ended early", zap.Error(runErr))
	}
	if res == nil {
		return runErr
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := results.NewFanout(logger, components.Sinks...).Save(saveCtx, res); err != nil {
		logger.Error("Failed to save run result to every sink", zap.Error(err))
	}
	if components.JSON != nil && components.JSON.LastPath() != "" {
		logger.Info("Run result written", zap.String("path", components.JSON.LastPath()))
	}

	if err := results.Encode(out, res); err != nil {
		return fmt.Errorf("failed to print run result: %w", err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Warn("Crawl aborted by signal; partial result saved", zap.String("run_id", res.RunID))
	}
	return nil
}
