package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/config"
	"github.com/xkilldash9x/settings-crawler/internal/crawler"
	"github.com/xkilldash9x/settings-crawler/internal/observability"
	"github.com/xkilldash9x/settings-crawler/internal/results"
	"github.com/xkilldash9x/settings-crawler/internal/store"
)

const (
	sourceHistory  = "history"
	sourceDatabase = "database"
)

// RunSource looks up a stored run by ID.
type RunSource interface {
	Run(ctx context.Context, runID string) (*crawler.RunResult, error)
}

// RunSourceFactory opens a RunSource. The returned cleanup function releases
// its resources.
type RunSourceFactory interface {
	Open(ctx context.Context, cfg *config.Config, source string, logger *zap.Logger) (RunSource, func(), error)
}

type defaultRunSourceFactory struct{}

// NewRunSourceFactory returns the factory used in production.
func NewRunSourceFactory() RunSourceFactory {
	return &defaultRunSourceFactory{}
}

// Open connects to the local history or the PostgreSQL store.
func (p *defaultRunSourceFactory) Open(ctx context.Context, cfg *config.Config, source string, logger *zap.Logger) (RunSource, func(), error) {
	switch source {
	case sourceHistory:
		h, err := store.OpenHistory(cfg.History.Dir)
		if err != nil {
			return nil, nil, err
		}
		return h, func() { _ = h.Close() }, nil
	case sourceDatabase:
		if cfg.Database.URL == "" {
			return nil, nil, fmt.Errorf("database URL is not configured (CRAWLER_DATABASE_URL)")
		}
		s, closeFn, err := store.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported source %q, expected %s or %s", source, sourceHistory, sourceDatabase)
	}
}

// reportOptions are the flags of the report command.
type reportOptions struct {
	runID  string
	source string
	output string
	format string
}

func newReportCmd(factory RunSourceFactory) *cobra.Command {
	var opts reportOptions

	reportCmd := &cobra.Command{
		Use:   "report [result.json]",
		Short: "Render a run result as a report",
		Long: `Renders a run result as Markdown (default) or JSON. The result is read from a
file written by the crawl command, or looked up by --run-id in the local
history or the database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			file := ""
			if len(args) > 0 {
				file = args[0]
			}
			return runReport(ctx, logger, cfg, file, opts, factory, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().StringVar(&opts.runID, "run-id", "", "Look up a stored run instead of reading a file")
	reportCmd.Flags().StringVar(&opts.source, "source", sourceHistory, "Where --run-id is looked up: history or database")
	reportCmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	reportCmd.Flags().StringVarP(&opts.format, "format", "f", "markdown", "Report format: markdown or json")

	return reportCmd
}

// runReport contains the core, testable logic for rendering a report.
func runReport(ctx context.Context, logger *zap.Logger, cfg *config.Config, file string, opts reportOptions, factory RunSourceFactory, stdout io.Writer) error {
	if (file == "") == (opts.runID == "") {
		return errors.New("pass either a result file or --run-id")
	}
	switch opts.format {
	case "markdown", "md", "json":
	default:
		return fmt.Errorf("unsupported report format: %s", opts.format)
	}

	var (
		res *crawler.RunResult
		err error
	)
	if file != "" {
		res, err = results.Load(file)
		if err != nil {
			return err
		}
	} else {
		src, cleanup, err := factory.Open(ctx, cfg, opts.source, logger)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", opts.source, err)
		}
		defer cleanup()

		res, err = src.Run(ctx, opts.runID)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("run %s not found in %s", opts.runID, opts.source)
		}
	}

	out := stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create output file %s: %w", opts.output, err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Error("Failed to close report file", zap.Error(err))
			}
		}()
		out = f
	}

	if opts.format == "json" {
		err = results.Encode(out, res)
	} else {
		err = results.NewMarkdownWriter(out).Write(res)
	}
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if opts.output != "" {
		logger.Info("Report generated successfully.", zap.String("path", opts.output))
	}
	return nil
}
