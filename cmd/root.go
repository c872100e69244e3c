package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/config"
	"github.com/xkilldash9x/settings-crawler/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// envPrefix namespaces environment overrides, e.g. CRAWLER_CRAWLER_MAX_STEPS.
const envPrefix = "CRAWLER"

// flagBindings maps command flags onto configuration keys so that a flag,
// when set, wins over the config file and the environment.
var flagBindings = map[string]string{
	"max-steps":    "crawler.max_steps",
	"max-pages":    "crawler.max_pages",
	"query":        "crawler.query",
	"sites-file":   "crawler.sites_file",
	"storage-dir":  "storage.dir",
	"require-auth": "storage.require_auth",
	"results-dir":  "results.dir",
	"driver":       "browser.driver",
	"headless":     "browser.headless",
	"profile":      "browser.profile_dir",
}

// NewRootCommand builds the command tree. Each call returns an independent
// tree, which keeps tests isolated from one another.
func NewRootCommand() *cobra.Command {
	return newRootCommand(NewComponentFactory(), NewRunSourceFactory())
}

func newRootCommand(components ComponentFactory, sources RunSourceFactory) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:     config.AppName,
		Short:   "Finds the privacy settings page of a web service and lists its controls.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: config.AppName})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newCrawlCmd(components))
	rootCmd.AddCommand(newReportCmd(sources))
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the root command with a signal-aware context.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig layers the config file, the environment and the flags of
// the executing command onto v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagBindings[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// getConfigFromContext returns the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}
