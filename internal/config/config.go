// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// AppName is used for the logger service name and the XDG data directory.
const AppName = "settings-crawler"

// Supported browser drivers.
const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
)

// Supported LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderGenAI  = "genai"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Results   ResultsConfig   `mapstructure:"results" yaml:"results"`
	Crawler   CrawlerConfig   `mapstructure:"crawler" yaml:"crawler"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator" yaml:"evaluator"`
	Harvester HarvesterConfig `mapstructure:"harvester" yaml:"harvester"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ViewportConfig is the browser window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the browser that drives a traversal.
type BrowserConfig struct {
	Driver          string            `mapstructure:"driver" yaml:"driver"`
	Headless        bool              `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	InstallDrivers  bool              `mapstructure:"install_drivers" yaml:"install_drivers"`
	InstallTimeout  time.Duration     `mapstructure:"install_timeout" yaml:"install_timeout"`
	Args            []string          `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig    `mapstructure:"viewport" yaml:"viewport"`
	Permissions     []PermissionGrant `mapstructure:"permissions" yaml:"permissions"`
	// ProfileDir switches the driver to a persistent browser profile.
	ProfileDir string `mapstructure:"profile_dir" yaml:"profile_dir"`
}

// PermissionGrant grants browser permissions to a host and its subdomains.
type PermissionGrant struct {
	Host        string   `mapstructure:"host" yaml:"host"`
	Permissions []string `mapstructure:"permissions" yaml:"permissions"`
}

// NetworkConfig tunes page loading.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	LoadStateTimeout  time.Duration `mapstructure:"load_state_timeout" yaml:"load_state_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// StorageConfig locates saved authentication state, one file per host.
type StorageConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	RequireAuth bool   `mapstructure:"require_auth" yaml:"require_auth"`
}

// ResultsConfig locates run result documents.
type ResultsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// CrawlerConfig parameterizes the traversal engine. Every number in here is
// an empirically chosen default, not an invariant.
type CrawlerConfig struct {
	MaxSteps           int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxPages           int           `mapstructure:"max_pages" yaml:"max_pages"`
	Query              []string      `mapstructure:"query" yaml:"query"`
	Multilingual       bool          `mapstructure:"multilingual" yaml:"multilingual"`
	ExtraDenylist      []string      `mapstructure:"extra_denylist" yaml:"extra_denylist"`
	QueryWhitelist     []string      `mapstructure:"query_whitelist" yaml:"query_whitelist"`
	IncludeSubdomains  bool          `mapstructure:"include_subdomains" yaml:"include_subdomains"`
	HoverTimeout       time.Duration `mapstructure:"hover_timeout" yaml:"hover_timeout"`
	ClickTimeout       time.Duration `mapstructure:"click_timeout" yaml:"click_timeout"`
	StateChangeTimeout time.Duration `mapstructure:"state_change_timeout" yaml:"state_change_timeout"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PopupTimeout       time.Duration `mapstructure:"popup_timeout" yaml:"popup_timeout"`
	Cooldown           time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	MaxExpansions      int           `mapstructure:"max_expansions" yaml:"max_expansions"`
	ExpansionSettle    time.Duration `mapstructure:"expansion_settle" yaml:"expansion_settle"`
	ScrollPasses       int           `mapstructure:"scroll_passes" yaml:"scroll_passes"`
	BannerAttempts     int           `mapstructure:"banner_attempts" yaml:"banner_attempts"`
	BannerInterval     time.Duration `mapstructure:"banner_interval" yaml:"banner_interval"`
	SitesFile          string        `mapstructure:"sites_file" yaml:"sites_file"`
}

// EvaluatorConfig holds the success thresholds.
type EvaluatorConfig struct {
	StrongControlThreshold int      `mapstructure:"strong_control_threshold" yaml:"strong_control_threshold"`
	WeakControlThreshold   int      `mapstructure:"weak_control_threshold" yaml:"weak_control_threshold"`
	URLPatterns            []string `mapstructure:"url_patterns" yaml:"url_patterns"`
	Headings               []string `mapstructure:"headings" yaml:"headings"`
}

// HarvesterConfig tunes control harvesting.
type HarvesterConfig struct {
	IncludeAll     bool `mapstructure:"include_all" yaml:"include_all"`
	MaxLabelLength int  `mapstructure:"max_label_length" yaml:"max_label_length"`
}

// LLMConfig configures the optional classification capability.
type LLMConfig struct {
	Enabled         bool              `mapstructure:"enabled" yaml:"enabled"`
	Provider        string            `mapstructure:"provider" yaml:"provider"`
	Model           string            `mapstructure:"model" yaml:"model"`
	APIKey          string            `mapstructure:"api_key" yaml:"-"`
	Endpoint        string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout      time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature     float32           `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries      int               `mapstructure:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration     `mapstructure:"initial_interval" yaml:"initial_interval"`
	RateLimit       float64           `mapstructure:"rate_limit" yaml:"rate_limit"`
	MinConfidence   float64           `mapstructure:"min_confidence" yaml:"min_confidence"`
	SafetyFilters   map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// DatabaseConfig holds the optional PostgreSQL results sink.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// HistoryConfig holds the optional local SQLite run history.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", AppName)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.driver", DriverPlaywright)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.install_drivers", true)
	v.SetDefault("browser.install_timeout", "3m")
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 900)
	v.SetDefault("browser.permissions", []map[string]any{
		{"host": "meet.google.com", "permissions": []string{"microphone", "camera"}},
		{"host": "zoom.us", "permissions": []string{"microphone", "camera"}},
		{"host": "slack.com", "permissions": []string{"notifications"}},
	})

	// -- Network --
	v.SetDefault("network.navigation_timeout", "45s")
	v.SetDefault("network.load_state_timeout", "10s")
	v.SetDefault("network.post_load_wait", "600ms")

	// -- Storage / Results --
	v.SetDefault("storage.dir", "profiles/storage")
	v.SetDefault("storage.require_auth", false)
	v.SetDefault("results.dir", "results")

	// -- Crawler --
	v.SetDefault("crawler.max_steps", 12)
	v.SetDefault("crawler.max_pages", 30)
	v.SetDefault("crawler.multilingual", false)
	v.SetDefault("crawler.query_whitelist", []string{"tab"})
	v.SetDefault("crawler.include_subdomains", true)
	v.SetDefault("crawler.hover_timeout", "800ms")
	v.SetDefault("crawler.click_timeout", "2500ms")
	v.SetDefault("crawler.state_change_timeout", "4500ms")
	v.SetDefault("crawler.poll_interval", "120ms")
	v.SetDefault("crawler.popup_timeout", "5s")
	v.SetDefault("crawler.cooldown", "1600ms")
	v.SetDefault("crawler.max_expansions", 8)
	v.SetDefault("crawler.expansion_settle", "350ms")
	v.SetDefault("crawler.scroll_passes", 3)
	v.SetDefault("crawler.banner_attempts", 2)
	v.SetDefault("crawler.banner_interval", "300ms")
	v.SetDefault("crawler.sites_file", "sites.yaml")

	// -- Evaluator --
	v.SetDefault("evaluator.strong_control_threshold", 8)
	v.SetDefault("evaluator.weak_control_threshold", 4)

	// -- Harvester --
	v.SetDefault("harvester.include_all", false)
	v.SetDefault("harvester.max_label_length", 400)

	// -- LLM --
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "30s")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 256)
	v.SetDefault("llm.max_retries", 4)
	v.SetDefault("llm.initial_interval", "1s")
	v.SetDefault("llm.rate_limit", 1.0)
	v.SetDefault("llm.min_confidence", 0.6)

	// -- History --
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dir", filepath.Join(xdg.DataHome, AppName))
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets come from the environment only.
	_ = v.BindEnv("llm.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "CRAWLER_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading "~" in every filesystem path.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.Storage.Dir, &c.Results.Dir, &c.Browser.ProfileDir,
		&c.History.Dir, &c.Crawler.SitesFile, &c.Logger.LogFile,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Browser.Driver) {
	case DriverPlaywright, DriverChromedp:
	default:
		return fmt.Errorf("browser.driver must be one of [%s, %s], got %q", DriverPlaywright, DriverChromedp, c.Browser.Driver)
	}
	if err := c.Crawler.Validate(); err != nil {
		return fmt.Errorf("crawler configuration invalid: %w", err)
	}
	if err := c.Evaluator.Validate(); err != nil {
		return fmt.Errorf("evaluator configuration invalid: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.Results.Dir == "" {
		return fmt.Errorf("results.dir is a required configuration field")
	}
	return nil
}

// Validate checks the traversal budget and timings.
func (c *CrawlerConfig) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be a positive integer")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if c.StateChangeTimeout < c.PollInterval {
		return fmt.Errorf("state_change_timeout must not be shorter than poll_interval")
	}
	if c.ClickTimeout <= 0 {
		return fmt.Errorf("click_timeout must be a positive duration")
	}
	if c.MaxExpansions < 0 || c.ScrollPasses < 0 || c.BannerAttempts < 0 {
		return fmt.Errorf("max_expansions, scroll_passes and banner_attempts must not be negative")
	}
	return nil
}

// Validate checks the success thresholds.
func (e *EvaluatorConfig) Validate() error {
	if e.WeakControlThreshold <= 0 || e.StrongControlThreshold <= 0 {
		return fmt.Errorf("control thresholds must be positive integers")
	}
	if e.WeakControlThreshold > e.StrongControlThreshold {
		return fmt.Errorf("weak_control_threshold (%d) must not exceed strong_control_threshold (%d)",
			e.WeakControlThreshold, e.StrongControlThreshold)
	}
	for _, p := range e.URLPatterns {
		// Patterns are matched case-insensitively.
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return fmt.Errorf("invalid url_patterns entry %q: %w", p, err)
		}
	}
	return nil
}

// Validate checks the LLM settings. A disabled classifier is always valid.
func (l *LLMConfig) Validate() error {
	if !l.Enabled {
		return nil
	}
	switch l.Provider {
	case ProviderGemini, ProviderGenAI:
	default:
		return fmt.Errorf("unsupported provider %q, supported: [%s, %s]", l.Provider, ProviderGemini, ProviderGenAI)
	}
	if l.Model == "" {
		return fmt.Errorf("model is required when the classifier is enabled")
	}
	if l.APIKey == "" {
		return fmt.Errorf("API key is required but not found. Ensure GEMINI_API_KEY is set")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if l.MinConfidence < 0.0 || l.MinConfidence > 1.0 {
		return fmt.Errorf("min_confidence must be between 0.0 and 1.0")
	}
	return nil
}
