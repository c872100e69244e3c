// internal/browser/driver.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/config"
)

// defaultArgs are passed to every Chromium launch; they keep the browser
// stable inside containers.
var defaultArgs = []string{
	"--disable-gpu",
	"--no-sandbox",
	"--disable-dev-shm-usage",
}

const (
	launchTimeout       = 60 * time.Second
	shutdownGracePeriod = 10 * time.Second
)

// LaunchOptions describes one browser context.
type LaunchOptions struct {
	// StorageStatePath is a saved cookie/localStorage document. Empty starts clean.
	StorageStatePath string
	// ProfileDir launches a persistent profile instead of an ephemeral context.
	ProfileDir string
	// Permissions are granted to PermissionOrigin before the first navigation.
	Permissions      []string
	PermissionOrigin string

	Headless        bool
	IgnoreTLSErrors bool
	Viewport        config.ViewportConfig
	Args            []string

	NavigationTimeout time.Duration
	LoadStateTimeout  time.Duration
}

// Driver launches browser pages. One driver serves one traversal.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Page, error)
	Close(ctx context.Context) error
}

// NewDriver returns the driver named in cfg.Browser.Driver. Startup work
// (installing browsers, spawning processes) is deferred to Launch.
func NewDriver(cfg *config.Config, logger *zap.Logger) (Driver, error) {
	switch strings.ToLower(cfg.Browser.Driver) {
	case config.DriverPlaywright, "":
		return NewPlaywrightDriver(cfg.Browser, logger), nil
	case config.DriverChromedp:
		return NewChromedpDriver(logger), nil
	default:
		return nil, fmt.Errorf("unsupported browser driver: %q", cfg.Browser.Driver)
	}
}

func launchArgs(extra []string) []string {
	args := make([]string, 0, len(defaultArgs)+len(extra))
	args = append(args, defaultArgs...)
	return append(args, extra...)
}
