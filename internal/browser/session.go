// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/config"
)

// Session owns the browser page of one traversal. The active page changes
// when a click opens a popup.
type Session struct {
	id          string
	host        string
	storagePath string
	driver      Driver
	logger      *zap.Logger

	// startErr records a failed navigation to the start URL.
	startErr error

	mu   sync.Mutex
	page Page
	// retired holds pages superseded by popups.
	retired []Page
}

// StorageStatePath returns the saved authentication file for host.
func StorageStatePath(dir, host string) string {
	return filepath.Join(dir, strings.ToLower(host)+".json")
}

// PermissionsFor collects the permissions granted to host. A grant applies
// to its host and every subdomain of it.
func PermissionsFor(grants []config.PermissionGrant, host string) []string {
	host = strings.ToLower(host)
	seen := make(map[string]bool)
	var perms []string
	for _, g := range grants {
		gh := strings.ToLower(strings.TrimPrefix(g.Host, "."))
		if gh == "" || (host != gh && !strings.HasSuffix(host, "."+gh)) {
			continue
		}
		for _, p := range g.Permissions {
			if !seen[p] {
				seen[p] = true
				perms = append(perms, p)
			}
		}
	}
	return perms
}

// Bootstrap launches a page for startURL, restoring saved authentication for
// its host when present, and navigates to it. With RequireAuth set a missing
// state file fails before any browser is started, unless a persistent profile
// is in use. A failed navigation is not an error; see StartError.
func Bootstrap(ctx context.Context, driver Driver, cfg *config.Config, startURL string, logger *zap.Logger) (*Session, error) {
	u, err := url.Parse(startURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid start URL %q", startURL)
	}
	host := strings.ToLower(u.Hostname())

	s := &Session{
		id:     uuid.New().String(),
		host:   host,
		driver: driver,
	}
	s.logger = logger.Named("session").With(zap.String("session_id", s.id), zap.String("host", host))

	statePath := StorageStatePath(cfg.Storage.Dir, host)
	if cfg.Browser.ProfileDir != "" {
		// A persistent profile carries its own cookies; state files are not loaded.
		s.logger.Info("Using persistent browser profile.", zap.String("profile", cfg.Browser.ProfileDir))
	} else if _, err := os.Stat(statePath); err == nil {
		s.storagePath = statePath
	} else if cfg.Storage.RequireAuth {
		return nil, fmt.Errorf("%w: %s", ErrStorageStateMissing, statePath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat storage state %s: %w", statePath, err)
	} else {
		s.logger.Info("No saved storage state; starting unauthenticated.", zap.String("path", statePath))
	}

	opts := LaunchOptions{
		StorageStatePath:  s.storagePath,
		ProfileDir:        cfg.Browser.ProfileDir,
		Permissions:       PermissionsFor(cfg.Browser.Permissions, host),
		PermissionOrigin:  u.Scheme + "://" + u.Host,
		Headless:          cfg.Browser.Headless,
		IgnoreTLSErrors:   cfg.Browser.IgnoreTLSErrors,
		Viewport:          cfg.Browser.Viewport,
		Args:              cfg.Browser.Args,
		NavigationTimeout: cfg.Network.NavigationTimeout,
		LoadStateTimeout:  cfg.Network.LoadStateTimeout,
	}
	page, err := driver.Launch(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	s.page = page

	navCtx, cancel := context.WithTimeout(ctx, cfg.Network.NavigationTimeout)
	defer cancel()
	if err := page.Navigate(navCtx, startURL); err != nil {
		s.startErr = fmt.Errorf("failed to navigate to %s: %w", startURL, err)
		s.logger.Warn("Start page did not load.", zap.Error(err))
		return s, nil
	}
	s.logger.Info("Session started.", zap.Bool("authenticated", s.storagePath != ""))
	return s, nil
}

// StartError returns the navigation error of the start URL, or nil when the
// start page loaded. The session stays usable either way.
func (s *Session) StartError() error { return s.startErr }

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// Host is the lowercase hostname of the start URL.
func (s *Session) Host() string { return s.host }

// StoragePath is the restored storage state, empty for unauthenticated runs.
func (s *Session) StoragePath() string { return s.storagePath }

// Page returns the active page.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// SetPage makes p the active page. The previous page stays open until Close.
func (s *Session) SetPage(p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page != nil && s.page != p {
		s.retired = append(s.retired, s.page)
	}
	s.page = p
}

// Close closes every page the session opened. The driver is left to its owner.
func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	pages := append(s.retired, s.page)
	s.retired, s.page = nil, nil
	s.mu.Unlock()

	var errs []error
	for _, p := range pages {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Debug("Session closed.")
	return errors.Join(errs...)
}
