// internal/browser/playwright.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/config"
)

const (
	defaultActionTimeout = 5 * time.Second
	xpathPrefix          = "xpath="
)

// PlaywrightDriver runs Chromium through the Playwright driver process.
type PlaywrightDriver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu       sync.Mutex
	pw       *playwright.Playwright
	browser  playwright.Browser
	contexts []playwright.BrowserContext

	initOnce sync.Once
	initErr  error
}

// NewPlaywrightDriver creates a driver. The Playwright process starts on the first Launch.
func NewPlaywrightDriver(cfg config.BrowserConfig, logger *zap.Logger) *PlaywrightDriver {
	return &PlaywrightDriver{
		cfg:    cfg,
		logger: logger.Named("playwright"),
	}
}

func (d *PlaywrightDriver) initialize(ctx context.Context) error {
	d.initOnce.Do(func() {
		if d.cfg.InstallDrivers {
			if err := d.ensureInstallation(ctx); err != nil {
				d.initErr = err
				return
			}
		}
		pw, err := playwright.Run()
		if err != nil {
			d.initErr = fmt.Errorf("failed to start playwright driver: %w", err)
			return
		}
		d.pw = pw
		d.logger.Debug("Playwright driver started.")
	})
	return d.initErr
}

func (d *PlaywrightDriver) ensureInstallation(ctx context.Context) error {
	timeout := d.cfg.InstallTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	installCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.logger.Info("Verifying Playwright browser installation...")
	errCh := make(chan error, 1)
	go func() {
		errCh <- playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to install playwright browsers: %w", err)
		}
		return nil
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

// Launch opens a browser context and its first page.
func (d *PlaywrightDriver) Launch(ctx context.Context, opts LaunchOptions) (Page, error) {
	if err := d.initialize(ctx); err != nil {
		return nil, err
	}

	var (
		bctx playwright.BrowserContext
		err  error
	)
	viewport := &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}

	if opts.ProfileDir != "" {
		bctx, err = d.pw.Chromium.LaunchPersistentContext(opts.ProfileDir, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless:          playwright.Bool(opts.Headless),
			Args:              launchArgs(opts.Args),
			Viewport:          viewport,
			IgnoreHttpsErrors: playwright.Bool(opts.IgnoreTLSErrors),
			Timeout:           playwright.Float(float64(launchTimeout.Milliseconds())),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to launch persistent profile %s: %w", opts.ProfileDir, err)
		}
	} else {
		if err := d.launchBrowser(opts); err != nil {
			return nil, err
		}
		contextOpts := playwright.BrowserNewContextOptions{
			Viewport:          viewport,
			IgnoreHttpsErrors: playwright.Bool(opts.IgnoreTLSErrors),
		}
		if opts.StorageStatePath != "" {
			contextOpts.StorageStatePath = playwright.String(opts.StorageStatePath)
		}
		bctx, err = d.browser.NewContext(contextOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create browser context: %w", err)
		}
	}

	d.mu.Lock()
	d.contexts = append(d.contexts, bctx)
	d.mu.Unlock()

	if len(opts.Permissions) > 0 && opts.PermissionOrigin != "" {
		err := bctx.GrantPermissions(opts.Permissions, playwright.BrowserContextGrantPermissionsOptions{
			Origin: playwright.String(opts.PermissionOrigin),
		})
		if err != nil {
			// Unknown permission names are rejected by the browser; the run can continue without them.
			d.logger.Warn("Failed to grant permissions.",
				zap.Strings("permissions", opts.Permissions),
				zap.String("origin", opts.PermissionOrigin),
				zap.Error(err))
		}
	}

	var pwPage playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		pwPage = pages[0]
	} else if pwPage, err = bctx.NewPage(); err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return newPlaywrightPage(pwPage, opts, d.logger), nil
}

func (d *PlaywrightDriver) launchBrowser(opts LaunchOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != nil {
		return nil
	}
	b, err := d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     launchArgs(opts.Args),
		Timeout:  playwright.Float(float64(launchTimeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed to launch browser instance: %w", err)
	}
	d.browser = b
	d.logger.Info("Browser launched.", zap.String("browser_version", b.Version()))
	return nil
}

// Close shuts down every context, the browser and the driver process.
func (d *PlaywrightDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, c := range d.contexts {
		if err := c.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	d.contexts = nil

	if d.browser != nil {
		if err := d.browser.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		d.browser = nil
	}
	if d.pw != nil {
		done := make(chan error, 1)
		go func() { done <- d.pw.Stop() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("timeout stopping playwright: %w", ctx.Err()))
		}
		d.pw = nil
	}
	return errors.Join(errs...)
}

// playwrightPage adapts a playwright.Page to Page.
type playwrightPage struct {
	page   playwright.Page
	opts   LaunchOptions
	logger *zap.Logger
}

func newPlaywrightPage(p playwright.Page, opts LaunchOptions, logger *zap.Logger) *playwrightPage {
	return &playwrightPage{page: p, opts: opts, logger: logger}
}

func (p *playwrightPage) URL() string { return p.page.URL() }

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeoutMillis(ctx, p.opts.NavigationTimeout)),
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) WaitForLoad(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: playwright.Float(timeoutMillis(ctx, p.opts.LoadStateTimeout)),
	})
}

func (p *playwrightPage) Snapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := p.page.Evaluate(SnapshotScript)
	if err != nil {
		return "", fmt.Errorf("snapshot script failed: %w", err)
	}
	html, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("snapshot script returned %T", res)
	}
	return html, nil
}

func (p *playwrightPage) locator(loc string) playwright.Locator {
	return p.page.Locator(xpathPrefix + loc).First()
}

func (p *playwrightPage) Hover(ctx context.Context, loc string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.wrap(p.locator(loc).Hover(playwright.LocatorHoverOptions{
		Timeout: playwright.Float(timeoutMillis(ctx, defaultActionTimeout)),
	}))
}

func (p *playwrightPage) ScrollIntoView(ctx context.Context, loc string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.wrap(p.locator(loc).ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: playwright.Float(timeoutMillis(ctx, defaultActionTimeout)),
	}))
}

func (p *playwrightPage) Click(ctx context.Context, loc string, opts ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.wrap(p.locator(loc).Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(timeoutMillis(ctx, defaultActionTimeout)),
		Force:   playwright.Bool(opts.Force),
	}))
}

func (p *playwrightPage) DOMClick(ctx context.Context, loc string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := p.page.Evaluate(domClickScript, loc)
	if err != nil {
		return p.wrap(err)
	}
	if found, _ := res.(bool); !found {
		return ErrElementNotFound
	}
	return nil
}

func (p *playwrightPage) Focus(ctx context.Context, loc string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.wrap(p.locator(loc).Focus(playwright.LocatorFocusOptions{
		Timeout: playwright.Float(timeoutMillis(ctx, defaultActionTimeout)),
	}))
}

func (p *playwrightPage) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.wrap(p.page.Keyboard().Press(key))
}

func (p *playwrightPage) ScrollBy(ctx context.Context, dy int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.wrap(p.page.Mouse().Wheel(0, float64(dy)))
}

func (p *playwrightPage) ExpectPopup(ctx context.Context, action func(context.Context) error) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var actionErr error
	popup, err := p.page.ExpectPopup(func() error {
		actionErr = action(ctx)
		return actionErr
	}, playwright.PageExpectPopupOptions{
		Timeout: playwright.Float(timeoutMillis(ctx, defaultActionTimeout)),
	})
	if actionErr != nil {
		return nil, actionErr
	}
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, ErrNoPopup
		}
		return nil, fmt.Errorf("waiting for popup failed: %w", err)
	}
	p.logger.Debug("Popup opened.", zap.String("url", popup.URL()))
	return newPlaywrightPage(popup, p.opts, p.logger), nil
}

func (p *playwrightPage) Close() error {
	if err := p.page.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
		return err
	}
	return nil
}

// wrap maps Playwright's timeout on a missing element to ErrElementNotFound.
func (p *playwrightPage) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrElementNotFound, err)
	}
	return err
}
