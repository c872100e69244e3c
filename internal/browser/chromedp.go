// internal/browser/chromedp.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChromedpDriver talks to Chromium over the DevTools protocol directly. It
// needs no driver process, only a local Chrome binary.
type ChromedpDriver struct {
	logger *zap.Logger

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// NewChromedpDriver creates a driver; Chrome starts on the first Launch.
func NewChromedpDriver(logger *zap.Logger) *ChromedpDriver {
	return &ChromedpDriver{logger: logger.Named("chromedp")}
}

// Launch starts a Chrome process and returns its first tab.
func (d *ChromedpDriver) Launch(ctx context.Context, opts LaunchOptions) (Page, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(opts.Viewport.Width, opts.Viewport.Height),
	)
	if opts.IgnoreTLSErrors {
		allocOpts = append(allocOpts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}
	for _, arg := range launchArgs(opts.Args) {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			allocOpts = append(allocOpts, chromedp.Flag(name, value))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(name, true))
		}
	}

	// The browser outlives the launch call, so it hangs off a background context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(d.logger.Sugar().Debugf),
		chromedp.WithErrorf(d.logger.Sugar().Debugf),
	)
	d.mu.Lock()
	d.cancels = append(d.cancels, tabCancel, allocCancel)
	d.mu.Unlock()

	startCtx, stop := bound(tabCtx, ctx, launchTimeout)
	defer stop()

	// The first Run starts the browser.
	if err := chromedp.Run(startCtx); err != nil {
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	if opts.StorageStatePath != "" {
		cookies, err := LoadStorageStateCookies(opts.StorageStatePath)
		if err != nil {
			return nil, err
		}
		if len(cookies) > 0 {
			if err := chromedp.Run(startCtx, network.SetCookies(cookies)); err != nil {
				return nil, fmt.Errorf("failed to restore cookies: %w", err)
			}
		}
		d.logger.Debug("Restored cookies from storage state.", zap.Int("count", len(cookies)))
	}

	if perms := cdpPermissions(opts.Permissions); len(perms) > 0 && opts.PermissionOrigin != "" {
		err := chromedp.Run(startCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			c := chromedp.FromContext(ctx)
			return cdpbrowser.GrantPermissions(perms).
				WithOrigin(opts.PermissionOrigin).
				Do(cdp.WithExecutor(ctx, c.Browser))
		}))
		if err != nil {
			d.logger.Warn("Failed to grant permissions.",
				zap.Strings("permissions", opts.Permissions),
				zap.String("origin", opts.PermissionOrigin),
				zap.Error(err))
		}
	}

	return &chromedpPage{ctx: tabCtx, cancel: tabCancel, opts: opts, logger: d.logger}, nil
}

// Close terminates every browser started by this driver.
func (d *ChromedpDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	cancels := d.cancels
	d.cancels = nil
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, cancel := range cancels {
			cancel()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout closing chrome: %w", ctx.Err())
	}
}

// storageState is the subset of a saved authentication document that
// Chrome can restore through the DevTools protocol.
type storageState struct {
	Cookies []struct {
		Name     string  `json:"name"`
		Value    string  `json:"value"`
		Domain   string  `json:"domain"`
		Path     string  `json:"path"`
		Expires  float64 `json:"expires"`
		HTTPOnly bool    `json:"httpOnly"`
		Secure   bool    `json:"secure"`
		SameSite string  `json:"sameSite"`
	} `json:"cookies"`
}

// LoadStorageStateCookies reads the cookies of a saved storage state. Session
// cookies carry a negative expiry and are restored without one.
func LoadStorageStateCookies(path string) ([]*network.CookieParam, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage state %s: %w", path, err)
	}
	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse storage state %s: %w", path, err)
	}

	params := make([]*network.CookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = network.CookieSameSiteStrict
		case "lax":
			p.SameSite = network.CookieSameSiteLax
		case "none":
			p.SameSite = network.CookieSameSiteNone
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			exp := cdp.TimeSinceEpoch(time.Unix(sec, 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params, nil
}

// cdpPermissions maps Playwright permission names onto DevTools permission types.
func cdpPermissions(names []string) []cdpbrowser.PermissionType {
	var out []cdpbrowser.PermissionType
	for _, name := range names {
		switch strings.ToLower(name) {
		case "microphone":
			out = append(out, cdpbrowser.PermissionTypeAudioCapture)
		case "camera":
			out = append(out, cdpbrowser.PermissionTypeVideoCapture)
		case "notifications":
			out = append(out, cdpbrowser.PermissionTypeNotifications)
		case "geolocation":
			out = append(out, cdpbrowser.PermissionTypeGeolocation)
		case "clipboard-read":
			out = append(out, cdpbrowser.PermissionTypeClipboardReadWrite)
		}
	}
	return out
}

// bound derives a context from the chromedp tab context that also ends when
// caller ends. Cancelling it never closes the tab.
func bound(tab, caller context.Context, def time.Duration) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := caller.Deadline(); ok {
		ctx, cancel = context.WithDeadline(tab, deadline)
	} else {
		ctx, cancel = context.WithTimeout(tab, def)
	}
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   LaunchOptions
	logger *zap.Logger
}

func (p *chromedpPage) run(ctx context.Context, def time.Duration, actions ...chromedp.Action) error {
	runCtx, stop := bound(p.ctx, ctx, def)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromedpPage) URL() string {
	var u string
	ctx, cancel := context.WithTimeout(p.ctx, 2*time.Second)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Location(&u)); err != nil {
		return ""
	}
	return u
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	err := p.run(ctx, p.opts.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *chromedpPage) WaitForLoad(ctx context.Context) error {
	var complete bool
	return p.run(ctx, p.opts.LoadStateTimeout,
		chromedp.Poll(`document.readyState === "complete"`, &complete,
			chromedp.WithPollingInterval(100*time.Millisecond)),
	)
}

func (p *chromedpPage) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, defaultActionTimeout, chromedp.Evaluate("("+SnapshotScript+")()", &html)); err != nil {
		return "", fmt.Errorf("snapshot script failed: %w", err)
	}
	return html, nil
}

// callXPath invokes a single-argument page function with an XPath locator.
func (p *chromedpPage) callXPath(ctx context.Context, fn, loc string) error {
	var found bool
	expr := fmt.Sprintf("(%s)(%s)", fn, strconv.Quote(loc))
	if err := p.run(ctx, defaultActionTimeout, chromedp.Evaluate(expr, &found)); err != nil {
		return err
	}
	if !found {
		return ErrElementNotFound
	}
	return nil
}

func (p *chromedpPage) Hover(ctx context.Context, loc string) error {
	return p.callXPath(ctx, hoverScript, loc)
}

func (p *chromedpPage) ScrollIntoView(ctx context.Context, loc string) error {
	return p.wrap(ctx, p.run(ctx, defaultActionTimeout, chromedp.ScrollIntoView(loc, chromedp.BySearch)))
}

func (p *chromedpPage) Click(ctx context.Context, loc string, opts ClickOptions) error {
	if !opts.Force {
		return p.wrap(ctx, p.run(ctx, defaultActionTimeout, chromedp.Click(loc, chromedp.BySearch)))
	}
	// Forced clicks skip the visibility wait and dispatch at the node's box.
	return p.wrap(ctx, p.run(ctx, defaultActionTimeout,
		chromedp.QueryAfter(loc, func(ctx context.Context, _ runtime.ExecutionContextID, nodes ...*cdp.Node) error {
			if len(nodes) == 0 {
				return ErrElementNotFound
			}
			return chromedp.MouseClickNode(nodes[0]).Do(ctx)
		}, chromedp.BySearch, chromedp.NodeReady),
	))
}

func (p *chromedpPage) DOMClick(ctx context.Context, loc string) error {
	return p.callXPath(ctx, domClickScript, loc)
}

func (p *chromedpPage) Focus(ctx context.Context, loc string) error {
	return p.wrap(ctx, p.run(ctx, defaultActionTimeout, chromedp.Focus(loc, chromedp.BySearch)))
}

func (p *chromedpPage) Press(ctx context.Context, key string) error {
	if key == "Enter" {
		key = kb.Enter
	}
	return p.run(ctx, defaultActionTimeout, chromedp.KeyEvent(key))
}

func (p *chromedpPage) ScrollBy(ctx context.Context, dy int) error {
	return p.run(ctx, defaultActionTimeout, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", dy), nil))
}

func (p *chromedpPage) ExpectPopup(ctx context.Context, action func(context.Context) error) (Page, error) {
	opener := chromedp.FromContext(p.ctx).Target.TargetID
	ch := chromedp.WaitNewTarget(p.ctx, func(info *target.Info) bool {
		return info.OpenerID == opener
	})

	if err := action(ctx); err != nil {
		return nil, err
	}

	select {
	case id := <-ch:
		popupCtx, cancel := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
		if err := chromedp.Run(popupCtx); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to attach to popup: %w", err)
		}
		p.logger.Debug("Popup opened.", zap.String("target_id", string(id)))
		return &chromedpPage{ctx: popupCtx, cancel: cancel, opts: p.opts, logger: p.logger}, nil
	case <-ctx.Done():
		return nil, ErrNoPopup
	}
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}

// wrap reports an action that timed out while the caller still had time as a missing element.
func (p *chromedpPage) wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrElementNotFound, err)
	}
	return err
}
