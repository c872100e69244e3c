// internal/crawler/navigator.go
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/settings-crawler/internal/browser"
	"github.com/xkilldash9x/settings-crawler/internal/config"
)

// PageHolder owns the active page of a traversal. browser.Session implements it.
type PageHolder interface {
	Page() browser.Page
	SetPage(browser.Page)
}

// observation is one look at the active page.
type observation struct {
	snap     *Snapshot
	sig      Signature
	controls []Control
}

type observeFunc func(ctx context.Context) (*observation, error)

// ClickOutcome reports what a click attempt achieved.
type ClickOutcome struct {
	// Success is true when one strategy of the click chain went through.
	Success bool
	// StateChanged is true when the screen signature moved away from the pre-click one.
	StateChanged bool
	// Popup is true when the click opened a new page, which is now active.
	Popup bool
	// Abandoned is true when the click went through but the resulting load timed out.
	Abandoned bool
	Method    string

	after *observation
}

// Navigator clicks candidates through a chain of increasingly blunt strategies.
type Navigator struct {
	holder  PageHolder
	cfg     config.CrawlerConfig
	loadTTL time.Duration
	observe observeFunc
	logger  *zap.Logger
}

func newNavigator(holder PageHolder, cfg config.CrawlerConfig, loadTTL time.Duration, observe observeFunc, logger *zap.Logger) *Navigator {
	return &Navigator{
		holder:  holder,
		cfg:     cfg,
		loadTTL: loadTTL,
		observe: observe,
		logger:  logger.Named("navigator"),
	}
}

type clickStep struct {
	name string
	run  func(ctx context.Context, page browser.Page, loc string) error
}

var clickChain = []clickStep{
	{"click", func(ctx context.Context, p browser.Page, loc string) error {
		return p.Click(ctx, loc, browser.ClickOptions{})
	}},
	{"force-click", func(ctx context.Context, p browser.Page, loc string) error {
		return p.Click(ctx, loc, browser.ClickOptions{Force: true})
	}},
	{"dom-click", func(ctx context.Context, p browser.Page, loc string) error {
		return p.DOMClick(ctx, loc)
	}},
	{"keyboard", func(ctx context.Context, p browser.Page, loc string) error {
		if err := p.Focus(ctx, loc); err != nil {
			return err
		}
		return p.Press(ctx, "Enter")
	}},
}

// AttemptClick clicks c and waits for the screen to change from before.
// Failures are reported in the outcome, never returned.
func (n *Navigator) AttemptClick(ctx context.Context, c Candidate, before Signature) ClickOutcome {
	page := n.holder.Page()
	logger := n.logger.With(zap.String("label", c.Label))

	var (
		out ClickOutcome
		err error
	)
	if popupHintRe.MatchString(c.Label) || popupHintRe.MatchString(c.Href) {
		out, err = n.clickExpectingPopup(ctx, page, c.Locator)
	} else {
		out.Method, err = n.runChain(ctx, page, c.Locator)
		out.Success = err == nil
	}
	if !out.Success {
		logger.Debug("All click strategies failed.", zap.Error(err))
		return out
	}
	logger.Debug("Clicked.", zap.String("method", out.Method), zap.Bool("popup", out.Popup))

	active := n.holder.Page()
	loadCtx, cancel := context.WithTimeout(ctx, n.loadTTL)
	loadErr := active.WaitForLoad(loadCtx)
	cancel()
	if loadErr != nil && ctx.Err() == nil && errors.Is(loadErr, context.DeadlineExceeded) {
		logger.Info("Navigation timed out; abandoning candidate.", zap.Error(loadErr))
		out.Abandoned = true
		return out
	}

	out.after, out.StateChanged = n.waitForStateChange(ctx, before)
	return out
}

func (n *Navigator) clickExpectingPopup(ctx context.Context, page browser.Page, loc string) (ClickOutcome, error) {
	var out ClickOutcome
	budget := n.cfg.PopupTimeout + n.cfg.HoverTimeout + time.Duration(len(clickChain))*n.cfg.ClickTimeout
	popupCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	popup, err := page.ExpectPopup(popupCtx, func(actx context.Context) error {
		method, err := n.runChain(actx, page, loc)
		out.Method = method
		return err
	})
	switch {
	case err == nil:
		n.holder.SetPage(popup)
		out.Success, out.Popup = true, true
		n.logger.Info("Switched to popup page.", zap.String("url", popup.URL()))
		return out, nil
	case errors.Is(err, browser.ErrNoPopup) && out.Method != "":
		out.Success = true
		return out, nil
	default:
		return out, err
	}
}

// runChain hovers, scrolls into view and tries each click strategy in turn.
func (n *Navigator) runChain(ctx context.Context, page browser.Page, loc string) (string, error) {
	hoverCtx, cancel := context.WithTimeout(ctx, n.cfg.HoverTimeout)
	_ = page.Hover(hoverCtx, loc)
	cancel()

	scrollCtx, cancel := context.WithTimeout(ctx, n.cfg.ClickTimeout)
	_ = page.ScrollIntoView(scrollCtx, loc)
	cancel()

	var errs []error
	for _, step := range clickChain {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		stepCtx, cancel := context.WithTimeout(ctx, n.cfg.ClickTimeout)
		err := step.run(stepCtx, page, loc)
		cancel()
		if err == nil {
			return step.name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
	}
	return "", errors.Join(errs...)
}

// waitForStateChange polls the page until its signature differs from before
// or the timeout passes. It returns the last observation.
func (n *Navigator) waitForStateChange(ctx context.Context, before Signature) (*observation, bool) {
	waitCtx, cancel := context.WithTimeout(ctx, n.cfg.StateChangeTimeout)
	defer cancel()

	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	var last *observation
	for {
		obs, err := n.observe(waitCtx)
		if err == nil {
			last = obs
			if obs.sig != before {
				return obs, true
			}
		}
		select {
		case <-waitCtx.Done():
			return last, false
		case <-ticker.C:
		}
	}
}
