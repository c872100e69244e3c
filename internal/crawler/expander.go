// internal/crawler/expander.go
package crawler

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/settings-crawler/internal/browser"
)

const expandableSelector = `[aria-expanded="false"], summary, [role=tab], button`

var expandLabelRe = regexp.MustCompile(`(?i)\b(expand|show|manage|settings|options|advanced|more)\b`)

type expandTarget struct {
	label   string
	locator string
	privacy bool
	tab     bool
	index   int
}

// Expander reveals collapsed sections, accordions and tabs in place so the
// harvester sees every control.
type Expander struct {
	max          int
	settle       time.Duration
	clickTimeout time.Duration
	deny         *Denylist
	confirm      ConfirmFunc
	logger       *zap.Logger
}

func newExpander(limit int, settle, clickTimeout time.Duration, deny *Denylist, confirm ConfirmFunc, logger *zap.Logger) *Expander {
	return &Expander{
		max:          limit,
		settle:       settle,
		clickTimeout: clickTimeout,
		deny:         deny,
		confirm:      confirm,
		logger:       logger.Named("expander"),
	}
}

// targets lists the expandable elements of snap, privacy-related first,
// then tabs, then document order.
func (x *Expander) targets(snap *Snapshot) []expandTarget {
	var out []expandTarget
	seen := make(map[*html.Node]bool)
	snap.Doc.Find(expandableSelector).Each(func(_ int, sel *goquery.Selection) {
		n := sel.Get(0)
		if seen[n] || !snap.Visible(n) || isDisabled(n) || n.Data == "a" {
			return
		}
		seen[n] = true
		if closest(n, 0, isTag("a")) != nil {
			return
		}
		role := strings.ToLower(attr(n, "role"))
		isTab := role == "tab"
		if isTab && strings.EqualFold(attr(n, "aria-selected"), "true") {
			return
		}
		if n.Data == "summary" {
			if details := closest(n, 1, isTag("details")); details != nil && hasAttr(details, "open") {
				return
			}
		}

		label := candidateLabel(snap, n)
		if label == "" {
			return
		}
		collapsed := strings.EqualFold(attr(n, "aria-expanded"), "false")
		if n.Data == "button" && !isTab && !collapsed && !expandLabelRe.MatchString(label) {
			return
		}
		if denied, _ := x.deny.Label(label); denied {
			return
		}
		out = append(out, expandTarget{
			label:   label,
			locator: snap.Locator(n),
			privacy: IsPrivacyRelevant(label),
			tab:     isTab,
			index:   len(out),
		})
	})

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.privacy != b.privacy {
			return a.privacy
		}
		if a.tab != b.tab {
			return a.tab
		}
		return a.index < b.index
	})
	return out
}

// Expansion is the outcome of one Expand pass.
type Expansion struct {
	// Clicked lists the labels of the targets clicked, in order.
	Clicked []string
	// Navigated is set when the last click left the page.
	Navigated bool
}

// Expand clicks up to max targets of snap. It stops early when a click
// changes the page URL, since the remaining locators belong to the old
// document. Failures are logged and skipped.
func (x *Expander) Expand(ctx context.Context, page browser.Page, snap *Snapshot) Expansion {
	targets := x.targets(snap)
	before := page.URL()
	var exp Expansion
	for _, t := range targets {
		if len(exp.Clicked) >= x.max || ctx.Err() != nil {
			break
		}
		if !x.confirm(Action{Kind: ActionExpand, Label: t.label, Locator: t.locator, URL: snap.URL}) {
			continue
		}
		if err := clickOrDOMClick(ctx, page, t.locator, x.clickTimeout); err != nil {
			x.logger.Debug("Expansion click failed.", zap.String("label", t.label), zap.Error(err))
			continue
		}
		exp.Clicked = append(exp.Clicked, t.label)
		if err := sleepCtx(ctx, x.settle); err != nil {
			break
		}
		if page.URL() != before {
			exp.Navigated = true
			x.logger.Debug("Expansion click left the page.", zap.String("label", t.label), zap.String("url", page.URL()))
			break
		}
	}
	if len(exp.Clicked) > 0 {
		x.logger.Debug("Expanded sections.", zap.Int("count", len(exp.Clicked)), zap.Int("targets", len(targets)))
	}
	return exp
}

// clickOrDOMClick clicks loc, falling back to a script click.
func clickOrDOMClick(ctx context.Context, page browser.Page, loc string, timeout time.Duration) error {
	clickCtx, cancel := context.WithTimeout(ctx, timeout)
	err := page.Click(clickCtx, loc, browser.ClickOptions{})
	cancel()
	if err == nil {
		return nil
	}
	domCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return page.DOMClick(domCtx, loc)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
