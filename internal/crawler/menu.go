// internal/crawler/menu.go
package crawler

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/settings-crawler/internal/browser"
)

const (
	menuTriggerSelector = `button, a, [role=button], [role=link], [role=menuitem], [aria-haspopup], [aria-controls], [aria-expanded]`
	menuTriggerMinScore = 1.2
)

var (
	menuClassRe = regexp.MustCompile(`(?i)(avatar|profile|account|user)`)
	menuLabelRe = regexp.MustCompile(`(?i)\b(profile|account|user|me)\b`)
)

type menuTrigger struct {
	label   string
	locator string
	score   float64
}

// MenuOpener opens avatar and profile menus when a page offers nothing else.
type MenuOpener struct {
	clickTimeout time.Duration
	settle       time.Duration
	deny         *Denylist
	confirm      ConfirmFunc
	logger       *zap.Logger
}

func newMenuOpener(clickTimeout, settle time.Duration, deny *Denylist, confirm ConfirmFunc, logger *zap.Logger) *MenuOpener {
	return &MenuOpener{
		clickTimeout: clickTimeout,
		settle:       settle,
		deny:         deny,
		confirm:      confirm,
		logger:       logger.Named("menu"),
	}
}

func scoreMenuTrigger(n *html.Node, label string) float64 {
	var score float64
	if strings.EqualFold(attr(n, "aria-haspopup"), "menu") || strings.EqualFold(attr(n, "aria-haspopup"), "true") {
		score += 1.0
	}
	if hasAttr(n, "aria-controls") {
		score += 0.6
	}
	if hasAttr(n, "aria-expanded") {
		score += 0.6
	}
	switch strings.ToLower(attr(n, "role")) {
	case "button", "link", "menuitem":
		score += 0.3
	}
	if menuClassRe.MatchString(attr(n, "class")) {
		score += 0.9
	}
	if menuLabelRe.MatchString(label) {
		score += 0.8
	}
	return score
}

// bestTrigger returns the highest scoring trigger, earliest first on ties.
func (m *MenuOpener) bestTrigger(snap *Snapshot) (menuTrigger, bool) {
	var best menuTrigger
	seen := make(map[*html.Node]bool)
	snap.Doc.Find(menuTriggerSelector).Each(func(_ int, sel *goquery.Selection) {
		n := sel.Get(0)
		if seen[n] || !snap.Visible(n) || isDisabled(n) {
			return
		}
		seen[n] = true
		label := candidateLabel(snap, n)
		if denied, _ := m.deny.Label(label); denied {
			return
		}
		if score := scoreMenuTrigger(n, label); score > best.score {
			best = menuTrigger{label: label, locator: snap.Locator(n), score: score}
		}
	})
	return best, best.score >= menuTriggerMinScore
}

func inMenuScope(n *html.Node) bool {
	pred := func(p *html.Node) bool {
		switch strings.ToLower(attr(p, "role")) {
		case "menu", "dialog", "listbox":
			return true
		}
		return strings.EqualFold(attr(p, "aria-modal"), "true")
	}
	return pred(n) || closest(n, 0, pred) != nil
}

// Open clicks the best profile-menu trigger of snap and returns the items of
// the opened menu, along with the snapshot they were taken from.
func (m *MenuOpener) Open(ctx context.Context, page browser.Page, snap *Snapshot) ([]Candidate, *Snapshot, bool) {
	trigger, ok := m.bestTrigger(snap)
	if !ok {
		return nil, nil, false
	}
	if !m.confirm(Action{Kind: ActionMenu, Label: trigger.label, Locator: trigger.locator, URL: snap.URL}) {
		return nil, nil, false
	}
	if err := clickOrDOMClick(ctx, page, trigger.locator, m.clickTimeout); err != nil {
		m.logger.Debug("Menu trigger click failed.", zap.String("label", trigger.label), zap.Error(err))
		return nil, nil, false
	}
	if err := sleepCtx(ctx, m.settle); err != nil {
		return nil, nil, false
	}

	raw, err := page.Snapshot(ctx)
	if err != nil {
		return nil, nil, false
	}
	opened, err := ParseSnapshot(page.URL(), raw)
	if err != nil {
		return nil, nil, false
	}
	var items []Candidate
	for _, c := range Extract(opened) {
		if c.node == nil || !inMenuScope(c.node) {
			continue
		}
		c.InMenu = true
		items = append(items, c)
	}
	m.logger.Info("Opened profile menu.",
		zap.String("trigger", trigger.label),
		zap.Float64("score", trigger.score),
		zap.Int("items", len(items)))
	return items, opened, len(items) > 0
}
