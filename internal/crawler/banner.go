// internal/crawler/banner.go
package crawler

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/settings-crawler/internal/browser"
)

// knownBannerSelectors are accept buttons of widespread consent managers.
var knownBannerSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#truste-consent-button",
	"#didomi-notice-agree-button",
	"#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll",
	".cc-allow",
	".cc-accept",
	"button[data-testid=cookie-policy-manage-dialog-accept-button]",
	"button[data-cookiebanner=accept_button]",
	"[aria-label='Accept all']",
	"[aria-label='Accept cookies']",
}

const (
	bannerButtonSelector = `button, [role=button], a, input[type=button], input[type=submit]`
	maxBannerLabelRunes  = 40
)

var (
	bannerAcceptRe    = regexp.MustCompile(`(?i)\b(accept|agree|confirm|allow|ok|got it|continue|yes|consent)\b`)
	bannerRejectRe    = regexp.MustCompile(`(?i)\b(reject|decline|settings|preferences|customi[sz]e|manage|necessary only|more options)\b`)
	bannerContainerRe = regexp.MustCompile(`(?i)(cookie|consent|banner|gdpr|onetrust|truste|cmp)`)
)

// BannerHandler dismisses cookie and consent overlays.
type BannerHandler struct {
	attempts     int
	interval     time.Duration
	clickTimeout time.Duration
	confirm      ConfirmFunc
	logger       *zap.Logger
}

func newBannerHandler(attempts int, interval, clickTimeout time.Duration, confirm ConfirmFunc, logger *zap.Logger) *BannerHandler {
	if attempts <= 0 {
		attempts = 1
	}
	return &BannerHandler{
		attempts:     attempts,
		interval:     interval,
		clickTimeout: clickTimeout,
		confirm:      confirm,
		logger:       logger.Named("banner"),
	}
}

// Dismiss looks for a consent banner and clicks its accept button. It reports
// whether a banner was dismissed.
func (b *BannerHandler) Dismiss(ctx context.Context, page browser.Page) bool {
	for attempt := 0; attempt < b.attempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, b.interval); err != nil {
				return false
			}
		}
		raw, err := page.Snapshot(ctx)
		if err != nil {
			b.logger.Debug("Snapshot failed while looking for a banner.", zap.Error(err))
			continue
		}
		snap, err := ParseSnapshot(page.URL(), raw)
		if err != nil {
			continue
		}
		label, loc, ok := findBannerAccept(snap)
		if !ok {
			continue
		}
		if !b.confirm(Action{Kind: ActionBanner, Label: label, Locator: loc, URL: snap.URL}) {
			return false
		}
		if err := clickOrDOMClick(ctx, page, loc, b.clickTimeout); err != nil {
			b.logger.Debug("Banner click failed.", zap.String("label", label), zap.Error(err))
			continue
		}
		b.logger.Info("Dismissed consent banner.", zap.String("label", label))
		return true
	}
	return false
}

// findBannerAccept returns the label and locator of a visible accept button.
func findBannerAccept(snap *Snapshot) (string, string, bool) {
	for _, sel := range knownBannerSelectors {
		var found *html.Node
		snap.Doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if snap.Visible(s.Get(0)) {
				found = s.Get(0)
				return false
			}
			return true
		})
		if found != nil {
			return bannerLabel(snap, found), snap.Locator(found), true
		}
	}

	var label, loc string
	snap.Doc.Find(bannerButtonSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		n := s.Get(0)
		if !snap.Visible(n) {
			return true
		}
		l := bannerLabel(snap, n)
		if l == "" || utf8.RuneCountInString(l) > maxBannerLabelRunes {
			return true
		}
		if !bannerAcceptRe.MatchString(l) || bannerRejectRe.MatchString(l) {
			return true
		}
		if closest(n, 0, isBannerContainer) == nil {
			return true
		}
		label, loc = l, snap.Locator(n)
		return false
	})
	return label, loc, loc != ""
}

func bannerLabel(snap *Snapshot, n *html.Node) string {
	if n.Data == "input" {
		return collapse(attr(n, "value"))
	}
	if t := snap.Text(n); t != "" {
		return t
	}
	return collapse(attr(n, "aria-label"))
}

func isBannerContainer(n *html.Node) bool {
	role := strings.ToLower(attr(n, "role"))
	if role == "dialog" || role == "alertdialog" || strings.EqualFold(attr(n, "aria-modal"), "true") {
		return true
	}
	return bannerContainerRe.MatchString(attr(n, "id") + " " + attr(n, "class") + " " + attr(n, "aria-label"))
}
