// internal/crawler/harvester.go
package crawler

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/settings-crawler/internal/config"
)

const (
	controlSelector     = `input[type=checkbox], input[type=radio], [role=switch], [role=checkbox], button[aria-pressed], select, .switch, .toggle, .mat-slide-toggle, .ant-switch`
	nestedControlFilter = `input, select, [role=switch], [role=checkbox]`
	buttonLinkSelector  = `a[href], button, [role=link], [role=button]`
)

var toggleClassRe = regexp.MustCompile(`(?i)\b(checked|is-checked|on|active|mat-checked|ant-switch-checked)\b`)

// Harvester enumerates controls on a snapshot. It never touches the page.
type Harvester struct {
	includeAll bool
	maxLabel   int
	deny       *Denylist
}

// NewHarvester creates a harvester. deny filters button-links.
func NewHarvester(cfg config.HarvesterConfig, deny *Denylist) *Harvester {
	limit := cfg.MaxLabelLength
	if limit <= 0 {
		limit = 400
	}
	if deny == nil {
		deny = NewDenylist(nil)
	}
	return &Harvester{includeAll: cfg.IncludeAll, maxLabel: limit, deny: deny}
}

// Scan returns every visible form control in document order, unfiltered.
func (h *Harvester) Scan(snap *Snapshot) []Control {
	var out []Control
	snap.Doc.Find(controlSelector).Each(func(_ int, sel *goquery.Selection) {
		n := sel.Get(0)
		if !snap.Visible(n) {
			return
		}
		typ, ok := controlType(n)
		if !ok {
			return
		}
		// Styled wrappers around a native input are reported once, via the input.
		if typ == ControlToggle && isClassToggle(n) && sel.Find(nestedControlFilter).Length() > 0 {
			return
		}
		label := h.label(snap, n)
		out = append(out, Control{
			Label:      label,
			Type:       typ,
			Selector:   snap.Locator(n),
			URL:        snap.URL,
			State:      controlState(snap, n),
			Categories: []string{},
		})
	})
	return out
}

// Harvest returns the privacy-relevant controls of a settings page with
// their categories, followed by privacy-relevant button-links.
func (h *Harvester) Harvest(snap *Snapshot) []Control {
	var out []Control
	for _, c := range h.Scan(snap) {
		if !h.includeAll && !IsPrivacyRelevant(c.Label) {
			continue
		}
		c.Categories = Categories(c.Label)
		out = append(out, c)
	}

	seen := make(map[string]bool)
	snap.Doc.Find(buttonLinkSelector).Each(func(_ int, sel *goquery.Selection) {
		n := sel.Get(0)
		if !snap.Visible(n) || hasAttr(n, "aria-pressed") || attr(n, "role") == "switch" {
			return
		}
		label := truncateRunes(snap.Text(n), maxLabelRunes)
		if label == "" {
			label = collapse(attr(n, "aria-label"))
		}
		if label == "" || !IsPrivacyRelevant(label) || seen[strings.ToLower(label)] {
			return
		}
		if denied, _ := h.deny.Label(label); denied {
			return
		}
		seen[strings.ToLower(label)] = true
		out = append(out, Control{
			Label:      label,
			Type:       ControlButtonLink,
			Selector:   snap.Locator(n),
			URL:        snap.URL,
			Categories: Categories(label),
		})
	})
	if out == nil {
		out = []Control{}
	}
	return out
}

func isClassToggle(n *html.Node) bool {
	class := " " + attr(n, "class") + " "
	for _, c := range []string{" switch ", " toggle ", " mat-slide-toggle ", " ant-switch "} {
		if strings.Contains(class, c) {
			return true
		}
	}
	return false
}

func controlType(n *html.Node) (ControlType, bool) {
	switch n.Data {
	case "select":
		return ControlSelect, true
	case "input":
		switch strings.ToLower(attr(n, "type")) {
		case "checkbox":
			if strings.EqualFold(attr(n, "role"), "switch") {
				return ControlToggle, true
			}
			return ControlCheckbox, true
		case "radio":
			return ControlRadio, true
		}
		return "", false
	}
	switch strings.ToLower(attr(n, "role")) {
	case "switch":
		return ControlToggle, true
	case "checkbox":
		return ControlCheckbox, true
	}
	if n.Data == "button" && hasAttr(n, "aria-pressed") {
		return ControlToggle, true
	}
	if isClassToggle(n) {
		return ControlToggle, true
	}
	return "", false
}

// controlState reads the live state recorded by the snapshot script, falling
// back to static attributes.
func controlState(snap *Snapshot, n *html.Node) string {
	if n.Data == "select" {
		if v := attr(n, "data-sc-value"); v != "" {
			return v
		}
		sel := goquery.NewDocumentFromNode(n).Find("option[selected]").First()
		if sel.Length() == 0 {
			sel = goquery.NewDocumentFromNode(n).Find("option").First()
		}
		if sel.Length() > 0 {
			if v, ok := sel.Attr("value"); ok {
				return v
			}
			return collapse(sel.Text())
		}
		return ""
	}
	if v := attr(n, "data-sc-checked"); v != "" {
		return onOff(v == "true")
	}
	for _, key := range []string{"aria-checked", "aria-pressed"} {
		if v := attr(n, key); v != "" {
			return onOff(strings.EqualFold(v, "true"))
		}
	}
	if n.Data == "input" {
		return onOff(hasAttr(n, "checked"))
	}
	if isClassToggle(n) {
		return onOff(toggleClassRe.MatchString(attr(n, "class")))
	}
	return ""
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// label resolves a control label: aria-labelledby, aria-label, label[for],
// an enclosing label or group, then the nearest container text.
func (h *Harvester) label(snap *Snapshot, n *html.Node) string {
	if ids := strings.Fields(attr(n, "aria-labelledby")); len(ids) > 0 {
		var parts []string
		for _, id := range ids {
			if el := snap.ElementByID(id); el != nil {
				if t := snap.Text(el); t != "" {
					parts = append(parts, t)
				}
			}
		}
		if len(parts) > 0 {
			return truncateRunes(strings.Join(parts, " "), h.maxLabel)
		}
	}
	if t := collapse(attr(n, "aria-label")); t != "" {
		return truncateRunes(t, h.maxLabel)
	}
	// Buttons and ARIA switches carry their own text; a select's text is its options.
	if n.Data != "select" && n.Data != "input" {
		if t := snap.Text(n); t != "" {
			return truncateRunes(t, h.maxLabel)
		}
	}
	if id := attr(n, "id"); id != "" {
		var text string
		snap.Doc.Find("label[for]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if sel.AttrOr("for", "") == id {
				text = snap.Text(sel.Get(0))
				return false
			}
			return true
		})
		if text != "" {
			return truncateRunes(text, h.maxLabel)
		}
	}
	group := closest(n, 0, func(p *html.Node) bool {
		role := strings.ToLower(attr(p, "role"))
		return p.Data == "label" || role == "group" || role == "radiogroup"
	})
	if group != nil {
		if t := snap.Text(group); t != "" {
			return truncateRunes(t, h.maxLabel)
		}
		if t := collapse(attr(group, "aria-label")); t != "" {
			return truncateRunes(t, h.maxLabel)
		}
	}
	if container := closest(n, 0, isTag("div", "section", "li")); container != nil {
		return truncateRunes(snap.Text(container), h.maxLabel)
	}
	return truncateRunes(collapse(attr(n, "title")+" "+attr(n, "name")), h.maxLabel)
}
