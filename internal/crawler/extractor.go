// internal/crawler/extractor.go
package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	candidateSelector = `a, button, [role=button], [role=link], [role=menuitem], [role=tab], [role=switch], [onclick], [data-href], [tabindex="0"]`
	navRootSelector   = `nav, [role=navigation], [role=tablist], [aria-label*=settings i], [aria-label*=preferences i]`

	maxLabelRunes     = 120
	ancestorTextDepth = 3
)

var boilerplateLabels = map[string]bool{
	"":           true,
	"ok":         true,
	"close":      true,
	"cancel":     true,
	"save":       true,
	"open":       true,
	"more":       true,
	"learn more": true,
}

var knownRoles = map[string]Role{
	"button":   RoleButton,
	"link":     RoleLink,
	"menuitem": RoleMenuItem,
	"tab":      RoleTab,
	"switch":   RoleSwitch,
	"checkbox": RoleCheckbox,
}

// Extract returns the deduplicated, visible candidates of a snapshot in
// document order. It never fails; elements it cannot label are skipped.
func Extract(snap *Snapshot) []Candidate {
	navRoots := make(map[*html.Node]bool)
	snap.Doc.Find(navRootSelector).Each(func(_ int, sel *goquery.Selection) {
		navRoots[sel.Get(0)] = true
	})

	var out []Candidate
	seen := make(map[string]bool)
	snap.Doc.Find(candidateSelector).Each(func(_ int, sel *goquery.Selection) {
		n := sel.Get(0)
		if !snap.Visible(n) || isDisabled(n) {
			return
		}
		label := candidateLabel(snap, n)
		if boilerplateLabels[strings.ToLower(label)] {
			return
		}

		c := Candidate{
			Label:   label,
			Role:    roleOf(n),
			Locator: snap.Locator(n),
			Href:    hrefOf(n),
			Box:     snap.Box(n),
			Index:   len(out),
			node:    n,
		}
		key := dedupKey(c, n)
		if seen[key] {
			return
		}
		seen[key] = true

		c.InNav = closest(n, 0, func(p *html.Node) bool { return navRoots[p] }) != nil || navRoots[n]
		out = append(out, c)
	})
	return out
}

func isDisabled(n *html.Node) bool {
	return hasAttr(n, "disabled") || strings.EqualFold(attr(n, "aria-disabled"), "true")
}

// candidateLabel resolves a label: inner text, aria-label, title or image
// alt, nearby ancestor text, then sibling text.
func candidateLabel(snap *Snapshot, n *html.Node) string {
	if t := snap.Text(n); t != "" {
		return truncateRunes(t, maxLabelRunes)
	}
	if t := collapse(attr(n, "aria-label")); t != "" {
		return truncateRunes(t, maxLabelRunes)
	}
	if t := collapse(attr(n, "title")); t != "" {
		return truncateRunes(t, maxLabelRunes)
	}
	if img := goquery.NewDocumentFromNode(n).Find("img[alt]").First(); img.Length() > 0 {
		if t := collapse(img.AttrOr("alt", "")); t != "" {
			return truncateRunes(t, maxLabelRunes)
		}
	}
	depth := 0
	for p := n.Parent; p != nil && p.Type == html.ElementNode && depth < ancestorTextDepth; p = p.Parent {
		depth++
		if t := snap.Text(p); t != "" {
			return truncateRunes(t, maxLabelRunes)
		}
	}
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if t := collapse(nodeText(snap, s)); t != "" {
			return truncateRunes(t, maxLabelRunes)
		}
	}
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if t := collapse(nodeText(snap, s)); t != "" {
			return truncateRunes(t, maxLabelRunes)
		}
	}
	return ""
}

func nodeText(snap *Snapshot, n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	if n.Type == html.ElementNode {
		return snap.Text(n)
	}
	return ""
}

func roleOf(n *html.Node) Role {
	if r, ok := knownRoles[strings.ToLower(strings.TrimSpace(attr(n, "role")))]; ok {
		return r
	}
	switch n.Data {
	case "a":
		return RoleLink
	case "button":
		return RoleButton
	}
	return RoleOther
}

func hrefOf(n *html.Node) string {
	if h := strings.TrimSpace(attr(n, "href")); h != "" {
		return h
	}
	return strings.TrimSpace(attr(n, "data-href"))
}

// dedupKey collapses true duplicates while keeping repeated labels at
// distinct positions apart.
func dedupKey(c Candidate, n *html.Node) string {
	label := strings.ToLower(c.Label)
	if c.Box != nil {
		return label + "|" + c.Box.String()
	}
	return label + "|" + attr(n, "id") + "|" + attr(n, "name")
}
