// internal/crawler/snapshot.go
package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Snapshot is a parsed, annotated copy of the page DOM. All analysis runs on
// snapshots; only the navigator touches the live page.
type Snapshot struct {
	URL string
	Doc *goquery.Document

	root   *html.Node
	base   *url.URL
	ids    map[string]int
	hidden map[*html.Node]bool
}

// ParseSnapshot parses serialized HTML captured at pageURL.
func ParseSnapshot(pageURL, raw string) (*Snapshot, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}
	return &Snapshot{
		URL:    pageURL,
		Doc:    goquery.NewDocumentFromNode(root),
		root:   root,
		base:   base,
		ids:    countIDs(root),
		hidden: make(map[*html.Node]bool),
	}, nil
}

// Locator returns an XPath that finds n again on the live page.
func (s *Snapshot) Locator(n *html.Node) string {
	return xpathFor(n, s.ids)
}

// FindLocator resolves a locator against this snapshot.
func (s *Snapshot) FindLocator(loc string) *html.Node {
	n, err := htmlquery.Query(s.root, loc)
	if err != nil {
		return nil
	}
	return n
}

// Resolve turns an href into an absolute URL relative to the page.
func (s *Snapshot) Resolve(href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, err
	}
	return s.base.ResolveReference(ref), nil
}

var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "head": true,
}

// selfHidden reports whether n itself is hidden, ignoring ancestors.
func selfHidden(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if skippedTags[n.Data] {
		return true
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "data-sc-hidden":
			if a.Val == "1" {
				return true
			}
		case "hidden":
			return true
		case "aria-hidden":
			if strings.EqualFold(a.Val, "true") {
				return true
			}
		case "type":
			if n.Data == "input" && strings.EqualFold(a.Val, "hidden") {
				return true
			}
		case "style":
			style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

// Visible reports whether n and all of its ancestors are rendered.
func (s *Snapshot) Visible(n *html.Node) bool {
	var chain []*html.Node
	hidden := false
	for cur := n; cur != nil; cur = cur.Parent {
		if h, ok := s.hidden[cur]; ok {
			hidden = h
			break
		}
		chain = append(chain, cur)
	}
	// Fill the cache from the top down.
	for i := len(chain) - 1; i >= 0; i-- {
		hidden = hidden || selfHidden(chain[i])
		s.hidden[chain[i]] = hidden
	}
	return !s.hidden[n]
}

// Text returns the whitespace-collapsed visible text of n.
func (s *Snapshot) Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			if selfHidden(c) {
				return
			}
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return collapse(b.String())
}

// BodyText returns the visible text of the document body.
func (s *Snapshot) BodyText() string {
	body := s.Doc.Find("body")
	if body.Length() == 0 {
		return s.Text(s.root)
	}
	return s.Text(body.Get(0))
}

// Headings returns the visible heading texts in document order.
func (s *Snapshot) Headings() []string {
	var out []string
	s.Doc.Find("h1, h2, h3, [role=heading]").Each(func(_ int, sel *goquery.Selection) {
		n := sel.Get(0)
		if !s.Visible(n) {
			return
		}
		if t := s.Text(n); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// Box returns the annotated bounding box of n, if any.
func (s *Snapshot) Box(n *html.Node) *Box {
	raw := htmlquery.SelectAttr(n, "data-sc-box")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil
	}
	var v [4]int
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		v[i] = int(f)
	}
	return &Box{X: v[0], Y: v[1], W: v[2], H: v[3]}
}

// ElementByID returns the element with the given id.
func (s *Snapshot) ElementByID(id string) *html.Node {
	if id == "" || strings.ContainsAny(id, `'"`) {
		return nil
	}
	return htmlquery.FindOne(s.root, fmt.Sprintf("//*[@id='%s']", id))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit]))
}

func attr(n *html.Node, key string) string {
	return htmlquery.SelectAttr(n, key)
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// closest returns the nearest ancestor of n (excluding n) matching pred, up to maxDepth levels; 0 means unbounded.
func closest(n *html.Node, maxDepth int, pred func(*html.Node) bool) *html.Node {
	depth := 0
	for p := n.Parent; p != nil && p.Type != html.DocumentNode; p = p.Parent {
		depth++
		if maxDepth > 0 && depth > maxDepth {
			return nil
		}
		if p.Type == html.ElementNode && pred(p) {
			return p
		}
	}
	return nil
}

func isTag(tags ...string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, t := range tags {
			if n.Data == t {
				return true
			}
		}
		return false
	}
}
