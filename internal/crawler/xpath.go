// internal/crawler/xpath.go
package crawler

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// xpathFor generates a locator for node, anchoring on the nearest ancestor
// with a unique, quote-free id. ids counts id occurrences in the document.
func xpathFor(node *html.Node, ids map[string]int) string {
	if node == nil {
		return ""
	}

	var path []string
	anchored := false
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)
		if tag == "" {
			continue
		}

		if id := htmlquery.SelectAttr(n, "id"); id != "" && ids[id] == 1 && !strings.ContainsAny(id, `'"`) {
			path = append(path, fmt.Sprintf(`//*[@id='%s']`, id))
			anchored = true
			break
		}

		// XPath indices are 1-based.
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}

	if len(path) == 0 {
		return "/"
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	xpath := strings.Join(path, "/")
	if !anchored {
		xpath = "/" + xpath
	}
	return xpath
}

// countIDs counts id attributes across the document.
func countIDs(doc *html.Node) map[string]int {
	ids := make(map[string]int)
	for _, n := range htmlquery.Find(doc, "//*[@id]") {
		ids[htmlquery.SelectAttr(n, "id")]++
	}
	return ids
}
