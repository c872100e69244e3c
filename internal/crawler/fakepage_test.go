package crawler

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/settings-crawler/internal/browser"
)

// fakeSite serves HTML by absolute URL. Lookups fall back to the URL without
// its query, then to render.
type fakeSite struct {
	pages  map[string]string
	render func(u *url.URL) (string, bool)
}

func (s *fakeSite) lookup(raw string) string {
	if doc, ok := s.pages[raw]; ok {
		return doc
	}
	u, err := url.Parse(raw)
	if err != nil {
		return notFoundHTML
	}
	stripped := *u
	stripped.RawQuery = ""
	if doc, ok := s.pages[stripped.String()]; ok {
		return doc
	}
	if s.render != nil {
		if doc, ok := s.render(u); ok {
			return doc
		}
	}
	return notFoundHTML
}

const notFoundHTML = `<html><body><p>Not found</p></body></html>`

// fakePage is an in-memory browser.Page. Clicking an element follows its
// href or data-href, swaps the document for data-toggle-html, or opens a
// popup for data-popup. Elements with data-fail-click reject real clicks but
// accept DOM clicks.
type fakePage struct {
	site *fakeSite
	url  string
	doc  string

	clicked []string
	methods []string
	scrolls int
	popup   *fakePage
}

func newFakePage(site *fakeSite, start string) *fakePage {
	return &fakePage{site: site, url: start, doc: site.lookup(start)}
}

var _ browser.Page = (*fakePage)(nil)

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Navigate(ctx context.Context, raw string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.url, p.doc = raw, p.site.lookup(raw)
	return nil
}

func (p *fakePage) WaitForLoad(ctx context.Context) error { return ctx.Err() }

func (p *fakePage) Snapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.doc, nil
}

func (p *fakePage) find(loc string) (*html.Node, error) {
	root, err := htmlquery.Parse(strings.NewReader(p.doc))
	if err != nil {
		return nil, err
	}
	n, err := htmlquery.Query(root, loc)
	if err != nil || n == nil {
		return nil, browser.ErrElementNotFound
	}
	return n, nil
}

func (p *fakePage) Hover(ctx context.Context, loc string) error {
	_, err := p.find(loc)
	return err
}

func (p *fakePage) ScrollIntoView(ctx context.Context, loc string) error {
	_, err := p.find(loc)
	return err
}

func (p *fakePage) Click(ctx context.Context, loc string, opts browser.ClickOptions) error {
	method := "click"
	if opts.Force {
		method = "force"
	}
	return p.activate(ctx, loc, method)
}

func (p *fakePage) DOMClick(ctx context.Context, loc string) error {
	return p.activate(ctx, loc, "dom")
}

var errNotClickable = errors.New("element is not clickable")

func (p *fakePage) activate(ctx context.Context, loc, method string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := p.find(loc)
	if err != nil {
		return err
	}
	p.methods = append(p.methods, method)
	if method != "dom" && hasAttr(n, "data-fail-click") {
		return errNotClickable
	}
	p.clicked = append(p.clicked, strings.TrimSpace(htmlquery.InnerText(n)))

	if key := attr(n, "data-toggle-html"); key != "" {
		p.doc = p.site.lookup(key)
		return nil
	}
	href := hrefOf(n)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	base, _ := url.Parse(p.url)
	target := resolveHref(base, href).String()
	if hasAttr(n, "data-popup") {
		p.popup = newFakePage(p.site, target)
		return nil
	}
	p.url, p.doc = target, p.site.lookup(target)
	return nil
}

func (p *fakePage) Focus(ctx context.Context, loc string) error {
	_, err := p.find(loc)
	return err
}

func (p *fakePage) Press(ctx context.Context, key string) error { return nil }

func (p *fakePage) ScrollBy(ctx context.Context, dy int) error {
	p.scrolls++
	return ctx.Err()
}

func (p *fakePage) ExpectPopup(ctx context.Context, action func(context.Context) error) (browser.Page, error) {
	p.popup = nil
	if err := action(ctx); err != nil {
		return nil, err
	}
	if p.popup == nil {
		return nil, browser.ErrNoPopup
	}
	popup := p.popup
	p.popup = nil
	return popup, nil
}

func (p *fakePage) Close() error { return nil }

// fakeHolder holds the active page like a browser session does.
type fakeHolder struct {
	page browser.Page
}

func (h *fakeHolder) Page() browser.Page     { return h.page }
func (h *fakeHolder) SetPage(p browser.Page) { h.page = p }

// mustSnapshot parses doc as if it had been captured at pageURL.
func mustSnapshot(pageURL, doc string) *Snapshot {
	snap, err := ParseSnapshot(pageURL, doc)
	if err != nil {
		panic(err)
	}
	return snap
}
