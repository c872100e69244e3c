// internal/crawler/ranker.go
package crawler

import (
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/settings-crawler/internal/discovery"
)

// Score weights.
const (
	weightTerm       = 2.0
	weightPrivacy    = 1.5
	weightHrefTerm   = 1.0
	weightSharedPath = 0.5
	weightNavRoot    = 0.5
	weightMenuPick   = 1.0
)

// Ranked is a candidate with its relevance score.
type Ranked struct {
	Candidate
	Score float64
}

// Exclusion records why a candidate was dropped.
type Exclusion struct {
	Candidate Candidate
	Reason    string
}

// Ranker orders candidates against a goal vocabulary. Ranking is a pure
// function of its inputs.
type Ranker struct {
	terms    []string
	deny     *Denylist
	scope    *discovery.Scope
	startSeg string
}

// NewRanker creates a ranker for a traversal that started at startURL.
// scope may be nil to disable the off-scope check.
func NewRanker(terms []string, deny *Denylist, scope *discovery.Scope, startURL string) *Ranker {
	r := &Ranker{terms: terms, deny: deny, scope: scope}
	if u, err := url.Parse(startURL); err == nil {
		r.startSeg = firstSegment(u.Path)
	}
	if r.deny == nil {
		r.deny = NewDenylist(nil)
	}
	return r
}

// Rank scores candidates and returns the viable ones best first, along with
// every exclusion. base is the URL hrefs are resolved against.
func (r *Ranker) Rank(cands []Candidate, base string) ([]Ranked, []Exclusion) {
	baseURL, _ := url.Parse(base)

	var ranked []Ranked
	var excluded []Exclusion
	for _, c := range cands {
		if reason := r.excludeReason(c, baseURL); reason != "" {
			excluded = append(excluded, Exclusion{Candidate: c, Reason: reason})
			continue
		}
		score := r.score(c, baseURL)
		if score <= 0 {
			excluded = append(excluded, Exclusion{Candidate: c, Reason: "no goal match"})
			continue
		}
		ranked = append(ranked, Ranked{Candidate: c, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		la, lb := utf8.RuneCountInString(a.Label), utf8.RuneCountInString(b.Label)
		if la != lb {
			return la < lb
		}
		return a.Index < b.Index
	})
	return ranked, excluded
}

// Denied reports whether c may never be clicked, for any reason other than score.
func (r *Ranker) Denied(c Candidate, base string) bool {
	baseURL, _ := url.Parse(base)
	return r.excludeReason(c, baseURL) != ""
}

func (r *Ranker) excludeReason(c Candidate, base *url.URL) string {
	if denied, list := r.deny.Label(c.Label); denied {
		return list
	}
	if c.Href == "" {
		return ""
	}
	resolved := resolveHref(base, c.Href)
	if denied, list := r.deny.Href(c.Href, resolved); denied {
		return list
	}
	if r.scope != nil && resolved != nil && !strings.HasPrefix(strings.TrimSpace(c.Href), "#") {
		if (resolved.Scheme == "http" || resolved.Scheme == "https") && !r.scope.IsInScope(resolved) {
			return "off-scope"
		}
	}
	return ""
}

func (r *Ranker) score(c Candidate, base *url.URL) float64 {
	label := strings.ToLower(c.Label)
	var score float64
	for _, term := range r.terms {
		if strings.Contains(label, term) {
			score += weightTerm
		}
	}
	if strings.Contains(label, "privacy") {
		score += weightPrivacy
	}

	if resolved := resolveHref(base, c.Href); c.Href != "" && resolved != nil {
		if r.hrefMatches(resolved.Path) {
			score += weightHrefTerm
		}
		if seg := firstSegment(resolved.Path); seg != "" && seg == r.startSeg {
			score += weightSharedPath
		}
	}
	if c.InNav {
		score += weightNavRoot
	}
	if c.InMenu && (strings.Contains(label, "my profile") || isSettingsLike(label)) {
		score += weightMenuPick
	}
	return score
}

// hrefMatches reports whether any path segment names a goal term.
func (r *Ranker) hrefMatches(path string) bool {
	for _, seg := range strings.Split(strings.ToLower(path), "/") {
		if seg == "" {
			continue
		}
		words := strings.NewReplacer("-", " ", "_", " ", "%20", " ").Replace(seg)
		for _, term := range r.terms {
			if words == term || strings.Contains(words, strings.ReplaceAll(term, " & ", " and ")) {
				return true
			}
		}
	}
	return false
}

func isSettingsLike(label string) bool {
	for _, w := range []string{"settings", "preferences", "privacy", "account"} {
		if strings.Contains(label, w) {
			return true
		}
	}
	return false
}

func resolveHref(base *url.URL, href string) *url.URL {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil
	}
	if base == nil {
		return ref
	}
	return base.ResolveReference(ref)
}

func firstSegment(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			return strings.ToLower(seg)
		}
	}
	return ""
}
