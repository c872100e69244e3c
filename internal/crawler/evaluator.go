// internal/crawler/evaluator.go
package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/xkilldash9x/settings-crawler/internal/config"
)

// DefaultURLPatterns mark a settings surface by path.
var DefaultURLPatterns = []string{`/privacy$`, `/settings?$`, `data-and-privacy`}

// DefaultHeadings are the heading phrases that mark a settings surface.
var DefaultHeadings = []string{
	"privacy settings",
	"data & privacy",
	"data and privacy",
	"security & privacy",
	"privacy & security",
	"privacy and security",
	"privacy & visibility",
}

var (
	policyURLRe     = regexp.MustCompile(`(?i)/(trust|legal|privacy[-_ ]?(policy|statement)|compliance)(/|$|\?)`)
	deniedHeadingRe = regexp.MustCompile(`(?i)(privacy\s*policy|cookie|terms)`)
)

// Observation is what the evaluator sees of one screen.
type Observation struct {
	CanonicalURL string
	Clicks       int
	Headings     []string
	Controls     []Control
}

// Evaluation is the evaluator's verdict.
type Evaluation struct {
	State  EvalState
	Reason string
}

// Evaluator decides whether a screen is the privacy settings surface.
type Evaluator struct {
	urlPatterns []*regexp.Regexp
	headings    []string
	strong      int
	weak        int
}

// NewEvaluator compiles the configured patterns.
func NewEvaluator(cfg config.EvaluatorConfig) (*Evaluator, error) {
	patterns := cfg.URLPatterns
	if len(patterns) == 0 {
		patterns = DefaultURLPatterns
	}
	e := &Evaluator{
		strong: cfg.StrongControlThreshold,
		weak:   cfg.WeakControlThreshold,
	}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid url pattern %q: %w", p, err)
		}
		e.urlPatterns = append(e.urlPatterns, re)
	}
	headings := cfg.Headings
	if len(headings) == 0 {
		headings = DefaultHeadings
	}
	for _, h := range headings {
		e.headings = append(e.headings, strings.ToLower(h))
	}
	if e.strong <= 0 {
		e.strong = 8
	}
	if e.weak <= 0 {
		e.weak = 4
	}
	return e, nil
}

// Evaluate returns SUCCESS or SEARCHING for one screen. Budget exhaustion
// is decided by the engine.
func (e *Evaluator) Evaluate(obs Observation) Evaluation {
	path := obs.CanonicalURL
	if u, err := url.Parse(obs.CanonicalURL); err == nil {
		path = u.EscapedPath()
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
	}
	if policyURLRe.MatchString(path) {
		return Evaluation{State: StateSearching, Reason: "policy page"}
	}

	if e.matchesURL(obs.CanonicalURL) {
		return Evaluation{State: StateSuccess, Reason: "url pattern"}
	}
	// The landing page only counts on a URL match.
	if obs.Clicks == 0 {
		return Evaluation{State: StateSearching}
	}

	if h, ok := e.matchHeading(obs.Headings); ok {
		return Evaluation{State: StateSuccess, Reason: fmt.Sprintf("heading %q", h)}
	}

	count, privacy := 0, false
	for _, c := range obs.Controls {
		if c.Type == ControlButtonLink {
			continue
		}
		count++
		if IsPrivacyRelevant(c.Label) {
			privacy = true
		}
	}
	if count >= e.strong {
		return Evaluation{State: StateSuccess, Reason: fmt.Sprintf("%d controls", count)}
	}
	if count >= e.weak && privacy {
		return Evaluation{State: StateSuccess, Reason: fmt.Sprintf("%d controls with privacy labels", count)}
	}
	return Evaluation{State: StateSearching}
}

func (e *Evaluator) matchesURL(canonical string) bool {
	path := canonical
	if u, err := url.Parse(canonical); err == nil {
		path = u.Path
	}
	for _, re := range e.urlPatterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (e *Evaluator) matchHeading(headings []string) (string, bool) {
	for _, h := range headings {
		lower := strings.ToLower(h)
		if deniedHeadingRe.MatchString(lower) {
			continue
		}
		for _, allowed := range e.headings {
			if strings.Contains(lower, allowed) {
				return h, true
			}
		}
	}
	return "", false
}
