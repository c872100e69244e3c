// internal/crawler/vocabulary.go
package crawler

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// DefaultGoalTerms is the goal vocabulary used when no query is given.
var DefaultGoalTerms = []string{
	"privacy settings",
	"data & privacy",
	"privacy & visibility",
	"settings",
	"preferences",
	"account settings",
	"security & privacy",
	"account",
	"profile",
	"privacy",
}

// MultilingualGoalTerms extend the vocabulary for Spanish-language sites.
var MultilingualGoalTerms = []string{
	"privacidad",
	"datos y privacidad",
	"preferencias",
	"configuración",
	"cuenta",
	"seguridad y privacidad",
	"permisos",
}

// GoalTerms returns the lowercased, deduplicated vocabulary for a run.
func GoalTerms(query []string, multilingual bool) []string {
	base := query
	if len(base) == 0 {
		base = DefaultGoalTerms
	}
	if multilingual {
		base = append(append([]string{}, base...), MultilingualGoalTerms...)
	}
	seen := make(map[string]bool, len(base))
	terms := make([]string, 0, len(base))
	for _, t := range base {
		t = strings.ToLower(strings.Join(strings.Fields(t), " "))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	return terms
}

var (
	destructiveRe = regexp.MustCompile(`(?i)\b(delete|terminate|remove|discard|erase|clear data|factory\s*reset|deactivate|disable|close account|remove account|unlink|revoke|reset|log\s*out|logout|sign\s*out|delete account)\b`)
	policyLabelRe = regexp.MustCompile(`(?i)\b(privacy\s*policy|privacy\s*statement|trust|legal|learn\s*more|terms|cookie\s*policy|policy)\b`)
	hrefPathRe    = regexp.MustCompile(`(?i)/(accessibility|legal|terms|privacy-policy|cookie[-_]policy|press|newsroom|brand|investors?|about|careers?|blog|help|support|status|contact)(/|$)`)
	hrefSchemeRe  = regexp.MustCompile(`(?i)^\s*(mailto|tel|javascript|zoommtg|msteams|webex|lync|sip):`)

	privacyHintRe = regexp.MustCompile(`(?i)(privacy|data|permission|consent|visibility|record|recording|chat history|authentication|password|encryption|waiting room|participants|who can|allow .* to|share .* data|profile visibility|retention|history|cloud recording|local recording|microphone|camera)`)
	popupHintRe   = regexp.MustCompile(`(?i)(manage your|view more|account\.google\.com|admin|portal)`)
)

// Denylist decides which candidates must never be clicked.
type Denylist struct {
	extra []*regexp.Regexp
}

// NewDenylist compiles extra patterns. A pattern that is not a valid regular
// expression is matched literally.
func NewDenylist(extra []string) *Denylist {
	d := &Denylist{}
	for _, p := range extra {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(p))
		}
		d.extra = append(d.extra, re)
	}
	return d
}

// Label reports whether a label is denied, with the matching list's name.
func (d *Denylist) Label(label string) (bool, string) {
	switch {
	case destructiveRe.MatchString(label):
		return true, "destructive"
	case policyLabelRe.MatchString(label):
		return true, "policy"
	}
	for _, re := range d.extra {
		if re.MatchString(label) {
			return true, "extra"
		}
	}
	return false, ""
}

// Href reports whether a link target is denied. resolved may be nil for
// hrefs that did not parse.
func (d *Denylist) Href(raw string, resolved *url.URL) (bool, string) {
	if hrefSchemeRe.MatchString(raw) {
		return true, "scheme"
	}
	if resolved != nil && hrefPathRe.MatchString(resolved.Path) {
		return true, "href"
	}
	for _, re := range d.extra {
		if raw != "" && re.MatchString(raw) {
			return true, "extra"
		}
	}
	return false, ""
}

// categoryKeywords maps a category to the label keywords that select it.
var categoryKeywords = map[string][]string{
	"privacy":         {"privacy", "private"},
	"data":            {"data", "download your", "export"},
	"security":        {"security", "password", "authentication", "two-factor", "2fa", "encryption", "passcode"},
	"consent":         {"consent", "agree", "opt in", "opt-in", "opt out", "opt-out"},
	"recording":       {"record", "recording", "transcript"},
	"retention":       {"retention", "retain", "auto-delete", "keep"},
	"gdpr":            {"gdpr"},
	"ccpa":            {"ccpa", "do not sell"},
	"cookie":          {"cookie"},
	"tracking":        {"tracking", "track"},
	"telemetry":       {"telemetry", "diagnostic", "usage data", "analytics"},
	"ads":             {"ads", "advertis", "ad personalization", "sponsored"},
	"personalization": {"personaliz", "personalis", "recommendation"},
	"permissions":     {"permission", "allow", "who can"},
	"sharing":         {"share", "sharing"},
	"third-party":     {"third-party", "third party", "partners", "connected apps"},
	"camera":          {"camera", "video"},
	"microphone":      {"microphone", "mic ", "audio"},
	"location":        {"location", "geolocation"},
	"visibility":      {"visibility", "visible", "who can see", "profile visibility", "public"},
	"history":         {"history", "activity"},
	"notifications":   {"notification", "email me", "alerts"},
}

// Categories returns the sorted categories whose keywords occur in label.
func Categories(label string) []string {
	lower := strings.ToLower(label) + " "
	out := []string{}
	for cat, words := range categoryKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				out = append(out, cat)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// CategoryNames returns every known category, sorted.
func CategoryNames() []string {
	out := make([]string, 0, len(categoryKeywords))
	for cat := range categoryKeywords {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// IsPrivacyRelevant reports whether text hints at a privacy setting.
func IsPrivacyRelevant(text string) bool {
	return privacyHintRe.MatchString(text)
}
