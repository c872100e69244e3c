// internal/crawler/tracker.go
package crawler

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultQueryWhitelist keeps only the query keys that select a screen.
var DefaultQueryWhitelist = []string{"tab"}

// Canonicalize reduces a URL to scheme, host, path and whitelisted query
// keys. It is idempotent. A nil whitelist uses DefaultQueryWhitelist.
func Canonicalize(raw string, whitelist []string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("failed to canonicalize %q: not an absolute URL", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Opaque != "" {
		return u.Scheme + ":" + u.Opaque, nil
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	if strings.Contains(u.Hostname(), ":") {
		// IPv6 literal.
		host = "[" + strings.ToLower(u.Hostname()) + "]"
		if port != "" {
			host += ":" + port
		}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	if whitelist == nil {
		whitelist = DefaultQueryWhitelist
	}
	kept := url.Values{}
	query := u.Query()
	for _, key := range whitelist {
		if vals, ok := query[key]; ok {
			sorted := append([]string(nil), vals...)
			sort.Strings(sorted)
			kept[key] = sorted
		}
	}

	out := url.URL{
		Scheme:   u.Scheme,
		User:     u.User,
		Host:     host,
		Path:     path,
		RawQuery: kept.Encode(),
	}
	return out.String(), nil
}

// controlFingerprint is the stable subset of a control that identifies a screen.
type controlFingerprint struct {
	Type     ControlType `json:"type"`
	Label    string      `json:"label"`
	Selector string      `json:"selector"`
	State    string      `json:"state"`
}

// Fingerprint hashes the page's controls, or the visible body text length
// when the page has none.
func Fingerprint(snap *Snapshot, controls []Control) string {
	h := sha1.New()
	if len(controls) == 0 {
		h.Write([]byte(strconv.Itoa(len(snap.BodyText()))))
		return hex.EncodeToString(h.Sum(nil))
	}
	items := make([]controlFingerprint, len(controls))
	for i, c := range controls {
		items[i] = controlFingerprint{
			Type:     c.Type,
			Label:    strings.ToLower(c.Label),
			Selector: c.Selector,
			State:    c.State,
		}
	}
	data, _ := json.Marshal(items)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Tracker records visited screen signatures in insertion order.
type Tracker struct {
	seen  map[string]bool
	order []Signature
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]bool)}
}

// IsNew reports whether sig has not been visited.
func (t *Tracker) IsNew(sig Signature) bool {
	return !t.seen[sig.Key()]
}

// MarkVisited records sig. It returns false when sig was already present.
func (t *Tracker) MarkVisited(sig Signature) bool {
	key := sig.Key()
	if t.seen[key] {
		return false
	}
	t.seen[key] = true
	t.order = append(t.order, sig)
	return true
}

// Len is the number of distinct screens visited.
func (t *Tracker) Len() int { return len(t.order) }

// Visited returns the signatures in the order they were first seen.
func (t *Tracker) Visited() []Signature {
	return append([]Signature(nil), t.order...)
}
