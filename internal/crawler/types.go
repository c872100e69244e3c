// internal/crawler/types.go
package crawler

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/net/html"
)

// ErrNoStartURL is returned when a run is requested without a start URL.
var ErrNoStartURL = errors.New("no start URL")

// Role is the interactive role of a candidate.
type Role string

const (
	RoleLink     Role = "link"
	RoleButton   Role = "button"
	RoleTab      Role = "tab"
	RoleSwitch   Role = "switch"
	RoleMenuItem Role = "menuitem"
	RoleCheckbox Role = "checkbox"
	RoleOther    Role = "other"
)

// Box is an element's bounding box in document coordinates.
type Box struct {
	X, Y, W, H int
}

func (b Box) String() string { return fmt.Sprintf("%d,%d,%d,%d", b.X, b.Y, b.W, b.H) }

// Candidate is an interactive element of the current page.
type Candidate struct {
	Label   string
	Role    Role
	Locator string
	Href    string
	Box     *Box
	Index   int

	// InNav marks elements inside navigation roots.
	InNav bool
	// InMenu marks items of a menu opened by the profile-menu opener.
	InMenu bool

	node *html.Node
}

// ControlType is the kind of a harvested control.
type ControlType string

const (
	ControlToggle     ControlType = "toggle"
	ControlRadio      ControlType = "radio"
	ControlSelect     ControlType = "select"
	ControlCheckbox   ControlType = "checkbox"
	ControlButtonLink ControlType = "button-link"
)

// Control is a setting found on a settings page.
type Control struct {
	Label      string      `json:"label"`
	Type       ControlType `json:"type"`
	Selector   string      `json:"selector"`
	URL        string      `json:"url"`
	State      string      `json:"state,omitempty"`
	Categories []string    `json:"categories"`
}

// Signature identifies a logical screen.
type Signature struct {
	CanonicalURL string `json:"canonical_url"`
	Fingerprint  string `json:"fingerprint"`
}

// Key joins both parts into a map key.
func (s Signature) Key() string { return s.CanonicalURL + "#" + s.Fingerprint }

// EvalState is the evaluator's state machine position.
type EvalState string

const (
	StateSearching EvalState = "SEARCHING"
	StateSuccess   EvalState = "SUCCESS"
	StateExhausted EvalState = "EXHAUSTED"
)

// Exhaustion reasons.
const (
	ReasonMaxSteps     = "max steps reached"
	ReasonMaxPages     = "max pages reached"
	ReasonNoCandidates = "no candidates"
	ReasonCancelled    = "cancelled"
	ReasonStartFailed  = "start page unavailable"
)

// RunResult is the outcome of one traversal.
type RunResult struct {
	RunID      string      `json:"run_id"`
	Service    string      `json:"service,omitempty"`
	StartURL   string      `json:"start_url"`
	Success    bool        `json:"success"`
	ClickCount int         `json:"click_count"`
	Path       []string    `json:"path"`
	FinalURL   string      `json:"final_url"`
	Reason     string      `json:"reason,omitempty"`
	State      EvalState   `json:"state"`
	Controls   []Control   `json:"controls"`
	Visited    []Signature `json:"visited"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// ActionKind names what a gated action would do.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionExpand   ActionKind = "expand"
	ActionBanner   ActionKind = "dismiss-banner"
	ActionMenu     ActionKind = "open-menu"
)

// Action describes a click about to happen.
type Action struct {
	Kind    ActionKind
	Label   string
	Locator string
	Href    string
	URL     string
}

// ConfirmFunc approves or vetoes a click. Denylisted actions never reach it.
type ConfirmFunc func(Action) bool

// AllowAll approves every action.
func AllowAll(Action) bool { return true }
