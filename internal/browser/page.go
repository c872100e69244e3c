// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoPopup is returned by ExpectPopup when the action did not open a new page in time.
	ErrNoPopup = errors.New("no popup opened")
	// ErrElementNotFound is returned when a locator matches nothing on the page.
	ErrElementNotFound = errors.New("element not found")
	// ErrStorageStateMissing is returned when authentication is required but no saved state exists for the host.
	ErrStorageStateMissing = errors.New("storage state file missing")
)

// ClickOptions tunes a single click attempt.
type ClickOptions struct {
	// Force skips actionability checks (visibility, overlap, stability).
	Force bool
}

// Page is the set of primitives the traversal needs from a browser tab.
// Locators are XPath expressions produced from a DOM snapshot of the same page.
// Implementations honor the context deadline on every blocking call.
type Page interface {
	// URL returns the current page URL.
	URL() string
	// Navigate loads url and waits for DOMContentLoaded.
	Navigate(ctx context.Context, url string) error
	// WaitForLoad waits for the current document to finish loading.
	WaitForLoad(ctx context.Context) error
	// Snapshot annotates the live DOM (see SnapshotScript) and returns its serialized HTML.
	Snapshot(ctx context.Context) (string, error)

	Hover(ctx context.Context, locator string) error
	ScrollIntoView(ctx context.Context, locator string) error
	Click(ctx context.Context, locator string, opts ClickOptions) error
	// DOMClick calls element.click() in page script, bypassing input events.
	DOMClick(ctx context.Context, locator string) error
	Focus(ctx context.Context, locator string) error
	// Press sends a key to the focused element, e.g. "Enter".
	Press(ctx context.Context, key string) error
	// ScrollBy scrolls the viewport vertically by dy pixels.
	ScrollBy(ctx context.Context, dy int) error

	// ExpectPopup runs action and returns the page it opened. It returns
	// ErrNoPopup when no page opened before ctx expired. An error from
	// action itself is returned unchanged.
	ExpectPopup(ctx context.Context, action func(context.Context) error) (Page, error)

	Close() error
}

// timeoutMillis converts the remaining time on ctx to milliseconds, falling
// back to def when ctx has no deadline. Drivers that take numeric timeouts
// use it so the context stays the single source of truth.
func timeoutMillis(ctx context.Context, def time.Duration) float64 {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 1
		}
		return float64(remaining.Milliseconds())
	}
	return float64(def.Milliseconds())
}
