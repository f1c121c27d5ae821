package engine

import (
	"context"
	"net/http"
	"time"
)

// Driver is the page surface the acquisition state machine steers. The
// browser backend implements it over a rod page; tests use a scripted fake.
type Driver interface {
	// Navigate loads url and waits for the DOM to settle.
	Navigate(ctx context.Context, url string) error

	// URL returns the current, post-redirect location.
	URL() string

	// Title returns the document title.
	Title() string

	// Has reports whether selector matches right now, without waiting.
	Has(selector string) bool

	// Text returns the trimmed text of the first match, if any.
	Text(selector string) (string, bool)

	// Click clicks the first match.
	Click(ctx context.Context, selector string) error

	// ClickAndWait clicks the first match and waits up to timeout for the
	// navigation it triggers.
	ClickAndWait(ctx context.Context, selector string, timeout time.Duration) error

	// Input replaces the value of the first match with text.
	Input(ctx context.Context, selector, text string) error

	// WaitAny waits up to timeout for any selector to match and returns
	// the one that did.
	WaitAny(ctx context.Context, timeout time.Duration, selectors ...string) (string, error)

	// SetCookies installs cookies before the next navigation.
	SetCookies(cookies []*http.Cookie) error

	// HTML returns the rendered document.
	HTML() (string, error)
}
