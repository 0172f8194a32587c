package observer

import (
	"context"
	"time"
)

// Page is the browser surface the controller observes. browser.Tab is the
// production implementation.
type Page interface {
	// HTML returns the serialised live DOM.
	HTML(ctx context.Context) (string, error)
	// URL returns the current location.
	URL(ctx context.Context) (string, error)
	// Alive is the capability probe: false when the page's runtime can no
	// longer evaluate scripts or deliver signals.
	Alive(ctx context.Context) bool
	// Attach installs a MutationObserver described by w. It reports false
	// when none of w.Selectors matches an element.
	Attach(ctx context.Context, w Watch) (bool, error)
	// Detach disconnects the observer registered under id.
	Detach(ctx context.Context, id string) error
}

// Watch describes one MutationObserver installed in the page.
type Watch struct {
	ID string `json:"id"`
	// Selectors are tried in order; the first matching element is observed.
	Selectors []string `json:"selectors"`
	// Parent observes the matched element's parent instead.
	Parent        bool `json:"parent,omitempty"`
	ChildList     bool `json:"childList,omitempty"`
	Subtree       bool `json:"subtree,omitempty"`
	CharacterData bool `json:"characterData,omitempty"`
	Attributes    bool `json:"attributes,omitempty"`
	// Added, when set, only signals for batches that added an element
	// matching this selector or containing one.
	Added string `json:"added,omitempty"`
}

// Signal is one notification from the page: a watch fired, or a new
// document was loaded (Watch == WatchDocument).
type Signal struct {
	Watch string    `json:"watch"`
	At    time.Time `json:"-"`
}

// Page-level watch IDs. Session watches are prefixed with the session ID.
const (
	WatchNavigation  = "nav"
	WatchDescription = "desc"
	WatchDocument    = "load"
)
