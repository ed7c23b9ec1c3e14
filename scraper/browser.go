package scraper

import (
	"context"
	"time"
)

// Launcher acquires a browser session. One browser serves every attempt of
// a single Fetch call.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a running browser session that can open isolated page-contexts.
type Browser interface {
	NewPage(ctx context.Context) (PageContext, error)

	// Close releases the browser. It must be safe to call more than once.
	Close() error
}

// PageContext is one page used for exactly one attempt and then discarded.
type PageContext interface {
	// Prepare applies emulation settings and installs the request filter.
	Prepare(ctx context.Context, opts PageOptions) error

	// WaitResponse registers a waiter for the first response accepted by m.
	// It must be called before Navigate. The channel receives at most one value.
	WaitResponse(m ResponseMatcher) <-chan CapturedResponse

	// Navigate loads url and returns once the page's network activity has
	// quiesced or ctx is done.
	Navigate(ctx context.Context, url string) error

	// Scroll scrolls the page vertically by dy pixels.
	Scroll(ctx context.Context, dy int) error

	Close() error
}

// PageOptions is the emulation applied to a fresh page-context.
type PageOptions struct {
	UserAgent  string
	Viewport   Viewport
	Headers    map[string]string
	Stealth    bool
	IdleWindow time.Duration
	Filter     *NetworkFilter
}

// Viewport is the emulated window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// CapturedResponse is the matched target response.
type CapturedResponse struct {
	URL        string
	Method     string
	Status     int
	StatusText string
	Body       []byte

	// Err is set when the matched request failed before a response arrived.
	Err error
}
