package scraper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeLauncher hands out a single fakeBrowser, or fails.
type fakeLauncher struct {
	browser  *fakeBrowser
	err      error
	launches atomic.Int32
}

func (l *fakeLauncher) Launch(ctx context.Context) (Browser, error) {
	l.launches.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.browser, nil
}

// fakeBrowser builds one fakePage per attempt through script.
type fakeBrowser struct {
	script  func(attempt int) *fakePage
	pageErr error

	mu     sync.Mutex
	pages  []*fakePage
	closes atomic.Int32
}

func newFakeBrowser(script func(attempt int) *fakePage) *fakeBrowser {
	return &fakeBrowser{script: script}
}

func (b *fakeBrowser) NewPage(ctx context.Context) (PageContext, error) {
	if b.pageErr != nil {
		return nil, b.pageErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.script(len(b.pages) + 1)
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBrowser) Close() error {
	b.closes.Add(1)
	return nil
}

func (b *fakeBrowser) Pages() []*fakePage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakePage(nil), b.pages...)
}

// fakePage scripts one navigation cycle.
type fakePage struct {
	prepareErr   error
	navigateErr  error
	hangNavigate bool              // block in Navigate until the context ends
	response     *CapturedResponse // delivered during Navigate when set
	scrollErr    error

	mu      sync.Mutex
	calls   []string
	opts    PageOptions
	matcher ResponseMatcher
	ch      chan CapturedResponse
	closes  atomic.Int32
}

func (p *fakePage) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) Prepare(ctx context.Context, opts PageOptions) error {
	p.record("prepare")
	p.mu.Lock()
	p.opts = opts
	p.mu.Unlock()
	return p.prepareErr
}

func (p *fakePage) WaitResponse(m ResponseMatcher) <-chan CapturedResponse {
	p.record("wait")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matcher = m
	p.ch = make(chan CapturedResponse, 1)
	return p.ch
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.record("navigate")
	if p.hangNavigate {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.navigateErr != nil {
		return p.navigateErr
	}
	p.mu.Lock()
	ch, m := p.ch, p.matcher
	p.mu.Unlock()
	if p.response != nil && ch != nil && m.Matches(p.response.URL, p.response.Method) {
		ch <- *p.response
	}
	return nil
}

func (p *fakePage) Scroll(ctx context.Context, dy int) error {
	p.record("scroll")
	return p.scrollErr
}

func (p *fakePage) Close() error {
	p.record("close")
	p.closes.Add(1)
	return nil
}

// ── Helpers ─────────────────────────────────────────────────────────────

const (
	testPageURL = "https://www.example.test/map"
	testAPIURL  = "https://api.example.test/Listing.svc/PropertySearch_Post"
)

func testSessionConfig() SessionConfig {
	return SessionConfig{
		PageURL:        testPageURL,
		Target:         Target{URL: testAPIURL, Method: "POST"},
		AttemptTimeout: 2 * time.Second,
		UserAgent:      "test-agent",
		Viewport:       Viewport{Width: 1280, Height: 800},
		Filter: FilterRules{
			BlockedTypes:    []string{"image"},
			BlockedPatterns: []string{".css"},
		},
		ScrollBy: 100,
	}
}

func okPage(body string) *fakePage {
	return &fakePage{response: &CapturedResponse{
		URL:    testAPIURL,
		Method: "POST",
		Status: 200,
		Body:   []byte(body),
	}}
}

func statusPage(status int, body string) *fakePage {
	return &fakePage{response: &CapturedResponse{
		URL:    testAPIURL,
		Method: "POST",
		Status: status,
		Body:   []byte(body),
	}}
}

// sleepRecorder replaces the inter-attempt delay and records each call.
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var errBoom = errors.New("boom")
