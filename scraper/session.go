package scraper

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// SessionConfig is the immutable input of every attempt of one Fetch call.
type SessionConfig struct {
	PageURL        string
	Target         Target
	AttemptTimeout time.Duration
	UserAgent      string
	Viewport       Viewport
	Filter         FilterRules
	ExtraHeaders   map[string]string
	Stealth        bool
	IdleWindow     time.Duration
	ScrollBy       int
}

// SessionConfigFrom projects the application config onto a SessionConfig.
func SessionConfigFrom(cfg *config.Config) SessionConfig {
	headers := make(map[string]string, len(cfg.Page.ExtraHeaders))
	for k, v := range cfg.Page.ExtraHeaders {
		headers[k] = v
	}
	return SessionConfig{
		PageURL: cfg.Target.PageURL,
		Target: Target{
			URL:    cfg.Target.APIURL,
			Method: cfg.Target.APIMethod,
		},
		AttemptTimeout: cfg.Page.AttemptTimeout,
		UserAgent:      cfg.Page.UserAgent,
		Viewport: Viewport{
			Width:  cfg.Page.ViewportWidth,
			Height: cfg.Page.ViewportHeight,
		},
		Filter: FilterRules{
			BlockedTypes:    append([]string(nil), cfg.Filter.BlockedResourceTypes...),
			BlockedPatterns: append([]string(nil), cfg.Filter.BlockedURLPatterns...),
			BlockAds:        cfg.Filter.BlockAds,
		},
		ExtraHeaders: headers,
		Stealth:      cfg.Page.Stealth,
		IdleWindow:   cfg.Page.IdleWindow,
		ScrollBy:     cfg.Page.ScrollBy,
	}
}

// Session performs single navigation cycles against a browser. It never
// retries; see Orchestrator.
type Session struct {
	cfg     SessionConfig
	filter  *NetworkFilter
	matcher ResponseMatcher
}

// NewSession compiles cfg's filter and matcher once for all attempts.
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		cfg:     cfg,
		filter:  NewNetworkFilter(cfg.Filter),
		matcher: NewResponseMatcher(cfg.Target),
	}
}

// Attempt runs one navigation cycle and returns the target payload.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Attempt deadline: AttemptTimeout, independent of earlier attempts
//  2. Open page-context: always fresh, never reused
//  3. DEFER: discard page on every exit path, exactly once
//  4. Prepare: user agent, viewport, stealth, request filter
//  5. Register waiter: MUST precede Navigate or the response can be missed
//  6. Navigate: load + network quiescence
//  7. Scroll: best-effort lazy-load trigger
//  8. Await response
//  9. Validate status and JSON
func (s *Session) Attempt(ctx context.Context, b Browser) (json.RawMessage, error) {
	// ── 1. Attempt deadline ──────────────────────────────────────────
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	// ── 2. Open page-context ─────────────────────────────────────────
	page, err := b.NewPage(ctx)
	if err != nil {
		return nil, contextError(parent, ctx, models.ErrCodeNavigationTimeout,
			models.NewScrapeError(models.ErrCodeUnknown, "failed to open page", err))
	}

	// ── 3. Discard page on every exit path ───────────────────────────
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			slog.Warn("failed to close page", "error", closeErr)
		}
	}()

	// ── 4. Prepare page-context ──────────────────────────────────────
	opts := PageOptions{
		UserAgent:  s.cfg.UserAgent,
		Viewport:   s.cfg.Viewport,
		Headers:    s.cfg.ExtraHeaders,
		Stealth:    s.cfg.Stealth,
		IdleWindow: s.cfg.IdleWindow,
		Filter:     s.filter,
	}
	if err := page.Prepare(ctx, opts); err != nil {
		return nil, contextError(parent, ctx, models.ErrCodeNavigationTimeout,
			models.NewScrapeError(models.ErrCodeUnknown, "failed to prepare page", err))
	}

	// ── 5. Register response waiter BEFORE navigation ────────────────
	slog.Debug("waiting for target response",
		"url", s.matcher.Target().URL,
		"method", s.matcher.Target().Method,
	)
	responses := page.WaitResponse(s.matcher)

	// ── 6. Navigate ──────────────────────────────────────────────────
	if err := page.Navigate(ctx, s.cfg.PageURL); err != nil {
		return nil, contextError(parent, ctx, models.ErrCodeNavigationTimeout,
			models.NewScrapeError(models.ErrCodeNavigation, "navigation to page URL failed", err))
	}
	if ctx.Err() != nil {
		return nil, contextError(parent, ctx, models.ErrCodeNavigationTimeout, nil)
	}

	// ── 7. Scroll (best-effort) ──────────────────────────────────────
	if s.cfg.ScrollBy != 0 {
		if err := page.Scroll(ctx, s.cfg.ScrollBy); err != nil {
			slog.Warn("scroll failed, continuing", "error", err)
		}
	}

	// ── 8. Await target response ─────────────────────────────────────
	var resp CapturedResponse
	select {
	case resp = <-responses:
	case <-ctx.Done():
		return nil, contextError(parent, ctx, models.ErrCodeResponseTimeout, nil)
	}
	if resp.Err != nil {
		return nil, contextError(parent, ctx, models.ErrCodeResponseTimeout,
			models.NewScrapeError(models.ErrCodeUnknown, "target request failed", resp.Err))
	}

	// ── 9. Validate ──────────────────────────────────────────────────
	slog.Info("target response received", "status", resp.Status, "bytes", len(resp.Body))
	if resp.Status < 200 || resp.Status > 299 {
		statusText := resp.StatusText
		if statusText == "" {
			statusText = http.StatusText(resp.Status)
		}
		return nil, models.NewHTTPError(resp.Status, statusText, resp.Body)
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, models.NewScrapeError(models.ErrCodeParse, describeNonJSON(resp.Body), nil)
	}
	return json.RawMessage(resp.Body), nil
}

// contextError classifies a failure that may have been caused by the
// attempt deadline or by the caller. A caller cancellation wins over the
// deadline; a deadline yields timeoutCode. Otherwise fallback is returned
// (or an UNKNOWN_ERROR when fallback is nil).
func contextError(parent, attempt context.Context, timeoutCode string, fallback *models.ScrapeError) *models.ScrapeError {
	switch {
	case parent.Err() != nil:
		return models.NewScrapeError(models.ErrCodeCanceled, "request canceled", parent.Err())
	case attempt.Err() != nil:
		return models.NewScrapeError(timeoutCode, timeoutMessage(timeoutCode), attempt.Err())
	case fallback != nil:
		return fallback
	default:
		return models.NewScrapeError(models.ErrCodeUnknown, "attempt failed", nil)
	}
}

func timeoutMessage(code string) string {
	switch code {
	case models.ErrCodeNavigationTimeout:
		return "navigation did not complete before the attempt timeout"
	case models.ErrCodeResponseTimeout:
		return "target response did not arrive before the attempt timeout"
	default:
		return "attempt timed out"
	}
}
