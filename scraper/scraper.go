package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"
	"github.com/use-agent/harvest/models"
	"golang.org/x/sync/semaphore"
)

// Outcome is the result of one Fetch call.
type Outcome struct {
	// Payload is the target JSON, passed through unchanged. Nil on failure.
	Payload json.RawMessage

	// Attempts holds every attempt of the call, in order.
	Attempts []Attempt

	// Listings is the length of the payload's Results array (0 if absent).
	Listings int

	StartedAt time.Time
	Duration  time.Duration
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Scraper) { s.metrics = m }
}

// WithMaxConcurrent caps how many Fetch calls may hold a browser at once.
func WithMaxConcurrent(n int64) Option {
	return func(s *Scraper) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// withSleep replaces the inter-attempt pause (tests).
func withSleep(fn sleepFunc) Option {
	return func(s *Scraper) { s.sleep = fn }
}

// Scraper is the harvest entry point. Each Fetch call acquires its own
// browser, runs the attempt loop, and releases the browser before
// returning. It is safe for concurrent use; concurrent calls share no
// mutable state beyond the concurrency cap.
type Scraper struct {
	launcher Launcher
	session  SessionConfig
	policy   RetryPolicy
	sem      *semaphore.Weighted
	metrics  *Metrics
	sleep    sleepFunc
}

// NewScraper creates a Scraper.
func NewScraper(l Launcher, session SessionConfig, policy RetryPolicy, opts ...Option) *Scraper {
	s := &Scraper{
		launcher: l,
		session:  session,
		policy:   policy,
		sem:      semaphore.NewWeighted(1),
		sleep:    sleepWithContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the attached metrics (nil if none).
func (s *Scraper) Metrics() *Metrics { return s.metrics }

// Fetch harvests the target payload.
//
// The returned Outcome is non-nil whenever a browser was acquired, so the
// caller can inspect attempts even on failure. Browser acquisition failure
// is not retried. The browser is released exactly once on every exit path.
func (s *Scraper) Fetch(ctx context.Context) (*Outcome, error) {
	// ── 1. Concurrency cap ───────────────────────────────────────────
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeCanceled, "request canceled while queued", err)
	}
	defer s.sem.Release(1)

	started := time.Now()
	outcome := &Outcome{StartedAt: started}

	// ── 2. Acquire browser ───────────────────────────────────────────
	browser, err := s.launcher.Launch(ctx)
	if err != nil {
		s.metrics.IncFailure(models.ErrCodeResourceAcquisition)
		s.metrics.ObserveFetch(models.RunStatusFailed, time.Since(started))
		var se *models.ScrapeError
		if errors.As(err, &se) && se.Code == models.ErrCodeResourceAcquisition {
			return nil, se
		}
		return nil, models.NewScrapeError(models.ErrCodeResourceAcquisition, "failed to launch browser", err)
	}
	release := s.metrics.BrowserAcquired()

	// ── 3. CRITICAL DEFER: release browser exactly once ──────────────
	defer func() {
		release()
		slog.Info("closing browser")
		if closeErr := browser.Close(); closeErr != nil {
			slog.Warn("failed to close browser", "error", closeErr)
		}
	}()

	// ── 4. Attempt loop ──────────────────────────────────────────────
	session := NewSession(s.session)
	orch := NewOrchestrator(s.policy, s.metrics)
	orch.sleep = s.sleep

	res, err := orch.Run(ctx, func(ctx context.Context, _ int) (json.RawMessage, error) {
		return session.Attempt(ctx, browser)
	})
	outcome.Attempts = res.Attempts
	outcome.Duration = time.Since(started)

	if err != nil {
		s.metrics.ObserveFetch(models.RunStatusFailed, outcome.Duration)
		return outcome, models.AsScrapeError(err)
	}

	outcome.Payload = res.Payload
	outcome.Listings = CountListings(res.Payload)
	s.metrics.ObserveFetch(models.RunStatusSuccess, outcome.Duration)
	s.metrics.SetListings(outcome.Listings)
	slog.Info("harvest succeeded",
		"attempts", len(outcome.Attempts),
		"listings", outcome.Listings,
		"duration", outcome.Duration,
	)
	return outcome, nil
}

// CountListings returns the length of payload's Results array.
func CountListings(payload []byte) int {
	return int(gjson.GetBytes(payload, "Results.#").Int())
}
