package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// RetryPolicy bounds the attempt loop.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// RetryPolicyFrom projects the application config onto a RetryPolicy.
func RetryPolicyFrom(cfg *config.Config) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay}
}

// Validate rejects policies that would never run an attempt.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("retry policy: delay cannot be negative")
	}
	return nil
}

// State is the orchestrator's position in the attempt loop.
type State int

const (
	StatePending State = iota
	StateRunning
	StateRetryPending
	StateSucceeded
	StateExhausted
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateRetryPending:
		return "retry_pending"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Attempt records one iteration of the loop.
type Attempt struct {
	Ordinal   int // 1-based
	StartedAt time.Time
	Duration  time.Duration
	Err       error // nil on success
}

// AttemptFunc performs one attempt.
type AttemptFunc func(ctx context.Context, ordinal int) (json.RawMessage, error)

// RunResult is what the orchestrator observed.
type RunResult struct {
	State    State
	Payload  json.RawMessage
	Attempts []Attempt
}

// sleepFunc pauses for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepWithContext sleeps for d unless ctx ends first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator drives sequential attempts under a RetryPolicy.
//
// Every attempt-level failure kind is retried identically up to
// MaxAttempts, including ones that cannot succeed on retry (a malformed
// target URL, say). The loop ends early only on caller cancellation or an
// error whose code is not Retryable.
type Orchestrator struct {
	policy  RetryPolicy
	sleep   sleepFunc
	metrics *Metrics
}

// NewOrchestrator creates an Orchestrator. metrics may be nil.
func NewOrchestrator(policy RetryPolicy, metrics *Metrics) *Orchestrator {
	return &Orchestrator{policy: policy, sleep: sleepWithContext, metrics: metrics}
}

// Run executes fn until it succeeds, the policy is exhausted, or ctx is
// canceled. On exhaustion the returned error is the last attempt's error;
// earlier errors are kept only in RunResult.Attempts.
func (o *Orchestrator) Run(ctx context.Context, fn AttemptFunc) (RunResult, error) {
	res := RunResult{State: StatePending}
	if err := o.policy.Validate(); err != nil {
		return res, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err)
	}

	var lastErr error
	for ordinal := 1; ordinal <= o.policy.MaxAttempts; ordinal++ {
		res.State = StateRunning
		slog.Info("attempt starting", "attempt", ordinal, "max_attempts", o.policy.MaxAttempts)

		started := time.Now()
		payload, err := fn(ctx, ordinal)
		res.Attempts = append(res.Attempts, Attempt{
			Ordinal:   ordinal,
			StartedAt: started,
			Duration:  time.Since(started),
			Err:       err,
		})

		if err == nil {
			res.State = StateSucceeded
			res.Payload = payload
			o.metrics.IncAttempt("success")
			slog.Info("attempt succeeded", "attempt", ordinal)
			return res, nil
		}

		lastErr = err
		o.metrics.IncAttempt("failure")
		o.metrics.IncFailure(models.AsScrapeError(err).Code)
		slog.Warn("attempt failed", "attempt", ordinal, "error", err)

		if isCanceled(ctx, err) {
			res.State = StateCanceled
			return res, canceledError(ctx, err)
		}
		if ordinal == o.policy.MaxAttempts || !models.AsScrapeError(err).Retryable() {
			break
		}

		res.State = StateRetryPending
		o.metrics.IncRetry()
		slog.Info("preparing next attempt", "delay", o.policy.Delay)
		if err := o.sleep(ctx, o.policy.Delay); err != nil {
			res.State = StateCanceled
			return res, canceledError(ctx, err)
		}
	}

	res.State = StateExhausted
	slog.Error("max attempts reached", "attempts", len(res.Attempts), "error", lastErr)
	return res, lastErr
}

func isCanceled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var se *models.ScrapeError
	return errors.As(err, &se) && se.Code == models.ErrCodeCanceled
}

func canceledError(ctx context.Context, err error) error {
	var se *models.ScrapeError
	if errors.As(err, &se) && se.Code == models.ErrCodeCanceled {
		return se
	}
	cause := ctx.Err()
	if cause == nil {
		cause = err
	}
	return models.NewScrapeError(models.ErrCodeCanceled, "request canceled", cause)
}
