package scraper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/use-agent/harvest/models"
)

func newTestScraper(l Launcher, cfg SessionConfig, policy RetryPolicy, rec *sleepRecorder, opts ...Option) *Scraper {
	opts = append(opts, withSleep(rec.sleep))
	return NewScraper(l, cfg, policy, opts...)
}

func TestFetch_ScenarioA_SucceedsAfterTwoTimeouts(t *testing.T) {
	cfg := testSessionConfig()
	cfg.AttemptTimeout = 50 * time.Millisecond

	b := newFakeBrowser(func(attempt int) *fakePage {
		if attempt < 3 {
			return &fakePage{hangNavigate: true}
		}
		return okPage(`{"Results":[]}`)
	})
	l := &fakeLauncher{browser: b}
	rec := &sleepRecorder{}

	out, err := newTestScraper(l, cfg, RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second}, rec).Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.Payload) != `{"Results":[]}` {
		t.Errorf("payload = %s", out.Payload)
	}
	if rec.Count() != 2 {
		t.Errorf("delays = %d, want 2", rec.Count())
	}
	if len(out.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(out.Attempts))
	}
	for i, a := range out.Attempts[:2] {
		if models.AsScrapeError(a.Err).Code != models.ErrCodeNavigationTimeout {
			t.Errorf("attempt %d: err = %v, want NAVIGATION_TIMEOUT", i+1, a.Err)
		}
	}
	if out.Listings != 0 {
		t.Errorf("listings = %d, want 0", out.Listings)
	}
	if b.closes.Load() != 1 {
		t.Errorf("browser closed %d times, want 1", b.closes.Load())
	}
	for i, p := range b.Pages() {
		if p.closes.Load() != 1 {
			t.Errorf("page %d closed %d times, want 1", i+1, p.closes.Load())
		}
	}
}

func TestFetch_ScenarioB_ExhaustedOnHTTPError(t *testing.T) {
	b := newFakeBrowser(func(attempt int) *fakePage {
		return statusPage(503, "attempt-"+string(rune('0'+attempt)))
	})
	l := &fakeLauncher{browser: b}
	rec := &sleepRecorder{}

	out, err := newTestScraper(l, testSessionConfig(), RetryPolicy{MaxAttempts: 2, Delay: time.Second}, rec).Fetch(context.Background())
	se := wantCode(t, err, models.ErrCodeHTTP)
	if se.Status != 503 {
		t.Errorf("status = %d, want 503", se.Status)
	}
	if se.BodyExcerpt != "attempt-2" {
		t.Errorf("expected the second attempt's error, got excerpt %q", se.BodyExcerpt)
	}
	if out == nil || len(out.Attempts) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %+v", out)
	}
	if out.Payload != nil {
		t.Error("payload should be nil on failure")
	}
	if rec.Count() != 1 {
		t.Errorf("delays = %d, want 1", rec.Count())
	}
	if b.closes.Load() != 1 {
		t.Errorf("browser closed %d times, want 1", b.closes.Load())
	}
}

func TestFetch_AcquisitionFailure(t *testing.T) {
	l := &fakeLauncher{err: errors.New("chrome not found")}
	rec := &sleepRecorder{}

	out, err := newTestScraper(l, testSessionConfig(), RetryPolicy{MaxAttempts: 3}, rec).Fetch(context.Background())
	wantCode(t, err, models.ErrCodeResourceAcquisition)
	if out != nil {
		t.Errorf("outcome = %+v, want nil", out)
	}
	if l.launches.Load() != 1 {
		t.Errorf("launches = %d, acquisition must not be retried", l.launches.Load())
	}
	if rec.Count() != 0 {
		t.Errorf("delays = %d, want 0", rec.Count())
	}
}

func TestFetch_CountsListings(t *testing.T) {
	b := newFakeBrowser(func(int) *fakePage {
		return okPage(`{"Results":[{"Id":"1"},{"Id":"2"},{"Id":"3"}],"Paging":{}}`)
	})
	m := NewMetrics()
	s := newTestScraper(&fakeLauncher{browser: b}, testSessionConfig(), RetryPolicy{MaxAttempts: 1}, &sleepRecorder{}, WithMetrics(m))

	out, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Listings != 3 {
		t.Errorf("listings = %d, want 3", out.Listings)
	}
	if got := testutil.ToFloat64(m.ListingsFetched); got != 3 {
		t.Errorf("listings gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ActiveBrowsers); got != 0 {
		t.Errorf("active browsers = %v after release, want 0", got)
	}
}

func TestFetch_CanceledWhileQueued(t *testing.T) {
	block := make(chan struct{})
	hold := &blockingLauncher{release: block}
	s := NewScraper(hold, testSessionConfig(), RetryPolicy{MaxAttempts: 1}, WithMaxConcurrent(1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Fetch(context.Background())
	}()
	for hold.entered.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Fetch(ctx)
	wantCode(t, err, models.ErrCodeCanceled)

	close(block)
	wg.Wait()
}

// blockingLauncher fails Launch once release is closed.
type blockingLauncher struct {
	release chan struct{}
	entered atomic.Int32
}

func (l *blockingLauncher) Launch(ctx context.Context) (Browser, error) {
	l.entered.Add(1)
	<-l.release
	return nil, errBoom
}

func TestCountListings(t *testing.T) {
	tests := []struct {
		payload string
		want    int
	}{
		{`{"Results":[]}`, 0},
		{`{"Results":[{},{}]}`, 2},
		{`{"Paging":{}}`, 0},
		{`[]`, 0},
	}
	for _, tt := range tests {
		if got := CountListings([]byte(tt.payload)); got != tt.want {
			t.Errorf("CountListings(%s) = %d, want %d", tt.payload, got, tt.want)
		}
	}
}
