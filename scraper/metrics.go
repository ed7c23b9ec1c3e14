package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the harvester.
type Metrics struct {
	Registry        *prometheus.Registry
	AttemptsTotal   *prometheus.CounterVec
	FailuresTotal   *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	BlockedTotal    prometheus.Counter
	FetchDuration   *prometheus.HistogramVec
	ActiveBrowsers  prometheus.Gauge
	ListingsFetched prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_attempts_total",
			Help: "Total navigation attempts by outcome.",
		},
		[]string{"outcome"},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_failures_total",
			Help: "Total failed attempts by error code.",
		},
		[]string{"code"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_retries_total",
			Help: "Total number of retries scheduled after a failed attempt.",
		},
	)
	blocked := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_requests_blocked_total",
			Help: "Total page requests blocked by the network filter.",
		},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "End-to-end duration of a harvest invocation.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_active_browsers",
			Help: "Browsers currently held by harvest invocations.",
		},
	)
	listings := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_last_listings",
			Help: "Number of listings in the last successful payload.",
		},
	)

	registry.MustRegister(attempts, failures, retries, blocked, duration, active, listings)

	return &Metrics{
		Registry:        registry,
		AttemptsTotal:   attempts,
		FailuresTotal:   failures,
		RetriesTotal:    retries,
		BlockedTotal:    blocked,
		FetchDuration:   duration,
		ActiveBrowsers:  active,
		ListingsFetched: listings,
	}
}

// IncAttempt increments the attempts counter for an outcome label.
func (m *Metrics) IncAttempt(outcome string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
}

// IncFailure increments the failures counter for an error code.
func (m *Metrics) IncFailure(code string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(code).Inc()
}

// IncRetry increments the retries counter.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncBlocked increments the blocked requests counter.
func (m *Metrics) IncBlocked() {
	if m == nil {
		return
	}
	m.BlockedTotal.Inc()
}

// ObserveFetch records an invocation duration.
func (m *Metrics) ObserveFetch(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(status).Observe(d.Seconds())
}

// BrowserAcquired tracks a browser held by an invocation; call the
// returned func on release.
func (m *Metrics) BrowserAcquired() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveBrowsers.Inc()
	return m.ActiveBrowsers.Dec
}

// SetListings records the listing count of the last payload.
func (m *Metrics) SetListings(n int) {
	if m == nil {
		return
	}
	m.ListingsFetched.Set(float64(n))
}
