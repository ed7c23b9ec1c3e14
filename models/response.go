package models

import "time"

// ErrorResponse is the body returned by the harvest endpoints on failure.
type ErrorResponse struct {
	// Error is a short, fixed summary.
	Error string `json:"error"`

	// Details carries the last attempt's error message.
	Details string `json:"details"`

	// Code is the error kind (e.g. "HTTP_ERROR", "RESPONSE_TIMEOUT").
	Code string `json:"code,omitempty"`
}

// ReportResponse is the response for GET /run-report.
type ReportResponse struct {
	Count    int       `json:"count"`
	Listings []Listing `json:"listings"`
}

// RunSummary describes one harvest invocation in the run history.
type RunSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Attempts   int       `json:"attempts"`
	Status     string    `json:"status"` // "success" or "failed"
	Code       string    `json:"code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Listings   int       `json:"listings"`
}

// Run statuses.
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// RunsResponse is the response for GET /runs.
type RunsResponse struct {
	Runs []RunSummary `json:"runs"`
}
