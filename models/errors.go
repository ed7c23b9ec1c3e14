package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	// Attempt-level failures surfaced by a single navigation cycle.
	ErrCodeNavigationTimeout = "NAVIGATION_TIMEOUT"
	ErrCodeNavigation        = "NAVIGATION_FAILED"
	ErrCodeResponseTimeout   = "RESPONSE_TIMEOUT"
	ErrCodeHTTP              = "HTTP_ERROR"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeUnknown           = "UNKNOWN_ERROR"

	// Invocation-level failures.
	ErrCodeResourceAcquisition = "RESOURCE_ACQUISITION_FAILED"
	ErrCodeCanceled            = "CANCELED"

	// API-layer failures.
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// bodyExcerptLimit is the number of bytes of an upstream error body kept
// on an HTTP_ERROR.
const bodyExcerptLimit = 200

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error

	// Status and BodyExcerpt are set for ErrCodeHTTP only.
	Status      int
	BodyExcerpt string
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Detail is the message reported to callers: Message followed by the
// wrapped cause, when there is one that Message does not already repeat.
func (e *ScrapeError) Detail() string {
	if e.Err == nil || e.Err.Error() == e.Message {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// NewHTTPError builds an ErrCodeHTTP error for a target response outside
// the 2xx range. The body is truncated to its first 200 bytes.
func NewHTTPError(status int, statusText string, body []byte) *ScrapeError {
	excerpt := Excerpt(body, bodyExcerptLimit)
	return &ScrapeError{
		Code:        ErrCodeHTTP,
		Message:     fmt.Sprintf("API HTTP Error %d %s. Body: %s", status, statusText, excerpt),
		Status:      status,
		BodyExcerpt: excerpt,
	}
}

// Excerpt returns at most limit bytes of body as a string.
func Excerpt(body []byte, limit int) string {
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}

// Retryable reports whether the failure may be retried by the orchestrator.
// Every attempt-level kind is retried; only caller cancellation and browser
// acquisition are terminal.
func (e *ScrapeError) Retryable() bool {
	switch e.Code {
	case ErrCodeCanceled, ErrCodeResourceAcquisition:
		return false
	default:
		return true
	}
}

// AsScrapeError unwraps err into a *ScrapeError, wrapping anything else
// as ErrCodeUnknown.
func AsScrapeError(err error) *ScrapeError {
	if err == nil {
		return nil
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return NewScrapeError(ErrCodeUnknown, err.Error(), err)
}
