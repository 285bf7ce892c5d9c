package services

import (
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
)

var (
	// ErrNoData is returned when a product has no recorded sales.
	ErrNoData = errors.New("no sales data found for product")

	// ErrInvalidRequest is returned for requests the caller can correct.
	ErrInvalidRequest = errors.New("invalid request")
)

// MalformedResponseError reports a model reply that could not be parsed
// into a forecast batch.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed model response: " + e.Reason
}

func malformed(format string, args ...any) error {
	return &MalformedResponseError{Reason: fmt.Sprintf(format, args...)}
}

// UpstreamError wraps a failure of the sales store, the forecast store or
// the model endpoint.
type UpstreamError struct {
	Source string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PartialPersistenceError reports that only some forecast days were written.
// Days written before and after a failure are kept.
type PartialPersistenceError struct {
	Written     int
	Failed      int
	FailedDates []civil.Date
	Err         error
}

func (e *PartialPersistenceError) Error() string {
	return fmt.Sprintf("stored %d of %d forecast days: %v", e.Written, e.Written+e.Failed, e.Err)
}

func (e *PartialPersistenceError) Unwrap() error { return e.Err }
