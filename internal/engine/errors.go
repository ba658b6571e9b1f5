package engine

import (
	"errors"
	"fmt"
)

// IngestError reports an ingest request that was rejected or only partly
// applied.
type IngestError struct {
	// Code identifies the error category.
	Code IngestErrorCode

	// Message is a human-readable description.
	Message string

	// EventID is the memory event id, zero when nothing was stored.
	EventID int64

	// TraceID is the trace the request named, if any.
	TraceID string

	// Err is the underlying cause.
	Err error
}

// IngestErrorCode categorizes ingest errors.
type IngestErrorCode string

const (
	// ErrCodeEmptyCategory indicates a request without a category. Nothing
	// is stored.
	ErrCodeEmptyCategory IngestErrorCode = "EMPTY_CATEGORY"

	// ErrCodeTraceLink indicates the event was stored and analysed but its
	// trace link was rejected.
	ErrCodeTraceLink IngestErrorCode = "TRACE_LINK"
)

// Error implements the error interface.
func (e *IngestError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EventID != 0 {
		msg += fmt.Sprintf(" (event=%d)", e.EventID)
	}
	if e.TraceID != "" {
		msg += fmt.Sprintf(" (trace=%s)", e.TraceID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *IngestError) Unwrap() error {
	return e.Err
}

// IsTraceLinkError returns true if err reports a rejected trace link.
// Uses errors.As to handle wrapped errors.
func IsTraceLinkError(err error) bool {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code == ErrCodeTraceLink
	}
	return false
}

// IsEmptyCategoryError returns true if err reports a request without a
// category.
func IsEmptyCategoryError(err error) bool {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code == ErrCodeEmptyCategory
	}
	return false
}
