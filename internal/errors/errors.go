// Package errors provides the error catalogue for sensorlog.
//
// This file provides:
//   - Sentinel errors for every failure the protocol and store can produce
//   - Category checks (protocol, sensor unknown/short, retriable)
//   - Stable reason labels for logging and metrics
//   - Mapping from an error to its wire reply marker
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Wire reply markers
// ============================================================================

const (
	ReplyInvalidSensorID    = "ERROR|INVALID_SENSOR_ID"
	ReplyMalformedRequest   = "ERROR|MALFORMED_REQUEST"
	ReplyStorageUnavailable = "ERROR|STORAGE_UNAVAILABLE"
	ReplyInternal           = "ERROR|INTERNAL"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Protocol errors. The request is rejected, the connection stays open.
	ErrProtocolMalformed = errors.New("malformed request")
	ErrInvalidSensorID   = errors.New("invalid sensor id")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrInvalidValue      = errors.New("invalid value")
	ErrInvalidCount      = errors.New("invalid count")

	// Framing errors. The connection cannot be resynchronised and is closed.
	ErrFrameTooLarge = errors.New("frame too large")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrSensorUnknown      = errors.New("sensor unknown")
	ErrShortRead          = errors.New("fewer records stored than requested")
	ErrCountOverLimit     = errors.New("count exceeds read limit")
	ErrSentinelValue      = errors.New("record value in sentinel band")
	ErrShortRecord        = errors.New("record shorter than record width")

	// Internal errors
	ErrPoolStopped   = errors.New("worker pool stopped")
	ErrInternal      = errors.New("internal error")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsProtocol returns true if err rejects a single request without
// affecting the connection.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocolMalformed) ||
		errors.Is(err, ErrInvalidSensorID) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrInvalidCount)
}

// IsSensorUnknownOrShort returns true for the read failures that share the
// INVALID_SENSOR_ID reply: missing file, over-read, a count above the read
// limit, or a sentinel hit.
func IsSensorUnknownOrShort(err error) bool {
	return errors.Is(err, ErrSensorUnknown) ||
		errors.Is(err, ErrShortRead) ||
		errors.Is(err, ErrCountOverLimit) ||
		errors.Is(err, ErrSentinelValue)
}

// IsRetriable returns true if the error is potentially retriable.
// Storage unavailability is treated as transient: nothing is cached,
// so the next request reopens the file.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrPoolStopped)
}

// ============================================================================
// Reason labels
// ============================================================================

// ReasonOf returns a stable, low-cardinality label for err.
// The label is used as a log attribute and a metrics label value.
func ReasonOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case Is(err, ErrSensorUnknown):
		return "sensor_unknown"
	case Is(err, ErrShortRead):
		return "short_read"
	case Is(err, ErrCountOverLimit):
		return "count_over_limit"
	case Is(err, ErrSentinelValue):
		return "sentinel"
	case Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case Is(err, ErrInvalidSensorID):
		return "invalid_sensor_id"
	case Is(err, ErrFrameTooLarge):
		return "frame_too_large"
	case IsProtocol(err):
		return "malformed"
	case Is(err, ErrPoolStopped):
		return "pool_stopped"
	default:
		return "internal"
	}
}

// ============================================================================
// Error to wire reply mapping
// ============================================================================

// ReplyFor maps an error to the reply marker sent to the client.
// A nil error has no marker.
func ReplyFor(err error) string {
	switch {
	case err == nil:
		return ""
	case IsSensorUnknownOrShort(err), Is(err, ErrInvalidSensorID):
		return ReplyInvalidSensorID
	case IsProtocol(err):
		return ReplyMalformedRequest
	case Is(err, ErrStorageUnavailable):
		return ReplyStorageUnavailable
	default:
		return ReplyInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
