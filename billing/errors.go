/*
errors.go - Error taxonomy for the billing engine

PURPOSE:
  All error types of the billing core in one place. The HTTP layer maps them
  to responses with IsClientError / IsNotFound; nothing in this package
  retries or swallows an error.

ERROR CATEGORIES:
  1. Parse errors      - a period string does not match its schedule's shape
  2. Validation errors - a payment request is missing or has invalid fields
  3. Lookup failures   - a collaborator has no data for a required reference
  4. Unavailable fees  - NOT an error value; see Fee in fee.go

USAGE:
  record, err := preparer.Prepare(ctx, req)
  var verr *billing.ValidationError
  if errors.As(err, &verr) {
      for _, f := range verr.Fields { ... }
  }

SEE ALSO:
  - period.go:  ParseError producers
  - prepare.go: ValidationError / LookupError producers
*/
package billing

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrParse is returned when a period string is malformed for its schedule.
	ErrParse = errors.New("malformed period")

	// ErrValidation is returned when a payment request fails validation.
	ErrValidation = errors.New("validation failed")

	// ErrLookupFailure is returned when a collaborator has no data for a
	// required reference (unknown client, no active contract).
	ErrLookupFailure = errors.New("lookup failure")

	// ErrComputationUnavailable marks a fee that cannot be computed yet.
	// Only produced by Fee.Err for callers that want an error value.
	ErrComputationUnavailable = errors.New("computation unavailable")

	// ErrInvalidSpan is returned when a span's start is after its end.
	ErrInvalidSpan = errors.New("invalid period span")

	// ErrScheduleMismatch is returned when periods of different schedules meet.
	ErrScheduleMismatch = errors.New("period schedule mismatch")

	// ErrInvalidSchedule is returned for an unknown payment schedule.
	ErrInvalidSchedule = errors.New("invalid payment schedule")

	// ErrNotFound is returned when a stored record does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ParseError describes a period string that could not be parsed.
type ParseError struct {
	Text     string
	Schedule Schedule
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s period %q: %s", e.Schedule, e.Text, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// FieldError is a single offending field of a payment request.
type FieldError struct {
	Field   string
	Message string
	Err     error // underlying cause, e.g. a *ParseError
}

func (e FieldError) Error() string {
	return e.Message
}

// ValidationError lists every offending field found in one validation step.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap exposes ErrValidation and the cause of each field.
func (e *ValidationError) Unwrap() []error {
	errs := []error{ErrValidation}
	for _, f := range e.Fields {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Field returns the error recorded for the named field.
func (e *ValidationError) Field(name string) (FieldError, bool) {
	for _, f := range e.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return FieldError{}, false
}

// FieldNames returns the offending field names in report order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return names
}

// LookupError reports a reference a collaborator could not resolve.
type LookupError struct {
	What     string // "client", "active contract", ...
	ClientID ClientID
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no %s found for client %d", e.What, e.ClientID)
}

func (e *LookupError) Unwrap() error {
	return ErrLookupFailure
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrParse) ||
		errors.Is(err, ErrInvalidSpan) ||
		errors.Is(err, ErrScheduleMismatch) ||
		errors.Is(err, ErrInvalidSchedule)
}

// IsNotFound returns true if the error indicates a missing reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLookupFailure) ||
		errors.Is(err, ErrNotFound)
}
