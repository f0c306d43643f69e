package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrSchemaMismatch means a header cannot be mapped to the canonical fields.
	// It stops the partition.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrTimezoneAssumptionViolated means a zone changed its UTC offset where a
	// fixed offset is required. It stops the partition.
	ErrTimezoneAssumptionViolated = errors.New("timezone assumption violated")

	// ErrNoInput means a reader found nothing for the requested partition.
	ErrNoInput = errors.New("no input for partition")
)

// SchemaMismatchError describes which canonical fields could not be located.
type SchemaMismatchError struct {
	Year      int
	Version   string
	Signature string
	Missing   []string
}

func (e *SchemaMismatchError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("schema mismatch: no schema version covers year %d (header %s)", e.Year, e.Signature)
	}
	return fmt.Sprintf("schema mismatch: year %d, version %s, header %s: missing %s",
		e.Year, e.Version, e.Signature, strings.Join(e.Missing, ", "))
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// TimezoneError reports the instant at which a zone left its expected offset.
type TimezoneError struct {
	Zone     string
	At       time.Time
	Offset   int
	Expected int
}

func (e *TimezoneError) Error() string {
	return fmt.Sprintf("timezone assumption violated: %s has offset %ds at %s, expected %ds",
		e.Zone, e.Offset, e.At.UTC().Format(time.RFC3339), e.Expected)
}

func (e *TimezoneError) Unwrap() error { return ErrTimezoneAssumptionViolated }

// ErrorKind classifies a partition failure for reports and metrics.
type ErrorKind string

const (
	KindNone           ErrorKind = ""
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	KindTimezone       ErrorKind = "timezone_assumption_violated"
	KindNoInput        ErrorKind = "no_input"
	KindReadFailed     ErrorKind = "read_failed"
	KindWriteFailed    ErrorKind = "write_failed"
	KindCanceled       ErrorKind = "canceled"
	KindInternal       ErrorKind = "internal"
)

// KindOf maps the transform errors of this package to their kind. Errors it
// does not recognize are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, ErrTimezoneAssumptionViolated):
		return KindTimezone
	case errors.Is(err, ErrNoInput):
		return KindNoInput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
