package recurrence

import (
	"errors"
	"fmt"
)

// Construction-time validation errors. Matching never fails; a Pattern that
// exists has already passed these checks.
var (
	ErrInvalidFrequency        = errors.New("invalid frequency")
	ErrInvalidInterval         = errors.New("interval must be at least 1")
	ErrInvalidWeekdaySet       = errors.New("weekday set must be non-empty, weekly only, with days in [0,6]")
	ErrConflictingEndCondition = errors.New("only one of end date and occurrence count may be set")
	ErrInvalidOccurrenceCount  = errors.New("occurrence count must be at least 1")
)

// ValidationError ties a sentinel error to the offending field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("recurrence: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}
