package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"studycal/internal/calendar"
	appLog "studycal/internal/log"
	"studycal/internal/recurrence"
	"studycal/internal/store"
)

// Stable error codes returned in the "code" field of error bodies.
const (
	codeInvalidFrequency        = "INVALID_FREQUENCY"
	codeInvalidInterval         = "INVALID_INTERVAL"
	codeInvalidWeekdaySet       = "INVALID_WEEKDAY_SET"
	codeConflictingEndCondition = "CONFLICTING_END_CONDITION"
	codeInvalidOccurrenceCount  = "INVALID_OCCURRENCE_COUNT"
	codeValidationFailed        = "VALIDATION_FAILED"
	codeInvalidJSON             = "INVALID_JSON"
	codeNotFound                = "NOT_FOUND"
	codeUnauthorized            = "UNAUTHORIZED"
	codeRateLimited             = "RATE_LIMIT_EXCEEDED"
	codeInternal                = "INTERNAL"
)

var recurrenceCodes = []struct {
	err  error
	code string
}{
	{recurrence.ErrInvalidFrequency, codeInvalidFrequency},
	{recurrence.ErrInvalidInterval, codeInvalidInterval},
	{recurrence.ErrInvalidWeekdaySet, codeInvalidWeekdaySet},
	{recurrence.ErrConflictingEndCondition, codeConflictingEndCondition},
	{recurrence.ErrInvalidOccurrenceCount, codeInvalidOccurrenceCount},
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg, field string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg, Field: field})
}

// writeServiceError maps errors from decoding, validation and the service
// onto status codes and stable error codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		recErr   *recurrence.ValidationError
		inErr    *calendar.InputError
		fieldErr validator.ValidationErrors
		maxErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &recErr):
		code := codeValidationFailed
		for _, rc := range recurrenceCodes {
			if errors.Is(recErr.Err, rc.err) {
				code = rc.code
				break
			}
		}
		writeError(w, http.StatusUnprocessableEntity, code, recErr.Err.Error(), recErr.Field)
	case errors.As(err, &fieldErr) && len(fieldErr) > 0:
		fe := fieldErr[0]
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			fmt.Sprintf("failed on the %q rule", fe.Tag()), fieldPath(fe))
	case errors.As(err, &inErr):
		writeError(w, http.StatusBadRequest, codeValidationFailed, inErr.Reason, inErr.Field)
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, codeInvalidJSON, "request body too large", "")
	case errors.Is(err, errBadJSON):
		writeError(w, http.StatusBadRequest, codeInvalidJSON, err.Error(), "")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "event not found", "")
	default:
		appLog.Error("api request failed", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error", "")
	}
}

var errBadJSON = errors.New("malformed JSON body")

func badJSON(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	return fmt.Errorf("%w: %v", errBadJSON, err)
}

// fieldPath drops the top-level struct name from a validator namespace,
// "eventRequest.reminder.timing" becoming "reminder.timing".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[i+1:]
		}
	}
	return fe.Field()
}
