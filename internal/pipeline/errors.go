package pipeline

import (
	"context"
	"errors"
	"fmt"

	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/oracle"
)

type ErrorCode string

const (
	ErrorValidation      ErrorCode = "VALIDATION_ERROR"
	ErrorSafetyRejection ErrorCode = "SAFETY_REJECTION"
	ErrorTransient       ErrorCode = "TRANSIENT_ORACLE_FAILURE"
	ErrorInvariant       ErrorCode = "PIPELINE_INVARIANT_VIOLATION"
	ErrorCancelled       ErrorCode = "TURN_CANCELLED"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

// Validation reasons surfaced to callers.
const (
	ReasonEmptyMessage     = "empty_message"
	ReasonMessageTooLong   = "message_too_long"
	ReasonInvalidRole      = "invalid_sender_role"
	ReasonMissingSessionID = "missing_session_id"
	ReasonMissingDoctorID  = "missing_doctor_id"
	ReasonMissingPatientID = "missing_patient_id"
	ReasonSessionNotFound  = "session_not_found"
	ReasonSessionClosed    = "session_closed"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("pipeline: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("pipeline: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// classify maps a component failure onto the error taxonomy. Only an
// exhausted oracle retry or a timeout is transient; anything else ends the
// turn as an internal error.
func classify(reason string, err error) *Error {
	var pe *Error
	switch {
	case errors.As(err, &pe):
		return pe
	case errors.Is(err, context.Canceled):
		return newError(ErrorCancelled, "turn_cancelled", err)
	case errors.Is(err, oracle.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorTransient, reason, err)
	case errors.Is(err, domain.ErrSessionNotFound):
		return newError(ErrorValidation, ReasonSessionNotFound, err)
	case errors.Is(err, domain.ErrSessionClosed):
		return newError(ErrorValidation, ReasonSessionClosed, err)
	}
	return newError(ErrorInternal, reason, err)
}
