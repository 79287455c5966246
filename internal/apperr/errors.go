// Package apperr holds the error types returned across the scheduling
// services. Transports map them to status codes; callers match them with
// errors.As or the Is* helpers.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	CodeInvalidInput        = "invalid_input"
	CodeInPast              = "in_past"
	CodeLeadTime            = "lead_time"
	CodeOutsideWorkingHours = "outside_working_hours"
	CodeBlackout            = "blackout"
	CodeInvalidTransition   = "invalid_transition"
	CodeUnknownBarber       = "unknown_barber"
	CodeNotApplicable       = "not_applicable"
)

// ConflictError means the requested range overlaps an active appointment
// for the same barber, or the booking lost a concurrent race twice.
type ConflictError struct {
	Msg            string
	ConflictingIDs []uuid.UUID
	Err            error
}

func (e *ConflictError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "time range conflicts with an existing appointment"
	}
	if len(e.ConflictingIDs) > 0 {
		ids := make([]string, 0, len(e.ConflictingIDs))
		for _, id := range e.ConflictingIDs {
			ids = append(ids, id.String())
		}
		msg += " (" + strings.Join(ids, ", ") + ")"
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// ConcurrencyError means the caller's expected version is stale.
type ConcurrencyError struct {
	AppointmentID   uuid.UUID
	ExpectedVersion int
	CurrentVersion  int
}

func (e *ConcurrencyError) Error() string {
	if e.CurrentVersion > 0 {
		return fmt.Sprintf("appointment %s was modified concurrently: expected version %d, current %d", e.AppointmentID, e.ExpectedVersion, e.CurrentVersion)
	}
	return fmt.Sprintf("appointment %s was modified concurrently: expected version %d", e.AppointmentID, e.ExpectedVersion)
}

// BlackoutInfo identifies the blackout that rejected a booking.
type BlackoutInfo struct {
	ID             uuid.UUID
	Reason         string
	AutoReschedule bool
}

type ValidationError struct {
	Code     string
	Msg      string
	Blackout *BlackoutInfo
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// TransientError wraps a store or collaborator failure that may succeed on
// retry. The wrapped error keeps the store sentinel reachable.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return e.Op + ": temporarily unavailable"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " " + e.ID + " not found"
}

// ForbiddenError rejects an operation the caller's role does not allow.
type ForbiddenError struct {
	Msg string
}

func (e *ForbiddenError) Error() string {
	return e.Msg
}

func Validation(code, msg string) error {
	return &ValidationError{Code: code, Msg: msg}
}

func Validationf(code, format string, args ...any) error {
	return &ValidationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func Forbidden(msg string) error {
	return &ForbiddenError{Msg: msg}
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsConcurrency(err error) bool {
	var e *ConcurrencyError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsTransient(err error) bool {
	var e *TransientError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

// Typed reports whether err already belongs to the taxonomy above.
func Typed(err error) bool {
	return IsConflict(err) || IsConcurrency(err) || IsValidation(err) || IsTransient(err) || IsNotFound(err) || IsForbidden(err)
}
