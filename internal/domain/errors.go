package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("time slot conflict")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid state")
)

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError carries the requested interval and the booking that holds it.
// ExistingStart and ExistingEnd are the holder's interval, zero when unknown.
type ConflictError struct {
	CourtID       int64
	Start         time.Time
	End           time.Time
	BookingCode   string
	ExistingStart time.Time
	ExistingEnd   time.Time
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("court %d is already booked between %s and %s",
		e.CourtID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	if e.BookingCode != "" {
		msg += " (" + e.BookingCode
		if !e.ExistingStart.IsZero() {
			msg += fmt.Sprintf(" holds %s to %s",
				e.ExistingStart.Format(time.RFC3339), e.ExistingEnd.Format(time.RFC3339))
		}
		msg += ")"
	}
	return msg
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type NotFoundError struct {
	Entity string
	ID     interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient wallet balance: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// InvalidStateError reports an operation rejected by the booking state machine.
type InvalidStateError struct {
	Op      string
	Current string
	Reason  string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s booking in status %s", e.Op, e.Current)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
