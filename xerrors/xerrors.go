package xerrors

import (
	"errors"
	"fmt"
)

// Generic
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("too many requests")
)

// Booking / payment
var (
	ErrAlreadyPaid = errors.New("booking already paid")
	ErrNotEligible = errors.New("not eligible")
	ErrNoPayout    = errors.New("caregiver has no payout account")
)

// Nanny shares
var (
	ErrShareFull   = errors.New("nanny share is full")
	ErrShareClosed = errors.New("nanny share is no longer accepting families")
)

// ValidationError names the offending field. It matches ErrValidation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

func NotEligible(reason string) error {
	return fmt.Errorf("%w: %s", ErrNotEligible, reason)
}

func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

func Conflict(reason string) error {
	return fmt.Errorf("%w: %s", ErrConflict, reason)
}
