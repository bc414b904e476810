package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrTicketNotPayable    = errors.New("ticket is not awaiting payment")
	ErrPaymentNotSettled   = errors.New("payment is not settled")
	ErrSessionUnknown      = errors.New("unknown payment session")
	ErrFinalizeInProgress  = errors.New("order finalization already in progress")
)

// ValidationError is a local, field-level input problem.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NetworkError wraps a failed call to the booking backend. It is retryable.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProviderError is a failure creating or reaching a payment session. It is retryable.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PaymentDeclinedError means the payer did not complete payment; a new
// session may be attempted.
type PaymentDeclinedError struct {
	SessionID string
	Status    string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("payment for session %s declined (%s)", e.SessionID, e.Status)
}

// FinalizationError means payment was captured but the order could not be
// booked. Payment must not be retried; the case needs manual reconciliation.
type FinalizationError struct {
	SessionID string
	TicketID  int64
	Err       error
}

func (e *FinalizationError) Error() string {
	return fmt.Sprintf("payment %s captured but order booking failed for ticket %d: %v", e.SessionID, e.TicketID, e.Err)
}

func (e *FinalizationError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Retryable reports whether the user may simply try the same step again.
func Retryable(err error) bool {
	var (
		n *NetworkError
		p *ProviderError
		d *PaymentDeclinedError
	)
	return errors.As(err, &n) || errors.As(err, &p) || errors.As(err, &d)
}
