/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Validation errors - bad input, unknown fields, terminal-status edits.
     Surfaced to the caller, never retried.
  2. Not-found errors - referenced row missing or already tombstoned.
  3. Persistence errors - the storage collaborator failed; wrapped with the
     originating message, never retried automatically (retrying a partially
     applied multi-row write risks duplication).
  4. Invariant violations - detected before any write, never left partially
     applied.

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, ledger.ErrNotFound) { ... 404 ... }
    var verr *ledger.ValidationError
    if errors.As(err, &verr) { ... verr.Field ... }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced invoice, plan, installment
	// or payment does not exist or is tombstoned.
	ErrNotFound = errors.New("not found")

	// ErrPersistence wraps failures of the storage collaborator.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvariant is returned when a monetary invariant would be violated.
	ErrInvariant = errors.New("invariant violation")

	// ErrTerminalStatus is returned when an update touches amount/date
	// fields of a settled or cancelled installment.
	ErrTerminalStatus = errors.New("installment status is terminal")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports which entity and id were missing.
type NotFoundError struct {
	Entity string // "invoice", "plan", "installment", "payment"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvariantError reports a sum mismatch beyond tolerance, detected before
// any row is written.
type InvariantError struct {
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("installment sum %s does not match plan total %s",
		e.Actual, e.Expected)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// persistErr wraps a store failure with the originating message.
func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvariant) ||
		errors.Is(err, ErrTerminalStatus)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
