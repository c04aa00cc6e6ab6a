/*
errors.go - Centralized error types for the installment engine

ERROR KINDS:
  1. Validation      - malformed input, never retried
  2. AmountExceeds   - settlement would overrun a reconciled plan total
  3. ImmutableSettled - edit/delete attempted on a settled installment
  4. NotFound        - unknown plan or installment id
  5. Conflict        - plan version changed between read and commit; retryable

A plan total mismatch is NOT an error: CheckMismatch returns a MismatchReport
and the caller decides whether to sync.

USAGE:
  if errors.Is(err, installments.ErrImmutableSettledInstallment) { ... }

  var vErr *installments.ValidationError
  if errors.As(err, &vErr) { fmt.Println(vErr.Field) }
*/
package installments

import (
	"errors"
	"fmt"

	"github.com/warp/installment-engine/money"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	// ErrAmountExceedsPlanTotal is returned when a settlement amount would push
	// the plan's active installments above its declared total.
	ErrAmountExceedsPlanTotal = errors.New("amount exceeds plan total")

	// ErrImmutableSettledInstallment is returned on any edit or delete that would
	// touch a settled installment.
	ErrImmutableSettledInstallment = errors.New("settled installment is immutable")

	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict is returned when the plan version changed between
	// read and commit. The engine retries a bounded number of times first.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AmountExceedsPlanTotalError reports how far a settlement overruns the plan.
type AmountExceedsPlanTotalError struct {
	PlanID        PlanID
	InstallmentID InstallmentID
	Declared      money.Money
	OthersSum     money.Money
	Requested     money.Money
}

func (e *AmountExceedsPlanTotalError) Error() string {
	return fmt.Sprintf("amount exceeds plan total: declared %s, other installments %s, requested %s",
		e.Declared, e.OthersSum, e.Requested)
}

func (e *AmountExceedsPlanTotalError) Unwrap() error { return ErrAmountExceedsPlanTotal }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind string // "plan" or "installment"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PlanNotFound and InstallmentNotFound are shorthands used by stores.
func PlanNotFound(id PlanID) error { return &NotFoundError{Kind: "plan", ID: string(id)} }
func InstallmentNotFound(id InstallmentID) error {
	return &NotFoundError{Kind: "installment", ID: string(id)}
}

// SettledInstallmentError reports which settled row blocked the operation.
type SettledInstallmentError struct {
	PlanID        PlanID
	InstallmentID InstallmentID
	Operation     string
	SettledCount  int
}

func (e *SettledInstallmentError) Error() string {
	if e.InstallmentID == "" {
		return fmt.Sprintf("cannot %s plan %s: %d settled installment(s)", e.Operation, e.PlanID, e.SettledCount)
	}
	return fmt.Sprintf("cannot %s installment %s: already settled", e.Operation, e.InstallmentID)
}

func (e *SettledInstallmentError) Unwrap() error { return ErrImmutableSettledInstallment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to the caller's input or stale state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAmountExceedsPlanTotal) ||
		errors.Is(err, ErrImmutableSettledInstallment)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
