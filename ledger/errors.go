/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Validation errors - rejected before any write, shown to the user
  2. Not-found errors - referenced invoice/payment/receipt is missing
  3. Concurrency errors - another writer got there first, safe to retry
  4. Persistence errors - the transaction failed and was rolled back

DUPLICATE INVOICES:
  ErrDuplicateInvoice is produced by stores when a unique index rejects a
  second invoice for the same session. The InvoiceIssuer turns it into an
  idempotent no-op; callers never see it.

SEE ALSO:
  - facade.go: Retries ErrConcurrencyConflict
  - api/handlers.go: Maps these errors to HTTP status codes
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
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateInvoice is returned by stores when an invoice for the same
	// (student, session) or (student, idempotency key) already exists.
	ErrDuplicateInvoice = errors.New("invoice already exists")

	// ErrConcurrencyConflict is returned when a concurrent writer on the same
	// student was detected. Retryable.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	ErrPersistence = errors.New("persistence failure")

	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrDebtNotFound    = errors.New("debt not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrReceiptNotFound = errors.New("receipt not found")

	ErrInsufficientPrepaid = errors.New("insufficient prepaid balance")

	ErrInvalidSetting = errors.New("invalid setting value")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a rejected request field.
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

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientPrepaidError is returned when a redemption asks for more than
// the student has banked.
type InsufficientPrepaidError struct {
	StudentID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientPrepaidError) Error() string {
	return fmt.Sprintf("insufficient prepaid balance for %s: available %s, requested %s",
		e.StudentID, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientPrepaidError) Unwrap() error { return ErrInsufficientPrepaid }

// PersistenceError wraps a store failure. Everything written by the call has
// been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientPrepaid) ||
		errors.Is(err, ErrInvalidSetting)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrDebtNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrReceiptNotFound)
}
