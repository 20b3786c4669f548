/*
invoice.go - Billable obligations

PURPOSE:
  Creates an Invoice (and its paired Debt) when a billable event happens:
  a student attended a class session, a registration fee fell due, a
  graduation fee was raised by staff.

IDEMPOTENCY:
  Class fees: keyed by (StudentID, SessionID). Marking attendance twice
  returns the existing invoice; nothing new is billed.

  Other fees: keyed by (StudentID, IdempotencyKey) when the caller supplies
  a key (the enrollment handler uses "registration:<year>"). Without a key
  there is no natural dedup; a repeated call bills twice. Callers own that.

  Stores back both keys with unique indexes. If a concurrent insert wins the
  race the store returns ErrDuplicateInvoice and we return the winner.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceIssuer creates invoices and their debts.
type InvoiceIssuer struct{}

// ValidateInvoiceRequest checks an invoice request before any write.
func ValidateInvoiceRequest(req InvoiceRequest) error {
	if strings.TrimSpace(req.StudentID) == "" {
		return invalid("student_id", "student is required")
	}
	if !req.Amount.IsPositive() {
		return invalid("amount", "invoice amount must be greater than zero")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return invalid("amount", "amount may have at most two decimal places")
	}
	if req.FeeType != "" && !req.FeeType.Valid() {
		return invalid("fee_type", fmt.Sprintf("unknown fee type %q", req.FeeType))
	}
	if req.FeeType == FeeClass && req.SessionID == "" {
		return invalid("session_id", "class fee invoices need a session")
	}
	return nil
}

// IssueInvoice bills the student unless an invoice for the same event
// exists. created is false when the existing invoice is returned.
func (ii *InvoiceIssuer) IssueInvoice(ctx context.Context, tx Tx, actor ActorContext, req InvoiceRequest, now time.Time) (inv Invoice, debt Debt, created bool, err error) {
	if err := ValidateInvoiceRequest(req); err != nil {
		return Invoice{}, Debt{}, false, err
	}

	existing, found, err := ii.findExisting(ctx, tx, req)
	if err != nil {
		return Invoice{}, Debt{}, false, err
	}
	if found {
		return existing, Debt{}, false, nil
	}

	feeType := req.FeeType
	if feeType == "" {
		feeType = FeeOther
		if req.SessionID != "" {
			feeType = FeeClass
		}
	}
	date := req.Date
	if date.IsZero() {
		date = now
	}

	inv, err = tx.InsertInvoice(ctx, Invoice{
		StudentID:      req.StudentID,
		SessionID:      req.SessionID,
		FeeType:        feeType,
		Description:    req.Description,
		AmountDue:      req.Amount,
		InvoiceDate:    date,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      actor.UserID,
		CreatedAt:      now,
	})
	if errors.Is(err, ErrDuplicateInvoice) {
		existing, found, ferr := ii.findExisting(ctx, tx, req)
		if ferr != nil {
			return Invoice{}, Debt{}, false, ferr
		}
		if found {
			return existing, Debt{}, false, nil
		}
		return Invoice{}, Debt{}, false, err
	}
	if err != nil {
		return Invoice{}, Debt{}, false, &PersistenceError{Op: "insert invoice", Err: err}
	}

	debt = Debt{
		InvoiceID:  inv.ID,
		StudentID:  inv.StudentID,
		AmountDue:  inv.AmountDue,
		AmountPaid: decimal.Zero,
		DebtDate:   inv.InvoiceDate,
		Cleared:    false,
	}
	if err := tx.InsertDebt(ctx, debt); err != nil {
		return Invoice{}, Debt{}, false, &PersistenceError{Op: "insert debt", Err: err}
	}

	return inv, debt, true, nil
}

func (ii *InvoiceIssuer) findExisting(ctx context.Context, r Reader, req InvoiceRequest) (Invoice, bool, error) {
	switch {
	case req.SessionID != "":
		return r.InvoiceBySession(ctx, req.StudentID, req.SessionID)
	case req.IdempotencyKey != "":
		return r.InvoiceByKey(ctx, req.StudentID, req.IdempotencyKey)
	default:
		return Invoice{}, false, nil
	}
}
