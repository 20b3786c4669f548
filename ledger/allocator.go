/*
allocator.go - Splitting an incoming amount across obligations

PURPOSE:
  Given an incoming payment, decide which Payment records to create and
  which invoice each one settles. The result is a plan ([]Allocation); the
  facade persists it, applies it to debts and issues receipts.

FIFO (purpose "Class Fees", no flags, not pinned to an invoice):
  1. Load outstanding debts in OldestFirst order.
  2. For each debt allocate min(remaining, outstanding). Invoices are never
     skipped, so an older debt is always settled before a newer one.
  3. Anything left over becomes one unlinked IsPrepayment allocation.

  Example: debts 1600 (Jan), 1600 (Feb), 1600 (Mar), payment 2400
    -> 1600 to Jan, 800 to Feb, Mar untouched

DIRECT (every other case):
  One allocation for the full amount. It is linked to the pinned invoice
  (LinkedInvoiceID, or the invoice billed for SessionID) when there is one,
  and left unlinked otherwise. Unlinked non-prepayment payments still reduce
  the balance but touch no debt row.

REDEMPTION (FromBalance):
  Direct, bounded by the prepaid balance still available, and always
  pinned to an invoice.

LEGACY UNLINKED CLASS FEES:
  With LegacyUnlinkedClassFees set, a "Class Fees" payment with no link and
  no flags is recorded as a single unlinked payment instead of walking the
  debts. This reproduces how the billing screens behaved before FIFO
  settlement. It clears balance while leaving individual debts open, so it
  is off by default.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Allocation is one slice of an incoming amount. Each becomes a Payment.
type Allocation struct {
	InvoiceID    InvoiceID // zero when unlinked
	Amount       decimal.Decimal
	IsPrepayment bool
	FromBalance  bool
}

// PaymentAllocator decides how an incoming amount is distributed.
type PaymentAllocator struct {
	Debts   *DebtTracker
	Balance *BalanceCalculator

	LegacyUnlinkedClassFees bool
}

// ValidatePaymentRequest rejects malformed requests before any write.
func ValidatePaymentRequest(req PaymentRequest) error {
	if strings.TrimSpace(req.StudentID) == "" {
		return invalid("student_id", "student is required")
	}
	if !req.Amount.IsPositive() {
		return invalid("amount", "amount must be greater than zero")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return invalid("amount", "amount may have at most two decimal places")
	}
	if req.Purpose == "" {
		return invalid("purpose", "payment purpose is required")
	}
	if !req.Purpose.Valid() {
		return invalid("purpose", fmt.Sprintf("unknown payment purpose %q", req.Purpose))
	}
	if req.Purpose == PurposeAnyOther && strings.TrimSpace(req.Description) == "" {
		return invalid("description", "describe the payment when purpose is \"Any Other\"")
	}
	if !req.Mode.Valid() {
		return invalid("mode", fmt.Sprintf("unknown payment mode %q", req.Mode))
	}
	if req.Flags.IsPrepayment && req.Flags.FromBalance {
		return invalid("flags", "a payment cannot be both a prepayment and drawn from balance")
	}
	if req.Flags.IsPrepayment && req.LinkedInvoiceID != 0 {
		return invalid("flags", "a prepayment cannot name an invoice; give its session instead")
	}
	return nil
}

// usesFIFO reports whether req is settled oldest-first across debts.
func usesFIFO(req PaymentRequest) bool {
	return req.Purpose == PurposeClassFees &&
		!req.Flags.IsPrepayment &&
		!req.Flags.FromBalance &&
		req.LinkedInvoiceID == 0 &&
		req.SessionID == ""
}

// Allocate plans the Payment records for req. It only reads from r.
func (pa *PaymentAllocator) Allocate(ctx context.Context, r Reader, req PaymentRequest) ([]Allocation, error) {
	if err := ValidatePaymentRequest(req); err != nil {
		return nil, err
	}

	if req.Flags.FromBalance {
		summary, err := pa.Balance.Summary(ctx, r, req.StudentID)
		if err != nil {
			return nil, err
		}
		if req.Amount.GreaterThan(summary.PrepaidAvailable) {
			return nil, &InsufficientPrepaidError{
				StudentID: req.StudentID,
				Available: summary.PrepaidAvailable,
				Requested: req.Amount,
			}
		}
	}

	if usesFIFO(req) {
		if pa.LegacyUnlinkedClassFees {
			return []Allocation{{Amount: req.Amount}}, nil
		}
		return pa.allocateFIFO(ctx, r, req)
	}

	invoiceID, err := pa.resolveInvoice(ctx, r, req)
	if err != nil {
		return nil, err
	}
	if req.Flags.FromBalance && invoiceID == 0 {
		return nil, invalid("linked_invoice_id", "a redemption from prepaid balance must settle an invoice")
	}
	return []Allocation{{
		InvoiceID:    invoiceID,
		Amount:       req.Amount,
		IsPrepayment: req.Flags.IsPrepayment,
		FromBalance:  req.Flags.FromBalance,
	}}, nil
}

func (pa *PaymentAllocator) allocateFIFO(ctx context.Context, r Reader, req PaymentRequest) ([]Allocation, error) {
	outstanding, err := pa.Debts.OutstandingForStudent(ctx, r, req.StudentID)
	if err != nil {
		return nil, err
	}

	remaining := req.Amount
	var plan []Allocation
	for _, od := range outstanding {
		if !remaining.IsPositive() {
			break
		}
		slice := minDecimal(remaining, od.Debt.Outstanding())
		if !slice.IsPositive() {
			continue
		}
		plan = append(plan, Allocation{InvoiceID: od.Invoice.ID, Amount: slice})
		remaining = remaining.Sub(slice)
	}

	if remaining.IsPositive() {
		plan = append(plan, Allocation{Amount: remaining, IsPrepayment: true})
	}
	return plan, nil
}

// resolveInvoice returns the invoice a direct payment settles, or zero.
func (pa *PaymentAllocator) resolveInvoice(ctx context.Context, r Reader, req PaymentRequest) (InvoiceID, error) {
	if req.LinkedInvoiceID != 0 {
		inv, err := r.Invoice(ctx, req.LinkedInvoiceID)
		if errors.Is(err, ErrInvoiceNotFound) {
			return 0, invalid("linked_invoice_id", fmt.Sprintf("invoice %s does not exist", req.LinkedInvoiceID))
		}
		if err != nil {
			return 0, err
		}
		if inv.StudentID != req.StudentID {
			return 0, invalid("linked_invoice_id", fmt.Sprintf("invoice %s belongs to another student", inv.ID))
		}
		return inv.ID, nil
	}

	if req.SessionID != "" {
		inv, found, err := r.InvoiceBySession(ctx, req.StudentID, req.SessionID)
		if err != nil {
			return 0, err
		}
		if found {
			return inv.ID, nil
		}
	}
	return 0, nil
}
