/*
debt.go - Per-invoice outstanding amounts

PURPOSE:
  A Debt row exists for every invoice. It starts at AmountPaid=0 and
  accumulates every allocation that lands on its invoice. The Cleared flag
  flips once AmountPaid reaches AmountDue.

OVER-APPLICATION:
  Paying more than is due is allowed (a direct payment against one invoice is
  never capped). AmountPaid then exceeds AmountDue and Outstanding() reports
  zero, never a negative figure.

ORDERING:
  OutstandingForStudent returns debts in OldestFirst order. PaymentAllocator
  walks exactly this list, so both agree on what "oldest" means.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// DebtTracker maintains per-invoice outstanding amounts.
type DebtTracker struct{}

// ApplyToDebt adds amount to the debt of invoiceID and recomputes Cleared.
func (dt *DebtTracker) ApplyToDebt(ctx context.Context, tx Tx, invoiceID InvoiceID, amount decimal.Decimal) (Debt, error) {
	if !amount.IsPositive() {
		return Debt{}, invalid("amount", "debt allocation must be positive")
	}

	debt, err := tx.Debt(ctx, invoiceID)
	if err != nil {
		return Debt{}, fmt.Errorf("load debt for invoice %s: %w", invoiceID, err)
	}

	debt.AmountPaid = debt.AmountPaid.Add(amount)
	debt.Cleared = debt.AmountPaid.GreaterThanOrEqual(debt.AmountDue)

	if err := tx.UpdateDebt(ctx, debt); err != nil {
		return Debt{}, &PersistenceError{Op: "update debt", Err: err}
	}
	return debt, nil
}

// OutstandingForStudent returns the student's unpaid debts, oldest first.
func (dt *DebtTracker) OutstandingForStudent(ctx context.Context, r Reader, studentID string) ([]OutstandingDebt, error) {
	debts, err := r.DebtsByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	invoices, err := r.InvoicesByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	byID := make(map[InvoiceID]Invoice, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
	}

	var result []OutstandingDebt
	for _, d := range debts {
		if !d.IsOutstanding() {
			continue
		}
		inv, ok := byID[d.InvoiceID]
		if !ok {
			return nil, fmt.Errorf("debt without invoice %s: %w", d.InvoiceID, ErrInvoiceNotFound)
		}
		result = append(result, OutstandingDebt{Invoice: inv, Debt: d})
	}

	sortOutstanding(result)
	return result, nil
}

// TotalOutstanding sums Outstanding() over all of a student's debts.
func TotalOutstanding(debts []Debt) decimal.Decimal {
	total := decimal.Zero
	for _, d := range debts {
		total = total.Add(d.Outstanding())
	}
	return total
}
