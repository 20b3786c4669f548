/*
balance.go - Student balance calculation

PURPOSE:
  Answers "how much does this student owe right now?" The balance is never
  stored. It is recomputed from the full invoice and payment history every
  time, so it cannot drift away from the records.

FORMULA:
  Balance          = TotalInvoiced - TotalPaid
  TotalPaid        = sum of payments that brought new money in
  TotalRedeemed    = sum of FromBalance payments (excluded from TotalPaid)
  PrepaidAvailable = sum(unlinked prepayments) - TotalRedeemed, floored at zero

  A prepayment whose session was already billed settles that invoice
  directly. It reduces the balance but is never added to the prepaid pool.

EXAMPLE:
  Invoice 1600, paid 1000 then 1000 (600 clears, 400 banked):
    Balance = 1600 - 2000 = -400, PrepaidAvailable = 400
  New invoice 1600, redeem 400 from balance:
    Balance = 3200 - 2000 = 1200, PrepaidAvailable = 0

CONSISTENCY:
  BalanceBeforePayment must be called with the Tx of the payment being
  recorded so the figure cannot be stale under concurrent payments.
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// BalanceSummary is the aggregate view of a student's account.
type BalanceSummary struct {
	StudentID        string
	TotalInvoiced    decimal.Decimal
	TotalPaid        decimal.Decimal
	TotalRedeemed    decimal.Decimal
	PrepaidAvailable decimal.Decimal
	Balance          decimal.Decimal
}

// BalanceCalculator computes balances from ledger history.
type BalanceCalculator struct{}

// BalanceBeforePayment returns sum(invoice.AmountDue) - sum(payment.AmountPaid)
// across all of the student's records, not filtered by date.
func (bc *BalanceCalculator) BalanceBeforePayment(ctx context.Context, r Reader, studentID string) (decimal.Decimal, error) {
	s, err := bc.Summary(ctx, r, studentID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.Balance, nil
}

// Summary computes every aggregate in one pass over the history.
func (bc *BalanceCalculator) Summary(ctx context.Context, r Reader, studentID string) (BalanceSummary, error) {
	invoices, err := r.InvoicesByStudent(ctx, studentID)
	if err != nil {
		return BalanceSummary{}, err
	}
	payments, err := r.PaymentsByStudent(ctx, studentID)
	if err != nil {
		return BalanceSummary{}, err
	}
	return summarize(studentID, invoices, payments), nil
}

func summarize(studentID string, invoices []Invoice, payments []Payment) BalanceSummary {
	var (
		invoiced = decimal.Zero
		paid     = decimal.Zero
		redeemed = decimal.Zero
		banked   = decimal.Zero
	)

	for _, inv := range invoices {
		invoiced = invoiced.Add(inv.AmountDue)
	}
	for _, p := range payments {
		switch {
		case p.FromBalance:
			redeemed = redeemed.Add(p.AmountPaid)
		case p.IsPrepayment && !p.Linked():
			banked = banked.Add(p.AmountPaid)
			paid = paid.Add(p.AmountPaid)
		default:
			paid = paid.Add(p.AmountPaid)
		}
	}

	prepaid := banked.Sub(redeemed)
	if prepaid.IsNegative() {
		prepaid = decimal.Zero
	}

	return BalanceSummary{
		StudentID:        studentID,
		TotalInvoiced:    invoiced,
		TotalPaid:        paid,
		TotalRedeemed:    redeemed,
		PrepaidAvailable: prepaid,
		Balance:          invoiced.Sub(paid),
	}
}
