/*
statement.go - Read-models for statements and reconciliation

STATEMENT:
  Chronological list of invoices (debits) and payments (credits) with a
  running balance. Report rendering and export modules consume it as-is.
  Redemptions are listed for completeness with a zero credit: the money was
  credited when it was banked as a prepayment.

RECONCILIATION:
  Recomputes everything from history and checks the identities the engine
  must preserve:
    1. Debt.Cleared == (AmountPaid >= AmountDue)
    2. Debt.AmountPaid == sum of payments linked to its invoice
    3. Every payment has exactly one receipt, and CF = BF - effect
    4. Balance == sum(Debt.Remaining) + redemptions - unlinked cash
*/
package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type StatementLineKind string

const (
	LineInvoice StatementLineKind = "invoice"
	LinePayment StatementLineKind = "payment"
)

type StatementLine struct {
	Date          time.Time
	Kind          StatementLineKind
	Reference     string // invoice ID or receipt number
	Description   string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	Running       decimal.Decimal
	IsPrepayment  bool
	FromBalance   bool
	LinkedInvoice InvoiceID
}

type Statement struct {
	StudentID   string
	Lines       []StatementLine
	Summary     BalanceSummary
	Outstanding []OutstandingDebt
}

// Statement builds the chronological account statement for a student.
func (f *Facade) Statement(ctx context.Context, studentID string) (Statement, error) {
	invoices, err := f.store.InvoicesByStudent(ctx, studentID)
	if err != nil {
		return Statement{}, err
	}
	payments, err := f.store.PaymentsByStudent(ctx, studentID)
	if err != nil {
		return Statement{}, err
	}
	receipts, err := f.store.ReceiptsByStudent(ctx, studentID)
	if err != nil {
		return Statement{}, err
	}
	outstanding, err := f.debts.OutstandingForStudent(ctx, f.store, studentID)
	if err != nil {
		return Statement{}, err
	}

	numbers := make(map[PaymentID]string, len(receipts))
	for _, rc := range receipts {
		numbers[rc.PaymentID] = rc.Number
	}

	lines := make([]StatementLine, 0, len(invoices)+len(payments))
	sortInvoices(invoices)
	for _, inv := range invoices {
		lines = append(lines, StatementLine{
			Date:        inv.InvoiceDate,
			Kind:        LineInvoice,
			Reference:   inv.ID.String(),
			Description: inv.Description,
			Debit:       inv.AmountDue,
			Credit:      decimal.Zero,
		})
	}
	slices.SortStableFunc(payments, paymentOrder)
	for _, p := range payments {
		desc := string(p.Purpose)
		if p.Description != "" {
			desc = fmt.Sprintf("%s: %s", p.Purpose, p.Description)
		}
		lines = append(lines, StatementLine{
			Date:          p.PaymentDate,
			Kind:          LinePayment,
			Reference:     numbers[p.ID],
			Description:   desc,
			Debit:         decimal.Zero,
			Credit:        p.BalanceEffect(),
			IsPrepayment:  p.IsPrepayment,
			FromBalance:   p.FromBalance,
			LinkedInvoice: p.InvoiceID,
		})
	}

	// Invoices before payments on the same instant; stable keeps each
	// kind's own order.
	slices.SortStableFunc(lines, func(a, b StatementLine) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(kindRank(a.Kind), kindRank(b.Kind))
	})

	running := decimal.Zero
	for i := range lines {
		running = running.Add(lines[i].Debit).Sub(lines[i].Credit)
		lines[i].Running = running
	}

	return Statement{
		StudentID:   studentID,
		Lines:       lines,
		Summary:     summarize(studentID, invoices, payments),
		Outstanding: outstanding,
	}, nil
}

func kindRank(k StatementLineKind) int {
	if k == LineInvoice {
		return 0
	}
	return 1
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type ReconciliationReport struct {
	StudentID        string
	Balance          decimal.Decimal
	DebtRemaining    decimal.Decimal
	TotalOutstanding decimal.Decimal
	UnlinkedCash     decimal.Decimal
	Redeemed         decimal.Decimal
	Issues           []string
}

func (r ReconciliationReport) Consistent() bool { return len(r.Issues) == 0 }

// Reconcile recomputes a student's account from history and reports every
// identity that does not hold.
func (f *Facade) Reconcile(ctx context.Context, studentID string) (ReconciliationReport, error) {
	invoices, err := f.store.InvoicesByStudent(ctx, studentID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	debts, err := f.store.DebtsByStudent(ctx, studentID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	payments, err := f.store.PaymentsByStudent(ctx, studentID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	receipts, err := f.store.ReceiptsByStudent(ctx, studentID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	return reconcile(studentID, invoices, debts, payments, receipts), nil
}

func reconcile(studentID string, invoices []Invoice, debts []Debt, payments []Payment, receipts []Receipt) ReconciliationReport {
	report := ReconciliationReport{
		StudentID:        studentID,
		Balance:          summarize(studentID, invoices, payments).Balance,
		DebtRemaining:    decimal.Zero,
		TotalOutstanding: TotalOutstanding(debts),
		UnlinkedCash:     decimal.Zero,
		Redeemed:         decimal.Zero,
	}
	issue := func(format string, args ...any) {
		report.Issues = append(report.Issues, fmt.Sprintf(format, args...))
	}

	if len(debts) != len(invoices) {
		issue("%d invoices but %d debts", len(invoices), len(debts))
	}

	linked := make(map[InvoiceID]decimal.Decimal)
	for _, p := range payments {
		switch {
		case p.Linked():
			linked[p.InvoiceID] = linked[p.InvoiceID].Add(p.AmountPaid)
			if p.FromBalance {
				report.Redeemed = report.Redeemed.Add(p.AmountPaid)
			}
		case p.FromBalance:
			issue("payment %s redeems prepaid balance without an invoice", p.ID)
		default:
			report.UnlinkedCash = report.UnlinkedCash.Add(p.AmountPaid)
		}
	}

	for _, d := range debts {
		report.DebtRemaining = report.DebtRemaining.Add(d.Remaining())
		if d.Cleared != d.AmountPaid.GreaterThanOrEqual(d.AmountDue) {
			issue("debt %s cleared=%t but paid %s of %s", d.InvoiceID, d.Cleared,
				d.AmountPaid.StringFixed(2), d.AmountDue.StringFixed(2))
		}
		if sum := linked[d.InvoiceID]; !sum.Equal(d.AmountPaid) {
			issue("debt %s records %s paid but linked payments sum to %s", d.InvoiceID,
				d.AmountPaid.StringFixed(2), sum.StringFixed(2))
		}
	}

	byPayment := make(map[PaymentID]Receipt, len(receipts))
	for _, rc := range receipts {
		byPayment[rc.PaymentID] = rc
	}
	for _, p := range payments {
		rc, ok := byPayment[p.ID]
		if !ok {
			issue("payment %s has no receipt", p.ID)
			continue
		}
		if want := rc.BalanceBF.Sub(p.BalanceEffect()); !want.Equal(rc.BalanceCF) {
			issue("receipt %s carries %s forward, expected %s", rc.Number,
				rc.BalanceCF.StringFixed(2), want.StringFixed(2))
		}
	}

	expected := report.DebtRemaining.Add(report.Redeemed).Sub(report.UnlinkedCash)
	if !expected.Equal(report.Balance) {
		issue("balance %s does not match debts (%s)", report.Balance.StringFixed(2), expected.StringFixed(2))
	}
	return report
}
