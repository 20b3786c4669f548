package ledger

import (
	"cmp"
	"slices"
)

// OldestFirst is the one canonical settlement order: invoice date ascending,
// ties broken by invoice ID ascending. DebtTracker and PaymentAllocator both
// sort with it; stores return rows in no particular order.
func OldestFirst(a, b Invoice) int {
	if c := a.InvoiceDate.Compare(b.InvoiceDate); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func sortOutstanding(debts []OutstandingDebt) {
	slices.SortStableFunc(debts, func(a, b OutstandingDebt) int {
		return OldestFirst(a.Invoice, b.Invoice)
	})
}

func sortInvoices(invoices []Invoice) {
	slices.SortStableFunc(invoices, OldestFirst)
}

// paymentOrder sorts payments by payment date, then ID.
func paymentOrder(a, b Payment) int {
	if c := a.PaymentDate.Compare(b.PaymentDate); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
