package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_ReportsBrokenIdentities(t *testing.T) {
	d := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	invoices := []Invoice{{ID: 1, StudentID: "S", AmountDue: d("100"), InvoiceDate: now}}
	debts := []Debt{{InvoiceID: 1, StudentID: "S", AmountDue: d("100"), AmountPaid: d("100"), Cleared: false}}
	payments := []Payment{{ID: 1, StudentID: "S", InvoiceID: 1, AmountPaid: d("60")}}

	report := reconcile("S", invoices, debts, payments, nil)

	assert.False(t, report.Consistent())
	// cleared flag, linked sum, missing receipt, balance identity
	assert.Len(t, report.Issues, 4)
}

func TestAllocateFIFO_ExactPaymentLeavesNoPrepayment(t *testing.T) {
	pa := &PaymentAllocator{Debts: &DebtTracker{}, Balance: &BalanceCalculator{}}
	r := stubReader{
		invoices: []Invoice{{ID: 1, StudentID: "S", AmountDue: decimal.NewFromInt(1600)}},
		debts:    []Debt{{InvoiceID: 1, StudentID: "S", AmountDue: decimal.NewFromInt(1600), AmountPaid: decimal.Zero}},
	}

	plan, err := pa.Allocate(context.Background(), r, PaymentRequest{
		StudentID: "S", Amount: decimal.NewFromInt(1600), Mode: ModeCash, Purpose: PurposeClassFees,
	})

	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, InvoiceID(1), plan[0].InvoiceID)
	assert.False(t, plan[0].IsPrepayment)
}

func TestReceiptNumber_Padding(t *testing.T) {
	ri := &ReceiptIssuer{}
	assert.Equal(t, "RCT-00000042", ri.Number(42))
	assert.Equal(t, "RCT-123456789", ri.Number(123456789))
}

func TestStudentLocks_ReleasesEntries(t *testing.T) {
	var l studentLocks
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("S")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Empty(t, l.locks)
}

// stubReader serves fixed rows for allocator tests.
type stubReader struct {
	invoices []Invoice
	debts    []Debt
	payments []Payment
}

func (s stubReader) Invoice(_ context.Context, id InvoiceID) (Invoice, error) {
	for _, inv := range s.invoices {
		if inv.ID == id {
			return inv, nil
		}
	}
	return Invoice{}, ErrInvoiceNotFound
}

func (s stubReader) InvoiceBySession(_ context.Context, studentID, sessionID string) (Invoice, bool, error) {
	for _, inv := range s.invoices {
		if inv.StudentID == studentID && inv.SessionID == sessionID {
			return inv, true, nil
		}
	}
	return Invoice{}, false, nil
}

func (s stubReader) InvoiceByKey(context.Context, string, string) (Invoice, bool, error) {
	return Invoice{}, false, nil
}

func (s stubReader) InvoicesByStudent(context.Context, string) ([]Invoice, error) {
	return s.invoices, nil
}

func (s stubReader) Debt(_ context.Context, id InvoiceID) (Debt, error) {
	for _, d := range s.debts {
		if d.InvoiceID == id {
			return d, nil
		}
	}
	return Debt{}, ErrDebtNotFound
}

func (s stubReader) DebtsByStudent(context.Context, string) ([]Debt, error) { return s.debts, nil }

func (s stubReader) Payment(context.Context, PaymentID) (Payment, error) {
	return Payment{}, ErrPaymentNotFound
}

func (s stubReader) PaymentsByStudent(context.Context, string) ([]Payment, error) {
	return s.payments, nil
}

func (s stubReader) Receipt(context.Context, PaymentID) (Receipt, error) {
	return Receipt{}, ErrReceiptNotFound
}

func (s stubReader) ReceiptsByStudent(context.Context, string) ([]Receipt, error) { return nil, nil }
