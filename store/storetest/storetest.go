// Package storetest holds the behaviour every ledger store must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/tuition-ledger/ledger"
)

// Backend is everything a production store implements.
type Backend interface {
	ledger.Store
	ledger.SettingsStore
	ledger.AuditLog
	ledger.StudentDirectory
}

// Run exercises newBackend against the shared contract. Each subtest gets a
// fresh backend and its own student ID, so shared databases stay usable.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b Backend, student string)
	}{
		{"InvoiceRoundTrip", testInvoiceRoundTrip},
		{"DuplicateSessionRejected", testDuplicateSessionRejected},
		{"DuplicateKeyRejected", testDuplicateKeyRejected},
		{"RollbackOnError", testRollbackOnError},
		{"PaymentAndReceipt", testPaymentAndReceipt},
		{"ScenarioThroughFacade", testScenarioThroughFacade},
		{"ConcurrentPayments", testConcurrentPayments},
		{"Settings", testSettings},
		{"Audit", testAudit},
		{"Students", testStudents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			student := fmt.Sprintf("st-%s-%d", tt.name, time.Now().UnixNano())
			tt.fn(t, newBackend(t), student)
		})
	}
}

var (
	actor = ledger.ActorContext{UserID: "storetest", Role: "admin"}
	jan   = time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func insertInvoice(ctx context.Context, tx ledger.Tx, student, session string, amount string, at time.Time) (ledger.Invoice, error) {
	inv, err := tx.InsertInvoice(ctx, ledger.Invoice{
		StudentID:   student,
		SessionID:   session,
		FeeType:     ledger.FeeClass,
		AmountDue:   dec(amount),
		InvoiceDate: at,
		CreatedBy:   actor.UserID,
		CreatedAt:   at,
	})
	if err != nil {
		return inv, err
	}
	return inv, tx.InsertDebt(ctx, ledger.Debt{
		InvoiceID: inv.ID, StudentID: student, AmountDue: inv.AmountDue, AmountPaid: decimal.Zero, DebtDate: at,
	})
}

func testInvoiceRoundTrip(t *testing.T, b Backend, student string) {
	ctx := context.Background()
	var created ledger.Invoice
	err := b.WithStudentTx(ctx, student, func(tx ledger.Tx) error {
		var err error
		created, err = insertInvoice(ctx, tx, student, "s1", "1600.50", jan)
		return err
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := b.Invoice(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, student, got.StudentID)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, ledger.FeeClass, got.FeeType)
	assert.True(t, dec("1600.50").Equal(got.AmountDue))
	assert.True(t, jan.Equal(got.InvoiceDate))
	assert.Empty(t, got.IdempotencyKey)

	bySession, found, err := b.InvoiceBySession(ctx, student, "s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, created.ID, bySession.ID)

	_, found, err = b.InvoiceBySession(ctx, student, "nope")
	require.NoError(t, err)
	assert.False(t, found)

	d, err := b.Debt(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, d.AmountPaid.IsZero())
	assert.False(t, d.Cleared)

	_, err = b.Invoice(ctx, created.ID+100000)
	assert.ErrorIs(t, err, ledger.ErrInvoiceNotFound)
	_, err = b.Debt(ctx, created.ID+100000)
	assert.ErrorIs(t, err, ledger.ErrDebtNotFound)
}

func testDuplicateSessionRejected(t *testing.T, b Backend, student string) {
	ctx := context.Background()
	require.NoError(t, b.WithStudentTx(ctx, student, func(tx ledger.Tx) error {
		_, err := insertInvoice(ctx, tx, student, "s1", "100", jan)
		return err
	}))

	err := b.WithStudentTx(ctx, student, func(tx ledger.Tx) error {
		_, err := insertInvoice(ctx, tx, student, "s1", "100", jan)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateInvoice)

	invoices, err := b.InvoicesByStudent(ctx, student)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func testDuplicateKeyRejected(t *testing.T, b Backend, student string) {
	ctx := context.Background()
	insert := func(tx ledger.Tx) error {
		_, err := tx.InsertInvoice(ctx, ledger.Invoice{
			StudentID: student, FeeType: ledger.FeeRegistration, AmountDue: dec("1000"),
			InvoiceDate: jan, IdempotencyKey: "registration:2025", CreatedBy: actor.UserID, CreatedAt: jan,
		})
		return err
	}
	require.NoError(t, b.WithStudentTx(ctx, student, insert))
	assert.ErrorIs(t, b.WithStudentTx(ctx, student, insert), ledger.ErrDuplicateInvoice)

	inv, found, err := b.InvoiceByKey(ctx, student, "registration:2025")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "registration:2025", inv.IdempotencyKey)
}

func testRollbackOnError(t *testing.T, b Backend, student string) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := b.WithStudentTx(ctx, student, func(tx ledger.Tx) error {
		if _, err := insertInvoice(ctx, tx, student, "s1", "100", jan); err != nil {
			return err
		}
		// The transaction sees its own writes.
		invoices, err := tx.InvoicesByStudent(ctx, student)
		if err != nil {
			return err
		}
		if len(invoices) != 1 {
			return fmt.Errorf("expected 1 invoice inside tx, got %d", len(invoices))
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	invoices, err := b.InvoicesByStudent(ctx, student)
	require.NoError(t, err)
	assert.Empty(t, invoices)
	debts, err := b.DebtsByStudent(ctx, student)
	require.NoError(t, err)
	assert.Empty(t, debts)
}

func testPaymentAndReceipt(t *testing.T, b Backend, student string) {
	ctx := context.Background()
	var (
		inv     ledger.Invoice
		linked  ledger.Payment
		banked  ledger.Payment
		receipt ledger.Receipt
	)
	err := b.WithStudentTx(ctx, student, func(tx ledger.Tx) error {
		var err error
		if inv, err = insertInvoice(ctx, tx, student, "s1", "1600", jan); err != nil {
			return err
		}
		base := ledger.Payment{
			StudentID: student, Mode: ledger.ModeMobileMoney, Purpose: ledger.PurposeClassFees,
			PaymentDate: jan, RecordedBy: actor.UserID, BatchID: uuid.NewString(), CreatedAt: jan,
		}
		lp := base
		lp.InvoiceID, lp.AmountPaid = inv.ID, dec("1600")
		if linked, err = tx.InsertPayment(ctx, lp); err != nil {
			return err
		}
		bp := base
		bp.AmountPaid, bp.IsPrepayment = dec("0.75"), true
		if banked, err = tx.InsertPayment(ctx, bp); err != nil {
			return err
		}
		d, err := tx.Debt(ctx, inv.ID)
		if err != nil {
			return err
		}
		d.AmountPaid, d.Cleared = dec("1600"), true
		if err := tx.UpdateDebt(ctx, d); err != nil {
			return err
		}
		receipt = ledger.Receipt{
			PaymentID: linked.ID, Number: fmt.Sprintf("T-%s-%d", student, linked.ID),
			BalanceBF: dec("1600"), BalanceCF: dec("0"), IssuedAt: jan,
		}
		return tx.InsertReceipt(ctx, receipt)
	})
	require.NoError(t, err)
	require.NotEqual(t, linked.ID, banked.ID)

	got, err := b.Payment(ctx, banked.ID)
	require.NoError(t, err)
	assert.False(t, got.Linked())
	assert.True(t, got.IsPrepayment)
	assert.True(t, dec("0.75").Equal(got.AmountPaid))

	got, err = b.Payment(ctx, linked.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.InvoiceID)
	assert.Equal(t, ledger.ModeMobileMoney, got.Mode)

	d, err := b.Debt(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, d.Cleared)
	assert.True(t, dec("1600").Equal(d.AmountPaid))

	rc, err := b.Receipt(ctx, linked.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.Number, rc.Number)
	assert.True(t, rc.BalanceCF.IsZero())

	_, err = b.Receipt(ctx, banked.ID)
	assert.ErrorIs(t, err, ledger.ErrReceiptNotFound)

	receipts, err := b.ReceiptsByStudent(ctx, student)
	require.NoError(t, err)
	assert.Len(t, receipts, 1)
}

func testScenarioThroughFacade(t *testing.T, b Backend, student string) {
	ctx := context.Background()
	l := ledger.NewFacade(b, ledger.WithLogger(zap.NewNop()), ledger.WithAuditSink(b))

	_, _, err := l.IssueInvoice(ctx, actor, ledger.InvoiceRequest{
		StudentID: student, SessionID: "jan", FeeType: ledger.FeeClass, Amount: dec("1600"), Date: jan,
	})
	require.NoError(t, err)

	pay := func(req ledger.PaymentRequest) ledger.PaymentResult {
		req.StudentID = student
		req.Mode = ledger.ModeCash
		req.Purpose = ledger.PurposeClassFees
		res, err := l.RecordPayment(ctx, actor, req)
		require.NoError(t, err)
		return res
	}
	pay(ledger.PaymentRequest{Amount: dec("1000")})
	res := pay(ledger.PaymentRequest{Amount: dec("1000")})
	require.Len(t, res.Payments, 2)

	bal, err := l.StudentBalance(ctx, student)
	require.NoError(t, err)
	assert.True(t, dec("-400").Equal(bal), "balance %s", bal)

	feb, _, err := l.IssueInvoice(ctx, actor, ledger.InvoiceRequest{
		StudentID: student, SessionID: "feb", FeeType: ledger.FeeClass, Amount: dec("1600"), Date: jan.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	pay(ledger.PaymentRequest{Amount: dec("400"), Flags: ledger.PaymentFlags{FromBalance: true}, LinkedInvoiceID: feb.ID})

	bal, err = l.StudentBalance(ctx, student)
	require.NoError(t, err)
	assert.True(t, dec("1200").Equal(bal), "balance %s", bal)

	report, err := l.Reconcile(ctx, student)
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
}

func testConcurrentPayments(t *testing.T, b Backend, student string) {
	ctx := context.Background()
	l := ledger.NewFacade(b, ledger.WithLogger(zap.NewNop()))
	for i := 0; i < 5; i++ {
		_, _, err := l.IssueInvoice(ctx, actor, ledger.InvoiceRequest{
			StudentID: student, SessionID: fmt.Sprintf("s%d", i), FeeType: ledger.FeeClass,
			Amount: dec("100"), Date: jan.AddDate(0, 0, i),
		})
		require.NoError(t, err)
	}

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := l.RecordPayment(ctx, actor, ledger.PaymentRequest{
				StudentID: student, Amount: dec("100"), Mode: ledger.ModeCash, Purpose: ledger.PurposeClassFees,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	debts, err := b.DebtsByStudent(ctx, student)
	require.NoError(t, err)
	for _, d := range debts {
		assert.True(t, d.Cleared)
		assert.True(t, dec("100").Equal(d.AmountPaid))
	}
	report, err := l.Reconcile(ctx, student)
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
}

func testSettings(t *testing.T, b Backend, student string) {
	ctx := context.Background()
	name := "fee-" + student

	_, found, err := b.GetSetting(ctx, name)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, b.PutSetting(ctx, name, "1600.00"))
	require.NoError(t, b.PutSetting(ctx, name, "1750.00"))

	v, found, err := b.GetSetting(ctx, name)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1750.00", v)

	all, err := b.ListSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1750.00", all[name])
}

func testAudit(t *testing.T, b Backend, student string) {
	ctx := context.Background()
	events := []ledger.AuditEvent{
		{ID: uuid.NewString(), ActorID: "a1", Action: ledger.AuditInvoiceCreated, TableName: "invoices", RecordID: "1", StudentID: student, Details: map[string]string{"amount_due": "1600.00"}, Timestamp: jan},
		{ID: uuid.NewString(), ActorID: "a2", Action: ledger.AuditPaymentRecorded, TableName: "payments", RecordID: "1", StudentID: student, Timestamp: jan},
	}
	require.NoError(t, b.Emit(ctx, events))

	got, err := b.QueryAudit(ctx, ledger.AuditFilter{StudentID: student})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ledger.AuditPaymentRecorded, got[0].Action, "newest first")
	assert.Equal(t, "1600.00", got[1].Details["amount_due"])

	got, err = b.QueryAudit(ctx, ledger.AuditFilter{StudentID: student, ActorID: "a1"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = b.QueryAudit(ctx, ledger.AuditFilter{StudentID: student, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func testStudents(t *testing.T, b Backend, student string) {
	ctx := context.Background()
	err := b.WithStudentTx(ctx, student, func(tx ledger.Tx) error {
		_, err := insertInvoice(ctx, tx, student, "s1", "1600", jan)
		return err
	})
	require.NoError(t, err)

	students, err := b.Students(ctx)
	require.NoError(t, err)
	assert.Contains(t, students, student)
	assert.Equal(t, 1, countOf(students, student))
}

func countOf(ids []string, id string) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}
