package ledger_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/tuition-ledger/ledger"
)

func TestRecordPayment_ConcurrentPaymentsSameStudent(t *testing.T) {
	// GIVEN: Ten 100 debts
	// WHEN: Ten goroutines each pay 100 at once
	// THEN: Every debt is cleared exactly once and nothing is banked

	fx := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		fx.classInvoice(t, "S", fmt.Sprintf("s%02d", i), "100", day(time.January, i+1))
	}

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := fx.ledger.RecordPayment(ctx, clerk, ledger.PaymentRequest{
				StudentID: "S",
				Amount:    dec("100"),
				Mode:      ledger.ModeMobileMoney,
				Purpose:   ledger.PurposeClassFees,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	debts, err := fx.store.DebtsByStudent(ctx, "S")
	require.NoError(t, err)
	for _, d := range debts {
		assert.True(t, d.Cleared, "debt %s", d.InvoiceID)
		assert.True(t, dec("100").Equal(d.AmountPaid), "debt %s paid %s", d.InvoiceID, d.AmountPaid)
	}
	assert.True(t, fx.balance(t, "S").IsZero())

	summary, err := fx.ledger.BalanceSummary(ctx, "S")
	require.NoError(t, err)
	assert.True(t, summary.PrepaidAvailable.IsZero())
	fx.assertConsistent(t, "S")
}

func TestRecordPayment_ConcurrentStudentsIndependent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	students := []string{"A", "B", "C", "D"}
	for _, s := range students {
		fx.classInvoice(t, s, "jan", "1600", day(time.January, 1))
	}

	var g errgroup.Group
	for _, s := range students {
		for i := 0; i < 4; i++ {
			g.Go(func() error {
				_, err := fx.ledger.RecordPayment(ctx, clerk, ledger.PaymentRequest{
					StudentID: s, Amount: dec("500"), Mode: ledger.ModeCash, Purpose: ledger.PurposeClassFees,
				})
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	for _, s := range students {
		assert.True(t, dec("-400").Equal(fx.balance(t, s)), "student %s", s)
		fx.assertConsistent(t, s)
	}
}

func TestReconcile_RandomHistoryStaysConsistent(t *testing.T) {
	// GIVEN: A random mix of invoices, FIFO payments, direct payments,
	//        prepayments, redemptions and unlinked payments
	// THEN: Every reconciliation identity holds after each step

	fx := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	var invoices []ledger.Invoice

	amount := func(max int) decimal.Decimal {
		cents := rng.Intn(max*100) + 1
		return decimal.New(int64(cents), -2)
	}

	for step := 0; step < 200; step++ {
		switch op := rng.Intn(6); op {
		case 0:
			inv, _, err := fx.ledger.IssueInvoice(ctx, clerk, ledger.InvoiceRequest{
				StudentID: "R",
				SessionID: fmt.Sprintf("sess-%d", rng.Intn(40)),
				FeeType:   ledger.FeeClass,
				Amount:    dec("1600"),
				Date:      day(time.January, 1).AddDate(0, 0, rng.Intn(200)),
			})
			require.NoError(t, err)
			invoices = append(invoices, inv)
		case 1, 2:
			fx.pay(t, ledger.PaymentRequest{StudentID: "R", Amount: amount(2500)})
		case 3:
			if len(invoices) == 0 {
				continue
			}
			fx.pay(t, ledger.PaymentRequest{
				StudentID:       "R",
				Amount:          amount(800),
				Purpose:         ledger.PurposeRegistration,
				LinkedInvoiceID: invoices[rng.Intn(len(invoices))].ID,
			})
		case 4:
			fx.pay(t, ledger.PaymentRequest{
				StudentID:   "R",
				Amount:      amount(300),
				Purpose:     ledger.PurposeAnyOther,
				Description: "misc",
				SessionID:   fmt.Sprintf("sess-%d", rng.Intn(60)),
				Flags:       ledger.PaymentFlags{IsPrepayment: rng.Intn(2) == 0},
			})
		case 5:
			summary, err := fx.ledger.BalanceSummary(ctx, "R")
			require.NoError(t, err)
			if len(invoices) == 0 || !summary.PrepaidAvailable.IsPositive() {
				continue
			}
			fx.pay(t, ledger.PaymentRequest{
				StudentID:       "R",
				Amount:          minDec(summary.PrepaidAvailable, amount(500)),
				Flags:           ledger.PaymentFlags{FromBalance: true},
				LinkedInvoiceID: invoices[rng.Intn(len(invoices))].ID,
			})
		}

		report, err := fx.ledger.Reconcile(ctx, "R")
		require.NoError(t, err)
		require.Empty(t, report.Issues, "step %d", step)
	}
}

func minDec(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
