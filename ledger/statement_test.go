package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tuition-ledger/ledger"
)

func TestStatement_RunningBalance(t *testing.T) {
	// GIVEN: Two invoices and three payments spread over time
	// THEN: Lines are chronological and the last running figure is the balance

	fx := newFixture(t)
	ctx := context.Background()
	fx.classInvoice(t, "S", "jan", "1600", day(time.January, 1))
	fx.pay(t, ledger.PaymentRequest{StudentID: "S", Amount: dec("1000"), PaymentDate: day(time.January, 5)})
	fx.classInvoice(t, "S", "feb", "1600", day(time.February, 1))
	fx.pay(t, ledger.PaymentRequest{StudentID: "S", Amount: dec("2500"), PaymentDate: day(time.February, 2)})

	st, err := fx.ledger.Statement(ctx, "S")
	require.NoError(t, err)

	require.NotEmpty(t, st.Lines)
	for i := 1; i < len(st.Lines); i++ {
		assert.False(t, st.Lines[i].Date.Before(st.Lines[i-1].Date))
	}
	last := st.Lines[len(st.Lines)-1]
	assert.True(t, st.Summary.Balance.Equal(last.Running))
	assert.True(t, dec("-300").Equal(last.Running))
	assert.Equal(t, ledger.LineInvoice, st.Lines[0].Kind)
	assert.Empty(t, st.Outstanding)

	for _, l := range st.Lines {
		if l.Kind == ledger.LinePayment {
			assert.NotEmpty(t, l.Reference, "payment lines carry the receipt number")
		}
	}
}

func TestStatement_RedemptionHasNoCredit(t *testing.T) {
	fx := newFixture(t)
	fx.pay(t, ledger.PaymentRequest{StudentID: "S", Amount: dec("500"), Flags: ledger.PaymentFlags{IsPrepayment: true}, PaymentDate: day(time.January, 1)})
	inv := fx.classInvoice(t, "S", "feb", "1600", day(time.February, 1))
	fx.pay(t, ledger.PaymentRequest{
		StudentID: "S", Amount: dec("500"), Flags: ledger.PaymentFlags{FromBalance: true},
		LinkedInvoiceID: inv.ID, PaymentDate: day(time.February, 2),
	})

	st, err := fx.ledger.Statement(context.Background(), "S")
	require.NoError(t, err)

	require.Len(t, st.Lines, 3)
	redemption := st.Lines[2]
	assert.True(t, redemption.FromBalance)
	assert.True(t, redemption.Credit.IsZero())
	assert.Equal(t, inv.ID, redemption.LinkedInvoice)
	assert.True(t, dec("1100").Equal(redemption.Running))
	require.Len(t, st.Outstanding, 1)
	assert.True(t, dec("1100").Equal(st.Outstanding[0].Debt.Outstanding()))
}

func TestReconcile_EmptyStudent(t *testing.T) {
	fx := newFixture(t)
	report, err := fx.ledger.Reconcile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.True(t, report.Balance.IsZero())
}
