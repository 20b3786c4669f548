package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tuition-ledger/ledger"
)

// =============================================================================
// INVOICE ISSUING
// =============================================================================

func TestIssueInvoice_SameSessionIsIdempotent(t *testing.T) {
	// GIVEN: Attendance already billed for a session
	// WHEN: The same attendance is reported again
	// THEN: The original invoice is returned and nothing new is billed

	fx := newFixture(t)
	ctx := context.Background()
	first := fx.classInvoice(t, "S", "sess-1", "1600", day(time.January, 1))

	again, created, err := fx.ledger.IssueInvoice(ctx, clerk, ledger.InvoiceRequest{
		StudentID: "S", SessionID: "sess-1", FeeType: ledger.FeeClass, Amount: dec("1600"),
	})

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	invoices, err := fx.store.InvoicesByStudent(ctx, "S")
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
	debts, err := fx.store.DebtsByStudent(ctx, "S")
	require.NoError(t, err)
	assert.Len(t, debts, 1)
}

func TestIssueInvoice_SameSessionDifferentStudents(t *testing.T) {
	fx := newFixture(t)
	a := fx.classInvoice(t, "A", "sess-1", "1600", day(time.January, 1))
	b := fx.classInvoice(t, "B", "sess-1", "1600", day(time.January, 1))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestIssueInvoice_CreatesMatchingDebt(t *testing.T) {
	fx := newFixture(t)
	inv := fx.classInvoice(t, "S", "sess-1", "1600", day(time.January, 5))

	d := fx.debt(t, inv.ID)
	assert.Equal(t, inv.StudentID, d.StudentID)
	assert.True(t, inv.AmountDue.Equal(d.AmountDue))
	assert.True(t, d.AmountPaid.IsZero())
	assert.False(t, d.Cleared)
	assert.True(t, inv.InvoiceDate.Equal(d.DebtDate))
	assert.Equal(t, clerk.UserID, inv.CreatedBy)
}

func TestIssueInvoice_NonClassFee_KeyedDedup(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	req := ledger.InvoiceRequest{
		StudentID:      "S",
		FeeType:        ledger.FeeRegistration,
		Amount:         dec("1000"),
		IdempotencyKey: "registration:2025",
	}

	first, created, err := fx.ledger.IssueInvoice(ctx, clerk, req)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := fx.ledger.IssueInvoice(ctx, clerk, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestIssueInvoice_NonClassFee_NoKeyBillsTwice(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	req := ledger.InvoiceRequest{StudentID: "S", FeeType: ledger.FeeOther, Amount: dec("200"), Description: "trip"}

	_, created1, err := fx.ledger.IssueInvoice(ctx, clerk, req)
	require.NoError(t, err)
	_, created2, err := fx.ledger.IssueInvoice(ctx, clerk, req)
	require.NoError(t, err)

	assert.True(t, created1)
	assert.True(t, created2)
	assert.True(t, dec("400").Equal(fx.balance(t, "S")))
}

func TestIssueInvoice_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  ledger.InvoiceRequest
	}{
		{"no student", ledger.InvoiceRequest{SessionID: "s", Amount: dec("1")}},
		{"zero amount", ledger.InvoiceRequest{StudentID: "S", SessionID: "s"}},
		{"negative amount", ledger.InvoiceRequest{StudentID: "S", SessionID: "s", Amount: dec("-1")}},
		{"class fee without session", ledger.InvoiceRequest{StudentID: "S", FeeType: ledger.FeeClass, Amount: dec("1")}},
		{"unknown fee type", ledger.InvoiceRequest{StudentID: "S", FeeType: "tuition", Amount: dec("1")}},
		{"three decimals", ledger.InvoiceRequest{StudentID: "S", SessionID: "s", Amount: dec("1600.005")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			_, _, err := fx.ledger.IssueInvoice(context.Background(), clerk, tt.req)
			assert.ErrorIs(t, err, ledger.ErrValidation)

			invoices, ierr := fx.store.InvoicesByStudent(context.Background(), "S")
			require.NoError(t, ierr)
			assert.Empty(t, invoices)
		})
	}
}

func TestIssueInvoice_DefaultsFeeTypeAndDate(t *testing.T) {
	fx := newFixture(t)
	inv, _, err := fx.ledger.IssueInvoice(context.Background(), clerk, ledger.InvoiceRequest{
		StudentID: "S", SessionID: "s", Amount: dec("1600"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.FeeClass, inv.FeeType)
	assert.True(t, day(time.June, 1).Equal(inv.InvoiceDate))
}

// =============================================================================
// EVENT BILLING
// =============================================================================

func newBilling(fx *fixture) *ledger.EventBilling {
	return &ledger.EventBilling{
		Ledger:                 fx.ledger,
		Fees:                   ledger.NewFeeSchedule(fx.store),
		RegistrationCutoffYear: 2025,
	}
}

func TestOnAttendance_BillsUnitFee(t *testing.T) {
	fx := newFixture(t)
	eb := newBilling(fx)
	ctx := context.Background()

	inv, created, err := eb.OnAttendance(ctx, ledger.System, ledger.AttendanceEvent{
		StudentID: "S", SessionID: "sess-9", UnitID: "BAK-101", SessionDate: day(time.March, 3),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, dec("1600").Equal(inv.AmountDue))
	assert.Equal(t, "Unit fees: BAK-101", inv.Description)

	// Attendance re-marked: no second invoice.
	_, created, err = eb.OnAttendance(ctx, ledger.System, ledger.AttendanceEvent{
		StudentID: "S", SessionID: "sess-9", SessionDate: day(time.March, 3),
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestOnAttendance_UsesConfiguredFee(t *testing.T) {
	fx := newFixture(t)
	eb := newBilling(fx)
	ctx := context.Background()
	require.NoError(t, eb.Fees.Set(ctx, ledger.SettingUnitFees, "1750"))

	inv, _, err := eb.OnAttendance(ctx, ledger.System, ledger.AttendanceEvent{StudentID: "S", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, dec("1750").Equal(inv.AmountDue))
}

func TestOnAttendance_RequiresSession(t *testing.T) {
	fx := newFixture(t)
	_, _, err := newBilling(fx).OnAttendance(context.Background(), ledger.System, ledger.AttendanceEvent{StudentID: "S"})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestOnEnrollment_RegistrationOncePerYear(t *testing.T) {
	fx := newFixture(t)
	eb := newBilling(fx)
	ctx := context.Background()

	_, billed, err := eb.OnEnrollment(ctx, ledger.System, ledger.EnrollmentEvent{StudentID: "S", AcademicYear: 2024})
	require.NoError(t, err)
	assert.False(t, billed, "years before the cutoff are not billed")

	inv, billed, err := eb.OnEnrollment(ctx, ledger.System, ledger.EnrollmentEvent{StudentID: "S", AcademicYear: 2025})
	require.NoError(t, err)
	assert.True(t, billed)
	assert.Equal(t, ledger.FeeRegistration, inv.FeeType)
	assert.True(t, dec("1000").Equal(inv.AmountDue))

	_, billed, err = eb.OnEnrollment(ctx, ledger.System, ledger.EnrollmentEvent{StudentID: "S", AcademicYear: 2025})
	require.NoError(t, err)
	assert.False(t, billed)

	_, billed, err = eb.OnEnrollment(ctx, ledger.System, ledger.EnrollmentEvent{StudentID: "S", AcademicYear: 2026})
	require.NoError(t, err)
	assert.True(t, billed)
}

func TestGraduationFee_OncePerStudent(t *testing.T) {
	fx := newFixture(t)
	eb := newBilling(fx)
	ctx := context.Background()

	inv, created, err := eb.GraduationFee(ctx, clerk, "S", day(time.December, 1))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, dec("2500").Equal(inv.AmountDue))

	_, created, err = eb.GraduationFee(ctx, clerk, "S", day(time.December, 2))
	require.NoError(t, err)
	assert.False(t, created)
}

// =============================================================================
// FEE SCHEDULE
// =============================================================================

func TestFeeSchedule_RejectsBadValues(t *testing.T) {
	fx := newFixture(t)
	fees := ledger.NewFeeSchedule(fx.store)
	ctx := context.Background()

	assert.ErrorIs(t, fees.Set(ctx, ledger.SettingUnitFees, "abc"), ledger.ErrInvalidSetting)
	assert.ErrorIs(t, fees.Set(ctx, ledger.SettingUnitFees, "0"), ledger.ErrInvalidSetting)

	// A corrupt stored value surfaces instead of silently using the default.
	require.NoError(t, fx.store.PutSetting(ctx, ledger.SettingGraduationFee, "lots"))
	_, err := fees.Amount(ctx, ledger.SettingGraduationFee)
	assert.ErrorIs(t, err, ledger.ErrInvalidSetting)

	_, err = fees.Amount(ctx, "unknown")
	assert.ErrorIs(t, err, ledger.ErrInvalidSetting)
}
