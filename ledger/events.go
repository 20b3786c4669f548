/*
events.go - Billing triggered by other modules

PURPOSE:
  The attendance and enrollment modules do not create invoices themselves.
  They report what happened and EventBilling turns it into an invoice.

ATTENDANCE:
  (student, session, unit, date) -> class-fee invoice for "Unit fees",
  idempotent on (student, session).

ENROLLMENT:
  (student, academic year) -> registration-fee invoice for "registration_fee"
  when the academic year is at or after the cutoff, idempotent on
  (student, "registration:<year>"). Earlier years are not billed.
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type AttendanceEvent struct {
	StudentID   string
	SessionID   string
	UnitID      string
	SessionDate time.Time
}

type EnrollmentEvent struct {
	StudentID    string
	AcademicYear int
	EnrolledAt   time.Time
}

// EventBilling issues invoices for collaborator events.
type EventBilling struct {
	Ledger                 *Facade
	Fees                   *FeeSchedule
	RegistrationCutoffYear int
}

// OnAttendance bills the unit fee for one attended session.
func (eb *EventBilling) OnAttendance(ctx context.Context, actor ActorContext, ev AttendanceEvent) (Invoice, bool, error) {
	if strings.TrimSpace(ev.SessionID) == "" {
		return Invoice{}, false, invalid("session_id", "attendance needs a session")
	}
	amount, err := eb.Fees.Amount(ctx, SettingUnitFees)
	if err != nil {
		return Invoice{}, false, err
	}
	desc := "Unit fees"
	if ev.UnitID != "" {
		desc = fmt.Sprintf("Unit fees: %s", ev.UnitID)
	}
	return eb.Ledger.IssueInvoice(ctx, actor, InvoiceRequest{
		StudentID:   ev.StudentID,
		SessionID:   ev.SessionID,
		FeeType:     FeeClass,
		Description: desc,
		Amount:      amount,
		Date:        ev.SessionDate,
	})
}

// OnEnrollment bills the registration fee once per academic year. billed is
// false when the year is before the cutoff or the fee was already raised.
func (eb *EventBilling) OnEnrollment(ctx context.Context, actor ActorContext, ev EnrollmentEvent) (inv Invoice, billed bool, err error) {
	if ev.AcademicYear < eb.RegistrationCutoffYear {
		return Invoice{}, false, nil
	}
	amount, err := eb.Fees.Amount(ctx, SettingRegistrationFee)
	if err != nil {
		return Invoice{}, false, err
	}
	return eb.Ledger.IssueInvoice(ctx, actor, InvoiceRequest{
		StudentID:      ev.StudentID,
		FeeType:        FeeRegistration,
		Description:    fmt.Sprintf("Registration fee %d", ev.AcademicYear),
		Amount:         amount,
		Date:           ev.EnrolledAt,
		IdempotencyKey: fmt.Sprintf("registration:%d", ev.AcademicYear),
	})
}

// GraduationFee raises the graduation fee once per student.
func (eb *EventBilling) GraduationFee(ctx context.Context, actor ActorContext, studentID string, at time.Time) (Invoice, bool, error) {
	amount, err := eb.Fees.Amount(ctx, SettingGraduationFee)
	if err != nil {
		return Invoice{}, false, err
	}
	return eb.Ledger.IssueInvoice(ctx, actor, InvoiceRequest{
		StudentID:      studentID,
		FeeType:        FeeGraduation,
		Description:    "Graduation fee",
		Amount:         amount,
		Date:           at,
		IdempotencyKey: "graduation",
	})
}
