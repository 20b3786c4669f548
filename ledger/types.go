/*
Package ledger provides the payment and invoice ledger engine.

PURPOSE:
  This package turns billable events (a student attending a class session,
  a registration fee falling due) into invoices, turns cash and mobile-money
  receipts into allocations against those invoices, tracks unpaid amounts as
  debts, banks overpayments as prepaid balance, and prints a running
  brought-forward / carried-forward figure on every receipt.

KEY CONCEPTS IN THIS FILE (types.go):
  - Invoice: A billable obligation, created once per billable event
  - Debt: Mutable per-invoice tracking of how much is still unpaid
  - Payment: One immutable transfer of money from a student
  - Receipt: Balance snapshot taken when a payment is committed
  - ActorContext: Who is performing the call (never read from ambient state)

SIGN CONVENTION:
  A positive balance means the student owes money. A negative balance means
  the student has prepaid.

RECONCILIATION:
  balance = sum(invoice.AmountDue) - sum(payment.AmountPaid)

  Redemptions (FromBalance) are excluded from the payment sum: they move money
  that was already counted when the prepayment was banked.

SEE ALSO:
  - store.go: Persistence interfaces
  - allocator.go: How an incoming amount is split across debts
  - facade.go: The single transaction boundary exposed to callers
*/
package ledger

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type InvoiceID int64
type PaymentID int64

func (id InvoiceID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id PaymentID) String() string { return strconv.FormatInt(int64(id), 10) }

// =============================================================================
// MONEY
// =============================================================================

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// ACTOR
// =============================================================================

// ActorContext identifies the authenticated user performing a ledger call.
type ActorContext struct {
	UserID string
	Role   string
}

// System is the actor used for invoices raised by collaborator events.
var System = ActorContext{UserID: "system", Role: "system"}

// =============================================================================
// INVOICE
// =============================================================================

type FeeType string

const (
	FeeClass        FeeType = "class"
	FeeRegistration FeeType = "registration"
	FeeGraduation   FeeType = "graduation"
	FeeOther        FeeType = "other"
)

func (f FeeType) Valid() bool {
	switch f {
	case FeeClass, FeeRegistration, FeeGraduation, FeeOther:
		return true
	}
	return false
}

// Invoice is a billable obligation. Invoices are never deleted.
//
// SessionID is empty for non-class fees. For class fees at most one invoice
// exists per (StudentID, SessionID).
type Invoice struct {
	ID             InvoiceID
	StudentID      string
	SessionID      string
	FeeType        FeeType
	Description    string
	AmountDue      decimal.Decimal
	InvoiceDate    time.Time
	IdempotencyKey string
	CreatedBy      string
	CreatedAt      time.Time
}

// =============================================================================
// DEBT
// =============================================================================

// Debt mirrors an invoice and accumulates what has been paid against it.
//
// INVARIANT: Cleared == AmountPaid >= AmountDue
type Debt struct {
	InvoiceID  InvoiceID
	StudentID  string
	AmountDue  decimal.Decimal
	AmountPaid decimal.Decimal
	DebtDate   time.Time
	Cleared    bool
}

// Remaining returns AmountDue - AmountPaid. It is negative when the debt has
// been over-applied.
func (d Debt) Remaining() decimal.Decimal { return d.AmountDue.Sub(d.AmountPaid) }

// Outstanding returns the unpaid amount, never below zero.
func (d Debt) Outstanding() decimal.Decimal {
	r := d.Remaining()
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

func (d Debt) IsOutstanding() bool { return !d.Cleared && d.Remaining().IsPositive() }

// OutstandingDebt pairs a debt with its invoice for oldest-first walks.
type OutstandingDebt struct {
	Invoice Invoice
	Debt    Debt
}

// =============================================================================
// PAYMENT
// =============================================================================

type Purpose string

const (
	PurposeClassFees    Purpose = "Class Fees"
	PurposeRegistration Purpose = "Registration Fee"
	PurposeGraduation   Purpose = "Graduation Fee"
	PurposeAnyOther     Purpose = "Any Other"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeClassFees, PurposeRegistration, PurposeGraduation, PurposeAnyOther:
		return true
	}
	return false
}

type PaymentMode string

const (
	ModeCash         PaymentMode = "Cash"
	ModeMobileMoney  PaymentMode = "Mobile Money"
	ModeBankTransfer PaymentMode = "Bank Transfer"
	ModeCheque       PaymentMode = "Cheque"
)

func (m PaymentMode) Valid() bool {
	switch m {
	case ModeCash, ModeMobileMoney, ModeBankTransfer, ModeCheque:
		return true
	}
	return false
}

// PaymentFlags tag a payment as banked ahead of any invoice (IsPrepayment)
// or drawn down from prepaid balance (FromBalance). Never both.
type PaymentFlags struct {
	IsPrepayment bool
	FromBalance  bool
}

// Payment is one recorded transfer of money. Immutable once created;
// corrections are new payments.
//
// InvoiceID is zero when the payment is not linked to an invoice.
type Payment struct {
	ID           PaymentID
	StudentID    string
	InvoiceID    InvoiceID
	AmountPaid   decimal.Decimal
	Mode         PaymentMode
	Purpose      Purpose
	Description  string
	IsPrepayment bool
	FromBalance  bool
	PaymentDate  time.Time
	RecordedBy   string
	BatchID      string // groups the payments created by one RecordPayment call
	CreatedAt    time.Time
}

func (p Payment) Linked() bool { return p.InvoiceID != 0 }

// BalanceEffect is how much this payment reduces the student's balance.
// Redemptions only move prepaid money, so they have no effect.
func (p Payment) BalanceEffect() decimal.Decimal {
	if p.FromBalance {
		return decimal.Zero
	}
	return p.AmountPaid
}

// =============================================================================
// RECEIPT
// =============================================================================

// Receipt snapshots the balance before and after a single payment.
type Receipt struct {
	PaymentID PaymentID
	Number    string
	BalanceBF decimal.Decimal
	BalanceCF decimal.Decimal
	IssuedAt  time.Time
}

// PaymentWithReceipt is the read-model returned to callers and printers.
type PaymentWithReceipt struct {
	Payment Payment
	Receipt Receipt
}

// =============================================================================
// REQUESTS
// =============================================================================

// InvoiceRequest asks the InvoiceIssuer to bill a student.
type InvoiceRequest struct {
	StudentID      string
	SessionID      string
	FeeType        FeeType
	Description    string
	Amount         decimal.Decimal
	Date           time.Time
	IdempotencyKey string
}

// PaymentRequest is an incoming amount to be recorded for a student.
//
// LinkedInvoiceID or SessionID pin the payment to one invoice. When neither is
// set, "Class Fees" payments are spread oldest-first over outstanding debts.
type PaymentRequest struct {
	StudentID       string
	Amount          decimal.Decimal
	Mode            PaymentMode
	Purpose         Purpose
	Description     string
	Flags           PaymentFlags
	LinkedInvoiceID InvoiceID
	SessionID       string
	PaymentDate     time.Time
}
