/*
store.go - Persistence interfaces for the ledger

PURPOSE:
  Defines the boundary between ledger logic and the database. Four record
  kinds are persisted: Invoice, Debt, Payment, Receipt. Invoice/Debt share a
  1:1 key, Payment/Receipt share a 1:1 key, Payment optionally references
  Invoice.

KEY INTERFACES:
  Reader:        Read-only queries, usable inside or outside a transaction
  Tx:            Writes, only available inside WithStudentTx
  Store:         Reader + per-student atomic read-modify-write transactions
  SettingsStore: Named configuration values ("Unit fees", "registration_fee")
  AuditLog:      Append-only audit events

WRITE CONTRACT:
  - Invoices, payments and receipts are insert-only.
  - Debts are the only mutable rows (AmountPaid / Cleared).
  - Nothing is ever deleted.

PER-STUDENT TRANSACTIONS:
  WithStudentTx(ctx, studentID, fn) runs fn in one database transaction and
  holds the student's lock for its whole duration. If fn returns an error,
  every write made through the Tx is rolled back.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and demos
  - store/sqlite: SQLite via database/sql
  - store/postgres: PostgreSQL via pgx, advisory lock per student
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Reader is the read side of the ledger store.
type Reader interface {
	Invoice(ctx context.Context, id InvoiceID) (Invoice, error)
	InvoiceBySession(ctx context.Context, studentID, sessionID string) (Invoice, bool, error)
	InvoiceByKey(ctx context.Context, studentID, idempotencyKey string) (Invoice, bool, error)
	InvoicesByStudent(ctx context.Context, studentID string) ([]Invoice, error)

	Debt(ctx context.Context, invoiceID InvoiceID) (Debt, error)
	DebtsByStudent(ctx context.Context, studentID string) ([]Debt, error)

	Payment(ctx context.Context, id PaymentID) (Payment, error)
	PaymentsByStudent(ctx context.Context, studentID string) ([]Payment, error)

	Receipt(ctx context.Context, paymentID PaymentID) (Receipt, error)
	ReceiptsByStudent(ctx context.Context, studentID string) ([]Receipt, error)
}

// Tx is the write side, valid only inside WithStudentTx.
type Tx interface {
	Reader

	// InsertInvoice assigns the invoice ID. Returns ErrDuplicateInvoice when
	// the (student, session) or (student, idempotency key) pair exists.
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	InsertDebt(ctx context.Context, d Debt) error
	UpdateDebt(ctx context.Context, d Debt) error

	// InsertPayment assigns the payment ID.
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	InsertReceipt(ctx context.Context, r Receipt) error
}

// Store handles persistence of ledger records.
type Store interface {
	Reader

	// WithStudentTx executes fn within a transaction serialized per student.
	// If fn returns error, transaction is rolled back.
	WithStudentTx(ctx context.Context, studentID string, fn func(Tx) error) error
}

// StudentDirectory lists every student with ledger history. Used by the
// reconciliation sweep.
type StudentDirectory interface {
	Students(ctx context.Context) ([]string, error)
}

// =============================================================================
// SETTINGS - Named configuration values
// =============================================================================

// SettingsStore provides string-keyed configuration values. Callers parse
// the values; absent names are reported with found=false.
type SettingsStore interface {
	GetSetting(ctx context.Context, name string) (value string, found bool, err error)
	PutSetting(ctx context.Context, name, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

// AuditEvent records a single change to a ledger table.
type AuditEvent struct {
	ID        string
	ActorID   string
	Action    AuditAction
	TableName string
	RecordID  string
	StudentID string
	Details   map[string]string
	Timestamp time.Time
}

type AuditAction string

const (
	AuditInvoiceCreated  AuditAction = "invoice_created"
	AuditDebtCreated     AuditAction = "debt_created"
	AuditDebtUpdated     AuditAction = "debt_updated"
	AuditPaymentRecorded AuditAction = "payment_recorded"
	AuditReceiptIssued   AuditAction = "receipt_issued"
)

// AuditSink receives audit events after a ledger call commits.
type AuditSink interface {
	Emit(ctx context.Context, events []AuditEvent) error
}

// AuditLog stores audit events. Also append-only.
type AuditLog interface {
	AuditSink
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

type AuditFilter struct {
	StudentID string
	ActorID   string
	TableName string
	Limit     int
}
