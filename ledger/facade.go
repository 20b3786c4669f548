/*
facade.go - The single transaction boundary exposed to callers

PURPOSE:
  Facade orchestrates InvoiceIssuer, BalanceCalculator, PaymentAllocator,
  DebtTracker and ReceiptIssuer under one transaction per call. It is what
  the attendance module, the enrollment module and the manual payment
  screen talk to.

PAYMENT RECORDING STAGES:
  Validating -> Allocating -> DebtUpdating -> ReceiptIssuing -> Committed
  Any failure moves to RolledBack. No partial commits: every Payment, Debt
  change and Receipt written for one incoming amount lands in the same
  transaction.

PER-STUDENT SERIALIZATION:
  Two payments for the same student must not both read the same balance and
  both settle the same oldest debt. Every mutating call takes the student's
  in-process lock and then runs inside Store.WithStudentTx, which holds the
  store's own per-student lock (advisory lock on PostgreSQL). A store that
  still detects a conflict returns ErrConcurrencyConflict; the call is
  retried up to MaxRetries times and then surfaced.

AUDIT:
  Audit events are collected while the transaction runs and emitted only
  after it commits. A failing sink is logged, never turned into a failed
  call: the money has already moved.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// STAGES
// =============================================================================

type Stage string

const (
	StageValidating     Stage = "validating"
	StageAllocating     Stage = "allocating"
	StageDebtUpdating   Stage = "debt_updating"
	StageReceiptIssuing Stage = "receipt_issuing"
	StageCommitted      Stage = "committed"
	StageRolledBack     Stage = "rolled_back"
)

// =============================================================================
// OPTIONS
// =============================================================================

type Option func(*Facade)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Facade) { f.logger = logger }
}

func WithAuditSink(sink AuditSink) Option {
	return func(f *Facade) { f.audit = sink }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

func WithReceiptPrefix(prefix string) Option {
	return func(f *Facade) { f.receipts.Prefix = prefix }
}

func WithMaxRetries(n int) Option {
	return func(f *Facade) { f.maxRetries = n }
}

// WithLegacyUnlinkedClassFees records unpinned "Class Fees" payments as a
// single unlinked payment instead of settling debts oldest-first.
func WithLegacyUnlinkedClassFees(enabled bool) Option {
	return func(f *Facade) { f.allocator.LegacyUnlinkedClassFees = enabled }
}

// =============================================================================
// FACADE
// =============================================================================

type Facade struct {
	store Store

	invoices  *InvoiceIssuer
	balance   *BalanceCalculator
	debts     *DebtTracker
	allocator *PaymentAllocator
	receipts  *ReceiptIssuer

	audit        AuditSink
	logger       *zap.Logger
	now          func() time.Time
	maxRetries   int
	retryBackoff time.Duration

	locks studentLocks
}

func NewFacade(store Store, opts ...Option) *Facade {
	balance := &BalanceCalculator{}
	debts := &DebtTracker{}
	f := &Facade{
		store:        store,
		invoices:     &InvoiceIssuer{},
		balance:      balance,
		debts:        debts,
		allocator:    &PaymentAllocator{Debts: debts, Balance: balance},
		receipts:     &ReceiptIssuer{Prefix: DefaultReceiptPrefix},
		logger:       zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
		maxRetries:   3,
		retryBackoff: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// PaymentResult is everything one RecordPayment call committed.
type PaymentResult struct {
	BatchID       string
	Payments      []PaymentWithReceipt
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	UpdatedDebts  []Debt
}

func requireActor(actor ActorContext) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return invalid("actor", "an authenticated actor is required")
	}
	return nil
}

// =============================================================================
// RECORD PAYMENT
// =============================================================================

// RecordPayment validates, allocates, updates debts and issues receipts for
// one incoming amount, all in one transaction.
func (f *Facade) RecordPayment(ctx context.Context, actor ActorContext, req PaymentRequest) (PaymentResult, error) {
	log := f.logger.With(
		zap.String("student_id", req.StudentID),
		zap.String("actor_id", actor.UserID),
		zap.Stringer("amount", req.Amount),
		zap.String("purpose", string(req.Purpose)),
	)

	if err := requireActor(actor); err != nil {
		return PaymentResult{}, err
	}
	if err := ValidatePaymentRequest(req); err != nil {
		log.Debug("payment rejected", zap.String("stage", string(StageValidating)), zap.Error(err))
		return PaymentResult{}, err
	}
	if req.PaymentDate.IsZero() {
		req.PaymentDate = f.now()
	}

	var (
		result PaymentResult
		events []AuditEvent
		stage  = StageValidating
	)
	err := f.withStudent(ctx, req.StudentID, func(tx Tx) error {
		rec := &recording{f: f, tx: tx, actor: actor, req: req}
		err := rec.run(ctx)
		result, events, stage = rec.result, rec.events, rec.stage
		return err
	})
	if err != nil {
		log.Warn("payment rolled back",
			zap.String("failed_stage", string(stage)),
			zap.String("stage", string(StageRolledBack)),
			zap.Error(err))
		return PaymentResult{}, fmt.Errorf("record payment (%s): %w", stage, err)
	}

	log.Info("payment committed",
		zap.String("stage", string(StageCommitted)),
		zap.String("batch_id", result.BatchID),
		zap.Int("payments", len(result.Payments)),
		zap.Stringer("balance_bf", result.BalanceBefore),
		zap.Stringer("balance_cf", result.BalanceAfter))
	f.emit(ctx, events)
	return result, nil
}

// recording carries one RecordPayment attempt through its stages.
type recording struct {
	f     *Facade
	tx    Tx
	actor ActorContext
	req   PaymentRequest

	stage  Stage
	result PaymentResult
	events []AuditEvent
}

func (r *recording) run(ctx context.Context) error {
	f := r.f
	now := f.now()

	r.stage = StageValidating
	balanceBF, err := f.balance.BalanceBeforePayment(ctx, r.tx, r.req.StudentID)
	if err != nil {
		return err
	}

	r.stage = StageAllocating
	plan, err := f.allocator.Allocate(ctx, r.tx, r.req)
	if err != nil {
		return err
	}

	batchID := uuid.NewString()
	payments := make([]Payment, 0, len(plan))
	for _, a := range plan {
		p, err := r.tx.InsertPayment(ctx, Payment{
			StudentID:    r.req.StudentID,
			InvoiceID:    a.InvoiceID,
			AmountPaid:   a.Amount,
			Mode:         r.req.Mode,
			Purpose:      r.req.Purpose,
			Description:  r.req.Description,
			IsPrepayment: a.IsPrepayment,
			FromBalance:  a.FromBalance,
			PaymentDate:  r.req.PaymentDate,
			RecordedBy:   r.actor.UserID,
			BatchID:      batchID,
			CreatedAt:    now,
		})
		if err != nil {
			return &PersistenceError{Op: "insert payment", Err: err}
		}
		payments = append(payments, p)
		r.audit(now, AuditPaymentRecorded, "payments", p.ID.String(), paymentDetails(p))
	}

	r.stage = StageDebtUpdating
	var updated []Debt
	for _, p := range payments {
		if !p.Linked() {
			continue
		}
		d, err := f.debts.ApplyToDebt(ctx, r.tx, p.InvoiceID, p.AmountPaid)
		if err != nil {
			return err
		}
		updated = append(updated, d)
		r.audit(now, AuditDebtUpdated, "debts", d.InvoiceID.String(), debtDetails(d))
	}

	r.stage = StageReceiptIssuing
	running := balanceBF
	out := make([]PaymentWithReceipt, 0, len(payments))
	for _, p := range payments {
		rc, err := f.receipts.IssueReceipt(p, running, now)
		if err != nil {
			return err
		}
		if err := r.tx.InsertReceipt(ctx, rc); err != nil {
			return &PersistenceError{Op: "insert receipt", Err: err}
		}
		running = rc.BalanceCF
		out = append(out, PaymentWithReceipt{Payment: p, Receipt: rc})
		r.audit(now, AuditReceiptIssued, "receipts", p.ID.String(), map[string]string{
			"receipt_number": rc.Number,
			"balance_bf":     rc.BalanceBF.StringFixed(2),
			"balance_cf":     rc.BalanceCF.StringFixed(2),
		})
	}

	r.result = PaymentResult{
		BatchID:       batchID,
		Payments:      out,
		BalanceBefore: balanceBF,
		BalanceAfter:  running,
		UpdatedDebts:  updated,
	}
	return nil
}

func (r *recording) audit(now time.Time, action AuditAction, table, recordID string, details map[string]string) {
	r.events = append(r.events, newAuditEvent(r.actor, action, table, recordID, r.req.StudentID, details, now))
}

// =============================================================================
// INVOICES
// =============================================================================

// IssueInvoice bills a student for one event. created is false when the
// event was already billed.
func (f *Facade) IssueInvoice(ctx context.Context, actor ActorContext, req InvoiceRequest) (Invoice, bool, error) {
	if err := requireActor(actor); err != nil {
		return Invoice{}, false, err
	}
	if err := ValidateInvoiceRequest(req); err != nil {
		return Invoice{}, false, err
	}

	var (
		inv     Invoice
		debt    Debt
		created bool
	)
	err := f.withStudent(ctx, req.StudentID, func(tx Tx) error {
		var err error
		inv, debt, created, err = f.invoices.IssueInvoice(ctx, tx, actor, req, f.now())
		return err
	})
	if err != nil {
		f.logger.Warn("invoice rolled back",
			zap.String("student_id", req.StudentID),
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		return Invoice{}, false, fmt.Errorf("issue invoice: %w", err)
	}

	if !created {
		f.logger.Debug("invoice already issued",
			zap.String("student_id", inv.StudentID),
			zap.Int64("invoice_id", int64(inv.ID)))
		return inv, false, nil
	}

	f.logger.Info("invoice issued",
		zap.String("student_id", inv.StudentID),
		zap.Int64("invoice_id", int64(inv.ID)),
		zap.String("fee_type", string(inv.FeeType)),
		zap.Stringer("amount_due", inv.AmountDue))

	now := f.now()
	f.emit(ctx, []AuditEvent{
		newAuditEvent(actor, AuditInvoiceCreated, "invoices", inv.ID.String(), inv.StudentID, invoiceDetails(inv), now),
		newAuditEvent(actor, AuditDebtCreated, "debts", debt.InvoiceID.String(), inv.StudentID, debtDetails(debt), now),
	})
	return inv, true, nil
}

// =============================================================================
// READ MODELS
// =============================================================================

// StudentBalance returns what the student owes (positive) or has prepaid
// (negative).
func (f *Facade) StudentBalance(ctx context.Context, studentID string) (decimal.Decimal, error) {
	return f.balance.BalanceBeforePayment(ctx, f.store, studentID)
}

func (f *Facade) BalanceSummary(ctx context.Context, studentID string) (BalanceSummary, error) {
	return f.balance.Summary(ctx, f.store, studentID)
}

// OutstandingDebts returns unpaid debts, oldest first.
func (f *Facade) OutstandingDebts(ctx context.Context, studentID string) ([]OutstandingDebt, error) {
	return f.debts.OutstandingForStudent(ctx, f.store, studentID)
}

// ReceiptFor returns a payment together with its receipt.
func (f *Facade) ReceiptFor(ctx context.Context, paymentID PaymentID) (PaymentWithReceipt, error) {
	p, err := f.store.Payment(ctx, paymentID)
	if err != nil {
		return PaymentWithReceipt{}, err
	}
	rc, err := f.store.Receipt(ctx, paymentID)
	if err != nil {
		return PaymentWithReceipt{}, err
	}
	return PaymentWithReceipt{Payment: p, Receipt: rc}, nil
}

// IsClear reports whether the student owes nothing: no outstanding debt and
// a balance at or below zero. Used for graduation readiness.
func (f *Facade) IsClear(ctx context.Context, studentID string) (bool, error) {
	bal, err := f.StudentBalance(ctx, studentID)
	if err != nil {
		return false, err
	}
	if bal.IsPositive() {
		return false, nil
	}
	outstanding, err := f.OutstandingDebts(ctx, studentID)
	if err != nil {
		return false, err
	}
	return len(outstanding) == 0, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// withStudent serializes fn per student and retries on concurrency conflicts.
func (f *Facade) withStudent(ctx context.Context, studentID string, fn func(Tx) error) error {
	unlock := f.locks.lock(studentID)
	defer unlock()

	var err error
	for attempt := 0; ; attempt++ {
		err = f.store.WithStudentTx(ctx, studentID, fn)
		if err == nil || !IsRetryable(err) || attempt >= f.maxRetries {
			return err
		}
		f.logger.Debug("retrying after concurrency conflict",
			zap.String("student_id", studentID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(f.retryBackoff * time.Duration(attempt+1)):
		}
	}
}

func (f *Facade) emit(ctx context.Context, events []AuditEvent) {
	if f.audit == nil || len(events) == 0 {
		return
	}
	if err := f.audit.Emit(ctx, events); err != nil {
		f.logger.Error("audit emit failed", zap.Int("events", len(events)), zap.Error(err))
	}
}

func newAuditEvent(actor ActorContext, action AuditAction, table, recordID, studentID string, details map[string]string, now time.Time) AuditEvent {
	return AuditEvent{
		ID:        uuid.NewString(),
		ActorID:   actor.UserID,
		Action:    action,
		TableName: table,
		RecordID:  recordID,
		StudentID: studentID,
		Details:   details,
		Timestamp: now,
	}
}

func invoiceDetails(inv Invoice) map[string]string {
	return map[string]string{
		"session_id": inv.SessionID,
		"fee_type":   string(inv.FeeType),
		"amount_due": inv.AmountDue.StringFixed(2),
		"date":       inv.InvoiceDate.Format(time.DateOnly),
	}
}

func debtDetails(d Debt) map[string]string {
	return map[string]string{
		"amount_due":  d.AmountDue.StringFixed(2),
		"amount_paid": d.AmountPaid.StringFixed(2),
		"cleared":     strconv.FormatBool(d.Cleared),
	}
}

func paymentDetails(p Payment) map[string]string {
	return map[string]string{
		"invoice_id":    p.InvoiceID.String(),
		"amount_paid":   p.AmountPaid.StringFixed(2),
		"mode":          string(p.Mode),
		"purpose":       string(p.Purpose),
		"is_prepayment": strconv.FormatBool(p.IsPrepayment),
		"from_balance":  strconv.FormatBool(p.FromBalance),
		"batch_id":      p.BatchID,
	}
}
