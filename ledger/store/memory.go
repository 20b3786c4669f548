// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/warp/tuition-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state memoryState

	settingsMu sync.RWMutex
	settings   map[string]string

	auditMu sync.Mutex
	audit   []ledger.AuditEvent
}

type memoryState struct {
	invoices map[ledger.InvoiceID]ledger.Invoice
	debts    map[ledger.InvoiceID]ledger.Debt
	payments map[ledger.PaymentID]ledger.Payment
	receipts map[ledger.PaymentID]ledger.Receipt

	nextInvoice ledger.InvoiceID
	nextPayment ledger.PaymentID
}

func NewMemory() *Memory {
	return &Memory{
		state: memoryState{
			invoices: make(map[ledger.InvoiceID]ledger.Invoice),
			debts:    make(map[ledger.InvoiceID]ledger.Debt),
			payments: make(map[ledger.PaymentID]ledger.Payment),
			receipts: make(map[ledger.PaymentID]ledger.Receipt),
		},
		settings: make(map[string]string),
	}
}

// snapshot copies the maps so a failed transaction can be restored.
func (s memoryState) snapshot() memoryState {
	return memoryState{
		invoices:    maps.Clone(s.invoices),
		debts:       maps.Clone(s.debts),
		payments:    maps.Clone(s.payments),
		receipts:    maps.Clone(s.receipts),
		nextInvoice: s.nextInvoice,
		nextPayment: s.nextPayment,
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithStudentTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store-wide lock also serializes every student.
func (m *Memory) WithStudentTx(ctx context.Context, studentID string, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.state.snapshot()
	view := &txView{state: &m.state}

	if err := fn(view); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// =============================================================================
// READS (outside a transaction)
// =============================================================================

func (m *Memory) read() (*memoryState, func()) {
	m.mu.RLock()
	return &m.state, m.mu.RUnlock
}

func (m *Memory) Invoice(_ context.Context, id ledger.InvoiceID) (ledger.Invoice, error) {
	s, done := m.read()
	defer done()
	return s.invoice(id)
}

func (m *Memory) InvoiceBySession(_ context.Context, studentID, sessionID string) (ledger.Invoice, bool, error) {
	s, done := m.read()
	defer done()
	inv, ok := s.invoiceBySession(studentID, sessionID)
	return inv, ok, nil
}

func (m *Memory) InvoiceByKey(_ context.Context, studentID, key string) (ledger.Invoice, bool, error) {
	s, done := m.read()
	defer done()
	inv, ok := s.invoiceByKey(studentID, key)
	return inv, ok, nil
}

func (m *Memory) InvoicesByStudent(_ context.Context, studentID string) ([]ledger.Invoice, error) {
	s, done := m.read()
	defer done()
	return s.invoicesByStudent(studentID), nil
}

func (m *Memory) Debt(_ context.Context, invoiceID ledger.InvoiceID) (ledger.Debt, error) {
	s, done := m.read()
	defer done()
	return s.debt(invoiceID)
}

func (m *Memory) DebtsByStudent(_ context.Context, studentID string) ([]ledger.Debt, error) {
	s, done := m.read()
	defer done()
	return s.debtsByStudent(studentID), nil
}

func (m *Memory) Payment(_ context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	s, done := m.read()
	defer done()
	return s.payment(id)
}

func (m *Memory) PaymentsByStudent(_ context.Context, studentID string) ([]ledger.Payment, error) {
	s, done := m.read()
	defer done()
	return s.paymentsByStudent(studentID), nil
}

func (m *Memory) Receipt(_ context.Context, paymentID ledger.PaymentID) (ledger.Receipt, error) {
	s, done := m.read()
	defer done()
	return s.receipt(paymentID)
}

func (m *Memory) ReceiptsByStudent(_ context.Context, studentID string) ([]ledger.Receipt, error) {
	s, done := m.read()
	defer done()
	return s.receiptsByStudent(studentID), nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView is handed to WithStudentTx callbacks. The store lock is already
// held, so it reads and writes state directly.
type txView struct {
	state *memoryState
}

func (tv *txView) Invoice(_ context.Context, id ledger.InvoiceID) (ledger.Invoice, error) {
	return tv.state.invoice(id)
}

func (tv *txView) InvoiceBySession(_ context.Context, studentID, sessionID string) (ledger.Invoice, bool, error) {
	inv, ok := tv.state.invoiceBySession(studentID, sessionID)
	return inv, ok, nil
}

func (tv *txView) InvoiceByKey(_ context.Context, studentID, key string) (ledger.Invoice, bool, error) {
	inv, ok := tv.state.invoiceByKey(studentID, key)
	return inv, ok, nil
}

func (tv *txView) InvoicesByStudent(_ context.Context, studentID string) ([]ledger.Invoice, error) {
	return tv.state.invoicesByStudent(studentID), nil
}

func (tv *txView) Debt(_ context.Context, invoiceID ledger.InvoiceID) (ledger.Debt, error) {
	return tv.state.debt(invoiceID)
}

func (tv *txView) DebtsByStudent(_ context.Context, studentID string) ([]ledger.Debt, error) {
	return tv.state.debtsByStudent(studentID), nil
}

func (tv *txView) Payment(_ context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	return tv.state.payment(id)
}

func (tv *txView) PaymentsByStudent(_ context.Context, studentID string) ([]ledger.Payment, error) {
	return tv.state.paymentsByStudent(studentID), nil
}

func (tv *txView) Receipt(_ context.Context, paymentID ledger.PaymentID) (ledger.Receipt, error) {
	return tv.state.receipt(paymentID)
}

func (tv *txView) ReceiptsByStudent(_ context.Context, studentID string) ([]ledger.Receipt, error) {
	return tv.state.receiptsByStudent(studentID), nil
}

func (tv *txView) InsertInvoice(_ context.Context, inv ledger.Invoice) (ledger.Invoice, error) {
	s := tv.state
	if inv.SessionID != "" {
		if _, ok := s.invoiceBySession(inv.StudentID, inv.SessionID); ok {
			return ledger.Invoice{}, ledger.ErrDuplicateInvoice
		}
	}
	if inv.IdempotencyKey != "" {
		if _, ok := s.invoiceByKey(inv.StudentID, inv.IdempotencyKey); ok {
			return ledger.Invoice{}, ledger.ErrDuplicateInvoice
		}
	}
	s.nextInvoice++
	inv.ID = s.nextInvoice
	s.invoices[inv.ID] = inv
	return inv, nil
}

func (tv *txView) InsertDebt(_ context.Context, d ledger.Debt) error {
	if _, ok := tv.state.invoices[d.InvoiceID]; !ok {
		return ledger.ErrInvoiceNotFound
	}
	tv.state.debts[d.InvoiceID] = d
	return nil
}

func (tv *txView) UpdateDebt(_ context.Context, d ledger.Debt) error {
	if _, ok := tv.state.debts[d.InvoiceID]; !ok {
		return ledger.ErrDebtNotFound
	}
	tv.state.debts[d.InvoiceID] = d
	return nil
}

func (tv *txView) InsertPayment(_ context.Context, p ledger.Payment) (ledger.Payment, error) {
	if p.Linked() {
		if _, ok := tv.state.invoices[p.InvoiceID]; !ok {
			return ledger.Payment{}, ledger.ErrInvoiceNotFound
		}
	}
	tv.state.nextPayment++
	p.ID = tv.state.nextPayment
	tv.state.payments[p.ID] = p
	return p, nil
}

func (tv *txView) InsertReceipt(_ context.Context, r ledger.Receipt) error {
	if _, ok := tv.state.payments[r.PaymentID]; !ok {
		return ledger.ErrPaymentNotFound
	}
	if _, ok := tv.state.receipts[r.PaymentID]; ok {
		return ErrDuplicateReceipt
	}
	tv.state.receipts[r.PaymentID] = r
	return nil
}

// =============================================================================
// STATE QUERIES (caller holds the lock)
// =============================================================================

func (s *memoryState) invoice(id ledger.InvoiceID) (ledger.Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return ledger.Invoice{}, ledger.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *memoryState) invoiceBySession(studentID, sessionID string) (ledger.Invoice, bool) {
	for _, inv := range s.invoices {
		if inv.StudentID == studentID && inv.SessionID == sessionID {
			return inv, true
		}
	}
	return ledger.Invoice{}, false
}

func (s *memoryState) invoiceByKey(studentID, key string) (ledger.Invoice, bool) {
	for _, inv := range s.invoices {
		if inv.StudentID == studentID && inv.IdempotencyKey == key {
			return inv, true
		}
	}
	return ledger.Invoice{}, false
}

func (s *memoryState) invoicesByStudent(studentID string) []ledger.Invoice {
	var out []ledger.Invoice
	for _, inv := range s.invoices {
		if inv.StudentID == studentID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryState) debt(invoiceID ledger.InvoiceID) (ledger.Debt, error) {
	d, ok := s.debts[invoiceID]
	if !ok {
		return ledger.Debt{}, ledger.ErrDebtNotFound
	}
	return d, nil
}

func (s *memoryState) debtsByStudent(studentID string) []ledger.Debt {
	var out []ledger.Debt
	for _, d := range s.debts {
		if d.StudentID == studentID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceID < out[j].InvoiceID })
	return out
}

func (s *memoryState) payment(id ledger.PaymentID) (ledger.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return ledger.Payment{}, ledger.ErrPaymentNotFound
	}
	return p, nil
}

func (s *memoryState) paymentsByStudent(studentID string) []ledger.Payment {
	var out []ledger.Payment
	for _, p := range s.payments {
		if p.StudentID == studentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryState) receipt(paymentID ledger.PaymentID) (ledger.Receipt, error) {
	r, ok := s.receipts[paymentID]
	if !ok {
		return ledger.Receipt{}, ledger.ErrReceiptNotFound
	}
	return r, nil
}

func (s *memoryState) receiptsByStudent(studentID string) []ledger.Receipt {
	var out []ledger.Receipt
	for id, r := range s.receipts {
		if s.payments[id].StudentID == studentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentID < out[j].PaymentID })
	return out
}
