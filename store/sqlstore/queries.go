package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/tuition-ledger/ledger"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type reader struct {
	q querier
	d Dialect
}

func (r reader) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.d.Rebind(query), args...)
}

func (r reader) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.d.Rebind(query), args...)
}

func (r reader) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.d.Rebind(query), args...)
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, student_id, session_id, fee_type, description, amount_due,
	invoice_date, idempotency_key, created_by, created_at`

func scanInvoice(row interface{ Scan(...any) error }) (ledger.Invoice, error) {
	var (
		inv              ledger.Invoice
		sessionID, key   sql.NullString
		feeType, created string
	)
	err := row.Scan(&inv.ID, &inv.StudentID, &sessionID, &feeType, &inv.Description, &inv.AmountDue,
		&inv.InvoiceDate, &key, &created, &inv.CreatedAt)
	if err != nil {
		return ledger.Invoice{}, err
	}
	inv.SessionID = sessionID.String
	inv.IdempotencyKey = key.String
	inv.FeeType = ledger.FeeType(feeType)
	inv.CreatedBy = created
	inv.InvoiceDate = inv.InvoiceDate.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	return inv, nil
}

func (r reader) Invoice(ctx context.Context, id ledger.InvoiceID) (ledger.Invoice, error) {
	inv, err := scanInvoice(r.queryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Invoice{}, ledger.ErrInvoiceNotFound
	}
	if err != nil {
		return ledger.Invoice{}, fmt.Errorf("failed to load invoice %s: %w", id, err)
	}
	return inv, nil
}

func (r reader) InvoiceBySession(ctx context.Context, studentID, sessionID string) (ledger.Invoice, bool, error) {
	return r.optionalInvoice(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE student_id = ? AND session_id = ?`,
		studentID, sessionID)
}

func (r reader) InvoiceByKey(ctx context.Context, studentID, key string) (ledger.Invoice, bool, error) {
	return r.optionalInvoice(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE student_id = ? AND idempotency_key = ?`,
		studentID, key)
}

func (r reader) optionalInvoice(ctx context.Context, query string, args ...any) (ledger.Invoice, bool, error) {
	inv, err := scanInvoice(r.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Invoice{}, false, nil
	}
	if err != nil {
		return ledger.Invoice{}, false, fmt.Errorf("failed to look up invoice: %w", err)
	}
	return inv, true, nil
}

func (r reader) InvoicesByStudent(ctx context.Context, studentID string) ([]ledger.Invoice, error) {
	rows, err := r.query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE student_id = ? ORDER BY id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []ledger.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// =============================================================================
// DEBTS
// =============================================================================

const debtColumns = `invoice_id, student_id, amount_due, amount_paid, debt_date, cleared`

func scanDebt(row interface{ Scan(...any) error }) (ledger.Debt, error) {
	var d ledger.Debt
	if err := row.Scan(&d.InvoiceID, &d.StudentID, &d.AmountDue, &d.AmountPaid, &d.DebtDate, &d.Cleared); err != nil {
		return ledger.Debt{}, err
	}
	d.DebtDate = d.DebtDate.UTC()
	return d, nil
}

func (r reader) Debt(ctx context.Context, invoiceID ledger.InvoiceID) (ledger.Debt, error) {
	d, err := scanDebt(r.queryRow(ctx, `SELECT `+debtColumns+` FROM debts WHERE invoice_id = ?`, invoiceID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Debt{}, ledger.ErrDebtNotFound
	}
	if err != nil {
		return ledger.Debt{}, fmt.Errorf("failed to load debt %s: %w", invoiceID, err)
	}
	return d, nil
}

func (r reader) DebtsByStudent(ctx context.Context, studentID string) ([]ledger.Debt, error) {
	rows, err := r.query(ctx, `SELECT `+debtColumns+` FROM debts WHERE student_id = ? ORDER BY invoice_id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query debts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, student_id, invoice_id, amount_paid, mode, purpose, description,
	is_prepayment, from_balance, payment_date, recorded_by, batch_id, created_at`

func scanPayment(row interface{ Scan(...any) error }) (ledger.Payment, error) {
	var (
		p             ledger.Payment
		invoiceID     sql.NullInt64
		mode, purpose string
	)
	err := row.Scan(&p.ID, &p.StudentID, &invoiceID, &p.AmountPaid, &mode, &purpose, &p.Description,
		&p.IsPrepayment, &p.FromBalance, &p.PaymentDate, &p.RecordedBy, &p.BatchID, &p.CreatedAt)
	if err != nil {
		return ledger.Payment{}, err
	}
	p.InvoiceID = ledger.InvoiceID(invoiceID.Int64)
	p.Mode = ledger.PaymentMode(mode)
	p.Purpose = ledger.Purpose(purpose)
	p.PaymentDate = p.PaymentDate.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (r reader) Payment(ctx context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	p, err := scanPayment(r.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Payment{}, ledger.ErrPaymentNotFound
	}
	if err != nil {
		return ledger.Payment{}, fmt.Errorf("failed to load payment %s: %w", id, err)
	}
	return p, nil
}

func (r reader) PaymentsByStudent(ctx context.Context, studentID string) ([]ledger.Payment, error) {
	rows, err := r.query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE student_id = ? ORDER BY id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// RECEIPTS
// =============================================================================

const receiptColumns = `payment_id, receipt_number, balance_bf, balance_cf, issued_at`

func scanReceipt(row interface{ Scan(...any) error }) (ledger.Receipt, error) {
	var rc ledger.Receipt
	if err := row.Scan(&rc.PaymentID, &rc.Number, &rc.BalanceBF, &rc.BalanceCF, &rc.IssuedAt); err != nil {
		return ledger.Receipt{}, err
	}
	rc.IssuedAt = rc.IssuedAt.UTC()
	return rc, nil
}

func (r reader) Receipt(ctx context.Context, paymentID ledger.PaymentID) (ledger.Receipt, error) {
	rc, err := scanReceipt(r.queryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE payment_id = ?`, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Receipt{}, ledger.ErrReceiptNotFound
	}
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to load receipt %s: %w", paymentID, err)
	}
	return rc, nil
}

func (r reader) ReceiptsByStudent(ctx context.Context, studentID string) ([]ledger.Receipt, error) {
	rows, err := r.query(ctx, `
		SELECT r.payment_id, r.receipt_number, r.balance_bf, r.balance_cf, r.issued_at
		FROM receipts r JOIN payments p ON p.id = r.payment_id
		WHERE p.student_id = ?
		ORDER BY r.payment_id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL WRITES (ledger.Tx)
// =============================================================================

// txStore wraps a *sql.Tx. Reads see the transaction's own writes.
type txStore struct {
	reader
}

func (ts *txStore) InsertInvoice(ctx context.Context, inv ledger.Invoice) (ledger.Invoice, error) {
	var id int64
	err := ts.queryRow(ctx, `
		INSERT INTO invoices
		(student_id, session_id, fee_type, description, amount_due, invoice_date,
		 idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		inv.StudentID,
		nullString(inv.SessionID),
		string(inv.FeeType),
		inv.Description,
		inv.AmountDue,
		inv.InvoiceDate.UTC(),
		nullString(inv.IdempotencyKey),
		inv.CreatedBy,
		inv.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		err = ts.d.Classify(err)
		if errors.Is(err, ErrUniqueViolation) {
			return ledger.Invoice{}, ledger.ErrDuplicateInvoice
		}
		return ledger.Invoice{}, fmt.Errorf("failed to insert invoice: %w", err)
	}
	inv.ID = ledger.InvoiceID(id)
	return inv, nil
}

func (ts *txStore) InsertDebt(ctx context.Context, d ledger.Debt) error {
	_, err := ts.exec(ctx, `
		INSERT INTO debts (invoice_id, student_id, amount_due, amount_paid, debt_date, cleared)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.InvoiceID, d.StudentID, d.AmountDue, d.AmountPaid, d.DebtDate.UTC(), d.Cleared)
	if err != nil {
		return fmt.Errorf("failed to insert debt: %w", ts.d.Classify(err))
	}
	return nil
}

func (ts *txStore) UpdateDebt(ctx context.Context, d ledger.Debt) error {
	res, err := ts.exec(ctx, `
		UPDATE debts SET amount_paid = ?, cleared = ? WHERE invoice_id = ?`,
		d.AmountPaid, d.Cleared, d.InvoiceID)
	if err != nil {
		return fmt.Errorf("failed to update debt: %w", ts.d.Classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrDebtNotFound
	}
	return nil
}

func (ts *txStore) InsertPayment(ctx context.Context, p ledger.Payment) (ledger.Payment, error) {
	var id int64
	err := ts.queryRow(ctx, `
		INSERT INTO payments
		(student_id, invoice_id, amount_paid, mode, purpose, description, is_prepayment,
		 from_balance, payment_date, recorded_by, batch_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		p.StudentID,
		nullInvoice(p.InvoiceID),
		p.AmountPaid,
		string(p.Mode),
		string(p.Purpose),
		p.Description,
		p.IsPrepayment,
		p.FromBalance,
		p.PaymentDate.UTC(),
		p.RecordedBy,
		p.BatchID,
		p.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return ledger.Payment{}, fmt.Errorf("failed to insert payment: %w", ts.d.Classify(err))
	}
	p.ID = ledger.PaymentID(id)
	return p, nil
}

func (ts *txStore) InsertReceipt(ctx context.Context, rc ledger.Receipt) error {
	_, err := ts.exec(ctx, `
		INSERT INTO receipts (payment_id, receipt_number, balance_bf, balance_cf, issued_at)
		VALUES (?, ?, ?, ?, ?)`,
		rc.PaymentID, rc.Number, rc.BalanceBF, rc.BalanceCF, rc.IssuedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", ts.d.Classify(err))
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInvoice(id ledger.InvoiceID) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(id), Valid: true}
}
