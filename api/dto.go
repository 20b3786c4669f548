/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings ("1600.00"). Requests also accept bare
  JSON numbers; shopspring/decimal parses both without going through float64.

DATES:
  Request dates are ISO dates (YYYY-MM-DD). Responses use RFC 3339.

VALIDATION:
  Struct tags are checked with go-playground/validator before the request
  reaches the ledger. Business rules (positive amounts, known purposes,
  flag combinations) stay in the ledger package so every caller gets them.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/tuition-ledger/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUESTS
// =============================================================================

// RecordPaymentRequest is the body of POST /api/students/{id}/payments.
type RecordPaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Mode            string          `json:"mode" validate:"required"`
	Purpose         string          `json:"purpose" validate:"required"`
	Description     string          `json:"description" validate:"max=255"`
	IsPrepayment    bool            `json:"is_prepayment"`
	FromBalance     bool            `json:"from_balance"`
	LinkedInvoiceID int64           `json:"linked_invoice_id" validate:"gte=0"`
	SessionID       string          `json:"session_id" validate:"max=64"`
	PaymentDate     string          `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
}

// CreateInvoiceRequest is the body of POST /api/students/{id}/invoices.
type CreateInvoiceRequest struct {
	FeeType        string          `json:"fee_type" validate:"required,oneof=class registration graduation other"`
	SessionID      string          `json:"session_id" validate:"max=64"`
	Description    string          `json:"description" validate:"max=255"`
	Amount         decimal.Decimal `json:"amount"`
	Date           string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=128"`
}

// AttendanceRequest is the body of POST /api/events/attendance.
type AttendanceRequest struct {
	StudentID   string `json:"student_id" validate:"required,max=64"`
	SessionID   string `json:"session_id" validate:"required,max=64"`
	UnitID      string `json:"unit_id" validate:"max=64"`
	SessionDate string `json:"session_date" validate:"omitempty,datetime=2006-01-02"`
}

// EnrollmentRequest is the body of POST /api/events/enrollment.
type EnrollmentRequest struct {
	StudentID    string `json:"student_id" validate:"required,max=64"`
	AcademicYear int    `json:"academic_year" validate:"required,gte=2000,lte=2100"`
	EnrolledAt   string `json:"enrolled_at" validate:"omitempty,datetime=2006-01-02"`
}

// GraduationRequest is the body of POST /api/students/{id}/graduation.
type GraduationRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// PutSettingRequest is the body of PUT /api/settings/{name}.
type PutSettingRequest struct {
	Value string `json:"value" validate:"required"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type InvoiceDTO struct {
	ID             int64           `json:"id"`
	StudentID      string          `json:"student_id"`
	SessionID      string          `json:"session_id,omitempty"`
	FeeType        string          `json:"fee_type"`
	Description    string          `json:"description,omitempty"`
	AmountDue      decimal.Decimal `json:"amount_due"`
	InvoiceDate    string          `json:"invoice_date"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedBy      string          `json:"created_by"`
}

// InvoiceResponseDTO reports whether the call created the invoice or found
// an existing one for the same event.
type InvoiceResponseDTO struct {
	Invoice InvoiceDTO `json:"invoice"`
	Created bool       `json:"created"`
}

type DebtDTO struct {
	InvoiceID   int64           `json:"invoice_id"`
	SessionID   string          `json:"session_id,omitempty"`
	Description string          `json:"description,omitempty"`
	AmountDue   decimal.Decimal `json:"amount_due"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	DebtDate    string          `json:"debt_date"`
	Cleared     bool            `json:"cleared"`
}

type PaymentDTO struct {
	ID              int64           `json:"id"`
	StudentID       string          `json:"student_id"`
	LinkedInvoiceID int64           `json:"linked_invoice_id,omitempty"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	Mode            string          `json:"mode"`
	Purpose         string          `json:"purpose"`
	Description     string          `json:"description,omitempty"`
	IsPrepayment    bool            `json:"is_prepayment"`
	FromBalance     bool            `json:"from_balance"`
	PaymentDate     string          `json:"payment_date"`
	RecordedBy      string          `json:"recorded_by"`
	BatchID         string          `json:"batch_id"`
}

type ReceiptDTO struct {
	Number    string          `json:"number"`
	BalanceBF decimal.Decimal `json:"balance_bf"`
	BalanceCF decimal.Decimal `json:"balance_cf"`
	IssuedAt  string          `json:"issued_at"`
}

type PaymentWithReceiptDTO struct {
	Payment PaymentDTO `json:"payment"`
	Receipt ReceiptDTO `json:"receipt"`
}

type PaymentResultDTO struct {
	BatchID       string                  `json:"batch_id"`
	Payments      []PaymentWithReceiptDTO `json:"payments"`
	BalanceBefore decimal.Decimal         `json:"balance_before"`
	BalanceAfter  decimal.Decimal         `json:"balance_after"`
	UpdatedDebts  []DebtDTO               `json:"updated_debts"`
}

type BalanceDTO struct {
	StudentID        string          `json:"student_id"`
	Balance          decimal.Decimal `json:"balance"`
	TotalInvoiced    decimal.Decimal `json:"total_invoiced"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	TotalRedeemed    decimal.Decimal `json:"total_redeemed"`
	PrepaidAvailable decimal.Decimal `json:"prepaid_available"`
	Clear            bool            `json:"clear"`
}

type StatementLineDTO struct {
	Date          string          `json:"date"`
	Kind          string          `json:"kind"`
	Reference     string          `json:"reference"`
	Description   string          `json:"description,omitempty"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Running       decimal.Decimal `json:"running"`
	IsPrepayment  bool            `json:"is_prepayment,omitempty"`
	FromBalance   bool            `json:"from_balance,omitempty"`
	LinkedInvoice int64           `json:"linked_invoice,omitempty"`
}

type StatementDTO struct {
	StudentID   string             `json:"student_id"`
	Lines       []StatementLineDTO `json:"lines"`
	Balance     BalanceDTO         `json:"balance"`
	Outstanding []DebtDTO          `json:"outstanding"`
}

type ReconciliationDTO struct {
	StudentID        string          `json:"student_id"`
	Consistent       bool            `json:"consistent"`
	Balance          decimal.Decimal `json:"balance"`
	DebtRemaining    decimal.Decimal `json:"debt_remaining"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	UnlinkedCash     decimal.Decimal `json:"unlinked_cash"`
	Redeemed         decimal.Decimal `json:"redeemed"`
	Issues           []string        `json:"issues"`
}

type AuditEventDTO struct {
	ID        string            `json:"id"`
	ActorID   string            `json:"actor_id"`
	Action    string            `json:"action"`
	TableName string            `json:"table_name"`
	RecordID  string            `json:"record_id"`
	StudentID string            `json:"student_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioResponse struct {
	ScenarioID string     `json:"scenario_id"`
	StudentID  string     `json:"student_id"`
	Balance    BalanceDTO `json:"balance"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toInvoiceDTO(inv ledger.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:             int64(inv.ID),
		StudentID:      inv.StudentID,
		SessionID:      inv.SessionID,
		FeeType:        string(inv.FeeType),
		Description:    inv.Description,
		AmountDue:      inv.AmountDue,
		InvoiceDate:    inv.InvoiceDate.Format(time.RFC3339),
		IdempotencyKey: inv.IdempotencyKey,
		CreatedBy:      inv.CreatedBy,
	}
}

func toDebtDTO(d ledger.Debt) DebtDTO {
	return DebtDTO{
		InvoiceID:   int64(d.InvoiceID),
		AmountDue:   d.AmountDue,
		AmountPaid:  d.AmountPaid,
		Outstanding: d.Outstanding(),
		DebtDate:    d.DebtDate.Format(time.RFC3339),
		Cleared:     d.Cleared,
	}
}

func toOutstandingDTOs(debts []ledger.OutstandingDebt) []DebtDTO {
	out := make([]DebtDTO, len(debts))
	for i, od := range debts {
		dto := toDebtDTO(od.Debt)
		dto.SessionID = od.Invoice.SessionID
		dto.Description = od.Invoice.Description
		out[i] = dto
	}
	return out
}

func toPaymentWithReceiptDTO(pr ledger.PaymentWithReceipt) PaymentWithReceiptDTO {
	p, rc := pr.Payment, pr.Receipt
	return PaymentWithReceiptDTO{
		Payment: PaymentDTO{
			ID:              int64(p.ID),
			StudentID:       p.StudentID,
			LinkedInvoiceID: int64(p.InvoiceID),
			AmountPaid:      p.AmountPaid,
			Mode:            string(p.Mode),
			Purpose:         string(p.Purpose),
			Description:     p.Description,
			IsPrepayment:    p.IsPrepayment,
			FromBalance:     p.FromBalance,
			PaymentDate:     p.PaymentDate.Format(time.RFC3339),
			RecordedBy:      p.RecordedBy,
			BatchID:         p.BatchID,
		},
		Receipt: ReceiptDTO{
			Number:    rc.Number,
			BalanceBF: rc.BalanceBF,
			BalanceCF: rc.BalanceCF,
			IssuedAt:  rc.IssuedAt.Format(time.RFC3339),
		},
	}
}

func toPaymentResultDTO(res ledger.PaymentResult) PaymentResultDTO {
	dto := PaymentResultDTO{
		BatchID:       res.BatchID,
		Payments:      make([]PaymentWithReceiptDTO, len(res.Payments)),
		BalanceBefore: res.BalanceBefore,
		BalanceAfter:  res.BalanceAfter,
		UpdatedDebts:  make([]DebtDTO, len(res.UpdatedDebts)),
	}
	for i, pr := range res.Payments {
		dto.Payments[i] = toPaymentWithReceiptDTO(pr)
	}
	for i, d := range res.UpdatedDebts {
		dto.UpdatedDebts[i] = toDebtDTO(d)
	}
	return dto
}

func toBalanceDTO(s ledger.BalanceSummary, clear bool) BalanceDTO {
	return BalanceDTO{
		StudentID:        s.StudentID,
		Balance:          s.Balance,
		TotalInvoiced:    s.TotalInvoiced,
		TotalPaid:        s.TotalPaid,
		TotalRedeemed:    s.TotalRedeemed,
		PrepaidAvailable: s.PrepaidAvailable,
		Clear:            clear,
	}
}

func toStatementDTO(st ledger.Statement) StatementDTO {
	lines := make([]StatementLineDTO, len(st.Lines))
	for i, l := range st.Lines {
		lines[i] = StatementLineDTO{
			Date:          l.Date.Format(time.RFC3339),
			Kind:          string(l.Kind),
			Reference:     l.Reference,
			Description:   l.Description,
			Debit:         l.Debit,
			Credit:        l.Credit,
			Running:       l.Running,
			IsPrepayment:  l.IsPrepayment,
			FromBalance:   l.FromBalance,
			LinkedInvoice: int64(l.LinkedInvoice),
		}
	}
	clear := !st.Summary.Balance.IsPositive() && len(st.Outstanding) == 0
	return StatementDTO{
		StudentID:   st.StudentID,
		Lines:       lines,
		Balance:     toBalanceDTO(st.Summary, clear),
		Outstanding: toOutstandingDTOs(st.Outstanding),
	}
}

func toReconciliationDTO(r ledger.ReconciliationReport) ReconciliationDTO {
	issues := r.Issues
	if issues == nil {
		issues = []string{}
	}
	return ReconciliationDTO{
		StudentID:        r.StudentID,
		Consistent:       r.Consistent(),
		Balance:          r.Balance,
		DebtRemaining:    r.DebtRemaining,
		TotalOutstanding: r.TotalOutstanding,
		UnlinkedCash:     r.UnlinkedCash,
		Redeemed:         r.Redeemed,
		Issues:           issues,
	}
}

func toAuditEventDTO(e ledger.AuditEvent) AuditEventDTO {
	return AuditEventDTO{
		ID:        e.ID,
		ActorID:   e.ActorID,
		Action:    string(e.Action),
		TableName: e.TableName,
		RecordID:  e.RecordID,
		StudentID: e.StudentID,
		Details:   e.Details,
		Timestamp: e.Timestamp.Format(time.RFC3339),
	}
}

// parseDate parses an optional ISO date. Empty means zero time, which the
// ledger replaces with its clock.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
