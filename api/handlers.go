/*
handlers.go - HTTP API handlers for the tuition ledger

PURPOSE:
  Exposes the ledger facade via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every money movement to ledger.Facade.

ENDPOINTS:
  Students:
    POST   /api/students/{id}/payments    Record a payment (FIFO, prepay, redeem)
    POST   /api/students/{id}/invoices    Raise a manual invoice
    POST   /api/students/{id}/graduation  Raise the graduation fee once
    GET    /api/students/{id}/balance     Balance summary and clearance
    GET    /api/students/{id}/debts       Outstanding debts, oldest first
    GET    /api/students/{id}/statement   Chronological statement
    GET    /api/students/{id}/reconcile   Consistency report

  Payments:
    GET    /api/payments/{id}/receipt     Payment with its receipt

  Events (attendance and enrollment modules):
    POST   /api/events/attendance         Bill a class session
    POST   /api/events/enrollment         Bill the registration fee

  Settings and audit:
    GET    /api/settings                  Named settings (fee amounts)
    PUT    /api/settings/{name}           Update one setting
    GET    /api/audit                     Query the audit log

  Reconciliation:
    GET    /api/reconciliation/runs       Recent sweep results
    POST   /api/reconciliation/run        Run a sweep now

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator struct tags)
  3. Call the ledger with the request's actor
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  - 400: Validation errors, invalid settings, malformed bodies
  - 401: No actor on a write route
  - 404: Invoice, payment or receipt not found
  - 409: Concurrency conflict that outlived the retries
  - 422: Redemption larger than the prepaid balance
  - 500: Persistence failures (the call was rolled back)

  A repeated invoice for an already billed event is not an error: the
  existing invoice is returned with "created": false and status 200.

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Actor resolution
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/tuition-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Facade
	Billing   *ledger.EventBilling
	Settings  ledger.SettingsStore
	Audit     ledger.AuditLog
	Scheduler *ReconciliationScheduler
	Logger    *zap.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. audit may be nil when the store keeps no
// audit log.
func NewHandler(l *ledger.Facade, billing *ledger.EventBilling, settings ledger.SettingsStore, audit ledger.AuditLog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Ledger:   l,
		Billing:  billing,
		Settings: settings,
		Audit:    audit,
		Logger:   logger,
		validate: validator.New(),
	}
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment records one incoming amount for a student.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	studentID := chi.URLParam(r, "id")

	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	paymentDate, err := parseDate(req.PaymentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment_date format (use YYYY-MM-DD)", err)
		return
	}

	res, err := h.Ledger.RecordPayment(r.Context(), actor, ledger.PaymentRequest{
		StudentID:   studentID,
		Amount:      req.Amount,
		Mode:        ledger.PaymentMode(req.Mode),
		Purpose:     ledger.Purpose(req.Purpose),
		Description: req.Description,
		Flags: ledger.PaymentFlags{
			IsPrepayment: req.IsPrepayment,
			FromBalance:  req.FromBalance,
		},
		LinkedInvoiceID: ledger.InvoiceID(req.LinkedInvoiceID),
		SessionID:       req.SessionID,
		PaymentDate:     paymentDate,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to record payment", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPaymentResultDTO(res))
}

// GetReceipt returns a payment with its receipt.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid payment id", err)
		return
	}

	pr, err := h.Ledger.ReceiptFor(r.Context(), ledger.PaymentID(id))
	if err != nil {
		h.writeLedgerError(w, "Failed to get receipt", err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentWithReceiptDTO(pr))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// CreateInvoice raises a manual invoice for a student.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req CreateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	inv, created, err := h.Ledger.IssueInvoice(r.Context(), actor, ledger.InvoiceRequest{
		StudentID:      chi.URLParam(r, "id"),
		SessionID:      req.SessionID,
		FeeType:        ledger.FeeType(req.FeeType),
		Description:    req.Description,
		Amount:         req.Amount,
		Date:           date,
		IdempotencyKey: req.IdempotencyKey,
	})
	writeInvoiceResult(w, h, inv, created, err)
}

// GraduationFee raises the graduation fee for a student once.
func (h *Handler) GraduationFee(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req GraduationRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	inv, created, err := h.Billing.GraduationFee(r.Context(), actor, chi.URLParam(r, "id"), date)
	writeInvoiceResult(w, h, inv, created, err)
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// Attendance bills one attended class session.
func (h *Handler) Attendance(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req AttendanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.SessionDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session_date format (use YYYY-MM-DD)", err)
		return
	}

	inv, created, err := h.Billing.OnAttendance(r.Context(), actor, ledger.AttendanceEvent{
		StudentID:   req.StudentID,
		SessionID:   req.SessionID,
		UnitID:      req.UnitID,
		SessionDate: date,
	})
	writeInvoiceResult(w, h, inv, created, err)
}

// Enrollment bills the registration fee for an academic year. Years before
// the cutoff are acknowledged without an invoice.
func (h *Handler) Enrollment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req EnrollmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.EnrolledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid enrolled_at format (use YYYY-MM-DD)", err)
		return
	}

	inv, billed, err := h.Billing.OnEnrollment(r.Context(), actor, ledger.EnrollmentEvent{
		StudentID:    req.StudentID,
		AcademicYear: req.AcademicYear,
		EnrolledAt:   date,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to bill enrollment", err)
		return
	}
	if inv.ID == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"billed": false})
		return
	}
	writeInvoiceResult(w, h, inv, billed, nil)
}

func writeInvoiceResult(w http.ResponseWriter, h *Handler, inv ledger.Invoice, created bool, err error) {
	if err != nil {
		h.writeLedgerError(w, "Failed to issue invoice", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, InvoiceResponseDTO{Invoice: toInvoiceDTO(inv), Created: created})
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// GetBalance returns the balance summary and clearance for a student.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")

	summary, err := h.Ledger.BalanceSummary(r.Context(), studentID)
	if err != nil {
		h.writeLedgerError(w, "Failed to get balance", err)
		return
	}
	clear, err := h.Ledger.IsClear(r.Context(), studentID)
	if err != nil {
		h.writeLedgerError(w, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(summary, clear))
}

// GetDebts returns outstanding debts, oldest first.
func (h *Handler) GetDebts(w http.ResponseWriter, r *http.Request) {
	debts, err := h.Ledger.OutstandingDebts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, "Failed to list debts", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutstandingDTOs(debts))
}

// GetStatement returns the chronological account statement.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	st, err := h.Ledger.Statement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, "Failed to build statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// GetReconciliation recomputes a student's account and reports mismatches.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, "Failed to reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(report))
}

// =============================================================================
// SETTINGS & AUDIT
// =============================================================================

// ListSettings returns every stored setting merged over the fee defaults.
func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := h.Settings.ListSettings(r.Context())
	if err != nil {
		h.writeLedgerError(w, "Failed to list settings", err)
		return
	}
	out := make(map[string]string, len(stored)+len(ledger.DefaultFees))
	for name, amount := range ledger.DefaultFees {
		out[name] = amount.StringFixed(2)
	}
	for name, v := range stored {
		out[name] = v
	}
	writeJSON(w, http.StatusOK, out)
}

// PutSetting updates one setting. Fee settings must be positive amounts.
func (h *Handler) PutSetting(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req PutSettingRequest
	if !h.decode(w, r, &req) {
		return
	}

	var err error
	if _, isFee := ledger.DefaultFees[name]; isFee && h.Billing != nil {
		err = h.Billing.Fees.Set(r.Context(), name, req.Value)
	} else {
		err = h.Settings.PutSetting(r.Context(), name, req.Value)
	}
	if err != nil {
		h.writeLedgerError(w, "Failed to save setting", err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	h.Logger.Info("setting updated",
		zap.String("name", name),
		zap.String("actor_id", actor.UserID))

	value, _, err := h.Settings.GetSetting(r.Context(), name)
	if err != nil {
		h.writeLedgerError(w, "Failed to read setting", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "value": value})
}

// QueryAudit returns audit events filtered by student_id, actor_id, table
// and limit query parameters.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, http.StatusNotImplemented, "Audit log not available", nil)
		return
	}

	q := r.URL.Query()
	filter := ledger.AuditFilter{
		StudentID: q.Get("student_id"),
		ActorID:   q.Get("actor_id"),
		TableName: q.Get("table"),
		Limit:     100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	events, err := h.Audit.QueryAudit(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, "Failed to query audit log", err)
		return
	}
	dtos := make([]AuditEventDTO, len(events))
	for i, e := range events {
		dtos[i] = toAuditEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// ListReconciliationRuns returns the most recent sweeps, newest first.
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, []ReconciliationRun{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Runs())
}

// TriggerReconciliation runs a sweep synchronously and returns its result.
func (h *Handler) TriggerReconciliation(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotImplemented, "Reconciliation scheduler not configured", nil)
		return
	}
	run := h.Scheduler.RunNow(r.Context())
	writeJSON(w, http.StatusOK, run)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decode reads and validates a JSON body. It writes the 400 itself and
// reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()),
				Code:  "validation",
				Field: fe.Field(),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

// writeLedgerError maps ledger errors onto HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, message string, err error) {
	var (
		verr *ledger.ValidationError
		ierr *ledger.InsufficientPrepaidError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: verr.Error(),
			Code:  "validation",
			Field: verr.Field,
		})
	case errors.As(err, &ierr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: message,
			Code:  "insufficient_prepaid",
			Details: map[string]string{
				"available": ierr.Available.StringFixed(2),
				"requested": ierr.Requested.StringFixed(2),
			},
		})
	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: message, Code: "not_found", Details: err.Error()})
	case ledger.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "conflict", Details: err.Error()})
	case ledger.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "invalid", Details: err.Error()})
	default:
		h.Logger.Error(message, zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: message, Code: "internal"})
	}
}
