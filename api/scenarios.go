/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that push realistic invoices and payments
	through the ledger for demos. Each scenario goes through the same facade
	calls the attendance module and the payment screen make, so every
	receipt, debt and audit event is real.

AVAILABLE SCENARIOS:

	prepay-redeem:     One unit fee, two payments of 1000, then a new unit fee
	                   settled from the 400 prepaid balance
	fifo-arrears:      Three months of arrears settled oldest-first by one payment
	registration:      Registration and graduation fees paid by mobile money
	unmatched-payment: "Any Other" payment with no invoice, left unlinked

HOW SCENARIOS WORK:
 1. Generate a fresh student ID (existing data is never touched)
 2. Bill sessions and fees through EventBilling / IssueInvoice
 3. Record payments through RecordPayment
 4. Return the student's resulting balance

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "prepay-redeem"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h, actor, studentID)
 3. Add it to scenarioLoaders

SEE ALSO:
  - handlers.go: Endpoint handlers
  - ledger/events.go: EventBilling
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/tuition-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "prepay-redeem",
		Name:        "Prepay and Redeem",
		Description: "1600 unit fee paid 1000 + 1000; the 400 excess is banked and redeemed against the next session",
	},
	{
		ID:          "fifo-arrears",
		Name:        "FIFO Arrears",
		Description: "Three unpaid monthly sessions; a 2400 payment clears the oldest first",
	},
	{
		ID:          "registration",
		Name:        "Registration and Graduation",
		Description: "Registration and graduation fees paid in full by mobile money",
	},
	{
		ID:          "unmatched-payment",
		Name:        "Unmatched Payment",
		Description: "An 'Any Other' payment with no matching invoice is recorded unlinked",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, actor ledger.ActorContext, studentID string) error

var scenarioLoaders = map[string]scenarioLoader{
	"prepay-redeem":     loadPrepayRedeemScenario,
	"fifo-arrears":      loadFIFOArrearsScenario,
	"registration":      loadRegistrationScenario,
	"unmatched-payment": loadUnmatchedPaymentScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario runs a predefined scenario for a new student.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	actor, ok := ActorFrom(r.Context())
	if !ok {
		actor = ledger.System
	}
	ctx := r.Context()
	studentID := fmt.Sprintf("demo-%s-%s", req.ScenarioID, uuid.NewString()[:8])

	if err := load(ctx, h, actor, studentID); err != nil {
		h.writeLedgerError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	summary, err := h.Ledger.BalanceSummary(ctx, studentID)
	if err != nil {
		h.writeLedgerError(w, "Failed to get balance", err)
		return
	}
	clear, err := h.Ledger.IsClear(ctx, studentID)
	if err != nil {
		h.writeLedgerError(w, "Failed to get balance", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		ScenarioID: req.ScenarioID,
		StudentID:  studentID,
		Balance:    toBalanceDTO(summary, clear),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func scenarioDate(month time.Month, day int) time.Time {
	return time.Date(2025, month, day, 9, 0, 0, 0, time.UTC)
}

func attend(ctx context.Context, h *Handler, actor ledger.ActorContext, studentID, session string, at time.Time) (ledger.Invoice, error) {
	inv, _, err := h.Billing.OnAttendance(ctx, actor, ledger.AttendanceEvent{
		StudentID:   studentID,
		SessionID:   session,
		UnitID:      "BAK-101",
		SessionDate: at,
	})
	return inv, err
}

func pay(ctx context.Context, h *Handler, actor ledger.ActorContext, req ledger.PaymentRequest) error {
	if req.Mode == "" {
		req.Mode = ledger.ModeCash
	}
	if req.Purpose == "" {
		req.Purpose = ledger.PurposeClassFees
	}
	_, err := h.Ledger.RecordPayment(ctx, actor, req)
	return err
}

func loadPrepayRedeemScenario(ctx context.Context, h *Handler, actor ledger.ActorContext, studentID string) error {
	if _, err := attend(ctx, h, actor, studentID, studentID+"-jan", scenarioDate(time.January, 10)); err != nil {
		return err
	}
	for _, d := range []int{15, 28} {
		err := pay(ctx, h, actor, ledger.PaymentRequest{
			StudentID:   studentID,
			Amount:      decimal.NewFromInt(1000),
			PaymentDate: scenarioDate(time.January, d),
		})
		if err != nil {
			return err
		}
	}

	feb, err := attend(ctx, h, actor, studentID, studentID+"-feb", scenarioDate(time.February, 10))
	if err != nil {
		return err
	}
	return pay(ctx, h, actor, ledger.PaymentRequest{
		StudentID:       studentID,
		Amount:          decimal.NewFromInt(400),
		Flags:           ledger.PaymentFlags{FromBalance: true},
		LinkedInvoiceID: feb.ID,
		Description:     "Redeemed from prepaid balance",
		PaymentDate:     scenarioDate(time.February, 10),
	})
}

func loadFIFOArrearsScenario(ctx context.Context, h *Handler, actor ledger.ActorContext, studentID string) error {
	for _, m := range []time.Month{time.January, time.February, time.March} {
		session := fmt.Sprintf("%s-%s", studentID, m.String()[:3])
		if _, err := attend(ctx, h, actor, studentID, session, scenarioDate(m, 5)); err != nil {
			return err
		}
	}
	return pay(ctx, h, actor, ledger.PaymentRequest{
		StudentID:   studentID,
		Amount:      decimal.NewFromInt(2400),
		Mode:        ledger.ModeBankTransfer,
		PaymentDate: scenarioDate(time.March, 20),
	})
}

func loadRegistrationScenario(ctx context.Context, h *Handler, actor ledger.ActorContext, studentID string) error {
	reg, _, err := h.Billing.OnEnrollment(ctx, actor, ledger.EnrollmentEvent{
		StudentID:    studentID,
		AcademicYear: h.Billing.RegistrationCutoffYear,
		EnrolledAt:   scenarioDate(time.January, 6),
	})
	if err != nil {
		return err
	}
	if reg.ID != 0 {
		err := pay(ctx, h, actor, ledger.PaymentRequest{
			StudentID:       studentID,
			Amount:          reg.AmountDue,
			Mode:            ledger.ModeMobileMoney,
			Purpose:         ledger.PurposeRegistration,
			LinkedInvoiceID: reg.ID,
			PaymentDate:     scenarioDate(time.January, 7),
		})
		if err != nil {
			return err
		}
	}

	grad, _, err := h.Billing.GraduationFee(ctx, actor, studentID, scenarioDate(time.November, 30))
	if err != nil {
		return err
	}
	return pay(ctx, h, actor, ledger.PaymentRequest{
		StudentID:       studentID,
		Amount:          grad.AmountDue,
		Mode:            ledger.ModeMobileMoney,
		Purpose:         ledger.PurposeGraduation,
		LinkedInvoiceID: grad.ID,
		PaymentDate:     scenarioDate(time.December, 1),
	})
}

func loadUnmatchedPaymentScenario(ctx context.Context, h *Handler, actor ledger.ActorContext, studentID string) error {
	if _, err := attend(ctx, h, actor, studentID, studentID+"-jan", scenarioDate(time.January, 10)); err != nil {
		return err
	}
	return pay(ctx, h, actor, ledger.PaymentRequest{
		StudentID:   studentID,
		Amount:      decimal.NewFromInt(250),
		Purpose:     ledger.PurposeAnyOther,
		Description: "Workshop materials",
		PaymentDate: scenarioDate(time.January, 12),
	})
}
