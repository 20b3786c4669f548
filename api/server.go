/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: One zap line per request
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the front office UI
  5. Authenticate:  Resolves the actor (JWT or X-Actor-* headers)
  6. RequireActor:  401 for any /api request without an actor

ROUTE GROUPS:
  /api/students/*        Payments, invoices, balances, statements
  /api/payments/*        Receipts
  /api/events/*          Attendance and enrollment billing
  /api/settings/*        Fee amounts
  /api/audit             Audit log
  /api/reconciliation/*  Reconciliation sweeps
  /api/scenarios/*       Demo scenarios
  /healthz               Liveness

  Every /api route, reads included, requires an actor. /healthz is public.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Actor resolution and request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	JWTSecret      string
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(opts.JWTSecret))
		r.Use(RequireActor)

		// Student routes
		r.Route("/students/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/debts", h.GetDebts)
			r.Get("/statement", h.GetStatement)
			r.Get("/reconcile", h.GetReconciliation)

			r.Post("/payments", h.RecordPayment)
			r.Post("/invoices", h.CreateInvoice)
			r.Post("/graduation", h.GraduationFee)
		})

		// Payment routes
		r.Get("/payments/{id}/receipt", h.GetReceipt)

		// Billing events from attendance and enrollment
		r.Route("/events", func(r chi.Router) {
			r.Post("/attendance", h.Attendance)
			r.Post("/enrollment", h.Enrollment)
		})

		// Settings routes
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.ListSettings)
			r.Put("/{name}", h.PutSetting)
		})

		r.Get("/audit", h.QueryAudit)

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/runs", h.ListReconciliationRuns)
			r.Post("/run", h.TriggerReconciliation)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
