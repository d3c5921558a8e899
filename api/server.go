/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RequestLog: Structured request logging (logrus)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /api/employees/*      Employees, work submissions, adjustments, payroll
  /api/work-records/*   Corrections, reviews, disbursements
  /api/work-units       Rate card
  /api/payroll/*        Batch runs
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. Reviewer identity is taken from the request
  body. Put the service behind an authenticating proxy in production.

SEE ALSO:
  - handlers.go: Handler implementations
  - logging.go:  Request logging middleware
  - cmd/payroll/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Post("/{id}/work-records", h.RecordWork)
			r.Post("/{id}/bonuses", h.AddBonus)
			r.Post("/{id}/deductions", h.AddDeduction)
			r.Get("/{id}/payroll/{period}", h.GetPayroll)
			r.Get("/{id}/payroll/{period}/snapshot", h.GetPayrollSnapshot)
		})

		// Work record routes
		r.Route("/work-records/{id}", func(r chi.Router) {
			r.Post("/corrections", h.CorrectWorkRecord)
			r.Get("/reviews", h.ListReviews)
			r.Post("/reviews", h.SubmitReview)
			r.Post("/disbursements", h.ConfirmDisbursement)
		})

		// Rate card routes
		r.Route("/work-units", func(r chi.Router) {
			r.Get("/", h.ListWorkUnits)
			r.Post("/", h.SaveWorkUnits)
		})

		// Payroll runs
		r.Post("/payroll/{period}/run", h.RunPayroll)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
