/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/runs/*         Payroll run lifecycle and vouchers
  /api/settlements/*  Termination settlements
  /api/employees/*    Employee snapshots and loans
  /api/loans, /api/events
  /api/config, /api/concepts
  /api/admin/*        Rates and account mappings
  /api/scenarios/*    Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Run lifecycle
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.CreateRun)
			r.Get("/{id}", h.GetRun)
			r.Post("/{id}/calculate", h.CalculateRun)
			r.Get("/{id}/progress", h.GetProgress)
			r.Get("/{id}/results", h.GetResults)
			r.Post("/{id}/retry", h.RetryRun)
			r.Post("/{id}/approve", h.ApproveRun)
			r.Post("/{id}/apply", h.ApplyRun)
			r.Post("/{id}/pay", h.PayRun)
			r.Post("/{id}/voucher", h.GenerateVoucher)
			r.Get("/{id}/voucher", h.GetVoucher)
		})

		// Settlements
		r.Route("/settlements", func(r chi.Router) {
			r.Post("/", h.CreateSettlement)
			r.Get("/{id}", h.GetSettlement)
			r.Post("/{id}/recalculate", h.RecalculateSettlement)
			r.Post("/{id}/apply", h.ApplySettlement)
			r.Post("/{id}/pay", h.PaySettlement)
		})

		// Master data
		r.Route("/employees", func(r chi.Router) {
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/loans", h.ListLoans)
		})
		r.Post("/loans", h.CreateLoan)
		r.Post("/events", h.CreateEvent)

		// Configuration
		r.Get("/config", h.GetConfig)
		r.Put("/config", h.SaveConfig)
		r.Get("/concepts", h.GetCatalog)
		r.Put("/concepts", h.PutCatalog)

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Post("/rates", h.SetRate)
			r.Post("/mappings", h.SetMapping)
		})

		// Demo scenarios
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
