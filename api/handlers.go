/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the payroll engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Runs:
    POST   /api/runs                     Create draft run
    POST   /api/runs/{id}/calculate      Calculate (sync or background)
    GET    /api/runs/{id}                Run header with log
    GET    /api/runs/{id}/progress       Live progress snapshot
    GET    /api/runs/{id}/results        Per-employee results
    POST   /api/runs/{id}/retry          Retry after errors
    POST   /api/runs/{id}/approve        Approve clean run
    POST   /api/runs/{id}/apply          Apply (marks events executed)
    POST   /api/runs/{id}/pay            Mark paid
    POST   /api/runs/{id}/voucher        Generate/regenerate voucher
    GET    /api/runs/{id}/voucher        Voucher (?view=summary|detail)

  Settlements:
    POST   /api/settlements                   Create and calculate
    POST   /api/settlements/{id}/recalculate  Reverse and recompute
    GET    /api/settlements/{id}
    POST   /api/settlements/{id}/apply
    POST   /api/settlements/{id}/pay

  Master data and admin:
    POST   /api/employees, GET /api/employees/{id}
    POST   /api/loans, GET /api/employees/{id}/loans
    POST   /api/events
    GET/PUT /api/config
    GET/PUT /api/concepts                Concept catalog (JSON)
    POST   /api/admin/rates              Dated exchange rates
    POST   /api/admin/mappings           Ledger account mappings

  Scenarios:
    GET    /api/scenarios                List demo scenarios
    POST   /api/scenarios/load           Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (illegal state transition, employee locked)
  - 422: Voucher invariant violations (incomplete config, imbalance)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scheduler.go: Sync-vs-background decision and worker
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/concepts"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/settlement"
	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Engine    *payroll.Engine
	Settle    *settlement.Engine
	Ledger    *ledger.Builder
	Catalog   *factory.CatalogFactory
	Scheduler *RunScheduler

	// Cached concept catalog, replaced wholesale via PUT /api/concepts.
	mu              sync.RWMutex
	concepts        []payroll.Concept
	catalogJSON     string
	currentScenario string
}

// NewHandler wires the engines around the given store.
func NewHandler(store *sqlite.Store) *Handler {
	registry := concepts.DefaultRegistry()
	engine := &payroll.Engine{Store: store, Registry: registry, Rates: store}

	h := &Handler{
		Store:  store,
		Engine: engine,
		Settle: &settlement.Engine{
			Settlements: store,
			Runs:        store,
			Loans:       store,
			Configs:     store,
		},
		Ledger:      &ledger.Builder{Mapper: store},
		Catalog:     factory.NewCatalogFactory(registry),
		catalogJSON: "[]",
	}
	h.Scheduler = NewRunScheduler(engine)
	return h
}

// LoadCatalog parses and installs a concept catalog.
func (h *Handler) LoadCatalog(raw string) error {
	parsed, err := h.Catalog.ParseCatalog(raw)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.concepts = parsed
	h.catalogJSON = raw
	return nil
}

// Concepts returns the current catalog snapshot.
func (h *Handler) Concepts() []payroll.Concept {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]payroll.Concept, len(h.concepts))
	copy(out, h.concepts)
	return out
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// CreateRun creates a draft payroll run.
// POST /api/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.GroupID == "" || req.Currency == "" {
		writeError(w, http.StatusBadRequest, "id, group_id, and currency are required", nil)
		return
	}
	start, err := parseDate(req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_start", err)
		return
	}
	end, err := parseDate(req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end", err)
		return
	}

	run := &payroll.PayrollRun{
		ID:        payroll.RunID(req.ID),
		GroupID:   payroll.GroupID(req.GroupID),
		CompanyID: payroll.CompanyID(req.CompanyID),
		Currency:  payroll.Currency(req.Currency),
		Period:    payroll.NewPeriod(start, end),
		State:     payroll.RunDraft,
	}
	if !run.Period.Valid() {
		writeError(w, http.StatusBadRequest, "period_end before period_start", nil)
		return
	}
	if err := h.Store.SaveRun(r.Context(), run); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save run", err)
		return
	}
	writeJSON(w, http.StatusCreated, runToDTO(run))
}

// CalculateRun submits a run for calculation. Small groups calculate in
// the request; large ones are handed to the background worker and come
// back 202 with the progress endpoint to poll.
// POST /api/runs/{id}/calculate
func (h *Handler) CalculateRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.Run(r.Context(), payroll.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Failed to load run", err)
		return
	}

	accepted, err := h.Scheduler.Submit(r.Context(), run, h.Concepts())
	if err != nil {
		writeError(w, statusFor(err), "Calculation failed", err)
		return
	}

	status := http.StatusOK
	if accepted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, CalculateResponse{Run: runToDTO(run), Accepted: accepted})
}

// GetRun returns a run header with its calculation log.
// GET /api/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.Run(r.Context(), payroll.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Failed to load run", err)
		return
	}
	writeJSON(w, http.StatusOK, runToDTO(run))
}

// GetProgress returns the live progress snapshot for a run.
// GET /api/runs/{id}/progress
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.Progress(r.Context(), payroll.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load progress", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "No progress recorded for run", nil)
		return
	}
	writeJSON(w, http.StatusOK, ProgressDTO{
		RunID:           string(p.RunID),
		Total:           p.Total,
		Processed:       p.Processed,
		Errored:         p.Errored,
		CurrentEmployee: string(p.CurrentEmployee),
		Done:            p.Done,
		StartedAt:       p.StartedAt.Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	})
}

// GetResults returns the per-employee results of a run.
// GET /api/runs/{id}/results
func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Store.EmployeeResults(r.Context(), payroll.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load results", err)
		return
	}
	dtos := make([]RunEmployeeDTO, len(results))
	for i, res := range results {
		dtos[i] = resultToDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RetryRun retries a run that generated with errors or failed wholesale.
// POST /api/runs/{id}/retry
func (h *Handler) RetryRun(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	run, accepted, err := h.Scheduler.Retry(r.Context(), payroll.RunID(chi.URLParam(r, "id")), h.Concepts(), req.Actor)
	if err != nil {
		writeError(w, statusFor(err), "Retry failed", err)
		return
	}

	status := http.StatusOK
	if accepted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, CalculateResponse{Run: runToDTO(run), Accepted: accepted})
}

// ApproveRun approves a cleanly generated run. The voucher balance
// invariant must hold.
// POST /api/runs/{id}/approve
func (h *Handler) ApproveRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Engine.Approve(r.Context(), payroll.RunID(chi.URLParam(r, "id")), h.Ledger.BalanceCheck(h.Store))
	if err != nil {
		writeError(w, statusFor(err), "Approval failed", err)
		return
	}
	writeJSON(w, http.StatusOK, runToDTO(run))
}

// ApplyRun applies an approved run and marks its events executed.
// POST /api/runs/{id}/apply
func (h *Handler) ApplyRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Engine.Apply(r.Context(), payroll.RunID(chi.URLParam(r, "id")), h.Ledger.BalanceCheck(h.Store))
	if err != nil {
		writeError(w, statusFor(err), "Apply failed", err)
		return
	}
	writeJSON(w, http.StatusOK, runToDTO(run))
}

// PayRun marks an applied run as paid.
// POST /api/runs/{id}/pay
func (h *Handler) PayRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Engine.Pay(r.Context(), payroll.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Pay failed", err)
		return
	}
	writeJSON(w, http.StatusOK, runToDTO(run))
}

// =============================================================================
// VOUCHER HANDLERS
// =============================================================================

// GenerateVoucher builds the voucher from persisted results and saves it,
// even when account configuration is incomplete (degraded, with warnings).
// Regeneration after fixing configuration never re-runs the calculation.
// POST /api/runs/{id}/voucher
func (h *Handler) GenerateVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := h.Store.Run(ctx, payroll.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Failed to load run", err)
		return
	}
	if run.State == payroll.RunDraft || run.State == payroll.RunError {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("run in state %s has no results to voucher", run.State), nil)
		return
	}

	results, err := h.Store.EmployeeResults(ctx, run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load results", err)
		return
	}
	voucher, err := h.Ledger.Build(ctx, run, results)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build voucher", err)
		return
	}
	if err := h.Store.SaveVoucher(ctx, voucher); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save voucher", err)
		return
	}
	writeJSON(w, http.StatusOK, voucherToDTO(voucher, voucher.Explode()))
}

// GetVoucher returns the persisted voucher. ?view=summary aggregates per
// account and is refused while configuration is incomplete; ?view=detail
// (the default) always works so audit export never blocks.
// GET /api/runs/{id}/voucher
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	voucher, err := h.Store.Voucher(r.Context(), payroll.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Failed to load voucher", err)
		return
	}

	lines := voucher.Explode()
	if r.URL.Query().Get("view") == "summary" {
		lines, err = voucher.Summarize()
		if err != nil {
			writeError(w, statusFor(err), "Summary unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, voucherToDTO(voucher, lines))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// CreateSettlement creates a settlement and calculates it immediately.
// POST /api/settlements
func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var req CreateSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "id and employee_id are required", nil)
		return
	}
	calcDate, err := parseDate(req.CalculationDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid calculation_date", err)
		return
	}

	ctx := r.Context()
	emp, err := h.Store.Employee(ctx, payroll.EmployeeID(req.EmployeeID))
	if err != nil {
		writeError(w, statusFor(err), "Failed to load employee", err)
		return
	}

	s := &settlement.Settlement{
		ID:              payroll.SettlementID(req.ID),
		EmployeeID:      emp.ID,
		CompanyID:       emp.CompanyID,
		Currency:        emp.Currency,
		CalculationDate: calcDate,
		State:           settlement.StateDraft,
	}
	if err := h.Settle.Calculate(ctx, s, emp); err != nil {
		writeError(w, statusFor(err), "Settlement calculation failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, settlementToDTO(s))
}

// RecalculateSettlement reverses and recomputes an existing settlement.
// POST /api/settlements/{id}/recalculate
func (h *Handler) RecalculateSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.Store.Settlement(ctx, payroll.SettlementID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Failed to load settlement", err)
		return
	}
	emp, err := h.Store.Employee(ctx, s.EmployeeID)
	if err != nil {
		writeError(w, statusFor(err), "Failed to load employee", err)
		return
	}
	if err := h.Settle.Calculate(ctx, s, emp); err != nil {
		writeError(w, statusFor(err), "Settlement recalculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, settlementToDTO(s))
}

// GetSettlement returns a settlement with its lines and log.
// GET /api/settlements/{id}
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.Settlement(r.Context(), payroll.SettlementID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Failed to load settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, settlementToDTO(s))
}

// ApplySettlement finalizes a calculated settlement.
// POST /api/settlements/{id}/apply
func (h *Handler) ApplySettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settle.Apply(r.Context(), payroll.SettlementID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Apply failed", err)
		return
	}
	writeJSON(w, http.StatusOK, settlementToDTO(s))
}

// PaySettlement marks an applied settlement as paid out.
// POST /api/settlements/{id}/pay
func (h *Handler) PaySettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settle.Pay(r.Context(), payroll.SettlementID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Pay failed", err)
		return
	}
	writeJSON(w, http.StatusOK, settlementToDTO(s))
}

// =============================================================================
// MASTER DATA HANDLERS
// =============================================================================

// CreateEmployee seeds one employee snapshot.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	salary, err := decimal.NewFromString(req.BaseSalary)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid base_salary", err)
		return
	}
	hireDate, err := parseDate(req.HireDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hire_date", err)
		return
	}

	snap := payroll.EmployeeSnapshot{
		ID:         payroll.EmployeeID(req.ID),
		Name:       req.Name,
		CompanyID:  payroll.CompanyID(req.CompanyID),
		GroupID:    payroll.GroupID(req.GroupID),
		BaseSalary: salary,
		Currency:   payroll.Currency(req.Currency),
		HireDate:   hireDate,
	}
	if err := h.Store.SaveEmployee(r.Context(), snap); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, employeeToDTO(snap))
}

// GetEmployee returns one employee snapshot.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Store.Employee(r.Context(), payroll.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Failed to load employee", err)
		return
	}
	writeJSON(w, http.StatusOK, employeeToDTO(snap))
}

// CreateLoan registers an approved loan or salary advance.
// POST /api/loans
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	kind := payroll.LoanKind(req.Kind)
	if kind != payroll.LoanKindLoan && kind != payroll.LoanKindAdvance {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", req.Kind), nil)
		return
	}
	balance, err := decimal.NewFromString(req.Balance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid balance", err)
		return
	}
	installment := decimal.Zero
	if req.Installment != "" {
		if installment, err = decimal.NewFromString(req.Installment); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid installment", err)
			return
		}
	}

	currency := payroll.Currency(req.Currency)
	loan := &payroll.Loan{
		ID:          payroll.LoanID(req.ID),
		EmployeeID:  payroll.EmployeeID(req.EmployeeID),
		Kind:        kind,
		Description: req.Description,
		Balance:     payroll.NewMoneyFromDecimal(balance, currency),
		Installment: payroll.NewMoneyFromDecimal(installment, currency),
		Priority:    req.Priority,
		State:       payroll.LoanApproved,
	}
	if err := h.Store.SaveLoan(r.Context(), loan); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, loanToDTO(loan))
}

// ListLoans returns an employee's open loans and advances.
// GET /api/employees/{id}/loans
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	employee := payroll.EmployeeID(chi.URLParam(r, "id"))

	var dtos []LoanDTO
	for _, kind := range []payroll.LoanKind{payroll.LoanKindLoan, payroll.LoanKindAdvance} {
		loans, err := h.Store.OpenLoans(ctx, employee, kind)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list loans", err)
			return
		}
		for _, loan := range loans {
			dtos = append(dtos, loanToDTO(loan))
		}
	}
	if dtos == nil {
		dtos = []LoanDTO{}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEvent registers an ad-hoc payroll event.
// POST /api/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	from, err := parseDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	to, err := parseDate(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}
	units, err := parseOptionalDecimal(req.Units)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid units", err)
		return
	}
	rate, err := parseOptionalDecimal(req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}
	amount, err := parseOptionalDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	event := payroll.Event{
		ID:          req.ID,
		EmployeeID:  payroll.EmployeeID(req.EmployeeID),
		ConceptCode: payroll.ConceptCode(req.ConceptCode),
		From:        from,
		To:          to,
		Units:       units,
		Rate:        rate,
		Amount:      amount,
	}
	if err := h.Store.SaveEvent(r.Context(), event); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save event", err)
		return
	}
	writeJSON(w, http.StatusCreated, event.ID)
}

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

// GetConfig returns the effective configuration for a scope, creating the
// global default lazily if nothing is configured.
// GET /api/config?company_id=...
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	resolver := &payroll.ConfigResolver{Store: h.Store}
	cfg, err := resolver.Resolve(r.Context(), payroll.CompanyID(r.URL.Query().Get("company_id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, configToDTO(cfg))
}

// SaveConfig activates a configuration for a scope, deactivating any
// previous one.
// PUT /api/config
func (h *Handler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	factor, err := decimal.NewFromString(req.DayFactor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid day_factor", err)
		return
	}

	cfg := payroll.CalculationConfig{
		ID:            req.ID,
		CompanyID:     payroll.CompanyID(req.CompanyID),
		Mode:          payroll.ProrationMode(req.Mode),
		DayFactor:     factor,
		ApplyLoans:    req.ApplyLoans,
		ApplyAdvances: req.ApplyAdvances,
		Active:        true,
	}
	if err := h.Store.SaveConfig(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, configToDTO(cfg))
}

// GetCatalog returns the installed concept catalog as raw JSON.
// GET /api/concepts
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	raw := h.catalogJSON
	h.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(raw))
}

// PutCatalog replaces the concept catalog. Unknown kinds or formulas are
// rejected wholesale; a bad catalog never partially installs.
// PUT /api/concepts
func (h *Handler) PutCatalog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	if err := h.LoadCatalog(string(body)); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"concepts": len(h.Concepts())})
}

// SetRate records a dated exchange rate.
// POST /api/admin/rates
func (h *Handler) SetRate(w http.ResponseWriter, r *http.Request) {
	var req SetRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	validFrom, err := parseDate(req.ValidFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid valid_from", err)
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}
	if err := h.Store.SaveRate(r.Context(),
		payroll.Currency(req.From), payroll.Currency(req.To), validFrom, rate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rate", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// SetMapping configures the ledger accounts for a concept code.
// POST /api/admin/mappings
func (h *Handler) SetMapping(w http.ResponseWriter, r *http.Request) {
	var req SetMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ConceptCode == "" {
		writeError(w, http.StatusBadRequest, "concept_code is required", nil)
		return
	}
	mapping := ledger.AccountMapping{
		DebitAccount:  req.DebitAccount,
		CreditAccount: req.CreditAccount,
		CostCenter:    req.CostCenter,
	}
	if err := h.Store.SaveAccountMapping(r.Context(),
		payroll.ConceptCode(req.ConceptCode), req.Scope, mapping); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save mapping", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// DTO CONVERSIONS
// =============================================================================

func runToDTO(run *payroll.PayrollRun) RunDTO {
	dto := RunDTO{
		ID:             string(run.ID),
		GroupID:        string(run.GroupID),
		CompanyID:      string(run.CompanyID),
		Currency:       string(run.Currency),
		PeriodStart:    run.Period.Start.Format("2006-01-02"),
		PeriodEnd:      run.Period.End.Format("2006-01-02"),
		State:          string(run.State),
		Gross:          run.Gross.StringFixed(2),
		Deductions:     run.Deductions.StringFixed(2),
		Net:            run.Net.StringFixed(2),
		TotalEmployees: run.TotalEmployees,
		Processed:      run.Processed,
		Errored:        run.Errored,
		Background:     run.Background,
		Log:            logToDTOs(run.Log),
	}
	if !run.CalculatedAt.IsZero() {
		dto.CalculatedAt = run.CalculatedAt.Format(time.RFC3339)
	}
	return dto
}

func resultToDTO(res payroll.RunEmployee) RunEmployeeDTO {
	lines := make([]LineItemDTO, len(res.Lines))
	for i, l := range res.Lines {
		lines[i] = LineItemDTO{
			Kind:        string(l.Kind),
			Code:        string(l.Code),
			Description: l.Description,
			Amount:      l.Amount.Value.StringFixed(2),
			Currency:    string(l.Amount.Currency),
			Position:    l.Position,
		}
	}
	return RunEmployeeDTO{
		EmployeeID:     string(res.EmployeeID),
		BaseSalary:     res.BaseSalary.String(),
		SourceCurrency: string(res.SourceCurrency),
		ExchangeRate:   res.ExchangeRate.String(),
		Gross:          res.Gross.StringFixed(2),
		Earnings:       res.Earnings.StringFixed(2),
		Deductions:     res.Deductions.StringFixed(2),
		Net:            res.Net.StringFixed(2),
		Lines:          lines,
	}
}

func settlementToDTO(s *settlement.Settlement) SettlementDTO {
	lines := make([]LineItemDTO, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = LineItemDTO{
			Kind:        string(l.Kind),
			Code:        string(l.Code),
			Description: l.Description,
			Amount:      l.Amount.Value.StringFixed(2),
			Currency:    string(l.Amount.Currency),
			Position:    l.Position,
		}
	}
	return SettlementDTO{
		ID:              string(s.ID),
		EmployeeID:      string(s.EmployeeID),
		CompanyID:       string(s.CompanyID),
		Currency:        string(s.Currency),
		CalculationDate: s.CalculationDate.Format("2006-01-02"),
		LastPaidDay:     s.LastPaidDay.Format("2006-01-02"),
		PendingDays:     s.PendingDays,
		DailyRate:       s.DailyRate.String(),
		Gross:           s.Gross.StringFixed(2),
		Deductions:      s.Deductions.StringFixed(2),
		Net:             s.Net.StringFixed(2),
		State:           string(s.State),
		Lines:           lines,
		Log:             logToDTOs(s.Log),
	}
}

func voucherToDTO(v *ledger.Voucher, lines []ledger.Line) VoucherDTO {
	dtos := make([]VoucherLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = VoucherLineDTO{
			Account:     l.Account,
			CostCenter:  l.CostCenter,
			Debit:       l.Debit.StringFixed(2),
			Credit:      l.Credit.StringFixed(2),
			EmployeeID:  string(l.EmployeeID),
			ConceptCode: string(l.ConceptCode),
			Description: l.Description,
		}
	}
	return VoucherDTO{
		RunID:       string(v.RunID),
		GeneratedAt: v.GeneratedAt.Format(time.RFC3339),
		Complete:    v.Complete(),
		Lines:       dtos,
		Warnings:    logToDTOs(v.Warnings),
	}
}

func employeeToDTO(snap payroll.EmployeeSnapshot) EmployeeDTO {
	return EmployeeDTO{
		ID:         string(snap.ID),
		Name:       snap.Name,
		CompanyID:  string(snap.CompanyID),
		GroupID:    string(snap.GroupID),
		BaseSalary: snap.BaseSalary.String(),
		Currency:   string(snap.Currency),
		HireDate:   snap.HireDate.Format("2006-01-02"),
	}
}

func loanToDTO(loan *payroll.Loan) LoanDTO {
	return LoanDTO{
		ID:          string(loan.ID),
		EmployeeID:  string(loan.EmployeeID),
		Kind:        string(loan.Kind),
		Description: loan.Description,
		Balance:     loan.Balance.Value.StringFixed(2),
		Installment: loan.Installment.Value.StringFixed(2),
		Priority:    loan.Priority,
		State:       string(loan.State),
		Currency:    string(loan.Balance.Currency),
	}
}

func configToDTO(cfg payroll.CalculationConfig) ConfigDTO {
	return ConfigDTO{
		ID:            cfg.ID,
		CompanyID:     string(cfg.CompanyID),
		Mode:          string(cfg.Mode),
		DayFactor:     cfg.DayFactor.String(),
		ApplyLoans:    cfg.ApplyLoans,
		ApplyAdvances: cfg.ApplyAdvances,
		Active:        cfg.Active,
	}
}

func logToDTOs(entries []payroll.LogEntry) []LogEntryDTO {
	if len(entries) == 0 {
		return nil
	}
	out := make([]LogEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = LogEntryDTO{
			At:         e.At.Format(time.RFC3339),
			Level:      string(e.Level),
			EmployeeID: string(e.EmployeeID),
			Code:       e.Code,
			Message:    e.Message,
		}
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case payroll.IsNotFound(err),
		errors.Is(err, settlement.ErrSettlementNotFound),
		errors.Is(err, ledger.ErrVoucherNotFound):
		return http.StatusNotFound
	case errors.Is(err, payroll.ErrLoanLocked),
		errors.Is(err, payroll.ErrInvalidTransition),
		errors.Is(err, payroll.ErrRunNotRecalculable),
		errors.Is(err, payroll.ErrRunHasErrors),
		errors.Is(err, settlement.ErrSettlementFinal):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrIncompleteConfiguration),
		errors.Is(err, ledger.ErrVoucherImbalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

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
