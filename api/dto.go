/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY FIELDS:
  All monetary values travel as decimal strings ("1234.56"), never as
  JSON floats, so clients round-trip cents exactly.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

// =============================================================================
// RUN TYPES
// =============================================================================

// CreateRunRequest creates a draft payroll run.
type CreateRunRequest struct {
	ID          string `json:"id"`
	GroupID     string `json:"group_id"`
	CompanyID   string `json:"company_id"`
	Currency    string `json:"currency"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

// RunDTO represents a payroll run in API responses.
type RunDTO struct {
	ID             string        `json:"id"`
	GroupID        string        `json:"group_id"`
	CompanyID      string        `json:"company_id"`
	Currency       string        `json:"currency"`
	PeriodStart    string        `json:"period_start"`
	PeriodEnd      string        `json:"period_end"`
	State          string        `json:"state"`
	CalculatedAt   string        `json:"calculated_at,omitempty"`
	Gross          string        `json:"gross"`
	Deductions     string        `json:"deductions"`
	Net            string        `json:"net"`
	TotalEmployees int           `json:"total_employees"`
	Processed      int           `json:"processed"`
	Errored        int           `json:"errored"`
	Background     bool          `json:"background"`
	Log            []LogEntryDTO `json:"log,omitempty"`
}

// CalculateResponse is returned when a calculation is submitted. Background
// runs come back immediately with accepted=true; poll the progress endpoint.
type CalculateResponse struct {
	Run      RunDTO `json:"run"`
	Accepted bool   `json:"accepted"`
}

// RetryRequest identifies who asked for the retry, for the run log.
type RetryRequest struct {
	Actor string `json:"actor"`
}

// LogEntryDTO is one calculation log entry.
type LogEntryDTO struct {
	At         string `json:"at"`
	Level      string `json:"level"`
	EmployeeID string `json:"employee_id,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// ProgressDTO is a live progress snapshot for a run.
type ProgressDTO struct {
	RunID           string `json:"run_id"`
	Total           int    `json:"total"`
	Processed       int    `json:"processed"`
	Errored         int    `json:"errored"`
	CurrentEmployee string `json:"current_employee,omitempty"`
	Done            bool   `json:"done"`
	StartedAt       string `json:"started_at"`
	UpdatedAt       string `json:"updated_at"`
}

// RunEmployeeDTO is one employee's calculated result.
type RunEmployeeDTO struct {
	EmployeeID     string        `json:"employee_id"`
	BaseSalary     string        `json:"base_salary"`
	SourceCurrency string        `json:"source_currency"`
	ExchangeRate   string        `json:"exchange_rate"`
	Gross          string        `json:"gross"`
	Earnings       string        `json:"earnings"`
	Deductions     string        `json:"deductions"`
	Net            string        `json:"net"`
	Lines          []LineItemDTO `json:"lines"`
}

// LineItemDTO is one detail line of a result.
type LineItemDTO struct {
	Kind        string `json:"kind"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Position    int    `json:"position"`
}

// =============================================================================
// SETTLEMENT TYPES
// =============================================================================

// CreateSettlementRequest creates and calculates a termination settlement.
type CreateSettlementRequest struct {
	ID              string `json:"id"`
	EmployeeID      string `json:"employee_id"`
	CalculationDate string `json:"calculation_date"`
}

// SettlementDTO represents a settlement in API responses.
type SettlementDTO struct {
	ID              string        `json:"id"`
	EmployeeID      string        `json:"employee_id"`
	CompanyID       string        `json:"company_id"`
	Currency        string        `json:"currency"`
	CalculationDate string        `json:"calculation_date"`
	LastPaidDay     string        `json:"last_paid_day"`
	PendingDays     int           `json:"pending_days"`
	DailyRate       string        `json:"daily_rate"`
	Gross           string        `json:"gross"`
	Deductions      string        `json:"deductions"`
	Net             string        `json:"net"`
	State           string        `json:"state"`
	Lines           []LineItemDTO `json:"lines"`
	Log             []LogEntryDTO `json:"log,omitempty"`
}

// =============================================================================
// VOUCHER TYPES
// =============================================================================

// VoucherDTO represents an accounting voucher. Summary and detail views
// share the line shape; summary rows carry no employee back-reference.
type VoucherDTO struct {
	RunID       string           `json:"run_id"`
	GeneratedAt string           `json:"generated_at"`
	Complete    bool             `json:"complete"`
	Lines       []VoucherLineDTO `json:"lines"`
	Warnings    []LogEntryDTO    `json:"warnings,omitempty"`
}

// VoucherLineDTO is one debit or credit row.
type VoucherLineDTO struct {
	Account     string `json:"account"`
	CostCenter  string `json:"cost_center,omitempty"`
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
	EmployeeID  string `json:"employee_id,omitempty"`
	ConceptCode string `json:"concept_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// =============================================================================
// MASTER DATA TYPES
// =============================================================================

// CreateEmployeeRequest seeds one employee snapshot.
type CreateEmployeeRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CompanyID  string `json:"company_id"`
	GroupID    string `json:"group_id"`
	BaseSalary string `json:"base_salary"`
	Currency   string `json:"currency"`
	HireDate   string `json:"hire_date"`
}

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CompanyID  string `json:"company_id"`
	GroupID    string `json:"group_id"`
	BaseSalary string `json:"base_salary"`
	Currency   string `json:"currency"`
	HireDate   string `json:"hire_date"`
}

// CreateLoanRequest registers an approved loan or salary advance.
type CreateLoanRequest struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Balance     string `json:"balance"`
	Installment string `json:"installment"`
	Priority    int    `json:"priority"`
	Currency    string `json:"currency"`
}

// LoanDTO represents a loan in API responses.
type LoanDTO struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Balance     string `json:"balance"`
	Installment string `json:"installment"`
	Priority    int    `json:"priority"`
	State       string `json:"state"`
	Currency    string `json:"currency"`
}

// CreateEventRequest registers an ad-hoc payroll event.
type CreateEventRequest struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	ConceptCode string `json:"concept_code"`
	From        string `json:"from"`
	To          string `json:"to"`
	Units       string `json:"units,omitempty"`
	Rate        string `json:"rate,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

// =============================================================================
// CONFIGURATION TYPES
// =============================================================================

// ConfigDTO is the calculation configuration for a scope.
type ConfigDTO struct {
	ID            string `json:"id"`
	CompanyID     string `json:"company_id,omitempty"`
	Mode          string `json:"mode"`
	DayFactor     string `json:"day_factor"`
	ApplyLoans    bool   `json:"apply_loans"`
	ApplyAdvances bool   `json:"apply_advances"`
	Active        bool   `json:"active"`
}

// SetRateRequest records a dated exchange rate.
type SetRateRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ValidFrom string `json:"valid_from"`
	Rate      string `json:"rate"`
}

// SetMappingRequest configures the ledger accounts for a concept code.
type SetMappingRequest struct {
	ConceptCode   string `json:"concept_code"`
	Scope         string `json:"scope,omitempty"`
	DebitAccount  string `json:"debit_account,omitempty"`
	CreditAccount string `json:"credit_account,omitempty"`
	CostCenter    string `json:"cost_center,omitempty"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
