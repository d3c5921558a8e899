/*
handlers.go - HTTP API handlers for the piecework payroll service

PURPOSE:
  Exposes the payroll engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to payroll.Service.

ENDPOINTS:
  Employees:
    GET    /api/employees                        List all employees
    POST   /api/employees                        Create employee
    GET    /api/employees/{id}                   Get employee details
    GET    /api/employees/{id}/payroll/{period}  Build the PayrollRecord
    GET    /api/employees/{id}/payroll/{period}/snapshot  Last persisted record

  Work:
    POST   /api/employees/{id}/work-records      Record a measurement
    POST   /api/work-records/{id}/corrections    Re-measure (supersede)
    GET    /api/work-records/{id}/reviews        Review history
    POST   /api/work-records/{id}/reviews        Submit a quality review
    POST   /api/work-records/{id}/disbursements  Confirm payout

  Adjustments:
    POST   /api/employees/{id}/bonuses           Add bonus
    POST   /api/employees/{id}/deductions        Add deduction

  Rate card:
    GET    /api/work-units                       List work units
    POST   /api/work-units                       Add/replace units (JSON card)

  Payroll runs:
    POST   /api/payroll/{period}/run             Rebuild every employee

ARCHITECTURE:
  Handler holds:
  - Store:   SQLite (employees, rate card, payroll tables)
  - Service: Write orchestration, memoized builds
  - Log:     logrus logger

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid measurement, invalid review, bad period or adjustment
  - 404: Employee or work record not found
  - 409: Stale review, duplicate idempotency key, already superseded/disbursed
  - 422: Measurement dispute (needs manual arbitration)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/piecework-payroll/payroll"
	"github.com/warp/piecework-payroll/ratecard"
	"github.com/warp/piecework-payroll/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store            *sqlite.Store
	Service          *payroll.Service
	Log              logrus.FieldLogger
	BatchConcurrency int

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store and service.
func NewHandler(store *sqlite.Store, svc *payroll.Service, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:            store,
		Service:          svc,
		Log:              log,
		BatchConcurrency: 4,
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.requireEmployee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates a new employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	hireDate, err := time.Parse("2006-01-02", req.HireDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hire_date format (use YYYY-MM-DD)", err)
		return
	}

	emp := sqlite.Employee{
		ID:       req.ID,
		Name:     req.Name,
		Email:    req.Email,
		HireDate: hireDate,
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

func (h *Handler) requireEmployee(w http.ResponseWriter, r *http.Request) (*sqlite.Employee, bool) {
	id := chi.URLParam(r, "id")
	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return nil, false
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", payroll.ErrEmployeeNotFound)
		return nil, false
	}
	return emp, true
}

func toEmployeeDTO(e sqlite.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:       e.ID,
		Name:     e.Name,
		Email:    e.Email,
		HireDate: e.HireDate.Format("2006-01-02"),
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// WORK RECORD HANDLERS
// =============================================================================

// RecordWork submits a measurement for the employee in the URL.
func (h *Handler) RecordWork(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.requireEmployee(w, r)
	if !ok {
		return
	}

	var req RecordWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, err := payroll.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return
	}

	ctx := r.Context()
	unit, err := h.Store.GetWorkUnit(ctx, payroll.WorkUnitID(req.WorkUnitID))
	if err != nil {
		writeDomainError(w, "Failed to look up work unit", err)
		return
	}

	rec, err := h.Service.RecordWork(ctx, payroll.WorkInput{
		EmployeeID:     payroll.EmployeeID(emp.ID),
		Period:         period,
		LocationRef:    req.LocationRef,
		WorkUnit:       unit,
		MetersSquare:   req.MetersSquare,
		MetersLinear:   req.MetersLinear,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, "Failed to record work", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// CorrectWorkRecord appends a re-measured record and supersedes the old one.
func (h *Handler) CorrectWorkRecord(w http.ResponseWriter, r *http.Request) {
	id := payroll.WorkRecordID(chi.URLParam(r, "id"))

	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec, err := h.Service.Correct(r.Context(), id, req.MetersSquare, req.MetersLinear, req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, "Failed to correct work record", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// =============================================================================
// REVIEW HANDLERS
// =============================================================================

// ListReviews returns the record and its full review history.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	id := payroll.WorkRecordID(chi.URLParam(r, "id"))

	rec, reviews, err := h.Service.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load review history", err)
		return
	}
	writeJSON(w, http.StatusOK, ReviewHistoryDTO{Record: rec, Reviews: reviews})
}

// SubmitReview issues a quality verdict on a work record.
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	id := payroll.WorkRecordID(chi.URLParam(r, "id"))

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rev, err := h.Service.SubmitReview(r.Context(), id, req.toInput())
	if err != nil {
		writeDomainError(w, "Failed to submit review", err)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

// ConfirmDisbursement records that a record's approved amount was paid.
func (h *Handler) ConfirmDisbursement(w http.ResponseWriter, r *http.Request) {
	id := payroll.WorkRecordID(chi.URLParam(r, "id"))

	var req DisbursementRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	d, err := h.Service.ConfirmDisbursement(r.Context(), id, req.Reference)
	if err != nil {
		writeDomainError(w, "Failed to confirm disbursement", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

// AddBonus adds a bonus to an employee-period.
func (h *Handler) AddBonus(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.requireEmployee(w, r)
	if !ok {
		return
	}
	req, period, ok := decodeAdjustment(w, r)
	if !ok {
		return
	}

	b, err := h.Service.AddBonus(r.Context(), payroll.BonusEntry{
		EmployeeID:  payroll.EmployeeID(emp.ID),
		Period:      period,
		Type:        payroll.BonusType(req.Type),
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		writeDomainError(w, "Failed to add bonus", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// AddDeduction adds a deduction to an employee-period.
func (h *Handler) AddDeduction(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.requireEmployee(w, r)
	if !ok {
		return
	}
	req, period, ok := decodeAdjustment(w, r)
	if !ok {
		return
	}

	d, err := h.Service.AddDeduction(r.Context(), payroll.DeductionEntry{
		EmployeeID:  payroll.EmployeeID(emp.ID),
		Period:      period,
		Type:        payroll.DeductionType(req.Type),
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		writeDomainError(w, "Failed to add deduction", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func decodeAdjustment(w http.ResponseWriter, r *http.Request) (AdjustmentRequest, payroll.Period, bool) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, payroll.Period{}, false
	}
	period, err := payroll.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return req, payroll.Period{}, false
	}
	return req, period, true
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// GetPayroll returns the employee-period PayrollRecord.
func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.requireEmployee(w, r)
	if !ok {
		return
	}
	period, err := payroll.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return
	}

	rec, err := h.Service.Build(r.Context(), payroll.EmployeeID(emp.ID), period)
	if err != nil {
		writeDomainError(w, "Failed to build payroll record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetPayrollSnapshot returns the last persisted record, as written by a
// payroll run or the background rebuilder.
func (h *Handler) GetPayrollSnapshot(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.requireEmployee(w, r)
	if !ok {
		return
	}
	period, err := payroll.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return
	}

	rec, err := h.Store.GetRecord(r.Context(), payroll.EmployeeID(emp.ID), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payroll snapshot", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "No payroll snapshot for this period", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RunPayroll rebuilds and persists the records of every (or the listed)
// employee for a period. Per-employee failures are reported, not fatal.
func (h *Handler) RunPayroll(w http.ResponseWriter, r *http.Request) {
	period, err := payroll.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return
	}

	var req BatchRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	ctx := r.Context()
	var employees []payroll.EmployeeID
	if len(req.EmployeeIDs) > 0 {
		for _, id := range req.EmployeeIDs {
			employees = append(employees, payroll.EmployeeID(id))
		}
	} else {
		employees, err = h.Store.ListEmployeeIDs(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
			return
		}
	}

	result, err := h.Service.RunBatch(ctx, period, employees, h.BatchConcurrency)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Payroll run interrupted", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"period":   period.String(),
		"records":  len(result.Records),
		"failures": len(result.Failures),
		"warnings": len(result.Warnings),
	}).Info("payroll run finished")
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// RATE CARD HANDLERS
// =============================================================================

// ListWorkUnits returns the rate card.
func (h *Handler) ListWorkUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.Store.ListWorkUnits(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list work units", err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

// SaveWorkUnits adds or replaces units from a JSON rate card. Recorded work
// keeps the rates it was priced at.
func (h *Handler) SaveWorkUnits(w http.ResponseWriter, r *http.Request) {
	var cj ratecard.CardJSON
	if err := json.NewDecoder(r.Body).Decode(&cj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	card, err := ratecard.FromJSON(cj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate card", err)
		return
	}

	for _, u := range card.Units {
		if err := h.Store.SaveWorkUnit(r.Context(), u); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save work unit", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, card.Units)
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

// writeDomainError maps payroll errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, payroll.ErrMeasurementDispute):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payroll.ErrStaleReview),
		errors.Is(err, payroll.ErrDuplicateIdempotencyKey),
		errors.Is(err, payroll.ErrAlreadySuperseded),
		errors.Is(err, payroll.ErrAlreadyDisbursed):
		return http.StatusConflict
	case payroll.IsNotFound(err):
		return http.StatusNotFound
	case payroll.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
