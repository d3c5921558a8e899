/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types that
  already carry JSON tags (WorkRecord, QualityReview, PayrollRecord) are
  returned as-is; requests get their own types so the engine's inputs stay
  decoupled from the wire.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Employee:     EmployeeDTO, CreateEmployeeRequest
  Work:         RecordWorkRequest, CorrectionRequest
  Review:       ReviewRequest, ReviewHistoryDTO
  Adjustments:  AdjustmentRequest
  Disbursement: DisbursementRequest
  Batch:        BatchRunRequest
  Scenarios:    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Shape validation happens while decoding. Range checks belong to the
  payroll package and come back as typed errors.

SEE ALSO:
  - handlers.go: Uses these types
  - payroll/types.go: Domain JSON shapes
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/piecework-payroll/payroll"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	HireDate  string `json:"hire_date"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	HireDate string `json:"hire_date"`
}

// =============================================================================
// WORK RECORDS
// =============================================================================

// RecordWorkRequest submits a measurement for an employee.
type RecordWorkRequest struct {
	Period         string          `json:"period"` // YYYY-MM
	LocationRef    string          `json:"location_ref"`
	WorkUnitID     string          `json:"work_unit_id"`
	MetersSquare   decimal.Decimal `json:"meters_square"`
	MetersLinear   decimal.Decimal `json:"meters_linear"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// CorrectionRequest re-measures an existing work record.
type CorrectionRequest struct {
	MetersSquare   decimal.Decimal `json:"meters_square"`
	MetersLinear   decimal.Decimal `json:"meters_linear"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// =============================================================================
// REVIEWS
// =============================================================================

// ReviewRequest is a coordinator's verdict. Supersedes must name the
// current latest review, or be empty for a first review.
type ReviewRequest struct {
	ReviewerID        string           `json:"reviewer_id"`
	MetersVerified    *decimal.Decimal `json:"meters_verified,omitempty"`
	ApprovalPercent   decimal.Decimal  `json:"approval_percent"`
	Feedback          string           `json:"feedback,omitempty"`
	CorrectionsNeeded string           `json:"corrections_needed,omitempty"`
	RevisionDeadline  *time.Time       `json:"revision_deadline,omitempty"`
	Final             bool             `json:"final,omitempty"`
	Supersedes        string           `json:"supersedes,omitempty"`
}

func (r ReviewRequest) toInput() payroll.ReviewInput {
	return payroll.ReviewInput{
		ReviewerID:        r.ReviewerID,
		MetersVerified:    r.MetersVerified,
		ApprovalPercent:   r.ApprovalPercent,
		Feedback:          r.Feedback,
		CorrectionsNeeded: r.CorrectionsNeeded,
		RevisionDeadline:  r.RevisionDeadline,
		Final:             r.Final,
		ExpectedPrior:     payroll.ReviewID(r.Supersedes),
	}
}

// ReviewHistoryDTO is a work record with every review ever issued for it.
type ReviewHistoryDTO struct {
	Record  payroll.WorkRecord      `json:"record"`
	Reviews []payroll.QualityReview `json:"reviews"`
}

// =============================================================================
// ADJUSTMENTS & DISBURSEMENTS
// =============================================================================

// AdjustmentRequest adds a bonus or a deduction to an employee-period.
type AdjustmentRequest struct {
	Period      string          `json:"period"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// DisbursementRequest confirms payout of a record's latest approved amount.
type DisbursementRequest struct {
	Reference string `json:"reference"`
}

// =============================================================================
// BATCH
// =============================================================================

// BatchRunRequest limits a run to some employees. Empty means everyone.
type BatchRunRequest struct {
	EmployeeIDs []string `json:"employee_ids,omitempty"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
