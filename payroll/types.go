/*
Package payroll provides the piecework payroll engine.

PURPOSE:
  Workers are paid per square or linear meter of plastering completed. Payment
  is only released for the fraction a quality coordinator approves. This
  package turns raw measurements into quality-gated, reconciled pay records.

PIPELINE (one direction, nothing downstream mutates upstream data):
  measurements ──▶ quality verdicts ──▶ aggregation ──▶ status ──▶ record
  (ledger.go)      (review.go)          (aggregate.go)  (status.go) (builder.go)

KEY CONCEPTS IN THIS FILE (types.go):
  - Period:        A calendar month (the pay period)
  - WorkUnit:      Task type and its rates, set by a pricing authority
  - WorkRecord:    One measured claim of work with a frozen estimate
  - QualityReview: A coordinator verdict on exactly one WorkRecord
  - WorkItem:      A WorkRecord plus its review history and disbursement flag

DESIGN PRINCIPLES:
  1. Immutability: WorkRecords and reviews are appended, never edited
  2. Precision: decimal.Decimal everywhere, rounded to cents half-up
  3. Supersession: corrections append a new record and flag the old one
  4. Derivation: totals and status are recomputed, never stored and patched

SEE ALSO:
  - errors.go: Error taxonomy
  - ledger.go: WorkRecord persistence
  - builder.go: PayrollRecord assembly
*/
package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY & MEASUREMENTS
// =============================================================================

// CurrencyPlaces is the currency precision used for every stored amount.
const CurrencyPlaces int32 = 2

// Epsilon is the tolerance for the reconciliation invariant.
var Epsilon = decimal.New(1, -CurrencyPlaces)

var hundred = decimal.NewFromInt(100)

// RoundCurrency rounds to cents. decimal.Round rounds half away from zero,
// which is half-up for the non-negative amounts this package produces.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// MustDecimal parses s or panics. Intended for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type WorkRecordID string
type ReviewID string
type WorkUnitID string

// =============================================================================
// PERIOD - A calendar month
// =============================================================================

// Period is the calendar month a piece of work is paid in.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod returns the period containing t.
func NewPeriod(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return NewPeriod(t), nil
}

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// Start returns the first instant of the period in UTC.
func (p Period) Start() time.Time { return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC) }

func (p Period) Next() Period { return NewPeriod(p.Start().AddDate(0, 1, 0)) }

func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// =============================================================================
// WORK UNIT - Task type and rates (read-only to this package)
// =============================================================================

// WorkUnit describes a task type and its rates. Either rate may be zero.
type WorkUnit struct {
	ID                 WorkUnitID      `json:"id"`
	TaskType           string          `json:"task_type"`
	RatePerSquareMeter decimal.Decimal `json:"rate_per_m2"`
	RatePerLinearMeter decimal.Decimal `json:"rate_per_ml"`
}

// Estimate prices the given measurements at this unit's rates.
func (u WorkUnit) Estimate(metersSquare, metersLinear decimal.Decimal) decimal.Decimal {
	return RoundCurrency(metersSquare.Mul(u.RatePerSquareMeter).Add(metersLinear.Mul(u.RatePerLinearMeter)))
}

// =============================================================================
// WORK RECORD - One measured claim of completed work
// =============================================================================

// WorkRecord is immutable after creation apart from the one-way Superseded flag.
type WorkRecord struct {
	ID          WorkRecordID `json:"id"`
	EmployeeID  EmployeeID   `json:"employee_id"`
	Period      Period       `json:"period"`
	LocationRef string       `json:"location_ref"`
	WorkUnit    WorkUnit     `json:"work_unit"`

	MetersSquare decimal.Decimal `json:"meters_square"`
	MetersLinear decimal.Decimal `json:"meters_linear"`

	// Frozen at creation from WorkUnit.
	EstimatedAmount decimal.Decimal `json:"estimated_amount"`

	// Supersession. Superseded never goes back to false.
	Superseded   bool         `json:"superseded"`
	SupersededBy WorkRecordID `json:"superseded_by,omitempty"`
	Supersedes   WorkRecordID `json:"supersedes,omitempty"`

	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// =============================================================================
// QUALITY REVIEW - Coordinator verdict on one WorkRecord
// =============================================================================

type ReviewStatus string

const (
	StatusPendingReview     ReviewStatus = "pending_review"
	StatusApproved          ReviewStatus = "approved"
	StatusPartiallyApproved ReviewStatus = "partially_approved"
	StatusRejected          ReviewStatus = "rejected"
)

// Provenance records whether MetersVerified was independently confirmed.
type Provenance string

const (
	ProvenanceVerified   Provenance = "verified"
	ProvenanceUnverified Provenance = "unverified"
)

// QualityReview is append-only. A re-review creates a new review with a
// higher Version whose Supersedes points at the prior one.
type QualityReview struct {
	ID           ReviewID     `json:"id"`
	WorkRecordID WorkRecordID `json:"work_record_id"`
	Version      int          `json:"version"`
	Supersedes   ReviewID     `json:"supersedes,omitempty"`

	ReviewerID string     `json:"reviewer_id"`
	ReviewDate *time.Time `json:"review_date"` // nil = not yet reviewed

	MetersVerified decimal.Decimal `json:"meters_verified"`
	Provenance     Provenance      `json:"provenance"`

	ApprovalPercent decimal.Decimal `json:"approval_percent"`
	ApprovedAmount  decimal.Decimal `json:"approved_amount"`
	PendingAmount   decimal.Decimal `json:"pending_amount"`
	RejectedAmount  decimal.Decimal `json:"rejected_amount"`

	Feedback          string     `json:"feedback,omitempty"`
	CorrectionsNeeded string     `json:"corrections_needed,omitempty"`
	RevisionDeadline  *time.Time `json:"revision_deadline,omitempty"`

	// Final marks a rejection as a permanent discard: nothing stays outstanding.
	Final bool `json:"final,omitempty"`

	Status ReviewStatus `json:"status"`
}

// IsReviewed reports whether a coordinator has issued this verdict.
func (r QualityReview) IsReviewed() bool { return r.ReviewDate != nil }

// Reconciles checks approved + pending + rejected == estimated within Epsilon.
func (r QualityReview) Reconciles(estimated decimal.Decimal) bool {
	sum := r.ApprovedAmount.Add(r.PendingAmount).Add(r.RejectedAmount)
	return sum.Sub(estimated).Abs().LessThanOrEqual(Epsilon)
}

// =============================================================================
// BONUSES & DEDUCTIONS - Employee-period adjustments
// =============================================================================

type BonusType string

const (
	BonusQuality      BonusType = "quality"
	BonusProductivity BonusType = "productivity"
	BonusOvertime     BonusType = "overtime"
	BonusOther        BonusType = "other"
)

type DeductionType string

const (
	DeductionAdvance        DeductionType = "advance"
	DeductionMaterialDamage DeductionType = "material_damage"
	DeductionEquipment      DeductionType = "equipment"
	DeductionOther          DeductionType = "other"
)

// BonusEntry adds to gross. Not tied to a WorkRecord.
type BonusEntry struct {
	ID          string          `json:"id"`
	EmployeeID  EmployeeID      `json:"employee_id"`
	Period      Period          `json:"period"`
	Type        BonusType       `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DeductionEntry subtracts from gross. Not tied to a WorkRecord.
type DeductionEntry struct {
	ID          string          `json:"id"`
	EmployeeID  EmployeeID      `json:"employee_id"`
	Period      Period          `json:"period"`
	Type        DeductionType   `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// =============================================================================
// DISBURSEMENT - External confirmation that an approved amount was paid
// =============================================================================

// Disbursement confirms that the approved amount of one specific review was
// paid out. A later re-review is not covered by an earlier confirmation.
type Disbursement struct {
	ID           string          `json:"id"`
	EmployeeID   EmployeeID      `json:"employee_id"`
	Period       Period          `json:"period"`
	WorkRecordID WorkRecordID    `json:"work_record_id"`
	ReviewID     ReviewID        `json:"review_id"`
	Amount       decimal.Decimal `json:"amount"`
	Reference    string          `json:"reference,omitempty"`
	ConfirmedAt  time.Time       `json:"confirmed_at"`
}

// =============================================================================
// WORK ITEM - A record with its review history
// =============================================================================

// WorkItem pairs a WorkRecord with every review issued for it.
type WorkItem struct {
	Record    WorkRecord
	Reviews   []QualityReview
	Disbursed bool
}

// Latest returns the current review: the highest Version, regardless of
// slice order. Returns nil when the record has never been reviewed.
func (wi WorkItem) Latest() *QualityReview {
	var latest *QualityReview
	for i := range wi.Reviews {
		if latest == nil || wi.Reviews[i].Version > latest.Version {
			latest = &wi.Reviews[i]
		}
	}
	return latest
}

// Effective returns the review that governs this item's amounts. Unreviewed
// records get an implicit pending review with 0% approved.
func (wi WorkItem) Effective() QualityReview {
	if latest := wi.Latest(); latest != nil {
		return *latest
	}
	return PendingReview(wi.Record)
}

// PendingReview is the implicit state of a record nobody has reviewed yet.
func PendingReview(rec WorkRecord) QualityReview {
	return QualityReview{
		WorkRecordID:    rec.ID,
		MetersVerified:  rec.MetersSquare,
		Provenance:      ProvenanceUnverified,
		ApprovalPercent: decimal.Zero,
		ApprovedAmount:  decimal.Zero,
		PendingAmount:   rec.EstimatedAmount,
		RejectedAmount:  decimal.Zero,
		Status:          StatusPendingReview,
	}
}
