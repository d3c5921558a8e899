/*
builder.go - PayrollRecord assembly

PURPOSE:
  Fetches everything an employee-period depends on, runs aggregation and
  status derivation, and returns an immutable PayrollRecord snapshot.

REBUILD, NEVER PATCH:
  A PayrollRecord is a pure projection of its inputs. Any write to a work
  record, review, bonus, deduction or disbursement is followed by a full
  rebuild. Building twice with no intervening write yields byte-identical
  JSON, checked through Fingerprint.

CANCELLATION:
  Build performs no writes. It can be abandoned at any step and restarted.

NET PAY:
  Statutory withholding is not defined here. It is an injected Withholding;
  NoWithholding (net == gross) is the default.

SEE ALSO:
  - aggregate.go: Totals
  - status.go:    PayrollStatus
  - cache.go:     Memoized records, invalidated on write
*/
package payroll

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYROLL RECORD
// =============================================================================

// PayrollItem is one live WorkRecord paired with its governing review.
type PayrollItem struct {
	Record    WorkRecord    `json:"record"`
	Review    QualityReview `json:"review"`
	Disbursed bool          `json:"disbursed"`
}

// PayrollRecord is the per-employee-per-period aggregate.
type PayrollRecord struct {
	EmployeeID EmployeeID    `json:"employee_id"`
	Period     Period        `json:"period"`
	WorkItems  []PayrollItem `json:"work_items"`

	TotalEstimated decimal.Decimal `json:"total_estimated"`
	TotalApproved  decimal.Decimal `json:"total_approved"`
	TotalPending   decimal.Decimal `json:"total_pending"`
	TotalRejected  decimal.Decimal `json:"total_rejected"`

	Bonuses         []BonusEntry     `json:"bonuses"`
	Deductions      []DeductionEntry `json:"deductions"`
	TotalBonuses    decimal.Decimal  `json:"total_bonuses"`
	TotalDeductions decimal.Decimal  `json:"total_deductions"`

	TotalGross decimal.Decimal `json:"total_gross"`
	TotalNet   decimal.Decimal `json:"total_net"`

	QualityScore *decimal.Decimal `json:"quality_score,omitempty"`
	Status       PayrollStatus    `json:"status"`

	NegativeGross *NegativeGrossWarning `json:"negative_gross,omitempty"`

	// Fingerprint is the SHA-256 of the record's JSON with this field empty.
	Fingerprint string `json:"fingerprint"`
}

// =============================================================================
// WITHHOLDING - Injected gross-to-net function
// =============================================================================

type Withholding interface {
	Net(employeeID EmployeeID, period Period, gross decimal.Decimal) (decimal.Decimal, error)
}

// WithholdingFunc adapts a plain function to Withholding.
type WithholdingFunc func(employeeID EmployeeID, period Period, gross decimal.Decimal) (decimal.Decimal, error)

func (f WithholdingFunc) Net(employeeID EmployeeID, period Period, gross decimal.Decimal) (decimal.Decimal, error) {
	return f(employeeID, period, gross)
}

// NoWithholding returns gross unchanged.
type NoWithholding struct{}

func (NoWithholding) Net(_ EmployeeID, _ Period, gross decimal.Decimal) (decimal.Decimal, error) {
	return gross, nil
}

// =============================================================================
// BUILDER
// =============================================================================

type Builder struct {
	Ledger      *Ledger
	Withholding Withholding
}

func NewBuilder(ledger *Ledger, withholding Withholding) *Builder {
	if withholding == nil {
		withholding = NoWithholding{}
	}
	return &Builder{Ledger: ledger, Withholding: withholding}
}

// Build loads the employee-period's inputs and assembles a fresh record.
func (b *Builder) Build(ctx context.Context, employeeID EmployeeID, period Period) (PayrollRecord, error) {
	store := b.Ledger.Store

	items, err := b.Ledger.WorkItems(ctx, employeeID, period)
	if err != nil {
		return PayrollRecord{}, err
	}
	disbursements, err := store.LoadDisbursements(ctx, employeeID, period)
	if err != nil {
		return PayrollRecord{}, err
	}
	MarkDisbursed(items, disbursements)

	bonuses, err := store.LoadBonuses(ctx, employeeID, period)
	if err != nil {
		return PayrollRecord{}, err
	}
	deductions, err := store.LoadDeductions(ctx, employeeID, period)
	if err != nil {
		return PayrollRecord{}, err
	}
	if err := ctx.Err(); err != nil {
		return PayrollRecord{}, err
	}

	return Assemble(employeeID, period, items, bonuses, deductions, b.Withholding)
}

// MarkDisbursed sets Disbursed on every item whose latest review has a
// confirmation. A confirmation for an older review does not carry over.
func MarkDisbursed(items []WorkItem, disbursements []Disbursement) {
	paid := make(map[ReviewID]bool, len(disbursements))
	for _, d := range disbursements {
		paid[d.ReviewID] = true
	}
	for i := range items {
		latest := items[i].Latest()
		items[i].Disbursed = latest != nil && paid[latest.ID]
	}
}

// Assemble is the pure core of Build.
func Assemble(employeeID EmployeeID, period Period, items []WorkItem, bonuses []BonusEntry, deductions []DeductionEntry, withholding Withholding) (PayrollRecord, error) {
	if withholding == nil {
		withholding = NoWithholding{}
	}

	totals := Aggregate(employeeID, period, items, bonuses, deductions)
	net, err := withholding.Net(employeeID, period, totals.Gross)
	if err != nil {
		return PayrollRecord{}, err
	}

	rec := PayrollRecord{
		EmployeeID:      employeeID,
		Period:          period,
		WorkItems:       make([]PayrollItem, 0, len(items)),
		TotalEstimated:  totals.Estimated,
		TotalApproved:   totals.Approved,
		TotalPending:    totals.Pending,
		TotalRejected:   totals.Rejected,
		Bonuses:         append([]BonusEntry{}, bonuses...),
		Deductions:      append([]DeductionEntry{}, deductions...),
		TotalBonuses:    totals.Bonuses,
		TotalDeductions: totals.Deductions,
		TotalGross:      totals.Gross,
		TotalNet:        RoundCurrency(net),
		QualityScore:    totals.QualityScore,
		Status:          DeriveStatus(items),
		NegativeGross:   totals.NegativeGross,
	}
	for _, item := range items {
		if item.Record.Superseded {
			continue
		}
		rec.WorkItems = append(rec.WorkItems, PayrollItem{
			Record:    item.Record,
			Review:    item.Effective(),
			Disbursed: item.Disbursed,
		})
	}

	fp, err := fingerprint(rec)
	if err != nil {
		return PayrollRecord{}, err
	}
	rec.Fingerprint = fp
	return rec, nil
}

func fingerprint(rec PayrollRecord) (string, error) {
	rec.Fingerprint = ""
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
