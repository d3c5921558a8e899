/*
aggregate.go - Compensation aggregation

PURPOSE:
  Sums the sub-amounts of every live work item of an employee-period and
  folds in bonuses and deductions. Pure: same inputs, same Totals.

FORMULAS:
  TotalEstimated = Σ estimated_amount
  TotalApproved  = Σ approved_amount   (latest review per item)
  TotalPending   = Σ pending_amount    (unreviewed items count fully pending)
  TotalRejected  = Σ rejected_amount
  TotalGross     = max(0, TotalApproved + Σ bonuses − Σ deductions)
  QualityScore   = mean(approval_percent) over REVIEWED items only

GROSS CLAMP:
  When deductions exceed approved pay plus bonuses, gross is clamped to zero
  and exactly one NegativeGrossWarning is attached to the Totals.

SEE ALSO:
  - review.go: Where the per-item sub-amounts come from
  - status.go: Payment status over the same items
*/
package payroll

import "github.com/shopspring/decimal"

// Totals is the aggregated money view of one employee-period.
type Totals struct {
	Estimated  decimal.Decimal
	Approved   decimal.Decimal
	Pending    decimal.Decimal
	Rejected   decimal.Decimal
	Bonuses    decimal.Decimal
	Deductions decimal.Decimal
	Gross      decimal.Decimal

	// QualityScore is nil until at least one item has been reviewed.
	QualityScore  *decimal.Decimal
	ReviewedItems int

	// NegativeGross is set when gross had to be clamped to zero.
	NegativeGross *NegativeGrossWarning
}

// Aggregate computes Totals. Superseded records are skipped even if the
// caller passes them in.
func Aggregate(employeeID EmployeeID, period Period, items []WorkItem, bonuses []BonusEntry, deductions []DeductionEntry) Totals {
	t := Totals{
		Estimated:  decimal.Zero,
		Approved:   decimal.Zero,
		Pending:    decimal.Zero,
		Rejected:   decimal.Zero,
		Bonuses:    decimal.Zero,
		Deductions: decimal.Zero,
	}

	pctSum := decimal.Zero
	for _, item := range items {
		if item.Record.Superseded {
			continue
		}
		rev := item.Effective()
		t.Estimated = t.Estimated.Add(item.Record.EstimatedAmount)
		t.Approved = t.Approved.Add(rev.ApprovedAmount)
		t.Pending = t.Pending.Add(rev.PendingAmount)
		t.Rejected = t.Rejected.Add(rev.RejectedAmount)

		if rev.IsReviewed() {
			pctSum = pctSum.Add(rev.ApprovalPercent)
			t.ReviewedItems++
		}
	}

	if t.ReviewedItems > 0 {
		score := RoundCurrency(pctSum.Div(decimal.NewFromInt(int64(t.ReviewedItems))))
		t.QualityScore = &score
	}

	for _, b := range bonuses {
		t.Bonuses = t.Bonuses.Add(b.Amount)
	}
	for _, d := range deductions {
		t.Deductions = t.Deductions.Add(d.Amount)
	}

	gross := t.Approved.Add(t.Bonuses).Sub(t.Deductions)
	if gross.IsNegative() {
		t.NegativeGross = &NegativeGrossWarning{
			EmployeeID: employeeID,
			Period:     period,
			Shortfall:  gross.Neg(),
		}
		gross = decimal.Zero
	}
	t.Gross = gross

	return t
}
