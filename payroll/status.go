/*
status.go - Payroll status derivation

PURPOSE:
  Derives one payment status for an employee-period from the states of its
  live work items. Never stored and patched, always recomputed.

PRECEDENCE (first match wins):
  1. No live items, or any item still pending_review       → pending
  2. Any partially_approved, or rejected and not final     → processing
  3. Approved items exist, none disbursed                  → processing
  4. Some approved items disbursed, not all                → partially_paid
  5. Every approved item disbursed                         → paid

  A final rejection is a permanent discard and owes nothing, so it never
  holds a period back from paid. Disbursement is an external signal
  (WorkItem.Disbursed), not inferred from approval percentages.
*/
package payroll

type PayrollStatus string

const (
	PayrollPending       PayrollStatus = "pending"
	PayrollProcessing    PayrollStatus = "processing"
	PayrollPartiallyPaid PayrollStatus = "partially_paid"
	PayrollPaid          PayrollStatus = "paid"
)

// DeriveStatus applies the precedence rules above. Superseded records are
// ignored.
func DeriveStatus(items []WorkItem) PayrollStatus {
	var live, approved, disbursed int
	outstanding := false

	for _, item := range items {
		if item.Record.Superseded {
			continue
		}
		live++

		rev := item.Effective()
		switch rev.Status {
		case StatusPendingReview:
			return PayrollPending
		case StatusPartiallyApproved:
			outstanding = true
		case StatusRejected:
			if !rev.Final {
				outstanding = true
			}
		case StatusApproved:
			approved++
			if item.Disbursed {
				disbursed++
			}
		}
	}

	switch {
	case live == 0:
		return PayrollPending
	case outstanding:
		return PayrollProcessing
	case approved > 0 && disbursed == 0:
		return PayrollProcessing
	case disbursed < approved:
		return PayrollPartiallyPaid
	default:
		return PayrollPaid
	}
}
