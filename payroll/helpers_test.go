package payroll_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/piecework-payroll/payroll"
	"github.com/warp/piecework-payroll/payroll/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	march      = payroll.Period{Year: 2025, Month: time.March}
	reviewDay  = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
	inTwoWeeks = reviewDay.AddDate(0, 0, 14)

	walls = payroll.WorkUnit{
		ID:                 "walls",
		TaskType:           "Wall plastering",
		RatePerSquareMeter: decimal.NewFromInt(18),
		RatePerLinearMeter: decimal.Zero,
	}
	wallsCorners = payroll.WorkUnit{
		ID:                 "walls-corners",
		TaskType:           "Walls with corner beads",
		RatePerSquareMeter: decimal.NewFromInt(18),
		RatePerLinearMeter: decimal.NewFromInt(15),
	}
	ceilings = payroll.WorkUnit{
		ID:                 "ceilings",
		TaskType:           "Ceiling plastering",
		RatePerSquareMeter: decimal.NewFromInt(22),
		RatePerLinearMeter: decimal.Zero,
	}
)

func d(s string) decimal.Decimal { return payroll.MustDecimal(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// sequence returns deterministic ids: prefix-1, prefix-2, ...
func sequence(prefix string) func() string {
	var n int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&n, 1))
	}
}

// clock returns a Now func that advances one second per call so records
// created in a test keep a stable order.
func clock(start time.Time) func() time.Time {
	var n int64
	return func() time.Time {
		return start.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Second)
	}
}

func newTestService(t *testing.T) (*payroll.Service, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	svc := payroll.NewService(mem, payroll.Options{
		DisputeTolerance: payroll.DefaultDisputeTolerance,
		Records:          mem,
	})
	svc.Ledger.NewID = sequence("id")
	svc.Ledger.Now = clock(reviewDay)
	return svc, mem
}

func work(emp payroll.EmployeeID, unit payroll.WorkUnit, m2, ml string) payroll.WorkInput {
	return payroll.WorkInput{
		EmployeeID:   emp,
		Period:       march,
		LocationRef:  "A-12",
		WorkUnit:     unit,
		MetersSquare: d(m2),
		MetersLinear: d(ml),
	}
}

func approval(pct string, prior payroll.ReviewID) payroll.ReviewInput {
	return payroll.ReviewInput{
		ReviewerID:      "coord-01",
		ApprovalPercent: d(pct),
		ExpectedPrior:   prior,
	}
}

func partial(pct string, prior payroll.ReviewID) payroll.ReviewInput {
	deadline := inTwoWeeks
	return payroll.ReviewInput{
		ReviewerID:        "coord-01",
		ApprovalPercent:   d(pct),
		CorrectionsNeeded: "Fix corner beads",
		RevisionDeadline:  &deadline,
		ExpectedPrior:     prior,
	}
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(payroll.CurrencyPlaces), msgAndArgs...)
}
