package payroll_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/piecework-payroll/payroll"
)

func newTestProcessor() *payroll.Processor {
	p := payroll.NewProcessor(payroll.DefaultDisputeTolerance)
	p.NewID = sequence("rev")
	p.Now = func() time.Time { return reviewDay }
	return p
}

func mustRecord(t *testing.T, unit payroll.WorkUnit, m2, ml string) payroll.WorkRecord {
	t.Helper()
	rec, err := payroll.NewWorkRecord("wr-1", work("emp-1", unit, m2, ml), reviewDay.AddDate(0, 0, -3))
	require.NoError(t, err)
	return rec
}

// =============================================================================
// APPROVAL SPLIT TESTS
// =============================================================================

func TestReview_FullApproval(t *testing.T) {
	// GIVEN: 85.5 m2 × 18 = 1539.00
	// WHEN: Approved at 100%
	// THEN: Everything is approved, nothing pending
	p := newTestProcessor()
	rec := mustRecord(t, walls, "85.5", "0")

	rev, err := p.Review(rec, nil, approval("100", ""))
	require.NoError(t, err)

	assert.Equal(t, payroll.StatusApproved, rev.Status)
	assertMoney(t, "1539.00", rev.ApprovedAmount)
	assertMoney(t, "0.00", rev.PendingAmount)
	assertMoney(t, "0.00", rev.RejectedAmount)
	assert.Equal(t, 1, rev.Version)
	assert.Empty(t, rev.Supersedes)
	require.NotNil(t, rev.ReviewDate)
	assert.Equal(t, reviewDay, *rev.ReviewDate)
	assert.True(t, rev.Reconciles(rec.EstimatedAmount))
}

func TestReview_PartialApproval(t *testing.T) {
	// GIVEN: 92 m2 × 18 + 24.5 ml × 15 = 2023.50
	// WHEN: Approved at 80% with corrections and a deadline
	// THEN: 1618.80 approved, 404.70 pending
	p := newTestProcessor()
	rec := mustRecord(t, wallsCorners, "92.0", "24.5")

	rev, err := p.Review(rec, nil, partial("80", ""))
	require.NoError(t, err)

	assert.Equal(t, payroll.StatusPartiallyApproved, rev.Status)
	assertMoney(t, "1618.80", rev.ApprovedAmount)
	assertMoney(t, "404.70", rev.PendingAmount)
	assertMoney(t, "0.00", rev.RejectedAmount)
	assert.NotEmpty(t, rev.CorrectionsNeeded)
	require.NotNil(t, rev.RevisionDeadline)
	assert.True(t, rev.Reconciles(rec.EstimatedAmount))
}

func TestReview_Rejection(t *testing.T) {
	p := newTestProcessor()
	rec := mustRecord(t, walls, "85.5", "0")

	rev, err := p.Review(rec, nil, partial("0", ""))
	require.NoError(t, err)

	assert.Equal(t, payroll.StatusRejected, rev.Status)
	assertMoney(t, "0.00", rev.ApprovedAmount)
	assertMoney(t, "0.00", rev.PendingAmount)
	assertMoney(t, "1539.00", rev.RejectedAmount)
}

func TestReview_FinalRejectionNeedsNoDeadline(t *testing.T) {
	p := newTestProcessor()
	rec := mustRecord(t, walls, "10", "0")

	in := approval("0", "")
	in.CorrectionsNeeded = "Wrong plaster mix, strip and redo under a new record"
	in.Final = true

	rev, err := p.Review(rec, nil, in)
	require.NoError(t, err)
	assert.True(t, rev.Final)
	assert.Nil(t, rev.RevisionDeadline)
}

func TestReview_ReconciliationHoldsForAnyPercent(t *testing.T) {
	// Awkward estimates and percents must still sum back exactly.
	p := newTestProcessor()
	estimates := []struct{ m2, ml string }{
		{"85.5", "0"}, {"92.0", "24.5"}, {"0.37", "0.11"}, {"13.333", "7.777"},
	}
	percents := []string{"0", "1", "12.5", "33.33", "50", "66.67", "80", "99.99", "100"}

	for _, e := range estimates {
		rec := mustRecord(t, wallsCorners, e.m2, e.ml)
		for _, pct := range percents {
			rev, err := p.Review(rec, nil, partial(pct, ""))
			require.NoError(t, err, "m2=%s ml=%s pct=%s", e.m2, e.ml, pct)

			sum := rev.ApprovedAmount.Add(rev.PendingAmount).Add(rev.RejectedAmount)
			assert.True(t, sum.Sub(rec.EstimatedAmount).Abs().LessThanOrEqual(payroll.Epsilon),
				"m2=%s ml=%s pct=%s: %s != %s", e.m2, e.ml, pct, sum, rec.EstimatedAmount)
		}
	}
}

func TestReview_ProvenanceFromVerifiedMeters(t *testing.T) {
	p := newTestProcessor()
	rec := mustRecord(t, walls, "85.5", "0")

	unverified, err := p.Review(rec, nil, approval("100", ""))
	require.NoError(t, err)
	assert.Equal(t, payroll.ProvenanceUnverified, unverified.Provenance)
	assert.True(t, unverified.MetersVerified.Equal(d("85.5")))

	in := approval("100", "")
	in.MetersVerified = dp("84")
	verified, err := p.Review(rec, nil, in)
	require.NoError(t, err)
	assert.Equal(t, payroll.ProvenanceVerified, verified.Provenance)
	assert.True(t, verified.MetersVerified.Equal(d("84")))
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestReview_ValidationErrors(t *testing.T) {
	past := reviewDay.AddDate(0, 0, -1)

	tests := []struct {
		name  string
		in    func() payroll.ReviewInput
		field string
	}{
		{"missing reviewer", func() payroll.ReviewInput {
			in := approval("100", "")
			in.ReviewerID = " "
			return in
		}, "reviewer_id"},
		{"percent above 100", func() payroll.ReviewInput { return approval("100.01", "") }, "approval_percent"},
		{"negative percent", func() payroll.ReviewInput { return approval("-1", "") }, "approval_percent"},
		{"partial without corrections", func() payroll.ReviewInput {
			in := partial("80", "")
			in.CorrectionsNeeded = ""
			return in
		}, "corrections_needed"},
		{"partial without deadline", func() payroll.ReviewInput {
			in := partial("80", "")
			in.RevisionDeadline = nil
			return in
		}, "revision_deadline"},
		{"deadline in the past", func() payroll.ReviewInput {
			in := partial("80", "")
			in.RevisionDeadline = &past
			return in
		}, "revision_deadline"},
		{"deadline equal to review date", func() payroll.ReviewInput {
			in := partial("80", "")
			day := reviewDay
			in.RevisionDeadline = &day
			return in
		}, "revision_deadline"},
		{"non-final rejection without deadline", func() payroll.ReviewInput {
			in := partial("0", "")
			in.RevisionDeadline = nil
			return in
		}, "revision_deadline"},
		{"final approval", func() payroll.ReviewInput {
			in := approval("100", "")
			in.Final = true
			return in
		}, "final"},
		{"negative verified meters", func() payroll.ReviewInput {
			in := approval("100", "")
			in.MetersVerified = dp("-2")
			return in
		}, "meters_verified"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor()
			rec := mustRecord(t, walls, "85.5", "0")

			_, err := p.Review(rec, nil, tt.in())

			var verr *payroll.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.True(t, payroll.IsClientError(err))
		})
	}
}

// =============================================================================
// DISPUTE TESTS
// =============================================================================

func TestReview_MeasurementDispute(t *testing.T) {
	// GIVEN: A claim of 85.5 m2
	// WHEN: The coordinator measures 87 m2 (over the 0.5 tolerance)
	// THEN: The review is refused for manual arbitration
	p := newTestProcessor()
	rec := mustRecord(t, walls, "85.5", "0")

	in := approval("100", "")
	in.MetersVerified = dp("87")
	_, err := p.Review(rec, nil, in)

	var dispute *payroll.MeasurementDisputeError
	require.ErrorAs(t, err, &dispute)
	assert.True(t, dispute.Claimed.Equal(d("85.5")))
	assert.True(t, dispute.Verified.Equal(d("87")))
	assert.False(t, payroll.IsClientError(err))
	assert.False(t, payroll.IsRetryable(err))
}

func TestReview_WithinToleranceIsAccepted(t *testing.T) {
	p := newTestProcessor()
	rec := mustRecord(t, walls, "85.5", "0")

	in := approval("100", "")
	in.MetersVerified = dp("86.0")
	_, err := p.Review(rec, nil, in)
	assert.NoError(t, err)
}

func TestReview_LinearOnlyWorkIsNeverDisputed(t *testing.T) {
	// GIVEN: Corner beads claimed in linear meters only, no area
	// WHEN: The coordinator records a verified measurement
	// THEN: There is no area claim to dispute, the review goes through
	corners := payroll.WorkUnit{ID: "corners", TaskType: "Corner beads", RatePerSquareMeter: decimal.Zero, RatePerLinearMeter: decimal.NewFromInt(15)}
	p := newTestProcessor()
	rec := mustRecord(t, corners, "0", "24.5")

	in := approval("100", "")
	in.MetersVerified = dp("10")
	rev, err := p.Review(rec, nil, in)
	require.NoError(t, err)
	assert.Equal(t, payroll.ProvenanceVerified, rev.Provenance)
	assertMoney(t, "367.50", rev.ApprovedAmount)
}

func TestReview_CustomTolerance(t *testing.T) {
	p := newTestProcessor()
	p.DisputeTolerance = decimal.Zero
	rec := mustRecord(t, walls, "85.5", "0")

	in := approval("100", "")
	in.MetersVerified = dp("85.6")
	_, err := p.Review(rec, nil, in)
	assert.ErrorIs(t, err, payroll.ErrMeasurementDispute)
}

// =============================================================================
// SUPERSESSION TESTS
// =============================================================================

func TestReview_ReReviewSupersedesPrior(t *testing.T) {
	p := newTestProcessor()
	rec := mustRecord(t, walls, "85.5", "0")

	first, err := p.Review(rec, nil, approval("100", ""))
	require.NoError(t, err)

	second, err := p.Review(rec, &first, partial("90", first.ID))
	require.NoError(t, err)

	assert.Equal(t, 2, second.Version)
	assert.Equal(t, first.ID, second.Supersedes)
	assertMoney(t, "1385.10", second.ApprovedAmount)
	assertMoney(t, "153.90", second.PendingAmount)
}

func TestReview_StaleExpectedPrior(t *testing.T) {
	tests := []struct {
		name     string
		prior    bool
		expected payroll.ReviewID
	}{
		{"first review naming a prior", false, "rev-x"},
		{"re-review naming no prior", true, ""},
		{"re-review naming an old prior", true, "rev-old"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor()
			rec := mustRecord(t, walls, "85.5", "0")

			var prior *payroll.QualityReview
			if tt.prior {
				first, err := p.Review(rec, nil, approval("100", ""))
				require.NoError(t, err)
				prior = &first
			}

			_, err := p.Review(rec, prior, approval("100", tt.expected))

			var stale *payroll.StaleReviewError
			require.ErrorAs(t, err, &stale)
			assert.Equal(t, tt.expected, stale.Expected)
			assert.True(t, payroll.IsRetryable(err))
		})
	}
}

func TestReview_SupersededRecordRefused(t *testing.T) {
	p := newTestProcessor()
	rec := mustRecord(t, walls, "85.5", "0")
	rec.Superseded = true

	_, err := p.Review(rec, nil, approval("100", ""))
	assert.ErrorIs(t, err, payroll.ErrWorkRecordSuperseded)
}

func TestSplit_Status(t *testing.T) {
	approved, pending, rejected := payroll.Split(d("100.01"), d("33.33"), payroll.StatusPartiallyApproved)

	assertMoney(t, "33.33", approved)
	assertMoney(t, "66.68", pending)
	assertMoney(t, "0.00", rejected)
}
