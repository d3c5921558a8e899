/*
review.go - Quality review processor

PURPOSE:
  Applies a coordinator's verdict to a WorkRecord and splits its estimate
  into approved, pending and rejected sub-amounts.

STATE MACHINE (state of the LATEST review of a record):

      ┌────────────────┐   pct = 100    ┌──────────┐
      │ pending_review │ ─────────────▶ │ approved │
      │   (implicit)   │                └──────────┘
      └────────────────┘                     ▲ │
             │ 0 < pct < 100                 │ │ any state may move to any
             ▼                               │ ▼ other via a new review
      ┌────────────────────┐   pct = 0  ┌──────────┐
      │ partially_approved │ ─────────▶ │ rejected │
      └────────────────────┘            └──────────┘

AMOUNT SPLIT:
  approved_amount = round2(estimated × pct / 100)
  approved:            pending = 0,                    rejected = 0
  partially_approved:  pending = estimated − approved, rejected = 0
  rejected:            pending = 0,                    rejected = estimated
  approved + pending + rejected == estimated, always.

REQUIREMENTS:
  partially_approved: corrections_needed + revision_deadline > review_date
  rejected:           corrections_needed; deadline unless final

SUPERSESSION:
  A review names the review it replaces (ExpectedPrior). If that is not the
  current latest review, the write is stale and must be retried after a
  refetch. Versions are monotonic per work record.
*/
package payroll

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultDisputeTolerance is the slack, in square meters, a verified
// measurement may exceed the claim by before it is disputed.
var DefaultDisputeTolerance = decimal.RequireFromString("0.5")

// ReviewInput is a coordinator's verdict on one WorkRecord.
type ReviewInput struct {
	ReviewerID string

	// MetersVerified is the coordinator's own measurement. nil means the
	// claimed value is used and the review is marked unverified.
	MetersVerified *decimal.Decimal

	ApprovalPercent   decimal.Decimal
	Feedback          string
	CorrectionsNeeded string
	RevisionDeadline  *time.Time

	// Final declares a rejection a permanent discard (no deadline needed).
	Final bool

	// ExpectedPrior is the review this one supersedes; "" for a first review.
	ExpectedPrior ReviewID
}

// Processor turns verdicts into QualityReviews. It performs no I/O.
type Processor struct {
	DisputeTolerance decimal.Decimal
	NewID            func() string
	Now              func() time.Time
}

func NewProcessor(tolerance decimal.Decimal) *Processor {
	return &Processor{DisputeTolerance: tolerance, NewID: uuid.NewString, Now: time.Now}
}

// Review validates the verdict against the record and its current latest
// review (prior, nil when none) and returns the superseding QualityReview.
func (p *Processor) Review(rec WorkRecord, prior *QualityReview, in ReviewInput) (QualityReview, error) {
	if rec.Superseded {
		return QualityReview{}, ErrWorkRecordSuperseded
	}

	var current ReviewID
	version := 1
	if prior != nil {
		current = prior.ID
		version = prior.Version + 1
	}
	if in.ExpectedPrior != current {
		return QualityReview{}, &StaleReviewError{WorkRecordID: rec.ID, Expected: in.ExpectedPrior, Current: current}
	}

	if strings.TrimSpace(in.ReviewerID) == "" {
		return QualityReview{}, &ValidationError{Field: "reviewer_id", Reason: "required"}
	}
	pct := in.ApprovalPercent
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return QualityReview{}, &ValidationError{Field: "approval_percent", Reason: "must be within [0, 100]"}
	}

	verified, provenance := rec.MetersSquare, ProvenanceUnverified
	if in.MetersVerified != nil {
		verified, provenance = *in.MetersVerified, ProvenanceVerified
		if verified.IsNegative() {
			return QualityReview{}, &ValidationError{Field: "meters_verified", Reason: "must not be negative"}
		}
		// Verification is of the area claim. Linear-only work has none.
		if rec.MetersSquare.IsPositive() && verified.Sub(rec.MetersSquare).GreaterThan(p.DisputeTolerance) {
			return QualityReview{}, &MeasurementDisputeError{
				WorkRecordID: rec.ID,
				Claimed:      rec.MetersSquare,
				Verified:     verified,
				Tolerance:    p.DisputeTolerance,
			}
		}
	}

	reviewDate := p.Now().UTC()
	status := statusFor(pct)
	if err := checkRequirements(status, in, reviewDate); err != nil {
		return QualityReview{}, err
	}

	approved, pending, rejected := Split(rec.EstimatedAmount, pct, status)

	return QualityReview{
		ID:                ReviewID(p.NewID()),
		WorkRecordID:      rec.ID,
		Version:           version,
		Supersedes:        current,
		ReviewerID:        in.ReviewerID,
		ReviewDate:        &reviewDate,
		MetersVerified:    verified,
		Provenance:        provenance,
		ApprovalPercent:   pct,
		ApprovedAmount:    approved,
		PendingAmount:     pending,
		RejectedAmount:    rejected,
		Feedback:          in.Feedback,
		CorrectionsNeeded: in.CorrectionsNeeded,
		RevisionDeadline:  in.RevisionDeadline,
		Final:             in.Final,
		Status:            status,
	}, nil
}

func statusFor(pct decimal.Decimal) ReviewStatus {
	switch {
	case pct.Equal(hundred):
		return StatusApproved
	case pct.IsZero():
		return StatusRejected
	default:
		return StatusPartiallyApproved
	}
}

func checkRequirements(status ReviewStatus, in ReviewInput, reviewDate time.Time) error {
	if in.Final && status != StatusRejected {
		return &ValidationError{Field: "final", Reason: "only a rejection can be final"}
	}
	if status == StatusApproved {
		return nil
	}

	if strings.TrimSpace(in.CorrectionsNeeded) == "" {
		return &ValidationError{Field: "corrections_needed", Reason: "required when approval is below 100%"}
	}

	needDeadline := status == StatusPartiallyApproved || !in.Final
	if in.RevisionDeadline == nil {
		if needDeadline {
			return &ValidationError{Field: "revision_deadline", Reason: "required when corrections are needed"}
		}
		return nil
	}
	if !in.RevisionDeadline.After(reviewDate) {
		return &ValidationError{Field: "revision_deadline", Reason: "must be after the review date"}
	}
	return nil
}

// Split divides an estimate according to the approval percent and status.
// The three parts always sum to estimated.
func Split(estimated, pct decimal.Decimal, status ReviewStatus) (approved, pending, rejected decimal.Decimal) {
	switch status {
	case StatusApproved:
		return estimated, decimal.Zero, decimal.Zero
	case StatusRejected:
		return decimal.Zero, decimal.Zero, estimated
	default:
		approved = RoundCurrency(estimated.Mul(pct).Div(hundred))
		return approved, estimated.Sub(approved), decimal.Zero
	}
}
