/*
ledger.go - Append-only WorkRecord ledger

PURPOSE:
  Records measured claims of work and freezes their estimated amount. The
  ledger holds no quality logic; verdicts live in review.go.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: a WorkRecord is never edited or deleted
  2. FROZEN ESTIMATE: EstimatedAmount is computed once, at creation
  3. MONOTONIC SUPERSESSION: a superseded record stays superseded forever

CORRECTIONS:
  A wrong measurement is not edited. Instead:
  1. A new WorkRecord is appended with the corrected meters
  2. The old record is flagged Superseded (pointing at the new one)
  3. Both remain in the store; only the new one is aggregated

EXAMPLE FLOW:
  1. Worker claims 92 m2 at apartment A-12:      WR-1 (est 1656.00)
  2. Coordinator approves 80%:                   review v1 on WR-1
  3. Worker fixes corners, re-measures 95 m2:    WR-2, WR-1 superseded
  4. Coordinator approves WR-2 at 100%:          review v1 on WR-2
  Payroll now counts WR-2 only; WR-1 and its review stay for audit.

SEE ALSO:
  - store.go: Persistence interface
  - review.go: Quality verdicts on ledger records
*/
package payroll

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// WORK INPUT
// =============================================================================

// WorkInput is a measurement submission. Callers are expected to have
// applied input-shape validation already; range checks happen here.
type WorkInput struct {
	EmployeeID     EmployeeID
	Period         Period
	LocationRef    string
	WorkUnit       WorkUnit
	MetersSquare   decimal.Decimal
	MetersLinear   decimal.Decimal
	IdempotencyKey string
}

// ValidateMeasurement enforces meters >= 0 and that some work is claimed.
func ValidateMeasurement(metersSquare, metersLinear decimal.Decimal) error {
	switch {
	case metersSquare.IsNegative():
		return &InvalidMeasurementError{MetersSquare: metersSquare, MetersLinear: metersLinear, Reason: "square meters must not be negative"}
	case metersLinear.IsNegative():
		return &InvalidMeasurementError{MetersSquare: metersSquare, MetersLinear: metersLinear, Reason: "linear meters must not be negative"}
	case metersSquare.IsZero() && metersLinear.IsZero():
		return &InvalidMeasurementError{MetersSquare: metersSquare, MetersLinear: metersLinear, Reason: "a record must claim some work"}
	}
	return nil
}

// NewWorkRecord validates the input and computes the frozen estimate.
// Pure: no I/O, the caller supplies id and creation time.
func NewWorkRecord(id WorkRecordID, in WorkInput, createdAt time.Time) (WorkRecord, error) {
	if err := ValidateMeasurement(in.MetersSquare, in.MetersLinear); err != nil {
		return WorkRecord{}, err
	}
	if in.Period.IsZero() {
		return WorkRecord{}, ErrInvalidPeriod
	}
	return WorkRecord{
		ID:              id,
		EmployeeID:      in.EmployeeID,
		Period:          in.Period,
		LocationRef:     in.LocationRef,
		WorkUnit:        in.WorkUnit,
		MetersSquare:    in.MetersSquare,
		MetersLinear:    in.MetersLinear,
		EstimatedAmount: in.WorkUnit.Estimate(in.MetersSquare, in.MetersLinear),
		IdempotencyKey:  in.IdempotencyKey,
		CreatedAt:       createdAt.UTC(),
	}, nil
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store Store
	NewID func() string
	Now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store, NewID: uuid.NewString, Now: time.Now}
}

// RecordWork validates, prices and appends a new WorkRecord.
func (l *Ledger) RecordWork(ctx context.Context, in WorkInput) (WorkRecord, error) {
	rec, err := NewWorkRecord(WorkRecordID(l.NewID()), in, l.Now())
	if err != nil {
		return WorkRecord{}, err
	}
	if err := l.Store.AppendWorkRecord(ctx, rec); err != nil {
		return WorkRecord{}, err
	}
	return rec, nil
}

// Correct appends a re-measured record for the same employee, period,
// location and work unit, and supersedes the old one. Both writes happen in
// one transaction when the store supports it.
func (l *Ledger) Correct(ctx context.Context, oldID WorkRecordID, metersSquare, metersLinear decimal.Decimal, idempotencyKey string) (WorkRecord, error) {
	old, err := l.Store.GetWorkRecord(ctx, oldID)
	if err != nil {
		return WorkRecord{}, err
	}
	if old.Superseded {
		return WorkRecord{}, ErrAlreadySuperseded
	}

	rec, err := NewWorkRecord(WorkRecordID(l.NewID()), WorkInput{
		EmployeeID:     old.EmployeeID,
		Period:         old.Period,
		LocationRef:    old.LocationRef,
		WorkUnit:       old.WorkUnit,
		MetersSquare:   metersSquare,
		MetersLinear:   metersLinear,
		IdempotencyKey: idempotencyKey,
	}, l.Now())
	if err != nil {
		return WorkRecord{}, err
	}
	rec.Supersedes = old.ID

	write := func(s Store) error {
		if err := s.AppendWorkRecord(ctx, rec); err != nil {
			return err
		}
		return s.MarkSuperseded(ctx, old.ID, rec.ID)
	}

	if tx, ok := l.Store.(TxStore); ok {
		err = tx.WithTx(ctx, write)
	} else {
		err = write(l.Store)
	}
	if err != nil {
		return WorkRecord{}, err
	}
	return rec, nil
}

// WorkItems returns the live (non-superseded) records of an employee-period
// with their full review histories attached.
func (l *Ledger) WorkItems(ctx context.Context, employeeID EmployeeID, period Period) ([]WorkItem, error) {
	records, err := l.Store.LoadWorkRecords(ctx, employeeID, period)
	if err != nil {
		return nil, err
	}

	items := make([]WorkItem, 0, len(records))
	for _, rec := range records {
		if rec.Superseded {
			continue
		}
		reviews, err := l.Store.LoadReviews(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, WorkItem{Record: rec, Reviews: reviews})
	}
	return items, nil
}

// History returns a record and every review ever issued for it.
func (l *Ledger) History(ctx context.Context, id WorkRecordID) (WorkRecord, []QualityReview, error) {
	rec, err := l.Store.GetWorkRecord(ctx, id)
	if err != nil {
		return WorkRecord{}, nil, err
	}
	reviews, err := l.Store.LoadReviews(ctx, id)
	if err != nil {
		return WorkRecord{}, nil, err
	}
	return rec, reviews, nil
}
