/*
service.go - Payroll service (write orchestration)

PURPOSE:
  The single entry point for writes. Every write goes through the same
  three steps:
    1. Validate and append (ledger, review processor, adjustments)
    2. Invalidate the cached PayrollRecord of the touched employee-period
    3. Notify listeners so the record can be rebuilt in the background

  Reads go through Build (memoized) or Rebuild (fresh, persisted).

SNAPSHOTS:
  Rebuild only persists a record if no write touched its employee-period
  while it was being built. Whoever builds after that write saves instead,
  so a slow build (sweep, batch run) never replaces a newer snapshot.

SEE ALSO:
  - ledger.go, review.go: Domain rules for the writes
  - builder.go:           Record assembly
  - api/rebuilder.go:     Event-driven background rebuilds
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ChangeFunc is told which employee-period a write touched.
type ChangeFunc func(employeeID EmployeeID, period Period)

type Options struct {
	DisputeTolerance decimal.Decimal
	Withholding      Withholding
	Records          RecordStore // optional snapshot persistence
	Log              logrus.FieldLogger
}

type Service struct {
	Ledger    *Ledger
	Processor *Processor
	Builder   *Builder
	Cache     *RecordCache
	Records   RecordStore
	Log       logrus.FieldLogger

	mu        sync.RWMutex
	listeners []ChangeFunc
	saveMu    sync.Mutex // orders the generation check with SaveRecord
}

func NewService(store Store, opts Options) *Service {
	ledger := NewLedger(store)

	// The processor shares the ledger's clock and id source.
	processor := NewProcessor(opts.DisputeTolerance)
	processor.Now = func() time.Time { return ledger.Now() }
	processor.NewID = func() string { return ledger.NewID() }

	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Service{
		Ledger:    ledger,
		Processor: processor,
		Builder:   NewBuilder(ledger, opts.Withholding),
		Cache:     NewRecordCache(),
		Records:   opts.Records,
		Log:       log,
	}
}

// Subscribe registers fn to be called after every acknowledged write.
func (s *Service) Subscribe(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) changed(employeeID EmployeeID, period Period) {
	s.Cache.Invalidate(employeeID, period)

	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(employeeID, period)
	}
}

// =============================================================================
// WORK RECORDS
// =============================================================================

func (s *Service) RecordWork(ctx context.Context, in WorkInput) (WorkRecord, error) {
	rec, err := s.Ledger.RecordWork(ctx, in)
	if err != nil {
		return WorkRecord{}, err
	}
	s.changed(rec.EmployeeID, rec.Period)
	return rec, nil
}

// Correct re-measures a record. See Ledger.Correct.
func (s *Service) Correct(ctx context.Context, id WorkRecordID, metersSquare, metersLinear decimal.Decimal, idempotencyKey string) (WorkRecord, error) {
	rec, err := s.Ledger.Correct(ctx, id, metersSquare, metersLinear, idempotencyKey)
	if err != nil {
		return WorkRecord{}, err
	}
	s.changed(rec.EmployeeID, rec.Period)
	return rec, nil
}

func (s *Service) History(ctx context.Context, id WorkRecordID) (WorkRecord, []QualityReview, error) {
	return s.Ledger.History(ctx, id)
}

// =============================================================================
// QUALITY REVIEWS
// =============================================================================

// SubmitReview issues a verdict on a record. in.ExpectedPrior must name the
// current latest review; the store re-checks it atomically with the write.
func (s *Service) SubmitReview(ctx context.Context, id WorkRecordID, in ReviewInput) (QualityReview, error) {
	store := s.Ledger.Store

	rec, err := store.GetWorkRecord(ctx, id)
	if err != nil {
		return QualityReview{}, err
	}
	reviews, err := store.LoadReviews(ctx, id)
	if err != nil {
		return QualityReview{}, err
	}
	prior := WorkItem{Record: rec, Reviews: reviews}.Latest()

	rev, err := s.Processor.Review(rec, prior, in)
	if err != nil {
		var dispute *MeasurementDisputeError
		if errors.As(err, &dispute) {
			s.Log.WithFields(logrus.Fields{
				"work_record_id": rec.ID,
				"employee_id":    rec.EmployeeID,
				"claimed_m2":     dispute.Claimed.String(),
				"verified_m2":    dispute.Verified.String(),
			}).Warn("measurement dispute flagged for arbitration")
		}
		return QualityReview{}, err
	}

	if err := store.AppendReview(ctx, rev); err != nil {
		return QualityReview{}, err
	}
	s.changed(rec.EmployeeID, rec.Period)
	return rev, nil
}

// =============================================================================
// BONUSES & DEDUCTIONS
// =============================================================================

func (s *Service) AddBonus(ctx context.Context, b BonusEntry) (BonusEntry, error) {
	switch b.Type {
	case BonusQuality, BonusProductivity, BonusOvertime, BonusOther:
	default:
		return BonusEntry{}, fmt.Errorf("%w: unknown bonus type %q", ErrInvalidAdjustment, b.Type)
	}
	if err := validateAdjustment(b.EmployeeID, b.Period, b.Amount); err != nil {
		return BonusEntry{}, err
	}

	b.ID = s.Ledger.NewID()
	b.Amount = RoundCurrency(b.Amount)
	b.CreatedAt = s.Ledger.Now().UTC()
	if err := s.Ledger.Store.AppendBonus(ctx, b); err != nil {
		return BonusEntry{}, err
	}
	s.changed(b.EmployeeID, b.Period)
	return b, nil
}

func (s *Service) AddDeduction(ctx context.Context, d DeductionEntry) (DeductionEntry, error) {
	switch d.Type {
	case DeductionAdvance, DeductionMaterialDamage, DeductionEquipment, DeductionOther:
	default:
		return DeductionEntry{}, fmt.Errorf("%w: unknown deduction type %q", ErrInvalidAdjustment, d.Type)
	}
	if err := validateAdjustment(d.EmployeeID, d.Period, d.Amount); err != nil {
		return DeductionEntry{}, err
	}

	d.ID = s.Ledger.NewID()
	d.Amount = RoundCurrency(d.Amount)
	d.CreatedAt = s.Ledger.Now().UTC()
	if err := s.Ledger.Store.AppendDeduction(ctx, d); err != nil {
		return DeductionEntry{}, err
	}
	s.changed(d.EmployeeID, d.Period)
	return d, nil
}

func validateAdjustment(employeeID EmployeeID, period Period, amount decimal.Decimal) error {
	switch {
	case strings.TrimSpace(string(employeeID)) == "":
		return fmt.Errorf("%w: employee is required", ErrInvalidAdjustment)
	case period.IsZero():
		return fmt.Errorf("%w: period is required", ErrInvalidAdjustment)
	case amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidAdjustment)
	}
	return nil
}

// =============================================================================
// DISBURSEMENTS
// =============================================================================

// ConfirmDisbursement records that the approved amount of the record's
// latest review was paid out.
func (s *Service) ConfirmDisbursement(ctx context.Context, id WorkRecordID, reference string) (Disbursement, error) {
	store := s.Ledger.Store

	rec, err := store.GetWorkRecord(ctx, id)
	if err != nil {
		return Disbursement{}, err
	}
	if rec.Superseded {
		return Disbursement{}, ErrWorkRecordSuperseded
	}
	reviews, err := store.LoadReviews(ctx, id)
	if err != nil {
		return Disbursement{}, err
	}
	latest := WorkItem{Record: rec, Reviews: reviews}.Latest()
	if latest == nil || !latest.ApprovedAmount.IsPositive() {
		return Disbursement{}, ErrNothingToDisburse
	}

	d := Disbursement{
		ID:           s.Ledger.NewID(),
		EmployeeID:   rec.EmployeeID,
		Period:       rec.Period,
		WorkRecordID: rec.ID,
		ReviewID:     latest.ID,
		Amount:       latest.ApprovedAmount,
		Reference:    reference,
		ConfirmedAt:  s.Ledger.Now().UTC(),
	}
	if err := store.AppendDisbursement(ctx, d); err != nil {
		return Disbursement{}, err
	}
	s.changed(rec.EmployeeID, rec.Period)
	return d, nil
}

// =============================================================================
// READS
// =============================================================================

// Build returns the memoized record or builds and caches a fresh one.
func (s *Service) Build(ctx context.Context, employeeID EmployeeID, period Period) (PayrollRecord, error) {
	rec, gen, ok := s.Cache.Get(employeeID, period)
	if ok {
		return rec, nil
	}
	rec, err := s.Builder.Build(ctx, employeeID, period)
	if err != nil {
		return PayrollRecord{}, err
	}
	s.Cache.Put(rec, gen)
	return rec, nil
}

// Rebuild always builds from the store and persists the snapshot when a
// RecordStore is configured. Only the finished record is written, and only
// if no write to the employee-period happened during the build.
func (s *Service) Rebuild(ctx context.Context, employeeID EmployeeID, period Period) (PayrollRecord, error) {
	_, gen, _ := s.Cache.Get(employeeID, period)
	rec, err := s.Builder.Build(ctx, employeeID, period)
	if err != nil {
		return PayrollRecord{}, err
	}
	if s.Records != nil {
		if err := s.persist(ctx, rec, gen); err != nil {
			return PayrollRecord{}, err
		}
	}
	s.Cache.Put(rec, gen)

	if rec.NegativeGross != nil {
		s.Log.WithFields(logrus.Fields{
			"employee_id": employeeID,
			"period":      period.String(),
			"shortfall":   rec.NegativeGross.Shortfall.StringFixed(CurrencyPlaces),
		}).Warn("gross clamped to zero, deductions need manual adjustment")
	}
	return rec, nil
}

// persist saves rec unless its employee-period changed after generation gen
// was read. A skipped record is still returned to the caller.
func (s *Service) persist(ctx context.Context, rec PayrollRecord, gen uint64) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if s.Cache.Generation(rec.EmployeeID, rec.Period) != gen {
		s.Log.WithFields(logrus.Fields{
			"employee_id": rec.EmployeeID,
			"period":      rec.Period.String(),
		}).Debug("snapshot skipped, record changed during build")
		return nil
	}
	return s.Records.SaveRecord(ctx, rec)
}
