/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place. Every structured error unwraps to a sentinel
  so callers can branch with errors.Is and read details with errors.As.

ERROR CATEGORIES:
  1. Input errors      - InvalidMeasurementError, ValidationError
  2. Arbitration       - MeasurementDisputeError (never auto-resolved)
  3. Concurrency       - StaleReviewError (always safe to retry)
  4. Warnings          - NegativeGrossWarning (not a failure, gross clamped)
  5. Lookup / storage  - not found, superseded, duplicate idempotency key

PROPAGATION:
  Every error here is local to one WorkRecord or QualityReview. A batch run
  reports them per employee and keeps going.

USAGE:
    var dispute *payroll.MeasurementDisputeError
    if errors.As(err, &dispute) {
        // route to manual arbitration
    }
*/
package payroll

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidMeasurement = errors.New("invalid measurement")
	ErrValidation         = errors.New("invalid quality review")
	ErrMeasurementDispute = errors.New("measurement dispute")

	// ErrStaleReview is returned when a review names a prior review that is
	// no longer current. Refetch the latest review and retry.
	ErrStaleReview = errors.New("stale review")

	ErrNegativeGross = errors.New("negative gross clamped to zero")

	ErrWorkRecordNotFound      = errors.New("work record not found")
	ErrWorkRecordSuperseded    = errors.New("work record is superseded")
	ErrAlreadySuperseded       = errors.New("work record already superseded")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrEmployeeNotFound        = errors.New("employee not found")
	ErrUnknownWorkUnit         = errors.New("unknown work unit")
	ErrInvalidPeriod           = errors.New("invalid period")
	ErrInvalidAdjustment       = errors.New("invalid adjustment")
	ErrNothingToDisburse       = errors.New("no approved amount to disburse")
	ErrAlreadyDisbursed        = errors.New("review already disbursed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidMeasurementError rejects a WorkRecord before any estimate is computed.
type InvalidMeasurementError struct {
	MetersSquare decimal.Decimal
	MetersLinear decimal.Decimal
	Reason       string
}

func (e *InvalidMeasurementError) Error() string {
	return fmt.Sprintf("invalid measurement (m2=%s, ml=%s): %s", e.MetersSquare, e.MetersLinear, e.Reason)
}

func (e *InvalidMeasurementError) Unwrap() error { return ErrInvalidMeasurement }

// ValidationError is a malformed review, surfaced to the reviewer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid review: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// MeasurementDisputeError flags a verified measurement exceeding the claim by
// more than the tolerance. The record stays pending_review until arbitrated.
type MeasurementDisputeError struct {
	WorkRecordID WorkRecordID
	Claimed      decimal.Decimal
	Verified     decimal.Decimal
	Tolerance    decimal.Decimal
}

func (e *MeasurementDisputeError) Error() string {
	return fmt.Sprintf("measurement dispute on %s: verified %s m2 exceeds claimed %s m2 (tolerance %s)",
		e.WorkRecordID, e.Verified, e.Claimed, e.Tolerance)
}

func (e *MeasurementDisputeError) Unwrap() error { return ErrMeasurementDispute }

// StaleReviewError is a concurrent review collision on one WorkRecord.
type StaleReviewError struct {
	WorkRecordID WorkRecordID
	Expected     ReviewID // what the caller believed was current
	Current      ReviewID // what actually is current
}

func (e *StaleReviewError) Error() string {
	return fmt.Sprintf("stale review on %s: expected prior %q, current is %q",
		e.WorkRecordID, e.Expected, e.Current)
}

func (e *StaleReviewError) Unwrap() error { return ErrStaleReview }

// NegativeGrossWarning is raised when deductions exceed approved pay plus
// bonuses. Gross is clamped to zero; administrators adjust deductions by hand.
type NegativeGrossWarning struct {
	EmployeeID EmployeeID      `json:"employee_id"`
	Period     Period          `json:"period"`
	Shortfall  decimal.Decimal `json:"shortfall"`
}

func (e *NegativeGrossWarning) Error() string {
	return fmt.Sprintf("negative gross for %s in %s: deductions exceed pay by %s",
		e.EmployeeID, e.Period, e.Shortfall.StringFixed(CurrencyPlaces))
}

func (e *NegativeGrossWarning) Unwrap() error { return ErrNegativeGross }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleReview)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidMeasurement) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidAdjustment) ||
		errors.Is(err, ErrWorkRecordSuperseded) ||
		errors.Is(err, ErrAlreadySuperseded) ||
		errors.Is(err, ErrNothingToDisburse) ||
		errors.Is(err, ErrUnknownWorkUnit)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkRecordNotFound) ||
		errors.Is(err, ErrEmployeeNotFound)
}
