/*
store.go - Persistence interfaces for the payroll engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine treats
  stored rows as opaque records; schema and migrations belong to the
  implementation.

KEY INTERFACES:
  Store:       Work records, reviews, adjustments, disbursements (append-only)
  TxStore:     Store plus atomic multi-write transactions
  RecordStore: Built PayrollRecord snapshots (replace-on-rebuild)

APPEND-ONLY CONTRACT:
  - No Update or Delete for work records, reviews, adjustments, disbursements.
  - The single in-place change is MarkSuperseded, which only ever sets the
    flag to true. There is no method to clear it.

OPTIMISTIC CONCURRENCY:
  AppendReview must refuse a review whose Supersedes is not the current latest
  review of its work record (StaleReviewError). Implementations make the check
  and the write atomic.

IMPLEMENTATIONS:
  - payroll/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go:  SQLite
*/
package payroll

import "context"

// =============================================================================
// STORE - Interface for append-only persistence
// =============================================================================

type Store interface {
	// AppendWorkRecord persists a new record. Fails with
	// ErrDuplicateIdempotencyKey if the key was already used.
	AppendWorkRecord(ctx context.Context, rec WorkRecord) error

	// MarkSuperseded flags id as replaced by `by`. Fails with
	// ErrAlreadySuperseded if the flag is already set.
	MarkSuperseded(ctx context.Context, id WorkRecordID, by WorkRecordID) error

	// GetWorkRecord returns ErrWorkRecordNotFound when id is unknown.
	GetWorkRecord(ctx context.Context, id WorkRecordID) (WorkRecord, error)

	// LoadWorkRecords returns every record (superseded included) for the
	// employee-period, ordered by CreatedAt then ID.
	LoadWorkRecords(ctx context.Context, employeeID EmployeeID, period Period) ([]WorkRecord, error)

	// AppendReview persists a review after checking that rev.Supersedes is the
	// current latest review id ("" when none exists).
	AppendReview(ctx context.Context, rev QualityReview) error

	// LoadReviews returns the full history of a work record ordered by Version.
	LoadReviews(ctx context.Context, workRecordID WorkRecordID) ([]QualityReview, error)

	AppendBonus(ctx context.Context, b BonusEntry) error
	AppendDeduction(ctx context.Context, d DeductionEntry) error
	LoadBonuses(ctx context.Context, employeeID EmployeeID, period Period) ([]BonusEntry, error)
	LoadDeductions(ctx context.Context, employeeID EmployeeID, period Period) ([]DeductionEntry, error)

	AppendDisbursement(ctx context.Context, d Disbursement) error
	LoadDisbursements(ctx context.Context, employeeID EmployeeID, period Period) ([]Disbursement, error)
}

// TxStore wraps Store with transaction support.
// If fn returns an error, every write made through the view is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// RECORD STORE - Built payroll snapshots
// =============================================================================

// RecordStore persists the latest built PayrollRecord per employee-period.
// A save fully replaces the previous snapshot.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec PayrollRecord) error

	// GetRecord returns (nil, nil) when no snapshot exists.
	GetRecord(ctx context.Context, employeeID EmployeeID, period Period) (*PayrollRecord, error)
}

// EmployeeLister enumerates employees for batch runs.
type EmployeeLister interface {
	ListEmployeeIDs(ctx context.Context) ([]EmployeeID, error)
}
