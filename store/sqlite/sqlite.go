/*
Package sqlite provides a SQLite-backed implementation of the payroll storage
interfaces.

PURPOSE:
  Implements payroll.TxStore, payroll.RecordStore and payroll.EmployeeLister
  on SQLite, plus the employee directory and the work unit rate card used by
  the API.

INTERFACES IMPLEMENTED:
  payroll.Store / TxStore: Work records, reviews, adjustments, disbursements
  payroll.RecordStore:     Built PayrollRecord snapshots
  payroll.EmployeeLister:  Employee ids for batch runs

APPEND-ONLY ENFORCEMENT:
  - No DELETE on work_records, quality_reviews, bonuses, deductions,
    disbursements
  - The only UPDATE is the one-way superseded flag on work_records
    (WHERE superseded = 0, never the reverse)

KEY TABLES:
  work_records:     Measured claims with frozen estimates and rates
  quality_reviews:  Review history, UNIQUE(work_record_id, version)
  bonuses:          Employee-period additions
  deductions:       Employee-period subtractions
  disbursements:    Payout confirmations, one per review
  payroll_records:  Latest built record per employee-period (JSON)
  employees:        Employee directory
  work_units:       Rate card

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so
  ":memory:" databases behave like files. Review writes check the
  supersession pointer and insert inside one SQL transaction.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := payroll.NewService(store, payroll.Options{Records: store})

SEE ALSO:
  - payroll/store.go: Interfaces
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/piecework-payroll/payroll"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Work records (append-only apart from the superseded flag)
	CREATE TABLE IF NOT EXISTS work_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		location_ref TEXT NOT NULL,
		work_unit_id TEXT NOT NULL,
		task_type TEXT NOT NULL,
		rate_per_m2 TEXT NOT NULL,
		rate_per_ml TEXT NOT NULL,
		meters_square TEXT NOT NULL,
		meters_linear TEXT NOT NULL,
		estimated_amount TEXT NOT NULL,
		superseded INTEGER NOT NULL DEFAULT 0,
		superseded_by TEXT,
		supersedes TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Builder hot path
	CREATE INDEX IF NOT EXISTS idx_work_records_employee_period
		ON work_records(employee_id, period, created_at, id);

	-- Quality reviews (full history)
	CREATE TABLE IF NOT EXISTS quality_reviews (
		id TEXT PRIMARY KEY,
		work_record_id TEXT NOT NULL REFERENCES work_records(id),
		version INTEGER NOT NULL,
		supersedes TEXT,
		reviewer_id TEXT NOT NULL,
		review_date TEXT,
		meters_verified TEXT NOT NULL,
		provenance TEXT NOT NULL,
		approval_percent TEXT NOT NULL,
		approved_amount TEXT NOT NULL,
		pending_amount TEXT NOT NULL,
		rejected_amount TEXT NOT NULL,
		feedback TEXT,
		corrections_needed TEXT,
		revision_deadline TEXT,
		final INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		UNIQUE(work_record_id, version)
	);

	-- Bonuses and deductions
	CREATE TABLE IF NOT EXISTS bonuses (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bonuses_employee_period
		ON bonuses(employee_id, period);

	CREATE TABLE IF NOT EXISTS deductions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deductions_employee_period
		ON deductions(employee_id, period);

	-- Disbursements: one confirmation per review
	CREATE TABLE IF NOT EXISTS disbursements (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		work_record_id TEXT NOT NULL REFERENCES work_records(id),
		review_id TEXT NOT NULL UNIQUE REFERENCES quality_reviews(id),
		amount TEXT NOT NULL,
		reference TEXT,
		confirmed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_disbursements_employee_period
		ON disbursements(employee_id, period);

	-- Built payroll records (latest per employee-period)
	CREATE TABLE IF NOT EXISTS payroll_records (
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		status TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		record_json TEXT NOT NULL,
		saved_at TEXT NOT NULL,
		PRIMARY KEY(employee_id, period)
	);

	-- Employees
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		hire_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Rate card
	CREATE TABLE IF NOT EXISTS work_units (
		id TEXT PRIMARY KEY,
		task_type TEXT NOT NULL,
		rate_per_m2 TEXT NOT NULL,
		rate_per_ml TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// WORK RECORDS (payroll.Store)
// =============================================================================

func (s *Store) AppendWorkRecord(ctx context.Context, rec payroll.WorkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendWorkRecord(ctx, s.db, rec)
}

func appendWorkRecord(ctx context.Context, q querier, rec payroll.WorkRecord) error {
	query := `
		INSERT INTO work_records
		(id, employee_id, period, location_ref, work_unit_id, task_type, rate_per_m2, rate_per_ml,
		 meters_square, meters_linear, estimated_amount, superseded, superseded_by, supersedes,
		 idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		rec.ID,
		rec.EmployeeID,
		rec.Period.String(),
		rec.LocationRef,
		rec.WorkUnit.ID,
		rec.WorkUnit.TaskType,
		rec.WorkUnit.RatePerSquareMeter.String(),
		rec.WorkUnit.RatePerLinearMeter.String(),
		rec.MetersSquare.String(),
		rec.MetersLinear.String(),
		rec.EstimatedAmount.String(),
		rec.Superseded,
		nullString(string(rec.SupersededBy)),
		nullString(string(rec.Supersedes)),
		nullString(rec.IdempotencyKey),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return payroll.ErrDuplicateIdempotencyKey
		}
		return errors.Wrap(err, "failed to append work record")
	}
	return nil
}

func (s *Store) MarkSuperseded(ctx context.Context, id, by payroll.WorkRecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markSuperseded(ctx, s.db, id, by)
}

func markSuperseded(ctx context.Context, q querier, id, by payroll.WorkRecordID) error {
	res, err := q.ExecContext(ctx,
		"UPDATE work_records SET superseded = 1, superseded_by = ? WHERE id = ? AND superseded = 0",
		by, id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark work record superseded")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to mark work record superseded")
	}
	if n == 1 {
		return nil
	}

	if _, err := getWorkRecord(ctx, q, id); err != nil {
		return err
	}
	return payroll.ErrAlreadySuperseded
}

const workRecordColumns = `id, employee_id, period, location_ref, work_unit_id, task_type, rate_per_m2, rate_per_ml,
	meters_square, meters_linear, estimated_amount, superseded, superseded_by, supersedes,
	idempotency_key, created_at`

func (s *Store) GetWorkRecord(ctx context.Context, id payroll.WorkRecordID) (payroll.WorkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getWorkRecord(ctx, s.db, id)
}

func getWorkRecord(ctx context.Context, q querier, id payroll.WorkRecordID) (payroll.WorkRecord, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+workRecordColumns+" FROM work_records WHERE id = ?", id)
	if err != nil {
		return payroll.WorkRecord{}, errors.Wrap(err, "failed to query work record")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return payroll.WorkRecord{}, errors.Wrap(err, "failed to query work record")
		}
		return payroll.WorkRecord{}, payroll.ErrWorkRecordNotFound
	}
	return scanWorkRecord(rows)
}

func (s *Store) LoadWorkRecords(ctx context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.WorkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadWorkRecords(ctx, s.db, employeeID, period)
}

func loadWorkRecords(ctx context.Context, q querier, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.WorkRecord, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+workRecordColumns+" FROM work_records WHERE employee_id = ? AND period = ? ORDER BY created_at ASC, id ASC",
		employeeID, period.String(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query work records")
	}
	defer rows.Close()

	records := []payroll.WorkRecord{}
	for rows.Next() {
		rec, err := scanWorkRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanWorkRecord(rows *sql.Rows) (payroll.WorkRecord, error) {
	var (
		rec                                       payroll.WorkRecord
		period, rateM2, rateML, m2, ml, estimated string
		supersededBy, supersedes, idempotencyKey  sql.NullString
		createdAt                                 string
	)
	err := rows.Scan(
		&rec.ID, &rec.EmployeeID, &period, &rec.LocationRef,
		&rec.WorkUnit.ID, &rec.WorkUnit.TaskType, &rateM2, &rateML,
		&m2, &ml, &estimated, &rec.Superseded, &supersededBy, &supersedes,
		&idempotencyKey, &createdAt,
	)
	if err != nil {
		return payroll.WorkRecord{}, errors.Wrap(err, "failed to scan work record")
	}

	if rec.Period, err = payroll.ParsePeriod(period); err != nil {
		return payroll.WorkRecord{}, err
	}
	rec.WorkUnit.RatePerSquareMeter = parseDecimal(rateM2)
	rec.WorkUnit.RatePerLinearMeter = parseDecimal(rateML)
	rec.MetersSquare = parseDecimal(m2)
	rec.MetersLinear = parseDecimal(ml)
	rec.EstimatedAmount = parseDecimal(estimated)
	rec.SupersededBy = payroll.WorkRecordID(supersededBy.String)
	rec.Supersedes = payroll.WorkRecordID(supersedes.String)
	rec.IdempotencyKey = idempotencyKey.String
	rec.CreatedAt = parseTime(createdAt)
	return rec, nil
}

// =============================================================================
// QUALITY REVIEWS (payroll.Store)
// =============================================================================

// AppendReview checks the supersession pointer and inserts in one SQL
// transaction.
func (s *Store) AppendReview(ctx context.Context, rev payroll.QualityReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := appendReview(ctx, sqlTx, rev); err != nil {
		return err
	}
	return errors.Wrap(sqlTx.Commit(), "failed to commit review")
}

func appendReview(ctx context.Context, q querier, rev payroll.QualityReview) error {
	if _, err := getWorkRecord(ctx, q, rev.WorkRecordID); err != nil {
		return err
	}

	var current payroll.ReviewID
	var version int
	err := q.QueryRowContext(ctx,
		"SELECT id, version FROM quality_reviews WHERE work_record_id = ? ORDER BY version DESC LIMIT 1",
		rev.WorkRecordID,
	).Scan(&current, &version)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to load latest review")
	}
	if rev.Supersedes != current || rev.Version != version+1 {
		return &payroll.StaleReviewError{WorkRecordID: rev.WorkRecordID, Expected: rev.Supersedes, Current: current}
	}

	query := `
		INSERT INTO quality_reviews
		(id, work_record_id, version, supersedes, reviewer_id, review_date, meters_verified, provenance,
		 approval_percent, approved_amount, pending_amount, rejected_amount, feedback, corrections_needed,
		 revision_deadline, final, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		rev.ID,
		rev.WorkRecordID,
		rev.Version,
		nullString(string(rev.Supersedes)),
		rev.ReviewerID,
		nullTime(rev.ReviewDate),
		rev.MetersVerified.String(),
		rev.Provenance,
		rev.ApprovalPercent.String(),
		rev.ApprovedAmount.String(),
		rev.PendingAmount.String(),
		rev.RejectedAmount.String(),
		rev.Feedback,
		rev.CorrectionsNeeded,
		nullTime(rev.RevisionDeadline),
		rev.Final,
		rev.Status,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &payroll.StaleReviewError{WorkRecordID: rev.WorkRecordID, Expected: rev.Supersedes, Current: current}
		}
		return errors.Wrap(err, "failed to append review")
	}
	return nil
}

func (s *Store) LoadReviews(ctx context.Context, id payroll.WorkRecordID) ([]payroll.QualityReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadReviews(ctx, s.db, id)
}

func loadReviews(ctx context.Context, q querier, id payroll.WorkRecordID) ([]payroll.QualityReview, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, work_record_id, version, supersedes, reviewer_id, review_date, meters_verified, provenance,
		       approval_percent, approved_amount, pending_amount, rejected_amount, feedback, corrections_needed,
		       revision_deadline, final, status
		FROM quality_reviews WHERE work_record_id = ? ORDER BY version ASC`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query reviews")
	}
	defer rows.Close()

	reviews := []payroll.QualityReview{}
	for rows.Next() {
		var (
			rev                                  payroll.QualityReview
			supersedes, reviewDate, deadline     sql.NullString
			feedback, corrections                sql.NullString
			verified, pct, approved, pending, rj string
		)
		err := rows.Scan(
			&rev.ID, &rev.WorkRecordID, &rev.Version, &supersedes, &rev.ReviewerID, &reviewDate,
			&verified, &rev.Provenance, &pct, &approved, &pending, &rj, &feedback, &corrections,
			&deadline, &rev.Final, &rev.Status,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan review")
		}
		rev.Supersedes = payroll.ReviewID(supersedes.String)
		rev.ReviewDate = parseNullTime(reviewDate)
		rev.RevisionDeadline = parseNullTime(deadline)
		rev.MetersVerified = parseDecimal(verified)
		rev.ApprovalPercent = parseDecimal(pct)
		rev.ApprovedAmount = parseDecimal(approved)
		rev.PendingAmount = parseDecimal(pending)
		rev.RejectedAmount = parseDecimal(rj)
		rev.Feedback = feedback.String
		rev.CorrectionsNeeded = corrections.String
		reviews = append(reviews, rev)
	}
	return reviews, rows.Err()
}

// =============================================================================
// BONUSES & DEDUCTIONS (payroll.Store)
// =============================================================================

func (s *Store) AppendBonus(ctx context.Context, b payroll.BonusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAdjustment(ctx, s.db, "bonuses", b.ID, b.EmployeeID, b.Period, string(b.Type), b.Amount, b.Description, b.CreatedAt)
}

func (s *Store) AppendDeduction(ctx context.Context, d payroll.DeductionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAdjustment(ctx, s.db, "deductions", d.ID, d.EmployeeID, d.Period, string(d.Type), d.Amount, d.Description, d.CreatedAt)
}

func appendAdjustment(ctx context.Context, q querier, table, id string, employeeID payroll.EmployeeID, period payroll.Period, kind string, amount decimal.Decimal, description string, createdAt time.Time) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO "+table+" (id, employee_id, period, type, amount, description, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, employeeID, period.String(), kind, amount.String(), description, formatTime(createdAt),
	)
	return errors.Wrapf(err, "failed to append %s entry", table)
}

type adjustmentRow struct {
	ID          string
	EmployeeID  payroll.EmployeeID
	Period      payroll.Period
	Type        string
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time
}

func loadAdjustments(ctx context.Context, q querier, table string, employeeID payroll.EmployeeID, period payroll.Period) ([]adjustmentRow, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, employee_id, type, amount, description, created_at FROM "+table+
			" WHERE employee_id = ? AND period = ? ORDER BY created_at ASC, id ASC",
		employeeID, period.String(),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", table)
	}
	defer rows.Close()

	var result []adjustmentRow
	for rows.Next() {
		var (
			row               adjustmentRow
			amount, createdAt string
			description       sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.EmployeeID, &row.Type, &amount, &description, &createdAt); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s entry", table)
		}
		row.Period = period
		row.Amount = parseDecimal(amount)
		row.Description = description.String
		row.CreatedAt = parseTime(createdAt)
		result = append(result, row)
	}
	return result, rows.Err()
}

func (s *Store) LoadBonuses(ctx context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.BonusEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadBonuses(ctx, s.db, employeeID, period)
}

func loadBonuses(ctx context.Context, q querier, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.BonusEntry, error) {
	rows, err := loadAdjustments(ctx, q, "bonuses", employeeID, period)
	if err != nil {
		return nil, err
	}
	bonuses := make([]payroll.BonusEntry, 0, len(rows))
	for _, r := range rows {
		bonuses = append(bonuses, payroll.BonusEntry{
			ID: r.ID, EmployeeID: r.EmployeeID, Period: r.Period, Type: payroll.BonusType(r.Type),
			Amount: r.Amount, Description: r.Description, CreatedAt: r.CreatedAt,
		})
	}
	return bonuses, nil
}

func (s *Store) LoadDeductions(ctx context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.DeductionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadDeductions(ctx, s.db, employeeID, period)
}

func loadDeductions(ctx context.Context, q querier, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.DeductionEntry, error) {
	rows, err := loadAdjustments(ctx, q, "deductions", employeeID, period)
	if err != nil {
		return nil, err
	}
	deductions := make([]payroll.DeductionEntry, 0, len(rows))
	for _, r := range rows {
		deductions = append(deductions, payroll.DeductionEntry{
			ID: r.ID, EmployeeID: r.EmployeeID, Period: r.Period, Type: payroll.DeductionType(r.Type),
			Amount: r.Amount, Description: r.Description, CreatedAt: r.CreatedAt,
		})
	}
	return deductions, nil
}

// =============================================================================
// DISBURSEMENTS (payroll.Store)
// =============================================================================

func (s *Store) AppendDisbursement(ctx context.Context, d payroll.Disbursement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendDisbursement(ctx, s.db, d)
}

func appendDisbursement(ctx context.Context, q querier, d payroll.Disbursement) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO disbursements (id, employee_id, period, work_record_id, review_id, amount, reference, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.EmployeeID, d.Period.String(), d.WorkRecordID, d.ReviewID,
		d.Amount.String(), d.Reference, formatTime(d.ConfirmedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return payroll.ErrAlreadyDisbursed
		}
		return errors.Wrap(err, "failed to append disbursement")
	}
	return nil
}

func (s *Store) LoadDisbursements(ctx context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.Disbursement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadDisbursements(ctx, s.db, employeeID, period)
}

func loadDisbursements(ctx context.Context, q querier, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.Disbursement, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, employee_id, work_record_id, review_id, amount, reference, confirmed_at
		FROM disbursements WHERE employee_id = ? AND period = ? ORDER BY confirmed_at ASC, id ASC`,
		employeeID, period.String(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query disbursements")
	}
	defer rows.Close()

	result := []payroll.Disbursement{}
	for rows.Next() {
		var (
			d                   payroll.Disbursement
			amount, confirmedAt string
			reference           sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.EmployeeID, &d.WorkRecordID, &d.ReviewID, &amount, &reference, &confirmedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan disbursement")
		}
		d.Period = period
		d.Amount = parseDecimal(amount)
		d.Reference = reference.String
		d.ConfirmedAt = parseTime(confirmedAt)
		result = append(result, d)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTION SUPPORT (payroll.TxStore)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payroll.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return errors.Wrap(sqlTx.Commit(), "failed to commit transaction")
}

// txStore routes every call through the open transaction. The parent lock
// is already held.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) AppendWorkRecord(ctx context.Context, rec payroll.WorkRecord) error {
	return appendWorkRecord(ctx, ts.tx, rec)
}

func (ts *txStore) MarkSuperseded(ctx context.Context, id, by payroll.WorkRecordID) error {
	return markSuperseded(ctx, ts.tx, id, by)
}

func (ts *txStore) GetWorkRecord(ctx context.Context, id payroll.WorkRecordID) (payroll.WorkRecord, error) {
	return getWorkRecord(ctx, ts.tx, id)
}

func (ts *txStore) LoadWorkRecords(ctx context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.WorkRecord, error) {
	return loadWorkRecords(ctx, ts.tx, employeeID, period)
}

func (ts *txStore) AppendReview(ctx context.Context, rev payroll.QualityReview) error {
	return appendReview(ctx, ts.tx, rev)
}

func (ts *txStore) LoadReviews(ctx context.Context, id payroll.WorkRecordID) ([]payroll.QualityReview, error) {
	return loadReviews(ctx, ts.tx, id)
}

func (ts *txStore) AppendBonus(ctx context.Context, b payroll.BonusEntry) error {
	return appendAdjustment(ctx, ts.tx, "bonuses", b.ID, b.EmployeeID, b.Period, string(b.Type), b.Amount, b.Description, b.CreatedAt)
}

func (ts *txStore) AppendDeduction(ctx context.Context, d payroll.DeductionEntry) error {
	return appendAdjustment(ctx, ts.tx, "deductions", d.ID, d.EmployeeID, d.Period, string(d.Type), d.Amount, d.Description, d.CreatedAt)
}

func (ts *txStore) LoadBonuses(ctx context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.BonusEntry, error) {
	return loadBonuses(ctx, ts.tx, employeeID, period)
}

func (ts *txStore) LoadDeductions(ctx context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.DeductionEntry, error) {
	return loadDeductions(ctx, ts.tx, employeeID, period)
}

func (ts *txStore) AppendDisbursement(ctx context.Context, d payroll.Disbursement) error {
	return appendDisbursement(ctx, ts.tx, d)
}

func (ts *txStore) LoadDisbursements(ctx context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.Disbursement, error) {
	return loadDisbursements(ctx, ts.tx, employeeID, period)
}

// =============================================================================
// PAYROLL RECORDS (payroll.RecordStore)
// =============================================================================

// SaveRecord replaces the employee-period snapshot.
func (s *Store) SaveRecord(ctx context.Context, rec payroll.PayrollRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to encode payroll record")
	}

	query := `
		INSERT INTO payroll_records (employee_id, period, status, fingerprint, record_json, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, period) DO UPDATE SET
			status = excluded.status,
			fingerprint = excluded.fingerprint,
			record_json = excluded.record_json,
			saved_at = excluded.saved_at
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.EmployeeID, rec.Period.String(), rec.Status, rec.Fingerprint, string(data),
		formatTime(time.Now()),
	)
	return errors.Wrap(err, "failed to save payroll record")
}

// GetRecord returns the saved snapshot or (nil, nil).
func (s *Store) GetRecord(ctx context.Context, employeeID payroll.EmployeeID, period payroll.Period) (*payroll.PayrollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT record_json FROM payroll_records WHERE employee_id = ? AND period = ?",
		employeeID, period.String(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load payroll record")
	}

	var rec payroll.PayrollRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode payroll record")
	}
	return &rec, nil
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// Employee represents an employee record.
type Employee struct {
	ID        string
	Name      string
	Email     string
	HireDate  time.Time
	CreatedAt time.Time
}

// SaveEmployee saves an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			hire_date = excluded.hire_date
	`

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, emp.Email,
		emp.HireDate.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	return errors.Wrap(err, "failed to save employee")
}

// GetEmployee retrieves an employee by ID. Returns (nil, nil) when missing.
func (s *Store) GetEmployee(ctx context.Context, id string) (*Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var emp Employee
	var email sql.NullString
	var hireDate, createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, hire_date, created_at FROM employees WHERE id = ?",
		id,
	).Scan(&emp.ID, &emp.Name, &email, &hireDate, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load employee")
	}

	emp.Email = email.String
	emp.HireDate, _ = time.Parse(time.RFC3339, hireDate)
	emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &emp, nil
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, hire_date, created_at FROM employees ORDER BY name, id",
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query employees")
	}
	defer rows.Close()

	employees := []Employee{}
	for rows.Next() {
		var emp Employee
		var email sql.NullString
		var hireDate, createdAt string
		if err := rows.Scan(&emp.ID, &emp.Name, &email, &hireDate, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan employee")
		}
		emp.Email = email.String
		emp.HireDate, _ = time.Parse(time.RFC3339, hireDate)
		emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// ListEmployeeIDs implements payroll.EmployeeLister.
func (s *Store) ListEmployeeIDs(ctx context.Context) ([]payroll.EmployeeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM employees ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query employee ids")
	}
	defer rows.Close()

	ids := []payroll.EmployeeID{}
	for rows.Next() {
		var id payroll.EmployeeID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan employee id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// WORK UNIT STORE (rate card)
// =============================================================================

// SaveWorkUnit inserts or replaces a rate card entry. Existing work records
// keep the rates frozen into them.
func (s *Store) SaveWorkUnit(ctx context.Context, u payroll.WorkUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO work_units (id, task_type, rate_per_m2, rate_per_ml, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_type = excluded.task_type,
			rate_per_m2 = excluded.rate_per_m2,
			rate_per_ml = excluded.rate_per_ml,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.TaskType, u.RatePerSquareMeter.String(), u.RatePerLinearMeter.String(),
		formatTime(time.Now()),
	)
	return errors.Wrap(err, "failed to save work unit")
}

// GetWorkUnit returns payroll.ErrUnknownWorkUnit when id is not on the card.
func (s *Store) GetWorkUnit(ctx context.Context, id payroll.WorkUnitID) (payroll.WorkUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u payroll.WorkUnit
	var rateM2, rateML string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, task_type, rate_per_m2, rate_per_ml FROM work_units WHERE id = ?", id,
	).Scan(&u.ID, &u.TaskType, &rateM2, &rateML)
	if err == sql.ErrNoRows {
		return payroll.WorkUnit{}, payroll.ErrUnknownWorkUnit
	}
	if err != nil {
		return payroll.WorkUnit{}, errors.Wrap(err, "failed to load work unit")
	}
	u.RatePerSquareMeter = parseDecimal(rateM2)
	u.RatePerLinearMeter = parseDecimal(rateML)
	return u, nil
}

func (s *Store) ListWorkUnits(ctx context.Context) ([]payroll.WorkUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, task_type, rate_per_m2, rate_per_ml FROM work_units ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query work units")
	}
	defer rows.Close()

	units := []payroll.WorkUnit{}
	for rows.Next() {
		var u payroll.WorkUnit
		var rateM2, rateML string
		if err := rows.Scan(&u.ID, &u.TaskType, &rateM2, &rateML); err != nil {
			return nil, errors.Wrap(err, "failed to scan work unit")
		}
		u.RatePerSquareMeter = parseDecimal(rateM2)
		u.RatePerLinearMeter = parseDecimal(rateML)
		units = append(units, u)
	}
	return units, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"disbursements", "quality_reviews", "work_records", "bonuses", "deductions",
		"payroll_records", "employees", "work_units",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "failed to reset %s", table)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// parseDecimal reads a value this package wrote itself.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
