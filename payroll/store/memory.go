// Package store provides in-memory payroll.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/piecework-payroll/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type key struct {
	EmployeeID payroll.EmployeeID
	Period     payroll.Period
}

// state holds every table. Methods on state assume the caller holds the lock.
type state struct {
	records       map[payroll.WorkRecordID]payroll.WorkRecord
	byPeriod      map[key][]payroll.WorkRecordID
	reviews       map[payroll.WorkRecordID][]payroll.QualityReview
	bonuses       map[key][]payroll.BonusEntry
	deductions    map[key][]payroll.DeductionEntry
	disbursements map[key][]payroll.Disbursement
	disbursed     map[payroll.ReviewID]bool
	idempotency   map[string]bool
	snapshots     map[key]payroll.PayrollRecord
}

func newState() state {
	return state{
		records:       make(map[payroll.WorkRecordID]payroll.WorkRecord),
		byPeriod:      make(map[key][]payroll.WorkRecordID),
		reviews:       make(map[payroll.WorkRecordID][]payroll.QualityReview),
		bonuses:       make(map[key][]payroll.BonusEntry),
		deductions:    make(map[key][]payroll.DeductionEntry),
		disbursements: make(map[key][]payroll.Disbursement),
		disbursed:     make(map[payroll.ReviewID]bool),
		idempotency:   make(map[string]bool),
		snapshots:     make(map[key]payroll.PayrollRecord),
	}
}

type Memory struct {
	mu sync.RWMutex
	state
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func (m *Memory) AppendWorkRecord(_ context.Context, rec payroll.WorkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendWorkRecord(rec)
}

func (m *Memory) MarkSuperseded(_ context.Context, id, by payroll.WorkRecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markSuperseded(id, by)
}

func (m *Memory) GetWorkRecord(_ context.Context, id payroll.WorkRecordID) (payroll.WorkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getWorkRecord(id)
}

func (m *Memory) LoadWorkRecords(_ context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.WorkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadWorkRecords(employeeID, period), nil
}

func (m *Memory) AppendReview(_ context.Context, rev payroll.QualityReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendReview(rev)
}

func (m *Memory) LoadReviews(_ context.Context, id payroll.WorkRecordID) ([]payroll.QualityReview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payroll.QualityReview{}, m.reviews[id]...), nil
}

func (m *Memory) AppendBonus(_ context.Context, b payroll.BonusEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendBonus(b)
	return nil
}

func (m *Memory) AppendDeduction(_ context.Context, d payroll.DeductionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendDeduction(d)
	return nil
}

func (m *Memory) LoadBonuses(_ context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.BonusEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payroll.BonusEntry{}, m.bonuses[key{employeeID, period}]...), nil
}

func (m *Memory) LoadDeductions(_ context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.DeductionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payroll.DeductionEntry{}, m.deductions[key{employeeID, period}]...), nil
}

func (m *Memory) AppendDisbursement(_ context.Context, d payroll.Disbursement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendDisbursement(d)
}

func (m *Memory) LoadDisbursements(_ context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.Disbursement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]payroll.Disbursement{}, m.disbursements[key{employeeID, period}]...), nil
}

// SaveRecord replaces the snapshot of the record's employee-period.
func (m *Memory) SaveRecord(_ context.Context, rec payroll.PayrollRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[key{rec.EmployeeID, rec.Period}] = rec
	return nil
}

func (m *Memory) GetRecord(_ context.Context, employeeID payroll.EmployeeID, period payroll.Period) (*payroll.PayrollRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.snapshots[key{employeeID, period}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListEmployeeIDs returns every employee with at least one work record or
// adjustment, sorted.
func (m *Memory) ListEmployeeIDs(_ context.Context) ([]payroll.EmployeeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[payroll.EmployeeID]bool)
	for k := range m.byPeriod {
		seen[k.EmployeeID] = true
	}
	for k := range m.bonuses {
		seen[k.EmployeeID] = true
	}
	for k := range m.deductions {
		seen[k.EmployeeID] = true
	}

	ids := make([]payroll.EmployeeID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// =============================================================================
// TABLE OPERATIONS (caller holds the lock)
// =============================================================================

func (s *state) appendWorkRecord(rec payroll.WorkRecord) error {
	if rec.IdempotencyKey != "" && s.idempotency[rec.IdempotencyKey] {
		return payroll.ErrDuplicateIdempotencyKey
	}

	k := key{rec.EmployeeID, rec.Period}
	ids := s.byPeriod[k]

	// Keep (CreatedAt, ID) order with a binary search for the insertion point.
	i := sort.Search(len(ids), func(i int) bool {
		other := s.records[ids[i]]
		if other.CreatedAt.Equal(rec.CreatedAt) {
			return other.ID > rec.ID
		}
		return other.CreatedAt.After(rec.CreatedAt)
	})
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = rec.ID

	s.byPeriod[k] = ids
	s.records[rec.ID] = rec
	if rec.IdempotencyKey != "" {
		s.idempotency[rec.IdempotencyKey] = true
	}
	return nil
}

func (s *state) markSuperseded(id, by payroll.WorkRecordID) error {
	rec, ok := s.records[id]
	if !ok {
		return payroll.ErrWorkRecordNotFound
	}
	if rec.Superseded {
		return payroll.ErrAlreadySuperseded
	}
	rec.Superseded = true
	rec.SupersededBy = by
	s.records[id] = rec
	return nil
}

func (s *state) getWorkRecord(id payroll.WorkRecordID) (payroll.WorkRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return payroll.WorkRecord{}, payroll.ErrWorkRecordNotFound
	}
	return rec, nil
}

func (s *state) loadWorkRecords(employeeID payroll.EmployeeID, period payroll.Period) []payroll.WorkRecord {
	ids := s.byPeriod[key{employeeID, period}]
	result := make([]payroll.WorkRecord, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.records[id])
	}
	return result
}

func (s *state) appendReview(rev payroll.QualityReview) error {
	if _, ok := s.records[rev.WorkRecordID]; !ok {
		return payroll.ErrWorkRecordNotFound
	}

	history := s.reviews[rev.WorkRecordID]
	var current payroll.ReviewID
	if n := len(history); n > 0 {
		current = history[n-1].ID
	}
	if rev.Supersedes != current || rev.Version != len(history)+1 {
		return &payroll.StaleReviewError{WorkRecordID: rev.WorkRecordID, Expected: rev.Supersedes, Current: current}
	}

	s.reviews[rev.WorkRecordID] = append(history, rev)
	return nil
}

func (s *state) appendBonus(b payroll.BonusEntry) {
	k := key{b.EmployeeID, b.Period}
	s.bonuses[k] = append(s.bonuses[k], b)
}

func (s *state) appendDeduction(d payroll.DeductionEntry) {
	k := key{d.EmployeeID, d.Period}
	s.deductions[k] = append(s.deductions[k], d)
}

func (s *state) appendDisbursement(d payroll.Disbursement) error {
	if s.disbursed[d.ReviewID] {
		return payroll.ErrAlreadyDisbursed
	}
	k := key{d.EmployeeID, d.Period}
	s.disbursements[k] = append(s.disbursements[k], d)
	s.disbursed[d.ReviewID] = true
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(payroll.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()
	if err := fn(&txMemoryView{s: &tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.byPeriod {
		c.byPeriod[k] = append([]payroll.WorkRecordID{}, v...)
	}
	for k, v := range s.reviews {
		c.reviews[k] = append([]payroll.QualityReview{}, v...)
	}
	for k, v := range s.bonuses {
		c.bonuses[k] = append([]payroll.BonusEntry{}, v...)
	}
	for k, v := range s.deductions {
		c.deductions[k] = append([]payroll.DeductionEntry{}, v...)
	}
	for k, v := range s.disbursements {
		c.disbursements[k] = append([]payroll.Disbursement{}, v...)
	}
	for k, v := range s.disbursed {
		c.disbursed[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.snapshots {
		c.snapshots[k] = v
	}
	return c
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held.
type txMemoryView struct {
	s *state
}

func (tv *txMemoryView) AppendWorkRecord(_ context.Context, rec payroll.WorkRecord) error {
	return tv.s.appendWorkRecord(rec)
}

func (tv *txMemoryView) MarkSuperseded(_ context.Context, id, by payroll.WorkRecordID) error {
	return tv.s.markSuperseded(id, by)
}

func (tv *txMemoryView) GetWorkRecord(_ context.Context, id payroll.WorkRecordID) (payroll.WorkRecord, error) {
	return tv.s.getWorkRecord(id)
}

func (tv *txMemoryView) LoadWorkRecords(_ context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.WorkRecord, error) {
	return tv.s.loadWorkRecords(employeeID, period), nil
}

func (tv *txMemoryView) AppendReview(_ context.Context, rev payroll.QualityReview) error {
	return tv.s.appendReview(rev)
}

func (tv *txMemoryView) LoadReviews(_ context.Context, id payroll.WorkRecordID) ([]payroll.QualityReview, error) {
	return append([]payroll.QualityReview{}, tv.s.reviews[id]...), nil
}

func (tv *txMemoryView) AppendBonus(_ context.Context, b payroll.BonusEntry) error {
	tv.s.appendBonus(b)
	return nil
}

func (tv *txMemoryView) AppendDeduction(_ context.Context, d payroll.DeductionEntry) error {
	tv.s.appendDeduction(d)
	return nil
}

func (tv *txMemoryView) LoadBonuses(_ context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.BonusEntry, error) {
	return append([]payroll.BonusEntry{}, tv.s.bonuses[key{employeeID, period}]...), nil
}

func (tv *txMemoryView) LoadDeductions(_ context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.DeductionEntry, error) {
	return append([]payroll.DeductionEntry{}, tv.s.deductions[key{employeeID, period}]...), nil
}

func (tv *txMemoryView) AppendDisbursement(_ context.Context, d payroll.Disbursement) error {
	return tv.s.appendDisbursement(d)
}

func (tv *txMemoryView) LoadDisbursements(_ context.Context, employeeID payroll.EmployeeID, period payroll.Period) ([]payroll.Disbursement, error) {
	return append([]payroll.Disbursement{}, tv.s.disbursements[key{employeeID, period}]...), nil
}
