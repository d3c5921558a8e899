package payroll_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/piecework-payroll/payroll"
	"github.com/warp/piecework-payroll/payroll/store"
)

func newTestLedger(t *testing.T) *payroll.Ledger {
	t.Helper()
	l := payroll.NewLedger(store.NewTxMemory())
	l.NewID = sequence("wr")
	l.Now = clock(reviewDay)
	return l
}

// =============================================================================
// ESTIMATE TESTS
// =============================================================================

func TestLedger_RecordWork_AreaOnly(t *testing.T) {
	// GIVEN: 85.5 m2 of walls at 18/m2
	// WHEN: Recording the work
	// THEN: The estimate is frozen at 1539.00
	l := newTestLedger(t)

	rec, err := l.RecordWork(context.Background(), work("emp-1", walls, "85.5", "0"))
	require.NoError(t, err)

	assertMoney(t, "1539.00", rec.EstimatedAmount)
	assert.Equal(t, payroll.WorkRecordID("wr-1"), rec.ID)
	assert.False(t, rec.Superseded)
}

func TestLedger_RecordWork_AreaAndLinear(t *testing.T) {
	// GIVEN: 92 m2 × 18 + 24.5 ml × 15
	// THEN: 1656.00 + 367.50 = 2023.50
	l := newTestLedger(t)

	rec, err := l.RecordWork(context.Background(), work("emp-1", wallsCorners, "92.0", "24.5"))
	require.NoError(t, err)

	assertMoney(t, "2023.50", rec.EstimatedAmount)
}

func TestLedger_RecordWork_EstimateRoundsHalfUp(t *testing.T) {
	l := newTestLedger(t)

	// 0.0125 m2 × 18 = 0.225, rounds to 0.23
	rec, err := l.RecordWork(context.Background(), work("emp-1", walls, "0.0125", "0"))
	require.NoError(t, err)

	assertMoney(t, "0.23", rec.EstimatedAmount)
}

func TestLedger_RecordWork_RatesFrozenAtCreation(t *testing.T) {
	// GIVEN: A record created at 18/m2
	// WHEN: The caller's unit is repriced afterwards
	// THEN: The stored record keeps its original estimate
	l := newTestLedger(t)
	ctx := context.Background()

	unit := walls
	rec, err := l.RecordWork(ctx, work("emp-1", unit, "10", "0"))
	require.NoError(t, err)

	unit.RatePerSquareMeter = d("25")
	stored, err := l.Store.GetWorkRecord(ctx, rec.ID)
	require.NoError(t, err)
	assertMoney(t, "180.00", stored.EstimatedAmount)
	assert.True(t, stored.WorkUnit.RatePerSquareMeter.Equal(d("18")))
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestLedger_RecordWork_InvalidMeasurement(t *testing.T) {
	tests := []struct {
		name   string
		m2, ml string
	}{
		{"negative area", "-1", "0"},
		{"negative linear", "10", "-0.5"},
		{"nothing claimed", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t)

			_, err := l.RecordWork(context.Background(), work("emp-1", walls, tt.m2, tt.ml))

			var invalid *payroll.InvalidMeasurementError
			require.ErrorAs(t, err, &invalid)
			assert.ErrorIs(t, err, payroll.ErrInvalidMeasurement)
			assert.True(t, payroll.IsClientError(err))
		})
	}
}

func TestLedger_RecordWork_RequiresPeriod(t *testing.T) {
	l := newTestLedger(t)
	in := work("emp-1", walls, "10", "0")
	in.Period = payroll.Period{}

	_, err := l.RecordWork(context.Background(), in)
	assert.ErrorIs(t, err, payroll.ErrInvalidPeriod)
}

func TestLedger_RecordWork_DuplicateIdempotencyKey(t *testing.T) {
	// GIVEN: A submission with an idempotency key
	// WHEN: The same key is submitted again
	// THEN: The second write is refused and only one record exists
	l := newTestLedger(t)
	ctx := context.Background()

	in := work("emp-1", walls, "10", "0")
	in.IdempotencyKey = "tablet-7:42"

	_, err := l.RecordWork(ctx, in)
	require.NoError(t, err)
	_, err = l.RecordWork(ctx, in)
	assert.ErrorIs(t, err, payroll.ErrDuplicateIdempotencyKey)

	records, err := l.Store.LoadWorkRecords(ctx, "emp-1", march)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// =============================================================================
// SUPERSESSION TESTS
// =============================================================================

func TestLedger_Correct_SupersedesOldRecord(t *testing.T) {
	// GIVEN: A record of 92 m2
	// WHEN: It is re-measured at 95 m2
	// THEN: A new record exists, the old one is superseded and excluded
	l := newTestLedger(t)
	ctx := context.Background()

	old, err := l.RecordWork(ctx, work("emp-1", walls, "92", "0"))
	require.NoError(t, err)

	corrected, err := l.Correct(ctx, old.ID, d("95"), d("0"), "")
	require.NoError(t, err)
	assert.Equal(t, old.ID, corrected.Supersedes)
	assertMoney(t, "1710.00", corrected.EstimatedAmount)
	assert.Equal(t, old.LocationRef, corrected.LocationRef)

	stored, err := l.Store.GetWorkRecord(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, stored.Superseded)
	assert.Equal(t, corrected.ID, stored.SupersededBy)

	items, err := l.WorkItems(ctx, "emp-1", march)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, corrected.ID, items[0].Record.ID)

	// Both records stay in the store for audit
	all, err := l.Store.LoadWorkRecords(ctx, "emp-1", march)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLedger_Correct_SupersessionIsMonotonic(t *testing.T) {
	// GIVEN: A record that has already been corrected
	// WHEN: Trying to correct the superseded record again
	// THEN: The call fails and the record stays superseded
	l := newTestLedger(t)
	ctx := context.Background()

	old, err := l.RecordWork(ctx, work("emp-1", walls, "92", "0"))
	require.NoError(t, err)
	_, err = l.Correct(ctx, old.ID, d("95"), d("0"), "")
	require.NoError(t, err)

	_, err = l.Correct(ctx, old.ID, d("92"), d("0"), "")
	assert.ErrorIs(t, err, payroll.ErrAlreadySuperseded)

	err = l.Store.MarkSuperseded(ctx, old.ID, "other")
	assert.ErrorIs(t, err, payroll.ErrAlreadySuperseded)

	stored, err := l.Store.GetWorkRecord(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, stored.Superseded)
}

func TestLedger_Correct_InvalidMeasurementLeavesOldRecordLive(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	old, err := l.RecordWork(ctx, work("emp-1", walls, "92", "0"))
	require.NoError(t, err)

	_, err = l.Correct(ctx, old.ID, d("-1"), d("0"), "")
	assert.ErrorIs(t, err, payroll.ErrInvalidMeasurement)

	stored, err := l.Store.GetWorkRecord(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, stored.Superseded)
}

func TestLedger_Correct_DuplicateKeyRollsBack(t *testing.T) {
	// GIVEN: A correction whose idempotency key is already taken
	// THEN: Nothing is written and the original stays live
	l := newTestLedger(t)
	ctx := context.Background()

	in := work("emp-1", walls, "10", "0")
	in.IdempotencyKey = "k-1"
	_, err := l.RecordWork(ctx, in)
	require.NoError(t, err)

	old, err := l.RecordWork(ctx, work("emp-1", walls, "92", "0"))
	require.NoError(t, err)

	_, err = l.Correct(ctx, old.ID, d("95"), d("0"), "k-1")
	assert.ErrorIs(t, err, payroll.ErrDuplicateIdempotencyKey)

	items, err := l.WorkItems(ctx, "emp-1", march)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestLedger_Correct_UnknownRecord(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Correct(context.Background(), "missing", d("1"), d("0"), "")
	assert.ErrorIs(t, err, payroll.ErrWorkRecordNotFound)
	assert.True(t, payroll.IsNotFound(err))
}

func TestLedger_WorkItems_OrderedByCreation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first, err := l.RecordWork(ctx, work("emp-1", walls, "10", "0"))
	require.NoError(t, err)
	second, err := l.RecordWork(ctx, work("emp-1", ceilings, "5", "0"))
	require.NoError(t, err)
	_, err = l.RecordWork(ctx, work("emp-2", walls, "7", "0"))
	require.NoError(t, err)

	items, err := l.WorkItems(ctx, "emp-1", march)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].Record.ID)
	assert.Equal(t, second.ID, items[1].Record.ID)
}
