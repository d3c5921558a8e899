package api

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/piecework-payroll/payroll"
	"github.com/warp/piecework-payroll/payroll/store"
)

var (
	march = payroll.Period{Year: 2025, Month: time.March}
	walls = payroll.WorkUnit{ID: "walls", TaskType: "Wall plastering", RatePerSquareMeter: decimal.NewFromInt(18)}
)

func newRebuilderService(t *testing.T, withholding payroll.Withholding) (*payroll.Service, *store.TxMemory) {
	t.Helper()
	log, _ := test.NewNullLogger()
	mem := store.NewTxMemory()
	svc := payroll.NewService(mem, payroll.Options{
		DisputeTolerance: payroll.DefaultDisputeTolerance,
		Withholding:      withholding,
		Records:          mem,
		Log:              log,
	})
	return svc, mem
}

func recordWalls(t *testing.T, svc *payroll.Service, emp payroll.EmployeeID, m2 string) payroll.WorkRecord {
	t.Helper()
	rec, err := svc.RecordWork(context.Background(), payroll.WorkInput{
		EmployeeID:   emp,
		Period:       march,
		LocationRef:  "A-12",
		WorkUnit:     walls,
		MetersSquare: payroll.MustDecimal(m2),
		MetersLinear: decimal.Zero,
	})
	require.NoError(t, err)
	return rec
}

func TestRebuilder_WritesTriggerSnapshot(t *testing.T) {
	// GIVEN: A running rebuilder subscribed to the service
	// WHEN: Work is recorded and reviewed
	// THEN: The persisted snapshot eventually reflects the review
	svc, mem := newRebuilderService(t, nil)
	log, _ := test.NewNullLogger()
	rb := NewRebuilder(svc, mem, log)
	rb.SweepInterval = 0
	svc.Subscribe(rb.OnChange)
	rb.Start()
	defer rb.Stop()

	rec := recordWalls(t, svc, "emp-1", "85.5")
	_, err := svc.SubmitReview(context.Background(), rec.ID, payroll.ReviewInput{
		ReviewerID:      "coord-01",
		ApprovalPercent: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		snap, err := mem.GetRecord(context.Background(), "emp-1", march)
		return err == nil && snap != nil && snap.TotalApproved.StringFixed(2) == "1539.00"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRebuilder_EnqueueWhenStopped(t *testing.T) {
	svc, mem := newRebuilderService(t, nil)
	rb := NewRebuilder(svc, mem, nil)

	assert.False(t, rb.Enqueue("emp-1", march))

	rb.Start()
	rb.Stop()
	assert.False(t, rb.Enqueue("emp-1", march))
}

func TestRebuilder_DedupesAndDropsWhenFull(t *testing.T) {
	// GIVEN: One worker blocked inside a rebuild and a queue of one
	// THEN: A second key is queued, a repeat is deduplicated, a third is dropped
	started := make(chan payroll.EmployeeID, 8)
	release := make(chan struct{})
	blocking := payroll.WithholdingFunc(func(emp payroll.EmployeeID, _ payroll.Period, gross decimal.Decimal) (decimal.Decimal, error) {
		started <- emp
		<-release
		return gross, nil
	})

	svc, mem := newRebuilderService(t, blocking)
	log, hook := test.NewNullLogger()
	rb := NewRebuilder(svc, mem, log)
	rb.Workers = 1
	rb.QueueSize = 1
	rb.SweepInterval = 0
	rb.Start()

	require.True(t, rb.Enqueue("emp-1", march))
	select {
	case emp := <-started:
		require.Equal(t, payroll.EmployeeID("emp-1"), emp)
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up emp-1")
	}

	assert.True(t, rb.Enqueue("emp-2", march))
	assert.True(t, rb.Enqueue("emp-2", march), "already queued")
	assert.False(t, rb.Enqueue("emp-3", march), "queue full")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "rebuild queue full, event dropped", hook.LastEntry().Message)

	close(release)
	assert.Eventually(t, func() bool {
		snap, _ := mem.GetRecord(context.Background(), "emp-2", march)
		return snap != nil
	}, 2*time.Second, 10*time.Millisecond)
	rb.Stop()
}

func TestRebuilder_SweepRebuildsCurrentPeriod(t *testing.T) {
	svc, mem := newRebuilderService(t, nil)
	recordWalls(t, svc, "emp-1", "10")
	recordWalls(t, svc, "emp-2", "20")

	rb := NewRebuilder(svc, mem, nil)
	rb.Now = func() time.Time { return time.Date(2025, time.March, 31, 23, 0, 0, 0, time.UTC) }

	result, err := rb.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, march, result.Period)
	assert.Len(t, result.Records, 2)

	snap, err := mem.GetRecord(context.Background(), "emp-2", march)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "360.00", snap.TotalPending.StringFixed(2))
}

func TestRebuilder_SweepRacingAWriteKeepsNewerSnapshot(t *testing.T) {
	// GIVEN: A sweep build that has read emp-1's store state and is stalled
	// WHEN: A write lands and the worker saves the newer record
	// THEN: The stalled sweep finishes without replacing that snapshot
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	stallFirst := payroll.WithholdingFunc(func(_ payroll.EmployeeID, _ payroll.Period, gross decimal.Decimal) (decimal.Decimal, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return gross, nil
	})

	svc, mem := newRebuilderService(t, stallFirst)
	recordWalls(t, svc, "emp-1", "10")

	rb := NewRebuilder(svc, mem, nil)
	rb.Workers = 1
	rb.SweepInterval = 0
	rb.Now = func() time.Time { return time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC) }
	svc.Subscribe(rb.OnChange)
	rb.Start()
	defer rb.Stop()

	swept := make(chan payroll.BatchResult, 1)
	go func() {
		result, _ := rb.Sweep(context.Background())
		swept <- result
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never started building")
	}

	recordWalls(t, svc, "emp-1", "20")
	assert.Eventually(t, func() bool {
		snap, _ := mem.GetRecord(context.Background(), "emp-1", march)
		return snap != nil && snap.TotalPending.StringFixed(2) == "540.00"
	}, 2*time.Second, 10*time.Millisecond)

	close(release)
	var result payroll.BatchResult
	select {
	case result = <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never finished")
	}
	require.Len(t, result.Records, 1)
	assert.Equal(t, "180.00", result.Records[0].TotalPending.StringFixed(2))

	snap, err := mem.GetRecord(context.Background(), "emp-1", march)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "540.00", snap.TotalPending.StringFixed(2))
}
