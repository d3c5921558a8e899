/*
rebuilder.go - Background payroll record rebuilds

PURPOSE:
  Keeps persisted PayrollRecord snapshots current. Every acknowledged write
  enqueues its employee-period; a small worker pool rebuilds and saves the
  record. A periodic sweep also re-runs the current period for every
  employee so snapshots recover from dropped events.

DESIGN:
  - Bounded queue: Enqueue never blocks a request. When the queue is full
    the event is dropped; the cache is already invalidated, so reads stay
    correct and the next sweep repairs the snapshot.
  - Deduplication: an employee-period already waiting in the queue is not
    queued twice. One employee-period is never built by two workers at
    once; a write during a build triggers one more build afterwards.
  - Rebuilds never patch: each one is a full Service.Rebuild. A build that
    raced a write is not persisted; the write's own rebuild saves instead.

CONFIGURATION:
  - Workers:       Concurrent rebuilds (default: 2)
  - QueueSize:     Pending employee-periods (default: 256)
  - SweepInterval: Full current-period sweep, 0 disables (default: 1 hour)

USAGE:
  rb := NewRebuilder(svc, store, log)
  svc.Subscribe(rb.OnChange)
  rb.Start()
  // ... later
  rb.Stop()

SEE ALSO:
  - payroll/service.go: Subscribe, Rebuild, RunBatch
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/piecework-payroll/payroll"
)

type rebuildKey struct {
	EmployeeID payroll.EmployeeID
	Period     payroll.Period
}

// Rebuilder rebuilds PayrollRecords in the background.
type Rebuilder struct {
	Service       *payroll.Service
	Employees     payroll.EmployeeLister
	Log           logrus.FieldLogger
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
	Now           func() time.Time

	queue    chan rebuildKey
	pending  map[rebuildKey]bool // queued, not yet picked up
	building map[rebuildKey]bool // picked up by a worker
	dirty    map[rebuildKey]bool // changed again while building
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewRebuilder creates a rebuilder with default settings.
func NewRebuilder(svc *payroll.Service, employees payroll.EmployeeLister, log logrus.FieldLogger) *Rebuilder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Rebuilder{
		Service:       svc,
		Employees:     employees,
		Log:           log,
		Workers:       2,
		QueueSize:     256,
		SweepInterval: time.Hour,
		Now:           time.Now,
	}
}

// Start launches the workers and, if enabled, the sweep loop.
func (rb *Rebuilder) Start() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.running {
		return
	}
	if rb.Workers <= 0 {
		rb.Workers = 1
	}
	if rb.QueueSize <= 0 {
		rb.QueueSize = 1
	}

	rb.queue = make(chan rebuildKey, rb.QueueSize)
	rb.pending = make(map[rebuildKey]bool)
	rb.building = make(map[rebuildKey]bool)
	rb.dirty = make(map[rebuildKey]bool)
	rb.ctx, rb.cancel = context.WithCancel(context.Background())
	rb.running = true

	for i := 0; i < rb.Workers; i++ {
		rb.wg.Add(1)
		go rb.work()
	}
	if rb.SweepInterval > 0 && rb.Employees != nil {
		rb.wg.Add(1)
		go rb.sweepLoop()
	}

	rb.Log.WithFields(logrus.Fields{
		"workers":        rb.Workers,
		"queue_size":     rb.QueueSize,
		"sweep_interval": rb.SweepInterval.String(),
	}).Info("rebuilder started")
}

// Stop cancels in-flight rebuilds and waits for the workers to exit.
// Queued events are discarded.
func (rb *Rebuilder) Stop() {
	rb.mu.Lock()
	if !rb.running {
		rb.mu.Unlock()
		return
	}
	rb.running = false
	rb.cancel()
	rb.mu.Unlock()

	rb.wg.Wait()
	rb.Log.Info("rebuilder stopped")
}

// Enqueue schedules a rebuild. Returns false if the event was dropped or
// the rebuilder is not running.
func (rb *Rebuilder) Enqueue(employeeID payroll.EmployeeID, period payroll.Period) bool {
	k := rebuildKey{employeeID, period}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.running {
		return false
	}
	if rb.pending[k] {
		return true
	}
	select {
	case rb.queue <- k:
		rb.pending[k] = true
		return true
	default:
		rb.Log.WithFields(logrus.Fields{
			"employee_id": employeeID,
			"period":      period.String(),
		}).Warn("rebuild queue full, event dropped")
		return false
	}
}

// OnChange adapts Enqueue to payroll.ChangeFunc.
func (rb *Rebuilder) OnChange(employeeID payroll.EmployeeID, period payroll.Period) {
	rb.Enqueue(employeeID, period)
}

func (rb *Rebuilder) work() {
	defer rb.wg.Done()

	for {
		select {
		case <-rb.ctx.Done():
			return
		case k := <-rb.queue:
			rb.handle(k)
		}
	}
}

// handle rebuilds k until no write arrived during the last build. A key is
// only ever built by one worker at a time. Builds from other paths (Sweep,
// batch runs) are kept from overwriting newer snapshots by Service.Rebuild.
func (rb *Rebuilder) handle(k rebuildKey) {
	rb.mu.Lock()
	delete(rb.pending, k)
	if rb.building[k] {
		rb.dirty[k] = true
		rb.mu.Unlock()
		return
	}
	rb.building[k] = true
	rb.mu.Unlock()

	for {
		rb.rebuild(k)

		rb.mu.Lock()
		if rb.dirty[k] && rb.ctx.Err() == nil {
			delete(rb.dirty, k)
			rb.mu.Unlock()
			continue
		}
		delete(rb.dirty, k)
		delete(rb.building, k)
		rb.mu.Unlock()
		return
	}
}

func (rb *Rebuilder) rebuild(k rebuildKey) {
	fields := logrus.Fields{
		"employee_id": k.EmployeeID,
		"period":      k.Period.String(),
	}
	rec, err := rb.Service.Rebuild(rb.ctx, k.EmployeeID, k.Period)
	if err != nil {
		if rb.ctx.Err() == nil {
			rb.Log.WithError(err).WithFields(fields).Error("payroll rebuild failed")
		}
		return
	}
	fields["status"] = rec.Status
	fields["fingerprint"] = rec.Fingerprint
	rb.Log.WithFields(fields).Debug("payroll record rebuilt")
}

func (rb *Rebuilder) sweepLoop() {
	defer rb.wg.Done()

	ticker := time.NewTicker(rb.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rb.Sweep(rb.ctx)
		case <-rb.ctx.Done():
			return
		}
	}
}

// Sweep rebuilds the current period for every employee.
func (rb *Rebuilder) Sweep(ctx context.Context) (payroll.BatchResult, error) {
	period := payroll.NewPeriod(rb.Now())

	employees, err := rb.Employees.ListEmployeeIDs(ctx)
	if err != nil {
		rb.Log.WithError(err).Error("sweep: failed to list employees")
		return payroll.BatchResult{}, err
	}

	result, err := rb.Service.RunBatch(ctx, period, employees, rb.Workers)
	rb.Log.WithFields(logrus.Fields{
		"period":   period.String(),
		"records":  len(result.Records),
		"failures": len(result.Failures),
	}).Info("sweep completed")
	return result, err
}
