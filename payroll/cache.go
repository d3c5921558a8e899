package payroll

import "sync"

type recordKey struct {
	EmployeeID EmployeeID
	Period     Period
}

// RecordCache memoizes built PayrollRecords. Every write to an
// employee-period must call Invalidate before it is acknowledged.
//
// Each key carries a generation counter. A build started before an
// invalidation cannot overwrite the cache afterwards: Put only succeeds
// when the generation it read on the miss is still current.
type RecordCache struct {
	mu      sync.RWMutex
	records map[recordKey]PayrollRecord
	gens    map[recordKey]uint64
	epoch   uint64 // bumped by Reset
}

func NewRecordCache() *RecordCache {
	return &RecordCache{
		records: make(map[recordKey]PayrollRecord),
		gens:    make(map[recordKey]uint64),
	}
}

// Get returns the cached record, if any, and the key's current generation.
func (c *RecordCache) Get(employeeID EmployeeID, period Period) (PayrollRecord, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k := recordKey{employeeID, period}
	rec, ok := c.records[k]
	return rec, c.epoch + c.gens[k], ok
}

// Generation is the key's current generation, as returned by Get.
func (c *RecordCache) Generation(employeeID EmployeeID, period Period) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch + c.gens[recordKey{employeeID, period}]
}

// Put stores rec if no invalidation happened since generation gen was read.
func (c *RecordCache) Put(rec PayrollRecord, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := recordKey{rec.EmployeeID, rec.Period}
	if c.epoch+c.gens[k] != gen {
		return false
	}
	c.records[k] = rec
	return true
}

func (c *RecordCache) Invalidate(employeeID EmployeeID, period Period) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := recordKey{employeeID, period}
	delete(c.records, k)
	c.gens[k]++
}

// Reset invalidates every key.
func (c *RecordCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[recordKey]PayrollRecord)
	c.epoch++
}

func (c *RecordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
