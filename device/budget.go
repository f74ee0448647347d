package device

import (
	"fmt"
	"sync"
)

// DefaultBudgetBytes is the default device memory budget (256 MB).
const DefaultBudgetBytes = 256 << 20

// BudgetStats reports budget usage.
type BudgetStats struct {
	LimitBytes     uint64
	UsedBytes      uint64
	AvailableBytes uint64
	PeakBytes      uint64
	Rejections     uint64
	// Utilization is UsedBytes/LimitBytes in [0, 1]; 0 when unlimited.
	Utilization float64
}

func (s BudgetStats) String() string {
	return fmt.Sprintf("Budget[%.1f%% used, %d/%d KB, peak %d KB, %d rejected]",
		s.Utilization*100,
		s.UsedBytes/1024,
		s.LimitBytes/1024,
		s.PeakBytes/1024,
		s.Rejections)
}

// Budget enforces an upper bound on device memory used for chunk buffers.
// Allocations are reserved before the device is asked for memory, so a full
// budget fails fast without touching the device.
//
// Budget is safe for concurrent use.
type Budget struct {
	mu         sync.Mutex
	limit      uint64
	used       uint64
	peak       uint64
	rejections uint64
}

// NewBudget creates a budget of limit bytes. A limit of 0 is unlimited.
func NewBudget(limit uint64) *Budget {
	return &Budget{limit: limit}
}

// Reserve claims n bytes or fails with ErrResourceExhausted.
func (b *Budget) Reserve(n uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.used+n > b.limit {
		b.rejections++
		var avail uint64
		if b.used < b.limit {
			avail = b.limit - b.used
		}
		return fmt.Errorf("%w: %d bytes requested, %d of %d available",
			ErrResourceExhausted, n, avail, b.limit)
	}
	b.used += n
	b.peak = max(b.peak, b.used)
	return nil
}

// Release returns n bytes.
func (b *Budget) Release(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.used {
		n = b.used
	}
	b.used -= n
}

// SetLimit changes the limit. Memory already reserved is kept even if it
// now exceeds the limit; further reservations fail until enough is released.
func (b *Budget) SetLimit(limit uint64) {
	b.mu.Lock()
	b.limit = limit
	b.mu.Unlock()
}

// Used returns the reserved bytes.
func (b *Budget) Used() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Stats returns a snapshot of the budget.
func (b *Budget) Stats() BudgetStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BudgetStats{
		LimitBytes: b.limit,
		UsedBytes:  b.used,
		PeakBytes:  b.peak,
		Rejections: b.rejections,
	}
	if b.limit > 0 {
		if b.used < b.limit {
			s.AvailableBytes = b.limit - b.used
		}
		s.Utilization = float64(b.used) / float64(b.limit)
	}
	return s
}
