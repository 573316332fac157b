package region

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Config holds supplier limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for memory handed out by suppliers sharing
	// the budget. If 0, no limit is enforced (only tracking).
	MemoryLimitBytes int64
}

// Budget tracks, and optionally caps, the bytes held by live regions.
// A nil *Budget is valid and unlimited. Budget is safe for concurrent use.
type Budget struct {
	sem   *semaphore.Weighted // Nil if unlimited.
	limit int64
	used  atomic.Int64
}

// NewBudget creates a budget from cfg.
func NewBudget(cfg Config) *Budget {
	b := &Budget{}
	if cfg.MemoryLimitBytes > 0 {
		b.sem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
		b.limit = cfg.MemoryLimitBytes
	}
	return b
}

// Acquire reserves n bytes, blocking until they are available or ctx is done.
// A request larger than the limit fails with ErrBudgetExceeded without blocking.
func (b *Budget) Acquire(ctx context.Context, n int64) error {
	if b == nil || n <= 0 {
		return nil
	}
	if b.sem != nil {
		if n > b.limit {
			return fmt.Errorf("%w: %d bytes exceed the %d byte limit", ErrBudgetExceeded, n, b.limit)
		}
		if err := b.sem.Acquire(ctx, n); err != nil {
			return err
		}
	}
	b.used.Add(n)
	return nil
}

// TryAcquire reserves n bytes without blocking.
// It returns false if the limit would be exceeded.
func (b *Budget) TryAcquire(n int64) bool {
	if b == nil || n <= 0 {
		return true
	}
	if b.sem != nil && !b.sem.TryAcquire(n) {
		return false
	}
	b.used.Add(n)
	return true
}

// Release returns n bytes to the budget.
func (b *Budget) Release(n int64) {
	if b == nil || n <= 0 {
		return
	}
	if b.sem != nil {
		b.sem.Release(n)
	}
	b.used.Add(-n)
}

// Used returns the bytes currently reserved.
func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used.Load()
}
