// Package region supplies backing memory for slab pools.
//
// A Region is acquired once per pool, before the pool is constructed, and must
// outlive it. Regions are released only by calling Close.
package region

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

const (
	KiB = 1024
	MiB = KiB * KiB

	// Alignment is the start alignment of every region (one cache line).
	Alignment = 64
)

var (
	ErrInvalidSize    = errors.New("region: size must be positive")
	ErrBudgetExceeded = errors.New("region: memory budget exceeded")
)

// Supplier acquires backing regions.
type Supplier interface {
	// Acquire returns a zeroed region of at least size bytes, aligned to Alignment.
	Acquire(size int) (*Region, error)

	// AcquireContext is like Acquire, but waits for budget until ctx is done.
	AcquireContext(ctx context.Context, size int) (*Region, error)
}

// Region is a contiguous block of backing memory.
type Region struct {
	data    []byte
	closed  atomic.Bool
	release func([]byte) error // Nil for Go heap memory.
	budget  *Budget
}

// Bytes returns the region's memory.
// The slice is valid only until Close is called.
func (r *Region) Bytes() []byte {
	if r.closed.Load() {
		return nil
	}
	return r.data
}

// Len returns the region size in bytes.
func (r *Region) Len() int {
	return len(r.data)
}

// Close releases the region. It is idempotent.
// Any pool built on the region must no longer be used.
func (r *Region) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	defer r.budget.Release(int64(len(r.data)))
	if r.release == nil {
		r.data = nil
		return nil
	}
	err := r.release(r.data)
	r.data = nil
	return err
}

// reserve takes size bytes of budget without blocking.
func reserve(b *Budget, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if !b.TryAcquire(int64(size)) {
		return fmt.Errorf("%w: cannot reserve %d bytes (%d in use)", ErrBudgetExceeded, size, b.Used())
	}
	return nil
}

// reserveContext takes size bytes of budget, waiting until ctx is done.
func reserveContext(ctx context.Context, b *Budget, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	return b.Acquire(ctx, int64(size))
}
