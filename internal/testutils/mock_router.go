package testutils

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"
)

var (
	ErrMockExhausted = errors.New("mock router exhausted")
	ErrMockUnknown   = errors.New("mock router: unknown pointer")
)

// MockRouter serves allocations from the Go heap and counts calls.
// Limit, when positive, caps the number of live allocations. DeallocateErr, when
// set, is returned by every Deallocate and nothing is released.
type MockRouter struct {
	Limit         int
	DeallocateErr error

	mu    sync.Mutex
	live  map[uintptr][]uint64
	sizes map[uintptr]uintptr

	allocateCalls   atomic.Int64
	deallocateCalls atomic.Int64
}

func (r *MockRouter) Allocate(elemSize, count uintptr) (unsafe.Pointer, error) {
	r.allocateCalls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Limit > 0 && len(r.live) >= r.Limit {
		return nil, ErrMockExhausted
	}
	if r.live == nil {
		r.live = make(map[uintptr][]uint64)
		r.sizes = make(map[uintptr]uintptr)
	}
	n := elemSize * count
	buf := make([]uint64, (n+7)/8+1)
	p := unsafe.Pointer(&buf[0])
	r.live[uintptr(p)] = buf
	r.sizes[uintptr(p)] = n
	return p, nil
}

func (r *MockRouter) Deallocate(ptr unsafe.Pointer, elemSize, count uintptr) error {
	r.deallocateCalls.Add(1)
	if r.DeallocateErr != nil {
		return r.DeallocateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.sizes[uintptr(ptr)]
	if !ok || elemSize*count != n {
		return ErrMockUnknown
	}
	delete(r.live, uintptr(ptr))
	delete(r.sizes, uintptr(ptr))
	return nil
}

func (r *MockRouter) AllocateCalls() int64 {
	return r.allocateCalls.Load()
}

func (r *MockRouter) DeallocateCalls() int64 {
	return r.deallocateCalls.Load()
}

// Live returns the number of outstanding allocations.
func (r *MockRouter) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *MockRouter) Reset() {
	r.allocateCalls.Store(0)
	r.deallocateCalls.Store(0)
}
