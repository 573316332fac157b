package region

import (
	"context"
	"unsafe"
)

// Heap supplies regions from the Go heap. The memory is reclaimed by the garbage
// collector once the region and every pool built on it are unreachable.
type Heap struct {
	budget *Budget
}

// NewHeap returns a Go heap supplier. A nil budget is unlimited.
func NewHeap(budget *Budget) *Heap {
	return &Heap{budget: budget}
}

func (s *Heap) Acquire(size int) (*Region, error) {
	if err := reserve(s.budget, size); err != nil {
		return nil, err
	}
	return &Region{data: allocAligned(size), budget: s.budget}, nil
}

func (s *Heap) AcquireContext(ctx context.Context, size int) (*Region, error) {
	if err := reserveContext(ctx, s.budget, size); err != nil {
		return nil, err
	}
	return &Region{data: allocAligned(size), budget: s.budget}, nil
}

// allocAligned allocates size bytes starting at an Alignment boundary.
func allocAligned(size int) []byte {
	// Over-allocate so the start can be shifted up to Alignment-1 bytes.
	buf := make([]byte, size+Alignment)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	off := (Alignment - addr&(Alignment-1)) & (Alignment - 1)
	return buf[off : off+uintptr(size) : off+uintptr(size)]
}
