package region

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// Mmap supplies anonymous private mappings outside the Go heap, so pool memory adds
// nothing to the garbage collector's work. Mappings are page aligned.
type Mmap struct {
	budget *Budget
}

// NewMmap returns an mmap supplier. A nil budget is unlimited.
func NewMmap(budget *Budget) *Mmap {
	return &Mmap{budget: budget}
}

func (s *Mmap) Acquire(size int) (*Region, error) {
	if err := reserve(s.budget, size); err != nil {
		return nil, err
	}
	return s.mmap(size)
}

func (s *Mmap) AcquireContext(ctx context.Context, size int) (*Region, error) {
	if err := reserveContext(ctx, s.budget, size); err != nil {
		return nil, err
	}
	return s.mmap(size)
}

// mmap maps size bytes. It assumes size has been reserved from the budget.
func (s *Mmap) mmap(size int) (*Region, error) {
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		s.budget.Release(int64(size))
		return nil, fmt.Errorf("cannot allocate %d bytes via mmap: %w", size, err)
	}
	return &Region{data: data, release: munmap, budget: s.budget}, nil
}

// munmap releases a mapping back to the operating system.
func munmap(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		slog.Error("failed to unmap region", "bytes", len(data), "error", err)
		return err
	}
	return nil
}
