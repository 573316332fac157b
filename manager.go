package slab

import (
	"cmp"
	"fmt"
	"log/slog"
	"math/bits"
	"slices"
	"sort"
	"unsafe"
)

// Fallback selects how far an allocation may search past its best-fit size class.
type Fallback int

const (
	// FallbackLarger scans into larger size classes when the best-fit class is exhausted.
	FallbackLarger Fallback = iota

	// FallbackNone serves a request only from pools of the best-fit chunk size.
	FallbackNone
)

func (f Fallback) String() string {
	switch f {
	case FallbackLarger:
		return "larger"
	case FallbackNone:
		return "none"
	default:
		return fmt.Sprintf("Fallback(%d)", int(f))
	}
}

// Router is the byte-level allocation contract consumed by [Allocator].
// Implementations must be comparable, since allocator equality is router identity.
type Router interface {
	Allocate(elemSize, count uintptr) (unsafe.Pointer, error)
	Deallocate(ptr unsafe.Pointer, elemSize, count uintptr) error
}

// PoolStats represents the state of a single pool.
type PoolStats struct {
	ChunkSize   int
	ChunkNumber int
	FreeChunks  int
}

// Stats represents manager stats.
type Stats struct {
	Pools       []PoolStats // Ordered by chunk size.
	Allocations uint64
	Frees       uint64
	Failures    uint64 // Exhausted allocations.
	Rejected    uint64 // Frees that returned an error.
}

func (s *Stats) Reset() {
	s.Pools = s.Pools[:0]
	s.Allocations = 0
	s.Frees = 0
	s.Failures = 0
	s.Rejected = 0
}

// PoolManager routes allocations to the smallest fitting pool with free capacity and
// resolves the owning pool on free.
//
// The pool set is fixed at construction. The manager does not own the pools or their
// regions, and must outlive every allocator bound to it. A PoolManager is not safe for
// concurrent use; wrap it in a [SyncManager] to share it between goroutines.
type PoolManager struct {
	logger   *slog.Logger
	fallback Fallback

	pools  []*Pool // Sorted by chunk size; construction order breaks ties.
	byAddr []*Pool // Sorted by start address.

	allocs   uint64
	frees    uint64
	failures uint64
	rejected uint64
}

// Option configures a PoolManager.
type Option func(*PoolManager)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(m *PoolManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithFallback sets the size class fallback policy. The default is FallbackLarger.
func WithFallback(f Fallback) Option {
	return func(m *PoolManager) {
		m.fallback = f
	}
}

// NewPoolManager creates a manager over pools. The pools slice is copied.
// It returns ErrOverlappingPools if any two pools share an address.
func NewPoolManager(pools []*Pool, opts ...Option) (*PoolManager, error) {
	for i, p := range pools {
		if p == nil {
			return nil, fmt.Errorf("%w: pool %d is nil", ErrInvalidPool, i)
		}
	}
	m := &PoolManager{
		logger: slog.Default(),
		pools:  slices.Clone(pools),
		byAddr: slices.Clone(pools),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fallback != FallbackLarger && m.fallback != FallbackNone {
		return nil, fmt.Errorf("%w: unknown fallback %v", ErrInvalidConfig, m.fallback)
	}

	slices.SortStableFunc(m.pools, func(a, b *Pool) int {
		return cmp.Compare(a.chunkSize, b.chunkSize)
	})
	slices.SortFunc(m.byAddr, func(a, b *Pool) int {
		return cmp.Compare(uintptr(a.start), uintptr(b.start))
	})
	for i := 1; i < len(m.byAddr); i++ {
		if m.byAddr[i-1].end() > uintptr(m.byAddr[i].start) {
			return nil, fmt.Errorf(
				"%w: pool at %#x overlaps pool at %#x",
				ErrOverlappingPools, uintptr(m.byAddr[i-1].start), uintptr(m.byAddr[i].start),
			)
		}
	}
	return m, nil
}

// span returns the chunk bytes needed for count elements of elemSize, header included.
func span(elemSize, count uintptr) (uintptr, bool) {
	hi, n := bits.Mul(uint(elemSize), uint(count))
	if hi != 0 {
		return 0, false
	}
	need := uintptr(n) + HeaderSize
	if need < HeaderSize {
		return 0, false
	}
	return need, true
}

// Allocate returns the address of elemSize*count bytes inside a pool chunk.
//
// It selects the leftmost pool whose chunk size fits the request plus header and
// scans forward for a pool with a free chunk. The error is ErrAllocationExhausted
// if no pool can serve the request.
func (m *PoolManager) Allocate(elemSize, count uintptr) (unsafe.Pointer, error) {
	need, ok := span(elemSize, count)
	if !ok || len(m.pools) == 0 {
		m.failures++
		return nil, ErrAllocationExhausted
	}

	// Lower bound: first pool with chunkSize >= need.
	lo := sort.Search(len(m.pools), func(i int) bool {
		return m.pools[i].chunkSize >= need
	})
	for i := lo; i < len(m.pools); i++ {
		p := m.pools[i]
		if m.fallback == FallbackNone && p.chunkSize != m.pools[lo].chunkSize {
			break
		}
		if idx, ok := p.fill(); ok {
			p.header(idx).link = need - HeaderSize
			m.allocs++
			return unsafe.Add(p.chunkAt(idx), HeaderSize), nil
		}
	}

	m.failures++
	m.logger.Debug("allocation exhausted", "bytes", need, "fallback", m.fallback)
	return nil, fmt.Errorf("%w: no free chunk for %d bytes", ErrAllocationExhausted, need)
}

// owner resolves the pool and chunk index for a pointer returned by Allocate.
func (m *PoolManager) owner(ptr unsafe.Pointer) (*Pool, uintptr, error) {
	addr := uintptr(ptr) - HeaderSize
	i := sort.Search(len(m.byAddr), func(i int) bool {
		return uintptr(m.byAddr[i].start) > addr
	})
	if i == 0 {
		return nil, 0, ErrForeignPointer
	}
	p := m.byAddr[i-1]
	idx, ok := p.index(addr)
	if !ok {
		return nil, 0, ErrForeignPointer
	}
	return p, idx, nil
}

// Deallocate returns the chunk behind ptr to its pool. ptr must have been returned by
// Allocate, and elemSize*count plus the header must fit in the owning chunk.
// Nothing is freed when an error is returned.
func (m *PoolManager) Deallocate(ptr unsafe.Pointer, elemSize, count uintptr) error {
	p, idx, err := m.owner(ptr)
	if err != nil {
		return m.reject(ptr, err)
	}
	if need, ok := span(elemSize, count); !ok || need > p.chunkSize {
		return m.reject(ptr, fmt.Errorf("%w: %d x %d bytes in %d byte chunk", ErrSpanExceedsChunk, count, elemSize, p.chunkSize))
	}
	if err := p.release(idx); err != nil {
		return m.reject(ptr, err)
	}
	m.frees++
	return nil
}

// Free returns the chunk behind ptr to its pool using the length recorded at
// allocation time.
func (m *PoolManager) Free(ptr unsafe.Pointer) error {
	p, idx, err := m.owner(ptr)
	if err != nil {
		return m.reject(ptr, err)
	}
	if err := p.release(idx); err != nil {
		return m.reject(ptr, err)
	}
	m.frees++
	return nil
}

// Len returns the byte length requested for the live allocation at ptr.
func (m *PoolManager) Len(ptr unsafe.Pointer) (uintptr, bool) {
	p, idx, err := m.owner(ptr)
	if err != nil || !p.used.Test(uint(idx)) {
		return 0, false
	}
	return p.header(idx).link, true
}

func (m *PoolManager) reject(ptr unsafe.Pointer, err error) error {
	m.rejected++
	m.logger.Warn("rejected free", "addr", fmt.Sprintf("%#x", uintptr(ptr)), "error", err)
	return err
}

// Pools returns the managed pools ordered by chunk size.
func (m *PoolManager) Pools() []*Pool {
	return slices.Clone(m.pools)
}

// UpdateStats writes the manager's stats to s.
func (m *PoolManager) UpdateStats(s *Stats) {
	s.Reset()
	for _, p := range m.pools {
		s.Pools = append(s.Pools, PoolStats{
			ChunkSize:   p.ChunkSize(),
			ChunkNumber: p.ChunkNumber(),
			FreeChunks:  p.FreeChunks(),
		})
	}
	s.Allocations = m.allocs
	s.Frees = m.frees
	s.Failures = m.failures
	s.Rejected = m.rejected
}
