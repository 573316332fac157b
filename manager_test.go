package slab

import (
	"bytes"
	"log/slog"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestManager builds a manager over fresh pools, one per PoolSpec, in the given order.
func newTestManager(t testing.TB, specs []PoolSpec, opts ...Option) (*PoolManager, []*Pool) {
	t.Helper()
	pools := make([]*Pool, len(specs))
	for i, s := range specs {
		pools[i] = newTestPool(t, s.ChunkSize, s.ChunkNumber)
	}
	m, err := NewPoolManager(pools, opts...)
	require.NoError(t, err)
	return m, pools
}

// ownerOf returns the pool holding the allocation at ptr.
func ownerOf(pools []*Pool, ptr unsafe.Pointer) *Pool {
	for _, p := range pools {
		if p.Contains(unsafe.Add(ptr, -int(HeaderSize))) {
			return p
		}
	}
	return nil
}

func TestPoolManagerAllocate(t *testing.T) {
	// Needs are expressed as total chunk bytes, header included.
	need := func(n uintptr) (uintptr, uintptr) { return n - HeaderSize, 1 }

	t.Run("Best fit across two size classes", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{40, 4}, {16, 4}})
		small, large := pools[1], pools[0]

		p, err := m.Allocate(need(12))
		require.NoError(t, err)
		assert.Same(t, small, ownerOf(pools, p))

		p, err = m.Allocate(need(30))
		require.NoError(t, err)
		assert.Same(t, large, ownerOf(pools, p))

		_, err = m.Allocate(need(50))
		assert.ErrorIs(t, err, ErrAllocationExhausted)
	})

	t.Run("Pools are sorted by chunk size", func(t *testing.T) {
		m, _ := newTestManager(t, []PoolSpec{{64, 1}, {16, 1}, {32, 1}, {16, 2}})
		var sizes []int
		for _, p := range m.Pools() {
			sizes = append(sizes, p.ChunkSize())
		}
		assert.Equal(t, []int{16, 16, 32, 64}, sizes)
	})

	t.Run("Exact fit uses the smaller class", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{16, 1}, {32, 1}})
		p, err := m.Allocate(need(16))
		require.NoError(t, err)
		assert.Same(t, pools[0], ownerOf(pools, p))
	})

	t.Run("Equal chunk sizes prefer construction order", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{32, 1}, {32, 1}})
		p1, err := m.Allocate(need(32))
		require.NoError(t, err)
		p2, err := m.Allocate(need(32))
		require.NoError(t, err)
		assert.Same(t, pools[0], ownerOf(pools, p1))
		assert.Same(t, pools[1], ownerOf(pools, p2))
	})

	t.Run("Larger fallback scans into larger classes", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{16, 1}, {32, 1}}, WithFallback(FallbackLarger))
		p1, err := m.Allocate(need(16))
		require.NoError(t, err)
		p2, err := m.Allocate(need(16))
		require.NoError(t, err)
		assert.Same(t, pools[0], ownerOf(pools, p1))
		assert.Same(t, pools[1], ownerOf(pools, p2))

		_, err = m.Allocate(need(16))
		assert.ErrorIs(t, err, ErrAllocationExhausted)
	})

	t.Run("No fallback fails when the best fit class is exhausted", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{16, 1}, {16, 1}, {32, 1}}, WithFallback(FallbackNone))
		for range 2 {
			_, err := m.Allocate(need(16))
			require.NoError(t, err)
		}
		_, err := m.Allocate(need(16))
		assert.ErrorIs(t, err, ErrAllocationExhausted)
		assert.True(t, pools[2].HasFreeChunks(), "larger pool must be untouched")

		// Requests in the larger class are still served.
		_, err = m.Allocate(need(32))
		assert.NoError(t, err)
	})

	t.Run("Empty manager", func(t *testing.T) {
		m, err := NewPoolManager(nil)
		require.NoError(t, err)
		_, err = m.Allocate(8, 1)
		assert.ErrorIs(t, err, ErrAllocationExhausted)
	})

	t.Run("Overflowing request", func(t *testing.T) {
		m, _ := newTestManager(t, []PoolSpec{{16, 1}})
		_, err := m.Allocate(^uintptr(0), 2)
		assert.ErrorIs(t, err, ErrAllocationExhausted)
		_, err = m.Allocate(^uintptr(0), 1)
		assert.ErrorIs(t, err, ErrAllocationExhausted)
	})

	t.Run("Returned memory sits past the header and is usable", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{64, 2}})
		p, err := m.Allocate(8, 7)
		require.NoError(t, err)
		assert.Equal(t, unsafe.Add(pools[0].Start(), HeaderSize), p)

		data := unsafe.Slice((*uint64)(p), 7)
		for i := range data {
			data[i] = ^uint64(0)
		}
		// Writing the payload must not corrupt the neighbouring chunk.
		q, err := m.Allocate(8, 7)
		require.NoError(t, err)
		assert.Equal(t, unsafe.Add(p, 64), q)
		n, ok := m.Len(p)
		require.True(t, ok)
		assert.Equal(t, uintptr(56), n)
	})
}

func TestPoolManagerDeallocate(t *testing.T) {
	t.Run("Round trip restores the free count and reuses the address", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{16, 4}, {64, 4}})
		for _, size := range []uintptr{4, 40} {
			p, err := m.Allocate(size, 1)
			require.NoError(t, err)
			owner := ownerOf(pools, p)
			before := owner.FreeChunks()

			require.NoError(t, m.Deallocate(p, size, 1))
			assert.Equal(t, before+1, owner.FreeChunks())

			q, err := m.Allocate(size, 1)
			require.NoError(t, err)
			assert.Equal(t, p, q)
		}
	})

	t.Run("Chunks past the first of a pool are released", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{32, 8}})
		var ptrs []unsafe.Pointer
		for range 8 {
			p, err := m.Allocate(4, 4)
			require.NoError(t, err)
			ptrs = append(ptrs, p)
		}
		for _, p := range ptrs[1:] {
			require.NoError(t, m.Deallocate(p, 4, 4))
		}
		assert.Equal(t, 7, pools[0].FreeChunks())
		assert.Equal(t, 7, pools[0].freeListLen())
	})

	t.Run("Ownership is resolved across many pools", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{16, 3}, {24, 3}, {48, 3}, {96, 3}})
		var ptrs []unsafe.Pointer
		for _, p := range pools {
			for range p.ChunkNumber() {
				ptr, err := m.Allocate(uintptr(p.ChunkSize())-HeaderSize, 1)
				require.NoError(t, err)
				ptrs = append(ptrs, ptr)
			}
		}
		for _, p := range pools {
			require.False(t, p.HasFreeChunks())
		}
		for _, ptr := range ptrs {
			require.NoError(t, m.Free(ptr))
		}
		for _, p := range pools {
			assert.Equal(t, p.ChunkNumber(), p.FreeChunks())
		}
	})

	t.Run("Span larger than the chunk is rejected", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{16, 2}})
		p, err := m.Allocate(4, 2)
		require.NoError(t, err)

		assert.ErrorIs(t, m.Deallocate(p, 4, 3), ErrSpanExceedsChunk)
		assert.Equal(t, 1, pools[0].FreeChunks(), "rejected deallocate must not free")
		assert.NoError(t, m.Deallocate(p, 4, 2))
	})

	t.Run("Foreign pointer is reported", func(t *testing.T) {
		m, _ := newTestManager(t, []PoolSpec{{16, 2}})
		var x [4]uint64
		assert.ErrorIs(t, m.Deallocate(unsafe.Pointer(&x[1]), 8, 1), ErrForeignPointer)
		assert.ErrorIs(t, m.Free(nil), ErrForeignPointer)
	})

	t.Run("Double free is reported", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{16, 2}})
		p, err := m.Allocate(8, 1)
		require.NoError(t, err)
		require.NoError(t, m.Free(p))
		assert.ErrorIs(t, m.Free(p), ErrDoubleFree)
		assert.ErrorIs(t, m.Deallocate(p, 8, 1), ErrDoubleFree)
		assert.Equal(t, 2, pools[0].FreeChunks())

		_, ok := m.Len(p)
		assert.False(t, ok)
	})

	t.Run("Chunks filled directly report zero length", func(t *testing.T) {
		m, pools := newTestManager(t, []PoolSpec{{16, 4}})
		c := pools[0].FillChunk()
		require.NotNil(t, c)

		n, ok := m.Len(unsafe.Add(c, HeaderSize))
		require.True(t, ok)
		assert.Zero(t, n)
		require.NoError(t, m.Free(unsafe.Add(c, HeaderSize)))
		assert.Equal(t, 4, pools[0].FreeChunks())
	})

	t.Run("Rejected frees are logged", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		m, _ := newTestManager(t, []PoolSpec{{16, 1}}, WithLogger(logger))

		var x uint64
		require.Error(t, m.Free(unsafe.Pointer(&x)))
		assert.Contains(t, buf.String(), "rejected free")
	})
}

func TestNewPoolManager(t *testing.T) {
	t.Run("Overlapping pools", func(t *testing.T) {
		buf := newTestRegion(t, 128)
		a, err := NewPool(buf, 16, 4)
		require.NoError(t, err)
		b, err := NewPool(buf[32:], 16, 4)
		require.NoError(t, err)

		_, err = NewPoolManager([]*Pool{a, b})
		assert.ErrorIs(t, err, ErrOverlappingPools)
	})

	t.Run("Adjacent pools", func(t *testing.T) {
		buf := newTestRegion(t, 128)
		a, err := NewPool(buf, 16, 4)
		require.NoError(t, err)
		b, err := NewPool(buf[64:], 32, 2)
		require.NoError(t, err)

		m, err := NewPoolManager([]*Pool{b, a})
		require.NoError(t, err)

		// The last chunk of a and the first chunk of b are resolved to the right pool.
		pa := unsafe.Add(a.Start(), 48+int(HeaderSize))
		pb := unsafe.Add(b.Start(), HeaderSize)
		for range 4 {
			_, err := m.Allocate(8, 1)
			require.NoError(t, err)
		}
		_, err = m.Allocate(16, 1)
		require.NoError(t, err)
		require.NoError(t, m.Free(pa))
		require.NoError(t, m.Free(pb))
		assert.Equal(t, 1, a.FreeChunks())
		assert.Equal(t, 2, b.FreeChunks())
	})

	t.Run("Nil pool", func(t *testing.T) {
		_, err := NewPoolManager([]*Pool{nil})
		assert.ErrorIs(t, err, ErrInvalidPool)
	})

	t.Run("Unknown fallback", func(t *testing.T) {
		_, err := NewPoolManager(nil, WithFallback(Fallback(7)))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestPoolManagerStats(t *testing.T) {
	m, _ := newTestManager(t, []PoolSpec{{32, 2}, {16, 2}})

	p, err := m.Allocate(8, 1)
	require.NoError(t, err)
	_, err = m.Allocate(64, 1)
	require.Error(t, err)
	require.NoError(t, m.Free(p))
	require.Error(t, m.Free(p))

	var s Stats
	m.UpdateStats(&s)
	assert.Equal(t, []PoolStats{
		{ChunkSize: 16, ChunkNumber: 2, FreeChunks: 2},
		{ChunkSize: 32, ChunkNumber: 2, FreeChunks: 2},
	}, s.Pools)
	assert.Equal(t, uint64(1), s.Allocations)
	assert.Equal(t, uint64(1), s.Frees)
	assert.Equal(t, uint64(1), s.Failures)
	assert.Equal(t, uint64(1), s.Rejected)

	// Stats are overwritten, not accumulated.
	m.UpdateStats(&s)
	assert.Len(t, s.Pools, 2)
}
