package slab

import "errors"

var (
	// ErrAllocationExhausted is returned when no pool can serve a request: the manager
	// has no pools, no chunk size fits the request, or every eligible pool is full.
	ErrAllocationExhausted = errors.New("slab: allocation exhausted")

	// ErrForeignPointer is returned when a pointer does not belong to any chunk known
	// to the pool or manager.
	ErrForeignPointer = errors.New("slab: pointer not owned by any pool")

	// ErrDoubleFree is returned when a chunk is released while already free.
	ErrDoubleFree = errors.New("slab: chunk is already free")

	// ErrSpanExceedsChunk is returned when a deallocation span does not fit in the
	// owning chunk.
	ErrSpanExceedsChunk = errors.New("slab: span exceeds chunk size")

	ErrInvalidPool      = errors.New("slab: invalid pool")
	ErrOverlappingPools = errors.New("slab: pools overlap")
	ErrInvalidConfig    = errors.New("slab: invalid config")

	// ErrPointerType is returned when an allocator is requested for an element type
	// that contains Go pointers. Pool memory is not scanned by the garbage collector.
	ErrPointerType = errors.New("slab: element type contains pointers")
)
