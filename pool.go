package slab

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
)

// HeaderSize is the size of a chunk header in bytes.
//
// While a chunk is free its header links it to the next free chunk of the same pool.
// While it is allocated the header holds the byte length requested by the caller,
// and the bytes past the header belong to the caller.
const HeaderSize = unsafe.Sizeof(uintptr(0))

// noLink terminates a free list.
const noLink = 0

// chunk is the header overlay of one pool slot.
type chunk struct {
	// link is the index+1 of the next free chunk, or noLink. Allocated chunks
	// store the requested byte length here instead.
	link uintptr
}

// Pool is a slab of equal-size chunks carved from one backing region, with its own
// singly-linked free list.
//
// The region is supplied by the caller and must outlive the pool. A Pool is not
// safe for concurrent use.
type Pool struct {
	region      []byte // Keeps Go heap backed regions reachable.
	start       unsafe.Pointer
	chunkSize   uintptr
	chunkNumber uintptr
	chunkFree   uintptr
	head        unsafe.Pointer // First free chunk, nil when the pool is exhausted.

	// used marks allocated chunk indexes.
	used *bitset.BitSet
}

// NewPool partitions region into chunkNumber chunks of chunkSize bytes and links
// them into a free list in address order.
func NewPool(region []byte, chunkSize, chunkNumber int) (*Pool, error) {
	var errs []error
	if chunkNumber <= 0 {
		errs = append(errs, fmt.Errorf("chunk number must be positive, got %d", chunkNumber))
	}
	if chunkSize < int(HeaderSize) {
		errs = append(errs, fmt.Errorf("chunk size %d is smaller than the %d byte header", chunkSize, HeaderSize))
	} else if chunkSize%int(HeaderSize) != 0 {
		errs = append(errs, fmt.Errorf("chunk size %d must be a multiple of %d", chunkSize, HeaderSize))
	}
	if len(errs) == 0 && len(region)/chunkSize < chunkNumber {
		errs = append(errs, fmt.Errorf(
			"region of %d bytes cannot hold %d chunks of %d bytes", len(region), chunkNumber, chunkSize,
		))
	}
	if len(errs) == 0 && uintptr(unsafe.Pointer(&region[0]))%HeaderSize != 0 {
		errs = append(errs, errors.New("region start is not pointer aligned"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPool, errors.Join(errs...))
	}

	p := &Pool{
		region:      region[: chunkSize*chunkNumber : chunkSize*chunkNumber],
		start:       unsafe.Pointer(&region[0]),
		chunkSize:   uintptr(chunkSize),
		chunkNumber: uintptr(chunkNumber),
		chunkFree:   uintptr(chunkNumber),
		used:        bitset.New(uint(chunkNumber)),
	}
	for i := uintptr(0); i < p.chunkNumber-1; i++ {
		p.header(i).link = i + 2
	}
	p.header(p.chunkNumber - 1).link = noLink
	p.head = p.start
	return p, nil
}

// chunkAt returns the address of the chunk at index i.
func (p *Pool) chunkAt(i uintptr) unsafe.Pointer {
	return unsafe.Add(p.start, i*p.chunkSize)
}

func (p *Pool) header(i uintptr) *chunk {
	return (*chunk)(p.chunkAt(i))
}

// index returns the chunk index for a chunk start address.
// ok is false if addr is outside the pool or not on a chunk boundary.
func (p *Pool) index(addr uintptr) (i uintptr, ok bool) {
	if !p.containsAddr(addr) {
		return 0, false
	}
	off := addr - uintptr(p.start)
	if off%p.chunkSize != 0 {
		return 0, false
	}
	return off / p.chunkSize, true
}

func (p *Pool) containsAddr(addr uintptr) bool {
	s := uintptr(p.start)
	return addr >= s && addr < s+p.chunkNumber*p.chunkSize
}

// fill pops the head of the free list and returns its index.
func (p *Pool) fill() (uintptr, bool) {
	if p.head == nil {
		return 0, false
	}
	i := (uintptr(p.head) - uintptr(p.start)) / p.chunkSize
	if next := p.header(i).link; next != noLink {
		p.head = p.chunkAt(next - 1)
	} else {
		p.head = nil
	}
	p.header(i).link = 0
	p.chunkFree--
	p.used.Set(uint(i))
	return i, true
}

// release pushes the chunk at index i onto the free list.
func (p *Pool) release(i uintptr) error {
	if !p.used.Test(uint(i)) {
		return ErrDoubleFree
	}
	link := uintptr(noLink)
	if p.head != nil {
		link = (uintptr(p.head)-uintptr(p.start))/p.chunkSize + 1
	}
	p.header(i).link = link
	p.head = p.chunkAt(i)
	p.chunkFree++
	p.used.Clear(uint(i))
	return nil
}

// FillChunk pops a chunk from the free list and returns its start address.
// The chunk header is zeroed. It returns nil if the pool has no free chunks.
func (p *Pool) FillChunk() unsafe.Pointer {
	i, ok := p.fill()
	if !ok {
		return nil
	}
	return p.chunkAt(i)
}

// FreeChunk pushes a chunk previously returned by FillChunk back onto the free list.
// The most recently freed chunk is the next one returned by FillChunk.
func (p *Pool) FreeChunk(c unsafe.Pointer) error {
	i, ok := p.index(uintptr(c))
	if !ok {
		return ErrForeignPointer
	}
	return p.release(i)
}

// HasFreeChunks reports whether FillChunk would succeed.
func (p *Pool) HasFreeChunks() bool {
	return p.chunkFree != 0
}

// ChunkSize returns the size of every chunk in the pool, header included.
func (p *Pool) ChunkSize() int {
	return int(p.chunkSize)
}

// ChunkNumber returns the pool capacity in chunks.
func (p *Pool) ChunkNumber() int {
	return int(p.chunkNumber)
}

// FreeChunks returns the number of chunks on the free list.
func (p *Pool) FreeChunks() int {
	return int(p.chunkFree)
}

// Start returns the address of the first chunk.
func (p *Pool) Start() unsafe.Pointer {
	return p.start
}

// Contains reports whether ptr lies inside the pool's chunk range.
func (p *Pool) Contains(ptr unsafe.Pointer) bool {
	return p.containsAddr(uintptr(ptr))
}

// end returns the address one past the last chunk.
func (p *Pool) end() uintptr {
	return uintptr(p.start) + p.chunkNumber*p.chunkSize
}

// freeListLen walks the free list. It is intended for tests.
func (p *Pool) freeListLen() int {
	n := 0
	for c := p.head; c != nil; {
		n++
		i := (uintptr(c) - uintptr(p.start)) / p.chunkSize
		next := p.header(i).link
		if next == noLink {
			break
		}
		c = p.chunkAt(next - 1)
	}
	return n
}
