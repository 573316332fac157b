// Package slab implements a fixed-capacity slab allocator.
//
// A [Pool] partitions one caller-supplied region into equal-size chunks kept on a
// free list. A [PoolManager] holds a fixed set of pools sorted by chunk size and
// routes each request to the smallest chunk size that fits. An [Allocator] binds a
// manager to an element type for use by generic containers.
//
// Pools never grow and the manager never releases backing memory; the caller
// acquires the regions (see package region) and owns their lifetime.
package slab

import (
	"fmt"
	"reflect"
	"unsafe"
)

// Interface is the allocation contract consumed by generic containers.
type Interface[T any] interface {
	// Allocate returns a slice of n elements with len and cap equal to n.
	// The elements are not zeroed.
	Allocate(n int) ([]T, error)

	// Deallocate releases a slice returned by Allocate. The slice may be resliced
	// in length, but must start at the first element and keep its capacity.
	Deallocate(s []T) error
}

// Allocator allocates elements of type T from a shared [Router].
//
// Allocators are cheap values. Any number of them, of any element types, may share
// one router; the router must outlive all of them.
type Allocator[T any] struct {
	r Router
}

// NewAllocator binds r to element type T.
// T must not contain Go pointers, since pool memory is not scanned by the garbage
// collector. The dynamic type of r must be comparable, since allocator equality is
// router identity.
func NewAllocator[T any](r Router) (Allocator[T], error) {
	if t := reflect.TypeFor[T](); hasPointers(t) {
		return Allocator[T]{}, fmt.Errorf("%w: %v", ErrPointerType, t)
	}
	if r == nil {
		return Allocator[T]{}, fmt.Errorf("%w: nil router", ErrInvalidConfig)
	}
	if rt := reflect.TypeOf(r); !rt.Comparable() {
		return Allocator[T]{}, fmt.Errorf("%w: router type %v is not comparable", ErrInvalidConfig, rt)
	}
	return Allocator[T]{r: r}, nil
}

// Rebind returns an allocator for element type U sharing a's router.
func Rebind[U, T any](a Allocator[T]) (Allocator[U], error) {
	return NewAllocator[U](a.r)
}

// Equal reports whether a and b allocate from the same router instance.
// Memory allocated through one may be released through the other.
func Equal[T, U any](a Allocator[T], b Allocator[U]) bool {
	return a.r == b.r
}

// Equal reports whether a and b allocate from the same router instance.
func (a Allocator[T]) Equal(b Allocator[T]) bool {
	return a.r == b.r
}

// Router returns the router backing the allocator.
func (a Allocator[T]) Router() Router {
	return a.r
}

// Allocate returns n uninitialized elements. It returns a nil slice for n == 0 and
// panics if n is negative.
func (a Allocator[T]) Allocate(n int) ([]T, error) {
	if n < 0 {
		panic(fmt.Sprintf("slab: negative allocation count %d", n))
	}
	if n == 0 {
		return nil, nil
	}
	var zero T
	p, err := a.r.Allocate(unsafe.Sizeof(zero), uintptr(n))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(p), n), nil
}

// Deallocate releases s. Slices with zero capacity are ignored.
func (a Allocator[T]) Deallocate(s []T) error {
	if cap(s) == 0 {
		return nil
	}
	var zero T
	return a.r.Deallocate(unsafe.Pointer(unsafe.SliceData(s)), unsafe.Sizeof(zero), uintptr(cap(s)))
}

// hasPointers reports whether values of t contain Go pointers.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan,
		reflect.Func, reflect.Interface, reflect.Slice, reflect.String:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

// HeapAllocator allocates from the Go heap. It is the general-purpose baseline
// and accepts any element type.
type HeapAllocator[T any] struct{}

func (HeapAllocator[T]) Allocate(n int) ([]T, error) {
	if n == 0 {
		return nil, nil
	}
	return make([]T, n), nil
}

// Deallocate is a no-op; the garbage collector reclaims the slice.
func (HeapAllocator[T]) Deallocate([]T) error {
	return nil
}

var (
	_ Interface[int64] = Allocator[int64]{}
	_ Interface[int64] = HeapAllocator[int64]{}
)
