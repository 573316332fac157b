// Package container implements generic containers whose storage comes from a
// slab allocator.
package container

import (
	"errors"
	"fmt"

	"github.com/holmberd/go-slab"
)

const minVectorCap = 4

// Vector is a growable sequence of elements stored in allocator memory.
// A Vector is not safe for concurrent use.
type Vector[T any] struct {
	alloc slab.Interface[T]
	data  []T // len is the vector length, cap the allocated capacity.
}

// NewVector returns a vector holding n zero elements.
func NewVector[T any](alloc slab.Interface[T], n int) (*Vector[T], error) {
	v := &Vector[T]{alloc: alloc}
	if n == 0 {
		return v, nil
	}
	data, err := alloc.Allocate(n)
	if err != nil {
		return nil, err
	}
	clear(data)
	v.data = data
	return v, nil
}

func (v *Vector[T]) Len() int {
	return len(v.data)
}

func (v *Vector[T]) Cap() int {
	return cap(v.data)
}

// At returns the element at index i. It panics if i is out of range.
func (v *Vector[T]) At(i int) T {
	return v.data[i]
}

// Set sets the element at index i. It panics if i is out of range.
func (v *Vector[T]) Set(i int, x T) {
	v.data[i] = x
}

// Slice returns the vector's elements. The slice is valid until the next call to
// Append, Reserve or Release.
func (v *Vector[T]) Slice() []T {
	return v.data
}

// Append appends xs, growing the storage as needed.
func (v *Vector[T]) Append(xs ...T) error {
	if n := len(v.data) + len(xs); n > cap(v.data) {
		if err := v.Reserve(max(2*cap(v.data), n, minVectorCap)); err != nil {
			return err
		}
	}
	v.data = append(v.data, xs...)
	return nil
}

// Pop removes and returns the last element. ok is false if the vector is empty.
func (v *Vector[T]) Pop() (x T, ok bool) {
	if len(v.data) == 0 {
		return x, false
	}
	x = v.data[len(v.data)-1]
	v.data = v.data[:len(v.data)-1]
	return x, true
}

// Reserve ensures the vector can hold n elements without reallocating.
func (v *Vector[T]) Reserve(n int) error {
	if n <= cap(v.data) {
		return nil
	}
	data, err := v.alloc.Allocate(n)
	if err != nil {
		return fmt.Errorf("grow vector to %d elements: %w", n, err)
	}
	data = data[:copy(data, v.data)]
	if err := v.alloc.Deallocate(v.data); err != nil {
		// Return the new storage rather than leak it.
		return fmt.Errorf("release vector storage: %w", errors.Join(err, v.alloc.Deallocate(data)))
	}
	v.data = data
	return nil
}

// Release returns the storage to the allocator and empties the vector.
func (v *Vector[T]) Release() error {
	err := v.alloc.Deallocate(v.data)
	v.data = nil
	return err
}
