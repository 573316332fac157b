package container

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/holmberd/go-slab"
)

const (
	bucketCount    = 64 // Must be a power of two for unbiased modulo.
	minBucketSlots = 2
)

func bucketIndex(n uint64) uint64 {
	// Faster modulo via bitwise AND; requires bucketCount to be a power of two.
	return n & (bucketCount - 1)
}

// Key is the set of key types a Map accepts.
type Key interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

func hashKey[K Key](k K) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	return xxhash.Sum64(b[:])
}

type entry[K Key, V any] struct {
	key   K
	value V
}

// Map is a hash map whose buckets are allocated from a slab allocator.
// Each bucket is a contiguous run of entries grown on demand.
// A Map is not safe for concurrent use.
type Map[K Key, V any] struct {
	alloc   slab.Allocator[entry[K, V]]
	buckets [bucketCount][]entry[K, V]
	len     int
}

// NewMap returns an empty map drawing bucket storage from alloc's router.
func NewMap[K Key, V any](alloc slab.Allocator[V]) (*Map[K, V], error) {
	a, err := slab.Rebind[entry[K, V]](alloc)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{alloc: a}, nil
}

func (m *Map[K, V]) bucket(key K) *[]entry[K, V] {
	return &m.buckets[bucketIndex(hashKey(key))]
}

// Insert adds or updates an entry.
func (m *Map[K, V]) Insert(key K, value V) (updated bool, err error) {
	b := m.bucket(key)
	for i := range *b {
		if (*b)[i].key == key {
			(*b)[i].value = value
			return true, nil
		}
	}
	if len(*b) == cap(*b) {
		grown, err := m.alloc.Allocate(max(2*cap(*b), minBucketSlots))
		if err != nil {
			return false, fmt.Errorf("grow bucket: %w", err)
		}
		grown = grown[:copy(grown, *b)]
		if err := m.alloc.Deallocate(*b); err != nil {
			return false, fmt.Errorf("release bucket: %w", errors.Join(err, m.alloc.Deallocate(grown)))
		}
		*b = grown
	}
	*b = append(*b, entry[K, V]{key: key, value: value})
	m.len++
	return false, nil
}

// Get retrieves an entry by its key.
// The ok result indicates whether the key was found in the map.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	b := m.bucket(key)
	for i := range *b {
		if (*b)[i].key == key {
			return (*b)[i].value, true
		}
	}
	return value, false
}

// Has returns whether the key exist in the map.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Delete removes an entry from the map by its key.
// An emptied bucket returns its storage to the allocator.
func (m *Map[K, V]) Delete(key K) (ok bool, err error) {
	b := m.bucket(key)
	for i := range *b {
		if (*b)[i].key != key {
			continue
		}
		last := len(*b) - 1
		(*b)[i] = (*b)[last]
		*b = (*b)[:last]
		m.len--
		if last == 0 {
			err = m.alloc.Deallocate(*b)
			*b = nil
		}
		return true, err
	}
	return false, nil
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.len
}

// Range calls fn for each entry until fn returns false.
// The map must not be modified during iteration.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for i := range m.buckets {
		for _, e := range m.buckets[i] {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}

// Clear removes all entries and returns all bucket storage to the allocator.
func (m *Map[K, V]) Clear() error {
	var errs []error
	for i := range m.buckets {
		if err := m.alloc.Deallocate(m.buckets[i]); err != nil {
			errs = append(errs, err)
		}
		m.buckets[i] = nil
	}
	m.len = 0
	return errors.Join(errs...)
}
