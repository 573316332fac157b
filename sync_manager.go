package slab

import (
	"sync"
	"unsafe"
)

// SyncManager serializes access to a PoolManager with a mutex so that it can be
// shared by multiple goroutines. The wrapped manager must not be used directly
// while the SyncManager is in use.
type SyncManager struct {
	mu sync.Mutex
	m  *PoolManager
}

// NewSyncManager wraps m.
func NewSyncManager(m *PoolManager) *SyncManager {
	return &SyncManager{m: m}
}

// Allocate is the locked form of [PoolManager.Allocate].
func (s *SyncManager) Allocate(elemSize, count uintptr) (unsafe.Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Allocate(elemSize, count)
}

// Deallocate is the locked form of [PoolManager.Deallocate].
func (s *SyncManager) Deallocate(ptr unsafe.Pointer, elemSize, count uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Deallocate(ptr, elemSize, count)
}

// Free is the locked form of [PoolManager.Free].
func (s *SyncManager) Free(ptr unsafe.Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Free(ptr)
}

func (s *SyncManager) UpdateStats(st *Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.UpdateStats(st)
}

var (
	_ Router = (*PoolManager)(nil)
	_ Router = (*SyncManager)(nil)
)
