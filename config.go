package slab

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/holmberd/go-slab/region"
)

// defaultChunkSizes are the size classes of the default config, smallest to largest.
// Each class holds the header plus a power-of-two payload.
var defaultChunkSizes = [...]int{
	int(HeaderSize) + 8,
	int(HeaderSize) + 24,
	int(HeaderSize) + 56,
	int(HeaderSize) + 120,
	int(HeaderSize) + 248,
	int(HeaderSize) + 504,
	int(HeaderSize) + 1016,
	int(HeaderSize) + 4088,
}

func init() {
	// Runtime assertion.
	if !sort.IntsAreSorted(defaultChunkSizes[:]) {
		panic(errors.New("default chunk sizes must be sorted in ascending order"))
	}
}

// PoolSpec describes one pool of a layout.
type PoolSpec struct {
	ChunkSize   int // Chunk size in bytes, header included.
	ChunkNumber int // Number of chunks in the pool.
}

// Bytes returns the backing region size the pool needs.
func (s PoolSpec) Bytes() int {
	return s.ChunkSize * s.ChunkNumber
}

// Config describes a pool layout and the manager built over it.
type Config struct {
	// Pools lists the pools in construction order. Pools of equal chunk size are
	// preferred in this order.
	Pools []PoolSpec

	Fallback Fallback     // Size class fallback policy.
	Logger   *slog.Logger // Manager logger; nil uses slog.Default.
}

// DefaultConfig returns a layout of power-of-two payload classes from 8 bytes to
// 4 KiB, with fewer chunks in the larger classes.
func DefaultConfig() Config {
	pools := make([]PoolSpec, len(defaultChunkSizes))
	for i, size := range defaultChunkSizes {
		pools[i] = PoolSpec{
			ChunkSize:   size,
			ChunkNumber: max(4096>>i, 64),
		}
	}
	return Config{
		Pools:    pools,
		Fallback: FallbackLarger,
	}
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Pools) == 0 {
		errs = append(errs, errors.New("invalid config: at least one pool is required"))
	}
	for i, p := range c.Pools {
		if p.ChunkSize < int(HeaderSize) || p.ChunkSize%int(HeaderSize) != 0 {
			errs = append(errs, fmt.Errorf(
				"invalid config: pool %d chunk size %d must be a positive multiple of %d", i, p.ChunkSize, HeaderSize,
			))
		}
		if p.ChunkNumber <= 0 {
			errs = append(errs, fmt.Errorf("invalid config: pool %d chunk number must be positive", i))
		}
	}
	if c.Fallback != FallbackLarger && c.Fallback != FallbackNone {
		errs = append(errs, fmt.Errorf("invalid config: unknown fallback %v", c.Fallback))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Set bundles a PoolManager with the regions backing its pools.
// The manager and every allocator bound to it must not be used after Close.
type Set struct {
	*PoolManager
	regions []*region.Region
}

// Build validates cfg, acquires one region per pool from supplier and constructs the
// pools and their manager. Regions acquired before a failure are closed.
func Build(cfg Config, supplier region.Supplier) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Set{}
	pools := make([]*Pool, 0, len(cfg.Pools))
	for i, spec := range cfg.Pools {
		r, err := supplier.Acquire(spec.Bytes())
		if err != nil {
			return nil, errors.Join(fmt.Errorf("pool %d: %w", i, err), s.Close())
		}
		s.regions = append(s.regions, r)

		p, err := NewPool(r.Bytes(), spec.ChunkSize, spec.ChunkNumber)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("pool %d: %w", i, err), s.Close())
		}
		pools = append(pools, p)
	}
	m, err := NewPoolManager(pools, WithFallback(cfg.Fallback), WithLogger(cfg.Logger))
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	s.PoolManager = m
	return s, nil
}

// Close releases every region of the set.
func (s *Set) Close() error {
	var errs []error
	for _, r := range s.regions {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.regions = nil
	return errors.Join(errs...)
}
