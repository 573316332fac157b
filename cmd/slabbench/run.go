package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/holmberd/go-slab"
	"github.com/holmberd/go-slab/container"
	"github.com/holmberd/go-slab/region"
)

var (
	poolCount   int
	compareJSON bool
)

func init() {
	poolCmd := newPoolCmd()
	poolCmd.Flags().IntVar(&poolCount, "pools", 1, "Number of identical pools")
	compareCmd := newCompareCmd()
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(newDefaultCmd(), poolCmd, compareCmd)
}

func newDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default",
		Short: "Allocate vectors on the Go heap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSizes(); err != nil {
				return err
			}
			d, err := runHeap(elements, generations)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), d.Microseconds())
			return nil
		},
	}
}

func newPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Allocate vectors from slab pools",
		Long: `The pool command builds pools of --elements chunks, each chunk sized for one
vector, and allocates every vector from them. Pool setup is included in the
elapsed time.

Example:
  slabbench pool -n 500 -g 100000
  slabbench pool -n 50 -g 1000 --pools 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSizes(); err != nil {
				return err
			}
			d, err := runPool(elements, generations, poolCount, newLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), d.Microseconds())
			return nil
		},
	}
}

// comparison is the compare command's JSON output.
type comparison struct {
	Elements    int   `json:"elements"`
	Generations int   `json:"generations"`
	HeapMicros  int64 `json:"heap_us"`
	PoolMicros  int64 `json:"pool_us"`
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "Run the heap and pool benchmarks back to back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSizes(); err != nil {
				return err
			}
			heap, err := runHeap(elements, generations)
			if err != nil {
				return err
			}
			pool, err := runPool(elements, generations, 1, newLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			c := comparison{
				Elements:    elements,
				Generations: generations,
				HeapMicros:  heap.Microseconds(),
				PoolMicros:  pool.Microseconds(),
			}
			if compareJSON {
				return printJSON(cmd.OutOrStdout(), c)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "heap %d\npool %d\n", c.HeapMicros, c.PoolMicros)
			return nil
		},
	}
}

// runHeap times generations vectors of n zeroed int32 on the Go heap.
func runHeap(n, generations int) (time.Duration, error) {
	return timeVectors(slab.HeapAllocator[int32]{}, n, generations)
}

// runPool times generations vectors of n zeroed int32 from pools of n chunks, each
// chunk holding one vector. Pool setup is included in the elapsed time.
func runPool(n, generations, pools int, logger *slog.Logger) (time.Duration, error) {
	start := time.Now()
	spec := slab.PoolSpec{
		ChunkSize:   alignUp(n*4) + int(slab.HeaderSize),
		ChunkNumber: n,
	}
	cfg := slab.Config{Logger: logger}
	for range max(pools, 1) {
		cfg.Pools = append(cfg.Pools, spec)
	}
	s, err := slab.Build(cfg, region.NewMmap(nil))
	if err != nil {
		return 0, err
	}
	defer s.Close()

	a, err := slab.NewAllocator[int32](s)
	if err != nil {
		return 0, err
	}
	if _, err := timeVectors(a, n, generations); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func timeVectors(alloc slab.Interface[int32], n, generations int) (time.Duration, error) {
	start := time.Now()
	for range generations {
		v, err := container.NewVector(alloc, n)
		if err != nil {
			return 0, err
		}
		if err := v.Release(); err != nil {
			return 0, err
		}
	}
	return time.Since(start), nil
}

func alignUp(n int) int {
	const align = int(slab.HeaderSize)
	return (n + align - 1) &^ (align - 1)
}
