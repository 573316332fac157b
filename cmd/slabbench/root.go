package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	elements    int
	generations int
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "slabbench",
	Short: "Benchmark slab pool allocation against the Go heap",
	Long: `slabbench allocates a vector of int32 elements once per generation and
prints the elapsed time in microseconds. The default command uses the Go heap,
the pool command a slab pool sized for exactly one vector per chunk.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&elements, "elements", "n", 50, "Elements per vector")
	rootCmd.PersistentFlags().IntVarP(&generations, "generations", "g", 1000, "Number of allocations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger returns the logger handed to pool managers.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// checkSizes validates the global flags.
func checkSizes() error {
	if elements <= 0 {
		return fmt.Errorf("--elements must be positive, got %d", elements)
	}
	if generations < 0 {
		return fmt.Errorf("--generations must not be negative, got %d", generations)
	}
	return nil
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
