/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main.go
Description: Main command-line interface for the Liora Fuzzer. Provides the
fuzz command with comprehensive configuration options for the coverage-guided
guidance, bound through viper for config-file and environment overrides.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kleascm/liora-fuzzer/cmd/fuzzer/commands"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Configuration
	configFile string
	logLevel   string
	jsonLogs   bool

	// Target configuration
	targetName string
	testName   string
	outputDir  string
	seedFiles  []string

	// Duration configuration
	maxDuration time.Duration
	runTimeout  time.Duration

	// Input model configuration
	executionIndexing bool
	maxInputSize      int
	generateEOF       bool

	// Fuzzing heuristics
	spliceSubtree       bool
	stealResponsibility bool
	saveOnlyValid       bool
	totallyRandom       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "liora-fuzzer",
		Short: "Coverage-guided, generator-based fuzzing engine",
		Long: `Liora Fuzzer drives instrumented test procedures with generated byte
streams, tracks edge coverage across runs, and evolves a corpus of
interesting inputs through mutation and splicing.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "use JSON log format")

	fuzzCmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Start a fuzzing session",
		RunE:  commands.RunFuzz,
	}

	fuzzCmd.Flags().StringVar(&targetName, "target", "", "registered target to fuzz")
	fuzzCmd.Flags().StringVar(&testName, "test-name", "", "test name for the status display")
	fuzzCmd.Flags().StringVar(&outputDir, "output-dir", "fuzz-results", "directory for corpus, failures, and stats")
	fuzzCmd.Flags().StringSliceVar(&seedFiles, "seed", nil, "seed input file (repeatable)")
	fuzzCmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "total fuzzing time (0 = unlimited)")
	fuzzCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-run timeout (0 = disabled)")
	fuzzCmd.Flags().BoolVar(&executionIndexing, "execution-indexing", false, "key inputs by execution index")
	fuzzCmd.Flags().IntVar(&maxInputSize, "max-input-size", 10240, "byte cap per input")
	fuzzCmd.Flags().BoolVar(&generateEOF, "generate-eof-when-out", false, "return EOF instead of random bytes on exhaustion")
	fuzzCmd.Flags().BoolVar(&spliceSubtree, "splice-subtree", false, "splice whole execution subtrees (needs indexing)")
	fuzzCmd.Flags().BoolVar(&stealResponsibility, "steal-responsibility", false, "steal responsibility from weaker saved inputs")
	fuzzCmd.Flags().BoolVar(&saveOnlyValid, "save-only-valid", false, "skip disk writes for invalid inputs")
	fuzzCmd.Flags().BoolVar(&totallyRandom, "totally-random", false, "blind mode: never save, always generate fresh")

	bindings := map[string]string{
		"config":                    "config",
		"log_level":                 "log-level",
		"json_logs":                 "json-logs",
		"target":                    "target",
		"test_name":                 "test-name",
		"output_dir":                "output-dir",
		"seed_files":                "seed",
		"max_duration":              "max-duration",
		"timeout":                   "timeout",
		"enable_execution_indexing": "execution-indexing",
		"max_input_size":            "max-input-size",
		"generate_eof_when_out":     "generate-eof-when-out",
		"splice_subtree":            "splice-subtree",
		"steal_responsibility":      "steal-responsibility",
		"save_only_valid":           "save-only-valid",
		"totally_random":            "totally-random",
	}
	for key, flag := range bindings {
		f := fuzzCmd.Flags().Lookup(flag)
		if f == nil {
			f = rootCmd.PersistentFlags().Lookup(flag)
		}
		if f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}

	listCmd := &cobra.Command{
		Use:   "targets",
		Short: "List registered fuzz targets",
		Run:   commands.RunListTargets,
	}

	rootCmd.AddCommand(fuzzCmd)
	rootCmd.AddCommand(listCmd)

	commands.RegisterBuiltinTargets()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
