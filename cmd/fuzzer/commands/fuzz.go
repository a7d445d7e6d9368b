/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: fuzz.go
Description: Fuzz command implementation for the Liora Fuzzer. Wires the
configuration, logging, trace sink, guidance, and harness runner together and
manages the session lifecycle with graceful shutdown on interrupt.
*/

package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kleascm/liora-fuzzer/pkg/guidance"
	"github.com/kleascm/liora-fuzzer/pkg/harness"
	"github.com/kleascm/liora-fuzzer/pkg/interfaces"
	"github.com/kleascm/liora-fuzzer/pkg/logging"
	"github.com/kleascm/liora-fuzzer/pkg/trace"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// targetThread names the single target thread of an in-process session.
const targetThread = "target-0"

// RunFuzz executes the main fuzzing process.
func RunFuzz(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := SetupLogging(); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	config := createFuzzerConfig()
	if err := validateFuzzerConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	target, err := harness.LookupTarget(viper.GetString("target"))
	if err != nil {
		return err
	}

	logFormat := logging.LogFormatText
	if config.JSONLogs {
		logFormat = logging.LogFormatJSON
	}
	logger, err := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.LogLevel(config.LogLevel),
		Format:    logFormat,
		OutputDir: config.OutputDir,
		Filename:  "fuzz.log",
		Truncate:  true,
		Console:   false,
	})
	if err != nil {
		return fmt.Errorf("failed to setup session log: %w", err)
	}
	defer logger.Close()

	sink := trace.NewSink()
	g, err := guidance.New(config, sink, logger)
	if err != nil {
		return fmt.Errorf("failed to create guidance: %w", err)
	}
	defer g.Close()

	// Graceful shutdown on interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived shutdown signal, stopping fuzzer...")
		g.Stop()
	}()

	runner := harness.NewRunner(g, sink, targetThread, target)
	if err := runner.Run(); err != nil {
		return fmt.Errorf("fuzzing session failed: %w", err)
	}

	printFinalStats(g)
	return nil
}

// RunListTargets prints the registered fuzz targets.
func RunListTargets(cmd *cobra.Command, args []string) {
	for _, name := range harness.TargetNames() {
		fmt.Println(name)
	}
}

// validateFuzzerConfig validates the fuzzer configuration.
func validateFuzzerConfig(config *interfaces.FuzzerConfig) error {
	if viper.GetString("target") == "" {
		return fmt.Errorf("target is required")
	}
	if config.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if config.SpliceSubtree && !config.EnableExecutionIndexing {
		return fmt.Errorf("splice-subtree requires execution indexing")
	}
	for _, seed := range config.SeedFiles {
		if _, err := os.Stat(seed); err != nil {
			return fmt.Errorf("seed file not found: %s", seed)
		}
	}
	return nil
}

// printFinalStats prints the session summary.
func printFinalStats(g *guidance.Guidance) {
	fmt.Println("\nFinal Statistics")
	fmt.Println("================")
	fmt.Printf("Total executions:  %d\n", g.NumTrials())
	fmt.Printf("Valid inputs:      %d\n", g.NumValid())
	fmt.Printf("Cycles completed:  %d\n", g.CyclesCompleted())
	fmt.Printf("Unique failures:   %d\n", g.UniqueFailureCount())
	fmt.Printf("Saved inputs:      %d\n", len(g.SavedInputs()))
	fmt.Printf("Total coverage:    %d\n", g.TotalCoverage().NonZeroCount())
	fmt.Printf("Valid coverage:    %d\n", g.ValidCoverage().NonZeroCount())
}
