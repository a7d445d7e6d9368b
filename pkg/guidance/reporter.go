/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: reporter.go
Description: Reporter interface and implementations for Liora Fuzzer telemetry
and live reporting. Decouples corpus, failure, and cycle notifications from
the concrete logger so additional sinks can observe a fuzzing session.
*/

package guidance

import (
	"github.com/kleascm/liora-fuzzer/pkg/logging"
)

// Reporter defines the interface for telemetry and reporting hooks.
// Allows the guidance to notify listeners of corpus and failure events.
type Reporter interface {
	// OnInputSaved is called when an input is added to the saved corpus.
	OnInputSaved(input Input, trial int64, totalCoverage int, why string)
	// OnUniqueFailure is called when a new unique failure is recorded.
	OnUniqueFailure(file string, desc string, why string)
	// OnCycleCompleted is called after a full pass over the saved corpus.
	OnCycleCompleted(cycle int, favored int, totalCoverage int)
}

// LoggerReporter logs corpus and failure events using the session logger.
type LoggerReporter struct {
	logger *logging.Logger
}

// NewLoggerReporter creates a new LoggerReporter.
func NewLoggerReporter(logger *logging.Logger) *LoggerReporter {
	return &LoggerReporter{logger: logger}
}

// OnInputSaved logs a corpus save with its reason tags.
func (r *LoggerReporter) OnInputSaved(input Input, trial int64, totalCoverage int, why string) {
	r.logger.LogSavedInput(input.Meta().ID, trial, input.Size(), totalCoverage, why)
}

// OnUniqueFailure logs a newly discovered unique failure.
func (r *LoggerReporter) OnUniqueFailure(file string, desc string, why string) {
	r.logger.LogFailure(file, desc, why)
}

// OnCycleCompleted logs a completed corpus cycle.
func (r *LoggerReporter) OnCycleCompleted(cycle int, favored int, totalCoverage int) {
	r.logger.LogCycle(cycle, favored, totalCoverage)
}
