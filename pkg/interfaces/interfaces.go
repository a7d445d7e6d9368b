/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: interfaces.go
Description: Shared interfaces and types for the Liora Fuzzer. Defines trace events,
run outcomes, the guidance contract, and the configuration structure used across
all packages to break import cycles and enable proper modular design.
*/

package interfaces

import (
	"io"
	"time"
)

// TraceEvent is a single event emitted by the instrumentation agent on the
// target thread. Events arrive in program order.
type TraceEvent interface {
	// Iid returns the instruction id that generated this event.
	Iid() int32
}

// BranchEvent is emitted when the target takes a conditional branch.
type BranchEvent struct {
	IID int32
	Arm int32
}

// Iid returns the instruction id of the branch instruction.
func (e *BranchEvent) Iid() int32 { return e.IID }

// CallEvent is emitted when the target enters a method call.
type CallEvent struct {
	IID int32
}

// Iid returns the instruction id of the call site.
func (e *CallEvent) Iid() int32 { return e.IID }

// ReturnEvent is emitted when the target returns from a method call.
type ReturnEvent struct {
	IID int32
}

// Iid returns the instruction id of the return instruction.
func (e *ReturnEvent) Iid() int32 { return e.IID }

// CoverageListener receives direct edge logs from the instrumentation on the
// collision-tolerant path (used when a probe cannot be placed at the precise
// branch target).
type CoverageListener interface {
	LogCoverage(iid int32, arm int32)
}

// Result classifies the outcome of a single target execution. Outcomes are
// data, not errors: invalid, failure, and timeout runs are all normal control
// flow for the fuzzer.
type Result int

const (
	// ResultSuccess means the target completed and all assumptions held.
	ResultSuccess Result = iota
	// ResultInvalid means the target aborted due to an assumption violation.
	ResultInvalid
	// ResultFailure means the target failed (crash, assertion, panic).
	ResultFailure
	// ResultTimeout means the per-run timeout expired during execution.
	ResultTimeout
)

// String returns a human-readable name for the result.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultInvalid:
		return "invalid"
	case ResultFailure:
		return "failure"
	case ResultTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ByteSource is the byte stream handed to the test harness for one run. The
// target must drain it; exhaustion is signalled with io.EOF.
type ByteSource interface {
	io.Reader
	io.ByteReader
}

// Guidance is the contract between the fuzzing engine and the test harness.
// The harness calls HasInput/GetInput/HandleResult in a loop; the
// instrumentation agent obtains its per-thread event callback through
// GenerateCallback.
type Guidance interface {
	// GetInput prepares the next input and returns its byte source.
	GetInput() (ByteSource, error)

	// HasInput reports whether fuzzing should continue. It returns false
	// once the configured maximum duration has elapsed.
	HasInput() bool

	// HandleResult classifies the outcome of the run started by the last
	// GetInput call. The error argument carries failure details for
	// ResultFailure and ResultTimeout outcomes.
	HandleResult(result Result, err error) error

	// GenerateCallback returns the trace-event callback for the given
	// target thread. Only a single target thread is supported; a second
	// distinct thread is a fatal invariant violation.
	GenerateCallback(thread string) func(TraceEvent)
}

// FuzzerConfig holds all configuration recognized by the guidance. Options
// are read once at startup.
type FuzzerConfig struct {
	// Target configuration
	TestName  string   // Name of the fuzz target for display purposes
	OutputDir string   // Directory for corpus, failures, stats, and logs
	SeedFiles []string // Initial seed input files (consumed FIFO)

	// Duration configuration
	MaxDuration time.Duration // Total fuzzing time; 0 means unlimited
	Timeout     time.Duration // Per-run timeout; 0 disables

	// Input model configuration
	EnableExecutionIndexing bool // Use execution-index-keyed mapped inputs
	MaxInputSize            int  // Byte cap per input (default 10240)
	GenerateEOFWhenOut      bool // Return EOF instead of random bytes on exhaustion

	// Fuzzing heuristics
	SpliceSubtree       bool // Splice whole execution subtrees (needs indexing)
	StealResponsibility bool // Steal responsibility from weaker saved inputs
	SaveOnlyValid       bool // Skip disk writes for invalid inputs
	TotallyRandom       bool // Blind mode: never save, always generate fresh

	// Logging configuration
	LogLevel string // Logging level (debug, info, warn, error)
	JSONLogs bool   // Use JSON log format

	// Session identity
	SessionID string // Unique id for this fuzzing session
}

// DefaultMaxInputSize is the byte cap applied when MaxInputSize is unset.
const DefaultMaxInputSize = 10240

// Normalize fills zero-valued fields with their defaults.
func (c *FuzzerConfig) Normalize() {
	if c.MaxInputSize <= 0 {
		c.MaxInputSize = DefaultMaxInputSize
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
