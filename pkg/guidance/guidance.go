/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: guidance.go
Description: Coverage-guided fuzzing loop for the Liora Fuzzer. Maintains two
cumulative coverage maps (all inputs and valid inputs only), schedules parents
from the saved corpus with favored-input child budgets, assigns and steals
edge responsibilities, deduplicates failures by stack-trace signature, and
drives the execution indexer from trace events.
*/

package guidance

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/kleascm/liora-fuzzer/pkg/coverage"
	"github.com/kleascm/liora-fuzzer/pkg/execution"
	"github.com/kleascm/liora-fuzzer/pkg/interfaces"
	"github.com/kleascm/liora-fuzzer/pkg/logging"
	"github.com/kleascm/liora-fuzzer/pkg/trace"
)

// Fuzzing heuristics.
const (
	// NumChildrenBaseline is the baseline number of mutated children to
	// produce from a given parent input.
	NumChildrenBaseline = 50

	// NumChildrenMultiplierFavored scales the child budget of favored
	// inputs.
	NumChildrenMultiplierFavored = 20

	// MeanMutationCount is the mean number of mutation rounds per fuzz.
	MeanMutationCount = 8.0

	// MeanMutationSize is the mean number of contiguous bytes mutated per
	// round.
	MeanMutationSize = 4.0

	// MaxSpliceSize caps the contiguous bytes spliced in from another
	// input.
	MaxSpliceSize = 64

	// MinTargetAttempts and MaxTargetAttempts bound the splice-target
	// search.
	MinTargetAttempts = 3
	MaxTargetAttempts = 6

	// saveNewCounts saves inputs that only grow saturation buckets.
	saveNewCounts = true

	// timeoutCheckInterval is the number of trace events between per-run
	// timeout polls.
	timeoutCheckInterval = 10_000

	// maxTrialsWithoutCoverage aborts non-blind fuzzing that never finds
	// coverage.
	maxTrialsWithoutCoverage = 100_000
)

// Guidance performs coverage-guided fuzzing using two coverage maps, one for
// all inputs and one for valid inputs only. It implements
// interfaces.Guidance; a single logical fuzzing thread drives a single target
// thread through it.
type Guidance struct {
	cfg  *interfaces.FuzzerConfig
	log  *logging.Logger
	rng  *rand.Rand
	sink *trace.Sink

	// appThread is the single supported target thread; set on first
	// callback generation.
	appThread string

	// lastEvent is the last trace event handled by this guidance.
	lastEvent interfaces.TraceEvent

	// eiState is the execution indexing state, reset before each run.
	eiState *execution.IndexingState

	// Algorithm bookkeeping
	numTrials             int64
	numValid              int64
	savedInputs           []Input
	seedInputs            []Input
	currentInput          Input
	currentParentInputIdx int
	numChildrenGenerated  int
	cyclesCompleted       int
	numFavoredLastCycle   int
	blind                 bool
	numSavedInputs        int

	runCoverage   *coverage.Coverage
	totalCoverage *coverage.Coverage
	validCoverage *coverage.Coverage

	// maxCoverage is the largest cumulative non-zero count seen so far.
	maxCoverage int

	// responsibleInputs maps each covered edge to the saved input that
	// owns it. Kept in sync with the per-input responsibility sets.
	responsibleInputs map[int32]Input

	// uniqueFailures holds the stack-trace signatures of failures found.
	uniqueFailures map[string]struct{}

	// ecToInputLoc maps execution contexts to splice-source locations in
	// saved inputs; rebuilt from favored inputs at each cycle boundary.
	ecToInputLoc map[execution.ExecutionContext][]InputLocation

	// reporters receive save, failure, and cycle notifications.
	reporters []Reporter

	// Timeout handling
	singleRunTimeout time.Duration
	runStart         time.Time
	branchCount      int64

	// Duration handling
	startTime   time.Time
	maxDuration time.Duration
	stopped     atomic.Bool

	// Persistence and stats (persistence.go)
	persist statsState
}

// New creates a guidance for the given configuration, prepares the output
// directory, loads seed files, and registers with the trace sink. The sink
// registration is released by Close.
func New(cfg *interfaces.FuzzerConfig, sink *trace.Sink, log *logging.Logger) (*Guidance, error) {
	cfg.Normalize()

	if log == nil {
		var err error
		log, err = logging.NewLogger(&logging.LoggerConfig{
			Level:  logging.LogLevel(cfg.LogLevel),
			Format: logging.LogFormatText,
		})
		if err != nil {
			return nil, &GuidanceError{Op: "logging", Err: err}
		}
	}

	g := &Guidance{
		cfg:               cfg,
		log:               log,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		blind:             cfg.TotallyRandom,
		runCoverage:       coverage.New(),
		totalCoverage:     coverage.New(),
		validCoverage:     coverage.New(),
		responsibleInputs: make(map[int32]Input),
		uniqueFailures:    make(map[string]struct{}),
		ecToInputLoc:      make(map[execution.ExecutionContext][]InputLocation),
		singleRunTimeout:  cfg.Timeout,
		startTime:         time.Now(),
		maxDuration:       cfg.MaxDuration,
	}

	if err := g.prepareOutputDirectory(); err != nil {
		return nil, err
	}

	for _, path := range cfg.SeedFiles {
		seed, err := newSeedInput(g, path)
		if err != nil {
			return nil, &GuidanceError{Op: "seed", Err: err}
		}
		g.seedInputs = append(g.seedInputs, seed)
	}

	if sink != nil {
		g.sink = sink
		sink.SetCoverageListener(g.runCoverage)
		sink.SetCallbackGenerator(g.GenerateCallback)
	}

	g.AddReporter(NewLoggerReporter(log))

	return g, nil
}

// AddReporter registers a Reporter for telemetry and live reporting.
func (g *Guidance) AddReporter(reporter Reporter) {
	g.reporters = append(g.reporters, reporter)
}

// SetRand replaces the guidance's PRNG; useful for reproducible runs.
func (g *Guidance) SetRand(r *rand.Rand) {
	g.rng = r
}

// TotalCoverage returns the cumulative coverage over all inputs.
func (g *Guidance) TotalCoverage() *coverage.Coverage { return g.totalCoverage }

// ValidCoverage returns the cumulative coverage over valid inputs.
func (g *Guidance) ValidCoverage() *coverage.Coverage { return g.validCoverage }

// NumTrials returns the number of completed trials.
func (g *Guidance) NumTrials() int64 { return g.numTrials }

// NumValid returns the number of valid trials.
func (g *Guidance) NumValid() int64 { return g.numValid }

// CyclesCompleted returns the number of full passes over the saved corpus.
func (g *Guidance) CyclesCompleted() int { return g.cyclesCompleted }

// UniqueFailureCount returns the number of distinct failure signatures found.
func (g *Guidance) UniqueFailureCount() int { return len(g.uniqueFailures) }

// SavedInputs returns the saved corpus in stable order.
func (g *Guidance) SavedInputs() []Input { return g.savedInputs }

// targetChildrenForParent computes the mutation budget for a parent input.
func (g *Guidance) targetChildrenForParent(parent Input) int {
	// Baseline is a constant
	target := NumChildrenBaseline

	// Inputs that cover more of the pool get more children
	if g.maxCoverage > 0 {
		target = (NumChildrenBaseline * parent.Meta().NonZeroCoverage) / g.maxCoverage
	}

	// Favored inputs get fuzzed a lot more
	if parent.Meta().Favored() {
		target = target * NumChildrenMultiplierFavored
	}

	return target
}

// completeCycle runs bookkeeping after a full pass over the saved corpus:
// checks that responsibilities partition the covered edges, and rebuilds the
// splice-location map from favored inputs only.
func (g *Guidance) completeCycle() {
	g.cyclesCompleted++

	sumResponsibilities := 0
	g.numFavoredLastCycle = 0
	for _, input := range g.savedInputs {
		if input.Meta().Favored() {
			responsibleFor := len(input.Meta().Responsibilities)
			g.log.Debugf("Input %d is responsible for %d branches", input.Meta().ID, responsibleFor)
			sumResponsibilities += responsibleFor
			g.numFavoredLastCycle++
		}
	}
	totalCoverageCount := g.totalCoverage.NonZeroCount()
	if sumResponsibilities != totalCoverageCount {
		invariantf("responsibility mismatch: owned=%d covered=%d",
			sumResponsibilities, totalCoverageCount)
	}

	// Subsequent splices draw only from favored inputs
	g.ecToInputLoc = make(map[execution.ExecutionContext][]InputLocation)
	for _, input := range g.savedInputs {
		if input.Meta().Favored() {
			g.mapECToInputLoc(input)
		}
	}

	for _, r := range g.reporters {
		r.OnCycleCompleted(g.cyclesCompleted, g.numFavoredLastCycle, totalCoverageCount)
	}
}

// GetInput prepares the next input to execute based on the state of the seed
// queue and saved corpus, and returns its byte source.
func (g *Guidance) GetInput() (interfaces.ByteSource, error) {
	// Clear coverage stats for this run
	g.runCoverage.Clear()

	// Reset execution index state
	g.eiState = execution.NewIndexingState()

	switch {
	case len(g.seedInputs) > 0:
		// Specific seeds go first; ideally they lead to new coverage
		// and enter the saved corpus
		g.currentInput = g.seedInputs[0]
		g.seedInputs = g.seedInputs[1:]

	case len(g.savedInputs) == 0:
		// With no seeds, start from something random
		if !g.blind && g.numTrials > maxTrialsWithoutCoverage {
			return nil, &GuidanceError{
				Op:  "scheduler",
				Err: errors.New("too many trials without coverage; likely all assumption violations"),
			}
		}

		g.log.Debugf("Spawning new input from thin air")
		if g.cfg.EnableExecutionIndexing {
			g.currentInput = newMappedInput(g)
		} else {
			g.currentInput = newLinearInput(g)
		}

	default:
		// The child budget is determined by how much of the coverage
		// pool this parent hits
		parent := g.savedInputs[g.currentParentInputIdx]
		targetNumChildren := g.targetChildrenForParent(parent)
		if g.numChildrenGenerated >= targetNumChildren {
			// Move on to the next saved input
			g.currentParentInputIdx = (g.currentParentInputIdx + 1) % len(g.savedInputs)

			if g.currentParentInputIdx == 0 {
				g.completeCycle()
			}

			g.numChildrenGenerated = 0
		}
		parent = g.savedInputs[g.currentParentInputIdx]

		g.log.Debugf("Mutating input: %s", parent.Meta().Desc)
		g.currentInput = parent.Fuzz(g.rng)
		g.numChildrenGenerated++

		// Scratch copy for debugging; best effort
		_ = g.writeCurrentInputToFile(g.persist.currentInputFile)

		// Arm time accounting for per-run timeout handling
		g.runStart = time.Now()
		g.branchCount = 0
	}

	return &byteSource{g: g}, nil
}

// HasInput reports whether fuzzing should continue: the guidance has not
// been stopped and the configured maximum duration has not yet elapsed.
func (g *Guidance) HasInput() bool {
	if g.stopped.Load() {
		return false
	}
	if g.maxDuration <= 0 {
		return true
	}
	return time.Since(g.startTime) < g.maxDuration
}

// Stop makes HasInput return false, ending the fuzzing loop after the
// current trial. Safe to call from another goroutine.
func (g *Guidance) Stop() {
	g.stopped.Store(true)
}

// HandleResult classifies the outcome of the last run: merges coverage,
// assigns responsibilities, saves interesting inputs, and records unique
// failures.
func (g *Guidance) HandleResult(result interfaces.Result, runErr error) error {
	// Stop timeout handling
	g.runStart = time.Time{}

	g.numTrials++

	// Trim the input of unused entries
	g.currentInput.GC()

	valid := result == interfaces.ResultSuccess
	if valid {
		g.numValid++
	}

	switch result {
	case interfaces.ResultSuccess, interfaces.ResultInvalid:
		if err := g.handleRunCompleted(valid); err != nil {
			return err
		}
	case interfaces.ResultFailure, interfaces.ResultTimeout:
		if err := g.handleRunFailed(result, runErr); err != nil {
			return err
		}
	}

	g.maybeRefreshStats()
	return nil
}

// handleRunCompleted processes a successful or assumption-violating run.
func (g *Guidance) handleRunCompleted(valid bool) error {
	// Coverage before
	nonZeroBefore := g.totalCoverage.NonZeroCount()
	validNonZeroBefore := g.validCoverage.NonZeroCount()

	// Keys this input can assume responsibility for: newly covered edges
	// always, previously covered edges when stolen from weaker inputs
	responsibilities := g.computeResponsibilities(valid)

	// Update cumulative coverage
	coverageBitsUpdated := g.totalCoverage.UpdateBits(g.runCoverage)
	if valid {
		g.validCoverage.UpdateBits(g.runCoverage)
	}

	// Coverage after
	nonZeroAfter := g.totalCoverage.NonZeroCount()
	if nonZeroAfter > g.maxCoverage {
		g.maxCoverage = nonZeroAfter
	}
	validNonZeroAfter := g.validCoverage.NonZeroCount()

	toSave := false
	why := ""

	if saveNewCounts && coverageBitsUpdated {
		toSave = true
		why += "+count"
	}

	// Save if new total coverage found
	if nonZeroAfter > nonZeroBefore {
		toSave = true
		why += "+cov"
	}

	if validNonZeroAfter > validNonZeroBefore {
		g.currentInput.Meta().Valid = true
		toSave = true
		why += "+valid"
	}

	if toSave {
		if err := g.saveCurrentInput(responsibilities, why); err != nil {
			return &GuidanceError{Op: "corpus", Err: err}
		}
		for _, r := range g.reporters {
			r.OnInputSaved(g.currentInput, g.numTrials, nonZeroAfter, why)
		}
	}
	return nil
}

// handleRunFailed processes a failing or timed-out run: failures are
// deduplicated by the stack-trace signature of their root cause and persisted
// under monotonically numbered failure files.
func (g *Guidance) handleRunFailed(result interfaces.Result, runErr error) error {
	sig := failureSignature(runErr)
	if _, seen := g.uniqueFailures[sig]; seen {
		return nil
	}
	g.uniqueFailures[sig] = struct{}{}

	crashIdx := len(g.uniqueFailures) - 1
	saveFileName := fmt.Sprintf("id_%06d", crashIdx)
	saveFile := filepath.Join(g.persist.savedFailuresDir, saveFileName)
	if err := g.writeCurrentInputToFile(saveFile); err != nil {
		return &GuidanceError{Op: "failures", Err: err}
	}

	root := rootCause(runErr)
	g.log.Infof("Found crash: %T - %v", root, root)
	why := "+crash"
	if result == interfaces.ResultTimeout {
		why = "+hang"
	}
	for _, r := range g.reporters {
		r.OnUniqueFailure(saveFile, g.currentInput.Meta().Desc, why)
	}
	return nil
}

// computeResponsibilities gathers the edges the current input may own: all
// newly covered edges, all newly valid-covered edges for valid runs, and,
// with stealing enabled, the full responsibility sets of saved inputs that
// this run strictly subsumes.
func (g *Guidance) computeResponsibilities(valid bool) map[int32]struct{} {
	result := make(map[int32]struct{})

	// This input is responsible for all new coverage
	for _, key := range g.runCoverage.ComputeNewCoverage(g.totalCoverage) {
		result[key] = struct{}{}
	}

	// If valid, this input is responsible for all new valid coverage
	if valid {
		for _, key := range g.runCoverage.ComputeNewCoverage(g.validCoverage) {
			result[key] = struct{}{}
		}
	}

	// Perhaps it can also steal responsibility from other inputs
	if g.cfg.StealResponsibility {
		currentNonZeroCoverage := g.runCoverage.NonZeroCount()
		currentInputSize := g.currentInput.Size()
		covered := make(map[int32]struct{})
		for _, key := range g.runCoverage.Covered() {
			covered[key] = struct{}{}
		}

	candidateSearch:
		for _, candidate := range g.savedInputs {
			responsibilities := candidate.Meta().Responsibilities

			// Candidates with no responsibility are not interesting
			if len(responsibilities) == 0 {
				continue
			}

			// To avoid thrashing, only consider candidates with
			// either strictly smaller coverage, or the same coverage
			// but strictly larger size
			if candidate.Meta().NonZeroCoverage < currentNonZeroCoverage ||
				(candidate.Meta().NonZeroCoverage == currentNonZeroCoverage &&
					currentInputSize < candidate.Size()) {

				// Steal only if this input covers everything the
				// candidate is responsible for
				for b := range responsibilities {
					if _, ok := covered[b]; !ok {
						continue candidateSearch
					}
				}
				for b := range responsibilities {
					result[b] = struct{}{}
				}
			}
		}
	}

	return result
}

// saveCurrentInput appends the current input to the saved corpus, writes it
// to disk, snapshots its run coverage, and transfers edge responsibilities,
// revoking them from previously responsible inputs.
func (g *Guidance) saveCurrentInput(responsibilities map[int32]struct{}, why string) error {
	// IDs are issued to everyone, but disk writes may be restricted to
	// valid inputs
	newInputIdx := g.numSavedInputs
	g.numSavedInputs++
	saveFileName := fmt.Sprintf("id_%06d", newInputIdx)
	saveFile := filepath.Join(g.persist.savedInputsDir, saveFileName)
	if !g.cfg.SaveOnlyValid || g.currentInput.Meta().Valid {
		if err := g.writeCurrentInputToFile(saveFile); err != nil {
			return err
		}
		g.log.Debugf("Saved - %s %s %s", saveFile, g.currentInput.Meta().Desc, why)
	}

	// Without guidance there is nothing else to track
	if g.blind {
		return nil
	}

	g.savedInputs = append(g.savedInputs, g.currentInput)

	meta := g.currentInput.Meta()
	meta.ID = newInputIdx
	meta.SaveFile = saveFile
	meta.Coverage = coverage.Copy(g.runCoverage)
	meta.NonZeroCoverage = g.runCoverage.NonZeroCount()
	meta.Offspring = 0
	g.savedInputs[g.currentParentInputIdx].Meta().Offspring++

	// Assume responsibility, subsuming previous owners
	meta.Responsibilities = responsibilities
	for b := range responsibilities {
		if oldResponsible, ok := g.responsibleInputs[b]; ok {
			delete(oldResponsible.Meta().Responsibilities, b)
		}
		g.responsibleInputs[b] = g.currentInput
	}

	// Index the input's mapped keys for splicing
	g.mapECToInputLoc(g.currentInput)

	return nil
}

// mapECToInputLoc indexes every location of a saved mapped input under its
// execution context so later fuzzes can find splice candidates.
func (g *Guidance) mapECToInputLoc(input Input) {
	mapped, ok := input.(*MappedInput)
	if !ok {
		return
	}
	for offset, ei := range mapped.orderedKeys {
		ec := execution.ContextOf(ei)
		g.ecToInputLoc[ec] = append(g.ecToInputLoc[ec], InputLocation{input: mapped, offset: offset})
	}
}

// GenerateCallback returns the trace-event callback for the target thread.
// Only a single target thread is supported; a second distinct thread is a
// fatal invariant violation.
func (g *Guidance) GenerateCallback(thread string) func(interfaces.TraceEvent) {
	if g.appThread != "" && g.appThread != thread {
		invariantf("only single-threaded targets are supported (seen %q, got %q)",
			g.appThread, thread)
	}
	g.appThread = thread
	return g.handleEvent
}

// handleEvent consumes one trace event on the target thread: it advances the
// execution indexer, updates run coverage, and polls the per-run timeout
// every timeoutCheckInterval events.
func (g *Guidance) handleEvent(e interfaces.TraceEvent) {
	g.lastEvent = e

	if g.cfg.EnableExecutionIndexing {
		switch ev := e.(type) {
		case *interfaces.CallEvent:
			g.eiState.PushCall(ev)
		case *interfaces.ReturnEvent:
			g.eiState.PopReturn(ev)
		}
	}

	g.runCoverage.HandleEvent(e)

	g.branchCount++
	if g.singleRunTimeout > 0 && !g.runStart.IsZero() && g.branchCount%timeoutCheckInterval == 0 {
		elapsed := time.Since(g.runStart)
		if elapsed > g.singleRunTimeout {
			panic(&TimeoutError{Elapsed: elapsed, Limit: g.singleRunTimeout})
		}
	}
}

// byteSource exposes the current input as the byte stream drained by the
// target. Linear inputs are keyed by the read cursor; mapped inputs by the
// execution index of the request.
type byteSource struct {
	g         *Guidance
	bytesRead int
}

// ReadByte returns the next input byte, or io.EOF at the EOF sentinel.
func (s *byteSource) ReadByte() (byte, error) {
	v, err := s.readValue()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, io.EOF
	}
	return byte(v), nil
}

// Read fills p from the byte stream.
func (s *byteSource) Read(p []byte) (int, error) {
	for i := range p {
		b, err := s.ReadByte()
		if err != nil {
			return i, err
		}
		p[i] = b
	}
	return len(p), nil
}

func (s *byteSource) readValue() (int, error) {
	g := s.g
	switch in := g.currentInput.(type) {
	case *SeedInput:
		v, err := in.GetOrGenerateFresh(s.bytesRead, g.rng)
		if err != nil {
			return 0, err
		}
		s.bytesRead++
		return v, nil
	case *LinearInput:
		v, err := in.GetOrGenerateFresh(s.bytesRead, g.rng)
		if err != nil {
			return 0, err
		}
		s.bytesRead++
		return v, nil
	case *MappedInput:
		if g.lastEvent == nil {
			return 0, &GuidanceError{
				Op:  "input",
				Err: errors.New("could not compute execution index; no instrumentation?"),
			}
		}
		ei := g.eiState.NextByteIndex()
		v, err := in.GetOrGenerateFresh(ei, g.rng)
		if err != nil {
			return 0, err
		}
		s.bytesRead++
		return v, nil
	default:
		return 0, &GuidanceError{Op: "input", Err: errors.New("no current input")}
	}
}
