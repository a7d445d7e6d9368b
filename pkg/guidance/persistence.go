/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: persistence.go
Description: On-disk persistence and statistics output for the Liora Fuzzer.
Prepares the output directory layout (corpus/, failures/, plot_data, fuzz.log,
.cur_input), purges stale results from previous sessions, serializes inputs,
appends the fixed-schema stats line, and renders the live status screen when
stdout is a terminal.
*/

package guidance

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
)

// statsRefreshPeriod is the minimum time between two stats refreshes.
const statsRefreshPeriod = 300 * time.Millisecond

// statsHeader is the first line of the plot_data file.
const statsHeader = "# unix_time, cycles_done, cur_path, paths_total, pending_total, " +
	"pending_favs, unique_crashes, unique_hangs, max_depth, execs_per_sec, valid_inputs, invalid_inputs"

// statsState holds the guidance's persistence paths and stats bookkeeping.
type statsState struct {
	outputDirectory  string
	savedInputsDir   string
	savedFailuresDir string
	statsFile        string
	logFile          string
	currentInputFile string

	statsHandle *os.File
	statsWriter *bufio.Writer

	console         bool
	lastRefreshTime time.Time
	lastNumTrials   int64
}

// prepareOutputDirectory creates the output layout and purges results of a
// previous session. Only the files inside corpus/ and failures/ and the old
// plot_data file are deleted; the parent output directory is never removed
// recursively in case of a typo.
func (g *Guidance) prepareOutputDirectory() error {
	out := g.cfg.OutputDir
	if out == "" {
		out = "fuzz-results"
	}

	if err := os.MkdirAll(out, 0755); err != nil {
		return &GuidanceError{Op: "output", Err: fmt.Errorf("could not create output directory %s: %w", out, err)}
	}

	p := &g.persist
	p.outputDirectory = out
	p.savedInputsDir = filepath.Join(out, "corpus")
	p.savedFailuresDir = filepath.Join(out, "failures")
	p.statsFile = filepath.Join(out, "plot_data")
	p.logFile = filepath.Join(out, "fuzz.log")
	p.currentInputFile = filepath.Join(out, ".cur_input")

	for _, dir := range []string{p.savedInputsDir, p.savedFailuresDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &GuidanceError{Op: "output", Err: fmt.Errorf("could not create directory %s: %w", dir, err)}
		}
		purgeDirectory(dir)
	}

	// fuzz.log is owned and truncated by the logging layer; deleting it
	// here would unlink a file the logger already holds open.
	os.Remove(p.statsFile)

	f, err := os.OpenFile(p.statsFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return &GuidanceError{Op: "output", Err: fmt.Errorf("output directory is not writable: %w", err)}
	}
	p.statsHandle = f
	p.statsWriter = bufio.NewWriter(f)
	fmt.Fprintln(p.statsWriter, statsHeader)

	p.console = isatty.IsTerminal(os.Stdout.Fd())
	p.lastRefreshTime = g.startTime

	return nil
}

// purgeDirectory deletes the files inside a directory. Failed deletes are not
// checked.
func purgeDirectory(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}

// writeCurrentInputToFile serializes the current input's byte sequence.
func (g *Guidance) writeCurrentInputToFile(path string) error {
	var data []byte
	switch in := g.currentInput.(type) {
	case *SeedInput:
		data = in.Bytes()
	case *LinearInput:
		data = in.Bytes()
	case *MappedInput:
		data = in.Bytes()
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write input to %s: %w", path, err)
	}
	return nil
}

// maybeRefreshStats appends a stats line (and redraws the status screen on a
// console) at most once per refresh period.
func (g *Guidance) maybeRefreshStats() {
	now := time.Now()
	interval := now.Sub(g.persist.lastRefreshTime)
	if interval < statsRefreshPeriod {
		return
	}

	intervalTrials := g.numTrials - g.persist.lastNumTrials
	intervalExecsPerSec := float64(intervalTrials) * 1000.0 / float64(interval.Milliseconds())
	g.persist.lastRefreshTime = now
	g.persist.lastNumTrials = g.numTrials

	line := fmt.Sprintf("%d, %d, %d, %d, %d, %d, %d, %d, %d, %.2f, %d, %d",
		now.Unix(), g.cyclesCompleted, g.currentParentInputIdx,
		len(g.savedInputs), 0, 0, len(g.uniqueFailures), 0, 0,
		intervalExecsPerSec, g.numValid, g.numTrials-g.numValid)
	fmt.Fprintln(g.persist.statsWriter, line)

	if g.persist.console {
		g.renderStatus(now, intervalExecsPerSec)
	}
}

// renderStatus redraws the live status screen.
func (g *Guidance) renderStatus(now time.Time, intervalExecsPerSec float64) {
	elapsed := now.Sub(g.startTime)
	execsPerSec := float64(0)
	if elapsed > 0 {
		execsPerSec = float64(g.numTrials) / elapsed.Seconds()
	}

	currentParentDesc := "<seed>"
	if len(g.seedInputs) == 0 && len(g.savedInputs) > 0 {
		parent := g.savedInputs[g.currentParentInputIdx]
		favored := "(not favored)"
		if parent.Meta().Favored() {
			favored = "(favored)"
		}
		currentParentDesc = fmt.Sprintf("%d %s {%d/%d mutations}",
			g.currentParentInputIdx, favored,
			g.numChildrenGenerated, g.targetChildrenForParent(parent))
	}

	validPercent := float64(0)
	if g.numTrials > 0 {
		validPercent = float64(g.numValid) * 100.0 / float64(g.numTrials)
	}

	maxDurationDesc := "no time limit"
	if g.maxDuration > 0 {
		maxDurationDesc = fmt.Sprintf("max %v", g.maxDuration.Round(time.Second))
	}

	fmt.Print("\033[2J\033[H")
	fmt.Println("Liora: Coverage-Guided Fuzzing with Parametric Generators")
	fmt.Println("---------------------------------------------------------")
	if g.cfg.TestName != "" {
		fmt.Printf("Test name:            %s\n", g.cfg.TestName)
	}
	fmt.Printf("Results directory:    %s\n", g.persist.outputDirectory)
	fmt.Printf("Elapsed time:         %v (%s)\n", elapsed.Round(time.Second), maxDurationDesc)
	fmt.Printf("Number of executions: %d\n", g.numTrials)
	fmt.Printf("Valid inputs:         %d (%.2f%%)\n", g.numValid, validPercent)
	fmt.Printf("Cycles completed:     %d\n", g.cyclesCompleted)
	fmt.Printf("Unique failures:      %d\n", len(g.uniqueFailures))
	fmt.Printf("Queue size:           %d (%d favored last cycle)\n", len(g.savedInputs), g.numFavoredLastCycle)
	fmt.Printf("Current parent input: %s\n", currentParentDesc)
	fmt.Printf("Execution speed:      %.0f/sec now | %.0f/sec overall\n", intervalExecsPerSec, execsPerSec)
	fmt.Printf("Total coverage:       %d\n", g.totalCoverage.NonZeroCount())
	fmt.Printf("Valid coverage:       %d\n", g.validCoverage.NonZeroCount())
}

// Close flushes and closes the stats writer and releases the trace sink
// registration. It is safe to call once fuzzing has finished.
func (g *Guidance) Close() error {
	if g.sink != nil {
		g.sink.Release()
		g.sink = nil
	}

	var firstErr error
	if g.persist.statsWriter != nil {
		if err := g.persist.statsWriter.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if g.persist.statsHandle != nil {
		if err := g.persist.statsHandle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		g.persist.statsHandle = nil
	}
	if firstErr != nil {
		return &GuidanceError{Op: "stats", Err: firstErr}
	}
	return nil
}
