/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: failure.go
Description: Failure error type for the Liora Fuzzer harness. Captures the
recovered panic value and goroutine dump of a failing run and normalizes the
dump into a stable frame list for deduplication, using panicparse so that
goroutine ids, argument values, and code addresses do not leak into the
signature.
*/

package harness

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/maruel/panicparse/stack"
)

// Failure carries a failing run's recovered panic value (or wrapped timeout)
// and the goroutine dump captured at the recovery point. It implements the
// guidance's StackTracer so unique-failure deduplication keys on the
// normalized frames rather than the message.
type Failure struct {
	value  any
	trace  []byte
	frames []string
}

// newFailure wraps a recovered panic value and its goroutine dump.
func newFailure(value any, traceDump []byte) *Failure {
	return &Failure{value: value, trace: traceDump}
}

// Value returns the recovered panic value.
func (f *Failure) Value() any {
	return f.value
}

// Error returns the failure message.
func (f *Failure) Error() string {
	return fmt.Sprintf("target panicked: %v", f.value)
}

// Unwrap exposes an underlying error panic value for errors.Is/As.
func (f *Failure) Unwrap() error {
	if err, ok := f.value.(error); ok {
		return err
	}
	return nil
}

// StackTrace returns the normalized frame list of the first goroutine in the
// captured dump. Frames belonging to the runtime's panic machinery and to
// the harness itself are trimmed.
func (f *Failure) StackTrace() []string {
	if f.frames == nil {
		f.frames = normalizeTrace(f.trace)
	}
	return f.frames
}

// normalizeTrace parses a goroutine dump into package-qualified function
// names. Falls back to a crude line scrub if the dump cannot be parsed.
func normalizeTrace(dump []byte) []string {
	if len(dump) == 0 {
		return nil
	}

	ctx, err := stack.ParseDump(bytes.NewBuffer(dump), io.Discard, false)
	if err != nil || ctx == nil {
		return scrubTrace(dump)
	}

	for _, gr := range ctx.Goroutines {
		if !gr.First {
			continue
		}
		frames := make([]string, 0, len(gr.Stack.Calls))
		for _, call := range gr.Stack.Calls {
			name := call.Func.PkgDotName()
			if isHarnessFrame(name) {
				continue
			}
			frames = append(frames, name)
		}
		if len(frames) > 0 {
			return frames
		}
	}
	return scrubTrace(dump)
}

// isHarnessFrame reports whether a frame belongs to the panic machinery or
// the harness's Runner rather than the target.
func isHarnessFrame(name string) bool {
	return strings.HasPrefix(name, "runtime.") ||
		strings.HasPrefix(name, "runtime/debug.") ||
		strings.Contains(name, "harness.(*Runner)")
}

// scrubTrace extracts function-name lines from a raw dump, dropping goroutine
// headers, source locations, and argument values.
func scrubTrace(dump []byte) []string {
	var frames []string
	for _, line := range strings.Split(string(dump), "\n") {
		if line == "" || strings.HasPrefix(line, "goroutine ") || strings.HasPrefix(line, "\t") {
			continue
		}
		name := line
		if idx := strings.IndexByte(name, '('); idx > 0 {
			name = name[:idx]
		}
		if isHarnessFrame(name) {
			continue
		}
		frames = append(frames, name)
	}
	return frames
}
