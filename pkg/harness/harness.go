/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: harness.go
Description: Reference test-harness adapter for the Liora Fuzzer. Drives an
instrumented target function against a guidance in the standard
HasInput/GetInput/HandleResult loop, recovers panics, and classifies run
outcomes as success, assumption violation, failure, or timeout.
*/

package harness

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/kleascm/liora-fuzzer/pkg/guidance"
	"github.com/kleascm/liora-fuzzer/pkg/interfaces"
	"github.com/kleascm/liora-fuzzer/pkg/trace"
)

// ErrAssumption marks an assumption violation: the generated input is not a
// valid test case for the target. Targets return errors wrapping it (or call
// Assume) to classify the run as invalid rather than failing.
var ErrAssumption = errors.New("assumption violated")

// assumptionViolation is the panic payload used by Assume.
type assumptionViolation struct{}

// Assume aborts the current run as an assumption violation unless cond holds.
func Assume(cond bool) {
	if !cond {
		panic(assumptionViolation{})
	}
}

// Tracer is the instrumentation hook handed to targets: probes inserted in
// the target call these to emit trace events into the sink on the target
// thread.
type Tracer struct {
	sink   *trace.Sink
	thread string
}

// NewTracer creates a tracer emitting on the given target thread.
func NewTracer(sink *trace.Sink, thread string) *Tracer {
	return &Tracer{sink: sink, thread: thread}
}

// Branch emits a branch event for the given instruction id and arm.
func (t *Tracer) Branch(iid int32, arm int32) {
	t.sink.OnBranchEvent(t.thread, iid, arm)
}

// Call emits a call event for the given call-site id.
func (t *Tracer) Call(iid int32) {
	t.sink.OnCallEvent(t.thread, iid)
}

// Return emits a return event for the given instruction id.
func (t *Tracer) Return(iid int32) {
	t.sink.OnReturnEvent(t.thread, iid)
}

// Log emits a direct edge log on the collision-tolerant path.
func (t *Tracer) Log(iid int32, arm int32) {
	t.sink.LogCoverage(iid, arm)
}

// TargetFunc is an instrumented test procedure: it drains bytes from the
// source, emits trace events through the tracer, and reports its outcome via
// its return value or by panicking.
type TargetFunc func(tr *Tracer, src interfaces.ByteSource) error

// Runner drives a target function against a guidance until the guidance runs
// out of fuzzing time.
type Runner struct {
	guidance interfaces.Guidance
	tracer   *Tracer
	target   TargetFunc
}

// NewRunner creates a runner for the given guidance, sink, target thread
// name, and target function.
func NewRunner(g interfaces.Guidance, sink *trace.Sink, thread string, target TargetFunc) *Runner {
	return &Runner{
		guidance: g,
		tracer:   NewTracer(sink, thread),
		target:   target,
	}
}

// Run executes trials until the guidance reports no more input. Guidance
// errors abort the loop.
func (r *Runner) Run() error {
	for r.guidance.HasInput() {
		src, err := r.guidance.GetInput()
		if err != nil {
			return err
		}
		result, ferr := r.RunOne(src)
		if err := r.guidance.HandleResult(result, ferr); err != nil {
			return err
		}
	}
	return nil
}

// RunOne executes a single trial and classifies its outcome. Panics from the
// target are recovered and mapped: timeout errors raised by the trace
// callback become timeout outcomes, assumption violations become invalid
// runs, and anything else becomes a failure with a captured stack trace.
// Invariant violations are not recovered.
func (r *Runner) RunOne(src interfaces.ByteSource) (result interfaces.Result, ferr error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		switch v := rec.(type) {
		case *guidance.InvariantError:
			panic(v)
		case *guidance.TimeoutError:
			result = interfaces.ResultTimeout
			ferr = newFailure(v, debug.Stack())
		case assumptionViolation:
			result = interfaces.ResultInvalid
			ferr = nil
		default:
			result = interfaces.ResultFailure
			ferr = newFailure(v, debug.Stack())
		}
	}()

	err := r.target(r.tracer, src)
	switch {
	case err == nil:
		return interfaces.ResultSuccess, nil
	case errors.Is(err, ErrAssumption):
		return interfaces.ResultInvalid, nil
	default:
		return interfaces.ResultFailure, fmt.Errorf("target failed: %w", err)
	}
}
