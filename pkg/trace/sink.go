/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: sink.go
Description: Trace-event sink for the Liora Fuzzer. Receives branch, call, and
return events plus direct edge logs from the instrumentation agent and forwards
them to the registered coverage listener and per-thread trace callback. The
subscription is bounded by the guidance instance lifetime: registered at
construction, released at shutdown.
*/

package trace

import (
	"sync"

	"github.com/kleascm/liora-fuzzer/pkg/interfaces"
)

// CallbackGenerator produces the trace-event callback for a target thread on
// first contact. The generator may reject a second distinct thread.
type CallbackGenerator func(thread string) func(interfaces.TraceEvent)

// Sink is the process boundary between the instrumentation agent and the
// fuzzing engine. The agent calls the Emit/On* methods on the target thread;
// the engine registers a coverage listener and a callback generator.
type Sink struct {
	mu        sync.Mutex
	listener  interfaces.CoverageListener
	generate  CallbackGenerator
	callbacks map[string]func(interfaces.TraceEvent)
}

// NewSink creates an empty sink with no registrations.
func NewSink() *Sink {
	return &Sink{
		callbacks: make(map[string]func(interfaces.TraceEvent)),
	}
}

// SetCoverageListener registers the listener for direct edge logs. Passing
// nil clears the registration.
func (s *Sink) SetCoverageListener(l interfaces.CoverageListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// SetCallbackGenerator registers the generator used to obtain trace-event
// callbacks for threads on first contact. Passing nil clears the registration
// and drops all existing callbacks.
func (s *Sink) SetCallbackGenerator(g CallbackGenerator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generate = g
	if g == nil {
		s.callbacks = make(map[string]func(interfaces.TraceEvent))
	}
}

// Release drops all registrations. Events emitted afterwards are discarded.
func (s *Sink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = nil
	s.generate = nil
	s.callbacks = make(map[string]func(interfaces.TraceEvent))
}

// callbackFor returns the trace callback for the given thread, generating it
// on first contact.
func (s *Sink) callbackFor(thread string) func(interfaces.TraceEvent) {
	s.mu.Lock()
	cb, ok := s.callbacks[thread]
	gen := s.generate
	s.mu.Unlock()
	if ok {
		return cb
	}
	if gen == nil {
		return nil
	}
	cb = gen(thread)
	s.mu.Lock()
	s.callbacks[thread] = cb
	s.mu.Unlock()
	return cb
}

// Emit forwards a trace event from the given target thread.
func (s *Sink) Emit(thread string, e interfaces.TraceEvent) {
	if cb := s.callbackFor(thread); cb != nil {
		cb(e)
	}
}

// OnBranchEvent forwards a branch event with the given instruction id and arm.
func (s *Sink) OnBranchEvent(thread string, iid int32, arm int32) {
	s.Emit(thread, &interfaces.BranchEvent{IID: iid, Arm: arm})
}

// OnCallEvent forwards a call event with the given call-site id.
func (s *Sink) OnCallEvent(thread string, iid int32) {
	s.Emit(thread, &interfaces.CallEvent{IID: iid})
}

// OnReturnEvent forwards a return event with the given instruction id.
func (s *Sink) OnReturnEvent(thread string, iid int32) {
	s.Emit(thread, &interfaces.ReturnEvent{IID: iid})
}

// LogCoverage forwards a direct edge log to the coverage listener.
func (s *Sink) LogCoverage(iid int32, arm int32) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.LogCoverage(iid, arm)
	}
}
