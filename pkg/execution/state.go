/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: state.go
Description: Execution indexing state for the Liora Fuzzer. Tracks the target's
call stack from call/return trace events, counting per-site call occurrences
within each frame and byte requests within the leaf frame, and produces the
execution index for each byte request.
*/

package execution

import (
	"github.com/kleascm/liora-fuzzer/pkg/interfaces"
)

// eiFrame is one call-stack frame of the indexing state.
type eiFrame struct {
	site       int32           // call site id that opened this frame
	occurrence int32           // occurrence of that site within the parent frame
	callCounts map[int32]int32 // per-site call counts inside this frame
	byteCount  int32           // byte requests made while this frame is on top
}

// IndexingState mirrors the target's call stack and assigns every byte
// request a stable identity across runs. Runs that follow the same program
// path up to request i produce the same execution index for the i-th byte.
type IndexingState struct {
	stack []eiFrame
}

// NewIndexingState creates the indexing state for a fresh run, holding only
// the root frame.
func NewIndexingState() *IndexingState {
	return &IndexingState{
		stack: []eiFrame{{callCounts: make(map[int32]int32)}},
	}
}

// PushCall records entry into a call. The new frame is identified by the call
// site id and the number of times that site has been called from the current
// frame so far.
func (s *IndexingState) PushCall(e *interfaces.CallEvent) {
	top := &s.stack[len(s.stack)-1]
	top.callCounts[e.IID]++
	s.stack = append(s.stack, eiFrame{
		site:       e.IID,
		occurrence: top.callCounts[e.IID],
		callCounts: make(map[int32]int32),
	})
}

// PopReturn records a return from the current call. The root frame is never
// popped; a stray return against the root is ignored.
func (s *IndexingState) PopReturn(e *interfaces.ReturnEvent) {
	if len(s.stack) > 1 {
		s.stack = s.stack[:len(s.stack)-1]
	}
}

// Depth returns the current call-stack depth, excluding the root frame.
func (s *IndexingState) Depth() int {
	return len(s.stack) - 1
}

// NextByteIndex produces the execution index for the next byte request:
// the flattened (site, occurrence) pairs of the stack followed by the leaf
// frame's byte-request counter, which is then incremented.
func (s *IndexingState) NextByteIndex() ExecutionIndex {
	top := &s.stack[len(s.stack)-1]
	ei := make([]int32, 0, 2*(len(s.stack)-1)+1)
	for _, f := range s.stack[1:] {
		ei = append(ei, f.site, f.occurrence)
	}
	ei = append(ei, top.byteCount)
	top.byteCount++
	return ExecutionIndex{ei: ei}
}
