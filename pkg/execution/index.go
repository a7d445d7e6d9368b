/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: index.go
Description: Execution index representation for the Liora Fuzzer. An execution
index identifies the n-th byte request along a specific program path as a
sequence of (call site, occurrence count) pairs terminated by a byte offset
within the leaf frame. Provides the prefix/suffix algebra used by subtree
splicing and the execution-context equivalence used for splice-target matching.
*/

package execution

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ExecutionIndex is a call-stack-relative identity for a single byte request.
// The underlying sequence holds (callSiteId, callCount) pairs for every frame
// on the stack at request time, followed by one trailing element: the byte
// offset within the leaf frame. Two runs that follow the same program path up
// to a request produce the same index for it.
//
// Indices are immutable after construction.
type ExecutionIndex struct {
	ei []int32
}

// NewExecutionIndex wraps the given flattened sequence. The slice is owned by
// the index afterwards and must not be modified by the caller.
func NewExecutionIndex(ei []int32) ExecutionIndex {
	return ExecutionIndex{ei: ei}
}

// Len returns the number of elements in the flattened sequence.
func (x ExecutionIndex) Len() int {
	return len(x.ei)
}

// At returns the element at position i.
func (x ExecutionIndex) At(i int) int32 {
	return x.ei[i]
}

// Key returns a comparable map key for this index.
func (x ExecutionIndex) Key() string {
	var b strings.Builder
	b.Grow(4 * len(x.ei))
	var buf [4]byte
	for _, v := range x.ei {
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		b.Write(buf[:])
	}
	return b.String()
}

// String renders the index for logs.
func (x ExecutionIndex) String() string {
	parts := make([]string, 0, len(x.ei))
	for _, v := range x.ei {
		parts = append(parts, fmt.Sprintf("%d", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Prefix is a leading slice of an execution index.
type Prefix struct {
	x    ExecutionIndex
	size int
}

// Size returns the number of elements in the prefix.
func (p Prefix) Size() int { return p.size }

// Suffix is a trailing slice of an execution index.
type Suffix struct {
	x      ExecutionIndex
	offset int
}

// Size returns the number of elements in the suffix.
func (s Suffix) Size() int { return s.x.Len() - s.offset }

// HasPrefix reports whether this index begins with the given prefix.
func (x ExecutionIndex) HasPrefix(p Prefix) bool {
	if p.size > len(x.ei) {
		return false
	}
	for i := 0; i < p.size; i++ {
		if x.ei[i] != p.x.ei[i] {
			return false
		}
	}
	return true
}

// CommonSuffix returns the longest common trailing slice of this index and
// another. All indices have odd length (pairs plus the trailing byte offset),
// so element-wise comparison from the end keeps pair alignment.
func (x ExecutionIndex) CommonSuffix(other ExecutionIndex) Suffix {
	n := 0
	for n < len(x.ei) && n < len(other.ei) &&
		x.ei[len(x.ei)-1-n] == other.ei[len(other.ei)-1-n] {
		n++
	}
	return Suffix{x: x, offset: len(x.ei) - n}
}

// PrefixOfSuffix returns the leading slice of this index that remains when
// the given suffix length is removed from the end.
func (x ExecutionIndex) PrefixOfSuffix(s Suffix) Prefix {
	return Prefix{x: x, size: len(x.ei) - s.Size()}
}

// SuffixOfPrefix returns the trailing slice of this index that remains after
// the given prefix length.
func (x ExecutionIndex) SuffixOfPrefix(p Prefix) Suffix {
	return Suffix{x: x, offset: p.size}
}

// Concat builds a new execution index from a prefix and a suffix, re-keying
// the suffix under the prefix. Used by subtree splicing to graft a source
// subtree under a target call stack.
func Concat(p Prefix, s Suffix) ExecutionIndex {
	ei := make([]int32, 0, p.size+s.Size())
	ei = append(ei, p.x.ei[:p.size]...)
	ei = append(ei, s.x.ei[s.offset:]...)
	return ExecutionIndex{ei: ei}
}

// ExecutionContext is a canonicalized equivalence class over execution
// indices used for splice-target matching. Two indices with the same context
// are splice-compatible. The canonical form keeps only the call-site ids of
// the stack, dropping occurrence counts and the leaf byte offset, so that
// repeated calls to the same site match each other.
type ExecutionContext struct {
	key string
}

// ContextOf computes the execution context of an index.
func ContextOf(x ExecutionIndex) ExecutionContext {
	var b strings.Builder
	var buf [4]byte
	// Pairs occupy everything before the trailing byte offset; call-site
	// ids sit at the even positions.
	for i := 0; i+1 < len(x.ei); i += 2 {
		binary.LittleEndian.PutUint32(buf[:], uint32(x.ei[i]))
		b.Write(buf[:])
	}
	return ExecutionContext{key: b.String()}
}
