/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: index_test.go
Description: Unit tests for execution indices and the indexing state. Verifies
the prefix/suffix algebra used by subtree splicing, execution-context
canonicalization, and the path-stability invariant of byte-request indices.
*/

package execution

import (
	"testing"

	"github.com/kleascm/liora-fuzzer/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionIndexKeyEquality(t *testing.T) {
	a := NewExecutionIndex([]int32{1, 1, 7, 2, 0})
	b := NewExecutionIndex([]int32{1, 1, 7, 2, 0})
	c := NewExecutionIndex([]int32{1, 1, 7, 2, 1})

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestPrefixSuffixAlgebra(t *testing.T) {
	// Two requests under different stacks that share a trailing subtree
	target := NewExecutionIndex([]int32{1, 1, 7, 2, 3})
	source := NewExecutionIndex([]int32{2, 5, 7, 2, 3})

	suffix := target.CommonSuffix(source)
	assert.Equal(t, 3, suffix.Size())

	sourcePrefix := source.PrefixOfSuffix(source.CommonSuffix(target))
	targetPrefix := target.PrefixOfSuffix(suffix)
	assert.Equal(t, sourcePrefix.Size(), targetPrefix.Size())

	assert.True(t, target.HasPrefix(targetPrefix))
	assert.True(t, source.HasPrefix(sourcePrefix))
	assert.False(t, target.HasPrefix(sourcePrefix))

	// Re-keying the source's suffix under the target's prefix reproduces
	// the target
	rekeyed := Concat(targetPrefix, source.SuffixOfPrefix(sourcePrefix))
	assert.Equal(t, target.Key(), rekeyed.Key())
}

func TestCommonSuffixDisjoint(t *testing.T) {
	a := NewExecutionIndex([]int32{1, 1, 0})
	b := NewExecutionIndex([]int32{2, 1, 5})
	assert.Equal(t, 0, a.CommonSuffix(b).Size())
}

func TestExecutionContextDropsCounts(t *testing.T) {
	// Same call sites, different occurrence counts and byte offsets
	first := NewExecutionIndex([]int32{4, 1, 9, 1, 0})
	second := NewExecutionIndex([]int32{4, 2, 9, 3, 17})
	other := NewExecutionIndex([]int32{4, 1, 8, 1, 0})

	assert.Equal(t, ContextOf(first), ContextOf(second))
	assert.NotEqual(t, ContextOf(first), ContextOf(other))
}

func TestIndexingStateStackShape(t *testing.T) {
	s := NewIndexingState()
	require.Equal(t, 0, s.Depth())

	s.PushCall(&interfaces.CallEvent{IID: 10})
	s.PushCall(&interfaces.CallEvent{IID: 20})
	assert.Equal(t, 2, s.Depth())

	ei := s.NextByteIndex()
	assert.Equal(t, 5, ei.Len())
	assert.Equal(t, int32(10), ei.At(0))
	assert.Equal(t, int32(1), ei.At(1))
	assert.Equal(t, int32(20), ei.At(2))
	assert.Equal(t, int32(1), ei.At(3))
	assert.Equal(t, int32(0), ei.At(4))

	s.PopReturn(&interfaces.ReturnEvent{IID: 20})
	assert.Equal(t, 1, s.Depth())

	// The root frame survives stray returns
	s.PopReturn(&interfaces.ReturnEvent{IID: 10})
	s.PopReturn(&interfaces.ReturnEvent{IID: 10})
	assert.Equal(t, 0, s.Depth())
}

func TestIndexingStateOccurrenceCounts(t *testing.T) {
	s := NewIndexingState()

	// Call the same site twice from the root frame
	s.PushCall(&interfaces.CallEvent{IID: 10})
	first := s.NextByteIndex()
	s.PopReturn(&interfaces.ReturnEvent{IID: 10})

	s.PushCall(&interfaces.CallEvent{IID: 10})
	second := s.NextByteIndex()
	s.PopReturn(&interfaces.ReturnEvent{IID: 10})

	assert.NotEqual(t, first.Key(), second.Key())
	assert.Equal(t, int32(1), first.At(1))
	assert.Equal(t, int32(2), second.At(1))

	// Same context even though the occurrences differ
	assert.Equal(t, ContextOf(first), ContextOf(second))
}

func TestIndexingStateByteCounterPerFrame(t *testing.T) {
	s := NewIndexingState()
	s.PushCall(&interfaces.CallEvent{IID: 10})

	first := s.NextByteIndex()
	second := s.NextByteIndex()
	assert.Equal(t, int32(0), first.At(first.Len()-1))
	assert.Equal(t, int32(1), second.At(second.Len()-1))

	// A nested call gets its own byte counter
	s.PushCall(&interfaces.CallEvent{IID: 20})
	nested := s.NextByteIndex()
	assert.Equal(t, int32(0), nested.At(nested.Len()-1))

	// Returning resumes the outer frame's counter
	s.PopReturn(&interfaces.ReturnEvent{IID: 20})
	resumed := s.NextByteIndex()
	assert.Equal(t, int32(2), resumed.At(resumed.Len()-1))
}

func TestSamePathSameIndices(t *testing.T) {
	runOnce := func() []string {
		s := NewIndexingState()
		var keys []string
		s.PushCall(&interfaces.CallEvent{IID: 1})
		keys = append(keys, s.NextByteIndex().Key())
		s.PushCall(&interfaces.CallEvent{IID: 2})
		keys = append(keys, s.NextByteIndex().Key())
		keys = append(keys, s.NextByteIndex().Key())
		s.PopReturn(&interfaces.ReturnEvent{IID: 2})
		keys = append(keys, s.NextByteIndex().Key())
		s.PopReturn(&interfaces.ReturnEvent{IID: 1})
		return keys
	}

	first := runOnce()
	second := runOnce()
	require.Equal(t, first, second)

	// All requests along the path are distinct
	seen := make(map[string]struct{})
	for _, k := range first {
		seen[k] = struct{}{}
	}
	assert.Len(t, seen, len(first))
}
