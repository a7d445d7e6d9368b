/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: counter_test.go
Description: Unit tests for the sparse edge counter. Verifies increment
accounting, non-zero key and value enumeration, clearing, and copying.
*/

package coverage

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterIncrement(t *testing.T) {
	counter := NewCounter(64)
	keys := []int32{1, 5, 5, 9, -3, 5, 1}

	for _, key := range keys {
		before := counter.Get(key)
		after := counter.Increment(key)
		assert.Equal(t, before+1, after)
	}

	sum := int32(0)
	for _, v := range counter.NonZeroValues() {
		sum += v
	}
	assert.Equal(t, int32(len(keys)), sum)
}

func TestCounterIncrementBy(t *testing.T) {
	counter := NewCounter(64)
	keys := []int32{2, 4, 4, 8}
	delta := int32(7)

	for _, key := range keys {
		before := counter.Get(key)
		after := counter.IncrementBy(key, delta)
		assert.Equal(t, before+delta, after)
	}

	sum := int32(0)
	for _, v := range counter.NonZeroValues() {
		sum += v
	}
	assert.Equal(t, int32(len(keys))*delta, sum)
}

func TestCounterNonZeroAccounting(t *testing.T) {
	counter := NewCounter(64)
	r := rand.New(rand.NewSource(7))

	applied := make(map[int32]int32)
	for i := 0; i < 1000; i++ {
		key := int32(r.Intn(100))
		counter.Increment(key)
		applied[key]++
	}

	// Deduplicated non-zero keys match the keys with non-zero values
	nonZero := counter.NonZeroKeys()
	seen := make(map[int32]struct{})
	for _, k := range nonZero {
		seen[k] = struct{}{}
	}
	assert.Len(t, seen, len(nonZero), "public non-zero key enumeration is deduplicated")
	assert.Equal(t, len(applied), counter.NonZeroSize())
	assert.Equal(t, len(applied), len(nonZero))

	for k, v := range applied {
		assert.Equal(t, v, counter.Get(k))
	}
}

func TestCounterClear(t *testing.T) {
	counter := NewCounter(16)
	counter.Increment(1)
	counter.IncrementBy(2, 5)
	require.Equal(t, 2, counter.NonZeroSize())

	counter.Clear()

	assert.Equal(t, int32(0), counter.Get(1))
	assert.Equal(t, int32(0), counter.Get(2))
	assert.Equal(t, 0, counter.NonZeroSize())
	assert.Empty(t, counter.NonZeroKeys())
	assert.Empty(t, counter.NonZeroValues())
	assert.Empty(t, counter.nonZeroKeys)
}

func TestCounterAppendOnlyKeyList(t *testing.T) {
	counter := NewCounter(16)
	counter.Increment(42)
	counter.Increment(42)
	counter.Increment(7)

	// The internal list records each key once per zero-to-non-zero
	// transition and is a superset of the true non-zero key set.
	assert.Equal(t, []int32{42, 7}, counter.nonZeroKeys)
}

func TestCounterCopyFrom(t *testing.T) {
	src := NewCounter(16)
	src.Increment(3)
	src.IncrementBy(4, 9)

	dst := NewCounter(16)
	dst.Increment(99)
	dst.CopyFrom(src)

	assert.Equal(t, int32(1), dst.Get(3))
	assert.Equal(t, int32(9), dst.Get(4))
	assert.Equal(t, int32(0), dst.Get(99))
	assert.Equal(t, 2, dst.NonZeroSize())

	// The copy is independent of the source
	dst.Increment(3)
	assert.Equal(t, int32(1), src.Get(3))
}
