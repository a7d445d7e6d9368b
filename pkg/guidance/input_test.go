/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: input_test.go
Description: Unit tests for the input representations. Covers sequential reads,
garbage collection, havoc mutation, seed replay, execution-index-keyed reads
with duplicate requests, and splice behavior of mapped inputs.
*/

package guidance

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kleascm/liora-fuzzer/pkg/execution"
	"github.com/kleascm/liora-fuzzer/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuidance(t *testing.T, mutate func(*interfaces.FuzzerConfig)) *Guidance {
	t.Helper()
	cfg := &interfaces.FuzzerConfig{
		OutputDir: t.TempDir(),
		LogLevel:  "error",
	}
	if mutate != nil {
		mutate(cfg)
	}
	g, err := New(cfg, nil, nil)
	require.NoError(t, err)
	g.SetRand(rand.New(rand.NewSource(42)))
	t.Cleanup(func() { g.Close() })
	return g
}

func testRand() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func TestLinearInputSequentialReads(t *testing.T) {
	g := newTestGuidance(t, nil)
	in := newLinearInput(g)
	r := testRand()

	read := make([]byte, 0, 8)
	for i := 0; i < 8; i++ {
		v, err := in.GetOrGenerateFresh(i, r)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, 0)
		read = append(read, byte(v))
	}

	in.GC()
	assert.Equal(t, 8, in.Size())
	assert.Equal(t, read, in.Bytes())

	// A clone replays the same first bytes
	clone := cloneLinear(in)
	for i := 0; i < 8; i++ {
		v, err := clone.GetOrGenerateFresh(i, r)
		require.NoError(t, err)
		assert.Equal(t, int(read[i]), v)
	}
}

func TestLinearInputOutOfOrderReadPanics(t *testing.T) {
	g := newTestGuidance(t, nil)
	in := newLinearInput(g)

	assert.PanicsWithError(t, "invariant violation: bytes from linear input out of order: size=0 key=3", func() {
		in.GetOrGenerateFresh(3, testRand())
	})
}

func TestLinearInputSizeCap(t *testing.T) {
	g := newTestGuidance(t, func(c *interfaces.FuzzerConfig) {
		c.MaxInputSize = 4
	})
	in := newLinearInput(g)
	r := testRand()

	for i := 0; i < 4; i++ {
		v, err := in.GetOrGenerateFresh(i, r)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, 0)
	}

	v, err := in.GetOrGenerateFresh(4, r)
	require.NoError(t, err)
	assert.Equal(t, -1, v)
}

func TestLinearInputEOFWhenOut(t *testing.T) {
	g := newTestGuidance(t, func(c *interfaces.FuzzerConfig) {
		c.GenerateEOFWhenOut = true
	})
	in := newLinearInput(g)

	v, err := in.GetOrGenerateFresh(0, testRand())
	require.NoError(t, err)
	assert.Equal(t, -1, v)
	assert.Equal(t, 0, in.Size())
}

func TestLinearInputGCTruncates(t *testing.T) {
	g := newTestGuidance(t, nil)
	parent := newLinearInput(g)
	parent.values = []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	parent.meta.ID = 0

	child := cloneLinear(parent)
	r := testRand()
	for i := 0; i < 3; i++ {
		v, err := child.GetOrGenerateFresh(i, r)
		require.NoError(t, err)
		require.Equal(t, i+1, v)
	}

	child.GC()
	assert.Equal(t, 3, child.Size())
	assert.Equal(t, []byte{1, 2, 3}, child.Bytes())
}

func TestLinearInputFuzzPreservesLength(t *testing.T) {
	g := newTestGuidance(t, nil)
	in := newLinearInput(g)
	in.values = []byte{10, 20, 30, 40, 50, 60, 70, 80}
	in.meta.ID = 3

	child := in.Fuzz(testRand()).(*LinearInput)
	assert.Equal(t, in.Size(), child.Size())
	assert.Contains(t, child.meta.Desc, "src:000003")
	assert.Contains(t, child.meta.Desc, ",havoc:")

	// The parent is untouched
	assert.Equal(t, []byte{10, 20, 30, 40, 50, 60, 70, 80}, in.values)
}

func TestSeedInputReplaysFile(t *testing.T) {
	g := newTestGuidance(t, nil)
	path := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, os.WriteFile(path, []byte{0xAA, 0xBB, 0xCC}, 0644))

	seed, err := newSeedInput(g, path)
	require.NoError(t, err)
	assert.Equal(t, "seed", seed.Meta().Desc)

	r := testRand()
	for i, want := range []int{0xAA, 0xBB, 0xCC} {
		v, gerr := seed.GetOrGenerateFresh(i, r)
		require.NoError(t, gerr)
		assert.Equal(t, want, v)
	}

	// End of file yields the EOF sentinel without growing the vector
	v, gerr := seed.GetOrGenerateFresh(3, r)
	require.NoError(t, gerr)
	assert.Equal(t, -1, v)
	assert.Equal(t, 3, seed.Size())

	seed.GC()
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, seed.Bytes())
}

func TestSeedInputMissingFile(t *testing.T) {
	g := newTestGuidance(t, nil)
	_, err := newSeedInput(g, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func ei(parts ...int32) execution.ExecutionIndex {
	return execution.NewExecutionIndex(parts)
}

func TestMappedInputUniqueKeysAfterGC(t *testing.T) {
	g := newTestGuidance(t, func(c *interfaces.FuzzerConfig) {
		c.EnableExecutionIndexing = true
	})
	in := newMappedInput(g)
	r := testRand()

	keys := []execution.ExecutionIndex{
		ei(1, 1, 0),
		ei(1, 1, 1),
		ei(1, 1, 0), // re-read of the first index
		ei(2, 1, 0),
	}
	first := -1
	for i, k := range keys {
		v, err := in.GetOrGenerateFresh(k, r)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, 0)
		if i == 0 {
			first = v
		}
		if i == 2 {
			assert.Equal(t, first, v, "re-read returns the mapped value")
		}
	}

	in.GC()
	assert.Equal(t, 3, in.Size(), "value map is keyed uniquely")
	assert.Len(t, in.orderedKeys, 4, "ordered keys keep duplicates")
	assert.Len(t, in.Bytes(), 4)
}

func TestMappedInputFrozenAfterExecution(t *testing.T) {
	g := newTestGuidance(t, func(c *interfaces.FuzzerConfig) {
		c.EnableExecutionIndexing = true
	})
	in := newMappedInput(g)
	_, err := in.GetOrGenerateFresh(ei(1, 1, 0), testRand())
	require.NoError(t, err)
	in.GC()

	assert.Panics(t, func() {
		in.GetOrGenerateFresh(ei(1, 1, 1), testRand())
	})
	assert.Panics(t, func() {
		in.setValueAtKey(ei(1, 1, 1), 9)
	})
}

func TestMappedInputSizeCap(t *testing.T) {
	g := newTestGuidance(t, func(c *interfaces.FuzzerConfig) {
		c.EnableExecutionIndexing = true
		c.MaxInputSize = 2
	})
	in := newMappedInput(g)
	r := testRand()

	for i := int32(0); i < 2; i++ {
		v, err := in.GetOrGenerateFresh(ei(1, 1, i), r)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, 0)
	}

	v, err := in.GetOrGenerateFresh(ei(1, 1, 9), r)
	require.NoError(t, err)
	assert.Equal(t, -1, v)
}

// executeMapped runs a mapped input through the given execution indices so it
// can act as a splice source or fuzz parent.
func executeMapped(t *testing.T, g *Guidance, id int, keys []execution.ExecutionIndex, values []byte) *MappedInput {
	t.Helper()
	in := newMappedInput(g)
	for i, k := range keys {
		in.values.put(k.Key(), values[i])
	}
	r := testRand()
	for _, k := range keys {
		_, err := in.GetOrGenerateFresh(k, r)
		require.NoError(t, err)
	}
	in.GC()
	in.meta.ID = id
	return in
}

func TestMappedInputHavocKeepsKeys(t *testing.T) {
	g := newTestGuidance(t, func(c *interfaces.FuzzerConfig) {
		c.EnableExecutionIndexing = true
	})
	keys := []execution.ExecutionIndex{
		ei(1, 1, 0), ei(1, 1, 1), ei(1, 1, 2), ei(1, 1, 3),
	}
	in := executeMapped(t, g, 1, keys, []byte{9, 9, 9, 9})

	child := in.fuzzWith(testRand(), nil)
	assert.Equal(t, in.Size(), child.Size())
	assert.False(t, child.executed)

	// The child maps the same execution indices
	for _, k := range keys {
		_, ok := child.valueAtKey(k)
		assert.True(t, ok)
	}
}

func TestMappedInputSplice(t *testing.T) {
	g := newTestGuidance(t, func(c *interfaces.FuzzerConfig) {
		c.EnableExecutionIndexing = true
	})

	keys := []execution.ExecutionIndex{
		ei(1, 1, 0), ei(1, 1, 1), ei(1, 1, 2), ei(1, 1, 3),
	}
	target := executeMapped(t, g, 1, keys, []byte{0, 0, 0, 0})
	source := executeMapped(t, g, 2, keys, []byte{0xA1, 0xA2, 0xA3, 0xA4})

	locations := make(map[execution.ExecutionContext][]InputLocation)
	for offset, k := range source.orderedKeys {
		ec := execution.ContextOf(k)
		locations[ec] = append(locations[ec], InputLocation{input: source, offset: offset})
	}

	spliced := false
	for seed := int64(0); seed < 100 && !spliced; seed++ {
		child := target.fuzzWith(rand.New(rand.NewSource(seed)), locations)
		if !strings.Contains(child.meta.Desc, ",splice:000002") {
			continue
		}
		// A later havoc round can overwrite the spliced bytes, so only
		// accept a seed where a source byte survived.
		for _, k := range keys {
			if v, ok := child.valueAtKey(k); ok && v >= 0xA1 && v <= 0xA4 {
				spliced = true
				break
			}
		}
	}
	assert.True(t, spliced, "splicing never happened across 100 seeds")
}

func TestMappedInputSelfSpliceRejected(t *testing.T) {
	g := newTestGuidance(t, func(c *interfaces.FuzzerConfig) {
		c.EnableExecutionIndexing = true
	})

	keys := []execution.ExecutionIndex{ei(1, 1, 0), ei(1, 1, 1)}
	only := executeMapped(t, g, 1, keys, []byte{5, 6})

	locations := make(map[execution.ExecutionContext][]InputLocation)
	for offset, k := range only.orderedKeys {
		ec := execution.ContextOf(k)
		locations[ec] = append(locations[ec], InputLocation{input: only, offset: offset})
	}

	for seed := int64(0); seed < 50; seed++ {
		child := only.fuzzWith(rand.New(rand.NewSource(seed)), locations)
		assert.NotContains(t, child.meta.Desc, ",splice:")
	}
}
