/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: coverage.go
Description: Branch and call coverage map for the Liora Fuzzer. Records per-run
edge counts from trace events and merges runs into cumulative coverage using
bucketed saturation (highest power of two at or below each count).
*/

package coverage

import (
	"github.com/kleascm/liora-fuzzer/pkg/interfaces"
)

// coverageMapSize is the starting size of the coverage map.
const coverageMapSize = 1 << 8

// hobCacheSize bounds the cached bucket table for small counts.
const hobCacheSize = 1024

var hobCache [hobCacheSize]int32

func init() {
	for i := int32(0); i < hobCacheSize; i++ {
		hobCache[i] = computeHob(i)
	}
}

// computeHob returns the highest order bit of num, or zero for zero.
func computeHob(num int32) int32 {
	if num == 0 {
		return 0
	}
	ret := int32(1)
	for {
		num >>= 1
		if num == 0 {
			break
		}
		ret <<= 1
	}
	return ret
}

// hob returns the highest order bit, using the cache for small counts.
func hob(num int32) int32 {
	if num >= 0 && num < hobCacheSize {
		return hobCache[num]
	}
	return computeHob(num)
}

// Coverage collects branch and call coverage keyed by edge id. A run coverage
// holds raw counts cleared before each run; a cumulative coverage holds
// saturated buckets merged from runs via UpdateBits.
type Coverage struct {
	counter *Counter
}

// New creates an empty coverage map.
func New() *Coverage {
	return &Coverage{counter: NewCounter(coverageMapSize)}
}

// Copy creates a copy of an existing coverage map.
func Copy(that *Coverage) *Coverage {
	c := New()
	c.counter.CopyFrom(that.counter)
	return c
}

// Size returns the nominal size of the coverage map.
func (c *Coverage) Size() int {
	return coverageMapSize
}

// HandleEvent updates coverage counters for branch and call events. Other
// event kinds are ignored.
func (c *Coverage) HandleEvent(e interfaces.TraceEvent) {
	switch ev := e.(type) {
	case *interfaces.BranchEvent:
		c.counter.Increment((ev.IID << 2) | ev.Arm)
	case *interfaces.CallEvent:
		c.counter.Increment((ev.IID << 2) | 3)
	}
}

// LogCoverage records a direct edge log from the instrumentation.
//
// WARNING: this path keys by iid+arm and may collide between the arms of
// switch statements. Placing an id probe at each branch target would avoid
// this, but the probe has to log on the edge rather than at the target, so
// the collision-tolerant key is kept for compatibility.
func (c *Coverage) LogCoverage(iid int32, arm int32) {
	c.counter.Increment(iid + arm)
}

// NonZeroCount returns the number of edges covered.
func (c *Coverage) NonZeroCount() int {
	return c.counter.NonZeroSize()
}

// Covered returns the edge ids with non-zero counts.
func (c *Coverage) Covered() []int32 {
	return c.counter.NonZeroKeys()
}

// ComputeNewCoverage returns the keys that are non-zero in this coverage but
// zero in the baseline.
func (c *Coverage) ComputeNewCoverage(baseline *Coverage) []int32 {
	var newCoverage []int32
	for _, key := range c.counter.NonZeroKeys() {
		if baseline.counter.Get(key) == 0 {
			newCoverage = append(newCoverage, key)
		}
	}
	return newCoverage
}

// Clear empties the coverage map.
func (c *Coverage) Clear() {
	c.counter.Clear()
}

// UpdateBits merges the run coverage `that` into this cumulative map by
// OR-ing the saturation bucket of each run count into the stored bits. It
// returns true iff `that` is not a subset of this map, i.e. some bit was
// added. Both counters stay locked for the duration so readers never observe
// a half-merged state.
func (c *Coverage) UpdateBits(that *Coverage) bool {
	// Merging a map into itself cannot add bits: every stored value
	// already contains its own highest order bit.
	if c.counter == that.counter {
		return false
	}

	changed := false
	c.counter.mu.Lock()
	defer c.counter.mu.Unlock()
	that.counter.mu.Lock()
	defer that.counter.mu.Unlock()

	for key, count := range that.counter.counts {
		before := c.counter.counts[key]
		after := before | hob(count)
		if before == 0 {
			c.counter.nonZeroKeys = append(c.counter.nonZeroKeys, key)
		}
		if after != before {
			c.counter.counts[key] = after
			changed = true
		}
	}
	return changed
}
