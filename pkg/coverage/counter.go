/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: counter.go
Description: Sparse edge counter for the Liora Fuzzer. Maps 32-bit edge ids to
32-bit counts and maintains an append-only list of keys that became non-zero,
used by the coverage merge path for fast enumeration.
*/

package coverage

import (
	"sync"
)

// Counter maps integer keys to integer counts.
//
// The nonZeroKeys list is append-only and records every key at the moment it
// transitioned away from zero. It may contain duplicates and, after bucketed
// merges of zero-valued entries, keys whose count is still zero; consumers
// must treat it as a superset to scan, never as an exact set. No consumer
// relies on uniqueness.
type Counter struct {
	mu          sync.Mutex
	counts      map[int32]int32
	nonZeroKeys []int32
}

// NewCounter creates a new counter with the given starting capacity.
func NewCounter(size int) *Counter {
	return &Counter{
		counts: make(map[int32]int32, size),
	}
}

// Size returns the number of keys present in this counter.
func (c *Counter) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}

// Clear resets all counts to zero and empties the non-zero key list.
func (c *Counter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[int32]int32, len(c.counts))
	c.nonZeroKeys = c.nonZeroKeys[:0]
}

// Increment increments the count at the given key and returns the new value.
func (c *Counter) Increment(key int32) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	incr := c.counts[key] + 1
	if incr == 1 {
		c.nonZeroKeys = append(c.nonZeroKeys, key)
	}
	c.counts[key] = incr
	return incr
}

// IncrementBy increments the count at the given key by delta and returns the
// new value.
func (c *Counter) IncrementBy(key int32, delta int32) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	incr := c.counts[key] + delta
	if incr == delta {
		c.nonZeroKeys = append(c.nonZeroKeys, key)
	}
	c.counts[key] = incr
	return incr
}

// Get returns the count for the given key, or zero if absent.
func (c *Counter) Get(key int32) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

// NonZeroSize returns the number of keys with non-zero counts.
func (c *Counter) NonZeroSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := 0
	for _, v := range c.counts {
		if v != 0 {
			size++
		}
	}
	return size
}

// NonZeroKeys returns the keys at which the count is non-zero.
func (c *Counter) NonZeroKeys() []int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]int32, 0, len(c.counts)/2)
	for k, v := range c.counts {
		if v != 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// NonZeroValues returns the non-zero count values in this counter.
func (c *Counter) NonZeroValues() []int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	values := make([]int32, 0, len(c.counts)/2)
	for _, v := range c.counts {
		if v != 0 {
			values = append(values, v)
		}
	}
	return values
}

// CopyFrom replaces this counter's contents with a copy of another counter.
func (c *Counter) CopyFrom(other *Counter) {
	other.mu.Lock()
	counts := make(map[int32]int32, len(other.counts))
	for k, v := range other.counts {
		counts[k] = v
	}
	nonZero := make([]int32, len(other.nonZeroKeys))
	copy(nonZero, other.nonZeroKeys)
	other.mu.Unlock()

	c.mu.Lock()
	c.counts = counts
	c.nonZeroKeys = nonZero
	c.mu.Unlock()
}
