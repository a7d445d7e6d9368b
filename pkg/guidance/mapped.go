/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: mapped.go
Description: Execution-index-keyed input representation for the Liora Fuzzer.
Maps execution indices to byte values so that mutations survive control-flow
changes, and implements the splicing operators (byte-span and subtree) that
graft regions from other saved inputs at matching execution contexts.
*/

package guidance

import (
	"fmt"
	"math/rand"

	"github.com/kleascm/liora-fuzzer/pkg/execution"
)

// orderedByteMap is an insertion-ordered map from execution-index keys to
// byte values. Iteration order is first-insertion order, which the havoc
// mutation relies on to address a stable byte window.
type orderedByteMap struct {
	keys []string
	vals map[string]byte
}

func newOrderedByteMap(capacity int) *orderedByteMap {
	return &orderedByteMap{
		keys: make([]string, 0, capacity),
		vals: make(map[string]byte, capacity),
	}
}

func (m *orderedByteMap) clone() *orderedByteMap {
	c := newOrderedByteMap(len(m.keys))
	c.keys = append(c.keys, m.keys...)
	for k, v := range m.vals {
		c.vals[k] = v
	}
	return c
}

// put sets the value for a key, appending the key on first insertion.
func (m *orderedByteMap) put(key string, val byte) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = val
}

func (m *orderedByteMap) get(key string) (byte, bool) {
	v, ok := m.vals[key]
	return v, ok
}

func (m *orderedByteMap) len() int { return len(m.vals) }

// setAt overwrites the value at insertion position i.
func (m *orderedByteMap) setAt(i int, val byte) {
	m.vals[m.keys[i]] = val
}

// MappedInput is an input represented as an ordered mapping from execution
// indices to bytes, plus the list of indices in the order they were requested
// during the last run. Once executed, the input is frozen; mutation happens
// only through Fuzz, which produces a fresh unexecuted copy.
type MappedInput struct {
	meta InputMeta
	g    *Guidance

	// executed freezes the input. Before execution orderedKeys is not yet
	// populated and must not be used; after execution neither the value
	// map nor orderedKeys may change.
	executed bool

	// values maps execution indices to the byte returned at that index.
	values *orderedByteMap

	// orderedKeys lists the execution indices actually requested by the
	// target, in trace order. It may contain duplicates when the target
	// re-reads the same index; the value map is keyed uniquely.
	orderedKeys []execution.ExecutionIndex

	// demandDrivenSpliceMap holds input-prefix mappings consulted when a
	// fresh byte is requested for an unmapped index. The mechanism is
	// wired, but nothing populates the map in the current design.
	demandDrivenSpliceMap []inputPrefixMapping
}

// InputLocation is one splice-source candidate: a byte offset in a saved
// mapped input.
type InputLocation struct {
	input  *MappedInput
	offset int
}

// inputPrefixMapping redirects fresh-byte requests under a target prefix to
// the corresponding indices of a source input.
type inputPrefixMapping struct {
	sourceInput  *MappedInput
	sourcePrefix execution.Prefix
	targetPrefix execution.Prefix
}

// newMappedInput creates an empty mapped input.
func newMappedInput(g *Guidance) *MappedInput {
	return &MappedInput{
		meta:   newInputMeta("random"),
		g:      g,
		values: newOrderedByteMap(16),
	}
}

// cloneMapped copies the value map of an existing input into a fresh,
// unexecuted one. The ordered key list is not carried over; it is rebuilt by
// the next execution.
func cloneMapped(other *MappedInput) *MappedInput {
	return &MappedInput{
		meta:   newInputMeta(fmt.Sprintf("src:%06d", other.meta.ID)),
		g:      other.g,
		values: other.values.clone(),
	}
}

// Meta returns the input's metadata.
func (in *MappedInput) Meta() *InputMeta { return &in.meta }

// Size returns the number of entries in the value map.
func (in *MappedInput) Size() int { return in.values.len() }

// valueAtOffset returns the byte mapped at the given offset of the executed
// key order.
func (in *MappedInput) valueAtOffset(offset int) byte {
	if !in.executed {
		invariantf("cannot read mapped input by offset before execution")
	}
	v, _ := in.values.get(in.orderedKeys[offset].Key())
	return v
}

// keyAtOffset returns the execution index requested at the given offset.
func (in *MappedInput) keyAtOffset(offset int) execution.ExecutionIndex {
	if !in.executed {
		invariantf("cannot read mapped input by offset before execution")
	}
	return in.orderedKeys[offset]
}

// valueAtKey returns the byte mapped at an execution index, if any.
func (in *MappedInput) valueAtKey(ei execution.ExecutionIndex) (byte, bool) {
	return in.values.get(ei.Key())
}

// setValueAtKey inserts a byte at an execution index. The input must not have
// been executed.
func (in *MappedInput) setValueAtKey(ei execution.ExecutionIndex, val byte) {
	if in.executed {
		invariantf("cannot set mapped input values after execution")
	}
	in.values.put(ei.Key(), val)
}

// prefixMappingFor returns the first demand-driven splice mapping whose
// target prefix leads the given index, or nil.
func (in *MappedInput) prefixMappingFor(ei execution.ExecutionIndex) *inputPrefixMapping {
	for i := range in.demandDrivenSpliceMap {
		ipm := &in.demandDrivenSpliceMap[i]
		if ei.HasPrefix(ipm.targetPrefix) {
			return ipm
		}
	}
	return nil
}

// GetOrGenerateFresh retrieves the byte mapped at an execution index, or
// generates a fresh one. Requesting bytes from an executed input is a fatal
// invariant violation. Returns -1 as the EOF sentinel when the input-size
// cap is hit or, under EOF-on-exhaust, when the index is unmapped.
func (in *MappedInput) GetOrGenerateFresh(ei execution.ExecutionIndex, r *rand.Rand) (int, error) {
	if in.executed {
		invariantf("cannot generate fresh values after execution")
	}

	// If we reached a limit, then just return EOF
	if len(in.orderedKeys) >= in.g.cfg.MaxInputSize {
		return -1, nil
	}

	val, ok := in.values.get(ei.Key())
	if !ok {
		// A demand-driven splice mapping can serve the byte from the
		// source input under the corresponding source index.
		if ipm := in.prefixMappingFor(ei); ipm != nil {
			sourceEi := execution.Concat(ipm.sourcePrefix, ei.SuffixOfPrefix(ipm.targetPrefix))
			val, ok = ipm.sourceInput.valueAtKey(sourceEi)
		}

		if !ok {
			if in.g.cfg.GenerateEOFWhenOut {
				return -1, nil
			}
			val = byte(r.Intn(256))
		}

		in.values.put(ei.Key(), val)
	}

	// Mark this key as visited
	in.orderedKeys = append(in.orderedKeys, ei)

	return int(val), nil
}

// GC rebuilds the value map from the requested keys, dropping entries the
// target never read, and freezes the input.
func (in *MappedInput) GC() {
	trimmed := newOrderedByteMap(len(in.orderedKeys))
	for _, ei := range in.orderedKeys {
		if v, ok := in.values.get(ei.Key()); ok {
			trimmed.put(ei.Key(), v)
		}
	}
	in.values = trimmed
	in.executed = true
}

// Fuzz returns a new input derived from this one by splicing and havoc
// mutation, drawing splice candidates from the guidance's execution-context
// location map.
func (in *MappedInput) Fuzz(r *rand.Rand) Input {
	return in.fuzzWith(r, in.g.ecToInputLoc)
}

// fuzzWith performs one or both of splicing and random havoc mutation.
//
// Splicing first picks a random location in this input and its execution
// context, then copies a contiguous region from another saved input that
// maps the same context: either a uniform random span of up to MaxSpliceSize
// bytes, or, with subtree splicing, every source entry under the common call
// subtree re-keyed beneath the target's stack.
//
// Havoc stacks a geometric number of mutation rounds, each overwriting a
// geometric-length window of the value map in insertion order.
func (in *MappedInput) fuzzWith(r *rand.Rand, ecToInputLoc map[execution.ExecutionContext][]InputLocation) *MappedInput {
	newInput := cloneMapped(in)

	splicingDone := false

	if ecToInputLoc != nil && r.Intn(2) == 0 {
		targetAttempts := MinTargetAttempts

	outer:
		for targetAttempt := 1; targetAttempt < targetAttempts; targetAttempt++ {
			// Choose an execution context to splice at. Keys and
			// values come from the executed receiver, not the clone.
			if newInput.values.len() == 0 {
				break
			}
			targetOffset := r.Intn(newInput.values.len())
			targetEi := in.keyAtOffset(targetOffset)
			targetEc := execution.ContextOf(targetEi)
			valueAtTarget := in.valueAtOffset(targetOffset)

			inputLocations := ecToInputLoc[targetEc]

			// A bad target choice costs nothing if the attempt
			// budget can still stretch.
			if len(inputLocations) == 0 {
				if targetAttempts < MaxTargetAttempts {
					targetAttempts++
				}
				continue
			}

			for attempt := 1; attempt <= 10; attempt++ {
				loc := inputLocations[r.Intn(len(inputLocations))]
				sourceInput := loc.input
				sourceOffset := loc.offset

				// Do not splice with ourselves
				if sourceInput == in {
					continue
				}

				// Do not splice if the first value is the same in
				// source and target
				if sourceInput.valueAtOffset(sourceOffset) == valueAtTarget {
					continue
				}

				splicedBytes := 0
				if in.g.cfg.EnableExecutionIndexing && in.g.cfg.SpliceSubtree {
					// Do not splice if source and target execution
					// indices share no suffix
					sourceEi := sourceInput.keyAtOffset(sourceOffset)
					suffix := targetEi.CommonSuffix(sourceEi)
					if suffix.Size() == 0 {
						continue
					}

					sourcePrefix := sourceEi.PrefixOfSuffix(suffix)
					targetPrefix := targetEi.PrefixOfSuffix(suffix)

					// Copy the whole source subtree, re-keyed under
					// the target's stack
					srcIdx := sourceOffset
					for srcIdx < sourceInput.Size() {
						candidateEi := sourceInput.keyAtOffset(srcIdx)
						if !candidateEi.HasPrefix(sourcePrefix) {
							// No longer in the same subtree
							break
						}
						spliceSuffix := candidateEi.SuffixOfPrefix(sourcePrefix)
						spliceEi := execution.Concat(targetPrefix, spliceSuffix)
						if v, ok := sourceInput.valueAtKey(candidateEi); ok {
							newInput.values.put(spliceEi.Key(), v)
						}
						srcIdx++
					}
					splicedBytes = srcIdx - sourceOffset
				} else {
					spliceSize := 1 + r.Intn(MaxSpliceSize)
					src := sourceOffset
					tgt := targetOffset
					srcSize := sourceInput.Size()
					tgtSize := newInput.Size()
					for splicedBytes < spliceSize && src < srcSize && tgt < tgtSize {
						val := sourceInput.valueAtOffset(src)
						key := in.keyAtOffset(tgt)
						newInput.setValueAtKey(key, val)
						splicedBytes++
						src++
						tgt++
					}
				}

				splicingDone = true
				newInput.meta.Desc += fmt.Sprintf(",splice:%06d:%d@%d->%d",
					sourceInput.meta.ID, splicedBytes, sourceOffset, targetOffset)

				break outer
			}
		}
	}

	// Maybe do random mutations
	if !splicingDone || r.Intn(2) == 0 {
		if newInput.values.len() == 0 {
			return newInput
		}

		// Stack a bunch of mutations
		numMutations := sampleGeometric(r, MeanMutationCount)
		newInput.meta.Desc += fmt.Sprintf(",havoc:%d", numMutations)

		setToZero := r.Float64() < 0.1 // one out of 10 times

		for mutation := 1; mutation <= numMutations; mutation++ {
			offset := r.Intn(newInput.values.len())
			mutationSize := sampleGeometric(r, MeanMutationSize)

			for i := offset; i < offset+mutationSize && i < newInput.values.len(); i++ {
				if setToZero {
					newInput.values.setAt(i, 0)
				} else {
					newInput.values.setAt(i, byte(r.Intn(256)))
				}
			}
		}
	}

	return newInput
}

// Bytes serializes the input as the byte sequence observed by the target,
// following the requested key order.
func (in *MappedInput) Bytes() []byte {
	out := make([]byte, 0, len(in.orderedKeys))
	for _, ei := range in.orderedKeys {
		if v, ok := in.values.get(ei.Key()); ok {
			out = append(out, v)
		}
	}
	return out
}
