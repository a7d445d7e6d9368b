/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: input.go
Description: Input model for the Liora Fuzzer. Defines the common operation set
shared by all input representations, the bookkeeping metadata attached to saved
inputs, the linear byte-vector input with its havoc mutation, and the seed
input backed by a corpus file.
*/

package guidance

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"

	"github.com/kleascm/liora-fuzzer/pkg/coverage"
)

// Input is a candidate or saved test input: a sequence of bytes produced on
// demand. Two concrete representations exist, a linear byte vector and an
// execution-index-keyed map, plus a seed variant that replays a corpus file.
type Input interface {
	// Meta returns the bookkeeping metadata for this input.
	Meta() *InputMeta

	// Size returns the number of bytes held by this input.
	Size() int

	// Fuzz returns a new input derived from this one with some values
	// mutated and possibly spliced.
	Fuzz(r *rand.Rand) Input

	// GC trims values that were never actually requested during the last
	// run. Although this mutates the underlying object, the effect is not
	// externally visible as long as test executions are deterministic.
	GC()
}

// InputMeta holds the bookkeeping data attached to an input. Most fields are
// only meaningful once the input has been saved to the corpus.
type InputMeta struct {
	// ID is the stable numeric id of a saved input; -1 before saving.
	ID int

	// SaveFile is the on-disk path of a saved input; empty before saving.
	SaveFile string

	// Desc records the input's provenance for logs; updated by
	// construction and mutation operations.
	Desc string

	// Coverage is the run-coverage snapshot taken when the input was
	// saved; nil before saving.
	Coverage *coverage.Coverage

	// NonZeroCoverage caches Coverage's non-zero count; -1 before saving.
	NonZeroCoverage int

	// Offspring counts saved mutant children of this input; -1 before
	// saving.
	Offspring int

	// Valid records whether this input produced a valid run.
	Valid bool

	// Responsibilities is the set of edge ids this input owns. Each
	// covered edge appears in the responsibility set of exactly one saved
	// input; the set shrinks as later inputs steal edges.
	Responsibilities map[int32]struct{}
}

// newInputMeta returns metadata for a not-yet-saved input.
func newInputMeta(desc string) InputMeta {
	return InputMeta{
		ID:              -1,
		Desc:            desc,
		NonZeroCoverage: -1,
		Offspring:       -1,
	}
}

// Favored reports whether this input should be fuzzed preferentially. An
// input is favored iff it is responsible for covering at least one edge.
func (m *InputMeta) Favored() bool {
	return len(m.Responsibilities) > 0
}

// sampleGeometric samples from a geometric distribution with the given mean.
// Utility used by the mutation operations.
func sampleGeometric(r *rand.Rand, mean float64) int {
	p := 1 / mean
	uniform := r.Float64()
	return int(math.Ceil(math.Log(1-uniform) / math.Log(1-p)))
}

// LinearInput is an input represented as an ordered vector of bytes plus a
// request cursor. Bytes must be requested strictly in order; requests past
// the end of the vector draw fresh random bytes.
type LinearInput struct {
	meta InputMeta
	g    *Guidance

	// values holds byte values ordered by their request index.
	values []byte

	// requested is the number of bytes requested so far.
	requested int
}

// newLinearInput creates an empty linear input.
func newLinearInput(g *Guidance) *LinearInput {
	return &LinearInput{
		meta: newInputMeta("random"),
		g:    g,
	}
}

// cloneLinear copies the byte vector of an existing input into a fresh,
// unexecuted one.
func cloneLinear(other *LinearInput) *LinearInput {
	values := make([]byte, len(other.values))
	copy(values, other.values)
	return &LinearInput{
		meta:   newInputMeta(fmt.Sprintf("src:%06d", other.meta.ID)),
		g:      other.g,
		values: values,
	}
}

// Meta returns the input's metadata.
func (in *LinearInput) Meta() *InputMeta { return &in.meta }

// Size returns the length of the byte vector.
func (in *LinearInput) Size() int { return len(in.values) }

// GetOrGenerateFresh serves the key-th consecutive byte request. Requests
// must arrive exactly in order; an out-of-order request is a fatal invariant
// violation. Returns -1 as the EOF sentinel when the input-size cap is hit
// or, under EOF-on-exhaust, when the vector is exhausted.
func (in *LinearInput) GetOrGenerateFresh(key int, r *rand.Rand) (int, error) {
	if key != in.requested {
		invariantf("bytes from linear input out of order: size=%d key=%d",
			len(in.values), key)
	}

	// Don't generate over the limit
	if in.requested >= in.g.cfg.MaxInputSize {
		return -1, nil
	}

	// If it exists in the vector, return it
	if key < len(in.values) {
		in.requested++
		return int(in.values[key]), nil
	}

	// Handle end of stream
	if in.g.cfg.GenerateEOFWhenOut {
		return -1, nil
	}

	val := r.Intn(256)
	in.values = append(in.values, byte(val))
	in.requested++
	return val, nil
}

// GC truncates the vector to remove values that were never requested.
func (in *LinearInput) GC() {
	if in.requested != len(in.values) {
		trimmed := make([]byte, in.requested)
		copy(trimmed, in.values[:in.requested])
		in.values = trimmed
	}
}

// Fuzz returns a mutated clone. A geometric number of havoc rounds each
// overwrite a geometric-length window of bytes with fresh random values, or
// with zeros for the whole call one time in ten.
func (in *LinearInput) Fuzz(r *rand.Rand) Input {
	newInput := cloneLinear(in)
	if len(newInput.values) == 0 {
		return newInput
	}

	// Stack a bunch of mutations
	numMutations := sampleGeometric(r, MeanMutationCount)
	newInput.meta.Desc += fmt.Sprintf(",havoc:%d", numMutations)

	setToZero := r.Float64() < 0.1 // one out of 10 times

	for mutation := 1; mutation <= numMutations; mutation++ {
		offset := r.Intn(len(newInput.values))
		mutationSize := sampleGeometric(r, MeanMutationSize)

		for i := offset; i < offset+mutationSize && i < len(newInput.values); i++ {
			if setToZero {
				newInput.values[i] = 0
			} else {
				newInput.values[i] = byte(r.Intn(256))
			}
		}
	}

	return newInput
}

// Bytes returns the input's byte vector for serialization.
func (in *LinearInput) Bytes() []byte {
	return in.values
}

// SeedInput is a linear input whose fresh bytes come from a corpus file
// instead of the PRNG. At end of file it yields EOF; read failures surface
// as guidance errors.
type SeedInput struct {
	LinearInput
	seedFile string
	file     *os.File
	reader   *bufio.Reader
}

// newSeedInput opens the given seed file for replay.
func newSeedInput(g *Guidance, path string) (*SeedInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file %s: %w", path, err)
	}
	return &SeedInput{
		LinearInput: LinearInput{
			meta: newInputMeta("seed"),
			g:    g,
		},
		seedFile: path,
		file:     f,
		reader:   bufio.NewReader(f),
	}, nil
}

// GetOrGenerateFresh reads the next byte from the seed file. EOF is returned
// as the -1 sentinel and not recorded in the vector.
func (in *SeedInput) GetOrGenerateFresh(key int, r *rand.Rand) (int, error) {
	b, err := in.reader.ReadByte()
	if err == io.EOF {
		return -1, nil
	}
	if err != nil {
		return 0, &GuidanceError{
			Op:  "seed",
			Err: fmt.Errorf("error reading from seed file %s: %w", in.seedFile, err),
		}
	}

	if key != len(in.values) {
		invariantf("bytes from seed out of order: size=%d key=%d", len(in.values), key)
	}

	in.values = append(in.values, b)
	in.requested++
	return int(b), nil
}

// GC trims the vector and closes the backing file.
func (in *SeedInput) GC() {
	in.LinearInput.GC()
	in.file.Close()
}
