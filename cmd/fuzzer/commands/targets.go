/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: targets.go
Description: Built-in sample fuzz targets for the Liora Fuzzer CLI. Small
instrumented procedures used for smoke-testing a session end to end without an
external instrumentation agent.
*/

package commands

import (
	"errors"
	"io"

	"github.com/kleascm/liora-fuzzer/pkg/harness"
	"github.com/kleascm/liora-fuzzer/pkg/interfaces"
)

// RegisterBuiltinTargets registers the sample targets shipped with the CLI.
func RegisterBuiltinTargets() {
	_ = harness.RegisterTarget("sample/parity", parityTarget)
	_ = harness.RegisterTarget("sample/magic", magicTarget)
}

// parityTarget branches on the parity of its first byte.
func parityTarget(tr *harness.Tracer, src interfaces.ByteSource) error {
	tr.Call(1)
	defer tr.Return(1)

	b, err := src.ReadByte()
	if err == io.EOF {
		return harness.ErrAssumption
	}
	if err != nil {
		return err
	}

	if b%2 == 0 {
		tr.Branch(10, 0)
	} else {
		tr.Branch(10, 1)
	}
	return nil
}

// magicTarget fails when its first four bytes spell the magic sequence,
// branching once per matched byte.
func magicTarget(tr *harness.Tracer, src interfaces.ByteSource) error {
	tr.Call(2)
	defer tr.Return(2)

	magic := []byte{'L', 'I', 'R', 'A'}
	for i, want := range magic {
		b, err := src.ReadByte()
		if err == io.EOF {
			return harness.ErrAssumption
		}
		if err != nil {
			return err
		}
		if b != want {
			tr.Branch(int32(20+i), 0)
			return nil
		}
		tr.Branch(int32(20+i), 1)
	}
	return errors.New("magic sequence reached")
}
