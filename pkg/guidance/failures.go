/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: failures.go
Description: Failure deduplication support for the Liora Fuzzer. Computes a
stable signature for a failing run from the deepest stack trace in its error
chain so that repeated occurrences of the same failure are recorded only once.
*/

package guidance

import (
	"errors"
	"fmt"
	"strings"
)

// StackTracer is implemented by failure errors that carry a normalized stack
// trace, typically produced by the test harness from a recovered panic.
type StackTracer interface {
	StackTrace() []string
}

// rootCause unwraps an error chain to its deepest cause.
func rootCause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return err
}

// failureSignature derives the deduplication signature for a failing run:
// the stack trace of the deepest error in the chain that carries one (the
// root cause itself when it does), otherwise the root cause's type and
// message.
func failureSignature(err error) string {
	root := rootCause(err)
	if root == nil {
		return ""
	}
	var frames []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(StackTracer); ok {
			if f := st.StackTrace(); len(f) > 0 {
				frames = f
			}
		}
	}
	if len(frames) > 0 {
		return strings.Join(frames, "\n")
	}
	return fmt.Sprintf("%T: %v", root, root)
}
