// Package bf interprets brainfuck: eight single-byte commands driving a
// cursor over an unbounded tape of byte cells. Programs are executed as
// raw source bytes; loops are resolved by scanning for the matching
// bracket at the moment a jump is taken.
package bf

import (
	"context"
	"errors"
	"io"
)

// Every error aborts the whole run. There is no local recovery, and
// output already written stands.
var (
	// ErrUnmatchedBracket means the '[' and ']' in the source do not
	// form a properly nested, fully matched set.
	ErrUnmatchedBracket = errors.New("unmatched brackets")

	// ErrOutOfMemory means a tape cell could not be materialized
	// because the tape's cell limit was reached.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrIO means the output collaborator rejected a write.
	ErrIO = errors.New("input/output error")

	// ErrStepLimit means the engine's MaxSteps budget ran out before
	// the program terminated.
	ErrStepLimit = errors.New("step limit exceeded")
)

// Run interprets source against a fresh unbounded tape, reading ','
// input from input and writing '.' output to output.
func Run(source []byte, input io.Reader, output io.Writer) error {
	return RunContext(context.Background(), source, input, output)
}

// RunContext is Run with cancellation.
func RunContext(ctx context.Context, source []byte, input io.Reader, output io.Writer) error {
	engine := NewEngine(Program(source), NewTape(0), input, output)
	return engine.RunContext(ctx)
}
