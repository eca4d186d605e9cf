package bf

import (
	"context"
	"fmt"
	"io"
)

// Engine executes one program against one tape. It owns no goroutines
// and no shared state: a run is a single thread walking the program
// counter, with the reads and writes against the I/O collaborators as
// the only blocking points.
type Engine struct {
	// MaxSteps bounds how many dispatch steps a run may take, for
	// callers that need a terminating answer out of a possibly
	// non-terminating program. Zero means no bound.
	MaxSteps uint64

	prog  Program
	tape  *Tape
	pc    int
	steps uint64

	in  io.Reader
	out io.Writer
	buf [1]byte
}

// NewEngine wires a program, a tape and the byte I/O collaborators
// together. A nil input behaves as already-exhausted input; a nil
// output discards writes.
func NewEngine(program Program, tape *Tape, input io.Reader, output io.Writer) *Engine {
	return &Engine{prog: program, tape: tape, in: input, out: output}
}

// Steps reports how many dispatch steps have executed so far: one per
// byte the program counter landed on, inert bytes included.
func (e *Engine) Steps() uint64 {
	return e.steps
}

// Run executes the program to completion or failure.
func (e *Engine) Run() error {
	return e.RunContext(context.Background())
}

// RunContext executes the program, stopping early with ctx.Err() if ctx
// is cancelled.
//
// The program counter advances by one per step unless a bracket
// redirects it. On '[' with a zero cell it lands one past the matching
// ']'; on ']' with a nonzero cell it lands on the matching '[' itself,
// so the loop condition is re-evaluated rather than blindly re-entered.
func (e *Engine) RunContext(ctx context.Context) error {
	for e.pc < len(e.prog) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if e.MaxSteps > 0 && e.steps >= e.MaxSteps {
			return ErrStepLimit
		}
		e.steps++

		switch Command(e.prog[e.pc]) {
		case Increment:
			e.tape.Increment()
		case Decrement:
			e.tape.Decrement()
		case Right:
			if err := e.tape.MoveRight(); err != nil {
				return err
			}
		case Left:
			if err := e.tape.MoveLeft(); err != nil {
				return err
			}
		case Output:
			if err := e.writeByte(e.tape.Value()); err != nil {
				return err
			}
		case Input:
			e.tape.Set(e.readByte())
		case LoopStart:
			if e.tape.Value() == 0 {
				end, err := e.prog.MatchForward(e.pc)
				if err != nil {
					return err
				}
				e.pc = end + 1
				continue
			}
		case LoopEnd:
			if e.tape.Value() != 0 {
				start, err := e.prog.MatchBackward(e.pc)
				if err != nil {
					return err
				}
				e.pc = start
				continue
			}
		default:
			// Inert byte.
		}
		e.pc++
	}

	// The scans only notice a mismatched bracket when a jump is taken.
	// A full balance pass on normal termination condemns the rest,
	// e.g. "+[" whose loop never ran.
	return e.prog.Check()
}

// readByte pulls one byte from the input collaborator. At end of input
// it returns zero, the fixed policy that lets ",[.,]"-style loops
// detect exhaustion; read errors are indistinguishable from end of
// input as far as the program is concerned.
func (e *Engine) readByte() byte {
	if e.in == nil {
		return 0
	}
	for {
		n, err := e.in.Read(e.buf[:])
		if n > 0 {
			return e.buf[0]
		}
		if err != nil {
			return 0
		}
	}
}

// writeByte hands one byte to the output collaborator immediately; the
// engine never buffers output.
func (e *Engine) writeByte(b byte) error {
	if e.out == nil {
		return nil
	}
	e.buf[0] = b
	if _, err := e.out.Write(e.buf[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}
