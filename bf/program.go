package bf

import "fmt"

// Program is brainfuck source text, kept as the raw bytes read from the
// file. Only the eight command bytes execute; every other byte,
// embedded NULs included, is an inert comment. Keeping the source
// unlexed means offsets in errors match the file.
type Program []byte

// Command is one instruction byte.
type Command byte

const (
	Increment Command = '+'
	Decrement Command = '-'
	Left      Command = '<'
	Right     Command = '>'
	Output    Command = '.'
	Input     Command = ','
	LoopStart Command = '['
	LoopEnd   Command = ']'
)

func (c Command) String() string {
	if IsCommand(byte(c)) {
		return string(byte(c))
	}
	return " "
}

// IsCommand reports whether b is one of the eight command bytes.
func IsCommand(b byte) bool {
	switch Command(b) {
	case Increment, Decrement, Left, Right, Output, Input, LoopStart, LoopEnd:
		return true
	}
	return false
}

// Strip returns a copy of the program with all inert bytes removed.
// Execution never needs this; it exists for callers that want to see
// what will actually run.
func Strip(p Program) Program {
	out := make(Program, 0, len(p))
	for _, b := range p {
		if IsCommand(b) {
			out = append(out, b)
		}
	}
	return out
}

// MatchForward finds the ']' matching the '[' at open. The scan keeps a
// balance counter starting at one; every '[' deepens it, every ']'
// closes one level, anything else is skipped. Running past the end of
// the program means the bracket is unmatched.
func (p Program) MatchForward(open int) (int, error) {
	bal := 1
	for i := open + 1; i < len(p); i++ {
		switch Command(p[i]) {
		case LoopStart:
			bal++
		case LoopEnd:
			bal--
			if bal == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unclosed '[' at offset %d", ErrUnmatchedBracket, open)
}

// MatchBackward finds the '[' matching the ']' at close. Mirror image
// of MatchForward, scanning toward the start of the program and failing
// if it steps off the front.
func (p Program) MatchBackward(close int) (int, error) {
	bal := 1
	for i := close - 1; i >= 0; i-- {
		switch Command(p[i]) {
		case LoopEnd:
			bal++
		case LoopStart:
			bal--
			if bal == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unopened ']' at offset %d", ErrUnmatchedBracket, close)
}

// Check verifies that all brackets in the program form a properly
// nested, fully matched set. The runtime scans only notice a mismatch
// when a jump is actually taken; Check also condemns programs whose
// broken loop never runs, such as "+[".
func (p Program) Check() error {
	depth := 0
	for i, b := range p {
		switch Command(b) {
		case LoopStart:
			depth++
		case LoopEnd:
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unopened ']' at offset %d", ErrUnmatchedBracket, i)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: %d unclosed '['", ErrUnmatchedBracket, depth)
	}
	return nil
}
