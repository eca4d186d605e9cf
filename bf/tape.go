package bf

// Tape is the cell memory of a run: a conceptually infinite sequence of
// byte cells with one movable cursor. Cells materialize lazily, one at
// a time, the first time the cursor reaches them, and keep their
// last-written value for the rest of the run. Offset zero is wherever
// the cursor started.
//
// Storage is two growable slices, one per direction from the origin,
// which gives grow-on-demand in both directions without per-cell
// allocations or index renormalization.
type Tape struct {
	right []byte // cells at offsets 0, 1, 2, ...
	left  []byte // cells at offsets -1, -2, -3, ...
	pos   int    // cursor offset, may be negative
	limit int    // max materialized cells, 0 means unbounded
}

// NewTape returns a tape with only the origin cell materialized. A
// limit greater than zero caps the number of cells the tape may ever
// materialize; moving the cursor beyond that reports ErrOutOfMemory.
func NewTape(limit int) *Tape {
	return &Tape{right: make([]byte, 1), limit: limit}
}

func (t *Tape) cell() *byte {
	if t.pos >= 0 {
		return &t.right[t.pos]
	}
	return &t.left[-t.pos-1]
}

// Value returns the byte under the cursor.
func (t *Tape) Value() byte {
	return *t.cell()
}

// Set overwrites the byte under the cursor.
func (t *Tape) Set(b byte) {
	*t.cell() = b
}

// Increment adds one to the current cell. Cell arithmetic is exactly
// eight bits wide: 255 wraps to 0, and programs rely on it.
func (t *Tape) Increment() {
	*t.cell()++
}

// Decrement subtracts one from the current cell, wrapping 0 to 255.
func (t *Tape) Decrement() {
	*t.cell()--
}

// MoveRight shifts the cursor one cell rightward, materializing a zero
// cell there if none exists yet. The cursor does not move on failure.
func (t *Tape) MoveRight() error {
	if t.pos+1 == len(t.right) {
		if err := t.checkLimit(); err != nil {
			return err
		}
		t.right = append(t.right, 0)
	}
	t.pos++
	return nil
}

// MoveLeft is MoveRight toward negative offsets.
func (t *Tape) MoveLeft() error {
	if -t.pos == len(t.left) {
		if err := t.checkLimit(); err != nil {
			return err
		}
		t.left = append(t.left, 0)
	}
	t.pos--
	return nil
}

func (t *Tape) checkLimit() error {
	if t.limit > 0 && len(t.left)+len(t.right) >= t.limit {
		return ErrOutOfMemory
	}
	return nil
}

// Pos returns the cursor's offset from the origin cell.
func (t *Tape) Pos() int {
	return t.pos
}

// Cells returns how many cells have been materialized so far.
func (t *Tape) Cells() int {
	return len(t.left) + len(t.right)
}

// At reads the cell at the given offset from the origin without moving
// the cursor. Unmaterialized cells read as zero.
func (t *Tape) At(offset int) byte {
	switch {
	case offset >= 0 && offset < len(t.right):
		return t.right[offset]
	case offset < 0 && -offset-1 < len(t.left):
		return t.left[-offset-1]
	}
	return 0
}
