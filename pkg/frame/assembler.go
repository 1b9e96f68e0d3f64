package frame

import "github.com/MrWong99/snacstream/pkg/codec"

// Availability is what Push reports about the stream after each token.
type Availability struct {
	// Total is the number of tokens pushed so far.
	Total int
	// Boundary is true when Total is a whole number of frames.
	Boundary bool
	// WindowReady is true when Boundary holds and at least one full decode
	// window has arrived.
	WindowReady bool
}

// Window is a snapshot of the trailing decode window.
type Window struct {
	Codes codec.Codes
	// EndToken is the stream position (token count) the window ends at.
	EndToken int
}

// Frames returns the number of complete frames received.
func (a Availability) Frames() int { return a.Total / Size }

// Assembler accumulates tokens for one stream. It retains only enough history
// to rebuild the trailing decode window: once the buffer reaches twice the
// window length it is compacted down to the last window.
type Assembler struct {
	window int // frames per decode window
	buf    []int
	total  int
}

// NewAssembler returns an Assembler for decode windows of windowFrames
// frames. Values below 1 are treated as 1.
func NewAssembler(windowFrames int) *Assembler {
	if windowFrames < 1 {
		windowFrames = 1
	}
	return &Assembler{
		window: windowFrames,
		buf:    make([]int, 0, 2*windowFrames*Size),
	}
}

// WindowFrames returns the configured window size in frames.
func (a *Assembler) WindowFrames() int { return a.window }

// Push appends one token and reports frame availability.
func (a *Assembler) Push(tok int) Availability {
	if len(a.buf) == cap(a.buf) {
		keep := a.window * Size
		n := copy(a.buf, a.buf[len(a.buf)-keep:])
		a.buf = a.buf[:n]
	}
	a.buf = append(a.buf, tok)
	a.total++
	return a.Availability()
}

// Availability reports the current state without pushing.
func (a *Assembler) Availability() Availability {
	return Availability{
		Total:       a.total,
		Boundary:    a.total%Size == 0,
		WindowReady: ShouldTrigger(a.total, a.window),
	}
}

// Total returns the number of tokens pushed so far.
func (a *Assembler) Total() int { return a.total }

// Retained returns the number of tokens currently held in memory.
func (a *Assembler) Retained() int { return len(a.buf) }

// Window returns the codebook sequences for the trailing window of frames. It
// fails with ErrWindowNotReady unless the stream sits on a frame boundary with
// at least one full window available.
func (a *Assembler) Window() (Window, error) {
	if !ShouldTrigger(a.total, a.window) {
		return Window{}, ErrWindowNotReady
	}
	n := a.window * Size
	codes, err := Deinterleave(a.buf[len(a.buf)-n:])
	if err != nil {
		return Window{}, err
	}
	return Window{Codes: codes, EndToken: a.total}, nil
}

// Reset discards all state so the Assembler can be reused for a new stream.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	a.total = 0
}
