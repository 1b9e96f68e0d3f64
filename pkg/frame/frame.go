// Package frame groups a flat token stream into fixed seven-token frames and
// deinterleaves them into the three codebook sequences the codec expects.
//
// Frame layout (position → codebook):
//
//	0       → A
//	1, 4    → B
//	2,3,5,6 → C
//
// The Assembler is single-owner: one goroutine pushes tokens and takes window
// snapshots. Snapshots are fresh slices, safe to hand to other goroutines.
package frame

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/snacstream/pkg/codec"
)

// Size is the number of tokens in one frame.
const Size = 7

// Codebook identifies which codebook a frame position belongs to.
type Codebook int

const (
	CodebookA Codebook = iota
	CodebookB
	CodebookC
)

func (c Codebook) String() string {
	switch c {
	case CodebookA:
		return "a"
	case CodebookB:
		return "b"
	case CodebookC:
		return "c"
	default:
		return fmt.Sprintf("codebook(%d)", int(c))
	}
}

// Layout maps each frame position to its codebook. Within a codebook, values
// keep their positional order.
var Layout = [Size]Codebook{
	CodebookA,
	CodebookB,
	CodebookC,
	CodebookC,
	CodebookB,
	CodebookC,
	CodebookC,
}

var (
	// ErrPartialFrame is returned by Deinterleave when the input length is not
	// a multiple of Size.
	ErrPartialFrame = errors.New("frame: token count is not a multiple of the frame size")

	// ErrWindowNotReady is returned by Assembler.Window before a full decode
	// window has arrived.
	ErrWindowNotReady = errors.New("frame: decode window not yet available")
)

// ShouldTrigger reports whether a decode should run after total tokens have
// arrived, for a window of windowFrames frames.
func ShouldTrigger(total, windowFrames int) bool {
	return total > 0 && total%Size == 0 && total >= windowFrames*Size
}

// Deinterleave splits whole frames into codebook sequences, earliest frame
// first. Values outside the int32 range are mapped to -1 so that they stay
// invalid for range validation.
func Deinterleave(tokens []int) (codec.Codes, error) {
	if len(tokens) == 0 || len(tokens)%Size != 0 {
		return codec.Codes{}, fmt.Errorf("%w: %d tokens", ErrPartialFrame, len(tokens))
	}
	n := len(tokens) / Size
	codes := codec.Codes{
		A: make([]int32, 0, n*codec.PerFrameA),
		B: make([]int32, 0, n*codec.PerFrameB),
		C: make([]int32, 0, n*codec.PerFrameC),
	}
	for f := range n {
		for pos, cb := range Layout {
			v := narrow(tokens[f*Size+pos])
			switch cb {
			case CodebookA:
				codes.A = append(codes.A, v)
			case CodebookB:
				codes.B = append(codes.B, v)
			case CodebookC:
				codes.C = append(codes.C, v)
			}
		}
	}
	return codes, nil
}

func narrow(v int) int32 {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return -1
	}
	return int32(v)
}
