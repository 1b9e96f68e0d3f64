// Package codec defines the boundary between the streaming decoder and the
// neural audio codec that turns three parallel codebook sequences into a
// floating-point waveform.
//
// A [Model] is the raw backend (an ONNX session, a remote sidecar, a test
// double). An [Adapter] wraps exactly one Model for the life of the process and
// is the only thing the decode pipeline talks to. It validates every window
// before the backend sees it, serializes access when the backend is not
// reentrant, and converts every failure into a [*DecodeError] so that a bad
// window never takes the stream down with it.
package codec

import (
	"context"
	"errors"
	"fmt"
)

// MinToken and MaxToken bound the valid token range, inclusive on both ends.
const (
	MinToken = 0
	MaxToken = 4096
)

// Per-frame entry counts for each codebook.
const (
	PerFrameA = 1
	PerFrameB = 2
	PerFrameC = 4
)

var (
	// ErrModelUnavailable is returned when the codec could not be loaded. It is
	// fatal for the whole pipeline and should be reported before any token is
	// requested.
	ErrModelUnavailable = errors.New("codec: model unavailable")

	// ErrInvalidToken is matched by [*InvalidTokenError].
	ErrInvalidToken = errors.New("codec: token out of range")

	// ErrShapeMismatch is returned when the three codebooks do not describe the
	// same number of complete frames.
	ErrShapeMismatch = errors.New("codec: codebook shape mismatch")

	// ErrDecode is matched by [*DecodeError].
	ErrDecode = errors.New("codec: decode failed")
)

// Codes holds one window of deinterleaved codebook values. For n frames, A has
// n entries, B has 2n and C has 4n.
type Codes struct {
	A []int32
	B []int32
	C []int32
}

// Frames returns the number of frames described by c, based on codebook A.
func (c Codes) Frames() int { return len(c.A) / PerFrameA }

// Validate checks the shape and value range of c.
func (c Codes) Validate() error {
	n := c.Frames()
	if n < 1 || len(c.B) != n*PerFrameB || len(c.C) != n*PerFrameC {
		return fmt.Errorf("%w: a=%d b=%d c=%d", ErrShapeMismatch, len(c.A), len(c.B), len(c.C))
	}
	for _, cb := range []struct {
		name string
		vals []int32
	}{{"a", c.A}, {"b", c.B}, {"c", c.C}} {
		for i, v := range cb.vals {
			if v < MinToken || v > MaxToken {
				return &InvalidTokenError{Codebook: cb.name, Index: i, Value: int(v)}
			}
		}
	}
	return nil
}

// InvalidTokenError reports the first out-of-range value found in a window.
type InvalidTokenError struct {
	Codebook string
	Index    int
	Value    int
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("codec: token %d at %s[%d] outside [%d, %d]", e.Value, e.Codebook, e.Index, MinToken, MaxToken)
}

// Is reports whether target is [ErrInvalidToken].
func (e *InvalidTokenError) Is(target error) bool { return target == ErrInvalidToken }

// Reason labels used by [DecodeError] and by decode failure metrics.
const (
	ReasonInvalidToken = "invalid_token"
	ReasonShape        = "shape"
	ReasonBackend      = "backend"
	ReasonPanic        = "panic"
	ReasonShortOutput  = "short_output"
	ReasonUnavailable  = "unavailable"
)

// DecodeError is the soft failure for a single decode attempt. The stream
// carries on after one.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("codec: decode failed (%s)", e.Reason)
	}
	return fmt.Sprintf("codec: decode failed (%s): %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrDecode].
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// ReasonOf returns the DecodeError reason for err, or [ReasonBackend] when err
// does not carry one.
func ReasonOf(err error) string {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ReasonBackend
}

// Model is a loaded neural codec decoder.
//
// Decode must be deterministic for identical inputs and must not mutate model
// weights. Implementations that are not reentrant should say so in their
// documentation so the Adapter can be configured with [WithSerialized].
type Model interface {
	// Decode returns the raw mono waveform for the window, with samples
	// nominally in [-1, 1].
	Decode(ctx context.Context, codes Codes) ([]float32, error)

	// Close releases backend resources.
	Close() error
}
