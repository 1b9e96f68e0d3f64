package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Option is a functional option for [NewAdapter].
type Option func(*Adapter)

// WithSerialized makes the adapter hold a mutex around every backend call.
// Use it for runtimes whose sessions are not safe for concurrent Run calls.
func WithSerialized(serialized bool) Option {
	return func(a *Adapter) { a.serialized = serialized }
}

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// WithName sets a backend name used in logs and health output.
func WithName(name string) Option {
	return func(a *Adapter) { a.name = name }
}

// Adapter owns a single [Model] for the lifetime of the process. It is safe for
// concurrent use; a nil *Adapter behaves as an unavailable model.
type Adapter struct {
	model      Model
	name       string
	serialized bool
	log        *slog.Logger

	mu sync.Mutex // held around model.Decode when serialized

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// NewAdapter wraps model. It returns [ErrModelUnavailable] when model is nil,
// which lets constructors pass their (nil, err) result straight through.
func NewAdapter(model Model, opts ...Option) (*Adapter, error) {
	if model == nil {
		return nil, ErrModelUnavailable
	}
	a := &Adapter{model: model, name: "codec", log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Load runs open and wraps the result. Any error from open is reported as
// [ErrModelUnavailable] with the cause attached.
func Load(open func() (Model, error), opts ...Option) (*Adapter, error) {
	m, err := open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return NewAdapter(m, opts...)
}

// Name returns the backend name.
func (a *Adapter) Name() string {
	if a == nil {
		return ""
	}
	return a.name
}

// Ready reports whether a model is loaded and the adapter is not closed.
func (a *Adapter) Ready() bool { return a != nil && a.model != nil && !a.closed.Load() }

// Decode validates codes and runs the backend. Every failure other than
// [ErrModelUnavailable] is returned as a [*DecodeError].
func (a *Adapter) Decode(ctx context.Context, codes Codes) (out []float32, err error) {
	if !a.Ready() {
		return nil, &DecodeError{Reason: ReasonUnavailable, Err: ErrModelUnavailable}
	}
	if err := codes.Validate(); err != nil {
		reason := ReasonShape
		if errors.Is(err, ErrInvalidToken) {
			reason = ReasonInvalidToken
		}
		return nil, &DecodeError{Reason: reason, Err: err}
	}

	if a.serialized {
		a.mu.Lock()
		defer a.mu.Unlock()
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("codec: backend panicked", "backend", a.name, "panic", r)
			out = nil
			err = &DecodeError{Reason: ReasonPanic, Err: fmt.Errorf("%v", r)}
		}
	}()

	out, err = a.model.Decode(ctx, codes)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DecodeError{Reason: ReasonBackend, Err: err}
	}
	return out, nil
}

// Warmup decodes a single all-zero window of the given frame count so that
// runtime initialisation errors surface at startup rather than on the first
// request.
func (a *Adapter) Warmup(ctx context.Context, frames int) error {
	if frames < 1 {
		frames = 1
	}
	_, err := a.Decode(ctx, Codes{
		A: make([]int32, frames*PerFrameA),
		B: make([]int32, frames*PerFrameB),
		C: make([]int32, frames*PerFrameC),
	})
	if err != nil {
		return fmt.Errorf("codec: warmup: %w", err)
	}
	return nil
}

// Close releases the underlying model. It is safe to call more than once.
func (a *Adapter) Close() error {
	if a == nil || a.model == nil {
		return nil
	}
	a.closeOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.closed.Store(true)
		a.closeErr = a.model.Close()
	})
	return a.closeErr
}
