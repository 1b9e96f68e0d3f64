// Package mock provides a deterministic test double for the codec.Model
// interface.
//
// Model synthesises a waveform of SamplesPerFrame samples per frame, where
// every sample is a pure function of the window's codes. Identical windows
// always produce identical waveforms and different windows (almost always)
// differ, which is enough for ordering and idempotence tests.
//
// Example:
//
//	m := &mock.Model{}
//	a, _ := codec.NewAdapter(m)
//	wave, err := a.Decode(ctx, codes)
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/snacstream/pkg/codec"
)

// DefaultSamplesPerFrame matches the 24 kHz SNAC decoder: four C codes per
// frame at a hop length of 512.
const DefaultSamplesPerFrame = 2048

// DecodeCall records a single invocation of Decode.
type DecodeCall struct {
	Codes codec.Codes
}

// Model is a mock implementation of codec.Model.
type Model struct {
	mu sync.Mutex

	// SamplesPerFrame overrides the output length per frame. Zero means
	// DefaultSamplesPerFrame.
	SamplesPerFrame int

	// DecodeErr, if non-nil, is returned from every Decode call.
	DecodeErr error

	// FailOn, if set, is consulted per call; a non-nil result is returned as
	// the Decode error.
	FailOn func(codes codec.Codes) error

	// PanicWith, if non-nil, makes Decode panic with this value.
	PanicWith any

	// Delay, if positive, makes Decode sleep (honouring ctx) before returning.
	Delay time.Duration

	// CloseErr is returned from Close.
	CloseErr error

	// DecodeCalls records every call to Decode in order.
	DecodeCalls []DecodeCall

	// CloseCalls counts Close invocations.
	CloseCalls int
}

var _ codec.Model = (*Model)(nil)

// Decode implements codec.Model.
func (m *Model) Decode(ctx context.Context, codes codec.Codes) ([]float32, error) {
	m.mu.Lock()
	m.DecodeCalls = append(m.DecodeCalls, DecodeCall{Codes: codec.Codes{
		A: slices.Clone(codes.A),
		B: slices.Clone(codes.B),
		C: slices.Clone(codes.C),
	}})
	spf := m.SamplesPerFrame
	decodeErr, failOn, panicWith, delay := m.DecodeErr, m.FailOn, m.PanicWith, m.Delay
	m.mu.Unlock()

	if panicWith != nil {
		panic(panicWith)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if failOn != nil {
		if err := failOn(codes); err != nil {
			return nil, err
		}
	}
	if spf <= 0 {
		spf = DefaultSamplesPerFrame
	}
	return Waveform(codes, spf), nil
}

// Close implements codec.Model.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return m.CloseErr
}

// Calls returns a copy of the recorded Decode calls.
func (m *Model) Calls() []DecodeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.DecodeCalls)
}

// Waveform is the synthetic waveform Model returns for codes. Each block of
// samples is driven by one C code, offset by the A and B codes of its frame.
// Values stay inside [-0.9, 0.9].
func Waveform(codes codec.Codes, samplesPerFrame int) []float32 {
	frames := codes.Frames()
	out := make([]float32, frames*samplesPerFrame)
	perC := samplesPerFrame / codec.PerFrameC
	if perC == 0 {
		perC = 1
	}
	for i := range out {
		f := i / samplesPerFrame
		ci := f*codec.PerFrameC + (i%samplesPerFrame)/perC
		if ci >= len(codes.C) {
			ci = len(codes.C) - 1
		}
		seed := int(codes.A[f])*31 + int(codes.B[f*codec.PerFrameB])*7 + int(codes.B[f*codec.PerFrameB+1])*3 + int(codes.C[ci])
		v := float32((seed+i)%1801-900) / 1000
		out[i] = v
	}
	return out
}
