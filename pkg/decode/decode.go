// Package decode turns trailing frame windows into PCM audio.
//
// A Decoder runs one codec call per trigger, keeps only the interior slice of
// the returned waveform and converts it to 16-bit little-endian PCM. The
// margins on either side of the slice carry convolution edge effects and are
// dropped; they are never re-emitted by a later window.
//
// Per-trigger failures (out-of-range tokens, codec errors, short output) are
// soft: [Decoder.DecodeWindow] returns them as errors, [Decoder.OnBoundary]
// turns them into "no chunk" and reports them to the Observer.
package decode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/snacstream/pkg/codec"
	"github.com/MrWong99/snacstream/pkg/frame"
)

// Defaults for the 24 kHz SNAC decoder.
const (
	DefaultWindowFrames = 4
	DefaultSliceStart   = 2048
	DefaultSliceEnd     = 4096
	DefaultSampleRate   = 24000
)

// BytesPerSample is the width of one mono s16le sample.
const BytesPerSample = 2

// Config holds the windowing tunables. They depend on the codec's receptive
// field and should be validated by ear against the model in use.
type Config struct {
	// WindowFrames is the number of trailing frames decoded per trigger.
	WindowFrames int
	// SliceStart and SliceEnd bound the emitted waveform samples [start, end).
	SliceStart int
	SliceEnd   int
	// SampleRate is the codec's output rate in Hz.
	SampleRate int
}

// DefaultConfig returns the 4-frame window with a [2048, 4096) slice at 24 kHz.
func DefaultConfig() Config {
	return Config{
		WindowFrames: DefaultWindowFrames,
		SliceStart:   DefaultSliceStart,
		SliceEnd:     DefaultSliceEnd,
		SampleRate:   DefaultSampleRate,
	}
}

// Validate checks that the windowing parameters are usable.
func (c Config) Validate() error {
	var errs []error
	if c.WindowFrames < 2 {
		errs = append(errs, fmt.Errorf("decode: window_frames must be at least 2, got %d", c.WindowFrames))
	}
	if c.SliceStart < 0 || c.SliceEnd <= c.SliceStart {
		errs = append(errs, fmt.Errorf("decode: slice [%d, %d) is empty or negative", c.SliceStart, c.SliceEnd))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("decode: sample_rate must be positive, got %d", c.SampleRate))
	}
	return errors.Join(errs...)
}

// SamplesPerChunk is the number of samples in every emitted chunk.
func (c Config) SamplesPerChunk() int { return c.SliceEnd - c.SliceStart }

// BytesPerChunk is the PCM byte length of every emitted chunk.
func (c Config) BytesPerChunk() int { return c.SamplesPerChunk() * BytesPerSample }

// MaxSamples is the most audio, in samples, that frames received frames can
// produce: one chunk per trigger, with triggers at every frame from the
// window-th onwards.
func (c Config) MaxSamples(frames int) int {
	if frames < c.WindowFrames {
		return 0
	}
	return (frames - c.WindowFrames + 1) * c.SamplesPerChunk()
}

// Chunk is one emitted block of PCM.
type Chunk struct {
	// Seq numbers chunks from zero in trigger order.
	Seq int
	// EndToken is the token count at which the trigger fired.
	EndToken int
	// PCM is s16le mono audio.
	PCM []byte
}

// Samples returns the number of samples in c.
func (c Chunk) Samples() int { return len(c.PCM) / BytesPerSample }

// Observer receives decode outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	DecodeSucceeded(ctx context.Context, elapsed time.Duration, samples int)
	DecodeFailed(ctx context.Context, reason string, err error)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) DecodeSucceeded(context.Context, time.Duration, int) {}
func (NopObserver) DecodeFailed(context.Context, string, error)         {}

// Option is a functional option for [New].
type Option func(*Decoder)

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(d *Decoder) {
		if o != nil {
			d.obs = o
		}
	}
}

// Decoder decodes frame windows through a shared codec adapter. It is safe for
// concurrent use; all per-call state is local.
type Decoder struct {
	adapter *codec.Adapter
	cfg     Config
	obs     Observer
}

// New returns a Decoder. It fails with codec.ErrModelUnavailable when adapter
// is not loaded, so a missing model is reported before any stream starts.
func New(adapter *codec.Adapter, cfg Config, opts ...Option) (*Decoder, error) {
	if !adapter.Ready() {
		return nil, codec.ErrModelUnavailable
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Decoder{adapter: adapter, cfg: cfg, obs: NopObserver{}}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Config returns the decoder's windowing configuration.
func (d *Decoder) Config() Config { return d.cfg }

// NewAssembler returns a frame assembler sized for this decoder's window.
func (d *Decoder) NewAssembler() *frame.Assembler {
	return frame.NewAssembler(d.cfg.WindowFrames)
}

// DecodeWindow decodes one window and returns its interior slice as PCM. The
// result depends only on w, so the same window always yields identical bytes.
// Seq is left at zero for the caller to assign.
func (d *Decoder) DecodeWindow(ctx context.Context, w frame.Window) (Chunk, error) {
	start := time.Now()
	wave, err := d.adapter.Decode(ctx, w.Codes)
	if err != nil {
		return Chunk{}, err
	}
	if len(wave) < d.cfg.SliceEnd {
		return Chunk{}, &codec.DecodeError{
			Reason: codec.ReasonShortOutput,
			Err:    fmt.Errorf("waveform has %d samples, slice needs %d", len(wave), d.cfg.SliceEnd),
		}
	}
	pcm := make([]byte, d.cfg.BytesPerChunk())
	FloatToPCM16(pcm, wave[d.cfg.SliceStart:d.cfg.SliceEnd])
	d.obs.DecodeSucceeded(ctx, time.Since(start), d.cfg.SamplesPerChunk())
	return Chunk{EndToken: w.EndToken, PCM: pcm}, nil
}

// OnBoundary decodes the assembler's trailing window if a trigger is due.
// It returns false when no trigger is due or when the attempt failed; failures
// go to the Observer and never to the caller.
func (d *Decoder) OnBoundary(ctx context.Context, a *frame.Assembler) (Chunk, bool) {
	if !a.Availability().WindowReady {
		return Chunk{}, false
	}
	w, err := a.Window()
	if err != nil {
		d.Fail(ctx, err)
		return Chunk{}, false
	}
	c, err := d.DecodeWindow(ctx, w)
	if err != nil {
		d.Fail(ctx, err)
		return Chunk{}, false
	}
	return c, true
}

// Fail reports a swallowed per-trigger error to the observer.
func (d *Decoder) Fail(ctx context.Context, err error) {
	d.obs.DecodeFailed(ctx, codec.ReasonOf(err), err)
}

// FloatToPCM16 writes samples into dst as s16le. Samples are clamped to
// [-1, 1], scaled by 32767 and truncated toward zero. dst must hold at least
// 2*len(samples) bytes.
func FloatToPCM16(dst []byte, samples []float32) {
	for i, s := range samples {
		v := float64(s)
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(int16(v*math.MaxInt16)))
	}
}
