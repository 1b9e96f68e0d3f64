// Package bridge runs the decode pipeline against a live token stream.
//
// A Bridge has three concurrent stages:
//
//   - intake: a single goroutine drains the token channel into a frame
//     assembler, snapshots the trailing window at every trigger and submits
//     it for decoding;
//   - workers: up to N decodes run at once, each on its own window snapshot;
//   - collector: waits on per-trigger result slots in submission order and
//     writes chunks to the Sink.
//
// The result slots travel through a bounded queue, so a slow Sink eventually
// blocks intake instead of dropping audio, and chunks always reach the Sink in
// trigger order no matter which worker finishes first.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/snacstream/pkg/decode"
	"github.com/MrWong99/snacstream/pkg/frame"
)

const (
	defaultWorkers    = 1
	defaultQueueDepth = 4
)

// Sink consumes ordered PCM chunks. WriteChunk is only ever called from one
// goroutine. Close is called exactly once per Run, after the last WriteChunk,
// whether the run succeeded or not.
type Sink interface {
	WriteChunk(ctx context.Context, c decode.Chunk) error
	Close(res Result) error
}

// Result summarises one Run.
type Result struct {
	// Tokens is the number of tokens read from the source.
	Tokens int
	// Triggers is the number of windows submitted for decoding.
	Triggers int
	// Chunks is the number of chunks delivered to the sink.
	Chunks int
	// Skipped is the number of triggers that produced no audio.
	Skipped int
	// Samples and Bytes total the delivered PCM.
	Samples int
	Bytes   int
	// Cancelled is set when the context ended the stream before the source
	// was exhausted.
	Cancelled bool
}

// Frames returns the number of complete frames read from the source.
func (r Result) Frames() int { return r.Tokens / frame.Size }

// Empty reports whether the run produced no audio at all.
func (r Result) Empty() bool { return r.Chunks == 0 }

// Duration returns the delivered audio length at sampleRate.
func (r Result) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(r.Samples) * time.Second / time.Duration(sampleRate)
}

// Observer is notified at the start and end of every Run. Implementations must
// be safe for concurrent use.
type Observer interface {
	StreamStarted(ctx context.Context)
	StreamEnded(ctx context.Context, res Result, err error)
}

type nopObserver struct{}

func (nopObserver) StreamStarted(context.Context)              {}
func (nopObserver) StreamEnded(context.Context, Result, error) {}

// Option is a functional option for [New].
type Option func(*Bridge)

// WithWorkers sets how many windows may be decoded concurrently. Values
// below 1 are ignored.
func WithWorkers(n int) Option {
	return func(b *Bridge) {
		if n >= 1 {
			b.workers = n
		}
	}
}

// WithQueueDepth sets how many triggers may be pending between intake and the
// sink before intake blocks. Values below 1 are ignored.
func WithQueueDepth(n int) Option {
	return func(b *Bridge) {
		if n >= 1 {
			b.depth = n
		}
	}
}

// WithObserver sets the stream observer.
func WithObserver(o Observer) Option {
	return func(b *Bridge) {
		if o != nil {
			b.obs = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// Bridge connects token streams to a Decoder. A single Bridge may serve many
// concurrent Runs; each Run gets its own assembler.
type Bridge struct {
	dec     *decode.Decoder
	workers int
	depth   int
	obs     Observer
	log     *slog.Logger
}

// New returns a Bridge around dec.
func New(dec *decode.Decoder, opts ...Option) *Bridge {
	b := &Bridge{
		dec:     dec,
		workers: defaultWorkers,
		depth:   defaultQueueDepth,
		obs:     nopObserver{},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Decoder returns the underlying decoder.
func (b *Bridge) Decoder() *decode.Decoder { return b.dec }

// outcome is one trigger's decode result, delivered through a slot channel.
type outcome struct {
	chunk decode.Chunk
	end   int
	err   error
}

// Run drains tokens until the channel is closed or ctx is done, and writes
// every decoded chunk to sink in order. Cancellation counts as the end of the
// stream: decodes already submitted still finish and reach the sink, and a
// trailing partial frame is dropped. Per-trigger decode failures are counted in
// Result.Skipped and never end the run. The only errors returned come from the
// sink.
func (b *Bridge) Run(ctx context.Context, tokens <-chan int, sink Sink) (Result, error) {
	b.obs.StreamStarted(ctx)

	var (
		res       Result
		cancelled bool
		asm       = b.dec.NewAssembler()
		slots     = make(chan chan outcome, b.depth)
		pool      errgroup.Group
	)
	pool.SetLimit(b.workers)

	// Submitted work must outlive the caller's cancellation so in-flight
	// windows drain to the sink. gctx only ends when a stage fails.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	g.Go(func() error {
		defer close(slots)
		for {
			var (
				tok int
				ok  bool
			)
			select {
			case <-ctx.Done():
				cancelled = true
				return nil
			case <-gctx.Done():
				return nil
			case tok, ok = <-tokens:
				if !ok {
					return nil
				}
			}

			res.Tokens++
			if !asm.Push(tok).WindowReady {
				continue
			}
			w, err := asm.Window()
			if err != nil {
				b.dec.Fail(ctx, err)
				continue
			}
			slot := make(chan outcome, 1)
			// A snapshotted window is in flight: only a failed stage stops it.
			select {
			case slots <- slot:
			case <-gctx.Done():
				return nil
			}
			res.Triggers++
			pool.Go(func() error {
				c, err := b.dec.DecodeWindow(gctx, w)
				slot <- outcome{chunk: c, end: w.EndToken, err: err}
				return nil
			})
		}
	})

	g.Go(func() error {
		for slot := range slots {
			out := <-slot
			if out.err != nil {
				b.dec.Fail(gctx, out.err)
				res.Skipped++
				b.log.Debug("bridge: trigger produced no audio", "end_token", out.end, "err", out.err)
				continue
			}
			out.chunk.Seq = res.Chunks
			if err := sink.WriteChunk(gctx, out.chunk); err != nil {
				return fmt.Errorf("bridge: write chunk %d: %w", out.chunk.Seq, err)
			}
			res.Chunks++
			res.Samples += out.chunk.Samples()
			res.Bytes += len(out.chunk.PCM)
		}
		return nil
	})

	err := g.Wait()
	_ = pool.Wait()
	res.Cancelled = cancelled

	if cerr := sink.Close(res); cerr != nil && err == nil {
		err = fmt.Errorf("bridge: close sink: %w", cerr)
	}
	b.obs.StreamEnded(ctx, res, err)
	return res, err
}
