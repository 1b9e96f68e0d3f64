// Package synth turns a text prompt into streamed PCM.
//
// A [Service] ties one token source to one loaded codec: every call to
// [Service.Synthesize] formats the Orpheus prompt, opens a token stream, runs
// it through a fresh [bridge.Bridge] into the caller's sink and records the
// outcome in the journal. The codec and decoder are shared across calls.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/snacstream/internal/journal"
	"github.com/MrWong99/snacstream/internal/observe"
	"github.com/MrWong99/snacstream/pkg/bridge"
	"github.com/MrWong99/snacstream/pkg/codec"
	"github.com/MrWong99/snacstream/pkg/decode"
	"github.com/MrWong99/snacstream/pkg/token"
	"github.com/MrWong99/snacstream/pkg/voice"
)

// ErrNoAudio is returned when a run finished without producing a single
// chunk. It is distinct from a run that produced short audio.
var ErrNoAudio = errors.New("synth: no audio segments were generated")

// ErrSourceUnavailable wraps a failure to open the token stream.
var ErrSourceUnavailable = errors.New("synth: token source unavailable")

// Request is one synthesis job.
type Request struct {
	Prompt string
	// Voice may be empty to use the configured default.
	Voice string
}

// Option configures a [Service].
type Option func(*Service)

// WithJournal records every run in j.
func WithJournal(j journal.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithMetrics feeds decoder and bridge events into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithBridgeOptions passes opts to every bridge the service creates.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(s *Service) { s.bridgeOpts = append(s.bridgeOpts, opts...) }
}

// WithDefaults sets the default voice and sampling parameters. Prompt is
// ignored.
func WithDefaults(d token.Request) Option {
	return func(s *Service) { s.SetDefaults(d) }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// Service synthesizes speech. It is safe for concurrent use.
type Service struct {
	adapter    *codec.Adapter
	source     token.Source
	dec        *decode.Decoder
	cfg        decode.Config
	journal    journal.Journal
	metrics    *observe.Metrics
	bridgeOpts []bridge.Option
	log        *slog.Logger

	defaults atomic.Pointer[token.Request]
}

// New creates a Service decoding with adapter under cfg and pulling tokens
// from source.
func New(adapter *codec.Adapter, source token.Source, cfg decode.Config, opts ...Option) (*Service, error) {
	if adapter == nil {
		return nil, errors.New("synth: codec adapter is required")
	}
	if source == nil {
		return nil, errors.New("synth: token source is required")
	}
	s := &Service{
		adapter: adapter,
		source:  source,
		cfg:     cfg,
		journal: journal.Nop{},
		log:     slog.Default(),
	}
	s.defaults.Store(&token.Request{Voice: voice.Default})
	for _, o := range opts {
		o(s)
	}

	var decOpts []decode.Option
	if s.metrics != nil {
		obs := s.metrics.Pipeline(cfg.SampleRate)
		decOpts = append(decOpts, decode.WithObserver(obs))
		s.bridgeOpts = append([]bridge.Option{bridge.WithObserver(obs)}, s.bridgeOpts...)
	}
	s.bridgeOpts = append([]bridge.Option{bridge.WithLogger(s.log)}, s.bridgeOpts...)

	dec, err := decode.New(adapter, cfg, decOpts...)
	if err != nil {
		return nil, fmt.Errorf("synth: %w", err)
	}
	s.dec = dec
	return s, nil
}

// SetDefaults replaces the default voice and sampling parameters for
// subsequent requests.
func (s *Service) SetDefaults(d token.Request) {
	d.Prompt = ""
	s.defaults.Store(&d)
}

// Defaults returns the current default voice and sampling parameters.
func (s *Service) Defaults() token.Request { return *s.defaults.Load() }

// SampleRate returns the rate of the PCM handed to sinks.
func (s *Service) SampleRate() int { return s.cfg.SampleRate }

// Ready reports whether the codec is loaded.
func (s *Service) Ready() bool { return s.adapter.Ready() }

// Source returns the token source.
func (s *Service) Source() token.Source { return s.source }

// Journal returns the run journal.
func (s *Service) Journal() journal.Journal { return s.journal }

// Resolve validates a requested voice against the catalogue and the current
// default.
func (s *Service) Resolve(name string) (string, error) {
	return voice.Resolve(name, s.Defaults().Voice)
}

// Synthesize streams the audio for req into sink and returns the bridge
// counters.
//
// Request problems ([token.ErrEmptyPrompt], [voice.ErrUnknown]) and an
// unloaded codec ([codec.ErrModelUnavailable]) are reported before any token
// is requested, and in that case sink is never closed. Once the stream is
// open, sink.Close is called exactly once. A transport failure of the token
// source after the stream opened is returned after the decoded audio has been
// delivered. A run that produced no chunks returns [ErrNoAudio].
func (s *Service) Synthesize(ctx context.Context, req Request, sink bridge.Sink) (bridge.Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return bridge.Result{}, token.ErrEmptyPrompt
	}
	if !s.adapter.Ready() {
		return bridge.Result{}, codec.ErrModelUnavailable
	}
	v, err := s.Resolve(req.Voice)
	if err != nil {
		return bridge.Result{}, err
	}

	ctx, span := observe.StartSpan(ctx, "synth.Synthesize", trace.WithAttributes(
		attribute.String("voice", v),
		attribute.String("token_source", s.source.Name()),
		attribute.Int("prompt_chars", len([]rune(req.Prompt))),
	))
	defer span.End()
	log := observe.LoggerFrom(ctx, s.log)

	run := journal.NewRun(v, s.source.Name(), req.Prompt, time.Now())

	tr := s.Defaults()
	tr.Prompt, tr.Voice = req.Prompt, v
	tr = tr.WithDefaults()

	// The producer must stop once the bridge is done, even on a sink error.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.source.Stream(streamCtx, tr)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "token source unavailable")
		s.record(ctx, run.Finish(bridge.Result{}, err, time.Now()))
		return bridge.Result{}, err
	}

	res, err := bridge.New(s.dec, s.bridgeOpts...).Run(ctx, stream.Tokens(), sink)
	cancel()
	if serr := stream.Err(); serr != nil && err == nil {
		err = fmt.Errorf("synth: token stream: %w", serr)
	}
	if err == nil && res.Empty() {
		err = ErrNoAudio
	}

	s.record(ctx, run.Finish(res, err, time.Now()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("synth: run failed", "voice", v, "tokens", res.Tokens, "chunks", res.Chunks, "err", err)
		return res, err
	}
	log.Info("synth: run complete",
		"voice", v,
		"tokens", res.Tokens,
		"chunks", res.Chunks,
		"skipped", res.Skipped,
		"audio", res.Duration(s.cfg.SampleRate),
		"cancelled", res.Cancelled,
	)
	return res, nil
}

func (s *Service) record(ctx context.Context, run journal.Run) {
	if err := s.journal.Record(context.WithoutCancel(ctx), run); err != nil {
		s.log.Warn("synth: journal record failed", "run", run.ID, "err", err)
	}
}
