// Package token defines where codec tokens come from.
//
// An Orpheus-style language model emits speech as text of the form
// "<custom_token_N>". A [Source] opens a streaming completion for a prompt,
// runs the generated text through a [Parser] and delivers the resulting codec
// token IDs, in order, on a [Stream].
//
// Implementations live in subpackages: completions (OpenAI-compatible
// /v1/completions, e.g. LM Studio) and chat (any chat-completions backend via
// any-llm-go).
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Sampling defaults recommended for Orpheus.
const (
	DefaultMaxTokens     = 1200
	DefaultTemperature   = 0.6
	DefaultTopP          = 0.9
	DefaultRepeatPenalty = 1.1
)

// ErrEmptyPrompt is returned when a Request has no prompt text.
var ErrEmptyPrompt = errors.New("token: prompt must not be empty")

// Request describes one generation.
type Request struct {
	Prompt string
	Voice  string

	MaxTokens     int
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
}

// WithDefaults fills zero sampling fields with the package defaults.
func (r Request) WithDefaults() Request {
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
	if r.TopP == 0 {
		r.TopP = DefaultTopP
	}
	if r.RepeatPenalty == 0 {
		r.RepeatPenalty = DefaultRepeatPenalty
	}
	return r
}

// FormatPrompt wraps prompt in the Orpheus audio prompt template for voice.
func FormatPrompt(voice, prompt string) string {
	return fmt.Sprintf("<|audio|>%s: %s<|eot_id|>", voice, prompt)
}

// Source produces codec token streams.
//
// Stream returns an error only when generation cannot be started (backend
// unreachable, request rejected). Failures after the first byte are reported
// by [Stream.Err] once the token channel has closed.
type Source interface {
	Name() string
	Stream(ctx context.Context, req Request) (*Stream, error)
	Ping(ctx context.Context) error
}

// Stream is a running generation.
type Stream struct {
	tokens chan int
	done   chan struct{}

	mu  sync.Mutex
	err error
}

const streamBuf = 64

// Tokens returns the channel of codec token IDs. It is closed when generation
// ends, fails, or ctx is cancelled.
func (s *Stream) Tokens() <-chan int { return s.tokens }

// Err blocks until the stream has ended and returns the generation error, if
// any. Context cancellation is not reported as an error.
func (s *Stream) Err() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit is the callback a text producer uses to hand generated text to a
// Stream. It returns false once the consumer has gone away.
type Emit func(text string) bool

// FromText starts a Stream fed by produce. produce is called on its own
// goroutine and should call emit for every piece of generated text, returning
// when generation is over. Its return value becomes [Stream.Err].
func FromText(ctx context.Context, produce func(emit Emit) error) *Stream {
	s := newStream()
	go func() {
		defer s.finish()
		var p Parser
		emitTok := func(id int) bool {
			select {
			case s.tokens <- id:
				return true
			case <-ctx.Done():
				return false
			}
		}
		err := produce(func(text string) bool {
			return p.Feed(text, emitTok)
		})
		if err != nil && ctx.Err() == nil {
			s.setErr(err)
		}
	}()
	return s
}

// FromIDs starts a Stream that yields ids verbatim, then err.
func FromIDs(ctx context.Context, ids []int, err error) *Stream {
	s := newStream()
	go func() {
		defer s.finish()
		for _, id := range ids {
			select {
			case s.tokens <- id:
			case <-ctx.Done():
				return
			}
		}
		s.setErr(err)
	}()
	return s
}

func newStream() *Stream {
	return &Stream{
		tokens: make(chan int, streamBuf),
		done:   make(chan struct{}),
	}
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Stream) finish() {
	close(s.tokens)
	close(s.done)
}
