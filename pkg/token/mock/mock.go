// Package mock provides a test double for the token.Source interface.
//
// Source replays either pre-decoded IDs or raw model text (which goes through
// the real token.Parser), and records every request it receives.
//
// Example:
//
//	src := &mock.Source{IDs: []int{1, 2, 3, 4, 5, 6, 7}}
//	s, _ := src.Stream(ctx, token.Request{Prompt: "hi", Voice: "tara"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/snacstream/pkg/token"
)

// Source is a mock implementation of token.Source.
type Source struct {
	mu sync.Mutex

	// SourceName is returned by Name. Defaults to "mock".
	SourceName string

	// IDs, if set, are streamed verbatim.
	IDs []int

	// Text, if set (and IDs is not), is streamed as model output deltas.
	Text []string

	// OpenErr, if non-nil, is returned from Stream.
	OpenErr error

	// StreamErr is reported by Stream.Err after the tokens are delivered.
	StreamErr error

	// PingErr is returned from Ping.
	PingErr error

	// Requests records every Stream call in order.
	Requests []token.Request

	// PingCalls counts Ping invocations.
	PingCalls int
}

var _ token.Source = (*Source)(nil)

// Name implements token.Source.
func (s *Source) Name() string {
	if s.SourceName == "" {
		return "mock"
	}
	return s.SourceName
}

// Stream implements token.Source.
func (s *Source) Stream(ctx context.Context, req token.Request) (*token.Stream, error) {
	s.mu.Lock()
	s.Requests = append(s.Requests, req)
	openErr, streamErr := s.OpenErr, s.StreamErr
	ids, text := s.IDs, s.Text
	s.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}
	if ids != nil || text == nil {
		return token.FromIDs(ctx, ids, streamErr), nil
	}
	return token.FromText(ctx, func(emit token.Emit) error {
		for _, part := range text {
			if !emit(part) {
				return nil
			}
		}
		return streamErr
	}), nil
}

// Ping implements token.Source.
func (s *Source) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PingCalls++
	return s.PingErr
}

// Calls returns a copy of the recorded requests.
func (s *Source) Calls() []token.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]token.Request, len(s.Requests))
	copy(out, s.Requests)
	return out
}
