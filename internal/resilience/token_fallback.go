package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/snacstream/pkg/token"
)

// TokenSourceFallback implements [token.Source] with automatic failover
// across several token backends. Each backend has its own circuit breaker.
//
// Only opening the stream is covered by failover; once tokens flow, a
// mid-stream failure is reported by the stream itself because the frames
// already emitted cannot be replayed on another backend.
type TokenSourceFallback struct {
	group *FallbackGroup[token.Source]
	name  string
}

var _ token.Source = (*TokenSourceFallback)(nil)

// NewTokenSourceFallback tries sources in order. A nil cfg.Permanent treats
// request errors such as [token.ErrEmptyPrompt] as permanent.
func NewTokenSourceFallback(sources []token.Source, cfg FallbackConfig) (*TokenSourceFallback, error) {
	if len(sources) == 0 {
		return nil, errors.New("resilience: at least one token source is required")
	}
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool { return errors.Is(err, token.ErrEmptyPrompt) }
	}
	g := NewFallbackGroup(sources[0], sources[0].Name(), cfg)
	for _, s := range sources[1:] {
		g.AddFallback(s.Name(), s)
	}
	name := sources[0].Name()
	if len(sources) > 1 {
		name = "fallback(" + strings.Join(g.Names(), ",") + ")"
	}
	return &TokenSourceFallback{group: g, name: name}, nil
}

// Name implements token.Source.
func (f *TokenSourceFallback) Name() string { return f.name }

// Stream implements token.Source. It opens the stream on the first healthy
// backend.
func (f *TokenSourceFallback) Stream(ctx context.Context, req token.Request) (*token.Stream, error) {
	return ExecuteWithResult(ctx, f.group, func(s token.Source) (*token.Stream, error) {
		return s.Stream(ctx, req)
	})
}

// Ping implements token.Source. It succeeds when any backend answers.
func (f *TokenSourceFallback) Ping(ctx context.Context) error {
	var (
		errs []error
		up   bool
	)
	f.group.Each(func(name string, s token.Source) {
		if up {
			return
		}
		if err := s.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		up = true
	})
	if up {
		return nil
	}
	return errors.Join(errs...)
}

// Sources returns the name of every backend in try order.
func (f *TokenSourceFallback) Sources() []string { return f.group.Names() }

// States returns the breaker state per backend.
func (f *TokenSourceFallback) States() map[string]State { return f.group.States() }
