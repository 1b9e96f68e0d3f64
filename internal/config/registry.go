package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/snacstream/pkg/codec"
	"github.com/MrWong99/snacstream/pkg/token"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps codec and token source names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]func(CodecConfig) (codec.Model, error)
	tokens map[string]func(TokenSourceEntry) (token.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		codecs: make(map[string]func(CodecConfig) (codec.Model, error)),
		tokens: make(map[string]func(TokenSourceEntry) (token.Source, error)),
	}
}

// RegisterCodec registers a codec model factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCodec(name string, factory func(CodecConfig) (codec.Model, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[name] = factory
}

// RegisterTokenSource registers a token source factory under name.
func (r *Registry) RegisterTokenSource(name string, factory func(TokenSourceEntry) (token.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[name] = factory
}

// CreateCodec instantiates a codec model using the factory registered under
// cfg.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateCodec(cfg CodecConfig) (codec.Model, error) {
	r.mu.RLock()
	factory, ok := r.codecs[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: codec/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateTokenSource instantiates a token source using the factory registered
// under entry.Name.
func (r *Registry) CreateTokenSource(entry TokenSourceEntry) (token.Source, error) {
	r.mu.RLock()
	factory, ok := r.tokens[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tokens/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTokenSources instantiates the primary source followed by every
// fallback, in configuration order.
func (r *Registry) CreateTokenSources(cfg TokensConfig) ([]token.Source, error) {
	entries := append([]TokenSourceEntry{cfg.Primary}, cfg.Fallbacks...)
	out := make([]token.Source, 0, len(entries))
	for _, e := range entries {
		s, err := r.CreateTokenSource(e)
		if err != nil {
			return nil, fmt.Errorf("config: token source %q: %w", e.DisplayName(), err)
		}
		out = append(out, s)
	}
	return out, nil
}
