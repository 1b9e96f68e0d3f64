package main

import (
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/snacstream/internal/config"
	"github.com/MrWong99/snacstream/pkg/codec"
	codecmock "github.com/MrWong99/snacstream/pkg/codec/mock"
	"github.com/MrWong99/snacstream/pkg/codec/onnx"
	"github.com/MrWong99/snacstream/pkg/codec/remote"
	"github.com/MrWong99/snacstream/pkg/token"
	"github.com/MrWong99/snacstream/pkg/token/chat"
	"github.com/MrWong99/snacstream/pkg/token/completions"
)

// registerBuiltinProviders wires every codec and token source that ships
// with snacstream into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterCodec("onnx", func(c config.CodecConfig) (codec.Model, error) {
		var opts []onnx.Option
		if c.LibraryPath != "" {
			opts = append(opts, onnx.WithLibraryPath(c.LibraryPath))
		}
		if c.Threads > 0 {
			opts = append(opts, onnx.WithThreads(c.Threads))
		}
		m, err := onnx.New(c.ModelPath, opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
	reg.RegisterCodec("remote", func(c config.CodecConfig) (codec.Model, error) {
		var opts []remote.Option
		if c.Timeout > 0 {
			opts = append(opts, remote.WithTimeout(c.Timeout))
		}
		m, err := remote.New(c.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
	// The mock codec produces a synthetic tone; it is useful for wiring tests
	// without model weights.
	reg.RegisterCodec("mock", func(config.CodecConfig) (codec.Model, error) {
		return &codecmock.Model{}, nil
	})

	reg.RegisterTokenSource("completions", func(e config.TokenSourceEntry) (token.Source, error) {
		opts := []completions.Option{completions.WithName(e.DisplayName())}
		if e.APIKey != "" {
			opts = append(opts, completions.WithAPIKey(e.APIKey))
		}
		if e.Model != "" {
			opts = append(opts, completions.WithModel(e.Model))
		}
		src, err := completions.New(e.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		// The HTTP client timeout would surface as a stream error; a context
		// deadline ends the stream cleanly instead.
		return token.WithTimeout(src, e.Timeout), nil
	})
	reg.RegisterTokenSource("chat", func(e config.TokenSourceEntry) (token.Source, error) {
		var opts []anyllmlib.Option
		if e.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
		}
		if e.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
		}
		src, err := chat.New(e.Backend, e.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("chat backend %q: %w", e.Backend, err)
		}
		if e.Label != "" {
			src = src.Renamed(e.Label)
		}
		return token.WithTimeout(src, e.Timeout), nil
	})
}
