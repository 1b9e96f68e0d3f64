package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/snacstream/internal/config"
	"github.com/MrWong99/snacstream/pkg/codec"
	codecmock "github.com/MrWong99/snacstream/pkg/codec/mock"
	"github.com/MrWong99/snacstream/pkg/token"
	tokenmock "github.com/MrWong99/snacstream/pkg/token/mock"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterCodec("mock", func(config.CodecConfig) (codec.Model, error) {
		return &codecmock.Model{}, nil
	})
	r.RegisterTokenSource("fake", func(e config.TokenSourceEntry) (token.Source, error) {
		return &tokenmock.Source{SourceName: e.DisplayName()}, nil
	})

	if _, err := r.CreateCodec(config.CodecConfig{Name: "mock"}); err != nil {
		t.Fatalf("CreateCodec: %v", err)
	}
	if _, err := r.CreateCodec(config.CodecConfig{Name: "onnx"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("got %v, want ErrProviderNotRegistered", err)
	}

	srcs, err := r.CreateTokenSources(config.TokensConfig{
		Primary:   config.TokenSourceEntry{Name: "fake", Label: "a"},
		Fallbacks: []config.TokenSourceEntry{{Name: "fake", Label: "b"}},
	})
	if err != nil {
		t.Fatalf("CreateTokenSources: %v", err)
	}
	if len(srcs) != 2 || srcs[0].Name() != "a" || srcs[1].Name() != "b" {
		t.Errorf("sources = %v", srcs)
	}

	_, err = r.CreateTokenSources(config.TokensConfig{
		Primary:   config.TokenSourceEntry{Name: "fake"},
		Fallbacks: []config.TokenSourceEntry{{Name: "missing"}},
	})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("got %v, want ErrProviderNotRegistered", err)
	}
}
