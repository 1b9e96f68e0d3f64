// Package chat implements token.Source on top of a chat-completions backend
// through github.com/mozilla-ai/any-llm-go. The formatted Orpheus prompt is
// sent as a single user message; the streamed delta content is parsed for
// custom tokens exactly like raw completions output.
//
// This suits servers that only expose /v1/chat/completions for an Orpheus
// build (llama.cpp server, Ollama, hosted OpenAI-compatible gateways).
//
// Only max_tokens and temperature are forwarded; chat backends apply their own
// top_p and repetition penalty.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/snacstream/pkg/token"
)

var _ token.Source = (*Source)(nil)

// Source streams Orpheus tokens from a chat-completions backend.
type Source struct {
	backend anyllmlib.Provider
	model   string
	name    string
}

// New creates a Source for the named any-llm-go backend ("llamacpp",
// "ollama" or "openai"). opts are any-llm-go options such as
// anyllmlib.WithBaseURL and anyllmlib.WithAPIKey.
func New(backendName, model string, opts ...anyllmlib.Option) (*Source, error) {
	if model == "" {
		return nil, errors.New("chat: model must not be empty")
	}
	var (
		backend anyllmlib.Provider
		err     error
	)
	switch strings.ToLower(backendName) {
	case "llamacpp", "":
		backend, err = llamacpp.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	case "openai":
		backend, err = anyllmoai.New(opts...)
	default:
		return nil, fmt.Errorf("chat: unsupported backend %q; supported: llamacpp, ollama, openai", backendName)
	}
	if err != nil {
		return nil, fmt.Errorf("chat: create %q backend: %w", backendName, err)
	}
	return NewWithBackend(backend, model, "chat/"+strings.ToLower(backendName)), nil
}

// NewWithBackend wraps an already constructed backend.
func NewWithBackend(backend anyllmlib.Provider, model, name string) *Source {
	return &Source{backend: backend, model: model, name: name}
}

// Name implements token.Source.
func (s *Source) Name() string { return s.name }

// Renamed returns a copy of s that reports name from Name.
func (s *Source) Renamed(name string) *Source {
	c := *s
	c.name = name
	return &c
}

// Stream implements token.Source.
func (s *Source) Stream(ctx context.Context, req token.Request) (*token.Stream, error) {
	if req.Prompt == "" {
		return nil, token.ErrEmptyPrompt
	}
	req = req.WithDefaults()
	params := s.params(token.FormatPrompt(req.Voice, req.Prompt), req.MaxTokens, req.Temperature)

	// The backend error channel only reports after the chunk channel drains,
	// so wait for the first chunk (or failure) before declaring the stream open.
	chunks, errs := s.backend.CompletionStream(ctx, params)
	first, ok := <-chunks
	if !ok {
		if err := <-errs; err != nil {
			return nil, fmt.Errorf("chat: start stream: %w", err)
		}
	}

	return token.FromText(ctx, func(emit token.Emit) error {
		if !ok {
			// Empty stream; errs was already drained above.
			return nil
		}
		if len(first.Choices) > 0 && !emit(first.Choices[0].Delta.Content) {
			return nil
		}
		for chunk := range chunks {
			if len(chunk.Choices) > 0 && !emit(chunk.Choices[0].Delta.Content) {
				return nil
			}
		}
		if err := <-errs; err != nil {
			return fmt.Errorf("chat: stream: %w", err)
		}
		return nil
	}), nil
}

// Ping runs a one-token completion to check that the backend answers.
func (s *Source) Ping(ctx context.Context) error {
	if _, err := s.backend.Completion(ctx, s.params("ping", 1, 0)); err != nil {
		return fmt.Errorf("chat: ping: %w", err)
	}
	return nil
}

func (s *Source) params(prompt string, maxTokens int, temperature float64) anyllmlib.CompletionParams {
	p := anyllmlib.CompletionParams{
		Model: s.model,
		Messages: []anyllmlib.Message{{
			Role:    anyllmlib.RoleUser,
			Content: prompt,
		}},
	}
	if maxTokens > 0 {
		p.MaxTokens = &maxTokens
	}
	if temperature != 0 {
		p.Temperature = &temperature
	}
	return p
}
