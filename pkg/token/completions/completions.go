// Package completions implements token.Source against an OpenAI-compatible
// text completions endpoint (POST /v1/completions with stream=true), which is
// what LM Studio, llama.cpp's server and vLLM expose for raw-prompt models
// such as Orpheus.
//
// Typical usage (LM Studio on its default port):
//
//	src, err := completions.New("http://127.0.0.1:1234/v1",
//	    completions.WithModel("orpheus-3b-0.1-ft-q4_k_m"),
//	)
//	s, err := src.Stream(ctx, token.Request{Prompt: "Hello", Voice: "tara"})
package completions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/snacstream/pkg/token"
)

var _ token.Source = (*Source)(nil)

const (
	// DefaultBaseURL is LM Studio's local server.
	DefaultBaseURL = "http://127.0.0.1:1234/v1"

	// DefaultModel is the name LM Studio reports for the quantised Orpheus
	// GGUF build.
	DefaultModel = "orpheus-3b-0.1-ft-q4_k_m"

	// localAPIKey is sent when none is configured; local servers ignore it
	// but the client requires one.
	localAPIKey = "lm-studio"
)

// Source streams Orpheus tokens from a completions endpoint.
type Source struct {
	client oai.Client
	model  string
	name   string
}

type config struct {
	apiKey  string
	model   string
	name    string
	timeout time.Duration
	client  *http.Client
}

// Option is a functional option for [New].
type Option func(*config)

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithModel sets the model name sent with every request.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithName overrides the name reported by Name (used in logs and metrics).
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithTimeout sets an overall HTTP timeout. Streams longer than this are cut
// off, so leave it at zero for long prompts.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.client = hc }
}

// New returns a Source for the completions API at baseURL. An empty baseURL
// selects [DefaultBaseURL].
func New(baseURL string, opts ...Option) (*Source, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg := &config{apiKey: localAPIKey, model: DefaultModel, name: "completions"}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.model == "" {
		return nil, errors.New("completions: model must not be empty")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.apiKey),
		option.WithBaseURL(strings.TrimRight(baseURL, "/") + "/"),
		option.WithMaxRetries(0),
	}
	switch {
	case cfg.client != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.client))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Source{client: oai.NewClient(reqOpts...), model: cfg.model, name: cfg.name}, nil
}

// Name implements token.Source.
func (s *Source) Name() string { return s.name }

// Stream implements token.Source.
func (s *Source) Stream(ctx context.Context, req token.Request) (*token.Stream, error) {
	if req.Prompt == "" {
		return nil, token.ErrEmptyPrompt
	}
	req = req.WithDefaults()

	params := oai.CompletionNewParams{
		Model: oai.CompletionNewParamsModel(s.model),
		Prompt: oai.CompletionNewParamsPromptUnion{
			OfString: oai.String(token.FormatPrompt(req.Voice, req.Prompt)),
		},
		MaxTokens:   oai.Int(int64(req.MaxTokens)),
		Temperature: oai.Float(req.Temperature),
		TopP:        oai.Float(req.TopP),
	}

	stream := s.client.Completions.NewStreaming(ctx, params,
		option.WithJSONSet("repeat_penalty", req.RepeatPenalty),
	)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("completions: start stream: %w", err)
	}

	return token.FromText(ctx, func(emit token.Emit) error {
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if !emit(chunk.Choices[0].Text) {
				return nil
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("completions: stream: %w", err)
		}
		return nil
	}), nil
}

// Ping lists models to check that the server is reachable.
func (s *Source) Ping(ctx context.Context) error {
	if _, err := s.client.Models.List(ctx); err != nil {
		return fmt.Errorf("completions: list models: %w", err)
	}
	return nil
}
