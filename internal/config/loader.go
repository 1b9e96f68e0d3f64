package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/snacstream/pkg/decode"
	"github.com/MrWong99/snacstream/pkg/token"
	"github.com/MrWong99/snacstream/pkg/voice"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = ":5001"
	DefaultPortAttempts = 5
	DefaultCodec        = "onnx"
	DefaultTokenSource  = "completions"
	DefaultWorkers      = 1
	DefaultQueueDepth   = 4
)

// ValidCodecNames and ValidTokenSourceNames list the built-in factory names.
// Used by [Validate] to warn about unrecognised names.
var (
	ValidCodecNames       = []string{"onnx", "remote", "mock"}
	ValidTokenSourceNames = []string{"completions", "chat"}
	ValidChatBackends     = []string{"llamacpp", "ollama", "openai"}
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes is [LoadFromReader] over an in-memory document.
func LoadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field with its default. The PORT
// environment variable overrides the default listen address.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
		if p := os.Getenv("PORT"); p != "" {
			cfg.Server.ListenAddr = ":" + p
		}
	}
	if cfg.Server.PortAttempts <= 0 {
		cfg.Server.PortAttempts = DefaultPortAttempts
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Codec.Name == "" {
		cfg.Codec.Name = DefaultCodec
	}

	if cfg.Tokens.Primary.Name == "" {
		cfg.Tokens.Primary.Name = DefaultTokenSource
	}
	if cfg.Tokens.MaxTokens == 0 {
		cfg.Tokens.MaxTokens = token.DefaultMaxTokens
	}
	if cfg.Tokens.Temperature == 0 {
		cfg.Tokens.Temperature = token.DefaultTemperature
	}
	if cfg.Tokens.TopP == 0 {
		cfg.Tokens.TopP = token.DefaultTopP
	}
	if cfg.Tokens.RepeatPenalty == 0 {
		cfg.Tokens.RepeatPenalty = token.DefaultRepeatPenalty
	}
	if cfg.Tokens.DefaultVoice == "" {
		cfg.Tokens.DefaultVoice = voice.Default
	}

	def := decode.DefaultConfig()
	if cfg.Decoder.WindowFrames == 0 {
		cfg.Decoder.WindowFrames = def.WindowFrames
	}
	if cfg.Decoder.SliceStart == 0 && cfg.Decoder.SliceEnd == 0 {
		cfg.Decoder.SliceStart = def.SliceStart
		cfg.Decoder.SliceEnd = def.SliceEnd
	}
	if cfg.Decoder.SampleRate == 0 {
		cfg.Decoder.SampleRate = def.SampleRate
	}

	if cfg.Bridge.Workers == 0 {
		cfg.Bridge.Workers = DefaultWorkers
	}
	if cfg.Bridge.QueueDepth == 0 {
		cfg.Bridge.QueueDepth = DefaultQueueDepth
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Codec
	warnUnknownName("codec", cfg.Codec.Name, ValidCodecNames)
	switch cfg.Codec.Name {
	case "onnx":
		if cfg.Codec.ModelPath == "" {
			errs = append(errs, errors.New("codec.model_path is required for the onnx codec"))
		}
	case "remote":
		if cfg.Codec.BaseURL == "" {
			errs = append(errs, errors.New("codec.base_url is required for the remote codec"))
		}
	}
	if cfg.Codec.Threads < 0 {
		errs = append(errs, fmt.Errorf("codec.threads %d must not be negative", cfg.Codec.Threads))
	}

	// Token sources
	labels := make(map[string]string)
	entries := append([]TokenSourceEntry{cfg.Tokens.Primary}, cfg.Tokens.Fallbacks...)
	for i, e := range entries {
		prefix := "tokens.primary"
		if i > 0 {
			prefix = fmt.Sprintf("tokens.fallbacks[%d]", i-1)
		}
		errs = append(errs, validateTokenSource(prefix, e)...)
		if name := e.DisplayName(); name != "" {
			if prev, ok := labels[name]; ok {
				errs = append(errs, fmt.Errorf("%s: label %q is a duplicate of %s; set label to tell them apart", prefix, name, prev))
			}
			labels[name] = prefix
		}
	}
	if cfg.Tokens.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("tokens.max_tokens %d must not be negative", cfg.Tokens.MaxTokens))
	}
	if t := cfg.Tokens.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("tokens.temperature %.2f is out of range [0, 2]", t))
	}
	if p := cfg.Tokens.TopP; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("tokens.top_p %.2f is out of range [0, 1]", p))
	}
	if cfg.Tokens.RepeatPenalty < 0 {
		errs = append(errs, fmt.Errorf("tokens.repeat_penalty %.2f must not be negative", cfg.Tokens.RepeatPenalty))
	}
	if v := cfg.Tokens.DefaultVoice; v != "" {
		if _, err := voice.Resolve(v, ""); err != nil {
			errs = append(errs, fmt.Errorf("tokens.default_voice: %w", err))
		}
	}

	// Decoder
	if err := cfg.Decoder.DecodeConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("decoder: %w", err))
	}

	// Bridge
	if cfg.Bridge.Workers < 0 {
		errs = append(errs, fmt.Errorf("bridge.workers %d must not be negative", cfg.Bridge.Workers))
	}
	if cfg.Bridge.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("bridge.queue_depth %d must not be negative", cfg.Bridge.QueueDepth))
	}

	// Journal
	if cfg.Journal.PostgresDSN == "" {
		slog.Debug("journal.postgres_dsn is empty; synthesis runs will not be recorded")
	}
	if cfg.Journal.Retention < 0 {
		errs = append(errs, errors.New("journal.retention must not be negative"))
	}

	return errors.Join(errs...)
}

func validateTokenSource(prefix string, e TokenSourceEntry) []error {
	var errs []error
	if e.Name == "" {
		return append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	warnUnknownName("token source", e.Name, ValidTokenSourceNames)
	if e.Name == "chat" {
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for chat sources", prefix))
		}
		if e.Backend != "" && !slices.Contains(ValidChatBackends, strings.ToLower(e.Backend)) {
			errs = append(errs, fmt.Errorf("%s.backend %q is invalid; valid values: %s", prefix, e.Backend, strings.Join(ValidChatBackends, ", ")))
		}
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
	}
	return errs
}

// warnUnknownName logs a warning if name is non-empty and not in known.
func warnUnknownName(kind, name string, known []string) {
	if name == "" || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown factory name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
