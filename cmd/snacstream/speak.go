package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/snacstream/internal/app"
	"github.com/MrWong99/snacstream/internal/config"
	"github.com/MrWong99/snacstream/internal/synth"
	"github.com/MrWong99/snacstream/pkg/audio"
	"github.com/MrWong99/snacstream/pkg/token"
)

type speakOptions struct {
	text   string
	voice  string
	out    string
	tokens string
}

func newSpeakCmd(root *rootOptions) *cobra.Command {
	opts := &speakOptions{}
	cmd := &cobra.Command{
		Use:   "speak",
		Short: "Synthesize text into a WAV file",
		Long: `Speak runs one synthesis and writes a 16-bit mono WAV file.

With --tokens the configured token backend is bypassed and the file is
replayed instead. It may hold raw model output (<custom_token_N> tags) or
already decoded codec ids separated by whitespace or commas.`,
		Example: `  snacstream speak --text "Hello there" --voice leo --out hello.wav
  snacstream speak --tokens capture.txt --out capture.wav --config mock.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSpeak(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.text, "text", "t", "", "text to speak")
	f.StringVarP(&opts.voice, "voice", "v", "", "voice name (default from config)")
	f.StringVarP(&opts.out, "out", "o", "speech.wav", "output WAV path")
	f.StringVar(&opts.tokens, "tokens", "", "replay tokens from this file instead of calling the backend")
	return cmd
}

func runSpeak(cmd *cobra.Command, root *rootOptions, opts *speakOptions) error {
	if opts.text == "" && opts.tokens == "" {
		return errors.New("one of --text or --tokens is required")
	}
	cfg, err := loadConfig(cmd, root)
	if err != nil {
		return err
	}
	log, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	appOpts := []app.Option{
		app.WithRegistry(reg),
		app.WithLogger(log, level),
		app.WithVersion(version),
	}
	prompt := opts.text
	if opts.tokens != "" {
		src, err := loadReplay(opts.tokens)
		if err != nil {
			return err
		}
		appOpts = append(appOpts, app.WithTokenSource(src))
		if prompt == "" {
			prompt = "replay"
		}
	}

	a, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer a.Shutdown(context.WithoutCancel(ctx))

	svc := a.Service()
	if svc == nil {
		return fmt.Errorf("codec unavailable: %w", a.CodecErr())
	}

	f, err := os.Create(opts.out)
	if err != nil {
		return err
	}
	res, err := svc.Synthesize(ctx, synth.Request{Prompt: prompt, Voice: opts.voice}, audio.NewWAVSink(f, svc.SampleRate()))
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		if res.Empty() {
			_ = os.Remove(opts.out)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d chunks, %s of audio\n",
		opts.out, res.Chunks, res.Duration(svc.SampleRate()))
	return nil
}

// replaySource is a token.Source that serves the same recorded tokens for
// every request.
type replaySource struct {
	name string
	text string
	ids  []int
}

var _ token.Source = (*replaySource)(nil)

// loadReplay reads a token capture. Files containing custom token tags are
// parsed like live model output; anything else must be a list of integers.
func loadReplay(path string) (*replaySource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseReplay("replay:"+path, string(raw))
}

func parseReplay(name, content string) (*replaySource, error) {
	if strings.Contains(content, "<custom_token_") {
		return &replaySource{name: name, text: content}, nil
	}
	fields := strings.FieldsFunc(content, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	ids := make([]int, 0, len(fields))
	for _, fld := range fields {
		id, err := strconv.Atoi(fld)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %q is not a token id", name, fld)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("replay %s: no tokens", name)
	}
	return &replaySource{name: name, ids: ids}, nil
}

func (r *replaySource) Name() string { return r.name }

func (r *replaySource) Stream(ctx context.Context, req token.Request) (*token.Stream, error) {
	if req.Prompt == "" {
		return nil, token.ErrEmptyPrompt
	}
	if r.ids != nil {
		return token.FromIDs(ctx, r.ids, nil), nil
	}
	return token.FromText(ctx, func(emit token.Emit) error {
		emit(r.text)
		return nil
	}), nil
}

func (r *replaySource) Ping(context.Context) error { return nil }
