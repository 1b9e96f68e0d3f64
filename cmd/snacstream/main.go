// Command snacstream serves Orpheus text-to-speech over HTTP, websocket and
// MCP, decoding SNAC tokens into PCM as they are generated.
//
// Usage:
//
//	snacstream serve  [--config config.yaml]
//	snacstream speak  --text "Hello" [--voice tara] [--out speech.wav]
//	snacstream speak  --tokens tokens.txt --out speech.wav
//	snacstream mcp    [--config config.yaml]
//	snacstream check  [--config config.yaml]
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/snacstream/internal/app"
	"github.com/MrWong99/snacstream/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "snacstream:", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "snacstream",
		Short:         "Streaming Orpheus text-to-speech with a SNAC decoder",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(opts),
		newSpeakCmd(opts),
		newMCPCmd(opts),
		newCheckCmd(opts),
	)
	return root
}

// loadConfig reads the config file. A missing file is only an error when the
// path was given explicitly; otherwise the defaults are used.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found", opts.configPath)
	}
	return nil, err
}

// newLogger returns a text logger on stderr whose level can be changed later
// through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(app.SlogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}
