package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/snacstream/internal/app"
	"github.com/MrWong99/snacstream/internal/config"
)

// shutdownTimeout bounds how long the server waits for in-flight requests.
const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and MCP server",
		Long: `Serve exposes /tts, /tts/stream, /tts/ws and (when enabled) /mcp.

The config file is polled for changes; log level, default voice and sampling
parameters apply live, every other section needs a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	log, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	application, err := app.New(ctx, cfg,
		app.WithRegistry(reg),
		app.WithLogger(log, level),
		app.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	if _, statErr := os.Stat(opts.configPath); statErr == nil {
		w, err := config.NewWatcher(opts.configPath, application.ApplyConfig, config.WithWatcherLogger(log))
		if err != nil {
			log.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cmd.ErrOrStderr(), cfg, application)

	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func printStartupSummary(w io.Writer, cfg *config.Config, a *app.App) {
	fmt.Fprintf(w, "snacstream %s\n", version)
	fmt.Fprintf(w, "  listen:  %s\n", cfg.Server.ListenAddr)
	if err := a.CodecErr(); err != nil {
		fmt.Fprintf(w, "  codec:   %s (UNAVAILABLE: %v)\n", cfg.Codec.Name, err)
	} else {
		fmt.Fprintf(w, "  codec:   %s\n", cfg.Codec.Name)
	}
	fmt.Fprintf(w, "  tokens:  %s", cfg.Tokens.Primary.DisplayName())
	for _, f := range cfg.Tokens.Fallbacks {
		fmt.Fprintf(w, " -> %s", f.DisplayName())
	}
	fmt.Fprintln(w)
	if cfg.Journal.PostgresDSN != "" {
		fmt.Fprintln(w, "  journal: postgres")
	}
	if cfg.Server.MCP {
		fmt.Fprintln(w, "  mcp:     /mcp")
	}
}
