package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/snacstream/internal/app"
	"github.com/MrWong99/snacstream/internal/config"
	"github.com/MrWong99/snacstream/internal/mcpserver"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the speak tool over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs stay on stderr.
			log, level := newLogger(cfg.Server.LogLevel)
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			a, err := app.New(ctx, cfg,
				app.WithRegistry(reg),
				app.WithLogger(log, level),
				app.WithVersion(version),
			)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer a.Shutdown(cmd.Context())

			srv := a.MCPServer()
			if srv == nil {
				return fmt.Errorf("codec unavailable: %w", a.CodecErr())
			}
			if err := mcpserver.RunStdio(ctx, srv); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}
