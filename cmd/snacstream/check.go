package main

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/MrWong99/snacstream/internal/app"
	"github.com/MrWong99/snacstream/internal/config"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and probe the codec, token backends and journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			log, level := newLogger(config.LogWarn)
			slog.SetDefault(log)

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			a, err := app.New(cmd.Context(), cfg,
				app.WithRegistry(reg),
				app.WithLogger(log, level),
				app.WithVersion(version),
			)
			if err != nil {
				return err
			}
			defer a.Shutdown(cmd.Context())

			results := a.Health().Run(cmd.Context())
			out := cmd.OutOrStdout()
			failed := 0
			for _, name := range slices.Sorted(maps.Keys(results)) {
				if err := results[name]; err != nil {
					failed++
					fmt.Fprintf(out, "FAIL  %-10s %v\n", name, err)
					continue
				}
				fmt.Fprintf(out, "ok    %s\n", name)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}
}
