package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/dictate/internal/audio"
	"github.com/audiolibrelab/dictate/internal/config"
	"github.com/audiolibrelab/dictate/internal/server"
	"github.com/audiolibrelab/dictate/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dictation daemon with a local HTTP API",
	Long: `Start dictate as a long running daemon. Bind a global hotkey of your
desktop environment to 'curl -X POST http://127.0.0.1:7465/toggle' to start
and stop dictation from any application.

Changes to recording.max_duration in the config file are applied without a
restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Service.Listen
		}

		svc, err := service.New(cfg)
		if err != nil {
			return err
		}
		defer closeService(svc)

		store := config.NewStore(cfg.File)
		opts := []server.Option{server.WithStore(store), server.WithListen(listen)}
		if backend, err := audio.NewBackend(cfg); err == nil {
			opts = append(opts, server.WithSources(backend))
		} else {
			slog.Warn("Source listing disabled", "error", err)
		}
		srv := server.New(svc, cfg, opts...)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			err := store.Watch(ctx, func(updated *config.Config) {
				slog.Info("Config file changed, applying", "file", store.File())
				svc.ApplyConfig(updated)
			})
			if err != nil {
				// Hot reload is optional, keep serving
				slog.Warn("Config watch stopped", "error", err)
			}
			return nil
		})

		slog.Info("dictate daemon running", "listen", listen, "config", cfg.File, "max_duration", cfg.Recording.MaxDuration)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		slog.Info("dictate daemon stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "address for the HTTP API (overrides service.listen)")
}
