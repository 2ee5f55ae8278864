package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	whttp "github.com/nextlevelbuilder/walink/internal/http"
	"github.com/nextlevelbuilder/walink/internal/ratelimit"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pairing server and keep linked sessions online",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.watchConfig(resolveConfigPath())

	if cfg.Session.ResumeOnStart {
		if _, err := a.manager.Resume(ctx); err != nil {
			slog.Error("pairing: resume failed", "error", err)
		}
	}

	srv := whttp.NewServer(whttp.Options{
		Pairer:      a.manager,
		Sessions:    a.manager,
		PairTimeout: cfg.PairTimeout(),
		Limiter:     ratelimit.New("code", cfg.Server.RatePerMinute, cfg.Server.RateBurst),
		TrustProxy:  cfg.Server.TrustProxy,
	})
	err = srv.ListenAndServe(ctx, cfg.Addr())
	slog.Info("walink: shutting down")
	return ignoreCanceled(err)
}
