package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"library-backend/internal/platform/config"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/logger"
	"library-backend/internal/platform/telemetry"
	"library-backend/internal/server"
)

type loadFunc func() (*config.Config, error)

func newServeCmd(load loadFunc) *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTP サーバを起動する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "起動前にマイグレーションを適用する")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, autoMigrate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Setup(cfg.Log)
	log.Info("starting", "mode", cfg.Mode, "version", cfg.Version, "db_driver", cfg.DB.Driver)

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("telemetry shutdown", "err", err)
		}
	}()

	conn, dialect, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info("connected to DB", "driver", dialect)

	if autoMigrate {
		if err := db.Migrate(ctx, conn, dialect); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.New(cfg, conn, dialect, log),
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cert := cfg.HTTP.Certificate; cert.Cert != "" {
			log.Info("listening (TLS)", "addr", cfg.HTTP.Addr)
			err = srv.ListenAndServeTLS(cert.Cert, cert.Key)
		} else {
			log.Info("listening", "addr", cfg.HTTP.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
