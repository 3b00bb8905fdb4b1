package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/payments"
	"kaboom-collab-backend/pkg/server"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  `serve starts the API server, the notification workers and the incomplete-subscription sweeper.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			log := logging.Named("serve")

			db, err := database.NewDatabase(server.DatabaseConfig(cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			app := server.NewApp(cfg, db, server.ProcessorFromConfig(cfg), server.MailerFromConfig(cfg))
			defer app.Close()

			sweeper, err := payments.StartSweeper(app.Bridge, cfg.SweepSchedule, cfg.SweepAfter)
			switch {
			case errors.Is(err, payments.ErrNotConfigured):
				log.Info("subscription sweeper disabled, no payment processor configured")
			case err != nil:
				return err
			default:
				defer sweeper.Stop()
			}

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           app.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", "addr", srv.Addr, "environment", cfg.Environment)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
