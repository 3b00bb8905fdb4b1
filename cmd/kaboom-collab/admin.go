package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kaboom-collab-backend/pkg/database"
	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/payments"
	"kaboom-collab-backend/pkg/server"
	"kaboom-collab-backend/pkg/utils"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger tables",
		Long:  `migrate applies the schema to the configured Postgres database and verifies the tables exist. The local sqlite store migrates itself when opened.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			log := logging.Named("migrate")

			db, err := database.NewDatabase(server.DatabaseConfig(cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			switch store := db.(type) {
			case *database.PostgresDatabase:
				if err := store.Migrate(ctx); err != nil {
					return err
				}
				missing, err := store.VerifyTables(ctx)
				if err != nil {
					return err
				}
				if len(missing) > 0 {
					return fmt.Errorf("tables missing after migration: %s", strings.Join(missing, ", "))
				}
				log.Info("schema applied", "tables", strings.Join(database.Tables, ", "))
			case *database.LocalDatabase:
				log.Info("local database migrated", "path", cfg.LocalDBPath)
			default:
				return fmt.Errorf("migrations need POSTGRES_DSN; Supabase projects apply the schema through the SQL editor")
			}
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Cancel abandoned incomplete subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				olderThan = cfg.SweepAfter
			}
			db, err := database.NewDatabase(server.DatabaseConfig(cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			bridge := payments.NewBridge(db, server.ProcessorFromConfig(cfg), cfg.StripeCurrency, cfg.PlatformFeePercent)
			n, err := bridge.SweepIncomplete(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			logging.Named("sweep").Info("sweep finished", "removed", n, "older_than", olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum age of an incomplete subscription (default SWEEP_AFTER)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		Long:  `token signs a Supabase-style access token with SUPABASE_JWT_SECRET. It refuses to run in production.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.IsProduction() {
				return fmt.Errorf("token minting is disabled in production")
			}
			token, exp, err := utils.NewJWTService(cfg.JWTSecret).GenerateAccessToken(userID, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			logging.Named("token").Debug("token minted", "user", userID, "expires", time.Unix(exp, 0))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
