package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"kaboom-collab-backend/pkg/config"
	"kaboom-collab-backend/pkg/logging"
)

// cfg is loaded once the command line has been parsed.
var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:           "kaboom-collab",
		Short:         "Kaboom Collab room admission backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			logging.SetLevel(cfg.LogLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().AddFlagSet(config.FlagSet())
	rootCmd.AddCommand(serveCmd(), migrateCmd(), sweepCmd(), tokenCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logging.AppLogger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
