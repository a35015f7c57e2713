package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/kioku/common/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory service",
	Long: `Run the memory service: the embedding hook and status endpoints over
HTTP, the background summary runner, and the Matrix bot when a homeserver is
configured.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("starting kioku",
			"version", version.Version,
			"commit", version.GitCommit,
			"build_time", version.BuildTime,
		)

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Stop()

		return a.Run(ctx)
	},
}
