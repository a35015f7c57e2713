package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/kioku/common/version"
	"github.com/bdobrica/kioku/internal/kioku/app"
	"github.com/bdobrica/kioku/internal/kioku/config"
)

var (
	// Global flags
	configPath string

	cfg     config.Config
	logger  *slog.Logger
	cleanup func() error
)

var rootCmd = &cobra.Command{
	Use:   "kioku",
	Short: "Conversational memory for chat assistants",
	Long: `Kioku logs conversation turns, summarises them in the background,
embeds everything for semantic recall, and stores confirmed long-term memories.

Configuration is read from an optional YAML file and KIOKU_* environment
variables, which take precedence.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, cleanup, err = cfg.Log.Logger()
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cleanup != nil {
			if err := cleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "kioku "+version.Info())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to a YAML config file")
	rootCmd.AddCommand(versionCmd, configCmd, serveCmd, migrateCmd, searchCmd, backlogCmd, reindexCmd, summariseCmd, memoriesCmd)
}

// openApp builds the application without starting any background work.
func openApp() (*app.App, error) {
	a, err := app.New(cfg, app.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("initialize kioku: %w", err)
	}
	return a, nil
}
