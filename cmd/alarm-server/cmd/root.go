package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/smart-alarm/internal/config"
	"github.com/oshokin/smart-alarm/internal/service/server"
	"github.com/oshokin/smart-alarm/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// databasePath where users and alarms are persisted.
	databasePath string

	// rootCmd represents the base command for running the alarm server.
	rootCmd = &cobra.Command{
		Use:   "alarm-server [listen-address]",
		Short: "Run the smart alarm server.",
		Long: `Starts the smart alarm server: the scheduler that triggers and expires
alarms, the HTTP API the confirmation device polls, and the Telegram bot
used to schedule alarms and receive QR codes.

The server listens on the address from the configuration file unless a
listen address argument overrides it (e.g., :8000, 0.0.0.0:9000).
Users and alarms are persisted to a SQLite database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				DatabasePath:  databasePath,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the alarm-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&databasePath, "database", "d", "", "path to the SQLite database (overrides config)")
}
