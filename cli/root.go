// Package cli wires the quarrier command line: small operational commands
// for checking a backend and running one-off statements through the engine.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/quarrier-db/quarrier/pkg/logger"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quarrier",
		Short: "quarrier PostgreSQL client engine",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
			if err != nil {
				return err
			}
			logger.SetupLogger(logLevel, logJSON, logSource)
			return nil
		},
	}
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	root.PersistentFlags().Bool("log-source", false, "include source locations in logs")

	root.AddCommand(
		PingCmd(),
		ExecCmd(),
	)

	return root
}
