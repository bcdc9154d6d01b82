package cli

import (
	"github.com/spf13/cobra"

	"github.com/quarrier-db/quarrier/pkg/logger"
	"github.com/quarrier-db/quarrier/pool"
)

// PingCmd builds a pool from QUARRIER_* environment variables, runs SELECT 1
// on a leased connection, and tears the pool back down.
func PingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Verify the configured backend is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := pool.LoadConfig()
			if err != nil {
				return err
			}
			p, err := pool.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			lease, err := p.Acquire(ctx)
			if err != nil {
				return err
			}
			defer lease.Release()

			val, err := lease.Conn().FetchVal(ctx, "SELECT 1")
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Info("backend is reachable",
				"pool", cfg.Label, "host", cfg.Host, "database", cfg.Database, "result", val.Int())
			return nil
		},
	}
}
