package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrier-db/quarrier/pool"
)

// ExecCmd runs a single statement against the configured backend and prints
// the decoded rows.
func ExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <sql>",
		Short: "Run one statement and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			rs, err := lease.Conn().Execute(ctx, args[0])
			if err != nil {
				return err
			}
			if len(rs.Fields()) > 0 {
				names := make([]string, len(rs.Fields()))
				for i, f := range rs.Fields() {
					names[i] = f.Name
				}
				cmd.Println(strings.Join(names, "\t"))
			}
			for _, row := range rs.Rows() {
				cells := make([]string, len(row))
				for i, v := range row {
					cells[i] = v.String()
				}
				cmd.Println(strings.Join(cells, "\t"))
			}
			cmd.Println(fmt.Sprintf("-- %s (%d rows)", rs.CommandTag(), rs.Len()))
			return nil
		},
	}
}
