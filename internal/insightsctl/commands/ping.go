package commands

import (
	"fmt"
	"time"

	"insights/internal/insightsctl/health"

	"github.com/spf13/cobra"
)

func newPingCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping [host:port]",
		Short: "Check that the server answers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			host := health.DefaultHost
			if len(args) == 1 {
				host = args[0]
			}

			if err := health.Check(host, timeout); err != nil {
				return fmt.Errorf("insights is not responding: %w", err)
			}

			fmt.Fprintln(c.OutOrStdout(), "PONG")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "request timeout")

	return cmd
}
