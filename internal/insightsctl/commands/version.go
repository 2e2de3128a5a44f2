package commands

import (
	"fmt"
	"time"

	"insights/internal/insightsctl/health"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "version [host:port]",
		Short: "Show the version of the running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			host := health.DefaultHost
			if len(args) == 1 {
				host = args[0]
			}

			version, err := health.Get(host, "/api/v1/version", timeout)
			if err != nil || version == "" {
				fmt.Fprintln(c.OutOrStdout(), "No version detected")
				return nil
			}

			fmt.Fprintln(c.OutOrStdout(), version)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "request timeout")

	return cmd
}
