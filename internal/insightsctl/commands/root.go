// Package commands holds the insightsctl subcommands.
package commands

import (
	"time"

	"github.com/spf13/cobra"
)

const defaultTimeout = 10 * time.Second

// NewRoot builds the insightsctl command tree.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "insightsctl",
		Short:         "Operate an insights server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newPingCmd(), newVersionCmd(), newReplayCmd())

	return root
}
