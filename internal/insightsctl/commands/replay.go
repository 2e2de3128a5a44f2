package commands

import (
	"errors"
	"fmt"
	"time"

	"insights/internal/env"
	"insights/internal/replay"

	"github.com/spf13/cobra"
)

func newReplayCmd() *cobra.Command {
	var (
		envRoot       string
		eventsDir     string
		includeErrors bool
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay <host:port> [event.json]",
		Short: "Send captured webhook deliveries to a server",
		Long: "Replays one captured webhook file, or every captured webhook in the\n" +
			"event log directory in the order it was received. The target must run\n" +
			"without a webhook secret: captured payloads cannot be re-signed.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			r := replay.New(args[0], timeout, c.OutOrStdout())

			if len(args) == 2 {
				if err := r.File(args[1]); err != nil {
					return fmt.Errorf("replay %s: %w", args[1], err)
				}
				fmt.Fprintf(c.OutOrStdout(), "OK   %s\n", args[1])
				return nil
			}

			if eventsDir == "" {
				cfg, err := env.Load(envRoot)
				if err != nil {
					return err
				}
				eventsDir = cfg.EventLog.Path
			}
			if eventsDir == "" {
				return errors.New("no event log directory: set EVENTLOG_PATH or pass --events-dir")
			}

			sum, err := r.Dir(eventsDir, includeErrors)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.OutOrStdout(), "replayed %d, failed %d\n", sum.Sent, sum.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&envRoot, "env-root", "", "directory containing the .env file")
	cmd.Flags().StringVar(&eventsDir, "events-dir", "", "event log root (defaults to the configured EVENTLOG_PATH)")
	cmd.Flags().BoolVar(&includeErrors, "include-errors", false, "also replay deliveries that failed to parse")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "per-request timeout")

	return cmd
}
