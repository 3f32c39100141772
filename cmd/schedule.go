package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newScheduleCmd creates the 'schedule' subcommand.
func newScheduleCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured targets on their cron schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !once {
				return appInstance.RunSchedule(cmd.Context())
			}
			started, err := appInstance.TickSchedule(cmd.Context())
			if len(started) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "started runs: %s\n", strings.Join(started, ", "))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run every target once now and exit when the runs finish")
	return cmd
}
