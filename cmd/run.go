package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/goal"
	"github.com/JakeFAU/jobhunt-agent/internal/policy/blocklist"
)

// newRunCmd creates the 'run' subcommand, which performs one run in the
// foreground and prints its event log.
func newRunCmd() *cobra.Command {
	var params agent.Params
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect job postings from one target and write them as CSV",
		Long: `Runs the agent once against --target. Every event is printed as it
happens; the command exits non-zero when the run fails to collect any
valid posting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, params)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&params.TargetURL, "target", "", "site URL or sitemap URL to collect from")
	flags.StringVar(&params.StartDate, "start", "", "first posting date to keep (YYYY-MM-DD)")
	flags.StringVar(&params.EndDate, "end", "", "last posting date to keep (YYYY-MM-DD)")
	flags.IntVar(&params.TargetCount, "count", 0, "number of valid postings to collect (0 keeps the configured goal)")
	flags.IntVar(&params.MaxRequests, "max-requests", 0, "request budget (0 keeps the configured goal)")
	flags.DurationVar(&params.MaxDuration, "max-duration", 0, "time budget (0 keeps the configured goal)")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func runOnce(cmd *cobra.Command, params agent.Params) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	run, err := appInstance.Agent().NewRun(params)
	if err != nil {
		return fmt.Errorf("prepare run: %w", err)
	}
	if err := blocklist.New(appInstance.Config().HTTP.BlockedDomains).AllowTarget(run.Target()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	hub := appInstance.Hub()
	for evt := range run.Events(ctx) {
		hub.Emit(evt)
		fmt.Fprintln(out, evt.String())
	}

	snap := run.Goal()
	appInstance.Logger().Info("run finished",
		zap.String("run_id", run.ID()),
		zap.Stringer("status", snap.Status),
		zap.Int("valid_found", snap.Progress.ValidFound),
		zap.Int("requests", snap.Progress.RequestsMade),
		zap.Duration("elapsed", snap.Elapsed.Round(time.Millisecond)))
	fmt.Fprintf(out, "\nrun %s %s: %d postings, %d requests, %d duplicates",
		run.ID(), snap.Status, snap.Progress.ValidFound, snap.Progress.RequestsMade, snap.Progress.Duplicates)
	if name := run.Output(); name != "" {
		fmt.Fprintf(out, ", written to %s", name)
	}
	fmt.Fprintln(out)

	if snap.Status == goal.StatusFailed {
		return fmt.Errorf("run %s failed: %s", run.ID(), snap.Reason)
	}
	return nil
}
