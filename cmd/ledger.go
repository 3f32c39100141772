package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobhunt-agent/internal/ledger"
)

// newLedgerCmd creates the 'ledger' command group for inspecting the shared
// deduplication ledger.
func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the shared apply-link ledger",
	}
	cmd.AddCommand(newLedgerListCmd(), newLedgerCheckCmd())
	return cmd
}

func openLedger(cmd *cobra.Command) (*ledger.Ledger, error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return nil, err
	}
	seenBy := appInstance.Config().Agent.SeenBy
	if seenBy == "" {
		seenBy = "jobhunt-cli"
	}
	return ledger.New(appInstance.Shared(), ledger.Options{
		Name:   appInstance.Config().Storage.LedgerName,
		SeenBy: seenBy,
		Logger: appInstance.Logger(),
	})
}

func newLedgerListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the most recent ledger entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := openLedger(cmd)
			if err != nil {
				return err
			}
			entries, err := l.Entries(cmd.Context())
			if err != nil {
				return err
			}
			shown := entries
			if limit > 0 && len(shown) > limit {
				shown = shown[len(shown)-limit:]
			}
			out := cmd.OutOrStdout()
			for _, e := range shown {
				fmt.Fprintf(out, "%s\t%s\t%s\n", e.FirstSeen.UTC().Format(time.RFC3339), e.SeenBy, e.Link)
			}
			fmt.Fprintf(out, "%d of %d entries\n", len(shown), len(entries))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries to print (0 prints all)")
	return cmd
}

func newLedgerCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <link>",
		Short: "Report whether an apply link is already in the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLedger(cmd)
			if err != nil {
				return err
			}
			normalized, err := ledger.Normalize(args[0])
			if err != nil {
				return err
			}
			entries, err := l.Entries(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				if e.Link == normalized {
					fmt.Fprintf(out, "seen: %s first collected %s by %s\n",
						normalized, e.FirstSeen.UTC().Format(time.RFC3339), e.SeenBy)
					return nil
				}
			}
			fmt.Fprintf(out, "new: %s\n", normalized)
			return nil
		},
	}
}
