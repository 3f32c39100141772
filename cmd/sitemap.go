package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/sitemap"
)

// newSitemapCmd creates the 'sitemap' subcommand, a dry run of the sitemap
// strategy that lists in-window post URLs without extracting them.
func newSitemapCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "sitemap <url>",
		Short: "List the post URLs a site's sitemaps date inside the window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			window, err := agent.Params{StartDate: start, EndDate: end}.Window(time.Now().UTC(), cfg.Agent.WindowDays)
			if err != nil {
				return err
			}
			source := sitemap.NewSource(appInstance.Fetcher(), cfg.Agent.SitemapChildren, appInstance.Logger())
			roots, err := source.Discover(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var items []sitemap.Item
			for _, root := range roots {
				found, err := source.ListURLs(cmd.Context(), root, window)
				if err != nil {
					if len(roots) == 1 {
						return fmt.Errorf("list %s: %w", root, err)
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", root, err)
					continue
				}
				items = append(items, found...)
			}
			for _, item := range items {
				fmt.Fprintf(out, "%s\t%s\n", item.LastMod.Format(crawler.DateLayout), item.URL)
			}
			fmt.Fprintf(out, "%d URLs dated %s\n", len(items), window)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first date to keep (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last date to keep (YYYY-MM-DD)")
	return cmd
}
