// Package cmd defines and implements the CLI commands for the jobhunt
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/config"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
	"github.com/JakeFAU/jobhunt-agent/internal/server"
	"github.com/JakeFAU/jobhunt-agent/internal/storage"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const closeTimeout = 15 * time.Second

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close(ctx context.Context) error
	Config() *config.Config
	Logger() *zap.Logger
	Agent() *agent.Agent
	Hub() *progress.Hub
	Fetcher() crawler.Fetcher
	Shared() storage.Store
	Serve(ctx context.Context) error
	RunSchedule(ctx context.Context) error
	TickSchedule(ctx context.Context) ([]string, error)
}

// newApp is the application factory. It's a variable so we can
// replace it with a fake factory in our tests.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return server.Build(ctx, &cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "jobhunt",
		Short: "An autonomous agent that collects recent job postings from a site.",
		Long: `jobhunt plans and runs crawl strategies against a target site until it has
collected the requested number of job postings dated inside a window. It
learns which strategies work per domain, shares that knowledge and a
deduplication ledger with other instances, and writes results as CSV.`,
		SilenceUsage: true,

		// Build the application once flags are parsed and hand it to the
		// subcommand through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
			defer cancel()
			return appInstance.Close(ctx)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables use the JOBHUNT_ prefix")

	cmd.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newScheduleCmd(),
		newSitemapCmd(),
		newLedgerCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
