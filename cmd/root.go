// Package cmd defines the CLI of the judgment crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/judgment-crawler/internal/app"
	"github.com/JakeFAU/judgment-crawler/internal/config"
	"github.com/JakeFAU/judgment-crawler/internal/logging"
)

// newApp builds the service container. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.NewApp(ctx, cfg, logger)
}

type rootOptions struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "judgmentcrawler",
		Short: "Crawls the court judgment listing and stores every judgment once.",
		Long: `judgmentcrawler walks the paginated judgment search page by page,
downloads each judgment, extracts its text and metadata, and persists one
record per judgment. Configuration comes from an optional YAML file and
JUDGMENTS_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newCrawlCmd(opts))
	return cmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "judgmentcrawler:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for canceled runs and 1 for every other failure.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return 2
	}
	return 1
}
