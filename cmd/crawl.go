package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/judgment-crawler/internal/api"
	"github.com/JakeFAU/judgment-crawler/internal/crawler"
)

func newCrawlCmd(root *rootOptions) *cobra.Command {
	var (
		serve       bool
		jsonSummary bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl of the judgment listing",
		Long: `Loads the first listing page, processes every row, follows the pager
until no unvisited page remains, and prints a run summary. Exits non-zero
when the first page cannot be loaded, when nothing was persisted, or when
the run is interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("serve") {
				root.cfg.Server.Enabled = serve
			}
			summary, err := runCrawl(cmd.Context(), root)
			if jsonSummary {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(summary); encErr != nil {
					root.logger.Warn("write summary", zap.Error(encErr))
				}
			} else {
				printSummary(cmd, summary)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "expose /v1/run and /metrics while crawling")
	cmd.Flags().BoolVar(&jsonSummary, "json", false, "print the run summary as JSON")
	return cmd
}

func runCrawl(parent context.Context, root *rootOptions) (crawler.Summary, error) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := root.logger
	a, err := newApp(ctx, root.cfg, logger)
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	if root.cfg.Server.Enabled {
		srvCtx, cancelSrv := context.WithCancel(context.Background())
		defer cancelSrv()
		srv := api.NewServer(a.Runner(), a.Ready, logger.Named("api"))
		addr := ":" + strconv.Itoa(root.cfg.Server.Port)
		go func() {
			if serr := srv.ListenAndServe(srvCtx, addr); serr != nil {
				logger.Error("status server failed", zap.Error(serr))
			}
		}()
	}

	summary, err := a.Runner().Run(ctx)
	if err != nil {
		return summary, fmt.Errorf("run crawl: %w", err)
	}
	return summary, nil
}

func printSummary(cmd *cobra.Command, s crawler.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", s.RunID)
	fmt.Fprintf(out, "  items processed: %d\n", s.ItemsProcessed)
	fmt.Fprintf(out, "  items skipped:   %d\n", s.ItemsSkipped)
	fmt.Fprintf(out, "  pages visited:   %v\n", s.PagesVisited)
	fmt.Fprintf(out, "  failures:        %d\n", len(s.Failures))
	for _, f := range s.Failures {
		fmt.Fprintf(out, "    - [%s] %s attempts=%d: %s\n", f.Kind, f.Key, f.Attempts, f.Cause)
	}
}
