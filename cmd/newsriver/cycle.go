package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/retention"
)

func newCycleCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one ingestion cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer debuglog.Close()

			report, err := app.manager.RunCycle(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Printf("Cycle %s finished in %s\n", report.ID, report.Duration.Round(time.Millisecond))
			fmt.Printf("  candidates: %d\n", report.Candidates)
			fmt.Printf("  new:        %d\n", report.NewArticles)
			fmt.Printf("  duplicates: %d\n", report.Duplicates)
			fmt.Printf("  spam:       %d\n", report.Spam)
			for _, src := range report.Sources {
				status := "ok"
				if src.Skipped {
					status = "skipped"
				} else if src.Error != "" {
					status = "failed"
				}
				fmt.Printf("  %-30s %-8s scraped=%d new=%d dup=%d spam=%d",
					src.Name, status, src.Scraped, src.New, src.Duplicates, src.Spam)
				if src.Error != "" {
					fmt.Printf(" error=%s", src.Error)
				}
				fmt.Println()
			}
			if len(report.FailedCommits) > 0 {
				fmt.Printf("  failed commits: %d\n", len(report.FailedCommits))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the cycle report as JSON")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Prune old articles, orphaned previews and stale backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer debuglog.Close()

			report, err := retention.Run(retention.Config{
				ArticleDays: app.cfg.Retention.ArticleDays,
				BackupDays:  app.cfg.Retention.BackupDays,
			}, app.store, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("Pruned %d articles, %d previews, %d backups\n",
				report.ArticlesPruned, report.PreviewsPruned, report.BackupsPruned)
			return nil
		},
	}
}
