package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jfellner/newsriver/internal/api"
	"github.com/jfellner/newsriver/internal/debuglog"
	"github.com/jfellner/newsriver/internal/pipeline"
	"github.com/jfellner/newsriver/internal/retention"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with scheduled ingestion cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer debuglog.Close()

			if addr == "" {
				addr = app.cfg.Server.Addr
			}

			retentionCfg := retention.Config{
				ArticleDays: app.cfg.Retention.ArticleDays,
				BackupDays:  app.cfg.Retention.BackupDays,
			}
			server := api.NewServer(app.store, app.manager, retentionCfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler := cron.New()
			_, err = scheduler.AddFunc(app.cfg.Server.CronSpec, func() {
				report, err := app.manager.RunCycle(ctx)
				if err != nil {
					// An overlapping trigger is expected when a cycle
					// outlasts the schedule interval.
					if errors.Is(err, pipeline.ErrCycleRunning) {
						debuglog.Infof("scheduled cycle skipped: previous cycle still running")
						return
					}
					debuglog.Errorf("scheduled cycle failed: %v", err)
					return
				}
				debuglog.Infof("scheduled cycle %s: %d new articles", report.ID, report.NewArticles)
			})
			if err != nil {
				return fmt.Errorf("invalid cron spec %q: %w", app.cfg.Server.CronSpec, err)
			}
			scheduler.Start()
			defer scheduler.Stop()

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				debuglog.Infof("listening on %s", addr)
				fmt.Printf("newsriver listening on http://%s\n", addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
