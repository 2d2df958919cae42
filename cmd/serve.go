package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/api"
	"github.com/JakeFAU/lexcrawl/internal/clock/system"
	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/dispatcher"
	"github.com/JakeFAU/lexcrawl/internal/id/uuid"
	queueMemory "github.com/JakeFAU/lexcrawl/internal/queue/memory"
	"github.com/JakeFAU/lexcrawl/internal/scheduler"
)

// newServeCmd creates the 'serve' subcommand: HTTP API, cron scheduler and
// crawl workers in one long-running process.
func newServeCmd() *cobra.Command {
	var noSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled crawls",
		Long: `Starts the HTTP API, registers a cron entry for every source with a
schedule, and runs queued crawls on a fixed pool of workers until
interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), appInstance, !noSchedule)
		},
	}
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the API without registering cron schedules")
	return cmd
}

func runServe(ctx context.Context, appInstance App, schedule bool) error {
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	clock := system.New()
	ids := uuid.New()

	queue := queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	dispatch := dispatcher.New(queue, cfg.Crawler.Workers, func(ctx context.Context, request crawler.CrawlRequest) error {
		summary, err := appInstance.Crawl(ctx, request)
		if err != nil {
			return err
		}
		logger.Info("crawl finished",
			zap.String("request_id", request.ID),
			zap.String("source", request.Source),
			zap.String("stop_reason", string(summary.StopReason)),
			zap.Int("new_records", summary.NewRecordsFound),
		)
		return nil
	}, logger)

	sched := scheduler.New(queue, ids, clock, logger)
	if schedule {
		for _, name := range cfg.SourceNames() {
			spec := cfg.Sources[name].Schedule
			if spec == "" {
				continue
			}
			if err := sched.Add(name, spec); err != nil {
				return err
			}
		}
	}

	runs, ledger := appInstance.Stores()
	server := api.NewServer(api.Deps{
		Service: appInstance,
		Runs:    runs,
		Ledger:  ledger,
		Queue:   queue,
		IDs:     ids,
		Clock:   clock,
	}, cfg, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatch.Run(ctx)
	}()
	sched.Start()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr), zap.Int("scheduled_sources", sched.Len()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	queue.Close()

	// Workers finish their in-flight batch before returning.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for crawl workers")
	}
	return runErr
}
