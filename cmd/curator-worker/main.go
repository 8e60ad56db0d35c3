package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/platinummonkey/curator/pkg/app"
	"github.com/platinummonkey/curator/pkg/config"
	"github.com/platinummonkey/curator/pkg/jobs"
	"github.com/platinummonkey/curator/pkg/observability"
)

var (
	runOnce = flag.String("run-once", "", "Run the named job once and exit (expiry-report, purge-expired, cache-warmup)")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, nil)
	observability.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	jobCfg := jobs.ConfigFrom(cfg.Worker)
	m := a.Manager
	runner := jobs.NewJobs(jobs.Deps{
		Overrides: m.Overrides(),
		Purger:    m,
		Users:     m.Users(),
		Resolver:  m.Resolver(),
	}, jobCfg, a.Logrus, a.Metrics)

	scheduler, err := jobs.NewScheduler(runner, a.Logrus, a.Metrics)
	if err != nil {
		a.Close(ctx)
		return err
	}

	if *runOnce != "" {
		err := scheduler.RunOnce(ctx, *runOnce)
		if cerr := a.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}

	if err := a.LoadRoleMetadata(ctx); err != nil {
		a.Close(ctx)
		return err
	}
	a.StartBackground(ctx, 30*time.Second)

	opsServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     a.OpsHandler(a.HealthChecker()),
		ReadTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, opsServer)
	shutdown.OnShutdown("app", func(ctx context.Context) error {
		cancel()
		return a.Close(ctx)
	})
	shutdown.OnShutdown("scheduler", scheduler.Stop)

	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
			cancel()
		}
	}()

	scheduler.Start()
	logger.WithFields(map[string]interface{}{
		"jobs":            scheduler.Entries(),
		"purge_enabled":   cfg.Worker.PurgeEnabled(),
		"override_window": cfg.Worker.ExpiryReportWindow.String(),
	}).Info("Curator worker started")

	return shutdown.WaitForShutdown(ctx)
}
