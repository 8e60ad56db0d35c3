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
	"github.com/platinummonkey/curator/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	migrate := flag.Bool("migrate", true, "Run database migrations and seed the permission catalog at startup")
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

	if *migrate {
		if err := a.Manager.Initialize(ctx); err != nil {
			a.Close(ctx)
			return err
		}
	}
	if err := a.LoadRoleMetadata(ctx); err != nil {
		a.Close(ctx)
		return err
	}

	verifier, err := app.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		a.Close(ctx)
		return err
	}

	a.StartBackground(ctx, 30*time.Second)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      a.APIHandler(verifier, a.NewLimiter(ctx)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	opsServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     a.OpsHandler(a.HealthChecker()),
		ReadTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, opsServer)
	shutdown.OnShutdown("app", func(ctx context.Context) error {
		cancel()
		return a.Close(ctx)
	})

	for _, srv := range []*http.Server{apiServer, opsServer} {
		srv := srv
		go func() {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Errorf("Server on %s failed", srv.Addr)
				cancel()
			}
		}()
	}

	logger.WithFields(map[string]interface{}{
		"auth_mode": cfg.Auth.Mode,
		"redis":     cfg.Storage.RedisEnabled(),
		"replicas":  a.Conns.ReplicaCount(),
	}).Info("Curator started")

	return shutdown.WaitForShutdown(ctx)
}
