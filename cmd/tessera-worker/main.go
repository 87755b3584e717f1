// Command tessera-worker runs the background recalculation loop: the cron
// schedule that rebuilds every active segment, and the consumer for
// on-demand triggers enqueued by the API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tessera-crm/tessera/internal/cache"
	"github.com/tessera-crm/tessera/internal/config"
	"github.com/tessera-crm/tessera/internal/database"
	"github.com/tessera-crm/tessera/internal/logger"
	"github.com/tessera-crm/tessera/internal/materializer"
	"github.com/tessera-crm/tessera/internal/observability"
	"github.com/tessera-crm/tessera/internal/store"
	"github.com/tessera-crm/tessera/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	if !cfg.Worker.Enabled {
		log.Warn("worker is disabled, exiting")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	queue := cache.NewRedisQueue(redisClient)
	defer queue.Close()

	metrics := observability.NewMetrics()
	segments := store.NewPostgresStore(pool)
	mat := materializer.NewService(segments, metrics)
	svc := worker.NewService(&cfg.Worker, queue, mat)

	obsServer := observability.NewServer(&cfg.Observability, metrics,
		database.NewHealthChecker(pool),
		queue,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := obsServer.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	runErr := svc.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("observability server shutdown failed", slog.Any("error", err))
	}

	select {
	case err := <-errCh:
		return err
	default:
	}

	log.Info("shutdown complete")
	return runErr
}
