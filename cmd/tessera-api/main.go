// Command tessera-api runs the segmentation REST API: segment CRUD, the
// field catalog, membership listing and recalculation triggers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tessera-crm/tessera/internal/cache"
	"github.com/tessera-crm/tessera/internal/config"
	"github.com/tessera-crm/tessera/internal/controlapi"
	"github.com/tessera-crm/tessera/internal/database"
	"github.com/tessera-crm/tessera/internal/logger"
	"github.com/tessera-crm/tessera/internal/materializer"
	"github.com/tessera-crm/tessera/internal/observability"
	"github.com/tessera-crm/tessera/internal/store"
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

	// Outside production, an unset API key hash disables authentication for
	// local development.
	skipAuth := cfg.App.Environment != config.EnvironmentProduction && cfg.API.APIKeyHash == ""
	if skipAuth {
		log.Warn("API key authentication disabled")
	}
	api := controlapi.NewAPIWithConfig(segments, mat, queue, metrics, cfg.API.APIKeyHash, skipAuth)

	obsServer := observability.NewServer(&cfg.Observability, metrics,
		database.NewHealthChecker(pool),
		queue,
	)

	apiServer := &http.Server{
		Addr:              cfg.API.Host + ":" + cfg.API.Port,
		Handler:           api.Router,
		ReadTimeout:       cfg.API.ReadTimeout,
		ReadHeaderTimeout: cfg.API.ReadHeaderTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       cfg.API.IdleTimeout,
		MaxHeaderBytes:    cfg.API.MaxHeaderBytes,
	}

	errCh := make(chan error, 2)

	go func() {
		log.Info("starting api server", slog.String("addr", apiServer.Addr))
		var serveErr error
		if cfg.API.TLSEnabled {
			serveErr = apiServer.ListenAndServeTLS(cfg.API.TLSCert, cfg.API.TLSKey)
		} else {
			serveErr = apiServer.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server error: %w", serveErr)
		}
	}()

	go func() {
		if err := obsServer.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("api server shutdown failed", slog.Any("error", err))
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("observability server shutdown failed", slog.Any("error", err))
	}

	log.Info("shutdown complete")
	return nil
}
