package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/adaptive-retrieval/internal/adapters/http"
	mcpadapter "github.com/kirillkom/adaptive-retrieval/internal/adapters/mcp"
	"github.com/kirillkom/adaptive-retrieval/internal/bootstrap"
	"github.com/kirillkom/adaptive-retrieval/internal/config"
	"github.com/kirillkom/adaptive-retrieval/internal/observability/logging"
	"github.com/kirillkom/adaptive-retrieval/internal/observability/metrics"
	"github.com/kirillkom/adaptive-retrieval/internal/observability/telemetry"
)

const cachePruneInterval = 5 * time.Minute

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.InitProvider(ctx, cfg.TelemetryConfig())
	if err != nil {
		logging.NewJSONLogger(cfg.ServiceName, cfg.LogLevel).Error("telemetry_init_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.ServiceName, cfg.LogLevel, cfg.OTelEnabled)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api_failed", "error", err)
		_ = shutdownTelemetry(context.Background())
		os.Exit(1)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(flushCtx); err != nil {
		logger.Warn("telemetry_shutdown_failed", "error", err)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	opts := httpadapter.Options{
		Logger:         logger,
		Metrics:        metrics.NewHTTPServerMetrics(app.Registry, cfg.ServiceName),
		Health:         app.BreakerStates,
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxInFlight:    64,
	}
	if cfg.MCPEnabled {
		opts.MCP = mcpadapter.NewServer(app.ContextUC, cfg.Version).HTTPHandler()
	}
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      httpadapter.NewRouter(app.ContextUC, app.Router, opts).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("reindex_subscription_started", "subject", cfg.NATSReindexSubject)
		return app.Queue.SubscribeCorpusReindexed(gctx, app.Invalidation.HandleReindexed)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cachePruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := app.Router.PruneExpired(); n > 0 {
					logger.Info("cache_pruned", "removed", n)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
