package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/developer-mesh/fontedit/pkg/api"
	"github.com/developer-mesh/fontedit/pkg/backends"
	"github.com/developer-mesh/fontedit/pkg/config"
	"github.com/developer-mesh/fontedit/pkg/fonthandler"
	"github.com/developer-mesh/fontedit/pkg/observability"
	"github.com/developer-mesh/fontedit/pkg/redis"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.Logging)

	var (
		metrics        observability.MetricsClient = observability.NewNoOpMetricsClient()
		metricsHandler http.Handler
	)
	if cfg.Observability.Metrics.Enabled {
		prom := observability.NewPrometheusMetricsClient(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.Subsystem, nil)
		metrics = prom
		metricsHandler = prom.Handler()
	}
	defer metrics.Close()

	shutdownTracing, err := observability.InitTracing(cfg.Observability.Tracing)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
	}
	defer shutdownTracing()

	backend, err := backends.Open(ctx, cfg.Backend, logger)
	if err != nil {
		logger.Fatal("Failed to open font backend", map[string]interface{}{
			"type":  cfg.Backend.Type,
			"error": err.Error(),
		})
	}

	opts := []fonthandler.Option{
		fonthandler.WithLogger(logger),
		fonthandler.WithMetrics(metrics),
	}

	var (
		redisClient goredis.UniversalClient
		bus         *redis.ChangeBus
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		bus = redis.NewChangeBus(redisClient, cfg.Redis.Channel, logger, metrics)
		opts = append(opts, fonthandler.WithChangeBus(bus))
	}

	handler, err := fonthandler.New(backend, cfg.Handler, opts...)
	if err != nil {
		logger.Fatal("Failed to create font handler", map[string]interface{}{"error": err.Error()})
	}

	if bus != nil {
		if err := bus.Subscribe(ctx, handler.HandleBusChange); err != nil {
			logger.Fatal("Failed to subscribe to change bus", map[string]interface{}{
				"channel": cfg.Redis.Channel,
				"error":   err.Error(),
			})
		}
		logger.Info("Subscribed to change bus", map[string]interface{}{
			"channel": cfg.Redis.Channel,
			"origin":  bus.Origin(),
		})
	}

	server, err := api.NewServer(handler, cfg.API, logger, metrics, metricsHandler)
	if err != nil {
		logger.Fatal("Failed to create API server", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("Server configuration", map[string]interface{}{
		"env":       cfg.Environment,
		"backend":   cfg.Backend.Type,
		"read_only": cfg.Handler.ReadOnly,
		"redis":     cfg.Redis.Enabled,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if bus != nil {
		if err := bus.Close(); err != nil {
			logger.Error("Change bus shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}
	// Pending glyph writes are flushed before the backend closes.
	if err := handler.Close(shutdownCtx); err != nil {
		logger.Error("Font handler shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("Server stopped gracefully", nil)
}
