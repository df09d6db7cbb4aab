package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leozw/failover-guardian/internal/alert"
	"github.com/leozw/failover-guardian/internal/api"
	"github.com/leozw/failover-guardian/internal/artifact"
	"github.com/leozw/failover-guardian/internal/config"
	"github.com/leozw/failover-guardian/internal/credentials"
	"github.com/leozw/failover-guardian/internal/failover"
	"github.com/leozw/failover-guardian/internal/incidents"
	"github.com/leozw/failover-guardian/internal/metrics"
	"github.com/leozw/failover-guardian/internal/probe"
	"github.com/leozw/failover-guardian/internal/provider"
	"github.com/leozw/failover-guardian/internal/queue"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Positional overrides: failover [domain subdomain]
	args := os.Args[1:]
	if len(args) >= 2 {
		cfg.Domain.Name = args[0]
		cfg.Domain.Subdomain = args[1]
	}
	if cfg.Domain.Name == "" || cfg.Domain.Subdomain == "" {
		log.Fatal("Usage: failover <domain> <subdomain> (or set domain.name/domain.subdomain in config)")
	}

	// Setup logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Artifact sink and optional alert queue
	sink := artifact.NewFileSink(cfg.Artifacts.ReportsDir, cfg.Artifacts.LogsDir)

	var alertQueue *queue.RedisQueue
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		alertQueue = queue.NewRedisQueue(client)
	}

	collector := metrics.NewCollector()
	alerts := alert.NewService(sink, alertQueue, collector, logger)

	// Providers: resolve credentials, then gate on one startup health check
	chain := credentials.Default(logger, "", nil)
	registry := provider.NewRegistry(cfg.Providers, chain, cfg.Failover.ProviderRateLimit, logger)

	available := registry.CheckHealth(ctx)
	collector.SetProvidersAvailable(available)
	if available == 0 {
		alerts.Critical(ctx, "startup", "no DNS provider available, failovers cannot be applied")
	}

	// Failover controller
	prober := probe.NewProber(cfg.Failover.ProbeTimeout)
	controller := failover.NewController(
		cfg.Failover, cfg.Domain, cfg.Endpoints,
		prober, registry, alerts, collector, logger,
	)

	incidentSvc := incidents.NewService(sink, logger)
	controller.SetIncidentRecorder(incidentSvc)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		controller.Run(ctx)
	}()

	// Persist failover events as report artifacts as they happen
	go func() {
		for event := range controller.Events() {
			if _, err := sink.WriteReport("failover", event); err != nil {
				logger.Warn("Failed to persist failover event", zap.Error(err))
			}
		}
	}()

	// Status API
	server := api.NewServer(cfg, controller, incidentSvc, logger)
	go func() {
		if err := server.Run(); err != nil {
			logger.Fatal("Status server failed", zap.Error(err))
		}
	}()

	logger.Info("Failover monitor started",
		zap.String("domain", cfg.Domain.Name),
		zap.String("subdomain", cfg.Domain.Subdomain),
		zap.Int("endpoints", len(cfg.Endpoints)),
		zap.Int("providers_available", available),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down failover monitor...")
	cancel()
	// Run finishes the cycle it is in, including any in-flight provider
	// fan-out, before returning. Exiting earlier would abandon a partial
	// multi-provider update.
	<-runDone
	logger.Info("Failover monitor exited")
}
