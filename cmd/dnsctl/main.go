package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/leozw/failover-guardian/internal/artifact"
	"github.com/leozw/failover-guardian/internal/config"
	"github.com/leozw/failover-guardian/internal/credentials"
	"github.com/leozw/failover-guardian/internal/provider"
)

// dnsctl pushes one CNAME record to every configured provider and reports
// the per-provider outcome. Exit code follows the quorum-of-one policy.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	args := os.Args[1:]
	if len(args) < 3 {
		log.Fatal("Usage: dnsctl <domain> <subdomain> <target> [ttl]")
	}
	rec := provider.Record{Domain: args[0], Subdomain: args[1], Target: args[2], TTL: cfg.Domain.TTL}
	if len(args) >= 4 {
		ttl, err := strconv.Atoi(args[3])
		if err != nil || ttl <= 0 {
			log.Fatalf("Invalid ttl %q", args[3])
		}
		rec.TTL = ttl
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	chain := credentials.Default(logger, "", nil)
	registry := provider.NewRegistry(cfg.Providers, chain, cfg.Failover.ProviderRateLimit, logger)

	if n := registry.CheckHealth(ctx); n == 0 {
		// Nothing to update: fall back to pointing the operator at the
		// deployment directly instead of failing with a stack trace.
		fmt.Println("No DNS provider is available (missing or rejected credentials).")
		fmt.Printf("Manual fallback: point %s.%s at %s in your DNS console,\n", rec.Subdomain, rec.Domain, rec.Target)
		fmt.Printf("or share the direct deployment URL https://%s with users.\n", rec.Target)
		os.Exit(1)
	}

	fanout := registry.UpdateAll(ctx, rec)

	sink := artifact.NewFileSink(cfg.Artifacts.ReportsDir, cfg.Artifacts.LogsDir)
	if path, err := sink.WriteReport("dns-update", fanout); err == nil {
		logger.Info("Report written", zap.String("path", path))
	}

	fmt.Printf("\nDNS update %s.%s -> %s (ttl %d)\n", rec.Subdomain, rec.Domain, rec.Target, rec.TTL)
	for _, res := range fanout.Results {
		if res.Success {
			fmt.Printf("  [ok]   %-12s record %s\n", res.Provider, res.RecordID)
		} else {
			fmt.Printf("  [FAIL] %-12s %s\n", res.Provider, res.Error)
		}
	}

	if !fanout.Success {
		fmt.Println("\nNo provider accepted the update; check credentials and zone configuration.")
		os.Exit(1)
	}

	fmt.Println("\nRecord applied. Run `verify` to watch propagation.")
}
