package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/leozw/failover-guardian/internal/artifact"
	"github.com/leozw/failover-guardian/internal/config"
	"github.com/leozw/failover-guardian/internal/verify"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	args := os.Args[1:]
	if len(args) < 3 {
		log.Fatal("Usage: verify <domain> <subdomain> <target> [timeoutSeconds]")
	}
	target := verify.Target{Domain: args[0], Subdomain: args[1], Expected: args[2]}
	if len(args) >= 4 {
		seconds, err := strconv.Atoi(args[3])
		if err != nil || seconds <= 0 {
			log.Fatalf("Invalid timeout %q, want seconds", args[3])
		}
		cfg.Verify.Timeout = time.Duration(seconds) * time.Second
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	verifier := verify.NewVerifier(cfg.Verify, logger)
	report := verifier.Run(ctx, target)

	sink := artifact.NewFileSink(cfg.Artifacts.ReportsDir, cfg.Artifacts.LogsDir)
	path, err := sink.WriteReport("verification", report)
	if err != nil {
		logger.Warn("Failed to write report artifact", zap.Error(err))
	} else {
		logger.Info("Report written", zap.String("path", path))
	}

	printSummary(report)

	if report.Status != verify.StatusSuccess {
		os.Exit(1)
	}
}

func printSummary(report *verify.Report) {
	fmt.Printf("\nVerification of %s -> %s: %s (%d cycles, %dms)\n",
		report.Target.FQDN(), report.Target.Expected, report.Status, report.Cycles, report.Elapsed)

	fmt.Printf("Score: %d/%d\n", report.Final.Score, report.Final.MaxScore)
	for name, check := range report.Final.Checks {
		mark := "FAIL"
		if check.Passed {
			mark = "ok"
		}
		detail := check.Detail
		if check.Error != "" {
			detail = check.Error
		}
		fmt.Printf("  [%-4s] %-16s %s\n", mark, name, detail)
	}

	if len(report.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, rec := range report.Recommendations {
			fmt.Printf("  (%s) %s\n", rec.Priority, rec.Message)
		}
	}

	fmt.Println("\nNext steps:")
	for i, step := range report.NextSteps {
		fmt.Printf("  %d. %s\n", i+1, step)
	}
}
