// risk-sweep runs detection cycles outside the API server (cron job, operator re-run).
//
// Usage (from backend directory):
//
//	go run ./cmd/risk-sweep                        # every not_started / in_progress project
//	go run ./cmd/risk-sweep -project-id 12         # one project
//	go run ./cmd/risk-sweep -project-id 12 -dry-run -no-advisory
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mmdatafocus/riskwatch_backend/advisory"
	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/models/reports"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"github.com/mmdatafocus/riskwatch_backend/workflow"
)

func main() {
	projectID := flag.Int("project-id", 0, "Optional: run only this project. If 0, sweeps every not_started/in_progress project.")
	concurrency := flag.Int("concurrency", config.RiskSweepConcurrency(), "Projects processed in parallel")
	noAdvisory := flag.Bool("no-advisory", false, "Skip the advisory model; rule evaluators only")
	dryRun := flag.Bool("dry-run", false, "Print the candidates a cycle would reconcile without writing (requires -project-id)")
	flag.Parse()

	if *dryRun && *projectID <= 0 {
		fmt.Fprintln(os.Stderr, "-dry-run requires -project-id")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	// Hooks expect actor fields on the context.
	ctx = utils.SystemContext(ctx, "RiskSweep")
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())

	ledger := models.NewGormRiskLedger(db)
	thresholds := riskengine.ThresholdsFromConfig(config.GetRiskThresholds())
	settings := config.GetAdvisorySettings()
	opts := riskengine.Options{
		Ledger:          ledger,
		Snapshots:       ledger,
		Locker:          workflow.NewProjectLocker(config.RiskLockBackend(), db),
		Notifier:        ledger,
		Metrics:         ledger,
		Changes:         reports.SummaryInvalidator{},
		Thresholds:      &thresholds,
		Logger:          config.GetLogger(),
		AdvisoryTimeout: settings.Timeout,
	}
	if !*noAdvisory && settings.Enabled {
		opts.Advisory = advisory.NewClient(settings)
	}
	engine := riskengine.NewEngine(opts)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *dryRun {
		candidates, err := engine.Preview(ctx, *projectID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "preview project %d: %v\n", *projectID, err)
			os.Exit(1)
		}
		_ = enc.Encode(candidates)
		return
	}

	var report *riskengine.SweepReport
	if *projectID > 0 {
		report = engine.SweepProjects(ctx, []int{*projectID}, 1)
	} else {
		var err error
		report, err = engine.Sweep(ctx, *concurrency)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
			os.Exit(1)
		}
	}
	_ = enc.Encode(report)
	if report.Failed > 0 {
		os.Exit(3)
	}
}
