package riskengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
)

func TestSweepIsolatesProjectFailures(t *testing.T) {
	ledger := NewMemoryLedger()
	for id := 1; id <= 4; id++ {
		ledger.PutSnapshot(overrunSnapshot(id))
	}
	done := overrunSnapshot(5)
	done.Status = models.ProjectStatusCompleted
	ledger.PutSnapshot(done)
	ledger.LoadErr[3] = errors.New("snapshot unavailable")

	e, _ := newTestEngine(t, ledger, nil)
	report, err := e.Sweep(context.Background(), 2)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Projects != 4 {
		t.Fatalf("completed project must not be swept, visited %d", report.Projects)
	}
	if report.Succeeded != 3 || report.Failed != 1 || report.Created != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, ok := report.Failures[3]; !ok {
		t.Fatalf("failure of project 3 missing: %v", report.Failures)
	}
}

func TestSweepProjectsStopsOnCancelledContext(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.PutSnapshot(overrunSnapshot(1))
	e, _ := newTestEngine(t, ledger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := e.SweepProjects(ctx, []int{1}, 1)
	if report.Failed != 1 || len(ledger.Risks(1)) != 0 {
		t.Fatalf("cancelled sweep ran cycles: %+v", report)
	}
	if report.Duration < 0 || report.Duration > time.Second {
		t.Fatalf("duration %v", report.Duration)
	}
}
