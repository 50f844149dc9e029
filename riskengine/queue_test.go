package riskengine

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
)

func TestEnqueueCoalescesAndDrops(t *testing.T) {
	ledger := NewMemoryLedger()
	e := NewEngine(Options{Ledger: ledger, Snapshots: ledger, QueueSize: 1})

	if got := e.Enqueue(DetectionRequest{ProjectId: 1, Source: models.TriggerSourceTask}); got != EnqueueQueued {
		t.Fatalf("first request: %v", got)
	}
	if got := e.Enqueue(DetectionRequest{ProjectId: 1, Source: models.TriggerSourceBudgetLine}); got != EnqueueCoalesced {
		t.Fatalf("second request for a pending project: %v", got)
	}
	if got := e.Enqueue(DetectionRequest{ProjectId: 2}); got != EnqueueDropped {
		t.Fatalf("request on a full queue: %v", got)
	}
}

func TestRunProcessesQueuedRequests(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.PutSnapshot(overrunSnapshot(1))
	ledger.PutSnapshot(overrunSnapshot(2))
	e := NewEngine(Options{Ledger: ledger, Snapshots: ledger, Now: func() time.Time { return testToday }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	done := make(chan int, 2)
	for _, id := range []int{1, 2} {
		e.Enqueue(DetectionRequest{
			ProjectId: id,
			Source:    models.TriggerSourceProject,
			Done: func(res *DetectionResult, err error) {
				if err != nil {
					t.Errorf("project %d: %v", id, err)
					done <- -1
					return
				}
				done <- res.Created
			},
		})
	}
	for i := 0; i < 2; i++ {
		select {
		case created := <-done:
			if created != 1 {
				t.Fatalf("created = %d, want 1", created)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("worker did not finish")
		}
	}

	// once dequeued, the project can be queued again
	if got := e.Enqueue(DetectionRequest{ProjectId: 1}); got != EnqueueQueued {
		t.Fatalf("re-enqueue after completion: %v", got)
	}
}
