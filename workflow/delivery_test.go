package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
)

// These tests are DB-free: they pin the at-least-once delivery semantics the worker relies on.
// Durable idempotency and MySQL locks need a real MySQL instance.

type fakeProcessor struct {
	mu     sync.Mutex
	byProj map[int]*sync.Mutex
	seen   map[string]bool
	calls  int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{byProj: map[int]*sync.Mutex{}, seen: map[string]bool{}}
}

func (p *fakeProcessor) process(m config.RiskDetectionMessage, deliveryId string, fn func()) {
	p.mu.Lock()
	pm := p.byProj[m.ProjectId]
	if pm == nil {
		pm = &sync.Mutex{}
		p.byProj[m.ProjectId] = pm
	}
	p.mu.Unlock()

	pm.Lock()
	defer pm.Unlock()

	key := messageKey(m, deliveryId)
	p.mu.Lock()
	if p.seen[key] {
		p.mu.Unlock()
		return
	}
	p.seen[key] = true
	p.calls++
	p.mu.Unlock()
	fn()
}

func TestDuplicateDeliveryIsProcessedOnce(t *testing.T) {
	p := newFakeProcessor()
	m := config.RiskDetectionMessage{ID: 17, ProjectId: 1}

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// redeliveries carry a new broker id but the same outbox row
			p.process(m, time.Now().String(), func() {})
		}(i)
	}
	wg.Wait()
	if p.calls != 1 {
		t.Fatalf("expected exactly 1 processing call, got %d", p.calls)
	}
}

func TestMessageKey(t *testing.T) {
	if got := messageKey(config.RiskDetectionMessage{ID: 9}, "abc"); got != "trigger:9" {
		t.Fatalf("outbox message key = %q", got)
	}
	if got := messageKey(config.RiskDetectionMessage{}, "abc"); got != "msg:abc" {
		t.Fatalf("ad hoc message key = %q", got)
	}
}

func TestConcurrentCyclesKeepOneOpenRecordPerIdentity(t *testing.T) {
	ledger := riskengine.NewMemoryLedger()
	ledger.PutSnapshot(&models.ProjectSnapshot{
		ProjectId: 1,
		Status:    models.ProjectStatusInProgress,
		Progress:  10,
		BudgetLines: []models.BudgetLineSummary{{
			Planned: decimal.NewFromInt(100),
			Spent:   decimal.NewFromInt(150),
		}},
	})
	logger, _ := test.NewNullLogger()
	engine := riskengine.NewEngine(riskengine.Options{
		Ledger:    ledger,
		Snapshots: ledger,
		Locker:    NewProjectLocker("local", nil),
		Logger:    logger,
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.DetectProject(context.Background(), 1); err != nil {
				t.Errorf("DetectProject: %v", err)
			}
		}()
	}
	wg.Wait()

	open := 0
	for _, r := range ledger.Risks(1) {
		if !r.Status.IsTerminal() {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected one open record, got %d", open)
	}
}

func TestProcessMessageWithoutProjectIsAcked(t *testing.T) {
	logger, hook := test.NewNullLogger()
	w := &RiskDetectionWorker{Logger: logger}
	res, err := w.ProcessRiskDetectionMessage(context.Background(), config.RiskDetectionMessage{}, "m1")
	if res != nil || err != nil {
		t.Fatalf("got %v, %v", res, err)
	}
	if len(hook.AllEntries()) != 1 {
		t.Fatalf("invalid message should be logged once")
	}
}

func TestProcessRetryBackoff(t *testing.T) {
	cfg := ProcessRetryConfig{MaxAttempts: 5, BaseBackoff: 5 * time.Second, MaxBackoff: time.Minute}
	want := []time.Duration{5 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, time.Minute}
	for attempt, w := range want {
		if got := cfg.Backoff(attempt); got != w {
			t.Fatalf("Backoff(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestDispatcherPublishBackoff(t *testing.T) {
	d := &RiskTriggerDispatcher{InitialBackoff: 5 * time.Second}
	if got := d.publishBackoff(1); got != 5*time.Second {
		t.Fatalf("attempt 1: %v", got)
	}
	if got := d.publishBackoff(3); got != 20*time.Second {
		t.Fatalf("attempt 3: %v", got)
	}
	if got := d.publishBackoff(30); got != 10*time.Minute {
		t.Fatalf("attempt 30: %v", got)
	}
}

func TestNewProjectLockerDefaultsToLocal(t *testing.T) {
	if _, ok := NewProjectLocker("", nil).(*riskengine.LocalLocker); !ok {
		t.Fatalf("empty backend should use the in-process locker")
	}
}
