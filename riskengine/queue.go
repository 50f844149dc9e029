package riskengine

import (
	"context"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/utils"
)

// DetectionRequest asks the worker for one cycle. Done, when set, is called with the outcome;
// a request coalesced into one already waiting never gets its own Done call.
type DetectionRequest struct {
	ProjectId     int
	Source        models.TriggerSource
	CorrelationId string
	Done          func(*DetectionResult, error)
}

type EnqueueResult int

const (
	EnqueueQueued EnqueueResult = iota
	// EnqueueCoalesced: a request for the project is already waiting and will see this change.
	EnqueueCoalesced
	// EnqueueDropped: the queue is full.
	EnqueueDropped
)

// Enqueue never blocks.
func (e *Engine) Enqueue(req DetectionRequest) EnqueueResult {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if _, ok := e.pending[req.ProjectId]; ok {
		return EnqueueCoalesced
	}
	select {
	case e.queue <- req:
		e.pending[req.ProjectId] = struct{}{}
		queueDepth.Inc()
		return EnqueueQueued
	default:
		queueDropped.Inc()
		config.LogWarn(e.logger, "riskengine", "Enqueue", "detection queue full, request dropped", req.ProjectId, errQueueFull)
		return EnqueueDropped
	}
}

// Run works the queue until ctx is done. Several Run goroutines may share one engine;
// the project locker keeps cycles of one project apart.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.queue:
			e.pendingMu.Lock()
			delete(e.pending, req.ProjectId)
			e.pendingMu.Unlock()
			queueDepth.Dec()
			e.handle(ctx, req)
		}
	}
}

func (e *Engine) handle(ctx context.Context, req DetectionRequest) {
	ctx = utils.SystemContext(ctx, "risk-worker:"+string(req.Source))
	if req.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, req.CorrelationId)
	}
	// DetectProject logs its own failures
	res, err := e.DetectProject(ctx, req.ProjectId)
	if req.Done != nil {
		req.Done(res, err)
	}
}
