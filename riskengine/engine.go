package riskengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultAdvisoryTimeout = 20 * time.Second

// Options wires an Engine. Ledger and Snapshots are required; everything else has a default
// or is skipped when nil.
type Options struct {
	Ledger          Ledger
	Snapshots       SnapshotSource
	Advisory        AdvisorySource
	Locker          ProjectLocker
	Notifier        Notifier
	Metrics         MetricsRecorder
	Changes         ChangeListener
	Evaluators      EvaluatorSet
	Thresholds      *Thresholds
	Logger          *logrus.Logger
	AdvisoryTimeout time.Duration
	QueueSize       int
	Now             func() time.Time
}

// Engine runs detection cycles: evaluate, consult the advisory source, reconcile the ledger.
type Engine struct {
	ledger          Ledger
	snapshots       SnapshotSource
	advisory        AdvisorySource
	locker          ProjectLocker
	notifier        Notifier
	metrics         MetricsRecorder
	changes         ChangeListener
	evaluators      EvaluatorSet
	thresholds      Thresholds
	logger          *logrus.Logger
	advisoryTimeout time.Duration
	now             func() time.Time

	queue     chan DetectionRequest
	pendingMu sync.Mutex
	pending   map[int]struct{}
}

func NewEngine(opts Options) *Engine {
	th := DefaultThresholds()
	if opts.Thresholds != nil {
		th = *opts.Thresholds
	}
	e := &Engine{
		ledger:          opts.Ledger,
		snapshots:       opts.Snapshots,
		advisory:        opts.Advisory,
		locker:          opts.Locker,
		notifier:        opts.Notifier,
		metrics:         opts.Metrics,
		changes:         opts.Changes,
		evaluators:      opts.Evaluators,
		thresholds:      th,
		logger:          opts.Logger,
		advisoryTimeout: opts.AdvisoryTimeout,
		now:             opts.Now,
		pending:         make(map[int]struct{}),
	}
	if e.locker == nil {
		e.locker = NewLocalLocker()
	}
	if e.evaluators == nil {
		e.evaluators = DefaultEvaluators(th)
	}
	if e.logger == nil {
		e.logger = config.GetLogger()
	}
	if e.advisoryTimeout <= 0 {
		e.advisoryTimeout = defaultAdvisoryTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	e.queue = make(chan DetectionRequest, size)
	return e
}

// DetectionResult describes one finished cycle.
type DetectionResult struct {
	ProjectId  int                    `json:"project_id"`
	Closed     bool                   `json:"closed"`
	Resolved   int                    `json:"resolved"`
	Purged     int                    `json:"purged"`
	Candidates []models.RiskCandidate `json:"candidates"`
	Created    int                    `json:"created"`
	Updated    int                    `json:"updated"`
	Skipped    int                    `json:"skipped"`
	Advisory   int                    `json:"advisory"`
	StartedAt  time.Time              `json:"started_at"`
	Duration   time.Duration          `json:"duration"`
}

// DetectProject runs one serialized cycle for the project. This is the manual re-run entry point.
// Panics inside the cycle come back as ErrCyclePanic.
func (e *Engine) DetectProject(ctx context.Context, projectId int) (res *DetectionResult, err error) {
	started := e.now()
	ctx = utils.SetProjectIdInContext(ctx, projectId)
	ctx, span := tracer.Start(ctx, "riskengine.DetectProject", trace.WithAttributes(attribute.Int("project_id", projectId)))
	defer span.End()

	release, err := e.locker.Lock(ctx, projectId)
	if err != nil {
		detectionCycles.WithLabelValues("lock_failed").Inc()
		span.SetStatus(codes.Error, "lock")
		return nil, fmt.Errorf("lock project %d: %w", projectId, err)
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: project %d: %v", ErrCyclePanic, projectId, r)
		}
		detectionDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			detectionCycles.WithLabelValues("failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.WithFields(logrus.Fields{
				"module":     "riskengine",
				"funcName":   "DetectProject",
				"project_id": projectId,
			}).Error(err.Error())
			return
		}
		res.StartedAt = started
		res.Duration = time.Since(started)
		outcome := "detected"
		if res.Closed {
			outcome = "closed"
		}
		detectionCycles.WithLabelValues(outcome).Inc()
		span.SetAttributes(
			attribute.Int("candidates", len(res.Candidates)),
			attribute.Int("created", res.Created),
			attribute.Int("updated", res.Updated),
		)
	}()

	snapshot, err := e.snapshots.LoadSnapshot(ctx, projectId)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return e.Reconcile(ctx, snapshot)
}

// Preview assembles the candidates a cycle would reconcile, without touching the ledger.
// A closed project previews as nil.
func (e *Engine) Preview(ctx context.Context, projectId int) ([]models.RiskCandidate, error) {
	snapshot, err := e.snapshots.LoadSnapshot(ctx, projectId)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snapshot.IsClosed() {
		return nil, nil
	}
	candidates, _ := e.AssembleCandidates(ctx, snapshot)
	return candidates, nil
}
