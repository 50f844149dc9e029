package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// detectionQueue is the part of the engine the processor feeds.
type detectionQueue interface {
	Enqueue(req riskengine.DetectionRequest) riskengine.EnqueueResult
}

// OutboxDirectProcessor hands unprocessed trigger rows to the in-process engine queue without Pub/Sub.
type OutboxDirectProcessor struct {
	DB            *gorm.DB
	Logger        *logrus.Logger
	Queue         detectionQueue
	Tracker       *workflow.TriggerTracker
	WorkerID      string
	BatchSize     int
	Interval      time.Duration
	LockTTL       time.Duration
	ProcessingTTL time.Duration // reclaims rows left PROCESSING by a worker that died
	DropBackoff   time.Duration
}

func NewOutboxDirectProcessor(db *gorm.DB, logger *logrus.Logger, queue detectionQueue) *OutboxDirectProcessor {
	return &OutboxDirectProcessor{
		DB:            db,
		Logger:        logger,
		Queue:         queue,
		Tracker:       workflow.NewTriggerTracker(db, logger),
		WorkerID:      "direct-" + uuid.NewString()[:8],
		BatchSize:     50,
		Interval:      2 * time.Second,
		LockTTL:       30 * time.Second,
		ProcessingTTL: 10 * time.Minute,
		DropBackoff:   5 * time.Second,
	}
}

func (p *OutboxDirectProcessor) Run(ctx context.Context) {
	if p == nil || p.DB == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
	}
}

func (p *OutboxDirectProcessor) claim(ctx context.Context) ([]models.RiskTriggerRecord, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.LockTTL)
	stuckBefore := now.Add(-p.ProcessingTTL)

	var claimed []models.RiskTriggerRecord
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("(processing_status IN ? AND (next_process_attempt_at IS NULL OR next_process_attempt_at <= ?) AND (locked_at IS NULL OR locked_at <= ?))"+
				" OR (processing_status = ? AND locked_at <= ?)",
				[]string{models.OutboxProcessStatusPending, models.OutboxProcessStatusFailed}, now, staleBefore,
				models.OutboxProcessStatusProcessing, stuckBefore).
			Order("id ASC").
			Limit(p.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]int, 0, len(claimed))
		for _, rec := range claimed {
			ids = append(ids, rec.ID)
		}
		return tx.Model(&models.RiskTriggerRecord{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"locked_at": &now,
				"locked_by": p.WorkerID,
			}).Error
	})
	return claimed, err
}

// groupByProject keeps first-seen project order; one cycle covers every row of a project.
func groupByProject(records []models.RiskTriggerRecord) ([]int, map[int][]models.RiskTriggerRecord) {
	var order []int
	groups := make(map[int][]models.RiskTriggerRecord)
	for _, rec := range records {
		if _, ok := groups[rec.ProjectId]; !ok {
			order = append(order, rec.ProjectId)
		}
		groups[rec.ProjectId] = append(groups[rec.ProjectId], rec)
	}
	return order, groups
}

func (p *OutboxDirectProcessor) processOnce(ctx context.Context) {
	claimed, err := p.claim(ctx)
	if err != nil {
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{"field": "OutboxDirectProcessor"}).Warn("claim failed: " + err.Error())
		}
		return
	}
	if len(claimed) == 0 {
		return
	}

	order, groups := groupByProject(claimed)
	for _, projectId := range order {
		p.dispatch(ctx, projectId, groups[projectId])
	}
}

func (p *OutboxDirectProcessor) dispatch(ctx context.Context, projectId int, records []models.RiskTriggerRecord) {
	ids := make([]int, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	last := records[len(records)-1]

	p.Tracker.MarkProcessing(ctx, ids...)
	result := p.Queue.Enqueue(riskengine.DetectionRequest{
		ProjectId:     projectId,
		Source:        last.Source,
		CorrelationId: last.CorrelationId,
		Done: func(res *riskengine.DetectionResult, err error) {
			// ctx may be gone by now; the outcome still has to be written.
			doneCtx := context.WithoutCancel(ctx)
			if err != nil {
				for _, id := range ids {
					p.Tracker.MarkFailed(doneCtx, id, err)
				}
				return
			}
			p.Tracker.MarkSucceeded(doneCtx, ids...)
		},
	})

	switch result {
	case riskengine.EnqueueCoalesced:
		p.Tracker.MarkCoalesced(ctx, ids...)
	case riskengine.EnqueueDropped:
		p.Tracker.Defer(ctx, p.DropBackoff, ids...)
	}
}
