package workflow

import (
	"context"
	"errors"
	"strconv"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const RiskDetectionHandler = "risk-detection"

var ErrInvalidMessage = errors.New("invalid risk detection message")

// Detector runs one serialized detection cycle; *riskengine.Engine satisfies it.
type Detector interface {
	DetectProject(ctx context.Context, projectId int) (*riskengine.DetectionResult, error)
}

// RiskDetectionWorker handles detection requests delivered by Pub/Sub, push or pull.
type RiskDetectionWorker struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Detector Detector
	Tracker  *TriggerTracker
}

func NewRiskDetectionWorker(db *gorm.DB, logger *logrus.Logger, detector Detector) *RiskDetectionWorker {
	return &RiskDetectionWorker{
		DB:       db,
		Logger:   logger,
		Detector: detector,
		Tracker:  NewTriggerTracker(db, logger),
	}
}

// messageKey prefers the outbox row id so a republished row is still recognised.
func messageKey(m config.RiskDetectionMessage, deliveryId string) string {
	if m.ID > 0 {
		return "trigger:" + strconv.Itoa(m.ID)
	}
	return "msg:" + deliveryId
}

// ProcessRiskDetectionMessage runs the cycle for one delivery. A nil result with a nil error
// means the message was already handled. A returned error asks the broker to redeliver.
func (w *RiskDetectionWorker) ProcessRiskDetectionMessage(ctx context.Context, m config.RiskDetectionMessage, deliveryId string) (*riskengine.DetectionResult, error) {
	if m.ProjectId <= 0 {
		config.LogError(w.Logger, "workflow", "ProcessRiskDetectionMessage", "message without project", m, ErrInvalidMessage)
		return nil, nil
	}
	ctx = utils.SystemContext(ctx, "risk-worker:"+m.Source)
	if m.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, m.CorrelationId)
	}
	key := messageKey(m, deliveryId)
	db := w.DB.WithContext(ctx)

	skip, err := BeginIdempotency(db, m.ProjectId, RiskDetectionHandler, key)
	if err != nil {
		return nil, err
	}
	if skip {
		w.Logger.WithFields(logrus.Fields{
			"module":     "workflow",
			"project_id": m.ProjectId,
			"message_id": key,
		}).Info("duplicate detection message skipped")
		return nil, nil
	}

	if m.ID > 0 {
		w.Tracker.MarkProcessing(ctx, m.ID)
	}
	res, err := w.Detector.DetectProject(ctx, m.ProjectId)
	if err != nil {
		_ = MarkIdempotencyFailed(db, m.ProjectId, RiskDetectionHandler, key, err)
		if m.ID > 0 && w.Tracker.MarkFailed(ctx, m.ID, err) {
			// DEAD rows are acknowledged; the next write or sweep runs the project again.
			return nil, nil
		}
		return nil, err
	}

	if err := MarkIdempotencySucceeded(db, m.ProjectId, RiskDetectionHandler, key); err != nil {
		config.LogWarn(w.Logger, "workflow", "ProcessRiskDetectionMessage", "mark idempotency succeeded", key, err)
	}
	if m.ID > 0 {
		w.Tracker.MarkSucceeded(ctx, m.ID)
	}
	return res, nil
}
