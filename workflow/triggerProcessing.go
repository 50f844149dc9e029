package workflow

import (
	"context"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ProcessRetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func GetProcessRetryConfig() ProcessRetryConfig {
	cfg := ProcessRetryConfig{
		MaxAttempts: 10,
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  10 * time.Minute,
	}
	if v := os.Getenv("OUTBOX_PROCESS_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("OUTBOX_PROCESS_BASE_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BaseBackoff = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("OUTBOX_PROCESS_MAX_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBackoff = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// Backoff is base * 2^(attempt-1), capped.
func (cfg ProcessRetryConfig) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return cfg.BaseBackoff
	}
	delay := time.Duration(float64(cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if delay > cfg.MaxBackoff || delay <= 0 {
		return cfg.MaxBackoff
	}
	return delay
}

// TriggerTracker records the detection outcome on trigger rows.
type TriggerTracker struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Retry  ProcessRetryConfig
}

func NewTriggerTracker(db *gorm.DB, logger *logrus.Logger) *TriggerTracker {
	return &TriggerTracker{DB: db, Logger: logger, Retry: GetProcessRetryConfig()}
}

func (t *TriggerTracker) MarkProcessing(ctx context.Context, ids ...int) {
	if len(ids) == 0 {
		return
	}
	_ = t.DB.WithContext(ctx).Model(&models.RiskTriggerRecord{}).
		Where("id IN ? AND processing_status <> ?", ids, models.OutboxProcessStatusDead).
		Updates(map[string]interface{}{"processing_status": models.OutboxProcessStatusProcessing}).Error
}

func (t *TriggerTracker) MarkSucceeded(ctx context.Context, ids ...int) {
	t.markTerminal(ctx, models.OutboxProcessStatusSucceeded, ids)
}

// MarkCoalesced closes rows whose change another queued cycle will pick up.
func (t *TriggerTracker) MarkCoalesced(ctx context.Context, ids ...int) {
	t.markTerminal(ctx, models.OutboxProcessStatusCoalesced, ids)
}

func (t *TriggerTracker) markTerminal(ctx context.Context, status string, ids []int) {
	if len(ids) == 0 {
		return
	}
	now := time.Now().UTC()
	_ = t.DB.WithContext(ctx).Model(&models.RiskTriggerRecord{}).
		Where("id IN ? AND processing_status <> ?", ids, models.OutboxProcessStatusDead).
		Updates(map[string]interface{}{
			"processing_status":       status,
			"processed_at":            &now,
			"next_process_attempt_at": nil,
			"last_process_error":      nil,
			"locked_at":               nil,
			"locked_by":               nil,
		}).Error
}

// Defer puts rows back to PENDING to be picked up again after delay, without counting an attempt.
func (t *TriggerTracker) Defer(ctx context.Context, delay time.Duration, ids ...int) {
	if len(ids) == 0 {
		return
	}
	next := time.Now().UTC().Add(delay)
	_ = t.DB.WithContext(ctx).Model(&models.RiskTriggerRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"processing_status":       models.OutboxProcessStatusPending,
			"next_process_attempt_at": &next,
			"locked_at":               nil,
			"locked_by":               nil,
		}).Error
}

// MarkFailed counts an attempt and schedules a retry; it reports whether the row is now DEAD.
func (t *TriggerTracker) MarkFailed(ctx context.Context, id int, cause error) bool {
	if id <= 0 {
		return false
	}
	db := t.DB.WithContext(ctx)
	errMsg := cause.Error()

	var rec models.RiskTriggerRecord
	if err := db.Select("id", "project_id", "process_attempts").Where("id = ?", id).First(&rec).Error; err != nil {
		_ = db.Model(&models.RiskTriggerRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
			"last_process_error": &errMsg,
			"processing_status":  models.OutboxProcessStatusFailed,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
		return false
	}

	attempts := rec.ProcessAttempts + 1
	status := models.OutboxProcessStatusFailed
	var nextAttemptAt *time.Time
	if attempts >= t.Retry.MaxAttempts {
		status = models.OutboxProcessStatusDead
	} else {
		next := time.Now().UTC().Add(t.Retry.Backoff(attempts))
		nextAttemptAt = &next
	}
	_ = db.Model(&models.RiskTriggerRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_process_error":      &errMsg,
		"process_attempts":        attempts,
		"next_process_attempt_at": nextAttemptAt,
		"processing_status":       status,
		"locked_at":               nil,
		"locked_by":               nil,
	}).Error

	t.Logger.WithFields(logrus.Fields{
		"module":            "workflow",
		"funcName":          "MarkFailed",
		"project_id":        rec.ProjectId,
		"record_id":         id,
		"processing_status": status,
		"process_attempts":  attempts,
	}).Error("trigger processing failed: " + errMsg)
	return status == models.OutboxProcessStatusDead
}
