package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"gorm.io/gorm"
)

// RiskTriggerStatus is the UI view of the latest detection trigger for a project.
type RiskTriggerStatus struct {
	RecordId             int        `json:"record_id"`
	ProjectId            int        `json:"project_id"`
	Source               string     `json:"source"`
	PublishStatus        string     `json:"publish_status"`
	ProcessingStatus     string     `json:"processing_status"`
	PublishAttempts      int        `json:"publish_attempts"`
	ProcessAttempts      int        `json:"process_attempts"`
	NextAttemptAt        *time.Time `json:"next_attempt_at"`
	NextProcessAttemptAt *time.Time `json:"next_process_attempt_at"`
	LastPublishError     *string    `json:"last_publish_error"`
	LastProcessError     *string    `json:"last_process_error"`
	CreatedAt            time.Time  `json:"created_at"`
	PublishedAt          *time.Time `json:"published_at"`
	ProcessedAt          *time.Time `json:"processed_at"`
	PendingCount         int64      `json:"pending_count"`
	LastSweepAt          *time.Time `json:"last_sweep_at"`
}

func GetRiskTriggerStatus(ctx context.Context, projectId int) (*RiskTriggerStatus, error) {
	db := config.GetDB().WithContext(ctx)
	var rec RiskTriggerRecord
	if err := db.Where("project_id = ?", projectId).Order("id DESC").First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	var pending int64
	if err := db.Model(&RiskTriggerRecord{}).
		Where("project_id = ? AND processing_status IN ?", projectId,
			[]string{OutboxProcessStatusPending, OutboxProcessStatusProcessing, OutboxProcessStatusFailed}).
		Count(&pending).Error; err != nil {
		return nil, err
	}

	return &RiskTriggerStatus{
		RecordId:             rec.ID,
		ProjectId:            rec.ProjectId,
		Source:               string(rec.Source),
		PublishStatus:        rec.PublishStatus,
		ProcessingStatus:     rec.ProcessingStatus,
		PublishAttempts:      rec.PublishAttempts,
		ProcessAttempts:      rec.ProcessAttempts,
		NextAttemptAt:        rec.NextAttemptAt,
		NextProcessAttemptAt: rec.NextProcessAttemptAt,
		LastPublishError:     rec.LastPublishError,
		LastProcessError:     rec.LastProcessError,
		CreatedAt:            rec.CreatedAt,
		PublishedAt:          rec.PublishedAt,
		ProcessedAt:          rec.ProcessedAt,
		PendingCount:         pending,
	}, nil
}

// ReprocessRiskTriggers puts failed or dead triggers of a project back in the queue.
func ReprocessRiskTriggers(ctx context.Context, projectId int) (*RiskTriggerStatus, error) {
	now := time.Now().UTC()
	res := config.GetDB().WithContext(ctx).
		Model(&RiskTriggerRecord{}).
		Where("project_id = ? AND processing_status IN ?", projectId,
			[]string{OutboxProcessStatusFailed, OutboxProcessStatusDead}).
		Updates(map[string]interface{}{
			"locked_at":               nil,
			"locked_by":               nil,
			"publish_status":          OutboxPublishStatusPending,
			"next_attempt_at":         &now,
			"processing_status":       OutboxProcessStatusPending,
			"process_attempts":        0,
			"next_process_attempt_at": &now,
			"last_process_error":      nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return GetRiskTriggerStatus(ctx, projectId)
}
