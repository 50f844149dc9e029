package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"gorm.io/gorm"
)

// RiskTriggerRecord is the outbox row written in the same transaction as a project, task,
// budget line or expense change. A dispatcher publishes it after commit; a worker runs the
// detection cycle. The triggering write never waits on either.
type RiskTriggerRecord struct {
	ID            int           `gorm:"primary_key;index:idx_trigger_dispatch,priority:3;index:idx_trigger_process,priority:3" json:"id"`
	ProjectId     int           `gorm:"not null;index" json:"project_id"`
	Source        TriggerSource `gorm:"size:20;not null" json:"source"`
	ReferenceId   int           `json:"reference_id"`
	Action        TriggerAction `gorm:"type:enum('C','U','D')" json:"action"`
	ChangedFields string        `gorm:"size:255" json:"changed_fields"`
	// publish side (dispatcher)
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_trigger_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_trigger_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	// processing side (worker)
	ProcessingStatus     string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_trigger_process,priority:1" json:"processing_status"`
	ProcessAttempts      int        `gorm:"not null;default:0" json:"process_attempts"`
	NextProcessAttemptAt *time.Time `gorm:"index;index:idx_trigger_process,priority:2" json:"next_process_attempt_at"`
	LastProcessError     *string    `gorm:"type:text" json:"last_process_error"`
	ProcessedAt          *time.Time `gorm:"index" json:"processed_at"`
	CorrelationId        string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToRiskDetectionMessage(record RiskTriggerRecord) config.RiskDetectionMessage {
	return config.RiskDetectionMessage{
		ID:            record.ID,
		ProjectId:     record.ProjectId,
		Source:        string(record.Source),
		ReferenceId:   record.ReferenceId,
		Action:        string(record.Action),
		ChangedFields: utils.SplitAndTrim(record.ChangedFields),
		TriggeredAt:   record.CreatedAt,
		CorrelationId: record.CorrelationId,
	}
}

func changedFields(tx *gorm.DB, fields ...string) []string {
	var changed []string
	for _, f := range fields {
		if tx.Statement.Changed(f) {
			changed = append(changed, f)
		}
	}
	return changed
}

// enqueueRiskTrigger writes an outbox row on the caller's transaction.
// Failures are logged and swallowed: a detection request must never fail the write that caused it.
func enqueueRiskTrigger(tx *gorm.DB, projectId int, source TriggerSource, referenceId int, action TriggerAction, changed []string) {
	ctx := tx.Statement.Context
	if projectId <= 0 || !config.RiskTriggersEnabled() || utils.GetSkipRiskTriggersFromContext(ctx) {
		return
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if correlationId == "" {
		correlationId = uuid.NewString()
	}
	now := time.Now().UTC()
	record := RiskTriggerRecord{
		ProjectId:            projectId,
		Source:               source,
		ReferenceId:          referenceId,
		Action:               action,
		ChangedFields:        strings.Join(changed, ","),
		PublishStatus:        OutboxPublishStatusPending,
		NextAttemptAt:        &now,
		ProcessingStatus:     OutboxProcessStatusPending,
		NextProcessAttemptAt: &now,
		CorrelationId:        correlationId,
	}
	if err := tx.Session(&gorm.Session{NewDB: true}).Create(&record).Error; err != nil {
		config.LogError(config.GetLogger(), "models", "enqueueRiskTrigger", "insert trigger", record, err)
	}
}

// EnqueueManualRiskTrigger queues a detection for a project outside any entity write.
func EnqueueManualRiskTrigger(tx *gorm.DB, projectId int, source TriggerSource) (*RiskTriggerRecord, error) {
	correlationId, _ := utils.GetCorrelationIdFromContext(tx.Statement.Context)
	if correlationId == "" {
		correlationId = uuid.NewString()
	}
	now := time.Now().UTC()
	record := RiskTriggerRecord{
		ProjectId:            projectId,
		Source:               source,
		ReferenceId:          projectId,
		Action:               TriggerActionUpdate,
		PublishStatus:        OutboxPublishStatusPending,
		NextAttemptAt:        &now,
		ProcessingStatus:     OutboxProcessStatusPending,
		NextProcessAttemptAt: &now,
		CorrelationId:        correlationId,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}
