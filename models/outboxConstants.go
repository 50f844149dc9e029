package models

// Publish statuses for RiskTriggerRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Processing statuses for RiskTriggerRecord.ProcessingStatus.
// These track the detection run, distinct from PublishStatus.
const (
	OutboxProcessStatusPending    = "PENDING"
	OutboxProcessStatusProcessing = "PROCESSING"
	OutboxProcessStatusSucceeded  = "SUCCEEDED"
	OutboxProcessStatusFailed     = "FAILED"
	OutboxProcessStatusDead       = "DEAD"
	// OutboxProcessStatusCoalesced marks a row folded into another row's run for the same project.
	OutboxProcessStatusCoalesced = "COALESCED"
)
