package models

import (
	"encoding/json"
	"errors"
)

type RiskType string

const (
	RiskTypeSchedule RiskType = "schedule"
	RiskTypeBudget   RiskType = "budget"
	RiskTypeResource RiskType = "resource"
	RiskTypeQuality  RiskType = "quality"
	RiskTypeScope    RiskType = "scope"
)

var ErrInvalidRiskType = errors.New("invalid risk type")

func ParseRiskType(s string) (RiskType, error) {
	switch s {
	case "schedule":
		return RiskTypeSchedule, nil
	case "budget":
		return RiskTypeBudget, nil
	case "resource":
		return RiskTypeResource, nil
	case "quality":
		return RiskTypeQuality, nil
	case "scope":
		return RiskTypeScope, nil
	}
	return "", ErrInvalidRiskType
}

func (t RiskType) IsValid() bool {
	_, err := ParseRiskType(string(t))
	return err == nil
}

// Label is the display name used in reports and notifications.
func (t RiskType) Label() string {
	switch t {
	case RiskTypeSchedule:
		return "Tiến độ"
	case RiskTypeBudget:
		return "Ngân sách"
	case RiskTypeResource:
		return "Nguồn lực"
	case RiskTypeQuality:
		return "Chất lượng"
	case RiskTypeScope:
		return "Phạm vi"
	}
	return string(t)
}

func (t *RiskType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("risk type must be string")
	}
	v, err := ParseRiskType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Badge is a short marker used in display names.
func (l RiskLevel) Badge() string {
	switch l {
	case RiskLevelCritical:
		return "[CRITICAL]"
	case RiskLevelHigh:
		return "[HIGH]"
	case RiskLevelMedium:
		return "[MEDIUM]"
	case RiskLevelLow:
		return "[LOW]"
	}
	return ""
}

type RiskStatus string

const (
	RiskStatusIdentified RiskStatus = "identified"
	RiskStatusAnalyzing  RiskStatus = "analyzing"
	RiskStatusMitigating RiskStatus = "mitigating"
	RiskStatusResolved   RiskStatus = "resolved"
	RiskStatusAccepted   RiskStatus = "accepted"
)

func (s RiskStatus) IsTerminal() bool {
	return s == RiskStatusResolved || s == RiskStatusAccepted
}

// OpenRiskStatuses are the non-terminal statuses, in lifecycle order.
var OpenRiskStatuses = []RiskStatus{RiskStatusIdentified, RiskStatusAnalyzing, RiskStatusMitigating}

// PurgeableRiskStatuses are the statuses no human has started acting on yet.
var PurgeableRiskStatuses = []RiskStatus{RiskStatusIdentified, RiskStatusAnalyzing}

type ProjectStatus string

const (
	ProjectStatusNotStarted ProjectStatus = "not_started"
	ProjectStatusInProgress ProjectStatus = "in_progress"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusDelayed    ProjectStatus = "delayed"
	ProjectStatusCancelled  ProjectStatus = "cancelled"
)

func (s ProjectStatus) IsClosed() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusCancelled
}

func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectStatusNotStarted, ProjectStatusInProgress, ProjectStatusCompleted, ProjectStatusDelayed, ProjectStatusCancelled:
		return true
	}
	return false
}

// SweepProjectStatuses are the statuses the scheduled sweep visits.
var SweepProjectStatuses = []ProjectStatus{ProjectStatusNotStarted, ProjectStatusInProgress}

type ApprovalState string

const (
	ApprovalStateDraft    ApprovalState = "draft"
	ApprovalStatePending  ApprovalState = "pending"
	ApprovalStateApproved ApprovalState = "approved"
	ApprovalStateRejected ApprovalState = "rejected"
)

func (s ApprovalState) IsValid() bool {
	switch s {
	case ApprovalStateDraft, ApprovalStatePending, ApprovalStateApproved, ApprovalStateRejected:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskStatusNew        TaskStatus = "new"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsActive reports whether the task counts toward an assignee's workload.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusNew || s == TaskStatusInProgress
}

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusNew, TaskStatusInProgress, TaskStatusDone, TaskStatusCancelled:
		return true
	}
	return false
}

// TriggerSource names the entity whose write asked for a detection cycle.
type TriggerSource string

const (
	TriggerSourceProject    TriggerSource = "project"
	TriggerSourceTask       TriggerSource = "task"
	TriggerSourceBudgetLine TriggerSource = "budget_line"
	TriggerSourceExpense    TriggerSource = "expense"
	TriggerSourceManual     TriggerSource = "manual"
	TriggerSourceSweep      TriggerSource = "sweep"
)

type TriggerAction string

const (
	TriggerActionCreate TriggerAction = "C"
	TriggerActionUpdate TriggerAction = "U"
	TriggerActionDelete TriggerAction = "D"
)
