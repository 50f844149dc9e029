package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"gorm.io/gorm"
)

type ActivityType string

const (
	ActivityTypeDetection    ActivityType = "detection"
	ActivityTypeRiskStatus   ActivityType = "risk_status"
	ActivityTypeRiskUpdate   ActivityType = "risk_update"
	ActivityTypeRiskEnhanced ActivityType = "risk_enhanced"
	ActivityTypeApproval     ActivityType = "approval"
)

// ProjectActivity is the project's message log: detection notices, approvals and risk changes.
type ProjectActivity struct {
	ID            int          `gorm:"primary_key" json:"id"`
	ProjectId     int          `gorm:"index;not null" json:"project_id"`
	ActivityType  ActivityType `gorm:"size:30;not null;index" json:"activity_type"`
	Subject       string       `gorm:"size:255" json:"subject"`
	Body          string       `gorm:"type:text" json:"body"`
	ReferenceId   int          `gorm:"index" json:"reference_id"`
	ReferenceType string       `gorm:"size:50" json:"reference_type"`
	UserId        int          `gorm:"index" json:"user_id"`
	UserName      string       `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

func recordActivity(tx *gorm.DB,
	projectId int,
	activityType ActivityType,
	subject string,
	body string,
	referenceId int,
	referenceType string) error {

	ctx := tx.Statement.Context
	activity := ProjectActivity{
		ProjectId:     projectId,
		ActivityType:  activityType,
		Subject:       subject,
		Body:          body,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
	}
	// system runs (sweep, triggers) carry no user id
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		activity.UserId = userId
	}
	if userName, ok := utils.GetUserNameFromContext(ctx); ok {
		activity.UserName = userName
	}
	return tx.Session(&gorm.Session{NewDB: true}).Create(&activity).Error
}

func ListProjectActivities(ctx context.Context, projectId int, limit int) ([]*ProjectActivity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var activities []*ProjectActivity
	if err := config.GetDB().WithContext(ctx).
		Where("project_id = ?", projectId).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&activities).Error; err != nil {
		return nil, err
	}
	return activities, nil
}
