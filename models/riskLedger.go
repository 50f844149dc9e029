package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// GormRiskLedger is the MySQL-backed risk ledger and project snapshot store used by the
// detection engine.
type GormRiskLedger struct {
	DB *gorm.DB
}

func NewGormRiskLedger(db *gorm.DB) *GormRiskLedger {
	return &GormRiskLedger{DB: db}
}

func (l *GormRiskLedger) LoadSnapshot(ctx context.Context, projectId int) (*ProjectSnapshot, error) {
	return LoadProjectSnapshot(ctx, l.DB, projectId)
}

// ListSweepProjects returns ids of projects still worth a scheduled detection.
func (l *GormRiskLedger) ListSweepProjects(ctx context.Context) ([]int, error) {
	var ids []int
	if err := l.DB.WithContext(ctx).Model(&Project{}).
		Where("status IN ?", SweepProjectStatuses).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ResolveOpenAIRisks closes every open AI-detected risk of the project.
func (l *GormRiskLedger) ResolveOpenAIRisks(ctx context.Context, projectId int, resolvedAt time.Time) (int, error) {
	res := l.DB.WithContext(ctx).Session(&gorm.Session{SkipHooks: true}).
		Model(&RiskRecord{}).
		Where("project_id = ? AND is_ai_detected = ? AND status IN ?", projectId, true, OpenRiskStatuses).
		Updates(map[string]interface{}{
			"status":        RiskStatusResolved,
			"resolved_date": resolvedAt,
			"open_key":      nil,
		})
	return int(res.RowsAffected), res.Error
}

// PurgeStaleAIRisks deletes AI-detected risks nobody has started working on.
func (l *GormRiskLedger) PurgeStaleAIRisks(ctx context.Context, projectId int) (int, error) {
	res := l.DB.WithContext(ctx).
		Where("project_id = ? AND is_ai_detected = ? AND status IN ?", projectId, true, PurgeableRiskStatuses).
		Delete(&RiskRecord{})
	return int(res.RowsAffected), res.Error
}

// FindOpenRisk returns nil, nil when no open record carries the identity.
func (l *GormRiskLedger) FindOpenRisk(ctx context.Context, projectId int, riskType RiskType, name string) (*RiskRecord, error) {
	var risk RiskRecord
	err := l.DB.WithContext(ctx).
		Where("project_id = ? AND risk_type = ? AND name = ? AND status IN ?", projectId, riskType, name, OpenRiskStatuses).
		Order("id").
		First(&risk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &risk, nil
}

func (l *GormRiskLedger) CreateRisk(ctx context.Context, risk *RiskRecord) error {
	if err := l.DB.WithContext(ctx).Create(risk).Error; err != nil {
		if IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: %s/%s", ErrRiskConflict, risk.RiskType, risk.Name)
		}
		return err
	}
	return nil
}

// UpdateRiskValues refreshes the mutable values of an open record in one transaction.
// A record closed or removed since it was found is a conflict.
func (l *GormRiskLedger) UpdateRiskValues(ctx context.Context, riskId int, candidate RiskCandidate) error {
	return l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		risk, err := lockRiskRecord(tx, riskId)
		if err != nil {
			return fmt.Errorf("%w: risk %d: %v", ErrRiskConflict, riskId, err)
		}
		if risk.Status.IsTerminal() {
			return fmt.Errorf("%w: risk %d is %s", ErrRiskConflict, riskId, risk.Status)
		}
		risk.ApplyCandidate(candidate)
		return saveRiskColumns(tx, risk, "Probability", "Impact", "Description", "RootCause", "MitigationPlan", "Confidence").Error
	})
}

// NotifyDetection posts a message to the project's activity log.
func (l *GormRiskLedger) NotifyDetection(ctx context.Context, projectId int, candidates []RiskCandidate) error {
	if len(candidates) == 0 {
		return nil
	}
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, "- "+c.Name)
	}
	body := fmt.Sprintf("AI đã tự động phát hiện %d rủi ro tiềm ẩn. Vào mục quản lý rủi ro để xem chi tiết.\n%s",
		len(candidates), strings.Join(names, "\n"))
	return recordActivity(l.DB.WithContext(ctx), projectId, ActivityTypeDetection, "AI phát hiện rủi ro", body, projectId, "projects")
}

func (l *GormRiskLedger) RecordMetrics(ctx context.Context, projectId int, day time.Time, samples []RiskMetricSample) error {
	return saveRiskMetrics(l.DB.WithContext(ctx), projectId, day, samples)
}
