package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RiskMetricType string

const (
	RiskMetricCPI                 RiskMetricType = "cpi"
	RiskMetricSPI                 RiskMetricType = "spi"
	RiskMetricBurnRate            RiskMetricType = "burn_rate"
	RiskMetricVelocity            RiskMetricType = "velocity"
	RiskMetricResourceUtilization RiskMetricType = "resource_utilization"
)

// RiskMetricSample is one indicator value computed during a detection cycle.
type RiskMetricSample struct {
	Type         RiskMetricType `json:"type"`
	Value        float64        `json:"value"`
	ThresholdMin *float64       `json:"threshold_min"`
	ThresholdMax *float64       `json:"threshold_max"`
	Notes        string         `json:"notes"`
}

// IsAnomaly reports a value outside whichever thresholds are set.
func (s RiskMetricSample) IsAnomaly() bool {
	if s.ThresholdMin != nil && s.Value < *s.ThresholdMin {
		return true
	}
	return s.ThresholdMax != nil && s.Value > *s.ThresholdMax
}

// RiskMetric keeps one value per project, type and day; later cycles on the same day overwrite it.
type RiskMetric struct {
	ID           int            `gorm:"primary_key" json:"id"`
	ProjectId    int            `gorm:"not null;uniqueIndex:uniq_metric_day,priority:1" json:"project_id"`
	MetricType   RiskMetricType `gorm:"size:30;not null;uniqueIndex:uniq_metric_day,priority:2" json:"metric_type"`
	MetricDate   time.Time      `gorm:"type:date;not null;uniqueIndex:uniq_metric_day,priority:3" json:"metric_date"`
	Value        float64        `gorm:"not null" json:"value"`
	ThresholdMin *float64       `json:"threshold_min"`
	ThresholdMax *float64       `json:"threshold_max"`
	IsAnomaly    bool           `gorm:"not null;default:false;index" json:"is_anomaly"`
	Notes        string         `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func saveRiskMetrics(tx *gorm.DB, projectId int, day time.Time, samples []RiskMetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows := make([]RiskMetric, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, RiskMetric{
			ProjectId:    projectId,
			MetricType:   s.Type,
			MetricDate:   date,
			Value:        s.Value,
			ThresholdMin: s.ThresholdMin,
			ThresholdMax: s.ThresholdMax,
			IsAnomaly:    s.IsAnomaly(),
			Notes:        s.Notes,
		})
	}
	return tx.Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{"value", "threshold_min", "threshold_max", "is_anomaly", "notes", "updated_at"}),
	}).Create(&rows).Error
}

func ListRiskMetrics(ctx context.Context, projectId int, since time.Time) ([]*RiskMetric, error) {
	var metrics []*RiskMetric
	if err := config.GetDB().WithContext(ctx).
		Where("project_id = ? AND metric_date >= ?", projectId, since).
		Order("metric_date DESC, metric_type").
		Find(&metrics).Error; err != nil {
		return nil, err
	}
	return metrics, nil
}
