package riskengine

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/utils"
)

func ptr(v float64) *float64 { return &v }

// ComputeIndicators derives the project health indicators stored next to the risk ledger.
// Indicators whose inputs are missing are left out.
func ComputeIndicators(snapshot *models.ProjectSnapshot, th Thresholds, today time.Time) []models.RiskMetricSample {
	var out []models.RiskMetricSample
	progress := snapshot.Progress

	if planned := snapshot.TotalPlanned(); planned.IsPositive() {
		spentPct := utils.Percent(snapshot.TotalSpent(), planned)
		out = append(out, models.RiskMetricSample{
			Type:         models.RiskMetricBurnRate,
			Value:        spentPct - progress,
			ThresholdMax: ptr(th.BurnRateMarginPct),
			Notes:        fmt.Sprintf("chi %.1f%% / tiến độ %.1f%%", spentPct, progress),
		})
		if spentPct > 0 {
			out = append(out, models.RiskMetricSample{
				Type:         models.RiskMetricCPI,
				Value:        progress / spentPct,
				ThresholdMin: ptr(0.9),
			})
		}
	}

	if snapshot.StartDate != nil && snapshot.EndDate != nil {
		span := daysBetween(*snapshot.StartDate, *snapshot.EndDate)
		elapsed := daysBetween(*snapshot.StartDate, today)
		if span > 0 && elapsed > 0 {
			elapsedPct := utils.Clamp(float64(elapsed)/float64(span)*100, 0, 100)
			out = append(out, models.RiskMetricSample{
				Type:         models.RiskMetricSPI,
				Value:        progress / elapsedPct,
				ThresholdMin: ptr(0.9),
				Notes:        fmt.Sprintf("thời gian đã qua %.1f%%", elapsedPct),
			})
		}
	}

	if total := len(snapshot.Tasks); total > 0 {
		out = append(out, models.RiskMetricSample{
			Type:  models.RiskMetricVelocity,
			Value: float64(snapshot.DoneTaskCount()) / float64(total) * 100,
		})
	}

	if loads := activeWorkload(snapshot); len(loads) > 0 && th.OverloadActiveTasks > 0 {
		peak := 0
		for _, l := range loads {
			peak = max(peak, l.ActiveTasks)
		}
		out = append(out, models.RiskMetricSample{
			Type:         models.RiskMetricResourceUtilization,
			Value:        float64(peak) / float64(th.OverloadActiveTasks) * 100,
			ThresholdMax: ptr(100),
			Notes:        fmt.Sprintf("tối đa %d công việc đang mở / người", peak),
		})
	}
	return out
}
