package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
)

type RiskCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type RiskSummaryResponse struct {
	ProjectId    *int                 `json:"project_id,omitempty"`
	OpenCount    int64                `json:"open_count"`
	ClosedCount  int64                `json:"closed_count"`
	AverageScore float64              `json:"average_score"`
	ByLevel      []RiskCount          `json:"by_level"`
	ByType       []RiskCount          `json:"by_type"`
	ByStatus     []RiskCount          `json:"by_status"`
	TopOpenRisks []*models.RiskRecord `json:"top_open_risks"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

func riskSummaryCacheKey(projectId *int) string {
	if projectId == nil {
		return "riskSummary:all"
	}
	return fmt.Sprintf("riskSummary:%d", *projectId)
}

// InvalidateRiskSummary drops the cached summaries touched by a detection on the project.
func InvalidateRiskSummary(ctx context.Context, projectId int) error {
	return config.RemoveRedisKey(ctx, riskSummaryCacheKey(&projectId), riskSummaryCacheKey(nil))
}

// SummaryInvalidator drops cached summaries whenever a detection cycle changed a project's records.
type SummaryInvalidator struct{}

func (SummaryInvalidator) LedgerChanged(ctx context.Context, projectId int) error {
	return InvalidateRiskSummary(ctx, projectId)
}

func countRisksBy(ctx context.Context, column string, projectId *int, openOnly bool) ([]RiskCount, error) {
	q := config.GetDB().WithContext(ctx).Model(&models.RiskRecord{}).
		Select(column + " AS `key`, COUNT(*) AS count").
		Group(column).
		Order(column)
	if projectId != nil {
		q = q.Where("project_id = ?", *projectId)
	}
	if openOnly {
		q = q.Where("status IN ?", models.OpenRiskStatuses)
	}
	var counts []RiskCount
	if err := q.Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

// GetRiskSummary aggregates the ledger for one project, or all projects when projectId is nil.
// Level and type counts cover open risks only.
func GetRiskSummary(ctx context.Context, projectId *int) (*RiskSummaryResponse, error) {
	started := time.Now()
	cacheKey := riskSummaryCacheKey(projectId)
	if reportCacheEnabled() {
		var cached RiskSummaryResponse
		if ok, err := cacheGet(ctx, cacheKey, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	resp := RiskSummaryResponse{ProjectId: projectId, GeneratedAt: time.Now().UTC()}
	var err error
	if resp.ByLevel, err = countRisksBy(ctx, "risk_level", projectId, true); err != nil {
		return nil, err
	}
	if resp.ByType, err = countRisksBy(ctx, "risk_type", projectId, true); err != nil {
		return nil, err
	}
	if resp.ByStatus, err = countRisksBy(ctx, "status", projectId, false); err != nil {
		return nil, err
	}
	for _, c := range resp.ByStatus {
		if models.RiskStatus(c.Key).IsTerminal() {
			resp.ClosedCount += c.Count
		} else {
			resp.OpenCount += c.Count
		}
	}

	q := config.GetDB().WithContext(ctx).Model(&models.RiskRecord{}).Where("status IN ?", models.OpenRiskStatuses)
	if projectId != nil {
		q = q.Where("project_id = ?", *projectId)
	}
	if err := q.Select("COALESCE(AVG(risk_score), 0)").Scan(&resp.AverageScore).Error; err != nil {
		return nil, err
	}

	open, err := models.ListRisks(ctx, models.RiskFilter{ProjectId: projectId, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	if len(open) > 5 {
		open = open[:5]
	}
	resp.TopOpenRisks = open

	if reportCacheEnabled() {
		_ = cacheSet(ctx, cacheKey, resp, reportCacheTTL())
	}
	logSlowReport(ctx, "riskSummary", started, map[string]any{"project_id": projectId})
	return &resp, nil
}
