package riskengine

import (
	"fmt"
	"math"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
)

// ScheduleEvaluator checks the overdue-task ratio and deadline proximity. Both rules may fire.
type ScheduleEvaluator struct {
	Thresholds Thresholds
}

func (ScheduleEvaluator) Name() string { return "schedule" }

func (e ScheduleEvaluator) Evaluate(snapshot *models.ProjectSnapshot, today time.Time) []models.RiskCandidate {
	if snapshot == nil || len(snapshot.Tasks) == 0 {
		return nil
	}
	th := e.Thresholds
	today = truncateDay(today)
	var out []models.RiskCandidate

	delayed := 0
	for _, t := range snapshot.Tasks {
		if t.EndDate != nil && truncateDay(*t.EndDate).Before(today) && t.Status != models.TaskStatusDone {
			delayed++
		}
	}
	total := len(snapshot.Tasks)
	ratio := float64(delayed) / float64(total) * 100

	if ratio > th.OverdueRatioPct {
		impact := 6.0
		if ratio > th.OverdueSevereRatioPct {
			impact = 8.0
		}
		out = append(out, models.RiskCandidate{
			Type:        models.RiskTypeSchedule,
			Name:        fmt.Sprintf("Rủi ro tiến độ: %.0f%% công việc trễ hạn", ratio),
			Description: fmt.Sprintf("Phát hiện %d/%d công việc (%.1f%%) bị trễ hạn.", delayed, total, ratio),
			Probability: math.Min(ratio, 100),
			Impact:      impact,
			RootCause: "Nguyên nhân có thể do:\n" +
				"- Ước lượng thời gian không chính xác\n" +
				"- Thiếu nguồn lực hoặc nhân viên overload\n" +
				"- Các vấn đề kỹ thuật phát sinh\n" +
				"- Dependency giữa các task bị chậm",
			MitigationPlan: "Đề xuất khắc phục:\n" +
				"✓ Review lại timeline và ưu tiên công việc quan trọng\n" +
				"✓ Bổ sung nguồn lực cho các task critical\n" +
				"✓ Tổ chức daily standup để theo dõi sát sao\n" +
				"✓ Cân nhắc extend deadline hoặc giảm scope",
			Confidence: 85,
			Source:     models.CandidateSourceRule,
		})
	}

	if snapshot.EndDate != nil {
		daysRemaining := daysBetween(today, *snapshot.EndDate)
		if daysRemaining > 0 && daysRemaining <= th.DeadlineWindowDays && snapshot.Progress < th.DeadlineMinProgress {
			out = append(out, models.RiskCandidate{
				Type:        models.RiskTypeSchedule,
				Name:        fmt.Sprintf("Nguy cơ cao trễ deadline (%d ngày)", daysRemaining),
				Description: fmt.Sprintf("Dự án còn %d ngày nhưng chỉ hoàn thành %.1f%%.", daysRemaining, snapshot.Progress),
				Probability: 90,
				Impact:      9,
				RootCause:   "Tốc độ thực hiện quá chậm so với kế hoạch. Nguy cơ cao không hoàn thành đúng hạn.",
				MitigationPlan: "Hành động khẩn cấp:\n" +
					"✓ Tập trung 100% team vào các task còn lại\n" +
					"✓ Cut scope: Loại bỏ features không cần thiết\n" +
					"✓ Làm thêm giờ hoặc thuê thêm freelancer\n" +
					"✓ Thông báo stakeholder về khả năng delay",
				Confidence: 90,
				Source:     models.CandidateSourceRule,
			})
		}
	}
	return out
}
