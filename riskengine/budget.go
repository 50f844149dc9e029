package riskengine

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/utils"
)

// BudgetEvaluator applies the tiered budget rules; at most one fires per cycle.
type BudgetEvaluator struct {
	Thresholds Thresholds
}

func (BudgetEvaluator) Name() string { return "budget" }

func (e BudgetEvaluator) Evaluate(snapshot *models.ProjectSnapshot, _ time.Time) []models.RiskCandidate {
	if snapshot == nil || len(snapshot.BudgetLines) == 0 {
		return nil
	}
	planned := snapshot.TotalPlanned()
	spent := snapshot.TotalSpent()
	if !planned.IsPositive() {
		return nil
	}
	th := e.Thresholds
	spentPct := utils.Percent(spent, planned)
	progress := snapshot.Progress

	switch {
	case spentPct > 100:
		return []models.RiskCandidate{{
			Type:        models.RiskTypeBudget,
			Name:        fmt.Sprintf("Vượt ngân sách %.1f%%", spentPct-100),
			Description: fmt.Sprintf("Đã chi %s VND, vượt ngân sách %s VND (%.1f%%).", formatVND(spent), formatVND(spent.Sub(planned)), spentPct),
			Probability: 100,
			Impact:      10,
			RootCause: "Ngân sách đã bị vượt:\n" +
				"- Ước lượng chi phí ban đầu không chính xác\n" +
				"- Phát sinh chi phí ngoài dự kiến\n" +
				"- Thiếu kiểm soát chi tiêu",
			MitigationPlan: "Khắc phục ngay:\n" +
				"✓ DỪNG mọi chi tiêu không cần thiết\n" +
				"✓ Review lại tất cả expenses và cắt giảm\n" +
				"✓ Xin bổ sung ngân sách hoặc điều chỉnh scope\n" +
				"✓ Thiết lập approval process chặt chẽ hơn",
			Confidence: 95,
			Source:     models.CandidateSourceRule,
		}}
	case spentPct > progress+th.BurnRateMarginPct:
		return []models.RiskCandidate{{
			Type:        models.RiskTypeBudget,
			Name:        fmt.Sprintf("Burn rate cao: Chi %.0f%% vs Tiến độ %.0f%%", spentPct, progress),
			Description: fmt.Sprintf("Đã chi %.1f%% ngân sách nhưng chỉ hoàn thành %.1f%% công việc.", spentPct, progress),
			Probability: 80,
			Impact:      7,
			RootCause: "Chi tiêu nhanh hơn tiến độ:\n" +
				"- Front-loading expenses (chi nhiều ở giai đoạn đầu)\n" +
				"- Năng suất làm việc thấp\n" +
				"- Chi phí cố định cao",
			MitigationPlan: "Hành động:\n" +
				"✓ Phân tích chi tiết từng khoản chi\n" +
				"✓ Tối ưu hóa chi phí, loại bỏ waste\n" +
				"✓ Dự báo budget cuối kỳ (EAC)\n" +
				"✓ Tăng tốc độ hoàn thành công việc",
			Confidence: 80,
			Source:     models.CandidateSourceRule,
		}}
	case spentPct > th.NearlyExhaustedPct:
		return []models.RiskCandidate{{
			Type:        models.RiskTypeBudget,
			Name:        fmt.Sprintf("Cảnh báo: Sắp hết ngân sách (%.0f%%)", spentPct),
			Description: fmt.Sprintf("Đã sử dụng %.1f%% ngân sách, còn lại %s VND.", spentPct, formatVND(planned.Sub(spent))),
			Probability: 70,
			Impact:      6,
			RootCause:   "Ngân sách sắp cạn kiệt",
			MitigationPlan: "Cảnh báo:\n" +
				"✓ Theo dõi sát sao mọi chi tiêu\n" +
				"✓ Chuẩn bị kế hoạch dự phòng\n" +
				"✓ Đàm phán với nhà cung cấp để giảm cost",
			Confidence: 75,
			Source:     models.CandidateSourceRule,
		}}
	}
	return nil
}
