package riskengine

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
)

// Evaluator inspects a snapshot and reports rule-based candidates. Implementations are pure:
// the same snapshot and day always give the same candidates, and missing data gives none.
type Evaluator interface {
	Name() string
	Evaluate(snapshot *models.ProjectSnapshot, today time.Time) []models.RiskCandidate
}

// EvaluatorSet runs its evaluators in registration order.
type EvaluatorSet []Evaluator

func DefaultEvaluators(th Thresholds) EvaluatorSet {
	return EvaluatorSet{
		ScheduleEvaluator{Thresholds: th},
		BudgetEvaluator{Thresholds: th},
		ResourceEvaluator{Thresholds: th},
	}
}

func (s EvaluatorSet) Evaluate(snapshot *models.ProjectSnapshot, today time.Time) []models.RiskCandidate {
	var out []models.RiskCandidate
	for _, e := range s {
		out = append(out, e.Evaluate(snapshot, today)...)
	}
	return out
}

// needsDefaultCandidate is true for a brand-new project the rules have nothing to say about.
func needsDefaultCandidate(snapshot *models.ProjectSnapshot, ruleCandidates []models.RiskCandidate) bool {
	return len(ruleCandidates) == 0 && len(snapshot.Tasks) == 0 && len(snapshot.BudgetLines) == 0
}

// InsufficientInformationCandidate keeps an empty project from reading as risk-free.
func InsufficientInformationCandidate(snapshot *models.ProjectSnapshot) models.RiskCandidate {
	return models.RiskCandidate{
		Type:        models.RiskTypeScope,
		Name:        "Dự án mới thiếu thông tin",
		Description: fmt.Sprintf("Dự án \"%s\" vừa được tạo nhưng chưa có công việc và ngân sách. Cần bổ sung thông tin chi tiết.", snapshot.Name),
		Probability: 70,
		Impact:      6,
		RootCause:   "Dự án ở giai đoạn khởi tạo, chưa có kế hoạch chi tiết.",
		MitigationPlan: "1. Họp kickoff meeting\n" +
			"2. Xác định scope và deliverables\n" +
			"3. Lập danh sách công việc\n" +
			"4. Phân bổ ngân sách\n" +
			"5. Assign team members",
		Confidence: 85,
		Source:     models.CandidateSourceDefault,
	}
}
