package riskengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
)

// ResourceEvaluator flags employees carrying more active tasks than the overload threshold.
type ResourceEvaluator struct {
	Thresholds Thresholds
}

func (ResourceEvaluator) Name() string { return "resource" }

type employeeLoad struct {
	EmployeeId  int
	ActiveTasks int
}

// activeWorkload counts active tasks per employee, in first-seen order.
func activeWorkload(snapshot *models.ProjectSnapshot) []employeeLoad {
	index := make(map[int]int)
	var loads []employeeLoad
	for _, t := range snapshot.Tasks {
		if !t.Status.IsActive() {
			continue
		}
		for _, id := range t.AssigneeIds {
			i, ok := index[id]
			if !ok {
				i = len(loads)
				index[id] = i
				loads = append(loads, employeeLoad{EmployeeId: id})
			}
			loads[i].ActiveTasks++
		}
	}
	return loads
}

func (e ResourceEvaluator) Evaluate(snapshot *models.ProjectSnapshot, _ time.Time) []models.RiskCandidate {
	if snapshot == nil || len(snapshot.Tasks) == 0 {
		return nil
	}
	var overloaded []employeeLoad
	for _, load := range activeWorkload(snapshot) {
		if load.ActiveTasks > e.Thresholds.OverloadActiveTasks {
			overloaded = append(overloaded, load)
		}
	}
	if len(overloaded) == 0 {
		return nil
	}

	lines := make([]string, 0, len(overloaded))
	for _, load := range overloaded {
		lines = append(lines, fmt.Sprintf("- %s: %d công việc", snapshot.EmployeeName(load.EmployeeId), load.ActiveTasks))
	}
	return []models.RiskCandidate{{
		Type:        models.RiskTypeResource,
		Name:        fmt.Sprintf("Rủi ro nguồn lực: %d nhân viên overload", len(overloaded)),
		Description: fmt.Sprintf("Phát hiện %d nhân viên bị overload:\n%s", len(overloaded), strings.Join(lines, "\n")),
		Probability: float64(min(len(overloaded)*20+40, 95)),
		Impact:      7,
		RootCause: "Phân bổ công việc không hợp lý:\n" +
			"- Một số nhân viên nhận quá nhiều task\n" +
			"- Thiếu resource planning\n" +
			"- Key persons bị phụ thuộc quá nhiều",
		MitigationPlan: "Giải pháp:\n" +
			"✓ Cân bằng lại workload giữa các thành viên\n" +
			"✓ Reassign tasks từ người overload sang người rảnh\n" +
			"✓ Bổ sung thêm nhân sự nếu cần\n" +
			"✓ Ưu tiên task theo mức độ quan trọng",
		Confidence: 85,
		Source:     models.CandidateSourceRule,
	}}
}
