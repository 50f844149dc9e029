package riskengine

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/shopspring/decimal"
)

var testToday = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

func day(offset int) *time.Time {
	d := truncateDay(testToday).AddDate(0, 0, offset)
	return &d
}

func tasks(n int, mk func(i int) models.TaskSummary) []models.TaskSummary {
	out := make([]models.TaskSummary, n)
	for i := range out {
		out[i] = mk(i)
		out[i].Id = i + 1
		if out[i].Name == "" {
			out[i].Name = fmt.Sprintf("task %d", i+1)
		}
	}
	return out
}

func budget(planned, spent int64) []models.BudgetLineSummary {
	return []models.BudgetLineSummary{{
		Id:        1,
		Name:      "Chi phí chung",
		Planned:   decimal.NewFromInt(planned),
		Allocated: decimal.NewFromInt(planned),
		Spent:     decimal.NewFromInt(spent),
	}}
}

func TestScheduleEvaluatorOverdueRatio(t *testing.T) {
	snap := &models.ProjectSnapshot{
		ProjectId: 1,
		Status:    models.ProjectStatusInProgress,
		Tasks: tasks(10, func(i int) models.TaskSummary {
			if i < 4 {
				return models.TaskSummary{Status: models.TaskStatusInProgress, EndDate: day(-3)}
			}
			return models.TaskSummary{Status: models.TaskStatusNew, EndDate: day(10)}
		}),
	}
	got := ScheduleEvaluator{Thresholds: DefaultThresholds()}.Evaluate(snap, testToday)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(got), got)
	}
	c := got[0]
	if c.Type != models.RiskTypeSchedule || c.Probability != 40 || c.Impact != 6 {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if c.Name != "Rủi ro tiến độ: 40% công việc trễ hạn" {
		t.Fatalf("name = %q", c.Name)
	}
	if c.Description != "Phát hiện 4/10 công việc (40.0%) bị trễ hạn." {
		t.Fatalf("description = %q", c.Description)
	}
}

func TestScheduleEvaluatorSevereRatioRaisesImpact(t *testing.T) {
	snap := &models.ProjectSnapshot{
		Tasks: tasks(4, func(i int) models.TaskSummary {
			if i < 3 {
				return models.TaskSummary{Status: models.TaskStatusNew, EndDate: day(-1)}
			}
			return models.TaskSummary{Status: models.TaskStatusDone, EndDate: day(-1)}
		}),
	}
	got := ScheduleEvaluator{Thresholds: DefaultThresholds()}.Evaluate(snap, testToday)
	if len(got) != 1 || got[0].Impact != 8 || got[0].Probability != 75 {
		t.Fatalf("unexpected candidates %+v", got)
	}
}

func TestScheduleEvaluatorIgnoresTasksDueToday(t *testing.T) {
	snap := &models.ProjectSnapshot{
		Tasks: tasks(2, func(int) models.TaskSummary {
			return models.TaskSummary{Status: models.TaskStatusNew, EndDate: day(0)}
		}),
	}
	if got := (ScheduleEvaluator{Thresholds: DefaultThresholds()}).Evaluate(snap, testToday); len(got) != 0 {
		t.Fatalf("tasks due today are not overdue, got %+v", got)
	}
}

func TestScheduleEvaluatorDeadline(t *testing.T) {
	snap := &models.ProjectSnapshot{
		Progress: 30,
		EndDate:  day(10),
		Tasks: tasks(1, func(int) models.TaskSummary {
			return models.TaskSummary{Status: models.TaskStatusInProgress, EndDate: day(5)}
		}),
	}
	got := ScheduleEvaluator{Thresholds: DefaultThresholds()}.Evaluate(snap, testToday)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	if got[0].Name != "Nguy cơ cao trễ deadline (10 ngày)" || got[0].Probability != 90 || got[0].Impact != 9 {
		t.Fatalf("unexpected candidate %+v", got[0])
	}

	snap.Progress = 70
	if got := (ScheduleEvaluator{Thresholds: DefaultThresholds()}).Evaluate(snap, testToday); len(got) != 0 {
		t.Fatalf("progress at threshold must not fire, got %+v", got)
	}
	snap.Progress = 30
	snap.EndDate = day(0)
	if got := (ScheduleEvaluator{Thresholds: DefaultThresholds()}).Evaluate(snap, testToday); len(got) != 0 {
		t.Fatalf("deadline today must not fire, got %+v", got)
	}
}

func TestScheduleEvaluatorIsIdempotent(t *testing.T) {
	snap := &models.ProjectSnapshot{
		Progress: 10,
		EndDate:  day(20),
		Tasks: tasks(5, func(i int) models.TaskSummary {
			return models.TaskSummary{Status: models.TaskStatusNew, EndDate: day(i - 3)}
		}),
	}
	ev := ScheduleEvaluator{Thresholds: DefaultThresholds()}
	first := ev.Evaluate(snap, testToday)
	second := ev.Evaluate(snap, testToday)
	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.Name != b.Name || a.Type != b.Type || a.Probability != b.Probability || a.Impact != b.Impact {
			t.Fatalf("candidate %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestBudgetEvaluatorOverrunOnly(t *testing.T) {
	snap := &models.ProjectSnapshot{Progress: 10, BudgetLines: budget(1_000_000, 1_200_000)}
	got := BudgetEvaluator{Thresholds: DefaultThresholds()}.Evaluate(snap, testToday)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want exactly 1", len(got))
	}
	c := got[0]
	if c.Probability != 100 || c.Impact != 10 || c.Confidence != 95 {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if c.Name != "Vượt ngân sách 20.0%" {
		t.Fatalf("name = %q", c.Name)
	}
	if !strings.Contains(c.Description, "1,200,000 VND") || !strings.Contains(c.Description, "200,000 VND") {
		t.Fatalf("description = %q", c.Description)
	}
}

func TestBudgetEvaluatorTiers(t *testing.T) {
	cases := []struct {
		name     string
		planned  int64
		spent    int64
		progress float64
		wantName string
		wantP    float64
	}{
		{"burn rate", 100, 50, 20, "Burn rate cao: Chi 50% vs Tiến độ 20%", 80},
		{"nearly exhausted", 100, 85, 70, "Cảnh báo: Sắp hết ngân sách (85%)", 70},
		{"healthy", 100, 40, 30, "", 0},
		{"exactly planned", 100, 100, 90, "Cảnh báo: Sắp hết ngân sách (100%)", 70},
	}
	for _, c := range cases {
		snap := &models.ProjectSnapshot{Progress: c.progress, BudgetLines: budget(c.planned, c.spent)}
		got := BudgetEvaluator{Thresholds: DefaultThresholds()}.Evaluate(snap, testToday)
		if c.wantName == "" {
			if len(got) != 0 {
				t.Fatalf("%s: want no candidate, got %+v", c.name, got)
			}
			continue
		}
		if len(got) != 1 || got[0].Name != c.wantName || got[0].Probability != c.wantP {
			t.Fatalf("%s: got %+v", c.name, got)
		}
	}
}

func TestBudgetEvaluatorSkipsZeroPlanned(t *testing.T) {
	snap := &models.ProjectSnapshot{BudgetLines: budget(0, 500)}
	if got := (BudgetEvaluator{Thresholds: DefaultThresholds()}).Evaluate(snap, testToday); got != nil {
		t.Fatalf("want nil, got %+v", got)
	}
}

func TestResourceEvaluatorSingleOverloadedEmployee(t *testing.T) {
	snap := &models.ProjectSnapshot{
		EmployeeNames: map[int]string{7: "Nguyễn Văn A"},
		Tasks: tasks(6, func(int) models.TaskSummary {
			return models.TaskSummary{Status: models.TaskStatusInProgress, AssigneeIds: []int{7}}
		}),
	}
	got := ResourceEvaluator{Thresholds: DefaultThresholds()}.Evaluate(snap, testToday)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	c := got[0]
	if c.Probability != 60 || c.Impact != 7 || c.Name != "Rủi ro nguồn lực: 1 nhân viên overload" {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if !strings.Contains(c.Description, "- Nguyễn Văn A: 6 công việc") {
		t.Fatalf("description = %q", c.Description)
	}
}

func TestResourceEvaluatorCountsOnlyActiveTasks(t *testing.T) {
	snap := &models.ProjectSnapshot{
		Tasks: tasks(8, func(i int) models.TaskSummary {
			status := models.TaskStatusNew
			if i%2 == 0 {
				status = models.TaskStatusDone
			}
			return models.TaskSummary{Status: status, AssigneeIds: []int{3}}
		}),
	}
	if got := (ResourceEvaluator{Thresholds: DefaultThresholds()}).Evaluate(snap, testToday); got != nil {
		t.Fatalf("4 active tasks is not an overload, got %+v", got)
	}
}

func TestResourceEvaluatorProbabilityCap(t *testing.T) {
	var ts []models.TaskSummary
	for emp := 1; emp <= 4; emp++ {
		for i := 0; i < 6; i++ {
			ts = append(ts, models.TaskSummary{Id: len(ts) + 1, Status: models.TaskStatusNew, AssigneeIds: []int{emp}})
		}
	}
	got := ResourceEvaluator{Thresholds: DefaultThresholds()}.Evaluate(&models.ProjectSnapshot{Tasks: ts}, testToday)
	if len(got) != 1 || got[0].Probability != 95 {
		t.Fatalf("got %+v, want one candidate capped at 95", got)
	}
	if !strings.Contains(got[0].Description, "- #1: 6 công việc\n- #2: 6 công việc") {
		t.Fatalf("employees must be listed in first-seen order: %q", got[0].Description)
	}
}

func TestThresholdsAreOverridable(t *testing.T) {
	th := DefaultThresholds()
	th.OverloadActiveTasks = 2
	snap := &models.ProjectSnapshot{
		Tasks: tasks(3, func(int) models.TaskSummary {
			return models.TaskSummary{Status: models.TaskStatusNew, AssigneeIds: []int{1}}
		}),
	}
	if got := (ResourceEvaluator{Thresholds: th}).Evaluate(snap, testToday); len(got) != 1 {
		t.Fatalf("lowered overload threshold should fire, got %+v", got)
	}
}

func TestComputeIndicators(t *testing.T) {
	snap := &models.ProjectSnapshot{
		Progress:    40,
		StartDate:   day(-50),
		EndDate:     day(50),
		BudgetLines: budget(1000, 800),
		Tasks: tasks(4, func(i int) models.TaskSummary {
			if i == 0 {
				return models.TaskSummary{Status: models.TaskStatusDone, AssigneeIds: []int{1}}
			}
			return models.TaskSummary{Status: models.TaskStatusNew, AssigneeIds: []int{1}}
		}),
	}
	samples := ComputeIndicators(snap, DefaultThresholds(), testToday)
	byType := make(map[models.RiskMetricType]models.RiskMetricSample)
	for _, s := range samples {
		byType[s.Type] = s
	}
	if s := byType[models.RiskMetricBurnRate]; s.Value != 40 || !s.IsAnomaly() {
		t.Fatalf("burn rate sample %+v", s)
	}
	if s := byType[models.RiskMetricCPI]; s.Value != 0.5 || !s.IsAnomaly() {
		t.Fatalf("cpi sample %+v", s)
	}
	if s := byType[models.RiskMetricSPI]; s.Value != 0.8 {
		t.Fatalf("spi sample %+v", s)
	}
	if s := byType[models.RiskMetricVelocity]; s.Value != 25 {
		t.Fatalf("velocity sample %+v", s)
	}
	if s := byType[models.RiskMetricResourceUtilization]; s.Value != 60 || s.IsAnomaly() {
		t.Fatalf("utilization sample %+v", s)
	}
}

func TestFormatVND(t *testing.T) {
	if got := formatVND(decimal.NewFromInt(1200000)); got != "1,200,000" {
		t.Fatalf("formatVND = %q", got)
	}
}
