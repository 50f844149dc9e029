package models_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
)

// One container for the whole ledger suite; every subtest works on its own project.
func TestGormRiskLedgerAgainstMySQL(t *testing.T) {
	connectIntegrationDB(t)

	ctx := utils.SystemContext(context.Background(), "integration-test")
	db := config.GetDB()
	ledger := models.NewGormRiskLedger(db)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	newProject := func(t *testing.T, status models.ProjectStatus) *models.Project {
		t.Helper()
		p, err := models.CreateProject(ctx, &models.NewProject{Name: "Kho vận " + t.Name(), Status: status})
		if err != nil {
			t.Fatalf("CreateProject: %v", err)
		}
		return p
	}
	openRisk := func(projectId int, name string) *models.RiskRecord {
		return models.NewRiskRecordFromCandidate(projectId, models.RiskCandidate{
			Type:        models.RiskTypeBudget,
			Name:        name,
			Probability: 50,
			Impact:      5,
			Confidence:  80,
			Source:      models.CandidateSourceRule,
		}, now, nil)
	}

	t.Run("closed and open records share an identity", func(t *testing.T) {
		p := newProject(t, models.ProjectStatusInProgress)
		if err := ledger.CreateRisk(ctx, openRisk(p.ID, "Vượt ngân sách 5.0%")); err != nil {
			t.Fatalf("CreateRisk: %v", err)
		}
		n, err := ledger.ResolveOpenAIRisks(ctx, p.ID, now)
		if err != nil || n != 1 {
			t.Fatalf("ResolveOpenAIRisks = %d, %v", n, err)
		}
		var nullKeys int64
		if err := db.Model(&models.RiskRecord{}).Where("project_id = ? AND open_key IS NULL", p.ID).Count(&nullKeys).Error; err != nil {
			t.Fatalf("count: %v", err)
		}
		if nullKeys != 1 {
			t.Fatalf("resolved record keeps its open key")
		}

		if err := ledger.CreateRisk(ctx, openRisk(p.ID, "Vượt ngân sách 5.0%")); err != nil {
			t.Fatalf("fresh open record next to a resolved one: %v", err)
		}
		err = ledger.CreateRisk(ctx, openRisk(p.ID, "Vượt ngân sách 5.0%"))
		if !errors.Is(err, models.ErrRiskConflict) {
			t.Fatalf("second open record err = %v, want ErrRiskConflict", err)
		}
	})

	t.Run("update recomputes score and level", func(t *testing.T) {
		p := newProject(t, models.ProjectStatusInProgress)
		risk := openRisk(p.ID, "Tiến độ chậm")
		if err := ledger.CreateRisk(ctx, risk); err != nil {
			t.Fatalf("CreateRisk: %v", err)
		}
		if risk.RiskScore != 25 || risk.RiskLevel != models.RiskLevelLow {
			t.Fatalf("created score/level = %v/%s", risk.RiskScore, risk.RiskLevel)
		}

		err := ledger.UpdateRiskValues(ctx, risk.ID, models.RiskCandidate{
			Type: models.RiskTypeBudget, Name: risk.Name, Probability: 80, Impact: 10, Confidence: 90,
		})
		if err != nil {
			t.Fatalf("UpdateRiskValues: %v", err)
		}
		got, err := models.GetRiskRecord(ctx, risk.ID)
		if err != nil {
			t.Fatalf("GetRiskRecord: %v", err)
		}
		if got.RiskScore != 80 || got.RiskLevel != models.RiskLevelCritical {
			t.Fatalf("updated score/level = %v/%s, want 80/critical", got.RiskScore, got.RiskLevel)
		}
		if got.Status != models.RiskStatusIdentified || !got.DetectedDate.Equal(now) {
			t.Fatalf("status or detected date changed: %s %v", got.Status, got.DetectedDate)
		}
	})

	t.Run("closed project cycle stamps resolved date", func(t *testing.T) {
		p := newProject(t, models.ProjectStatusCompleted)
		risk := openRisk(p.ID, "Thiếu nhân lực")
		risk.Status = models.RiskStatusMitigating
		if err := ledger.CreateRisk(ctx, risk); err != nil {
			t.Fatalf("CreateRisk: %v", err)
		}
		engine := riskengine.NewEngine(riskengine.Options{
			Ledger:    ledger,
			Snapshots: ledger,
			Now:       func() time.Time { return now },
		})
		res, err := engine.DetectProject(ctx, p.ID)
		if err != nil {
			t.Fatalf("DetectProject: %v", err)
		}
		if !res.Closed || res.Resolved != 1 {
			t.Fatalf("result = %+v", res)
		}
		got, err := models.GetRiskRecord(ctx, risk.ID)
		if err != nil {
			t.Fatalf("GetRiskRecord: %v", err)
		}
		if got.Status != models.RiskStatusResolved || got.ResolvedDate == nil || !got.ResolvedDate.Equal(now) {
			t.Fatalf("record after closed cycle: %s %v", got.Status, got.ResolvedDate)
		}
	})

	t.Run("task status update writes one trigger", func(t *testing.T) {
		p := newProject(t, models.ProjectStatusInProgress)
		task, err := models.CreateTask(ctx, &models.NewTask{ProjectId: p.ID, Name: "Khảo sát"})
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		countUpdates := func() int64 {
			var n int64
			if err := db.Model(&models.RiskTriggerRecord{}).
				Where("source = ? AND reference_id = ? AND action = ?", models.TriggerSourceTask, task.ID, models.TriggerActionUpdate).
				Count(&n).Error; err != nil {
				t.Fatalf("count triggers: %v", err)
			}
			return n
		}

		if _, err := models.UpdateTask(ctx, task.ID, &models.NewTask{Name: "Khảo sát", Status: models.TaskStatusInProgress}); err != nil {
			t.Fatalf("UpdateTask status: %v", err)
		}
		if got := countUpdates(); got != 1 {
			t.Fatalf("triggers after status change = %d, want 1", got)
		}

		// a rename touches no trigger field
		if _, err := models.UpdateTask(ctx, task.ID, &models.NewTask{Name: "Khảo sát hiện trạng"}); err != nil {
			t.Fatalf("UpdateTask rename: %v", err)
		}
		if got := countUpdates(); got != 1 {
			t.Fatalf("triggers after rename = %d, want 1", got)
		}
	})

	t.Run("project delete clears assignees and risks", func(t *testing.T) {
		p := newProject(t, models.ProjectStatusInProgress)
		emp, err := models.CreateEmployee(ctx, &models.NewEmployee{Code: "NV-DEL", Name: "Lan"})
		if err != nil {
			t.Fatalf("CreateEmployee: %v", err)
		}
		task, err := models.CreateTask(ctx, &models.NewTask{ProjectId: p.ID, Name: "Thi công", AssigneeIds: []int{emp.ID}})
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		if err := ledger.CreateRisk(ctx, openRisk(p.ID, "Chi phí phát sinh")); err != nil {
			t.Fatalf("CreateRisk: %v", err)
		}

		if _, err := models.DeleteProject(ctx, p.ID); err != nil {
			t.Fatalf("DeleteProject: %v", err)
		}
		var links, risks int64
		db.Table("task_assignees").Where("task_id = ?", task.ID).Count(&links)
		db.Model(&models.RiskRecord{}).Where("project_id = ?", p.ID).Count(&risks)
		if links != 0 || risks != 0 {
			t.Fatalf("left behind: %d assignee links, %d risks", links, risks)
		}
	})
}
