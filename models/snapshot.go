package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProjectSnapshot is the read-only view of a project that one detection cycle works on.
type ProjectSnapshot struct {
	ProjectId     int                 `json:"project_id"`
	Code          string              `json:"code"`
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Status        ProjectStatus       `json:"status"`
	ApprovalState ApprovalState       `json:"approval_state"`
	StartDate     *time.Time          `json:"start_date"`
	EndDate       *time.Time          `json:"end_date"`
	Progress      float64             `json:"progress"`
	ManagerId     *int                `json:"manager_id"`
	Tasks         []TaskSummary       `json:"tasks"`
	BudgetLines   []BudgetLineSummary `json:"budget_lines"`
	EmployeeNames map[int]string      `json:"employee_names,omitempty"`
}

type TaskSummary struct {
	Id            int        `json:"id"`
	Name          string     `json:"name"`
	Status        TaskStatus `json:"status"`
	CompletionPct float64    `json:"completion_pct"`
	StartDate     *time.Time `json:"start_date"`
	EndDate       *time.Time `json:"end_date"`
	AssigneeIds   []int      `json:"assignee_ids"`
}

type BudgetLineSummary struct {
	Id        int             `json:"id"`
	Name      string          `json:"name"`
	Planned   decimal.Decimal `json:"planned"`
	Allocated decimal.Decimal `json:"allocated"`
	Spent     decimal.Decimal `json:"spent"`
}

// IsClosed reports whether detection should stop for the project.
func (s *ProjectSnapshot) IsClosed() bool {
	return s.Status.IsClosed() || s.Progress >= 100
}

func (s *ProjectSnapshot) TotalPlanned() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.BudgetLines {
		total = total.Add(line.Planned)
	}
	return total
}

func (s *ProjectSnapshot) TotalSpent() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.BudgetLines {
		total = total.Add(line.Spent)
	}
	return total
}

func (s *ProjectSnapshot) DoneTaskCount() int {
	n := 0
	for _, t := range s.Tasks {
		if t.Status == TaskStatusDone {
			n++
		}
	}
	return n
}

// TeamSize counts distinct assignees over all tasks.
func (s *ProjectSnapshot) TeamSize() int {
	seen := make(map[int]struct{})
	for _, t := range s.Tasks {
		for _, id := range t.AssigneeIds {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// EmployeeName falls back to "#id" for employees missing from the snapshot.
func (s *ProjectSnapshot) EmployeeName(id int) string {
	if name, ok := s.EmployeeNames[id]; ok && name != "" {
		return name
	}
	return "#" + strconv.Itoa(id)
}

// Fingerprint changes whenever any field that feeds detection changes.
func (s *ProjectSnapshot) Fingerprint() string {
	b, _ := json.Marshal(s)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type taskAssigneeRow struct {
	TaskId     int
	EmployeeId int
}

// LoadProjectSnapshot reads the project with its tasks, assignees and budget lines.
func LoadProjectSnapshot(ctx context.Context, db *gorm.DB, projectId int) (*ProjectSnapshot, error) {
	db = db.WithContext(ctx)
	var project Project
	if err := db.First(&project, projectId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	var tasks []Task
	if err := db.Where("project_id = ?", projectId).Order("id").Find(&tasks).Error; err != nil {
		return nil, err
	}
	assignees := make(map[int][]int, len(tasks))
	var employeeIds []int
	if len(tasks) > 0 {
		taskIds := make([]int, 0, len(tasks))
		for _, t := range tasks {
			taskIds = append(taskIds, t.ID)
		}
		var rows []taskAssigneeRow
		if err := db.Table("task_assignees").
			Select("task_id, employee_id").
			Where("task_id IN ?", taskIds).
			Order("task_id, employee_id").
			Scan(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			assignees[row.TaskId] = append(assignees[row.TaskId], row.EmployeeId)
			employeeIds = append(employeeIds, row.EmployeeId)
		}
	}

	var lines []BudgetLine
	if err := db.Where("project_id = ?", projectId).Order("id").Find(&lines).Error; err != nil {
		return nil, err
	}

	names := make(map[int]string)
	if employeeIds = utils.UniqueSlice(employeeIds); len(employeeIds) > 0 {
		var employees []Employee
		if err := db.Where("id IN ?", employeeIds).Find(&employees).Error; err != nil {
			return nil, err
		}
		for _, e := range employees {
			names[e.ID] = e.Name
		}
	}

	snapshot := &ProjectSnapshot{
		ProjectId:     project.ID,
		Code:          project.Code,
		Name:          project.Name,
		Description:   project.Description,
		Status:        project.Status,
		ApprovalState: project.ApprovalState,
		StartDate:     project.StartDate,
		EndDate:       project.EndDate,
		Progress:      project.Progress,
		ManagerId:     project.ManagerId,
		EmployeeNames: names,
	}
	for _, t := range tasks {
		snapshot.Tasks = append(snapshot.Tasks, TaskSummary{
			Id:            t.ID,
			Name:          t.Name,
			Status:        t.Status,
			CompletionPct: t.CompletionPct,
			StartDate:     t.StartDate,
			EndDate:       t.EndDate,
			AssigneeIds:   assignees[t.ID],
		})
	}
	for _, l := range lines {
		snapshot.BudgetLines = append(snapshot.BudgetLines, BudgetLineSummary{
			Id:        l.ID,
			Name:      l.Name,
			Planned:   l.PlannedAmount,
			Allocated: l.AllocatedAmount,
			Spent:     l.SpentAmount,
		})
	}
	return snapshot, nil
}
