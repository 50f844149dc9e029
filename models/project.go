package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Project struct {
	ID            int           `gorm:"primary_key" json:"id"`
	Code          string        `gorm:"size:20;uniqueIndex" json:"code"`
	Name          string        `gorm:"size:255;not null" json:"name"`
	Description   string        `gorm:"type:text" json:"description"`
	Status        ProjectStatus `gorm:"size:20;not null;default:not_started;index" json:"status"`
	ApprovalState ApprovalState `gorm:"size:20;not null;default:draft" json:"approval_state"`
	RejectReason  string        `gorm:"type:text" json:"reject_reason,omitempty"`
	StartDate     *time.Time    `gorm:"type:date" json:"start_date"`
	EndDate       *time.Time    `gorm:"type:date" json:"end_date"`
	Progress      float64       `gorm:"not null;default:0" json:"progress"`
	ManagerId     *int          `gorm:"index" json:"manager_id"`
	Manager       *Employee     `gorm:"foreignKey:ManagerId" json:"manager,omitempty"`
	Tasks         []Task        `gorm:"constraint:OnDelete:CASCADE" json:"tasks,omitempty"`
	BudgetLines   []BudgetLine  `gorm:"constraint:OnDelete:CASCADE" json:"budget_lines,omitempty"`
	Risks         []RiskRecord  `gorm:"constraint:OnDelete:CASCADE" json:"risks,omitempty"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProject struct {
	Name        string        `json:"name" validate:"required,max=255"`
	Description string        `json:"description"`
	Status      ProjectStatus `json:"status"`
	StartDate   *time.Time    `json:"start_date"`
	EndDate     *time.Time    `json:"end_date"`
	ManagerId   *int          `json:"manager_id"`
	Progress    *float64      `json:"progress" validate:"omitempty,gte=0,lte=100"`
}

// Fields whose change asks for a new detection cycle.
var projectTriggerFields = []string{"Progress", "Status", "EndDate", "StartDate", "ApprovalState"}

var ErrProjectApproval = errors.New("invalid project approval action")

// Core tasks created when a project is approved and has no tasks yet.
var coreTaskNames = []string{
	"Khởi động dự án và thống nhất phạm vi",
	"Lên kế hoạch và phân bổ nguồn lực",
	"Kiểm tra chất lượng",
	"Báo cáo định kỳ",
	"Đóng gói và bàn giao",
}

func (input *NewProject) validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.Status != "" && !input.Status.IsValid() {
		return fmt.Errorf("invalid project status %q", input.Status)
	}
	if input.StartDate != nil && input.EndDate != nil && input.EndDate.Before(*input.StartDate) {
		return errors.New("end date must not be before start date")
	}
	if input.ManagerId != nil {
		if _, err := GetEmployee(ctx, *input.ManagerId); err != nil {
			return errors.New("manager not found")
		}
	}
	return nil
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.Code != "" {
		return nil
	}
	code, err := nextProjectCode(tx)
	if err != nil {
		return err
	}
	p.Code = code
	return nil
}

func (p *Project) AfterCreate(tx *gorm.DB) error {
	enqueueRiskTrigger(tx, p.ID, TriggerSourceProject, p.ID, TriggerActionCreate, nil)
	return nil
}

func (p *Project) BeforeUpdate(tx *gorm.DB) error {
	if changed := changedFields(tx, projectTriggerFields...); len(changed) > 0 {
		enqueueRiskTrigger(tx, p.ID, TriggerSourceProject, p.ID, TriggerActionUpdate, changed)
	}
	return nil
}

// nextProjectCode returns DA followed by a five digit sequence.
func nextProjectCode(tx *gorm.DB) (string, error) {
	db := tx.Session(&gorm.Session{NewDB: true})
	var maxId int
	if err := db.Model(&Project{}).Select("COALESCE(MAX(id), 0)").Scan(&maxId).Error; err != nil {
		return "", err
	}
	for n := maxId + 1; ; n++ {
		code := fmt.Sprintf("DA%05d", n)
		var count int64
		if err := db.Model(&Project{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
}

func CreateProject(ctx context.Context, input *NewProject) (*Project, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	project := Project{
		Name:          strings.TrimSpace(input.Name),
		Description:   input.Description,
		Status:        input.Status,
		ApprovalState: ApprovalStateDraft,
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
		ManagerId:     input.ManagerId,
	}
	if project.Status == "" {
		project.Status = ProjectStatusNotStarted
	}
	if input.Progress != nil {
		project.Progress = *input.Progress
	}
	if err := config.GetDB().WithContext(ctx).Create(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func UpdateProject(ctx context.Context, id int, input *NewProject) (*Project, error) {
	project, err := GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"Name":        strings.TrimSpace(input.Name),
		"Description": input.Description,
		"StartDate":   input.StartDate,
		"EndDate":     input.EndDate,
		"ManagerId":   input.ManagerId,
	}
	if input.Status != "" {
		updates["Status"] = input.Status
	}
	// progress can only be set directly while the project has no tasks
	if input.Progress != nil {
		var taskCount int64
		if err := config.GetDB().WithContext(ctx).Model(&Task{}).Where("project_id = ?", id).Count(&taskCount).Error; err != nil {
			return nil, err
		}
		if taskCount == 0 {
			updates["Progress"] = *input.Progress
		}
	}
	if err := config.GetDB().WithContext(ctx).Model(project).Updates(updates).Error; err != nil {
		return nil, err
	}
	return GetProject(ctx, id)
}

func GetProject(ctx context.Context, id int) (*Project, error) {
	var project Project
	if err := config.GetDB().WithContext(ctx).Preload("Manager").First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &project, nil
}

func ListProjects(ctx context.Context, status *ProjectStatus) ([]*Project, error) {
	var projects []*Project
	q := config.GetDB().WithContext(ctx).Preload("Manager").Order("id DESC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if err := q.Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

// DeleteProject removes the project with everything it owns.
func DeleteProject(ctx context.Context, id int) (*Project, error) {
	project, err := GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = utils.SetSkipRiskTriggersInContext(ctx, true)
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&RiskRecord{}, &Expense{}, &BudgetLine{}, &ProjectActivity{}, &RiskTriggerRecord{}} {
			if err := tx.Where("project_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		var taskIds []int
		if err := tx.Model(&Task{}).Where("project_id = ?", id).Pluck("id", &taskIds).Error; err != nil {
			return err
		}
		if len(taskIds) > 0 {
			if err := tx.Table("task_assignees").Where("task_id IN ?", taskIds).Delete(nil).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", taskIds).Delete(&Task{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(project).Error
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// RecomputeProjectProgress sets progress to the mean task completion.
// It writes the column directly; the task write that called it already queued a detection.
func RecomputeProjectProgress(tx *gorm.DB, projectId int) error {
	db := tx.Session(&gorm.Session{NewDB: true})
	var result struct {
		Count int64
		Avg   float64
	}
	if err := db.Model(&Task{}).
		Select("COUNT(*) AS count, COALESCE(AVG(completion_pct), 0) AS avg").
		Where("project_id = ?", projectId).
		Scan(&result).Error; err != nil {
		return err
	}
	if result.Count == 0 {
		return nil
	}
	return db.Model(&Project{}).Where("id = ?", projectId).UpdateColumn("progress", utils.Clamp(result.Avg, 0, 100)).Error
}

func lockProject(tx *gorm.DB, id int) (*Project, error) {
	var project Project
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &project, nil
}

func SubmitProjectForApproval(ctx context.Context, id int) (*Project, error) {
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := lockProject(tx, id)
		if err != nil {
			return err
		}
		if project.ApprovalState != ApprovalStateDraft && project.ApprovalState != ApprovalStateRejected {
			return fmt.Errorf("%w: cannot submit from %s", ErrProjectApproval, project.ApprovalState)
		}
		if project.ManagerId == nil {
			return fmt.Errorf("%w: a project manager is required", ErrProjectApproval)
		}
		if err := tx.Model(project).Updates(map[string]interface{}{"ApprovalState": ApprovalStatePending, "RejectReason": ""}).Error; err != nil {
			return err
		}
		return recordActivity(tx, project.ID, ActivityTypeApproval, "Gửi phê duyệt", "Dự án đã được gửi phê duyệt.", project.ID, "projects")
	})
	if err != nil {
		return nil, err
	}
	return GetProject(ctx, id)
}

// ApproveProject approves a pending project, starts it and seeds the core tasks.
func ApproveProject(ctx context.Context, id int) (*Project, error) {
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := lockProject(tx, id)
		if err != nil {
			return err
		}
		if project.ApprovalState != ApprovalStatePending {
			return fmt.Errorf("%w: cannot approve from %s", ErrProjectApproval, project.ApprovalState)
		}
		updates := map[string]interface{}{"ApprovalState": ApprovalStateApproved}
		if project.Status == ProjectStatusNotStarted {
			updates["Status"] = ProjectStatusInProgress
		}
		if err := tx.Model(project).Updates(updates).Error; err != nil {
			return err
		}
		var taskCount int64
		if err := tx.Model(&Task{}).Where("project_id = ?", id).Count(&taskCount).Error; err != nil {
			return err
		}
		if taskCount == 0 {
			for _, name := range coreTaskNames {
				task := Task{
					ProjectId: id,
					Name:      name,
					Status:    TaskStatusNew,
					StartDate: project.StartDate,
					EndDate:   project.EndDate,
				}
				if err := tx.Create(&task).Error; err != nil {
					return err
				}
			}
		}
		return recordActivity(tx, project.ID, ActivityTypeApproval, "Phê duyệt", "Dự án đã được phê duyệt.", project.ID, "projects")
	})
	if err != nil {
		return nil, err
	}
	return GetProject(ctx, id)
}

func RejectProject(ctx context.Context, id int, reason string) (*Project, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a reject reason is required", ErrProjectApproval)
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := lockProject(tx, id)
		if err != nil {
			return err
		}
		if project.ApprovalState != ApprovalStatePending {
			return fmt.Errorf("%w: cannot reject from %s", ErrProjectApproval, project.ApprovalState)
		}
		if err := tx.Model(project).Updates(map[string]interface{}{"ApprovalState": ApprovalStateRejected, "RejectReason": reason}).Error; err != nil {
			return err
		}
		return recordActivity(tx, project.ID, ActivityTypeApproval, "Từ chối", "Lý do: "+reason, project.ID, "projects")
	})
	if err != nil {
		return nil, err
	}
	return GetProject(ctx, id)
}

func ResetProjectToDraft(ctx context.Context, id int) (*Project, error) {
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := lockProject(tx, id)
		if err != nil {
			return err
		}
		if project.ApprovalState != ApprovalStateRejected {
			return fmt.Errorf("%w: cannot reset from %s", ErrProjectApproval, project.ApprovalState)
		}
		return tx.Model(project).Updates(map[string]interface{}{"ApprovalState": ApprovalStateDraft}).Error
	})
	if err != nil {
		return nil, err
	}
	return GetProject(ctx, id)
}
