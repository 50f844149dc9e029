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
)

type Task struct {
	ID            int        `gorm:"primary_key" json:"id"`
	ProjectId     int        `gorm:"not null;index" json:"project_id"`
	Name          string     `gorm:"size:255;not null" json:"name"`
	Status        TaskStatus `gorm:"size:20;not null;default:new;index" json:"status"`
	CompletionPct float64    `gorm:"not null;default:0" json:"completion_pct"`
	StartDate     *time.Time `gorm:"type:date" json:"start_date"`
	EndDate       *time.Time `gorm:"type:date" json:"end_date"`
	Assignees     []Employee `gorm:"many2many:task_assignees" json:"assignees,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTask struct {
	ProjectId     int        `json:"project_id" validate:"required"`
	Name          string     `json:"name" validate:"required,max=255"`
	Status        TaskStatus `json:"status"`
	CompletionPct float64    `json:"completion_pct" validate:"gte=0,lte=100"`
	StartDate     *time.Time `json:"start_date"`
	EndDate       *time.Time `json:"end_date"`
	AssigneeIds   []int      `json:"assignee_ids"`
}

var taskTriggerFields = []string{"Status", "CompletionPct", "EndDate", "StartDate"}

func (input *NewTask) validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.Status != "" && !input.Status.IsValid() {
		return fmt.Errorf("invalid task status %q", input.Status)
	}
	if input.StartDate != nil && input.EndDate != nil && input.EndDate.Before(*input.StartDate) {
		return errors.New("end date must not be before start date")
	}
	if _, err := GetProject(ctx, input.ProjectId); err != nil {
		return errors.New("project not found")
	}
	return nil
}

func (input *NewTask) assignees(ctx context.Context) ([]Employee, error) {
	ids := utils.UniqueSlice(input.AssigneeIds)
	if len(ids) == 0 {
		return nil, nil
	}
	var employees []Employee
	if err := config.GetDB().WithContext(ctx).Where("id IN ?", ids).Find(&employees).Error; err != nil {
		return nil, err
	}
	if len(employees) != len(ids) {
		return nil, errors.New("assignee not found")
	}
	return employees, nil
}

func (t *Task) AfterCreate(tx *gorm.DB) error {
	enqueueRiskTrigger(tx, t.ProjectId, TriggerSourceTask, t.ID, TriggerActionCreate, nil)
	return nil
}

func (t *Task) BeforeUpdate(tx *gorm.DB) error {
	if changed := changedFields(tx, taskTriggerFields...); len(changed) > 0 {
		enqueueRiskTrigger(tx, t.ProjectId, TriggerSourceTask, t.ID, TriggerActionUpdate, changed)
	}
	return nil
}

func (t *Task) AfterDelete(tx *gorm.DB) error {
	enqueueRiskTrigger(tx, t.ProjectId, TriggerSourceTask, t.ID, TriggerActionDelete, nil)
	return nil
}

func CreateTask(ctx context.Context, input *NewTask) (*Task, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	assignees, err := input.assignees(ctx)
	if err != nil {
		return nil, err
	}
	task := Task{
		ProjectId:     input.ProjectId,
		Name:          strings.TrimSpace(input.Name),
		Status:        input.Status,
		CompletionPct: input.CompletionPct,
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
		Assignees:     assignees,
	}
	if task.Status == "" {
		task.Status = TaskStatusNew
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&task).Error; err != nil {
			return err
		}
		return RecomputeProjectProgress(tx, task.ProjectId)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func UpdateTask(ctx context.Context, id int, input *NewTask) (*Task, error) {
	task, err := GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	input.ProjectId = task.ProjectId
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	assignees, err := input.assignees(ctx)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"Name":          strings.TrimSpace(input.Name),
		"CompletionPct": input.CompletionPct,
		"StartDate":     input.StartDate,
		"EndDate":       input.EndDate,
	}
	if input.Status != "" {
		updates["Status"] = input.Status
	}
	if input.Status == TaskStatusDone {
		updates["CompletionPct"] = float64(100)
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(task).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Model(task).Association("Assignees").Replace(assignees); err != nil {
			return err
		}
		return RecomputeProjectProgress(tx, task.ProjectId)
	})
	if err != nil {
		return nil, err
	}
	return GetTask(ctx, id)
}

func DeleteTask(ctx context.Context, id int) (*Task, error) {
	task, err := GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(task).Association("Assignees").Clear(); err != nil {
			return err
		}
		if err := tx.Delete(task).Error; err != nil {
			return err
		}
		return RecomputeProjectProgress(tx, task.ProjectId)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func GetTask(ctx context.Context, id int) (*Task, error) {
	var task Task
	if err := config.GetDB().WithContext(ctx).Preload("Assignees").First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}

func ListProjectTasks(ctx context.Context, projectId int) ([]*Task, error) {
	var tasks []*Task
	if err := config.GetDB().WithContext(ctx).Preload("Assignees").
		Where("project_id = ?", projectId).Order("id").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}
