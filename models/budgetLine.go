package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type BudgetLine struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ProjectId       int             `gorm:"not null;index" json:"project_id"`
	Name            string          `gorm:"size:255;not null" json:"name"`
	PlannedAmount   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"planned_amount"`
	AllocatedAmount decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"allocated_amount"`
	SpentAmount     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"spent_amount"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBudgetLine struct {
	ProjectId       int             `json:"project_id" validate:"required"`
	Name            string          `json:"name" validate:"required,max=255"`
	PlannedAmount   decimal.Decimal `json:"planned_amount"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	SpentAmount     decimal.Decimal `json:"spent_amount"`
}

var budgetLineTriggerFields = []string{"PlannedAmount", "AllocatedAmount", "SpentAmount"}

func (input *NewBudgetLine) validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.PlannedAmount.IsNegative() || input.AllocatedAmount.IsNegative() || input.SpentAmount.IsNegative() {
		return errors.New("amounts must not be negative")
	}
	if _, err := GetProject(ctx, input.ProjectId); err != nil {
		return errors.New("project not found")
	}
	return nil
}

func (b *BudgetLine) AfterCreate(tx *gorm.DB) error {
	enqueueRiskTrigger(tx, b.ProjectId, TriggerSourceBudgetLine, b.ID, TriggerActionCreate, nil)
	return nil
}

func (b *BudgetLine) BeforeUpdate(tx *gorm.DB) error {
	if changed := changedFields(tx, budgetLineTriggerFields...); len(changed) > 0 {
		enqueueRiskTrigger(tx, b.ProjectId, TriggerSourceBudgetLine, b.ID, TriggerActionUpdate, changed)
	}
	return nil
}

func (b *BudgetLine) AfterDelete(tx *gorm.DB) error {
	enqueueRiskTrigger(tx, b.ProjectId, TriggerSourceBudgetLine, b.ID, TriggerActionDelete, nil)
	return nil
}

func CreateBudgetLine(ctx context.Context, input *NewBudgetLine) (*BudgetLine, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	line := BudgetLine{
		ProjectId:       input.ProjectId,
		Name:            strings.TrimSpace(input.Name),
		PlannedAmount:   input.PlannedAmount,
		AllocatedAmount: input.AllocatedAmount,
		SpentAmount:     input.SpentAmount,
	}
	if err := config.GetDB().WithContext(ctx).Create(&line).Error; err != nil {
		return nil, err
	}
	return &line, nil
}

func UpdateBudgetLine(ctx context.Context, id int, input *NewBudgetLine) (*BudgetLine, error) {
	line, err := GetBudgetLine(ctx, id)
	if err != nil {
		return nil, err
	}
	input.ProjectId = line.ProjectId
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	if err := config.GetDB().WithContext(ctx).Model(line).Updates(map[string]interface{}{
		"Name":            strings.TrimSpace(input.Name),
		"PlannedAmount":   input.PlannedAmount,
		"AllocatedAmount": input.AllocatedAmount,
		"SpentAmount":     input.SpentAmount,
	}).Error; err != nil {
		return nil, err
	}
	return GetBudgetLine(ctx, id)
}

func DeleteBudgetLine(ctx context.Context, id int) (*BudgetLine, error) {
	line, err := GetBudgetLine(ctx, id)
	if err != nil {
		return nil, err
	}
	var expenseCount int64
	db := config.GetDB().WithContext(ctx)
	if err := db.Model(&Expense{}).Where("budget_line_id = ?", id).Count(&expenseCount).Error; err != nil {
		return nil, err
	}
	if expenseCount > 0 {
		return nil, errors.New("budget line has expenses")
	}
	if err := db.Delete(line).Error; err != nil {
		return nil, err
	}
	return line, nil
}

func GetBudgetLine(ctx context.Context, id int) (*BudgetLine, error) {
	var line BudgetLine
	if err := config.GetDB().WithContext(ctx).First(&line, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &line, nil
}

func ListProjectBudgetLines(ctx context.Context, projectId int) ([]*BudgetLine, error) {
	var lines []*BudgetLine
	if err := config.GetDB().WithContext(ctx).Where("project_id = ?", projectId).Order("id").Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}
