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

// Expense is money spent against one budget line. Writes keep the line's spent amount in step.
type Expense struct {
	ID           int             `gorm:"primary_key" json:"id"`
	ProjectId    int             `gorm:"not null;index" json:"project_id"`
	BudgetLineId int             `gorm:"not null;index" json:"budget_line_id"`
	ExpenseDate  time.Time       `gorm:"type:date;not null" json:"expense_date"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"amount"`
	Notes        string          `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewExpense struct {
	BudgetLineId int             `json:"budget_line_id" validate:"required"`
	ExpenseDate  time.Time       `json:"expense_date" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Notes        string          `json:"notes"`
}

func (input *NewExpense) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Amount.IsPositive() {
		return errors.New("amount must be greater than zero")
	}
	return nil
}

func adjustBudgetLineSpent(tx *gorm.DB, budgetLineId int, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	return tx.Session(&gorm.Session{NewDB: true}).Model(&BudgetLine{}).
		Where("id = ?", budgetLineId).
		UpdateColumn("spent_amount", gorm.Expr("GREATEST(spent_amount + ?, 0)", delta)).Error
}

func (e *Expense) AfterCreate(tx *gorm.DB) error {
	if err := adjustBudgetLineSpent(tx, e.BudgetLineId, e.Amount); err != nil {
		return err
	}
	enqueueRiskTrigger(tx, e.ProjectId, TriggerSourceExpense, e.ID, TriggerActionCreate, nil)
	return nil
}

func (e *Expense) BeforeUpdate(tx *gorm.DB) error {
	if !tx.Statement.Changed("Amount") {
		return nil
	}
	newAmount, ok := tx.Statement.Dest.(map[string]interface{})["Amount"].(decimal.Decimal)
	if !ok {
		return nil
	}
	if err := adjustBudgetLineSpent(tx, e.BudgetLineId, newAmount.Sub(e.Amount)); err != nil {
		return err
	}
	enqueueRiskTrigger(tx, e.ProjectId, TriggerSourceExpense, e.ID, TriggerActionUpdate, []string{"Amount"})
	return nil
}

func (e *Expense) AfterDelete(tx *gorm.DB) error {
	if err := adjustBudgetLineSpent(tx, e.BudgetLineId, e.Amount.Neg()); err != nil {
		return err
	}
	enqueueRiskTrigger(tx, e.ProjectId, TriggerSourceExpense, e.ID, TriggerActionDelete, nil)
	return nil
}

func CreateExpense(ctx context.Context, input *NewExpense) (*Expense, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	line, err := GetBudgetLine(ctx, input.BudgetLineId)
	if err != nil {
		return nil, errors.New("budget line not found")
	}
	expense := Expense{
		ProjectId:    line.ProjectId,
		BudgetLineId: line.ID,
		ExpenseDate:  input.ExpenseDate,
		Amount:       input.Amount,
		Notes:        strings.TrimSpace(input.Notes),
	}
	// the spent adjustment runs in the create hook, inside gorm's default transaction
	if err := config.GetDB().WithContext(ctx).Create(&expense).Error; err != nil {
		return nil, err
	}
	return &expense, nil
}

func UpdateExpense(ctx context.Context, id int, input *NewExpense) (*Expense, error) {
	expense, err := GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.BudgetLineId != expense.BudgetLineId {
		return nil, errors.New("an expense cannot move to another budget line")
	}
	if err := config.GetDB().WithContext(ctx).Model(expense).Updates(map[string]interface{}{
		"ExpenseDate": input.ExpenseDate,
		"Amount":      input.Amount,
		"Notes":       strings.TrimSpace(input.Notes),
	}).Error; err != nil {
		return nil, err
	}
	return GetExpense(ctx, id)
}

func DeleteExpense(ctx context.Context, id int) (*Expense, error) {
	expense, err := GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := config.GetDB().WithContext(ctx).Delete(expense).Error; err != nil {
		return nil, err
	}
	return expense, nil
}

func GetExpense(ctx context.Context, id int) (*Expense, error) {
	var expense Expense
	if err := config.GetDB().WithContext(ctx).First(&expense, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &expense, nil
}

func ListProjectExpenses(ctx context.Context, projectId int) ([]*Expense, error) {
	var expenses []*Expense
	if err := config.GetDB().WithContext(ctx).Where("project_id = ?", projectId).
		Order("expense_date DESC, id DESC").Find(&expenses).Error; err != nil {
		return nil, err
	}
	return expenses, nil
}
