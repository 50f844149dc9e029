package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/utils"
)

type Employee struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Code      string    `gorm:"size:20;uniqueIndex" json:"code"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     string    `gorm:"size:100" json:"email"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewEmployee struct {
	Code  string `json:"code" validate:"required,max=20"`
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"omitempty,email"`
}

func (input *NewEmployee) validate(ctx context.Context, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	var count int64
	q := config.GetDB().WithContext(ctx).Model(&Employee{}).Where("code = ?", input.Code)
	if id > 0 {
		q = q.Where("id <> ?", id)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate code")
	}
	return nil
}

func CreateEmployee(ctx context.Context, input *NewEmployee) (*Employee, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}
	employee := Employee{
		Code:     strings.TrimSpace(input.Code),
		Name:     strings.TrimSpace(input.Name),
		Email:    strings.TrimSpace(input.Email),
		IsActive: utils.NewTrue(),
	}
	if err := config.GetDB().WithContext(ctx).Create(&employee).Error; err != nil {
		return nil, err
	}
	return &employee, nil
}

func UpdateEmployee(ctx context.Context, id int, input *NewEmployee) (*Employee, error) {
	employee, err := GetEmployee(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}
	if err := config.GetDB().WithContext(ctx).Model(employee).Updates(map[string]interface{}{
		"Code":  strings.TrimSpace(input.Code),
		"Name":  strings.TrimSpace(input.Name),
		"Email": strings.TrimSpace(input.Email),
	}).Error; err != nil {
		return nil, err
	}
	return employee, nil
}

func GetEmployee(ctx context.Context, id int) (*Employee, error) {
	var employee Employee
	if err := config.GetDB().WithContext(ctx).First(&employee, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &employee, nil
}

func ListEmployees(ctx context.Context) ([]*Employee, error) {
	var employees []*Employee
	if err := config.GetDB().WithContext(ctx).Order("name").Find(&employees).Error; err != nil {
		return nil, err
	}
	return employees, nil
}
