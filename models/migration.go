package models

import (
	"log"

	"github.com/mmdatafocus/riskwatch_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Employee{},
		&Project{}, &Task{}, &BudgetLine{}, &Expense{},
		&RiskRecord{}, &RiskMetric{},
		&ProjectActivity{},
		&RiskTriggerRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
