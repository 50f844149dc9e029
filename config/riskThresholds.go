package config

// RiskThresholdSettings holds the rule evaluator cut-offs. Every value has an env override.
type RiskThresholdSettings struct {
	OverdueRatioPct       float64 // RISK_OVERDUE_RATIO_THRESHOLD
	OverdueSevereRatioPct float64 // RISK_OVERDUE_SEVERE_RATIO
	DeadlineWindowDays    int     // RISK_DEADLINE_WINDOW_DAYS
	DeadlineMinProgress   float64 // RISK_DEADLINE_MIN_PROGRESS
	BurnRateMarginPct     float64 // RISK_BURN_RATE_MARGIN
	NearlyExhaustedPct    float64 // RISK_BUDGET_NEARLY_EXHAUSTED_PCT
	OverloadActiveTasks   int     // RISK_OVERLOAD_ACTIVE_TASKS
}

func GetRiskThresholds() RiskThresholdSettings {
	return RiskThresholdSettings{
		OverdueRatioPct:       floatFromEnv("RISK_OVERDUE_RATIO_THRESHOLD", 30),
		OverdueSevereRatioPct: floatFromEnv("RISK_OVERDUE_SEVERE_RATIO", 50),
		DeadlineWindowDays:    intFromEnv("RISK_DEADLINE_WINDOW_DAYS", 30),
		DeadlineMinProgress:   floatFromEnv("RISK_DEADLINE_MIN_PROGRESS", 70),
		BurnRateMarginPct:     floatFromEnv("RISK_BURN_RATE_MARGIN", 20),
		NearlyExhaustedPct:    floatFromEnv("RISK_BUDGET_NEARLY_EXHAUSTED_PCT", 80),
		OverloadActiveTasks:   intFromEnv("RISK_OVERLOAD_ACTIVE_TASKS", 5),
	}
}
