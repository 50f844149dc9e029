package riskengine

import "github.com/mmdatafocus/riskwatch_backend/config"

// Thresholds are the rule cut-offs. Ratios and percentages are in [0,100].
type Thresholds struct {
	OverdueRatioPct       float64
	OverdueSevereRatioPct float64
	DeadlineWindowDays    int
	DeadlineMinProgress   float64
	BurnRateMarginPct     float64
	NearlyExhaustedPct    float64
	OverloadActiveTasks   int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		OverdueRatioPct:       30,
		OverdueSevereRatioPct: 50,
		DeadlineWindowDays:    30,
		DeadlineMinProgress:   70,
		BurnRateMarginPct:     20,
		NearlyExhaustedPct:    80,
		OverloadActiveTasks:   5,
	}
}

func ThresholdsFromConfig(s config.RiskThresholdSettings) Thresholds {
	return Thresholds{
		OverdueRatioPct:       s.OverdueRatioPct,
		OverdueSevereRatioPct: s.OverdueSevereRatioPct,
		DeadlineWindowDays:    s.DeadlineWindowDays,
		DeadlineMinProgress:   s.DeadlineMinProgress,
		BurnRateMarginPct:     s.BurnRateMarginPct,
		NearlyExhaustedPct:    s.NearlyExhaustedPct,
		OverloadActiveTasks:   s.OverloadActiveTasks,
	}
}
