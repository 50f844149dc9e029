package models

// ComputeRiskScore maps probability [0,100] and impact [1,10] onto [0,100].
func ComputeRiskScore(probability, impact float64) float64 {
	return probability * impact / 10
}

// RiskLevelForScore applies the level thresholds, highest first.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= 70:
		return RiskLevelCritical
	case score >= 50:
		return RiskLevelHigh
	case score >= 30:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}
