package models

import (
	"errors"
	"fmt"
)

var ErrInvalidRiskTransition = errors.New("invalid risk status transition")

// Forward-only. Terminal statuses have no outgoing edges.
var riskTransitions = map[RiskStatus]map[RiskStatus]struct{}{
	RiskStatusIdentified: toStatusSet(RiskStatusAnalyzing, RiskStatusMitigating, RiskStatusResolved, RiskStatusAccepted),
	RiskStatusAnalyzing:  toStatusSet(RiskStatusMitigating, RiskStatusResolved, RiskStatusAccepted),
	RiskStatusMitigating: toStatusSet(RiskStatusResolved, RiskStatusAccepted),
	RiskStatusResolved:   {},
	RiskStatusAccepted:   {},
}

func toStatusSet(statuses ...RiskStatus) map[RiskStatus]struct{} {
	set := make(map[RiskStatus]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

func CanTransitionRisk(from, to RiskStatus) bool {
	next, ok := riskTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

func ValidateRiskTransition(from, to RiskStatus) error {
	if CanTransitionRisk(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidRiskTransition, from, to)
}
