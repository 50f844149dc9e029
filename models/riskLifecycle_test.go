package models

import (
	"errors"
	"testing"
)

func TestRiskTransitions(t *testing.T) {
	allowed := [][2]RiskStatus{
		{RiskStatusIdentified, RiskStatusAnalyzing},
		{RiskStatusIdentified, RiskStatusMitigating},
		{RiskStatusIdentified, RiskStatusResolved},
		{RiskStatusIdentified, RiskStatusAccepted},
		{RiskStatusAnalyzing, RiskStatusMitigating},
		{RiskStatusAnalyzing, RiskStatusResolved},
		{RiskStatusMitigating, RiskStatusResolved},
		{RiskStatusMitigating, RiskStatusAccepted},
	}
	for _, tr := range allowed {
		if err := ValidateRiskTransition(tr[0], tr[1]); err != nil {
			t.Fatalf("%s -> %s rejected: %v", tr[0], tr[1], err)
		}
	}

	denied := [][2]RiskStatus{
		{RiskStatusAnalyzing, RiskStatusIdentified},
		{RiskStatusMitigating, RiskStatusAnalyzing},
		{RiskStatusResolved, RiskStatusIdentified},
		{RiskStatusResolved, RiskStatusAccepted},
		{RiskStatusAccepted, RiskStatusMitigating},
		{RiskStatusIdentified, RiskStatusIdentified},
	}
	for _, tr := range denied {
		err := ValidateRiskTransition(tr[0], tr[1])
		if !errors.Is(err, ErrInvalidRiskTransition) {
			t.Fatalf("%s -> %s: err = %v, want ErrInvalidRiskTransition", tr[0], tr[1], err)
		}
	}
}

func TestTerminalStatusesHaveNoExit(t *testing.T) {
	all := []RiskStatus{RiskStatusIdentified, RiskStatusAnalyzing, RiskStatusMitigating, RiskStatusResolved, RiskStatusAccepted}
	for _, from := range []RiskStatus{RiskStatusResolved, RiskStatusAccepted} {
		for _, to := range all {
			if CanTransitionRisk(from, to) {
				t.Fatalf("terminal %s allows -> %s", from, to)
			}
		}
	}
}
