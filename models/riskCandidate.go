package models

import (
	"fmt"

	"github.com/mmdatafocus/riskwatch_backend/utils"
)

type CandidateSource string

const (
	CandidateSourceRule     CandidateSource = "rule"
	CandidateSourceAdvisory CandidateSource = "advisory"
	CandidateSourceDefault  CandidateSource = "default"
)

// RiskCandidate is one finding produced by a detection pass. It is never persisted as is;
// reconciliation turns it into a RiskRecord create or update.
type RiskCandidate struct {
	Type           RiskType        `json:"type" validate:"required"`
	Name           string          `json:"name" validate:"required,max=255"`
	Description    string          `json:"description"`
	Probability    float64         `json:"probability" validate:"gte=0,lte=100"`
	Impact         float64         `json:"impact" validate:"gte=1,lte=10"`
	RootCause      string          `json:"root_cause"`
	MitigationPlan string          `json:"mitigation_plan"`
	Confidence     float64         `json:"confidence" validate:"gte=0,lte=100"`
	Source         CandidateSource `json:"source"`
}

func (c RiskCandidate) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRiskType, c.Type)
	}
	return utils.ValidateStruct(c)
}

// Score is the score a record would get from this candidate.
func (c RiskCandidate) Score() float64 {
	return ComputeRiskScore(c.Probability, c.Impact)
}
