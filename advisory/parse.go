package advisory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
)

var ErrMalformedResponse = fmt.Errorf("advisory response: %w", riskengine.ErrAdvisoryMalformed)

type riskPayload struct {
	Type           string  `json:"type"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Probability    float64 `json:"probability"`
	Impact         float64 `json:"impact"`
	RootCause      string  `json:"root_cause"`
	MitigationPlan string  `json:"mitigation_plan"`
	Confidence     float64 `json:"confidence"`
}

type candidatesPayload struct {
	Risks []riskPayload `json:"risks"`
}

// stripFences removes a surrounding ```json ... ``` block if the model added one.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parseCandidates turns the model answer into candidates. Numbers are clamped into range;
// any entry that is still invalid discards the whole answer.
func parseCandidates(text string) ([]models.RiskCandidate, error) {
	var payload candidatesPayload
	dec := json.NewDecoder(strings.NewReader(stripFences(text)))
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	out := make([]models.RiskCandidate, 0, len(payload.Risks))
	for i, p := range payload.Risks {
		riskType, err := models.ParseRiskType(strings.ToLower(strings.TrimSpace(p.Type)))
		if err != nil {
			return nil, fmt.Errorf("%w: risk %d: type %q", ErrMalformedResponse, i, p.Type)
		}
		c := models.RiskCandidate{
			Type:           riskType,
			Name:           strings.TrimSpace(p.Name),
			Description:    p.Description,
			Probability:    utils.Clamp(p.Probability, 0, 100),
			Impact:         utils.Clamp(p.Impact, 1, 10),
			RootCause:      p.RootCause,
			MitigationPlan: p.MitigationPlan,
			Confidence:     utils.Clamp(p.Confidence, 0, 100),
			Source:         models.CandidateSourceAdvisory,
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w: risk %d: %v", ErrMalformedResponse, i, err)
		}
		out = append(out, c)
	}
	return out, nil
}
