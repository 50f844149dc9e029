package advisory

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"golang.org/x/sync/errgroup"
)

// GenerateMitigationPlan writes a detailed plan for the risk. On failure the current plan is
// returned along with the error.
func (c *Client) GenerateMitigationPlan(ctx context.Context, risk *models.RiskRecord) (string, error) {
	if !c.Configured() {
		return risk.MitigationPlan, ErrDisabled
	}
	text, err := c.complete(ctx, "mitigation", mitigationPrompt(risk))
	if err != nil {
		return risk.MitigationPlan, err
	}
	return strings.TrimSpace(text), nil
}

// AnalyzeRootCause runs a 5 WHYs analysis against the project's current state.
func (c *Client) AnalyzeRootCause(ctx context.Context, risk *models.RiskRecord, snapshot *models.ProjectSnapshot) (string, error) {
	if !c.Configured() {
		return risk.RootCause, ErrDisabled
	}
	text, err := c.complete(ctx, "root_cause", rootCausePrompt(risk, snapshot))
	if err != nil {
		return risk.RootCause, err
	}
	return strings.TrimSpace(text), nil
}

// EnhanceRisk rewrites root cause and mitigation plan of an open risk and raises its confidence.
// It fails only when both texts could not be generated.
func (c *Client) EnhanceRisk(ctx context.Context, riskId int) (*models.RiskRecord, error) {
	if !c.Configured() {
		return nil, ErrDisabled
	}
	risk, err := models.GetRiskRecord(ctx, riskId)
	if err != nil {
		return nil, err
	}
	if risk.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", models.ErrRiskClosed, risk.Status)
	}
	ctx = utils.SetProjectIdInContext(ctx, risk.ProjectId)
	snapshot, err := models.LoadProjectSnapshot(ctx, config.GetDB(), risk.ProjectId)
	if err != nil {
		return nil, err
	}

	var (
		rootCause, plan       string
		rootCauseErr, planErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		rootCause, rootCauseErr = c.AnalyzeRootCause(ctx, risk, snapshot)
		return nil
	})
	g.Go(func() error {
		plan, planErr = c.GenerateMitigationPlan(ctx, risk)
		return nil
	})
	_ = g.Wait()

	if rootCauseErr != nil && planErr != nil {
		return nil, rootCauseErr
	}
	if rootCauseErr != nil {
		config.LogWarn(c.logger, "advisory", "EnhanceRisk", "root cause analysis", riskId, rootCauseErr)
		rootCause = ""
	}
	if planErr != nil {
		config.LogWarn(c.logger, "advisory", "EnhanceRisk", "mitigation plan", riskId, planErr)
		plan = ""
	}
	return models.ApplyRiskEnhancement(ctx, riskId, rootCause, plan)
}
