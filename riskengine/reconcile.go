package riskengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/sirupsen/logrus"
)

type upsertResult int

const (
	upsertCreated upsertResult = iota
	upsertUpdated
	upsertSkipped
)

func (r upsertResult) String() string {
	switch r {
	case upsertCreated:
		return "created"
	case upsertUpdated:
		return "updated"
	}
	return "skipped"
}

// Reconcile runs the cycle steps for a loaded snapshot, in order:
// closed-project resolution, stale purge, candidate assembly, per-candidate upsert.
// Callers must hold the project lock.
func (e *Engine) Reconcile(ctx context.Context, snapshot *models.ProjectSnapshot) (*DetectionResult, error) {
	projectId := snapshot.ProjectId
	now := e.now()
	res := &DetectionResult{ProjectId: projectId}

	if snapshot.IsClosed() {
		n, err := e.ledger.ResolveOpenAIRisks(ctx, projectId, now)
		if err != nil {
			return nil, fmt.Errorf("resolve open risks: %w", err)
		}
		res.Closed = true
		res.Resolved = n
		if n > 0 {
			e.logger.WithFields(logrus.Fields{"module": "riskengine", "project_id": projectId, "resolved": n}).
				Info("project closed, resolved open AI risks")
			e.ledgerChanged(ctx, projectId)
		}
		return res, nil
	}

	purged, err := e.ledger.PurgeStaleAIRisks(ctx, projectId)
	if err != nil {
		return nil, fmt.Errorf("purge stale risks: %w", err)
	}
	res.Purged = purged

	candidates, advisoryCount := e.AssembleCandidates(ctx, snapshot)
	res.Advisory = advisoryCount

	var created []models.RiskCandidate
	for _, c := range candidates {
		result, err := e.upsert(ctx, snapshot, c, now)
		if err != nil {
			return nil, err
		}
		upsertsByResult.WithLabelValues(result.String()).Inc()
		switch result {
		case upsertCreated:
			res.Created++
			created = append(created, c)
		case upsertUpdated:
			res.Updated++
		default:
			res.Skipped++
		}
	}
	res.Candidates = candidates

	if e.notifier != nil && len(created) > 0 {
		if err := e.notifier.NotifyDetection(ctx, projectId, created); err != nil {
			config.LogWarn(e.logger, "riskengine", "Reconcile", "notify detection", projectId, err)
		}
	}
	if res.Purged+res.Created+res.Updated > 0 {
		e.ledgerChanged(ctx, projectId)
	}
	if e.metrics != nil {
		if err := e.metrics.RecordMetrics(ctx, projectId, now, ComputeIndicators(snapshot, e.thresholds, now)); err != nil {
			config.LogWarn(e.logger, "riskengine", "Reconcile", "record indicators", projectId, err)
		}
	}
	return res, nil
}

func (e *Engine) ledgerChanged(ctx context.Context, projectId int) {
	if e.changes == nil {
		return
	}
	if err := e.changes.LedgerChanged(ctx, projectId); err != nil {
		config.LogWarn(e.logger, "riskengine", "ledgerChanged", "change listener", projectId, err)
	}
}

// AssembleCandidates runs the evaluators, adds the default candidate for an empty project,
// then appends whatever the advisory source returns. It also reports the advisory count.
func (e *Engine) AssembleCandidates(ctx context.Context, snapshot *models.ProjectSnapshot) ([]models.RiskCandidate, int) {
	candidates := e.evaluators.Evaluate(snapshot, e.now())
	if needsDefaultCandidate(snapshot, candidates) {
		candidates = append(candidates, InsufficientInformationCandidate(snapshot))
	}
	advisory := e.fetchAdvisory(ctx, snapshot)
	candidates = append(candidates, advisory...)
	for _, c := range candidates {
		candidatesBySource.WithLabelValues(string(c.Source)).Inc()
	}
	return candidates, len(advisory)
}

// upsert retries a conflicting write once, then skips the candidate.
// Any other ledger error ends the cycle.
func (e *Engine) upsert(ctx context.Context, snapshot *models.ProjectSnapshot, c models.RiskCandidate, now time.Time) (upsertResult, error) {
	if err := c.Validate(); err != nil {
		config.LogError(e.logger, "riskengine", "upsert", "invalid candidate skipped", c, err)
		return upsertSkipped, nil
	}
	for attempt := 1; ; attempt++ {
		result, err := e.upsertOnce(ctx, snapshot, c, now)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrConflict) {
			return upsertSkipped, fmt.Errorf("upsert %s/%q: %w", c.Type, c.Name, err)
		}
		if attempt >= 2 {
			config.LogError(e.logger, "riskengine", "upsert", "conflict persisted, candidate skipped", c, err)
			return upsertSkipped, nil
		}
		config.LogWarn(e.logger, "riskengine", "upsert", "conflict, retrying", c, err)
	}
}

func (e *Engine) upsertOnce(ctx context.Context, snapshot *models.ProjectSnapshot, c models.RiskCandidate, now time.Time) (upsertResult, error) {
	existing, err := e.ledger.FindOpenRisk(ctx, snapshot.ProjectId, c.Type, c.Name)
	if err != nil {
		return upsertSkipped, err
	}
	if existing != nil {
		if err := e.ledger.UpdateRiskValues(ctx, existing.ID, c); err != nil {
			return upsertSkipped, err
		}
		return upsertUpdated, nil
	}
	if err := e.ledger.CreateRisk(ctx, models.NewRiskRecordFromCandidate(snapshot.ProjectId, c, now, snapshot.ManagerId)); err != nil {
		return upsertSkipped, err
	}
	return upsertCreated, nil
}
