package riskengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type advisoryResult struct {
	candidates []models.RiskCandidate
	err        error
}

// fetchAdvisory never fails: every advisory problem degrades to no extra candidates.
// The call runs in its own goroutine so a source that ignores ctx still cannot hold the cycle
// past the timeout.
func (e *Engine) fetchAdvisory(ctx context.Context, snapshot *models.ProjectSnapshot) []models.RiskCandidate {
	if e.advisory == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.advisoryTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "riskengine.advisory", trace.WithAttributes(attribute.Int("project_id", snapshot.ProjectId)))
	defer span.End()

	done := make(chan advisoryResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- advisoryResult{err: fmt.Errorf("%w: %v", ErrCyclePanic, r)}
			}
		}()
		candidates, err := e.advisory.GenerateCandidates(ctx, snapshot)
		done <- advisoryResult{candidates: candidates, err: err}
	}()

	var r advisoryResult
	select {
	case r = <-done:
	case <-ctx.Done():
		r = advisoryResult{err: fmt.Errorf("%w: %w", ErrAdvisoryUnavailable, ctx.Err())}
	}

	if r.err == nil {
		for i := range r.candidates {
			r.candidates[i].Source = models.CandidateSourceAdvisory
			if err := r.candidates[i].Validate(); err != nil {
				r = advisoryResult{err: fmt.Errorf("%w: candidate %d: %v", ErrAdvisoryMalformed, i, err)}
				break
			}
		}
	}
	if r.err != nil {
		span.RecordError(r.err)
		e.logAdvisoryFailure(snapshot.ProjectId, r.err)
		return nil
	}
	span.SetAttributes(attribute.Int("candidates", len(r.candidates)))
	return r.candidates
}

func (e *Engine) logAdvisoryFailure(projectId int, err error) {
	switch {
	case errors.Is(err, ErrAdvisoryMalformed):
		advisoryFailures.WithLabelValues("malformed").Inc()
		config.LogError(e.logger, "riskengine", "fetchAdvisory", "malformed advisory response discarded", projectId, err)
	case errors.Is(err, ErrCyclePanic):
		advisoryFailures.WithLabelValues("panic").Inc()
		config.LogError(e.logger, "riskengine", "fetchAdvisory", "advisory source panicked", projectId, err)
	case errors.Is(err, context.DeadlineExceeded):
		advisoryFailures.WithLabelValues("timeout").Inc()
		config.LogWarn(e.logger, "riskengine", "fetchAdvisory", "advisory source timed out", projectId, err)
	default:
		advisoryFailures.WithLabelValues("unavailable").Inc()
		config.LogWarn(e.logger, "riskengine", "fetchAdvisory", "advisory source unavailable", projectId, err)
	}
}
