package riskengine

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
)

var (
	// ErrConflict is returned by a Ledger when a create or update lost a race.
	ErrConflict = models.ErrRiskConflict

	// ErrAdvisoryUnavailable covers a disabled, unconfigured, unreachable or timed out advisory source.
	ErrAdvisoryUnavailable = errors.New("advisory source unavailable")
	// ErrAdvisoryMalformed means the advisory answer could not be turned into valid candidates.
	ErrAdvisoryMalformed = errors.New("malformed advisory response")

	ErrCyclePanic = errors.New("detection cycle panicked")
)

// Ledger is the risk record store for one detection cycle.
// Every create and update is atomic on its own.
type Ledger interface {
	// ResolveOpenAIRisks moves every non-terminal AI-detected record of the project to resolved.
	ResolveOpenAIRisks(ctx context.Context, projectId int, resolvedAt time.Time) (int, error)
	// PurgeStaleAIRisks deletes AI-detected records still identified or analyzing.
	PurgeStaleAIRisks(ctx context.Context, projectId int) (int, error)
	// FindOpenRisk returns nil, nil when no non-terminal record has the identity.
	FindOpenRisk(ctx context.Context, projectId int, riskType models.RiskType, name string) (*models.RiskRecord, error)
	CreateRisk(ctx context.Context, risk *models.RiskRecord) error
	// UpdateRiskValues returns ErrConflict if the record is gone or closed.
	UpdateRiskValues(ctx context.Context, riskId int, candidate models.RiskCandidate) error
}

type SnapshotSource interface {
	LoadSnapshot(ctx context.Context, projectId int) (*models.ProjectSnapshot, error)
	// ListSweepProjects returns the projects the scheduled sweep visits.
	ListSweepProjects(ctx context.Context) ([]int, error)
}

// AdvisorySource supplies extra candidates. Errors should wrap ErrAdvisoryUnavailable or
// ErrAdvisoryMalformed; the engine turns any error into an empty result.
type AdvisorySource interface {
	GenerateCandidates(ctx context.Context, snapshot *models.ProjectSnapshot) ([]models.RiskCandidate, error)
}

// Notifier is told about the candidates a cycle created records for.
type Notifier interface {
	NotifyDetection(ctx context.Context, projectId int, created []models.RiskCandidate) error
}

// ChangeListener hears about cycles that created, updated, purged or resolved records.
type ChangeListener interface {
	LedgerChanged(ctx context.Context, projectId int) error
}

type MetricsRecorder interface {
	RecordMetrics(ctx context.Context, projectId int, day time.Time, samples []models.RiskMetricSample) error
}

// ProjectLocker serializes detection cycles of one project.
type ProjectLocker interface {
	Lock(ctx context.Context, projectId int) (release func(), err error)
}

var errQueueFull = errors.New("detection queue full")
