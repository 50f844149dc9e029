package riskengine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/utils"
)

// MemoryLedger keeps projects and risk records in memory. It implements Ledger,
// SnapshotSource, Notifier and MetricsRecorder, and enforces the same one-open-record
// identity rule as the database index. The hooks let callers inject faults.
type MemoryLedger struct {
	mu        sync.Mutex
	nextId    int
	snapshots map[int]*models.ProjectSnapshot
	risks     map[int]*models.RiskRecord

	Notifications map[int][][]models.RiskCandidate
	Samples       map[int][]models.RiskMetricSample

	// BeforeCreate runs before a create is applied; a non-nil error is returned as is.
	BeforeCreate func(risk *models.RiskRecord) error
	// BeforeUpdate runs before an update is applied.
	BeforeUpdate func(riskId int, candidate models.RiskCandidate) error
	// LoadErr fails LoadSnapshot for the project when set.
	LoadErr map[int]error
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		snapshots:     make(map[int]*models.ProjectSnapshot),
		risks:         make(map[int]*models.RiskRecord),
		Notifications: make(map[int][][]models.RiskCandidate),
		Samples:       make(map[int][]models.RiskMetricSample),
		LoadErr:       make(map[int]error),
	}
}

// PutSnapshot stores or replaces the project state.
func (m *MemoryLedger) PutSnapshot(s *models.ProjectSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.ProjectId] = s
}

// Seed inserts a record as is, bypassing the identity check. Score and level are derived.
func (m *MemoryLedger) Seed(r *models.RiskRecord) *models.RiskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextId++
	r.ID = m.nextId
	derive(r)
	m.risks[r.ID] = r
	return r
}

// Risks returns copies of the project's records ordered by id.
func (m *MemoryLedger) Risks(projectId int) []models.RiskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RiskRecord
	for _, r := range m.risks {
		if r.ProjectId == projectId {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus changes a record's status directly, the way a user action would.
func (m *MemoryLedger) SetStatus(riskId int, status models.RiskStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.risks[riskId]; ok {
		r.Status = status
		derive(r)
	}
}

func derive(r *models.RiskRecord) {
	r.RiskScore = models.ComputeRiskScore(r.Probability, r.Impact)
	r.RiskLevel = models.RiskLevelForScore(r.RiskScore)
	if r.Status.IsTerminal() {
		r.OpenKey = nil
	} else {
		r.OpenKey = utils.NewTrue()
	}
}

func (m *MemoryLedger) LoadSnapshot(ctx context.Context, projectId int) (*models.ProjectSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.LoadErr[projectId]; err != nil {
		return nil, err
	}
	s, ok := m.snapshots[projectId]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryLedger) ListSweepProjects(ctx context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int
	for id, s := range m.snapshots {
		if s.Status == models.ProjectStatusNotStarted || s.Status == models.ProjectStatusInProgress {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (m *MemoryLedger) ResolveOpenAIRisks(ctx context.Context, projectId int, resolvedAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.risks {
		if r.ProjectId == projectId && r.IsAiDetected && !r.Status.IsTerminal() {
			r.Status = models.RiskStatusResolved
			at := resolvedAt
			r.ResolvedDate = &at
			derive(r)
			n++
		}
	}
	return n, nil
}

func (m *MemoryLedger) PurgeStaleAIRisks(ctx context.Context, projectId int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.risks {
		if r.ProjectId == projectId && r.IsAiDetected &&
			(r.Status == models.RiskStatusIdentified || r.Status == models.RiskStatusAnalyzing) {
			delete(m.risks, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryLedger) FindOpenRisk(ctx context.Context, projectId int, riskType models.RiskType, name string) (*models.RiskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.RiskRecord
	for _, r := range m.risks {
		if r.ProjectId == projectId && r.RiskType == riskType && r.Name == name && !r.Status.IsTerminal() {
			if found == nil || r.ID < found.ID {
				found = r
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (m *MemoryLedger) CreateRisk(ctx context.Context, risk *models.RiskRecord) error {
	if m.BeforeCreate != nil {
		if err := m.BeforeCreate(risk); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.risks {
		if r.ProjectId == risk.ProjectId && r.RiskType == risk.RiskType && r.Name == risk.Name && !r.Status.IsTerminal() {
			return fmt.Errorf("%w: %s/%s", ErrConflict, risk.RiskType, risk.Name)
		}
	}
	m.nextId++
	cp := *risk
	cp.ID = m.nextId
	derive(&cp)
	m.risks[cp.ID] = &cp
	risk.ID = cp.ID
	return nil
}

func (m *MemoryLedger) UpdateRiskValues(ctx context.Context, riskId int, candidate models.RiskCandidate) error {
	if m.BeforeUpdate != nil {
		if err := m.BeforeUpdate(riskId, candidate); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.risks[riskId]
	if !ok || r.Status.IsTerminal() {
		return fmt.Errorf("%w: risk %d", ErrConflict, riskId)
	}
	r.ApplyCandidate(candidate)
	derive(r)
	return nil
}

func (m *MemoryLedger) NotifyDetection(ctx context.Context, projectId int, created []models.RiskCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notifications[projectId] = append(m.Notifications[projectId], created)
	return nil
}

func (m *MemoryLedger) RecordMetrics(ctx context.Context, projectId int, day time.Time, samples []models.RiskMetricSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Samples[projectId] = samples
	return nil
}
