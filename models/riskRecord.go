package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RiskRecord is one entry of a project's risk ledger.
//
// OpenKey is true while the record is non-terminal and NULL once it is resolved or accepted.
// MySQL ignores NULLs in unique indexes, so uniq_open_risk allows one open record per
// (project, type, name) and any number of closed ones.
type RiskRecord struct {
	ID             int        `gorm:"primary_key" json:"id"`
	ProjectId      int        `gorm:"not null;index;uniqueIndex:uniq_open_risk,priority:1" json:"project_id"`
	RiskType       RiskType   `gorm:"size:20;not null;uniqueIndex:uniq_open_risk,priority:2" json:"risk_type"`
	Name           string     `gorm:"size:255;not null;uniqueIndex:uniq_open_risk,priority:3" json:"name"`
	OpenKey        *bool      `gorm:"uniqueIndex:uniq_open_risk,priority:4" json:"-"`
	Description    string     `gorm:"type:text" json:"description"`
	Probability    float64    `gorm:"not null;default:0" json:"probability"`
	Impact         float64    `gorm:"not null;default:1" json:"impact"`
	RiskScore      float64    `gorm:"not null;default:0;index" json:"risk_score"`
	RiskLevel      RiskLevel  `gorm:"size:10;not null;index" json:"risk_level"`
	RootCause      string     `gorm:"type:text" json:"root_cause"`
	MitigationPlan string     `gorm:"type:text" json:"mitigation_plan"`
	Confidence     float64    `gorm:"not null;default:0" json:"confidence"`
	Status         RiskStatus `gorm:"size:20;not null;default:identified;index" json:"status"`
	IsAiDetected   bool       `gorm:"not null;default:false;index" json:"is_ai_detected"`
	DetectedDate   time.Time  `gorm:"not null" json:"detected_date"`
	ResolvedDate   *time.Time `json:"resolved_date"`
	AssignedTo     *int       `gorm:"index" json:"assigned_to"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// derivedRiskColumns are written by BeforeSave and must be part of every selective update.
var derivedRiskColumns = []string{"RiskScore", "RiskLevel", "OpenKey"}

var ErrRiskClosed = errors.New("risk is closed")

// BeforeSave keeps score, level and open key derived from the other fields.
// Bulk updates bypass it with SkipHooks and maintain the columns themselves.
func (r *RiskRecord) BeforeSave(tx *gorm.DB) error {
	r.RiskScore = ComputeRiskScore(r.Probability, r.Impact)
	r.RiskLevel = RiskLevelForScore(r.RiskScore)
	r.OpenKey = openKeyFor(r.Status)
	return nil
}

func openKeyFor(status RiskStatus) *bool {
	if status.IsTerminal() {
		return nil
	}
	return utils.NewTrue()
}

// DisplayName renders level badge, name and score, e.g. "[HIGH] Vượt ngân sách 5.0% (60.0)".
func (r RiskRecord) DisplayName() string {
	return fmt.Sprintf("%s %s (%.1f)", r.RiskLevel.Badge(), r.Name, r.RiskScore)
}

// NewRiskRecordFromCandidate builds an identified, AI-detected record.
func NewRiskRecordFromCandidate(projectId int, c RiskCandidate, detectedAt time.Time, assignedTo *int) *RiskRecord {
	return &RiskRecord{
		ProjectId:      projectId,
		RiskType:       c.Type,
		Name:           c.Name,
		Description:    c.Description,
		Probability:    c.Probability,
		Impact:         c.Impact,
		RootCause:      c.RootCause,
		MitigationPlan: c.MitigationPlan,
		Confidence:     c.Confidence,
		Status:         RiskStatusIdentified,
		IsAiDetected:   true,
		DetectedDate:   detectedAt,
		AssignedTo:     assignedTo,
	}
}

// ApplyCandidate copies the mutable values of a fresh candidate. Status, type, name and
// detected date stay as they are.
func (r *RiskRecord) ApplyCandidate(c RiskCandidate) {
	r.Probability = c.Probability
	r.Impact = c.Impact
	r.Description = c.Description
	r.RootCause = c.RootCause
	r.MitigationPlan = c.MitigationPlan
	r.Confidence = c.Confidence
}

func saveRiskColumns(tx *gorm.DB, r *RiskRecord, columns ...string) *gorm.DB {
	return tx.Model(r).Select(append(columns, derivedRiskColumns...)).Updates(r)
}

type RiskFilter struct {
	ProjectId *int
	Status    *RiskStatus
	Level     *RiskLevel
	Type      *RiskType
	OpenOnly  bool
}

// ListRisks orders by score then detection time, newest first.
func ListRisks(ctx context.Context, filter RiskFilter) ([]*RiskRecord, error) {
	q := config.GetDB().WithContext(ctx).Model(&RiskRecord{})
	if filter.ProjectId != nil {
		q = q.Where("project_id = ?", *filter.ProjectId)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Level != nil {
		q = q.Where("risk_level = ?", *filter.Level)
	}
	if filter.Type != nil {
		q = q.Where("risk_type = ?", *filter.Type)
	}
	if filter.OpenOnly {
		q = q.Where("status IN ?", OpenRiskStatuses)
	}
	var risks []*RiskRecord
	if err := q.Order("risk_score DESC, detected_date DESC, id DESC").Find(&risks).Error; err != nil {
		return nil, err
	}
	return risks, nil
}

func GetRiskRecord(ctx context.Context, id int) (*RiskRecord, error) {
	var risk RiskRecord
	if err := config.GetDB().WithContext(ctx).First(&risk, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &risk, nil
}

func lockRiskRecord(tx *gorm.DB, id int) (*RiskRecord, error) {
	var risk RiskRecord
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&risk, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &risk, nil
}

func transitionRisk(ctx context.Context, id int, to RiskStatus) (*RiskRecord, error) {
	var result *RiskRecord
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		risk, err := lockRiskRecord(tx, id)
		if err != nil {
			return err
		}
		from := risk.Status
		if err := ValidateRiskTransition(from, to); err != nil {
			return err
		}
		risk.Status = to
		columns := []string{"Status"}
		if to == RiskStatusResolved {
			now := time.Now().UTC()
			risk.ResolvedDate = &now
			columns = append(columns, "ResolvedDate")
		}
		if err := saveRiskColumns(tx, risk, columns...).Error; err != nil {
			return err
		}
		result = risk
		body := fmt.Sprintf("%s: %s -> %s", risk.Name, from, to)
		return recordActivity(tx, risk.ProjectId, ActivityTypeRiskStatus, "Cập nhật trạng thái rủi ro", body, risk.ID, "risk_records")
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func StartRiskAnalysis(ctx context.Context, id int) (*RiskRecord, error) {
	return transitionRisk(ctx, id, RiskStatusAnalyzing)
}

func StartRiskMitigation(ctx context.Context, id int) (*RiskRecord, error) {
	return transitionRisk(ctx, id, RiskStatusMitigating)
}

// ResolveRisk closes the risk and stamps the resolved date.
func ResolveRisk(ctx context.Context, id int) (*RiskRecord, error) {
	return transitionRisk(ctx, id, RiskStatusResolved)
}

// AcceptRisk closes the risk as a decision not to act.
func AcceptRisk(ctx context.Context, id int) (*RiskRecord, error) {
	return transitionRisk(ctx, id, RiskStatusAccepted)
}

type RiskDetailsInput struct {
	Name           *string   `json:"name" validate:"omitempty,min=1,max=255"`
	Description    *string   `json:"description"`
	RootCause      *string   `json:"root_cause"`
	MitigationPlan *string   `json:"mitigation_plan"`
	Probability    *float64  `json:"probability" validate:"omitempty,gte=0,lte=100"`
	Impact         *float64  `json:"impact" validate:"omitempty,gte=1,lte=10"`
	RiskType       *RiskType `json:"risk_type"`
	AssignedTo     *int      `json:"assigned_to"`
}

// UpdateRiskDetails edits an open risk. Score and level follow probability and impact.
func UpdateRiskDetails(ctx context.Context, id int, input *RiskDetailsInput) (*RiskRecord, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	var result *RiskRecord
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		risk, err := lockRiskRecord(tx, id)
		if err != nil {
			return err
		}
		if risk.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrRiskClosed, risk.Status)
		}
		var columns []string
		if input.Name != nil {
			risk.Name = strings.TrimSpace(*input.Name)
			columns = append(columns, "Name")
		}
		if input.RiskType != nil {
			if !input.RiskType.IsValid() {
				return ErrInvalidRiskType
			}
			risk.RiskType = *input.RiskType
			columns = append(columns, "RiskType")
		}
		if input.Description != nil {
			risk.Description = *input.Description
			columns = append(columns, "Description")
		}
		if input.RootCause != nil {
			risk.RootCause = *input.RootCause
			columns = append(columns, "RootCause")
		}
		if input.MitigationPlan != nil {
			risk.MitigationPlan = *input.MitigationPlan
			columns = append(columns, "MitigationPlan")
		}
		if input.Probability != nil {
			risk.Probability = *input.Probability
			columns = append(columns, "Probability")
		}
		if input.Impact != nil {
			risk.Impact = *input.Impact
			columns = append(columns, "Impact")
		}
		if input.AssignedTo != nil {
			risk.AssignedTo = input.AssignedTo
			columns = append(columns, "AssignedTo")
		}
		if len(columns) == 0 {
			result = risk
			return nil
		}
		if err := saveRiskColumns(tx, risk, columns...).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return ErrRiskConflict
			}
			return err
		}
		result = risk
		return recordActivity(tx, risk.ProjectId, ActivityTypeRiskUpdate, "Cập nhật rủi ro", risk.DisplayName(), risk.ID, "risk_records")
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EnhancedConfidence raises confidence by 10 points, capped at 95.
func EnhancedConfidence(confidence float64) float64 {
	return min(confidence+10, 95)
}

// ApplyRiskEnhancement stores advisory-written analysis on an open risk.
// Empty strings leave the current text in place.
func ApplyRiskEnhancement(ctx context.Context, id int, rootCause, mitigationPlan string) (*RiskRecord, error) {
	var result *RiskRecord
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		risk, err := lockRiskRecord(tx, id)
		if err != nil {
			return err
		}
		if risk.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrRiskClosed, risk.Status)
		}
		columns := []string{"Confidence"}
		if rootCause != "" {
			risk.RootCause = rootCause
			columns = append(columns, "RootCause")
		}
		if mitigationPlan != "" {
			risk.MitigationPlan = mitigationPlan
			columns = append(columns, "MitigationPlan")
		}
		risk.Confidence = EnhancedConfidence(risk.Confidence)
		if err := saveRiskColumns(tx, risk, columns...).Error; err != nil {
			return err
		}
		result = risk
		return recordActivity(tx, risk.ProjectId, ActivityTypeRiskEnhanced, "Phân tích rủi ro chi tiết", risk.DisplayName(), risk.ID, "risk_records")
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
