package reports

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/xuri/excelize/v2"
)

const riskRegisterSheet = "Risk Register"

var riskRegisterHeadings = []string{
	"Mã rủi ro", "Tên rủi ro", "Loại", "Xác suất (%)", "Tác động", "Điểm", "Mức độ",
	"Trạng thái", "AI phát hiện", "Độ tin cậy (%)", "Ngày phát hiện", "Ngày giải quyết",
	"Nguyên nhân", "Kế hoạch giảm thiểu",
}

// SortRiskRegister orders by score then detection time, newest first.
func SortRiskRegister(risks []*models.RiskRecord) {
	sort.SliceStable(risks, func(i, j int) bool {
		if risks[i].RiskScore != risks[j].RiskScore {
			return risks[i].RiskScore > risks[j].RiskScore
		}
		return risks[i].DetectedDate.After(risks[j].DetectedDate)
	})
}

func riskRegisterRow(r *models.RiskRecord) []interface{} {
	resolved := ""
	if r.ResolvedDate != nil {
		resolved = r.ResolvedDate.Format(time.DateOnly)
	}
	aiDetected := "Không"
	if r.IsAiDetected {
		aiDetected = "Có"
	}
	return []interface{}{
		r.ID, r.Name, r.RiskType.Label(), r.Probability, r.Impact, r.RiskScore, string(r.RiskLevel),
		string(r.Status), aiDetected, r.Confidence, r.DetectedDate.Format(time.DateOnly), resolved,
		r.RootCause, r.MitigationPlan,
	}
}

// WriteRiskRegister builds the workbook for one project's risks.
func WriteRiskRegister(project *models.Project, risks []*models.RiskRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", riskRegisterSheet); err != nil {
		return nil, err
	}

	title := fmt.Sprintf("%s - %s", project.Code, project.Name)
	if err := f.SetCellValue(riskRegisterSheet, "A1", title); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	for i, h := range riskRegisterHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 3)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(riskRegisterSheet, cell, h); err != nil {
			return nil, err
		}
	}
	lastHeading, _ := excelize.CoordinatesToCellName(len(riskRegisterHeadings), 3)
	if err := f.SetCellStyle(riskRegisterSheet, "A1", lastHeading, bold); err != nil {
		return nil, err
	}

	SortRiskRegister(risks)
	for rowNo, r := range risks {
		cell, err := excelize.CoordinatesToCellName(1, rowNo+4)
		if err != nil {
			return nil, err
		}
		row := riskRegisterRow(r)
		if err := f.SetSheetRow(riskRegisterSheet, cell, &row); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(riskRegisterSheet, "B", "B", 45); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(riskRegisterSheet, "M", "N", 60); err != nil {
		return nil, err
	}
	return f, nil
}

// BuildRiskRegisterWorkbook returns the xlsx bytes and a download file name.
func BuildRiskRegisterWorkbook(ctx context.Context, projectId int) ([]byte, string, error) {
	started := time.Now()
	project, err := models.GetProject(ctx, projectId)
	if err != nil {
		return nil, "", err
	}
	risks, err := models.ListRisks(ctx, models.RiskFilter{ProjectId: &projectId})
	if err != nil {
		return nil, "", err
	}
	f, err := WriteRiskRegister(project, risks)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", err
	}
	logSlowReport(ctx, "riskRegister", started, map[string]any{"project_id": projectId, "risks": len(risks)})
	return buf.Bytes(), fmt.Sprintf("risk-register-%s-%s.xlsx", project.Code, time.Now().Format("20060102")), nil
}
