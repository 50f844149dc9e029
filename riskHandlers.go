package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/models/reports"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"github.com/sirupsen/logrus"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func enqueueResultName(r riskengine.EnqueueResult) string {
	switch r {
	case riskengine.EnqueueQueued:
		return "queued"
	case riskengine.EnqueueCoalesced:
		return "coalesced"
	default:
		return "dropped"
	}
}

// detectProjectRisksHandler is the manual re-run. It answers with the processed candidates;
// ?async=1 queues the cycle instead.
func (a *app) detectProjectRisksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := paramId(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()

		if c.Query("async") == "1" {
			cid, _ := utils.GetCorrelationIdFromContext(ctx)
			res := a.engine.Enqueue(riskengine.DetectionRequest{
				ProjectId:     projectId,
				Source:        models.TriggerSourceManual,
				CorrelationId: cid,
			})
			status := http.StatusAccepted
			if res == riskengine.EnqueueDropped {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"project_id": projectId, "result": enqueueResultName(res)})
			return
		}

		res, err := a.engine.DetectProject(ctx, projectId)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		a.logger.WithFields(logrus.Fields{
			"module":     "server.go",
			"funcName":   "detectProjectRisksHandler",
			"project_id": projectId,
			"candidates": len(res.Candidates),
			"created":    res.Created,
			"updated":    res.Updated,
		}).Info("manual risk detection finished")
		c.JSON(http.StatusOK, res)
	}
}

func (a *app) previewProjectRisksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := paramId(c, "id")
		if !ok {
			return
		}
		candidates, err := a.engine.Preview(c.Request.Context(), projectId)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		if candidates == nil {
			candidates = []models.RiskCandidate{}
		}
		c.JSON(http.StatusOK, gin.H{"project_id": projectId, "candidates": candidates})
	}
}

// riskFilterFromQuery reads status, level, type and open=1.
func riskFilterFromQuery(c *gin.Context) (models.RiskFilter, bool) {
	var f models.RiskFilter
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		st := models.RiskStatus(s)
		f.Status = &st
	}
	if s := strings.TrimSpace(c.Query("level")); s != "" {
		lv := models.RiskLevel(s)
		f.Level = &lv
	}
	if s := strings.TrimSpace(c.Query("type")); s != "" {
		rt, err := models.ParseRiskType(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return f, false
		}
		f.Type = &rt
	}
	f.OpenOnly = c.Query("open") == "1"
	return f, true
}

func (a *app) listProjectRisksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := paramId(c, "id")
		if !ok {
			return
		}
		f, ok := riskFilterFromQuery(c)
		if !ok {
			return
		}
		f.ProjectId = &projectId
		risks, err := models.ListRisks(c.Request.Context(), f)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, risks)
	}
}

func (a *app) listRisksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := riskFilterFromQuery(c)
		if !ok {
			return
		}
		risks, err := models.ListRisks(c.Request.Context(), f)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, risks)
	}
}

func (a *app) getRiskHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		risk, err := models.GetRiskRecord(c.Request.Context(), id)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"risk": risk, "display_name": risk.DisplayName()})
	}
}

func (a *app) updateRiskHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		var input models.RiskDetailsInput
		if !bindJSON(c, &input) {
			return
		}
		risk, err := models.UpdateRiskDetails(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err, http.StatusBadRequest)
			return
		}
		a.invalidateSummary(c.Request.Context(), risk.ProjectId)
		c.JSON(http.StatusOK, risk)
	}
}

type riskTransition func(ctx context.Context, id int) (*models.RiskRecord, error)

// riskTransitionHandler runs one lifecycle action; invalid transitions answer 409.
func (a *app) riskTransitionHandler(transition riskTransition) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		risk, err := transition(c.Request.Context(), id)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		a.invalidateSummary(c.Request.Context(), risk.ProjectId)
		c.JSON(http.StatusOK, risk)
	}
}

func (a *app) enhanceRiskHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		if a.advisory == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "advisory disabled"})
			return
		}
		risk, err := a.advisory.EnhanceRisk(c.Request.Context(), id)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, risk)
	}
}

type sweepRequest struct {
	ProjectIds  []int `json:"project_ids"`
	Concurrency int   `json:"concurrency" binding:"omitempty,min=1,max=32"`
}

// sweepHandler runs a sweep in the request: all sweep projects, or only the listed ones.
func (a *app) sweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sweepRequest
		if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
			return
		}
		if req.Concurrency == 0 {
			req.Concurrency = 4
		}
		ctx := c.Request.Context()

		var report *riskengine.SweepReport
		if len(req.ProjectIds) > 0 {
			report = a.engine.SweepProjects(ctx, utils.UniqueSlice(req.ProjectIds), req.Concurrency)
		} else {
			var err error
			report, err = a.engine.Sweep(ctx, req.Concurrency)
			if err != nil {
				respondError(c, err, http.StatusInternalServerError)
				return
			}
		}
		c.JSON(http.StatusOK, report)
	}
}

// exportRiskRegisterHandler streams the xlsx register; ?upload=1 stores it in the bucket instead.
func (a *app) exportRiskRegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := paramId(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		data, fileName, err := reports.BuildRiskRegisterWorkbook(ctx, projectId)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}

		if c.Query("upload") == "1" {
			if !utils.GCSConfigured() {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "GCS_BUCKET is not configured"})
				return
			}
			objectName := "risk-registers/" + strconv.Itoa(projectId) + "/" + fileName
			url, err := utils.UploadBytesToGCS(ctx, objectName, data, xlsxContentType)
			if err != nil {
				respondError(c, err, http.StatusBadGateway)
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": url, "file_name": fileName})
			return
		}

		c.Header("Content-Disposition", `attachment; filename="`+fileName+`"`)
		c.Data(http.StatusOK, xlsxContentType, data)
	}
}

func (a *app) riskSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var projectId *int
		if s := c.Query("project_id"); s != "" {
			id, err := strconv.Atoi(s)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
				return
			}
			projectId = &id
		}
		summary, err := reports.GetRiskSummary(c.Request.Context(), projectId)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func (a *app) listRiskMetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := paramId(c, "id")
		if !ok {
			return
		}
		days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
		if err != nil || days <= 0 || days > 366 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 366"})
			return
		}
		since := time.Now().UTC().AddDate(0, 0, -days)
		metrics, err := models.ListRiskMetrics(c.Request.Context(), projectId, since)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, metrics)
	}
}

func (a *app) riskTriggerStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := paramId(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		status, err := models.GetRiskTriggerStatus(ctx, projectId)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		status.LastSweepAt = a.lastSweepAt(ctx)
		c.JSON(http.StatusOK, status)
	}
}

func (a *app) reprocessRiskTriggersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := paramId(c, "id")
		if !ok {
			return
		}
		status, err := models.ReprocessRiskTriggers(c.Request.Context(), projectId)
		if err != nil {
			respondError(c, err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func (a *app) advisoryUsageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.advisory == nil {
			c.JSON(http.StatusOK, gin.H{"enabled": false})
			return
		}
		c.JSON(http.StatusOK, a.advisory.Usage())
	}
}
