package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/riskwatch_backend/advisory"
	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/models/reports"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
)

func paramId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

// errorStatus maps domain errors to HTTP codes; anything unknown gets fallback.
func errorStatus(err error, fallback int) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidRiskTransition),
		errors.Is(err, models.ErrRiskClosed),
		errors.Is(err, models.ErrProjectApproval),
		errors.Is(err, riskengine.ErrConflict),
		errors.Is(err, utils.ErrorLockNotObtained):
		return http.StatusConflict
	case errors.Is(err, advisory.ErrDisabled), errors.Is(err, utils.ErrorServiceNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, riskengine.ErrAdvisoryUnavailable),
		errors.Is(err, riskengine.ErrAdvisoryMalformed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return fallback
}

func respondError(c *gin.Context, err error, fallback int) {
	status := errorStatus(err, fallback)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		c.JSON(status, gin.H{"error": "validation failed", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// lastSweepAt reads when the scheduled sweep last finished; nil without redis or before the first run.
func (a *app) lastSweepAt(ctx context.Context) *time.Time {
	raw, ok, err := config.GetRedisValue(ctx, utils.RiskSweepLastRunKey)
	if err != nil {
		config.LogWarn(a.logger, "server.go", "lastSweepAt", "read last sweep", nil, err)
		return nil
	}
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// invalidateSummary drops cached risk summaries after the project's ledger changed.
func (a *app) invalidateSummary(ctx context.Context, projectId int) {
	if err := reports.InvalidateRiskSummary(ctx, projectId); err != nil {
		config.LogWarn(a.logger, "server.go", "invalidateSummary", "remove cached summary", projectId, err)
	}
}
