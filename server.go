package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/riskwatch_backend/advisory"
	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/middlewares"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/models/reports"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"github.com/mmdatafocus/riskwatch_backend/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// riskMessageProcessor runs one delivered detection message; *workflow.RiskDetectionWorker satisfies it.
type riskMessageProcessor interface {
	ProcessRiskDetectionMessage(ctx context.Context, m config.RiskDetectionMessage, deliveryId string) (*riskengine.DetectionResult, error)
}

// app holds what the handlers need once dependencies are connected.
type app struct {
	engine   *riskengine.Engine
	advisory *advisory.Client
	worker   riskMessageProcessor
	logger   *logrus.Logger
	ready    func() bool
}

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func newRouter(a *app) *gin.Engine {
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/healthz", "/metrics":
			c.Next()
			return
		}
		// Gate app endpoints on dependency readiness.
		if a.ready != nil && !a.ready() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": utils.ErrorServiceNotReady.Error()})
			return
		}
		c.Next()
	})

	r.Use(cors.New(corsConfig()))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		if client := config.GetRedisDB(); client != nil {
			limit := int64(600)
			if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
					limit = n
				}
			}
			windowSec := int64(60)
			if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
					windowSec = n
				}
			}
			r.Use(NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second).RateLimitMiddleware)
		}
	}

	r.Use(customErrorLogger(a.logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/pubsub/risk-detection", a.riskDetectionPubSubHandler())

	api := r.Group("/api", middlewares.AuthMiddleware())
	manage := middlewares.RequireRole(utils.RoleAdmin, utils.RoleProjectManager)

	api.GET("/employees", a.listEmployeesHandler())
	api.POST("/employees", manage, a.createEmployeeHandler())
	api.PUT("/employees/:id", manage, a.updateEmployeeHandler())

	api.GET("/projects", a.listProjectsHandler())
	api.POST("/projects", manage, a.createProjectHandler())
	api.GET("/projects/:id", a.getProjectHandler())
	api.PUT("/projects/:id", manage, a.updateProjectHandler())
	api.DELETE("/projects/:id", manage, a.deleteProjectHandler())
	api.POST("/projects/:id/submit", manage, a.projectApprovalHandler("submit"))
	api.POST("/projects/:id/approve", middlewares.RequireRole(utils.RoleAdmin), a.projectApprovalHandler("approve"))
	api.POST("/projects/:id/reject", middlewares.RequireRole(utils.RoleAdmin), a.projectApprovalHandler("reject"))
	api.POST("/projects/:id/reset", manage, a.projectApprovalHandler("reset"))
	api.GET("/projects/:id/activities", a.listActivitiesHandler())

	api.GET("/projects/:id/tasks", a.listTasksHandler())
	api.POST("/tasks", a.createTaskHandler())
	api.PUT("/tasks/:id", a.updateTaskHandler())
	api.DELETE("/tasks/:id", manage, a.deleteTaskHandler())

	api.GET("/projects/:id/budget-lines", a.listBudgetLinesHandler())
	api.POST("/budget-lines", manage, a.createBudgetLineHandler())
	api.PUT("/budget-lines/:id", manage, a.updateBudgetLineHandler())
	api.DELETE("/budget-lines/:id", manage, a.deleteBudgetLineHandler())

	api.GET("/projects/:id/expenses", a.listExpensesHandler())
	api.POST("/expenses", a.createExpenseHandler())
	api.PUT("/expenses/:id", a.updateExpenseHandler())
	api.DELETE("/expenses/:id", manage, a.deleteExpenseHandler())

	api.POST("/projects/:id/risks/detect", a.detectProjectRisksHandler())
	api.GET("/projects/:id/risks/preview", a.previewProjectRisksHandler())
	api.GET("/projects/:id/risks", a.listProjectRisksHandler())
	api.GET("/projects/:id/risks/export", a.exportRiskRegisterHandler())
	api.GET("/projects/:id/risk-metrics", a.listRiskMetricsHandler())
	api.GET("/projects/:id/risk-triggers", a.riskTriggerStatusHandler())
	api.POST("/projects/:id/risk-triggers/reprocess", manage, a.reprocessRiskTriggersHandler())

	api.GET("/risks", a.listRisksHandler())
	api.GET("/risks/summary", a.riskSummaryHandler())
	api.POST("/risks/sweep", manage, a.sweepHandler())
	api.GET("/risks/:id", a.getRiskHandler())
	api.PATCH("/risks/:id", a.updateRiskHandler())
	api.POST("/risks/:id/analyze", a.riskTransitionHandler(models.StartRiskAnalysis))
	api.POST("/risks/:id/mitigate", a.riskTransitionHandler(models.StartRiskMitigation))
	api.POST("/risks/:id/resolve", a.riskTransitionHandler(models.ResolveRisk))
	api.POST("/risks/:id/accept", manage, a.riskTransitionHandler(models.AcceptRisk))
	api.POST("/risks/:id/enhance", a.enhanceRiskHandler())

	api.GET("/advisory/usage", a.advisoryUsageHandler())

	r.NoRoute(customNotFoundHandler)
	return r
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	// Credentials cannot be combined with a wildcard origin.
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

// newEngine wires the detection engine to MySQL, the lock backend and the advisory client.
// A nil advisory client runs rule evaluators only.
func newEngine(logger *logrus.Logger, advisoryClient *advisory.Client) *riskengine.Engine {
	db := config.GetDB()
	ledger := models.NewGormRiskLedger(db)
	thresholds := riskengine.ThresholdsFromConfig(config.GetRiskThresholds())
	settings := config.GetAdvisorySettings()

	opts := riskengine.Options{
		Ledger:          ledger,
		Snapshots:       ledger,
		Locker:          workflow.NewProjectLocker(config.RiskLockBackend(), db),
		Notifier:        ledger,
		Metrics:         ledger,
		Changes:         reports.SummaryInvalidator{},
		Thresholds:      &thresholds,
		Logger:          logger,
		AdvisoryTimeout: settings.Timeout,
		QueueSize:       config.RiskQueueSize(),
	}
	if advisoryClient != nil {
		opts.Advisory = advisoryClient
	}
	return riskengine.NewEngine(opts)
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// The handlers are installed before dependencies connect; until then app endpoints return 503.
	a := &app{logger: logger}
	appReady := make(chan struct{})
	a.ready = func() bool {
		select {
		case <-appReady:
			return true
		default:
			return false
		}
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(a),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; allow running migrations as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	settings := config.GetAdvisorySettings()
	if settings.Enabled {
		a.advisory = advisory.NewClient(settings)
		if !a.advisory.Configured() {
			logger.WithFields(logrus.Fields{"field": "advisory"}).Warn("advisory enabled but no API key set; rule evaluators only")
		}
	}
	a.engine = newEngine(logger, a.advisory)
	a.worker = workflow.NewRiskDetectionWorker(db, logger, a.engine)
	close(appReady)

	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// Engine queue workers; the project locker keeps cycles of one project apart.
	for i := 0; i < config.RiskSweepConcurrency(); i++ {
		go a.engine.Run(workersCtx)
	}

	if config.PubSubConfigured() {
		// Publishes trigger rows AFTER commit.
		go workflow.NewRiskTriggerDispatcher(db, logger).Run(workersCtx)
		if strings.EqualFold(strings.TrimSpace(os.Getenv("RISK_PULL_SUBSCRIBER")), "true") {
			if err := RunRiskDetectionWorkflow(workersCtx, a.worker); err != nil {
				config.LogError(logger, "server.go", "main", "starting risk detection subscriber", nil, err)
			}
		}
	}
	if config.OutboxDirectProcessing() {
		go NewOutboxDirectProcessor(db, logger, a.engine).Run(workersCtx)
	}
	if interval := config.RiskSweepInterval(); interval > 0 {
		go runSweepTicker(workersCtx, logger, a.engine, interval, config.RiskSweepConcurrency())
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("risk API listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// runSweepTicker runs the scheduled sweep every interval. A sweep still running when the
// next tick arrives makes that tick a no-op.
func runSweepTicker(ctx context.Context, logger *logrus.Logger, engine *riskengine.Engine, interval time.Duration, concurrency int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx := utils.SystemContext(ctx, "risk-sweep")
			sweepCtx = utils.SetCorrelationIdInContext(sweepCtx, uuid.NewString())
			if _, err := engine.Sweep(sweepCtx, concurrency); err != nil {
				config.LogError(logger, "server.go", "runSweepTicker", "scheduled sweep", nil, err)
				continue
			}
			_ = config.SetRedisValue(ctx, utils.RiskSweepLastRunKey, time.Now().UTC().Format(time.RFC3339), 0)
		}
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			ctx := c.Request.Context()
			username, _ := utils.GetUsernameFromContext(ctx)
			correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"username":       username,
				"correlation_id": correlationId,
			}).Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in a fixed window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "rate:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// Redis trouble must not take the API down.
		c.Next()
		return
	}
	if count == 1 {
		_ = rl.client.Expire(c.Request.Context(), key, rl.window).Err()
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "Rate limit exceeded. Try again in " + strconv.Itoa(int(rl.window.Seconds())) + " seconds",
		})
		return
	}

	c.Next()
}
