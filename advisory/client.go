package advisory

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var ErrDisabled = fmt.Errorf("advisory disabled: %w", riskengine.ErrAdvisoryUnavailable)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskwatch_advisory_requests_total",
		Help: "Advisory model requests by operation and outcome",
	}, []string{"operation", "outcome"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskwatch_advisory_cache_hits_total",
		Help: "Advisory candidate lookups answered from redis",
	})
)

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	api      *openai.Client
	settings config.AdvisorySettings
	limiter  *rate.Limiter
	logger   *logrus.Logger

	totalRequests atomic.Int64
	lastUsed      atomic.Int64
}

func NewClient(settings config.AdvisorySettings) *Client {
	cfg := openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	}
	limit := rate.Inf
	if settings.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(settings.RequestsPerMinute))
	}
	return &Client{
		api:      openai.NewClientWithConfig(cfg),
		settings: settings,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   config.GetLogger(),
	}
}

func (c *Client) Configured() bool {
	return c.settings.Configured()
}

type UsageStats struct {
	Model         string     `json:"model"`
	Enabled       bool       `json:"enabled"`
	TotalRequests int64      `json:"total_requests"`
	LastUsed      *time.Time `json:"last_used"`
}

func (c *Client) Usage() UsageStats {
	stats := UsageStats{
		Model:         c.settings.Model,
		Enabled:       c.Configured(),
		TotalRequests: c.totalRequests.Load(),
	}
	if n := c.lastUsed.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		stats.LastUsed = &t
	}
	return stats
}

// GenerateCandidates implements riskengine.AdvisorySource. A project without a description
// yields nothing; answers are cached per snapshot fingerprint.
func (c *Client) GenerateCandidates(ctx context.Context, snapshot *models.ProjectSnapshot) ([]models.RiskCandidate, error) {
	if !c.Configured() {
		return nil, ErrDisabled
	}
	if strings.TrimSpace(snapshot.Description) == "" {
		return nil, nil
	}

	key := utils.AdvisoryCacheKey(snapshot.ProjectId, snapshot.Fingerprint())
	var cached []models.RiskCandidate
	if ok, err := config.GetRedisObject(ctx, key, &cached); err != nil {
		config.LogWarn(c.logger, "advisory", "GenerateCandidates", "read advisory cache", snapshot.ProjectId, err)
	} else if ok {
		cacheHits.Inc()
		return cached, nil
	}

	text, err := c.complete(ctx, "candidates", candidatesPrompt(snapshot))
	if err != nil {
		return nil, err
	}
	candidates, err := parseCandidates(text)
	if err != nil {
		requestsTotal.WithLabelValues("candidates", "malformed").Inc()
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"module":     "advisory",
		"funcName":   "GenerateCandidates",
		"project_id": snapshot.ProjectId,
		"candidates": len(candidates),
	}).Info("advisory analysis completed")

	if err := config.SetRedisObject(ctx, key, candidates, c.settings.CacheTTL); err != nil {
		config.LogWarn(c.logger, "advisory", "GenerateCandidates", "write advisory cache", snapshot.ProjectId, err)
	}
	return candidates, nil
}

// complete sends one rate-limited chat request and returns the first choice's text.
func (c *Client) complete(ctx context.Context, operation, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		requestsTotal.WithLabelValues(operation, "rate_limited").Inc()
		return "", fmt.Errorf("%w: rate limit: %w", riskengine.ErrAdvisoryUnavailable, err)
	}
	if c.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.settings.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.settings.Temperature,
		MaxTokens:   c.settings.MaxTokens,
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	c.totalRequests.Add(1)
	c.lastUsed.Store(time.Now().UnixNano())
	if err != nil {
		requestsTotal.WithLabelValues(operation, "error").Inc()
		return "", fmt.Errorf("%w: %w", riskengine.ErrAdvisoryUnavailable, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		requestsTotal.WithLabelValues(operation, "empty").Inc()
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}
	requestsTotal.WithLabelValues(operation, "ok").Inc()
	projectId, _ := utils.GetProjectIdFromContext(ctx)
	c.logger.WithFields(logrus.Fields{
		"module":            "advisory",
		"funcName":          "complete",
		"operation":         operation,
		"project_id":        projectId,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Debug("advisory request finished")
	return resp.Choices[0].Message.Content, nil
}
