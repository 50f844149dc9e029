package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/middlewares"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProcessor struct {
	calls    []config.RiskDetectionMessage
	delivery []string
	err      error
}

func (f *fakeProcessor) ProcessRiskDetectionMessage(ctx context.Context, m config.RiskDetectionMessage, deliveryId string) (*riskengine.DetectionResult, error) {
	f.calls = append(f.calls, m)
	f.delivery = append(f.delivery, deliveryId)
	if f.err != nil {
		return nil, f.err
	}
	return &riskengine.DetectionResult{ProjectId: m.ProjectId}, nil
}

func overBudgetSnapshot(projectId int) *models.ProjectSnapshot {
	manager := 7
	return &models.ProjectSnapshot{
		ProjectId: projectId,
		Name:      "Nhà xưởng",
		Status:    models.ProjectStatusInProgress,
		Progress:  40,
		ManagerId: &manager,
		BudgetLines: []models.BudgetLineSummary{{
			Id:      1,
			Name:    "Vật tư",
			Planned: decimal.NewFromInt(1_000_000),
			Spent:   decimal.NewFromInt(1_200_000),
		}},
	}
}

func newTestApp(t *testing.T) (*app, *riskengine.MemoryLedger, *fakeProcessor) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	ledger := riskengine.NewMemoryLedger()
	engine := riskengine.NewEngine(riskengine.Options{
		Ledger:          ledger,
		Snapshots:       ledger,
		Notifier:        ledger,
		Metrics:         ledger,
		Logger:          logger,
		AdvisoryTimeout: 50 * time.Millisecond,
		QueueSize:       4,
	})
	proc := &fakeProcessor{}
	return &app{
		engine: engine,
		worker: proc,
		logger: logger,
		ready:  func() bool { return true },
	}, ledger, proc
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, err := utils.JwtGenerate(1, "tester", role)
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	return "Bearer " + token
}

func doRequest(r http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthzIgnoresReadiness(t *testing.T) {
	a, _, _ := newTestApp(t)
	a.ready = func() bool { return false }
	r := newRouter(a)

	if w := doRequest(r, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("healthz = %d, want 204", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/api/risks", bearer(t, utils.RoleAdmin), nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("api before ready = %d, want 503", w.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	a, _, _ := newTestApp(t)
	r := newRouter(a)

	if w := doRequest(r, http.MethodPost, "/api/projects/1/risks/detect", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/projects/1/risks/detect", "Bearer nope", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", w.Code)
	}
}

func TestDetectReturnsProcessedCandidates(t *testing.T) {
	a, ledger, _ := newTestApp(t)
	ledger.PutSnapshot(overBudgetSnapshot(5))
	r := newRouter(a)

	w := doRequest(r, http.MethodPost, "/api/projects/5/risks/detect", bearer(t, utils.RoleMember), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detect = %d body=%s", w.Code, w.Body.String())
	}
	var res riskengine.DetectionResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Candidates) == 0 || res.Created != len(res.Candidates) {
		t.Fatalf("candidates=%d created=%d", len(res.Candidates), res.Created)
	}
	if got := len(ledger.Risks(5)); got != res.Created {
		t.Fatalf("ledger has %d records, want %d", got, res.Created)
	}

	// A second run updates in place.
	w = doRequest(r, http.MethodPost, "/api/projects/5/risks/detect", bearer(t, utils.RoleMember), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second detect = %d", w.Code)
	}
	if got := len(ledger.Risks(5)); got != res.Created {
		t.Fatalf("ledger grew to %d records", got)
	}
}

func TestDetectUnknownProject(t *testing.T) {
	a, _, _ := newTestApp(t)
	r := newRouter(a)

	w := doRequest(r, http.MethodPost, "/api/projects/99/risks/detect", bearer(t, utils.RoleMember), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("detect unknown = %d, want 404", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/projects/abc/risks/detect", bearer(t, utils.RoleMember), nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d, want 400", w.Code)
	}
}

func TestDetectAsyncCoalesces(t *testing.T) {
	a, ledger, _ := newTestApp(t)
	ledger.PutSnapshot(overBudgetSnapshot(5))
	r := newRouter(a)

	results := []string{}
	for i := 0; i < 2; i++ {
		w := doRequest(r, http.MethodPost, "/api/projects/5/risks/detect?async=1", bearer(t, utils.RoleMember), nil)
		if w.Code != http.StatusAccepted {
			t.Fatalf("async detect = %d", w.Code)
		}
		var body struct {
			Result string `json:"result"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		results = append(results, body.Result)
	}
	if results[0] != "queued" || results[1] != "coalesced" {
		t.Fatalf("results = %v", results)
	}
	if got := len(ledger.Risks(5)); got != 0 {
		t.Fatalf("queued request ran inline: %d records", got)
	}
}

func TestPreviewDoesNotWrite(t *testing.T) {
	a, ledger, _ := newTestApp(t)
	ledger.PutSnapshot(overBudgetSnapshot(5))
	r := newRouter(a)

	w := doRequest(r, http.MethodGet, "/api/projects/5/risks/preview", bearer(t, utils.RoleMember), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("preview = %d", w.Code)
	}
	var body struct {
		Candidates []models.RiskCandidate `json:"candidates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Candidates) == 0 {
		t.Fatalf("preview returned no candidates")
	}
	if got := len(ledger.Risks(5)); got != 0 {
		t.Fatalf("preview wrote %d records", got)
	}
}

func TestSweepRequiresManagerRole(t *testing.T) {
	a, ledger, _ := newTestApp(t)
	ledger.PutSnapshot(overBudgetSnapshot(5))
	ledger.PutSnapshot(overBudgetSnapshot(6))
	r := newRouter(a)

	if w := doRequest(r, http.MethodPost, "/api/risks/sweep", bearer(t, utils.RoleMember), nil); w.Code != http.StatusForbidden {
		t.Fatalf("member sweep = %d, want 403", w.Code)
	}

	w := doRequest(r, http.MethodPost, "/api/risks/sweep", bearer(t, utils.RoleProjectManager), sweepRequest{ProjectIds: []int{5, 6, 6, 404}, Concurrency: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("sweep = %d body=%s", w.Code, w.Body.String())
	}
	var report riskengine.SweepReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Projects != 3 || report.Succeeded != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestAdvisoryUsageWithoutClient(t *testing.T) {
	a, _, _ := newTestApp(t)
	r := newRouter(a)

	w := doRequest(r, http.MethodGet, "/api/advisory/usage", bearer(t, utils.RoleMember), nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"enabled":false`)) {
		t.Fatalf("usage = %d %s", w.Code, w.Body.String())
	}
	if w := doRequest(r, http.MethodPost, "/api/risks/3/enhance", bearer(t, utils.RoleMember), nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("enhance without advisory = %d, want 503", w.Code)
	}
}

func pushBody(t *testing.T, id string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var env PubSubMessage
	env.Message.ID = id
	env.Message.Data = data
	env.Subscription = "projects/p/subscriptions/risk"
	out, _ := json.Marshal(env)
	return out
}

func TestPubSubPushHandler(t *testing.T) {
	a, _, proc := newTestApp(t)
	r := newRouter(a)

	post := func(body []byte) int {
		req := httptest.NewRequest(http.MethodPost, "/pubsub/risk-detection", bytes.NewReader(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := post([]byte("not json")); code != http.StatusNoContent {
		t.Fatalf("malformed envelope = %d, want 204", code)
	}
	if code := post(pushBody(t, "m0", map[string]any{"source": "task"})); code != http.StatusNoContent {
		t.Fatalf("missing project = %d, want 204", code)
	}
	if len(proc.calls) != 0 {
		t.Fatalf("poisoned messages reached the worker")
	}

	msg := config.RiskDetectionMessage{ID: 11, ProjectId: 5, Source: "task", CorrelationId: "c-1"}
	if code := post(pushBody(t, "m1", msg)); code != http.StatusNoContent {
		t.Fatalf("valid message = %d, want 204", code)
	}
	if len(proc.calls) != 1 || proc.calls[0].ProjectId != 5 || proc.delivery[0] != "m1" {
		t.Fatalf("calls = %+v delivery = %v", proc.calls, proc.delivery)
	}

	proc.err = errors.New("db down")
	if code := post(pushBody(t, "m2", msg)); code != http.StatusInternalServerError {
		t.Fatalf("failed processing = %d, want 500", code)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{utils.ErrorRecordNotFound, http.StatusNotFound},
		{fmt.Errorf("load snapshot: %w", utils.ErrorRecordNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: resolved -> mitigating", models.ErrInvalidRiskTransition), http.StatusConflict},
		{models.ErrRiskClosed, http.StatusConflict},
		{utils.ErrorLockNotObtained, http.StatusConflict},
		{riskengine.ErrAdvisoryMalformed, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusTeapot},
	}
	for _, tc := range cases {
		if got := errorStatus(tc.err, http.StatusTeapot); got != tc.want {
			t.Fatalf("errorStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestGroupByProject(t *testing.T) {
	records := []models.RiskTriggerRecord{
		{ID: 1, ProjectId: 9},
		{ID: 2, ProjectId: 3},
		{ID: 3, ProjectId: 9},
	}
	order, groups := groupByProject(records)
	if len(order) != 2 || order[0] != 9 || order[1] != 3 {
		t.Fatalf("order = %v", order)
	}
	if len(groups[9]) != 2 || groups[9][1].ID != 3 {
		t.Fatalf("groups[9] = %+v", groups[9])
	}
}

func TestCorrelationIdEchoed(t *testing.T) {
	a, _, _ := newTestApp(t)
	r := newRouter(a)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("x-correlation-id", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("x-correlation-id"); got != "abc-123" {
		t.Fatalf("correlation id = %q", got)
	}
}

func TestErrorLoggerRecordsCaller(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := gin.New()
	r.Use(customErrorLogger(logger), middlewares.AuthMiddleware())
	r.GET("/api/fail", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
		c.Status(http.StatusInternalServerError)
	})

	doRequest(r, http.MethodGet, "/api/fail", bearer(t, utils.RoleMember), nil)
	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("error not logged")
	}
	if entry.Data["username"] != "tester" || entry.Data["path"] != "/api/fail" {
		t.Fatalf("log fields = %v", entry.Data)
	}
}

func TestLastSweepAtWithoutRedis(t *testing.T) {
	a, _, _ := newTestApp(t)
	if got := a.lastSweepAt(context.Background()); got != nil {
		t.Fatalf("lastSweepAt without redis = %v", got)
	}
}
