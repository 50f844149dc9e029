package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/mmdatafocus/riskwatch_backend/models"
	"github.com/mmdatafocus/riskwatch_backend/riskengine"
	"github.com/mmdatafocus/riskwatch_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func chatServer(t *testing.T, status int, content string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSettings(baseURL string) config.AdvisorySettings {
	return config.AdvisorySettings{
		Enabled: true,
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "test-model",
	}
}

func describedSnapshot() *models.ProjectSnapshot {
	return &models.ProjectSnapshot{
		ProjectId:   5,
		Name:        "Hệ thống kho",
		Description: "Tích hợp với ERP cũ, đội ngũ chưa có kinh nghiệm.",
		Progress:    20,
		BudgetLines: []models.BudgetLineSummary{{Planned: decimal.NewFromInt(2_500_000)}},
	}
}

func TestParseCandidatesStripsFencesAndClamps(t *testing.T) {
	text := "```json\n" + `{"risks":[{"type":"Quality","name":" Thiếu kiểm thử ","probability":140,"impact":0,"confidence":80}]}` + "\n```"
	got, err := parseCandidates(text)
	if err != nil {
		t.Fatalf("parseCandidates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates", len(got))
	}
	c := got[0]
	if c.Type != models.RiskTypeQuality || c.Name != "Thiếu kiểm thử" || c.Probability != 100 || c.Impact != 1 {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if c.Source != models.CandidateSourceAdvisory {
		t.Fatalf("source = %s", c.Source)
	}
}

func TestParseCandidatesRejectsWholeBatch(t *testing.T) {
	cases := map[string]string{
		"not json":     "Tôi không chắc.",
		"unknown type": `{"risks":[{"type":"scope","name":"a","probability":10,"impact":2},{"type":"weather","name":"b","probability":10,"impact":2}]}`,
		"empty name":   `{"risks":[{"type":"scope","name":"","probability":10,"impact":2}]}`,
	}
	for name, text := range cases {
		if _, err := parseCandidates(text); !errors.Is(err, riskengine.ErrAdvisoryMalformed) {
			t.Fatalf("%s: err = %v, want ErrAdvisoryMalformed", name, err)
		}
	}
}

func TestParseCandidatesEmptyList(t *testing.T) {
	got, err := parseCandidates(`{"risks": []}`)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestGenerateCandidatesDisabled(t *testing.T) {
	c := NewClient(config.AdvisorySettings{Enabled: true})
	if _, err := c.GenerateCandidates(context.Background(), describedSnapshot()); !errors.Is(err, riskengine.ErrAdvisoryUnavailable) {
		t.Fatalf("err = %v, want ErrAdvisoryUnavailable", err)
	}
}

func TestGenerateCandidatesSkipsProjectWithoutDescription(t *testing.T) {
	var hits atomic.Int32
	srv := chatServer(t, http.StatusOK, `{"risks":[]}`, &hits)
	c := NewClient(testSettings(srv.URL + "/v1"))
	snap := describedSnapshot()
	snap.Description = "  "

	got, err := c.GenerateCandidates(context.Background(), snap)
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
	if hits.Load() != 0 {
		t.Fatalf("model was called for an empty description")
	}
}

func TestGenerateCandidatesFromModel(t *testing.T) {
	var hits atomic.Int32
	srv := chatServer(t, http.StatusOK,
		`{"risks":[{"type":"resource","name":"Thiếu kinh nghiệm ERP","description":"d","probability":60,"impact":7,"root_cause":"r","mitigation_plan":"m","confidence":75}]}`,
		&hits)
	c := NewClient(testSettings(srv.URL + "/v1"))

	got, err := c.GenerateCandidates(context.Background(), describedSnapshot())
	if err != nil {
		t.Fatalf("GenerateCandidates: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Thiếu kinh nghiệm ERP" || got[0].Score() != 42 {
		t.Fatalf("unexpected candidates %+v", got)
	}
	if u := c.Usage(); u.TotalRequests != 1 || u.LastUsed == nil {
		t.Fatalf("usage not tracked: %+v", u)
	}
}

func TestGenerateCandidatesUpstreamError(t *testing.T) {
	var hits atomic.Int32
	srv := chatServer(t, http.StatusInternalServerError, "", &hits)
	c := NewClient(testSettings(srv.URL + "/v1"))

	_, err := c.GenerateCandidates(context.Background(), describedSnapshot())
	if !errors.Is(err, riskengine.ErrAdvisoryUnavailable) {
		t.Fatalf("err = %v, want ErrAdvisoryUnavailable", err)
	}
}

func TestGenerateCandidatesMalformedAnswer(t *testing.T) {
	var hits atomic.Int32
	srv := chatServer(t, http.StatusOK, "Đây là phân tích của tôi: không có JSON", &hits)
	c := NewClient(testSettings(srv.URL + "/v1"))

	_, err := c.GenerateCandidates(context.Background(), describedSnapshot())
	if !errors.Is(err, riskengine.ErrAdvisoryMalformed) {
		t.Fatalf("err = %v, want ErrAdvisoryMalformed", err)
	}
}

func TestMitigationPlanFallsBackToCurrentText(t *testing.T) {
	var hits atomic.Int32
	srv := chatServer(t, http.StatusBadGateway, "", &hits)
	c := NewClient(testSettings(srv.URL + "/v1"))
	risk := &models.RiskRecord{Name: "x", MitigationPlan: "kế hoạch cũ"}

	plan, err := c.GenerateMitigationPlan(context.Background(), risk)
	if err == nil || plan != "kế hoạch cũ" {
		t.Fatalf("got %q, %v", plan, err)
	}
}

func TestCandidatesPrompt(t *testing.T) {
	p := candidatesPrompt(describedSnapshot())
	for _, want := range []string{"- Tên dự án: Hệ thống kho", "- Ngân sách: 2,500,000 VND", "- Ngày bắt đầu: Chưa xác định", `{"risks": []}`} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestCompleteLogsProjectFromContext(t *testing.T) {
	var hits atomic.Int32
	srv := chatServer(t, http.StatusOK, "Kế hoạch: bổ sung nhân sự.", &hits)
	c := NewClient(testSettings(srv.URL + "/v1"))
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c.logger = logger

	ctx := utils.SetProjectIdInContext(context.Background(), 5)
	plan, err := c.GenerateMitigationPlan(ctx, &models.RiskRecord{ProjectId: 5, Name: "Thiếu nhân lực", RiskType: models.RiskTypeResource})
	if err != nil || plan == "" {
		t.Fatalf("GenerateMitigationPlan = %q, %v", plan, err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.DebugLevel {
		t.Fatalf("no debug entry logged")
	}
	if entry.Data["project_id"] != 5 || entry.Data["operation"] != "mitigation" {
		t.Fatalf("log fields = %v", entry.Data)
	}
}
