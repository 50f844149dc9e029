package models

import (
	"math"
	"testing"
)

func TestComputeRiskScore(t *testing.T) {
	cases := []struct {
		p, i, want float64
	}{
		{0, 1, 0},
		{100, 10, 100},
		{40, 6, 24},
		{70, 6, 42},
		{85, 3.5, 29.75},
	}
	for _, c := range cases {
		if got := ComputeRiskScore(c.p, c.i); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("ComputeRiskScore(%v, %v) = %v, want %v", c.p, c.i, got, c.want)
		}
	}
}

func TestComputeRiskScoreIsMonotonic(t *testing.T) {
	for p := 0.0; p <= 100; p += 5 {
		for i := 1.0; i <= 10; i += 0.5 {
			s := ComputeRiskScore(p, i)
			if p+5 <= 100 && ComputeRiskScore(p+5, i) < s {
				t.Fatalf("score decreased in probability at p=%v i=%v", p, i)
			}
			if i+0.5 <= 10 && ComputeRiskScore(p, i+0.5) < s {
				t.Fatalf("score decreased in impact at p=%v i=%v", p, i)
			}
			if s < 0 || s > 100 {
				t.Fatalf("score %v out of range at p=%v i=%v", s, p, i)
			}
		}
	}
}

func TestRiskLevelForScore(t *testing.T) {
	scores := []float64{0, 29.9, 30, 49.9, 50, 69.9, 70, 100}
	want := []RiskLevel{
		RiskLevelLow, RiskLevelLow,
		RiskLevelMedium, RiskLevelMedium,
		RiskLevelHigh, RiskLevelHigh,
		RiskLevelCritical, RiskLevelCritical,
	}
	for i, s := range scores {
		if got := RiskLevelForScore(s); got != want[i] {
			t.Fatalf("RiskLevelForScore(%v) = %s, want %s", s, got, want[i])
		}
	}
}

func TestRiskRecordBeforeSaveDerivesColumns(t *testing.T) {
	r := &RiskRecord{Probability: 80, Impact: 7, Status: RiskStatusMitigating}
	if err := r.BeforeSave(nil); err != nil {
		t.Fatalf("BeforeSave: %v", err)
	}
	if r.RiskScore != 56 || r.RiskLevel != RiskLevelHigh {
		t.Fatalf("got score %v level %s", r.RiskScore, r.RiskLevel)
	}
	if r.OpenKey == nil || !*r.OpenKey {
		t.Fatalf("open record must carry the open key")
	}

	r.Status = RiskStatusAccepted
	_ = r.BeforeSave(nil)
	if r.OpenKey != nil {
		t.Fatalf("terminal record must clear the open key")
	}
}

func TestRiskRecordDisplayName(t *testing.T) {
	r := RiskRecord{Name: "Vượt ngân sách 5.0%", RiskLevel: RiskLevelCritical, RiskScore: 100}
	if got, want := r.DisplayName(), "[CRITICAL] Vượt ngân sách 5.0% (100.0)"; got != want {
		t.Fatalf("DisplayName = %q, want %q", got, want)
	}
}

func TestEnhancedConfidence(t *testing.T) {
	if got := EnhancedConfidence(70); got != 80 {
		t.Fatalf("EnhancedConfidence(70) = %v", got)
	}
	if got := EnhancedConfidence(90); got != 95 {
		t.Fatalf("EnhancedConfidence(90) = %v, want cap 95", got)
	}
}

func TestRiskCandidateValidate(t *testing.T) {
	ok := RiskCandidate{Type: RiskTypeBudget, Name: "x", Probability: 50, Impact: 5, Confidence: 60}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid candidate rejected: %v", err)
	}
	bad := []RiskCandidate{
		{Type: "weather", Name: "x", Probability: 50, Impact: 5},
		{Type: RiskTypeBudget, Name: "", Probability: 50, Impact: 5},
		{Type: RiskTypeBudget, Name: "x", Probability: 120, Impact: 5},
		{Type: RiskTypeBudget, Name: "x", Probability: 50, Impact: 0},
		{Type: RiskTypeBudget, Name: "x", Probability: 50, Impact: 5, Confidence: -1},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
