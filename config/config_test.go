package config

import (
	"context"
	"testing"
	"time"
)

func TestEnvHelpersFallBackOnBadValues(t *testing.T) {
	t.Setenv("RW_TEST_INT", "abc")
	if got := intFromEnv("RW_TEST_INT", 7); got != 7 {
		t.Fatalf("intFromEnv bad value = %d, want 7", got)
	}
	t.Setenv("RW_TEST_INT", " 12 ")
	if got := intFromEnv("RW_TEST_INT", 7); got != 12 {
		t.Fatalf("intFromEnv = %d, want 12", got)
	}

	t.Setenv("RW_TEST_BOOL", "maybe")
	if got := boolFromEnv("RW_TEST_BOOL", true); !got {
		t.Fatalf("boolFromEnv unknown value should keep default")
	}
	t.Setenv("RW_TEST_BOOL", "No")
	if got := boolFromEnv("RW_TEST_BOOL", true); got {
		t.Fatalf("boolFromEnv(No) = true")
	}

	t.Setenv("RW_TEST_SECONDS", "-3")
	if got := secondsFromEnv("RW_TEST_SECONDS", time.Minute); got != time.Minute {
		t.Fatalf("secondsFromEnv negative = %v, want default", got)
	}
	t.Setenv("RW_TEST_SECONDS", "0")
	if got := secondsFromEnv("RW_TEST_SECONDS", time.Minute); got != 0 {
		t.Fatalf("secondsFromEnv(0) = %v, want 0", got)
	}

	t.Setenv("RW_TEST_B", "second")
	if got := stringFromEnv("def", "RW_TEST_A", "RW_TEST_B"); got != "second" {
		t.Fatalf("stringFromEnv = %q", got)
	}
}

func TestRiskThresholdDefaultsAndOverrides(t *testing.T) {
	th := GetRiskThresholds()
	if th.OverdueRatioPct != 30 || th.OverdueSevereRatioPct != 50 || th.DeadlineWindowDays != 30 ||
		th.DeadlineMinProgress != 70 || th.BurnRateMarginPct != 20 || th.NearlyExhaustedPct != 80 ||
		th.OverloadActiveTasks != 5 {
		t.Fatalf("defaults = %+v", th)
	}

	t.Setenv("RISK_OVERLOAD_ACTIVE_TASKS", "8")
	t.Setenv("RISK_BURN_RATE_MARGIN", "12.5")
	th = GetRiskThresholds()
	if th.OverloadActiveTasks != 8 || th.BurnRateMarginPct != 12.5 {
		t.Fatalf("overrides = %+v", th)
	}
}

func TestAdvisorySettings(t *testing.T) {
	t.Setenv("ADVISORY_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	s := GetAdvisorySettings()
	if s.Configured() {
		t.Fatalf("no key should not be configured")
	}
	if s.Model != "gemini-1.5-flash" || s.Timeout != 20*time.Second || s.MaxTokens != 2048 {
		t.Fatalf("defaults = %+v", s)
	}

	t.Setenv("GEMINI_API_KEY", "g-key")
	s = GetAdvisorySettings()
	if !s.Configured() || s.APIKey != "g-key" {
		t.Fatalf("GEMINI_API_KEY fallback not used: %+v", s)
	}

	t.Setenv("ADVISORY_ENABLED", "false")
	if GetAdvisorySettings().Configured() {
		t.Fatalf("disabled advisory reported configured")
	}
}

func TestDirectProcessingDefaultsToNoPubSub(t *testing.T) {
	t.Setenv("OUTBOX_DIRECT_PROCESSING", "")
	t.Setenv("PUBSUB_PROJECT_ID", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")
	t.Setenv("RISK_DETECTION_TOPIC", "")
	if !OutboxDirectProcessing() {
		t.Fatalf("direct processing should default on without Pub/Sub")
	}

	t.Setenv("PUBSUB_PROJECT_ID", "proj")
	t.Setenv("RISK_DETECTION_TOPIC", "risk-detection")
	if OutboxDirectProcessing() {
		t.Fatalf("direct processing should default off with Pub/Sub")
	}
	t.Setenv("OUTBOX_DIRECT_PROCESSING", "true")
	if !OutboxDirectProcessing() {
		t.Fatalf("explicit OUTBOX_DIRECT_PROCESSING ignored")
	}
}

func TestEngineSettings(t *testing.T) {
	t.Setenv("RISK_SWEEP_INTERVAL_MINUTES", "")
	if RiskSweepInterval() != 0 {
		t.Fatalf("sweep should be disabled by default")
	}
	t.Setenv("RISK_SWEEP_INTERVAL_MINUTES", "15")
	if RiskSweepInterval() != 15*time.Minute {
		t.Fatalf("interval = %v", RiskSweepInterval())
	}
	t.Setenv("RISK_SWEEP_CONCURRENCY", "0")
	if RiskSweepConcurrency() != 1 {
		t.Fatalf("concurrency floor = %d", RiskSweepConcurrency())
	}
	t.Setenv("RISK_LOCK_BACKEND", "")
	if RiskLockBackend() != "local" {
		t.Fatalf("lock backend = %q", RiskLockBackend())
	}
}

func TestRedisHelpersWithoutRedis(t *testing.T) {
	prev := rdb
	rdb = nil
	defer func() { rdb = prev }()

	ctx := context.Background()
	var dest map[string]int
	ok, err := GetRedisObject(ctx, "k", &dest)
	if ok || err != nil {
		t.Fatalf("GetRedisObject without redis = %v, %v", ok, err)
	}
	if err := SetRedisObject(ctx, "k", map[string]int{"a": 1}, time.Minute); err != nil {
		t.Fatalf("SetRedisObject without redis: %v", err)
	}
	if err := RemoveRedisKey(ctx, "k"); err != nil {
		t.Fatalf("RemoveRedisKey without redis: %v", err)
	}
}
