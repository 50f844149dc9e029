package config

import "time"

// RiskTriggersEnabled gates the write hooks that enqueue detection cycles.
//
// Set via env:
// - RISK_TRIGGERS_ENABLED=false
func RiskTriggersEnabled() bool {
	return boolFromEnv("RISK_TRIGGERS_ENABLED", true)
}

// OutboxDirectProcessing runs the in-process outbox consumer instead of (or alongside) Pub/Sub.
//
// Set via env:
// - OUTBOX_DIRECT_PROCESSING=true|false (default: true when Pub/Sub is not configured)
func OutboxDirectProcessing() bool {
	return boolFromEnv("OUTBOX_DIRECT_PROCESSING", !PubSubConfigured())
}

// RiskSweepInterval is how often the scheduled sweep runs; zero disables it.
//
// Set via env:
// - RISK_SWEEP_INTERVAL_MINUTES=60
func RiskSweepInterval() time.Duration {
	n := intFromEnv("RISK_SWEEP_INTERVAL_MINUTES", 0)
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Minute
}

func RiskSweepConcurrency() int {
	n := intFromEnv("RISK_SWEEP_CONCURRENCY", 4)
	if n <= 0 {
		return 1
	}
	return n
}

// RiskLockBackend selects the per-project lock: local, redis or mysql.
func RiskLockBackend() string {
	return stringFromEnv("local", "RISK_LOCK_BACKEND")
}

func RiskQueueSize() int {
	n := intFromEnv("RISK_QUEUE_SIZE", 256)
	if n <= 0 {
		return 1
	}
	return n
}
