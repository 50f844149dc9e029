package riskengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/mmdatafocus/riskwatch_backend/riskengine")

var (
	// detectionCycles counts cycles by outcome: detected, closed, failed, lock_failed
	detectionCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskwatch_detection_cycles_total",
		Help: "Detection cycles by outcome",
	}, []string{"outcome"})

	detectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskwatch_detection_cycle_duration_seconds",
		Help:    "Detection cycle duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	candidatesBySource = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskwatch_candidates_total",
		Help: "Risk candidates processed by source",
	}, []string{"source"})

	upsertsByResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskwatch_risk_upserts_total",
		Help: "Risk record upserts by result: created, updated, skipped",
	}, []string{"result"})

	// advisoryFailures counts swallowed advisory failures: unavailable, malformed, timeout, panic
	advisoryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskwatch_advisory_failures_total",
		Help: "Advisory source failures swallowed by the engine",
	}, []string{"kind"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskwatch_detection_queue_depth",
		Help: "Detection requests waiting in the in-process queue",
	})

	queueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskwatch_detection_queue_dropped_total",
		Help: "Detection requests dropped because the queue was full",
	})
)
