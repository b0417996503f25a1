package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepipe",
		Subsystem: "dispatch",
		Name:      "jobs_processed_total",
		Help:      "Jobs that reached a terminal state, by type and outcome.",
	}, []string{"type", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voicepipe",
		Subsystem: "dispatch",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock processing time per job, by type.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
	}, []string{"type"})

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicepipe",
		Subsystem: "dispatch",
		Name:      "jobs_active",
		Help:      "Jobs currently being processed by this worker process.",
	})

	claimsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicepipe",
		Subsystem: "dispatch",
		Name:      "claims_lost_total",
		Help:      "Queue pops discarded because the claim transition did not apply.",
	})
)
