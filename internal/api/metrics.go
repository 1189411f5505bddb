package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests.
	// Labels: method, route, status
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iago",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration tracks request latency per route.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "iago",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// PatternsLearned counts patterns created through the learn endpoint and conclusions.
	PatternsLearned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "iago",
			Subsystem: "engine",
			Name:      "patterns_learned_total",
			Help:      "Total number of new patterns learned",
		},
	)

	// LockOutcomes counts open-for-edit attempts.
	// Labels: outcome (granted, denied, stolen)
	LockOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iago",
			Subsystem: "workflow",
			Name:      "lock_outcomes_total",
			Help:      "Total number of open-for-edit attempts by outcome",
		},
		[]string{"outcome"},
	)
)
