package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the supervisor
var (
	// DeployTotal counts deploy attempts by result (success, no_node, missing_artifact, ...).
	DeployTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bothost_deploy_total",
		Help: "Deploy attempts by result",
	}, []string{"result"})

	// StopTotal counts stop calls that terminated a process.
	StopTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bothost_stop_total",
		Help: "Stops that terminated a running deployment",
	})

	// CrashTotal counts detected deaths of monitored processes.
	CrashTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bothost_crash_total",
		Help: "Detected deaths of monitored deployments",
	})

	// AutoRestartTotal counts crash-triggered redeploys by outcome.
	AutoRestartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bothost_auto_restart_total",
		Help: "Crash-triggered redeploy attempts by outcome",
	}, []string{"outcome"})

	// ActiveMonitors is the number of registered deployment monitors.
	ActiveMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bothost_active_monitors",
		Help: "Registered deployment monitors",
	})

	// JobRunsTotal counts maintenance job iterations by job and outcome.
	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bothost_job_runs_total",
		Help: "Maintenance job iterations by outcome",
	}, []string{"job", "outcome"})

	// JobDuration measures maintenance job iteration latency.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bothost_job_duration_seconds",
		Help:    "Maintenance job iteration duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	// EventsDroppedTotal counts audit events dropped because the queue was full.
	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bothost_events_dropped_total",
		Help: "Audit events dropped on a full queue",
	})

	// HTTPRequestsTotal counts API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bothost_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
