// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hotel_hub"

var (
	DeviceSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_syncs_total",
		Help:      "Device sync requests by response shape.",
	}, []string{"status"})

	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_created_total",
		Help:      "Notifications created by type.",
	}, []string{"type"})

	NotificationsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_delivered_total",
		Help:      "Notifications transitioned from new to sent by device sync.",
	})

	PMSSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pms_sweeps_total",
		Help:      "PMS reconciliation sweeps by outcome.",
	}, []string{"outcome"})

	PMSRoomFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pms_room_failures_total",
		Help:      "Per-room PMS fetch failures by fault category.",
	}, []string{"category"})

	PMSCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pms_cache_lookups_total",
		Help:      "PMS snapshot cache lookups by result.",
	}, []string{"result"})

	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_task_runs_total",
		Help:      "Scheduled task invocations by task and result.",
	}, []string{"task", "result"})

	SchedulerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scheduler_task_duration_seconds",
		Help:      "Scheduled task run time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task"})

	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_connections",
		Help:      "Open admin websocket connections.",
	})

	RealtimeEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_evictions_total",
		Help:      "Admin websocket connections evicted by reason.",
	}, []string{"reason"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
