package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide collectors, registered on the default registry and served by
// the ops listener.
var (
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveil",
		Name:      "messages_received_total",
		Help:      "Raw venue stream messages received.",
	}, []string{"venue"})

	SnapshotsNormalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveil",
		Name:      "snapshots_normalized_total",
		Help:      "Order book snapshots normalized and forwarded.",
	}, []string{"venue", "instrument"})

	GapsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveil",
		Name:      "gaps_detected_total",
		Help:      "Data discontinuities detected, by reason.",
	}, []string{"venue", "reason"})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveil",
		Name:      "reconnects_total",
		Help:      "WebSocket reconnections.",
	}, []string{"venue"})

	MetricsComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveil",
		Name:      "metrics_computed_total",
		Help:      "Aggregated metrics records produced.",
	}, []string{"venue", "instrument"})

	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveil",
		Name:      "alerts_fired_total",
		Help:      "Alerts created.",
	}, []string{"alert_type", "priority"})

	AlertsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveil",
		Name:      "alerts_resolved_total",
		Help:      "Alerts resolved, by resolution type.",
	}, []string{"alert_type", "resolution"})

	AlertsEscalated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveil",
		Name:      "alerts_escalated_total",
		Help:      "Alerts escalated to a higher priority.",
	}, []string{"alert_type"})

	EvaluationSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveil",
		Name:      "alert_evaluation_skips_total",
		Help:      "Alert evaluations suppressed, by skip reason.",
	}, []string{"reason"})

	StorageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveil",
		Name:      "storage_failures_total",
		Help:      "Store write failures after retries.",
	}, []string{"store", "operation"})

	ActiveAlerts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "surveil",
		Name:      "active_alerts",
		Help:      "Currently active alerts by priority.",
	}, []string{"priority"})

	VenueLagMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "surveil",
		Name:      "venue_lag_ms",
		Help:      "Milliseconds since the last message from a venue.",
	}, []string{"venue"})

	ZScoreSamples = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "surveil",
		Name:      "zscore_samples",
		Help:      "Samples accumulated in a rolling z-score window.",
	}, []string{"venue", "instrument", "metric"})
)
