package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fire_monitor_readings_ingested_total",
		Help: "Readings parsed and stored, by sensor",
	}, []string{"sensor"})

	ReadingsMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fire_monitor_readings_malformed_total",
		Help: "Lines discarded because they could not be parsed, by sensor",
	}, []string{"sensor"})

	LinesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fire_monitor_lines_dropped_total",
		Help: "Lines received from a device link but never read, by source",
	}, []string{"source"})

	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fire_monitor_alerts_created_total",
		Help: "Alerts created, by origin and severity",
	}, []string{"origin", "severity"})

	AlertsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fire_monitor_alerts_deduplicated_total",
		Help: "Sensor alerts suppressed because an active alert already existed",
	})

	NotificationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fire_monitor_notification_attempts_total",
		Help: "Notification attempts, by channel and outcome",
	}, []string{"channel", "outcome"})

	PipelinesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fire_monitor_pipelines_running",
		Help: "Sensor pipelines with an open device link",
	})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fire_monitor_dispatch_duration_seconds",
		Help:    "Time spent fanning one alert out to all contacts",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
