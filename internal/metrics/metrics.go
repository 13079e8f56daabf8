// Package metrics provides Prometheus instrumentation for the AsyncSession
// scheduler, its store, and the video-acquisition pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store metrics

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asyncsession_store_query_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncsession_store_query_errors_total",
			Help: "Total number of store operation errors",
		},
		[]string{"operation"},
	)

	StoreTimestampCollisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncsession_store_timestamp_collisions_total",
			Help: "Total number of log-insert timestamp collisions resolved by microsecond advance",
		},
		[]string{"log_name"},
	)

	StoreFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "asyncsession_store_flush_to_disk_seconds",
			Help:    "Duration of delay-save flush-to-disk operations",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Supervisor / task metrics

	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncsession_tasks_running",
			Help: "Current number of supervised tasks considered running",
		},
	)

	TaskRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncsession_task_restarts_total",
			Help: "Total number of supervised task restarts after failure",
		},
		[]string{"task"},
	)

	CancellationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "asyncsession_cancellation_latency_seconds",
			Help:    "Time between ask_exit and a task observing running=false",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	// HTTP surface metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncsession_api_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asyncsession_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncsession_api_active_requests",
			Help: "Current number of in-flight HTTP API requests",
		},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asyncsession_websocket_clients",
			Help: "Current number of connected live-update websocket clients",
		},
	)

	// Email reporter metrics

	EmailSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncsession_email_send_total",
			Help: "Total number of periodic report send attempts",
		},
		[]string{"result"}, // "sent", "retry", "circuit_open"
	)

	// Video pipeline metrics

	VideoQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asyncsession_video_queue_depth",
			Help: "Current number of frames buffered in a camera's queue",
		},
		[]string{"camera"},
	)

	VideoFramesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncsession_video_frames_produced_total",
			Help: "Total number of frames yielded by a camera's acquisition generator",
		},
		[]string{"camera"},
	)

	VideoFramesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncsession_video_frames_written_total",
			Help: "Total number of frames persisted by a pipeline sink",
		},
		[]string{"camera", "sink"},
	)

	VideoEncodingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncsession_video_encoding_errors_total",
			Help: "Total number of image/video encoding failures",
		},
		[]string{"camera"},
	)

	VideoPreviewFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncsession_video_preview_frames_dropped_total",
			Help: "Total number of frames dropped by the live-preview sink because a newer frame superseded them",
		},
		[]string{"camera"},
	)

	VideoCameraTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asyncsession_video_camera_timeouts_total",
			Help: "Total number of camera acquisition timeouts",
		},
		[]string{"camera"},
	)
)

// RecordStoreQuery records the outcome of a single store operation.
func RecordStoreQuery(operation string, duration time.Duration, err error) {
	StoreQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records one completed HTTP API request.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
