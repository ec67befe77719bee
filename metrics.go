package lspbridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	directionToBackend = "to_backend"
	directionToClient  = "to_client"
)

// Session metrics
var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lspbridge_sessions_total",
			Help: "Total number of sessions by outcome of backend setup",
		},
		[]string{"result"},
	)

	sessionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lspbridge_sessions_current",
			Help: "Current number of open sessions",
		},
	)

	sessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lspbridge_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 14400},
		},
	)
)

// Relay metrics
var (
	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lspbridge_frames_total",
			Help: "Total number of messages relayed",
		},
		[]string{"direction"},
	)

	backendBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lspbridge_backend_bytes_total",
			Help: "Raw bytes exchanged with backends, including frame headers",
		},
		[]string{"direction"},
	)

	malformedHeaders = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lspbridge_malformed_headers_total",
			Help: "Frame headers skipped because they carried no Content-Length",
		},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lspbridge_request_duration_seconds",
			Help:    "Time between a client request and the matching backend response",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	abandonedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lspbridge_abandoned_requests_total",
			Help: "Client requests still unanswered when their session closed",
		},
	)
)
