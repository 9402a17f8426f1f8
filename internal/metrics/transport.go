package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for outbound calls
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeOpen     = "circuit_open"
	OutcomeLimited  = "rate_limited"
	OutcomeDisabled = "disabled"
)

// Outbound transport and observer counters, served on /metrics.

var (
	AICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solar_control",
		Subsystem: "ai",
		Name:      "calls_total",
		Help:      "Total prediction calls by outcome",
	}, []string{"outcome"})

	AICallLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "solar_control",
		Subsystem: "ai",
		Name:      "call_duration_seconds",
		Help:      "Prediction call duration",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	RelayCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solar_control",
		Subsystem: "relay",
		Name:      "calls_total",
		Help:      "Total simulator relay calls by event type and outcome",
	}, []string{"type", "outcome"})

	TelemetryFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solar_control",
		Subsystem: "telemetry",
		Name:      "frames_total",
		Help:      "Total telemetry frames accepted",
	})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "solar_control",
		Subsystem: "websocket",
		Name:      "clients",
		Help:      "Connected observer websocket clients",
	})

	WebSocketDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solar_control",
		Subsystem: "websocket",
		Name:      "dropped_clients_total",
		Help:      "Observer clients dropped for falling behind",
	})
)
