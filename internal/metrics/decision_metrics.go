package metrics

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("decision-metrics")

// Skip reasons for a window that produced no decision
const (
	SkipNoProposal    = "no_proposal"
	SkipControlOff    = "control_disabled"
	SkipEmptyProposal = "empty_proposal"
	SkipStateError    = "state_error"
)

// DecisionMetrics provides metrics collection for control decisions
type DecisionMetrics struct {
	decisionsCounter   metric.Int64Counter
	skipsCounter       metric.Int64Counter
	safetyRuleCounter  metric.Int64Counter
	decisionHistogram  metric.Float64Histogram
	windowsActiveGauge metric.Int64UpDownCounter
}

// NewDecisionMetrics creates a new decision metrics collector
func NewDecisionMetrics() (*DecisionMetrics, error) {
	decisionsCounter, err := meter.Int64Counter(
		"solar_control.decisions",
		metric.WithDescription("Total number of control decisions emitted"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	skipsCounter, err := meter.Int64Counter(
		"solar_control.windows.skipped",
		metric.WithDescription("Total number of telemetry windows that produced no decision"),
		metric.WithUnit("{window}"),
	)
	if err != nil {
		return nil, err
	}

	safetyRuleCounter, err := meter.Int64Counter(
		"solar_control.safety_rules",
		metric.WithDescription("Total number of safety rule firings"),
		metric.WithUnit("{rule}"),
	)
	if err != nil {
		return nil, err
	}

	decisionHistogram, err := meter.Float64Histogram(
		"solar_control.window.duration",
		metric.WithDescription("Duration of window processing in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	windowsActiveGauge, err := meter.Int64UpDownCounter(
		"solar_control.windows.active",
		metric.WithDescription("Number of windows currently being processed"),
		metric.WithUnit("{window}"),
	)
	if err != nil {
		return nil, err
	}

	return &DecisionMetrics{
		decisionsCounter:   decisionsCounter,
		skipsCounter:       skipsCounter,
		safetyRuleCounter:  safetyRuleCounter,
		decisionHistogram:  decisionHistogram,
		windowsActiveGauge: windowsActiveGauge,
	}, nil
}

// RecordWindowStarted marks a window as in flight
func (dm *DecisionMetrics) RecordWindowStarted(ctx context.Context, sessionID string) {
	if dm == nil {
		return
	}
	dm.windowsActiveGauge.Add(ctx, 1,
		metric.WithAttributes(attribute.String("session.id", sessionID)),
	)
}

// RecordDecision records an emitted decision and the safety rules it fired
func (dm *DecisionMetrics) RecordDecision(ctx context.Context, sessionID, cause string, notes []string, duration time.Duration) {
	if dm == nil {
		return
	}
	dm.decisionsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("cause", cause),
		),
	)
	for _, n := range notes {
		dm.safetyRuleCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("rule", ruleName(n))),
		)
	}
	dm.finish(ctx, sessionID, "decided", duration)
}

// RecordSkipped records a window that ended without a decision
func (dm *DecisionMetrics) RecordSkipped(ctx context.Context, sessionID, reason string, duration time.Duration) {
	if dm == nil {
		return
	}
	dm.skipsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("reason", reason),
		),
	)
	dm.finish(ctx, sessionID, "skipped", duration)
}

func (dm *DecisionMetrics) finish(ctx context.Context, sessionID, status string, duration time.Duration) {
	dm.decisionHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
	dm.windowsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(attribute.String("session.id", sessionID)),
	)
}

// ruleName strips the detail from notes like "anti_regression_boost: after=..." or "contact_boost+2".
func ruleName(note string) string {
	if i := strings.IndexAny(note, ":+"); i > 0 {
		return note[:i]
	}
	return note
}
