package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bizmatters/solar-fleet/control-service/internal/ai"
	"github.com/bizmatters/solar-fleet/control-service/internal/decision"
	"github.com/bizmatters/solar-fleet/control-service/internal/metrics"
	"github.com/bizmatters/solar-fleet/control-service/internal/models"
	"github.com/bizmatters/solar-fleet/control-service/internal/relay"
	"github.com/bizmatters/solar-fleet/control-service/internal/safety"
	"github.com/bizmatters/solar-fleet/control-service/internal/state"
)

// Broadcaster pushes runtime events to session observers
type Broadcaster interface {
	Broadcast(evt models.RuntimeEvent)
}

// DecisionPayload is what observers receive for each emitted decision
type DecisionPayload struct {
	Event models.StateChangeEvent `json:"event"`
	Audit decision.Audit          `json:"audit"`
	Relay map[string]interface{}  `json:"relay,omitempty"`
}

// WindowProcessor turns a telemetry window into at most one control decision
type WindowProcessor struct {
	predictor ai.Predictor
	engine    *decision.Engine
	states    *state.Manager
	relayer   relay.Relayer
	hub       Broadcaster
	envelope  safety.Envelope
	metrics   *metrics.DecisionMetrics
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewWindowProcessor wires the decision pipeline
func NewWindowProcessor(
	predictor ai.Predictor,
	engine *decision.Engine,
	states *state.Manager,
	relayer relay.Relayer,
	hub Broadcaster,
	envelope safety.Envelope,
	dm *metrics.DecisionMetrics,
	logger *zap.Logger,
) *WindowProcessor {
	return &WindowProcessor{
		predictor: predictor,
		engine:    engine,
		states:    states,
		relayer:   relayer,
		hub:       hub,
		envelope:  envelope,
		metrics:   dm,
		tracer:    otel.Tracer("window-processor"),
		logger:    logger,
	}
}

// ProcessWindow runs prediction, decision, relay and broadcast for one window.
// frames are newest first. A nil decision with a nil error means the window was skipped.
func (p *WindowProcessor) ProcessWindow(ctx context.Context, sessionID, panelID string, frames []models.TelemetryReading, applyControl bool) (*decision.Decision, error) {
	ctx, span := p.tracer.Start(ctx, "telemetry.process_window")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("panel_id", panelID),
		attribute.Int("window_size", len(frames)),
	)

	if len(frames) == 0 {
		return nil, nil
	}

	start := time.Now()
	p.metrics.RecordWindowStarted(ctx, sessionID)
	log := p.logger.With(zap.String("session_id", sessionID), zap.String("panel_id", panelID))

	latest := frames[0]
	prevMode := latest.Mode()
	prevParams := latest.ParamsSnapshot()

	prediction, err := p.predictor.Predict(ctx, frames)
	if err != nil {
		if errors.Is(err, ai.ErrDisabled) {
			log.Debug("prediction skipped", zap.Error(err))
		} else {
			log.Warn("no prediction for window", zap.Error(err))
		}
		p.metrics.RecordSkipped(ctx, sessionID, metrics.SkipNoProposal, time.Since(start))
		return nil, nil
	}

	p.hub.Broadcast(models.RuntimeEvent{
		Type:      models.RuntimeEventAIPrediction,
		SessionID: sessionID,
		PanelID:   panelID,
		Payload:   prediction,
		Timestamp: time.Now().UTC(),
	})

	in := decision.Input{
		SessionID:      sessionID,
		PanelID:        panelID,
		PrevMode:       prevMode,
		PrevParams:     prevParams,
		Proposal:       prediction.ProposedCommands,
		Recommendation: prediction.RecommendedCleaningFrequency,
		Rationale:      prediction.Explain,
		Boosts:         prediction.Boosts,
		Window:         prediction.WindowStats(),
		Envelope:       p.envelope,
		ApplyControl:   applyControl,
	}

	var (
		d       decision.Decision
		decided bool
	)
	err = p.states.Update(ctx, sessionID, func(prev *safety.Commands) (*safety.Commands, error) {
		in.Previous = prev
		d, decided = p.engine.Decide(in)
		if !decided {
			return nil, nil
		}
		return &d.Applied, nil
	})
	if err != nil {
		span.RecordError(err)
		log.Error("failed to update decision state", zap.Error(err))
		p.metrics.RecordSkipped(ctx, sessionID, metrics.SkipStateError, time.Since(start))
		return nil, err
	}
	if !decided {
		reason := metrics.SkipEmptyProposal
		if !applyControl {
			reason = metrics.SkipControlOff
		}
		log.Info("window produced no decision", zap.String("reason", reason))
		p.metrics.RecordSkipped(ctx, sessionID, reason, time.Since(start))
		return nil, nil
	}

	span.SetAttributes(
		attribute.String("cause", d.Event.Cause),
		attribute.StringSlice("notes", d.Notes),
	)
	log.Info("decision emitted",
		zap.String("cause", d.Event.Cause),
		zap.String("next_mode", d.Event.NextMode()),
		zap.Strings("notes", d.Notes),
		zap.Float64("before_pct", d.Audit.BeforePct),
		zap.Float64("after_pct", d.Audit.AfterPct))

	relayResp, err := p.relayer.Relay(ctx, d.Event)
	if err != nil {
		log.Warn("simulator relay failed", zap.Error(err))
	}

	p.hub.Broadcast(models.RuntimeEvent{
		Type:      models.RuntimeEventAIDecision,
		SessionID: sessionID,
		PanelID:   panelID,
		Payload:   DecisionPayload{Event: d.Event, Audit: d.Audit, Relay: relayResp},
		Timestamp: time.Now().UTC(),
	})

	p.metrics.RecordDecision(ctx, sessionID, d.Event.Cause, d.Notes, time.Since(start))
	return &d, nil
}
