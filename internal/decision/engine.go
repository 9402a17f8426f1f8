package decision

import (
	"math"
	"time"

	"github.com/bizmatters/solar-fleet/control-service/internal/models"
	"github.com/bizmatters/solar-fleet/control-service/internal/safety"
)

// Notes emitted by the sequencer itself
const (
	NoteFluidsHeld = "no_decrease_fluids_while_dirty_final"
)

// Bump is the set of parameter floors applied when the model asks to clean now.
type Bump struct {
	BrushRPM float64
	Pressure float64
	Flow     float64
}

// Config holds the targets and output defaults of the engine.
type Config struct {
	// TargetPct is the intermediate dust target used by anti-regression.
	TargetPct float64
	// MinDeltaPct is the minimum improvement expected per window.
	MinDeltaPct float64
	// FinalTargetPct is the terminal dust target; above it wet params never decrease.
	FinalTargetPct float64

	BaseSpeed   float64
	SpeedMin    float64
	SpeedMax    float64
	PassOverlap float64
	NowBump     Bump
}

// DefaultConfig returns the stock control targets.
func DefaultConfig() Config {
	return Config{
		TargetPct:      safety.DefaultTargetPct,
		MinDeltaPct:    safety.DefaultMinDeltaPct,
		FinalTargetPct: 2.0,
		BaseSpeed:      0.35,
		SpeedMin:       0.25,
		SpeedMax:       0.55,
		PassOverlap:    0.30,
		NowBump:        Bump{BrushRPM: 800, Pressure: 1.8, Flow: 0.35},
	}
}

// Input is everything one decision needs. The caller owns Previous and must
// serialize decisions per session.
type Input struct {
	SessionID      string
	PanelID        string
	PrevMode       string
	PrevParams     map[string]interface{}
	Proposal       safety.Proposal
	Recommendation string
	Rationale      string
	Boosts         *safety.Boosts
	Window         WindowStats
	Previous       *safety.Commands
	Envelope       safety.Envelope
	ApplyControl   bool
}

// Audit is the observability record of one decision.
type Audit struct {
	SessionID  string                 `json:"sessionId"`
	Proposed   safety.Proposal        `json:"proposed"`
	Applied    safety.Commands        `json:"applied"`
	Notes      safety.Notes           `json:"notes"`
	Explain    string                 `json:"explain"`
	BeforePct  float64                `json:"beforePct"`
	AfterPct   float64                `json:"afterPct"`
	Boosts     *safety.Boosts         `json:"boosts,omitempty"`
	PrevParams map[string]interface{} `json:"prevParams,omitempty"`
}

// Decision is a completed control decision.
type Decision struct {
	Event models.StateChangeEvent
	// Applied becomes the session's previous commands for the next decision.
	Applied safety.Commands
	Notes   safety.Notes
	Audit   Audit
}

// Engine sequences projection, anti-regression, monotonicity and boosts.
// It keeps no state between calls.
type Engine struct {
	cfg Config
	now func() time.Time
}

// NewEngine creates a decision engine
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

// Decide turns one model proposal into a bounded control decision. It reports false
// when control is disabled or the proposal is empty; nothing should be relayed then.
func (e *Engine) Decide(in Input) (Decision, bool) {
	if !in.ApplyControl || in.Proposal.Empty() {
		return Decision{}, false
	}

	env := in.Envelope
	window := in.Window.orNeutral()
	notes := safety.Notes{}

	applied := safety.Project(in.Proposal, env, in.Previous, &notes)
	applied = safety.Escalate(applied, env, window.BeforePct, window.AfterPct, e.cfg.TargetPct, e.cfg.MinDeltaPct, &notes)

	if in.Previous != nil && window.AfterPct > e.cfg.FinalTargetPct {
		applied = holdFluids(applied, *in.Previous, env, &notes)
	}

	boosts, hasBoosts := safety.ResolveBoosts(in.Boosts, in.Rationale)
	speedDown := 0.0
	if hasBoosts {
		if boosts.Contact > 0 {
			applied.DwellSec = env.Dwell.Clamp(applied.DwellSec + boosts.Contact)
			notes.Addf("contact_boost+%d", boosts.Contact)
		}
		if boosts.Passes > 0 {
			applied.Passes = env.Passes.Clamp(applied.Passes + boosts.Passes)
			notes.Addf("passes_boost+%d", boosts.Passes)
		}
		if boosts.SpeedDown > 0 && !math.IsInf(boosts.SpeedDown, 0) {
			speedDown = boosts.SpeedDown
		}
	}

	params := e.buildParams(applied, env, speedDown, in.Recommendation)
	cause, nextMode := Transition(in.Recommendation, in.PrevMode)

	evt := models.StateChangeEvent{
		Type:         models.EventTypeParamChange,
		SessionID:    in.SessionID,
		PanelID:      in.PanelID,
		Cause:        cause,
		Timestamp:    e.now().UTC(),
		Next:         &models.ModeRef{Mode: nextMode},
		ParamsTarget: params,
	}
	if in.PrevMode != "" {
		evt.Prev = &models.ModeRef{Mode: in.PrevMode}
	}

	audit := Audit{
		SessionID:  in.SessionID,
		Proposed:   in.Proposal,
		Applied:    applied,
		Notes:      notes,
		Explain:    in.Rationale,
		BeforePct:  window.BeforePct,
		AfterPct:   window.AfterPct,
		PrevParams: in.PrevParams,
	}
	if hasBoosts {
		audit.Boosts = &boosts
	}

	return Decision{Event: evt, Applied: applied, Notes: notes, Audit: audit}, true
}

// holdFluids keeps flow, pressure and detergent from dropping below the previous decision.
func holdFluids(c, prev safety.Commands, env safety.Envelope, notes *safety.Notes) safety.Commands {
	held := c
	held.WaterFlowLPM = env.WaterFlow.Clamp(math.Max(c.WaterFlowLPM, prev.WaterFlowLPM))
	held.NozzlePressureBar = env.Pressure.Clamp(math.Max(c.NozzlePressureBar, prev.NozzlePressureBar))
	held.DetergentPct = env.Detergent.Clamp(math.Max(c.DetergentPct, prev.DetergentPct))
	if held != c {
		notes.Add(NoteFluidsHeld)
	}
	return held
}

// buildParams maps applied commands onto the simulator parameter names.
func (e *Engine) buildParams(c safety.Commands, env safety.Envelope, speedDown float64, recommendation string) map[string]interface{} {
	speed := math.Max(e.cfg.SpeedMin, math.Min(e.cfg.SpeedMax, e.cfg.BaseSpeed-speedDown))

	params := map[string]interface{}{
		"brushRpm":          c.BrushRPM,
		"waterPressure":     c.NozzlePressureBar,
		"waterFlow":         c.WaterFlowLPM,
		"detergentFlowRate": c.DetergentPct * c.WaterFlowLPM,
		"robotSpeed":        speed,
		"passOverlap":       e.cfg.PassOverlap,
		"dwellTime":         c.DwellSec,
		"passes":            c.Passes,
	}

	if isUrgent(recommendation) {
		bumpFloor(params, "brushRpm", math.Min(e.cfg.NowBump.BrushRPM, env.BrushRPM.Max))
		bumpFloor(params, "waterPressure", math.Min(e.cfg.NowBump.Pressure, env.Pressure.Max))
		bumpFloor(params, "waterFlow", math.Min(e.cfg.NowBump.Flow, env.WaterFlow.Max))
	}
	return params
}

func bumpFloor(params map[string]interface{}, key string, floor float64) {
	if cur, ok := params[key].(float64); ok && cur < floor {
		params[key] = floor
	}
}
