package safety

import (
	"fmt"
	"math"
)

// Bounds is an inclusive physical range.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Clamp forces v into the range. NaN collapses to Min.
func (b Bounds) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return b.Min
	}
	return clamp(v, b.Min, b.Max)
}

// Lerp maps a normalized value onto the range. x is clamped to [0,1] first.
func (b Bounds) Lerp(x float64) float64 {
	return b.Min + (b.Max-b.Min)*Clamp01(x)
}

// Contains reports whether v lies inside the range, inclusive.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// IntBounds is an inclusive integer range.
type IntBounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Clamp forces v into the range.
func (b IntBounds) Clamp(v int) int {
	if v > b.Max {
		v = b.Max
	}
	if v < b.Min {
		v = b.Min
	}
	return v
}

// Envelope holds the per-actuator physical limits for one decision.
type Envelope struct {
	BrushRPM    Bounds    `json:"brushRpm"`
	WaterFlow   Bounds    `json:"waterFlowLpm"`
	Pressure    Bounds    `json:"nozzlePressureBar"`
	Detergent   Bounds    `json:"detergentPct"`
	Dwell       IntBounds `json:"dwellSec"`
	Passes      IntBounds `json:"passes"`
	MaxDeltaRPM float64   `json:"maxDeltaRpm"`
}

// DefaultEnvelope returns the stock limits of the cleaning head.
func DefaultEnvelope() Envelope {
	return Envelope{
		BrushRPM:    Bounds{Min: 500, Max: 1200},
		WaterFlow:   Bounds{Min: 0.10, Max: 0.60},
		Pressure:    Bounds{Min: 1.2, Max: 2.5},
		Detergent:   Bounds{Min: 0.02, Max: 0.06},
		Dwell:       IntBounds{Min: 2, Max: 8},
		Passes:      IntBounds{Min: 1, Max: 3},
		MaxDeltaRPM: 150,
	}
}

// Validate rejects envelopes whose ranges are inverted or whose delta is negative.
func (e Envelope) Validate() error {
	for name, b := range map[string]Bounds{
		"brushRpm":          e.BrushRPM,
		"waterFlowLpm":      e.WaterFlow,
		"nozzlePressureBar": e.Pressure,
		"detergentPct":      e.Detergent,
	} {
		if b.Min > b.Max {
			return fmt.Errorf("envelope %s: min %.4f exceeds max %.4f", name, b.Min, b.Max)
		}
	}
	if e.Dwell.Min > e.Dwell.Max {
		return fmt.Errorf("envelope dwellSec: min %d exceeds max %d", e.Dwell.Min, e.Dwell.Max)
	}
	if e.Passes.Min > e.Passes.Max {
		return fmt.Errorf("envelope passes: min %d exceeds max %d", e.Passes.Min, e.Passes.Max)
	}
	if e.MaxDeltaRPM < 0 {
		return fmt.Errorf("envelope maxDeltaRpm must not be negative, got %.2f", e.MaxDeltaRPM)
	}
	return nil
}

// Commands is the physical-unit control vector sent downstream.
type Commands struct {
	BrushRPM          float64 `json:"brushRpm"`
	WaterFlowLPM      float64 `json:"waterFlowLpm"`
	NozzlePressureBar float64 `json:"nozzlePressureBar"`
	Passes            int     `json:"passes"`
	DetergentPct      float64 `json:"detergentPct"`
	Route             string  `json:"route"`
	DwellSec          int     `json:"dwellSec"`
}

// Within reports whether every scalar of c lies inside env.
func (c Commands) Within(env Envelope) bool {
	return env.BrushRPM.Contains(c.BrushRPM) &&
		env.WaterFlow.Contains(c.WaterFlowLPM) &&
		env.Pressure.Contains(c.NozzlePressureBar) &&
		env.Detergent.Contains(c.DetergentPct) &&
		c.DwellSec >= env.Dwell.Min && c.DwellSec <= env.Dwell.Max &&
		c.Passes >= env.Passes.Min && c.Passes <= env.Passes.Max
}

// ClampTo re-applies every envelope bound.
func (c Commands) ClampTo(env Envelope) Commands {
	c.BrushRPM = env.BrushRPM.Clamp(c.BrushRPM)
	c.WaterFlowLPM = env.WaterFlow.Clamp(c.WaterFlowLPM)
	c.NozzlePressureBar = env.Pressure.Clamp(c.NozzlePressureBar)
	c.DetergentPct = env.Detergent.Clamp(c.DetergentPct)
	c.DwellSec = env.Dwell.Clamp(c.DwellSec)
	c.Passes = env.Passes.Clamp(c.Passes)
	return c
}

// Notes is the ordered log of safety rules that fired during one decision.
type Notes []string

// Add appends a note.
func (n *Notes) Add(note string) {
	if n == nil {
		return
	}
	*n = append(*n, note)
}

// Addf appends a formatted note.
func (n *Notes) Addf(format string, args ...interface{}) {
	n.Add(fmt.Sprintf(format, args...))
}

// Clamp01 clamps x to [0,1]; NaN becomes 0.
func Clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return clamp(x, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
