package safety

import (
	"math"
)

const (
	// DefaultTargetPct is used when no intermediate dust target is supplied.
	DefaultTargetPct = 10.0
	// DefaultMinDeltaPct is the minimum improvement per window when none is supplied.
	DefaultMinDeltaPct = 5.0

	activationMargin = 0.5

	detergentFactor = 1.25
	flowStep        = 0.05
	pressureStep    = 0.2
	dwellStep       = 1
	passesStep      = 1
)

// Escalate raises cleaning aggressiveness when the last window left the panel dirty
// and did not improve it enough. The escalation is a fixed step inside env, so calling
// it once per decision never compounds within that decision.
func Escalate(c Commands, env Envelope, beforePct, afterPct, targetPct, minDeltaPct float64, notes *Notes) Commands {
	if math.IsNaN(beforePct) {
		beforePct = afterPct
	}
	if math.IsNaN(afterPct) {
		afterPct = beforePct
	}
	if math.IsNaN(targetPct) {
		targetPct = DefaultTargetPct
	}
	if math.IsNaN(minDeltaPct) {
		minDeltaPct = DefaultMinDeltaPct
	}

	delta := beforePct - afterPct
	if !(afterPct > targetPct+activationMargin && delta < minDeltaPct) {
		return c
	}

	c.DetergentPct = env.Detergent.Clamp(c.DetergentPct * detergentFactor)
	c.WaterFlowLPM = env.WaterFlow.Clamp(c.WaterFlowLPM + flowStep)
	c.NozzlePressureBar = env.Pressure.Clamp(c.NozzlePressureBar + pressureStep)
	c.DwellSec = env.Dwell.Clamp(c.DwellSec + dwellStep)
	c.Passes = env.Passes.Clamp(c.Passes + passesStep)

	notes.Addf("anti_regression_boost: after=%.2f%%, delta=%.2f%%, target=%.2f%%", afterPct, delta, targetPct)
	return c
}
