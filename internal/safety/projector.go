package safety

import (
	"math"
)

// Note emitted when the brush speed change had to be capped.
const NoteRateLimited = "rate_limited_rpm"

// Project converts a normalized proposal into physical commands inside env.
// When prev is set the brush speed moves at most env.MaxDeltaRPM away from it.
func Project(p Proposal, env Envelope, prev *Commands, notes *Notes) Commands {
	rpm := env.BrushRPM.Lerp(p.Signal(SignalBrushRPM))
	flow := env.WaterFlow.Lerp(p.Signal(SignalWaterFlow))
	press := env.Pressure.Lerp(p.Signal(SignalPressure))
	det := env.Detergent.Lerp(p.Signal(SignalDetergent))
	passes := lerpInt(env.Passes, p.Signal(SignalPasses))
	dwell := lerpInt(env.Dwell, p.Signal(SignalDwell))

	if prev != nil && math.Abs(rpm-prev.BrushRPM) > env.MaxDeltaRPM {
		step := env.MaxDeltaRPM
		if rpm < prev.BrushRPM {
			step = -step
		}
		rpm = prev.BrushRPM + step
		notes.Add(NoteRateLimited)
	}

	// second pass catches rounding and a previous value that sat outside this envelope
	c := Commands{
		BrushRPM:          rpm,
		WaterFlowLPM:      flow,
		NozzlePressureBar: press,
		Passes:            passes,
		DetergentPct:      det,
		Route:             p.BestRoute(),
		DwellSec:          dwell,
	}
	return c.ClampTo(env)
}

func lerpInt(b IntBounds, x float64) int {
	lo, hi := float64(b.Min), float64(b.Max)
	return int(math.Round(lo + (hi-lo)*Clamp01(x)))
}
