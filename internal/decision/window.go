package decision

import "math"

// NeutralPct is used when the model reported no usable dust statistics.
const NeutralPct = 10.0

// WindowStats are the dust percentages before and after the latest window.
type WindowStats struct {
	BeforePct float64
	AfterPct  float64
}

// NeutralWindow reports no change at the neutral dust level.
func NeutralWindow() WindowStats {
	return WindowStats{BeforePct: NeutralPct, AfterPct: NeutralPct}
}

// orNeutral fills a missing side from the other one. With neither side known the
// window is neutral.
func (w WindowStats) orNeutral() WindowStats {
	beforeNaN, afterNaN := math.IsNaN(w.BeforePct), math.IsNaN(w.AfterPct)
	switch {
	case beforeNaN && afterNaN:
		return NeutralWindow()
	case beforeNaN:
		w.BeforePct = w.AfterPct
	case afterNaN:
		w.AfterPct = w.BeforePct
	}
	return w
}
