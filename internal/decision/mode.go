package decision

import (
	"strings"
)

// Operating modes
const (
	ModeAuto     = "AUTO"
	ModeCleaning = "CLEANING"
)

// Decision causes
const (
	CauseAINow      = "AI_NOW"
	CauseAIHold     = "AI_HOLD"
	CauseAIDecision = "AI_DECISION"
)

// Recommendation labels from the prediction model
const (
	RecommendNow   = "now"
	RecommendHold  = "hold_20s"
	RecommendLater = "after_2_windows"
)

// Transition derives the cause and next mode from the model recommendation alone.
// An unknown label keeps the previous mode, or AUTO when none is known.
func Transition(recommendation, prevMode string) (cause, nextMode string) {
	nextMode = strings.TrimSpace(prevMode)
	if nextMode == "" {
		nextMode = ModeAuto
	}
	switch {
	case strings.EqualFold(recommendation, RecommendNow):
		return CauseAINow, ModeCleaning
	case strings.EqualFold(recommendation, RecommendHold):
		return CauseAIHold, nextMode
	default:
		return CauseAIDecision, nextMode
	}
}

func isUrgent(recommendation string) bool {
	return strings.EqualFold(recommendation, RecommendNow)
}
