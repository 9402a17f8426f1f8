package safety

import (
	"regexp"
	"strconv"
)

// Boosts are model-requested overrides on top of the projected commands.
type Boosts struct {
	Contact   int     `json:"contact"`
	Passes    int     `json:"passes"`
	SpeedDown float64 `json:"speedDown"`
}

var boostsPattern = regexp.MustCompile(`(?i)boosts\(c=([-+]?\d+),\s*p=([-+]?\d+),\s*v-=([\d.]+)\)`)

// ParseBoosts extracts a boosts(c=.., p=.., v-=..) annotation from free text.
// It reports false when the annotation is absent or any capture fails to parse.
func ParseBoosts(text string) (Boosts, bool) {
	if text == "" {
		return Boosts{}, false
	}
	m := boostsPattern.FindStringSubmatch(text)
	if m == nil {
		return Boosts{}, false
	}
	contact, err := strconv.Atoi(m[1])
	if err != nil {
		return Boosts{}, false
	}
	passes, err := strconv.Atoi(m[2])
	if err != nil {
		return Boosts{}, false
	}
	speedDown, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Boosts{}, false
	}
	return Boosts{Contact: contact, Passes: passes, SpeedDown: speedDown}, true
}

// ResolveBoosts prefers a structured boosts object and falls back to the rationale text.
func ResolveBoosts(structured *Boosts, rationale string) (Boosts, bool) {
	if structured != nil {
		return *structured, true
	}
	return ParseBoosts(rationale)
}
