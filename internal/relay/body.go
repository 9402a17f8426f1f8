package relay

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/bizmatters/solar-fleet/control-service/internal/models"
)

// knownParams are the only actuator params the simulator accepts.
var knownParams = map[string]struct{}{
	"robotSpeed":        {},
	"brushRpm":          {},
	"waterPressure":     {},
	"detergentFlowRate": {},
	"vacuumPower":       {},
	"turnRadius":        {},
	"passOverlap":       {},
	"pathSpacing":       {},
	"squeegeePressure":  {},
	"dwellTime":         {},
	"rpmRampRate":       {},
	"maxWaterPerMin":    {},
	"maxEnergyPerMin":   {},
}

// KnownParams lists the simulator params in sorted order
func KnownParams() []string {
	out := make([]string, 0, len(knownParams))
	for k := range knownParams {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BuildBody translates an event into the simulator command body.
// Unknown event types produce a body with only the cause.
func BuildBody(evt models.StateChangeEvent) map[string]interface{} {
	body := map[string]interface{}{}
	if evt.Cause != "" {
		body["cause"] = evt.Cause
	} else {
		body["cause"] = evt.Type
	}

	switch strings.ToLower(evt.Type) {
	case models.EventTypeStateChange:
		putState(body, evt)
	case models.EventTypeParamChange:
		putParams(body, evt)
	case models.EventTypeParamChangeBulk:
		if bulk := extractBulk(evt.Details); len(bulk) > 0 {
			body["bulk"] = bulk
		} else {
			putParams(body, evt)
		}
	case models.EventTypeControlUpdate:
		putState(body, evt)
		putParams(body, evt)
	}
	return body
}

func putState(body map[string]interface{}, evt models.StateChangeEvent) {
	if mode := strings.TrimSpace(evt.NextMode()); mode != "" {
		body["state"] = map[string]interface{}{"mode": evt.NextMode()}
	}
}

func putParams(body map[string]interface{}, evt models.StateChangeEvent) {
	var extra map[string]interface{}
	if evt.Details != nil {
		extra, _ = evt.Details["params"].(map[string]interface{})
	}
	if params := CoerceParams(evt.ParamsTarget, extra); len(params) > 0 {
		body["params"] = params
	}
}

func extractBulk(details map[string]interface{}) []map[string]interface{} {
	changes, ok := details["changes"].([]interface{})
	if !ok {
		return nil
	}
	var bulk []map[string]interface{}
	for _, c := range changes {
		change, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		pm, ok := change["params"].(map[string]interface{})
		if !ok {
			continue
		}
		if params := CoerceParams(pm, nil); len(params) > 0 {
			bulk = append(bulk, map[string]interface{}{"params": params})
		}
	}
	return bulk
}

// CoerceParams merges target and extra params, normalizes the keys and keeps only
// simulator-known params with numeric values. Extra entries override target ones.
func CoerceParams(target, extra map[string]interface{}) map[string]float64 {
	out := map[string]float64{}
	merge := func(src map[string]interface{}) {
		for _, k := range sortedKeys(src) {
			key := NormalizeKey(k)
			if _, ok := knownParams[key]; !ok {
				continue
			}
			if v, ok := toNumber(src[k]); ok {
				out[key] = v
			}
		}
	}
	merge(target)
	merge(extra)
	return out
}

// NormalizeKey trims a param name, resolves the brushRPM alias and converts snake_case to camelCase.
func NormalizeKey(raw string) string {
	k := strings.TrimSpace(raw)
	if strings.EqualFold(k, "brushRPM") {
		return "brushRpm"
	}
	if !strings.Contains(k, "_") {
		return k
	}
	parts := strings.Split(strings.ToLower(k), "_")
	var sb strings.Builder
	sb.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		sb.WriteString(string(r))
	}
	return sb.String()
}

// toNumber accepts finite numbers and numeric strings
func toNumber(v interface{}) (float64, bool) {
	f, ok := rawNumber(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func rawNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// sortedKeys keeps the merge deterministic when two raw keys normalize to the same name.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
