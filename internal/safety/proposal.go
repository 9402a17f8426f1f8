package safety

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
)

// Normalized signal keys produced by the prediction model.
const (
	SignalBrushRPM  = "brushRpm"
	SignalWaterFlow = "waterFlow"
	SignalPressure  = "pressure"
	SignalPasses    = "passes"
	SignalDetergent = "detergentPct"
	SignalDwell     = "dwellSec"

	routeKey     = "route"
	DefaultRoute = "keep"
)

// RouteWeight is one candidate route and its probability.
type RouteWeight struct {
	Route  string  `json:"route"`
	Weight float64 `json:"weight"`
}

// Proposal is the normalized (0..1) actuator intent from the prediction model.
// Nothing in it is trusted: values may be missing, out of range or not numbers at all.
type Proposal struct {
	// Signals holds every numeric entry.
	Signals map[string]float64
	// Invalid lists keys that were present but not numeric.
	Invalid []string
	// Routes keeps the route distribution in the order it was received.
	Routes []RouteWeight
}

// Len counts every entry received, valid or not.
func (p Proposal) Len() int {
	n := len(p.Signals) + len(p.Invalid)
	if p.Routes != nil {
		n++
	}
	return n
}

// Empty reports whether the model proposed nothing at all.
func (p Proposal) Empty() bool {
	return p.Len() == 0
}

// Signal returns the named value clamped to [0,1]. Missing and NaN values read as 0.
func (p Proposal) Signal(key string) float64 {
	v, ok := p.Signals[key]
	if !ok {
		return 0
	}
	return Clamp01(v)
}

// BestRoute picks the highest-weighted route. Ties keep the first candidate seen.
func (p Proposal) BestRoute() string {
	best := -1
	for i, rw := range p.Routes {
		if math.IsNaN(rw.Weight) {
			continue
		}
		if best < 0 || rw.Weight > p.Routes[best].Weight {
			best = i
		}
	}
	if best < 0 {
		return DefaultRoute
	}
	return p.Routes[best].Route
}

// UnmarshalJSON decodes leniently: anything that is not a JSON object yields an empty
// proposal, and entries of the wrong type are recorded as invalid instead of failing.
func (p *Proposal) UnmarshalJSON(data []byte) error {
	*p = Proposal{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	for key, value := range raw {
		if key == routeKey {
			if routes, ok := decodeRoutes(value); ok {
				p.Routes = routes
				continue
			}
		}
		var f float64
		if err := json.Unmarshal(value, &f); err != nil {
			p.Invalid = append(p.Invalid, key)
			continue
		}
		if p.Signals == nil {
			p.Signals = make(map[string]float64)
		}
		p.Signals[key] = f
	}
	sort.Strings(p.Invalid)
	return nil
}

// MarshalJSON writes the proposal back in its wire shape for audit payloads.
func (p Proposal) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, p.Len())
	for k, v := range p.Signals {
		out[k] = v
	}
	if p.Routes != nil {
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, rw := range p.Routes {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(rw.Route)
			v, _ := json.Marshal(rw.Weight)
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteByte('}')
		out[routeKey] = json.RawMessage(buf.Bytes())
	}
	return json.Marshal(out)
}

// decodeRoutes walks the object token by token so the original key order survives.
func decodeRoutes(data json.RawMessage) ([]RouteWeight, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, false
	}
	routes := []RouteWeight{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		name, _ := tok.(string)
		var weight interface{}
		if err := dec.Decode(&weight); err != nil {
			return nil, false
		}
		if f, ok := weight.(float64); ok {
			routes = append(routes, RouteWeight{Route: name, Weight: f})
		}
	}
	return routes, true
}
