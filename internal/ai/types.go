package ai

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bizmatters/solar-fleet/control-service/internal/decision"
	"github.com/bizmatters/solar-fleet/control-service/internal/models"
	"github.com/bizmatters/solar-fleet/control-service/internal/safety"
)

// PredictRequest is the body of a prediction call
type PredictRequest struct {
	Points []Point `json:"points"`
}

// Point is one telemetry frame as the prediction service expects it
type Point struct {
	SessionID         string             `json:"sessionId"`
	PanelID           string             `json:"panelId"`
	Timestamp         string             `json:"timestamp,omitempty"`
	Temperature       float64            `json:"temperature"`
	Humidity          float64            `json:"humidity"`
	DustIndex         float64            `json:"dustIndex"`
	PowerOutput       float64            `json:"powerOutput"`
	Vibration         *float64           `json:"vibration,omitempty"`
	MicroFractureRisk *float64           `json:"microFractureRisk,omitempty"`
	Location          map[string]float64 `json:"location,omitempty"`
	Params            *PointParams       `json:"params,omitempty"`
}

// PointParams are the actuator params the model conditions on
type PointParams struct {
	BrushRPM          *float64 `json:"brushRpm,omitempty"`
	WaterPressure     *float64 `json:"waterPressure,omitempty"`
	DetergentFlowRate *float64 `json:"detergentFlowRate,omitempty"`
	RobotSpeed        *float64 `json:"robotSpeed,omitempty"`
	PassOverlap       *float64 `json:"passOverlap,omitempty"`
	DwellTime         *float64 `json:"dwellTime,omitempty"`
}

// NewPoint maps a telemetry frame onto a prediction point
func NewPoint(r models.TelemetryReading) Point {
	p := Point{
		SessionID:         r.SessionID,
		PanelID:           r.PanelID,
		DustIndex:         DustIndex(r),
		Vibration:         r.Vibration,
		MicroFractureRisk: r.MicroFractureRisk,
	}
	if !r.Timestamp.IsZero() {
		p.Timestamp = r.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	var driverTemp, driverHum *float64
	if r.Drivers != nil {
		driverTemp, driverHum = r.Drivers.Temp, r.Drivers.Humidity
	}
	p.Temperature = valueOr(driverTemp, valueOr(r.Temperature, 0))
	p.Humidity = valueOr(driverHum, valueOr(r.Humidity, 0))
	p.PowerOutput = valueOr(r.PowerOutput, 0)

	if r.Location != nil {
		p.Location = map[string]float64{
			"lat": valueOr(r.Location.Lat, 0),
			"lng": valueOr(r.Location.Lng, 0),
		}
	}
	if r.Params != nil {
		p.Params = &PointParams{
			BrushRPM:          r.Params.BrushRPM,
			WaterPressure:     r.Params.WaterPressure,
			DetergentFlowRate: r.Params.DetergentFlowRate,
			RobotSpeed:        r.Params.RobotSpeed,
			PassOverlap:       r.Params.PassOverlap,
			DwellTime:         r.Params.DwellTime,
		}
	}
	return p
}

// DustIndex picks the most current dust signal of a frame, in 0..1.
// Local grid readings win over the frame-wide level; after-pass wins over before-pass.
func DustIndex(r models.TelemetryReading) float64 {
	if g := r.Grid; g != nil {
		for _, v := range []*float64{g.DustLocalAfter, g.DustLocalBefore, g.DustMean} {
			if v != nil {
				return safety.Clamp01(*v)
			}
		}
	}
	if r.DustLevel != nil {
		return safety.Clamp01(*r.DustLevel)
	}
	return 0
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// OptFloat is a number that may be missing or sent as a numeric string.
// Anything else decodes as unset rather than failing the whole response.
type OptFloat struct {
	Value float64
	Valid bool
}

// Float returns a set value
func Float(v float64) OptFloat {
	return OptFloat{Value: v, Valid: true}
}

func (o *OptFloat) UnmarshalJSON(data []byte) error {
	*o = OptFloat{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			*o = Float(f)
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			*o = Float(f)
		}
	}
	return nil
}

func (o OptFloat) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// StatsMap is a loosely shaped statistics object. A non-object decodes as empty.
type StatsMap map[string]OptFloat

func (m *StatsMap) UnmarshalJSON(data []byte) error {
	*m = nil
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return nil
	}
	var raw map[string]OptFloat
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	*m = raw
	return nil
}

func (m StatsMap) first(keys ...string) OptFloat {
	for _, k := range keys {
		if v, ok := m[k]; ok && v.Valid {
			return v
		}
	}
	return OptFloat{}
}

var (
	beforeKeys = []string{"beforeDustPct", "before_pct", "before", "avgBeforeDustPct"}
	afterKeys  = []string{"afterDustPct", "after_pct", "after", "avgAfterDustPct"}
)

// PredictResponse is the prediction service answer
type PredictResponse struct {
	SessionID                    string          `json:"sessionId"`
	Timestamp                    string          `json:"timestamp"`
	PredictedEfficiencyLoss      OptFloat        `json:"predictedEfficiencyLoss"`
	RecommendedCleaningFrequency string          `json:"recommendedCleaningFrequency"`
	CleaningRouteAdjustment      string          `json:"cleaningRouteAdjustment"`
	Alerts                       []string        `json:"alerts"`
	ProposedCommands             safety.Proposal `json:"proposedCommands"`
	Explain                      string          `json:"explain"`
	Boosts                       *safety.Boosts  `json:"boosts,omitempty"`

	WindowBeforeDustPct OptFloat `json:"windowBeforeDustPct"`
	WindowAfterDustPct  OptFloat `json:"windowAfterDustPct"`
	BeforeDustPct       OptFloat `json:"beforeDustPct"`
	AfterDustPct        OptFloat `json:"afterDustPct"`
	Stats               StatsMap `json:"stats,omitempty"`
	Metrics             StatsMap `json:"metrics,omitempty"`
	Window              StatsMap `json:"window,omitempty"`
}

// WindowStats resolves the before/after dust percentages. A pair is only taken when
// both sides come from the same shape: window fields, then flat fields, then the first
// statistics object present. Anything else is the neutral window.
func (r *PredictResponse) WindowStats() decision.WindowStats {
	if w, ok := windowPair(r.WindowBeforeDustPct, r.WindowAfterDustPct); ok {
		return w
	}
	if w, ok := windowPair(r.BeforeDustPct, r.AfterDustPct); ok {
		return w
	}
	if stats := r.statsObject(); stats != nil {
		if w, ok := windowPair(stats.first(beforeKeys...), stats.first(afterKeys...)); ok {
			return w
		}
	}
	return decision.NeutralWindow()
}

// statsObject returns the first statistics object the model sent, even if empty
func (r *PredictResponse) statsObject() StatsMap {
	for _, m := range []StatsMap{r.Stats, r.Metrics, r.Window} {
		if m != nil {
			return m
		}
	}
	return nil
}

func windowPair(before, after OptFloat) (decision.WindowStats, bool) {
	if !before.Valid || !after.Valid {
		return decision.WindowStats{}, false
	}
	return decision.WindowStats{BeforePct: before.Value, AfterPct: after.Value}, true
}
