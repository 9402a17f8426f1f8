package models

import (
	"encoding/json"
	"time"
)

// TelemetryReading represents one sensor frame reported by a cleaning robot
type TelemetryReading struct {
	ID        string       `json:"id,omitempty"`
	SessionID string       `json:"sessionId"`
	PanelID   string       `json:"panelId"`
	State     *RobotState  `json:"state,omitempty"`
	Params    *RobotParams `json:"params,omitempty"`
	Drivers   *Drivers     `json:"drivers,omitempty"`
	Grid      *Grid        `json:"grid,omitempty"`
	Timestamp time.Time    `json:"timestamp"`

	Temperature       *float64     `json:"temperature,omitempty"`
	Humidity          *float64     `json:"humidity,omitempty"`
	DustLevel         *float64     `json:"dustLevel,omitempty"`
	PowerOutput       *float64     `json:"powerOutput,omitempty"`
	Vibration         *float64     `json:"vibration,omitempty"`
	MicroFractureRisk *float64     `json:"microFractureRisk,omitempty"`
	Location          *GeoLocation `json:"location,omitempty"`
}

// RobotState is the operating state reported with a frame
type RobotState struct {
	Mode         string     `json:"mode"`
	LastChangeTs *time.Time `json:"lastChangeTs,omitempty"`
	Cause        string     `json:"cause,omitempty"`
}

// RobotParams is the actuator parameter snapshot reported with a frame
type RobotParams struct {
	RobotSpeed        *float64 `json:"robotSpeed,omitempty"`
	BrushRPM          *float64 `json:"brushRpm,omitempty"`
	WaterPressure     *float64 `json:"waterPressure,omitempty"`
	DetergentFlowRate *float64 `json:"detergentFlowRate,omitempty"`
	VacuumPower       *float64 `json:"vacuumPower,omitempty"`
	TurnRadius        *float64 `json:"turnRadius,omitempty"`
	PassOverlap       *float64 `json:"passOverlap,omitempty"`
	PathSpacing       *float64 `json:"pathSpacing,omitempty"`
	SqueegeePressure  *float64 `json:"squeegeePressure,omitempty"`
	DwellTime         *float64 `json:"dwellTime,omitempty"`
	RPMRampRate       *float64 `json:"rpmRampRate,omitempty"`
	MaxWaterPerMin    *float64 `json:"maxWaterPerMin,omitempty"`
	MaxEnergyPerMin   *float64 `json:"maxEnergyPerMin,omitempty"`
}

// Drivers are the environmental drivers of soiling
type Drivers struct {
	Wind     *float64 `json:"wind,omitempty"`
	PM10     *float64 `json:"pm10,omitempty"`
	Rain     *float64 `json:"rain,omitempty"`
	Humidity *float64 `json:"humidity,omitempty"`
	Temp     *float64 `json:"temp,omitempty"`
}

// GridPosition is the robot cell on the panel grid
type GridPosition struct {
	Row *int `json:"row,omitempty"`
	Col *int `json:"col,omitempty"`
}

// Grid is the local cleaning snapshot at sample time
type Grid struct {
	Position        *GridPosition `json:"position,omitempty"`
	DustLocalBefore *float64      `json:"dustLocalBefore,omitempty"`
	DustLocalAfter  *float64      `json:"dustLocalAfter,omitempty"`
	DeltaLocal      *float64      `json:"deltaLocal,omitempty"`
	Passes          *int          `json:"passes,omitempty"`
	Coverage        *float64      `json:"coverage,omitempty"`
	DustMean        *float64      `json:"dustMean,omitempty"`
	DustMax         *float64      `json:"dustMax,omitempty"`
}

// GeoLocation is the panel position
type GeoLocation struct {
	Lat *float64 `json:"lat,omitempty"`
	Lng *float64 `json:"lng,omitempty"`
}

// UnmarshalJSON accepts the snake_case and short aliases robots still send
func (r *TelemetryReading) UnmarshalJSON(data []byte) error {
	type plain TelemetryReading
	var aux struct {
		plain
		Dust                 *float64 `json:"dust"`
		DustLevelSnake       *float64 `json:"dust_level"`
		Power                *float64 `json:"power"`
		PowerOutputSnake     *float64 `json:"power_output"`
		MicroFractureRiskAlt *float64 `json:"micro_fracture_risk"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = TelemetryReading(aux.plain)
	r.DustLevel = firstSet(r.DustLevel, aux.Dust, aux.DustLevelSnake)
	r.PowerOutput = firstSet(r.PowerOutput, aux.Power, aux.PowerOutputSnake)
	r.MicroFractureRisk = firstSet(r.MicroFractureRisk, aux.MicroFractureRiskAlt)
	return nil
}

// UnmarshalJSON accepts temp or temperature
func (d *Drivers) UnmarshalJSON(data []byte) error {
	type plain Drivers
	var aux struct {
		plain
		Temperature *float64 `json:"temperature"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*d = Drivers(aux.plain)
	d.Temp = firstSet(d.Temp, aux.Temperature)
	return nil
}

// UnmarshalJSON accepts the snake_case grid fields
func (g *Grid) UnmarshalJSON(data []byte) error {
	type plain Grid
	var aux struct {
		plain
		DustLocalBefore *float64 `json:"dust_local_before"`
		DustLocalAfter  *float64 `json:"dust_local_after"`
		DeltaLocal      *float64 `json:"delta_local"`
		DustMean        *float64 `json:"dust_mean"`
		DustMax         *float64 `json:"dust_max"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*g = Grid(aux.plain)
	g.DustLocalBefore = firstSet(g.DustLocalBefore, aux.DustLocalBefore)
	g.DustLocalAfter = firstSet(g.DustLocalAfter, aux.DustLocalAfter)
	g.DeltaLocal = firstSet(g.DeltaLocal, aux.DeltaLocal)
	g.DustMean = firstSet(g.DustMean, aux.DustMean)
	g.DustMax = firstSet(g.DustMax, aux.DustMax)
	return nil
}

// Mode returns the reported operating mode, empty when unknown
func (r *TelemetryReading) Mode() string {
	if r.State == nil {
		return ""
	}
	return r.State.Mode
}

// ParamsSnapshot flattens the reported actuator params into a map, skipping unset values
func (r *TelemetryReading) ParamsSnapshot() map[string]interface{} {
	out := make(map[string]interface{})
	if r.Params == nil {
		return out
	}
	p := r.Params
	put := func(k string, v *float64) {
		if v != nil {
			out[k] = *v
		}
	}
	put("brushRpm", p.BrushRPM)
	put("waterPressure", p.WaterPressure)
	put("waterFlow", p.MaxWaterPerMin)
	put("detergentFlowRate", p.DetergentFlowRate)
	put("robotSpeed", p.RobotSpeed)
	put("passOverlap", p.PassOverlap)
	put("dwellTime", p.DwellTime)
	return out
}

func firstSet(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// TelemetryView is the compact frame pushed to dashboards
type TelemetryView struct {
	SessionID         string       `json:"sessionId"`
	TimestampMs       int64        `json:"timestampMs"`
	Power             *float64     `json:"power"`
	Temperature       *float64     `json:"temperature"`
	Humidity          *float64     `json:"humidity"`
	Dust              *float64     `json:"dust"`
	Vibration         *float64     `json:"vibration"`
	MicroFractureRisk *float64     `json:"microFractureRisk"`
	Location          *GeoLocation `json:"location"`
}

// View builds the dashboard view of the frame; now is used when the frame has no timestamp
func (r *TelemetryReading) View(now time.Time) TelemetryView {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return TelemetryView{
		SessionID:         r.SessionID,
		TimestampMs:       ts.UnixMilli(),
		Power:             r.PowerOutput,
		Temperature:       r.Temperature,
		Humidity:          r.Humidity,
		Dust:              r.DustLevel,
		Vibration:         r.Vibration,
		MicroFractureRisk: r.MicroFractureRisk,
		Location:          r.Location,
	}
}
