package ai

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/solar-fleet/control-service/internal/decision"
	"github.com/bizmatters/solar-fleet/control-service/internal/models"
)

func TestDustIndex(t *testing.T) {
	tests := []struct {
		name  string
		frame models.TelemetryReading
		want  float64
	}{
		{"grid after wins", models.TelemetryReading{
			DustLevel: ptr(0.9),
			Grid:      &models.Grid{DustLocalAfter: ptr(0.2), DustLocalBefore: ptr(0.6), DustMean: ptr(0.5)},
		}, 0.2},
		{"grid before next", models.TelemetryReading{
			Grid: &models.Grid{DustLocalBefore: ptr(0.6), DustMean: ptr(0.5)},
		}, 0.6},
		{"grid mean next", models.TelemetryReading{
			DustLevel: ptr(0.9),
			Grid:      &models.Grid{DustMean: ptr(0.5)},
		}, 0.5},
		{"frame level when grid is empty", models.TelemetryReading{
			DustLevel: ptr(0.9),
			Grid:      &models.Grid{},
		}, 0.9},
		{"clamped high", models.TelemetryReading{DustLevel: ptr(3)}, 1},
		{"clamped low", models.TelemetryReading{Grid: &models.Grid{DustLocalAfter: ptr(-0.5)}}, 0},
		{"nothing known", models.TelemetryReading{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DustIndex(tt.frame))
		})
	}
}

func TestNewPoint(t *testing.T) {
	t.Run("drivers win over frame readings", func(t *testing.T) {
		p := NewPoint(models.TelemetryReading{
			SessionID:   "s-1",
			PanelID:     "p-1",
			Timestamp:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			Temperature: ptr(20),
			Humidity:    ptr(0.5),
			Drivers:     &models.Drivers{Temp: ptr(31)},
			PowerOutput: ptr(300),
			Location:    &models.GeoLocation{Lat: ptr(-33.4)},
			Params:      &models.RobotParams{BrushRPM: ptr(900), MaxWaterPerMin: ptr(0.4)},
		})
		assert.Equal(t, 31.0, p.Temperature)
		assert.Equal(t, 0.5, p.Humidity)
		assert.Equal(t, 300.0, p.PowerOutput)
		assert.Equal(t, map[string]float64{"lat": -33.4, "lng": 0}, p.Location)
		require.NotNil(t, p.Params)
		assert.Equal(t, 900.0, *p.Params.BrushRPM)
		assert.Nil(t, p.Params.WaterPressure)
	})

	t.Run("missing readings default to zero", func(t *testing.T) {
		p := NewPoint(models.TelemetryReading{SessionID: "s-1"})
		assert.Zero(t, p.Temperature)
		assert.Zero(t, p.Humidity)
		assert.Zero(t, p.PowerOutput)
		assert.Empty(t, p.Timestamp)
		assert.Nil(t, p.Location)
		assert.Nil(t, p.Params)
	})
}

func TestOptFloat(t *testing.T) {
	tests := []struct {
		raw  string
		want OptFloat
	}{
		{`12.5`, Float(12.5)},
		{`"7"`, Float(7)},
		{`" 3.25 "`, Float(3.25)},
		{`"dusty"`, OptFloat{}},
		{`null`, OptFloat{}},
		{`true`, OptFloat{}},
		{`{"a":1}`, OptFloat{}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var o OptFloat
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &o))
			assert.Equal(t, tt.want, o)
		})
	}
}

func TestPredictResponse_WindowStats(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want decision.WindowStats
	}{
		{"window fields first", `{"windowBeforeDustPct":30,"windowAfterDustPct":25,"beforeDustPct":1,"afterDustPct":1}`,
			decision.WindowStats{BeforePct: 30, AfterPct: 25}},
		{"flat fields", `{"beforeDustPct":22,"afterDustPct":"21"}`,
			decision.WindowStats{BeforePct: 22, AfterPct: 21}},
		{"stats before metrics", `{"stats":{"beforeDustPct":15,"after":12},"metrics":{"before":99,"after_pct":98}}`,
			decision.WindowStats{BeforePct: 15, AfterPct: 12}},
		{"first object present wins even when incomplete", `{"stats":{"beforeDustPct":15},"metrics":{"before":99,"after_pct":12}}`,
			decision.NeutralWindow()},
		{"empty stats shadows metrics", `{"stats":{},"metrics":{"before":20,"after":18}}`,
			decision.NeutralWindow()},
		{"incomplete window pair falls through to flat", `{"windowBeforeDustPct":30,"beforeDustPct":22,"afterDustPct":21}`,
			decision.WindowStats{BeforePct: 22, AfterPct: 21}},
		{"mixed shapes are not paired", `{"windowBeforeDustPct":30,"afterDustPct":12}`,
			decision.NeutralWindow()},
		{"after only", `{"afterDustPct":15}`, decision.NeutralWindow()},
		{"window map average keys", `{"window":{"avgBeforeDustPct":14,"avgAfterDustPct":13}}`,
			decision.WindowStats{BeforePct: 14, AfterPct: 13}},
		{"key order inside one map", `{"stats":{"before":5,"beforeDustPct":6,"after_pct":4,"after":3}}`,
			decision.WindowStats{BeforePct: 6, AfterPct: 4}},
		{"junk stats ignored", `{"stats":"n/a","metrics":{"before":"x","after":7},"window":{"before":9,"after":8}}`,
			decision.NeutralWindow()},
		{"non-object stats skipped", `{"stats":"n/a","metrics":{"before":9,"after":8}}`,
			decision.WindowStats{BeforePct: 9, AfterPct: 8}},
		{"nothing reported", `{}`, decision.NeutralWindow()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp PredictResponse
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &resp))
			assert.Equal(t, tt.want, resp.WindowStats())
		})
	}
}

func TestPredictResponse_StructuredBoosts(t *testing.T) {
	var resp PredictResponse
	require.NoError(t, json.Unmarshal([]byte(`{"boosts":{"contact":2,"passes":1,"speedDown":0.05},"proposedCommands":[1,2]}`), &resp))
	require.NotNil(t, resp.Boosts)
	assert.Equal(t, 2, resp.Boosts.Contact)
	assert.True(t, resp.ProposedCommands.Empty())
}
