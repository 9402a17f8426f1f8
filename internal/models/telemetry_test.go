package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetryReading_Aliases(t *testing.T) {
	raw := `{
		"sessionId": "s-1",
		"panelId": "p-7",
		"timestamp": "2025-03-01T10:00:00.250Z",
		"dust_level": 0.42,
		"power_output": 310.5,
		"micro_fracture_risk": 0.01,
		"drivers": {"temperature": 31.5, "humidity": 0.2},
		"grid": {"dust_local_before": 0.5, "dust_local_after": 0.3, "dust_mean": 0.4, "passes": 2},
		"state": {"mode": "CLEANING"},
		"params": {"brushRpm": 900, "maxWaterPerMin": 0.4, "dwellTime": 4}
	}`

	var r TelemetryReading
	require.NoError(t, json.Unmarshal([]byte(raw), &r))

	assert.Equal(t, "s-1", r.SessionID)
	require.NotNil(t, r.DustLevel)
	assert.Equal(t, 0.42, *r.DustLevel)
	require.NotNil(t, r.PowerOutput)
	assert.Equal(t, 310.5, *r.PowerOutput)
	require.NotNil(t, r.MicroFractureRisk)
	require.NotNil(t, r.Drivers.Temp)
	assert.Equal(t, 31.5, *r.Drivers.Temp)
	require.NotNil(t, r.Grid.DustLocalAfter)
	assert.Equal(t, 0.3, *r.Grid.DustLocalAfter)
	assert.Equal(t, 0.4, *r.Grid.DustMean)
	assert.Equal(t, 2, *r.Grid.Passes)
	assert.Equal(t, "CLEANING", r.Mode())
	assert.Equal(t, 250, r.Timestamp.Nanosecond()/1e6)
}

func TestTelemetryReading_CanonicalNamesWin(t *testing.T) {
	var r TelemetryReading
	require.NoError(t, json.Unmarshal([]byte(`{"dustLevel":0.1,"dust":0.9,"timestamp":"2025-03-01T10:00:00Z"}`), &r))
	assert.Equal(t, 0.1, *r.DustLevel)
}

func TestTelemetryReading_ParamsSnapshot(t *testing.T) {
	var r TelemetryReading
	assert.Empty(t, r.ParamsSnapshot())
	assert.Equal(t, "", r.Mode())

	require.NoError(t, json.Unmarshal([]byte(`{"timestamp":"2025-03-01T10:00:00Z","params":{"brushRpm":900,"maxWaterPerMin":0.4,"vacuumPower":3}}`), &r))
	assert.Equal(t, map[string]interface{}{"brushRpm": 900.0, "waterFlow": 0.4}, r.ParamsSnapshot())
}

func TestTelemetryReading_View(t *testing.T) {
	dust := 0.3
	r := TelemetryReading{SessionID: "s-1", DustLevel: &dust}
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	v := r.View(now)
	assert.Equal(t, "s-1", v.SessionID)
	assert.Equal(t, now.UnixMilli(), v.TimestampMs)
	assert.Equal(t, &dust, v.Dust)
	assert.Nil(t, v.Power)

	r.Timestamp = now.Add(time.Second)
	assert.Equal(t, now.Add(time.Second).UnixMilli(), r.View(now).TimestampMs)
}
