package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/solar-fleet/control-service/internal/decision"
	"github.com/bizmatters/solar-fleet/control-service/internal/safety"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.AI.Enabled)
	assert.Equal(t, 2*time.Second, cfg.AI.Timeout)
	assert.Equal(t, "http://localhost:7072/commands", cfg.Simulator.ControlURL)
	assert.Equal(t, 10, cfg.Window.Size)
	assert.Equal(t, StateBackendMemory, cfg.State.Backend)
	assert.Empty(t, cfg.Auth.JWTSecret)

	assert.Equal(t, safety.DefaultEnvelope(), cfg.Envelope())
	assert.Equal(t, decision.DefaultConfig(), cfg.Decision())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONTROL_LIMITS_RPMMAX", "1100")
	t.Setenv("CONTROL_BUMP_NOW_RPM", "750")
	t.Setenv("AI_ENABLED", "false")
	t.Setenv("AI_TIMEOUT", "500ms")
	t.Setenv("SERVER_ALLOWEDORIGINS", "http://a.example, http://b.example")
	t.Setenv("STATE_BACKEND", "redis")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1100.0, cfg.Envelope().BrushRPM.Max)
	assert.Equal(t, 750.0, cfg.Decision().NowBump.BrushRPM)
	assert.False(t, cfg.Prediction().Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Prediction().Timeout)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, StateBackendRedis, cfg.State.Backend)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
control:
  limits:
    rpmMin: 600
    passesMax: 4
  target:
    finalDustPct: 1.5
simulator:
  ratePerSecond: 5
  burst: 2
auth:
  jwtSecret: s3cret
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	env := cfg.Envelope()
	assert.Equal(t, 600.0, env.BrushRPM.Min)
	assert.Equal(t, 1200.0, env.BrushRPM.Max)
	assert.Equal(t, 4, env.Passes.Max)
	assert.Equal(t, 1.5, cfg.Decision().FinalTargetPct)
	assert.Equal(t, 5.0, cfg.Relay().RatePerSecond)
	assert.Equal(t, 2, cfg.Relay().Burst)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"inverted rpm range", map[string]string{"CONTROL_LIMITS_RPMMIN": "1500"}, "control.limits"},
		{"inverted dwell", map[string]string{"CONTROL_LIMITS_DWELLMAX": "1"}, "dwellSec"},
		{"negative delta", map[string]string{"CONTROL_LIMITS_MAXDELTARPM": "-1"}, "maxDeltaRpm"},
		{"inverted speed", map[string]string{"CONTROL_DEFAULTS_SPEEDMIN": "0.9"}, "speedMin"},
		{"zero ai timeout", map[string]string{"AI_TIMEOUT": "0s"}, "ai.timeout"},
		{"zero relay timeout", map[string]string{"SIMULATOR_TIMEOUT": "0s"}, "simulator.timeout"},
		{"negative rate", map[string]string{"SIMULATOR_RATEPERSECOND": "-2"}, "ratePerSecond"},
		{"zero window", map[string]string{"WINDOW_SIZE": "0"}, "window.size"},
		{"unknown backend", map[string]string{"STATE_BACKEND": "etcd"}, "state.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
