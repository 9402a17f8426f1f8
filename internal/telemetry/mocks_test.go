package telemetry

import (
	"context"
	"sort"
	"sync"

	"github.com/bizmatters/solar-fleet/control-service/internal/ai"
	"github.com/bizmatters/solar-fleet/control-service/internal/decision"
	"github.com/bizmatters/solar-fleet/control-service/internal/models"
)

type mockPredictor struct {
	mu     sync.Mutex
	resp   *ai.PredictResponse
	err    error
	frames [][]models.TelemetryReading
}

func (m *mockPredictor) Predict(ctx context.Context, frames []models.TelemetryReading) (*ai.PredictResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frames)
	if m.err != nil {
		return nil, m.err
	}
	r := *m.resp
	return &r, nil
}

func (m *mockPredictor) IsHealthy(ctx context.Context) bool { return m.err == nil }

type mockRelayer struct {
	mu     sync.Mutex
	events []models.StateChangeEvent
	resp   map[string]interface{}
	err    error
}

func (m *mockRelayer) Relay(ctx context.Context, evt models.StateChangeEvent) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.resp, m.err
}

type recordingHub struct {
	mu     sync.Mutex
	events []models.RuntimeEvent
}

func (h *recordingHub) Broadcast(evt models.RuntimeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Type)
	}
	return out
}

// memoryRepo keeps frames per session, newest first on read
type memoryRepo struct {
	mu      sync.Mutex
	frames  map[string][]models.TelemetryReading
	saveErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{frames: make(map[string][]models.TelemetryReading)}
}

func (r *memoryRepo) Save(ctx context.Context, reading models.TelemetryReading) (models.TelemetryReading, error) {
	if r.saveErr != nil {
		return reading, r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if reading.ID == "" {
		reading.ID = "frame"
	}
	r.frames[reading.SessionID] = append(r.frames[reading.SessionID], reading)
	return reading, nil
}

func (r *memoryRepo) LastN(ctx context.Context, sessionID string, n int) ([]models.TelemetryReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := append([]models.TelemetryReading(nil), r.frames[sessionID]...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

type windowCall struct {
	sessionID string
	panelID   string
	frames    []models.TelemetryReading
}

type mockRunner struct {
	mu    sync.Mutex
	calls []windowCall
}

func (m *mockRunner) ProcessWindow(ctx context.Context, sessionID, panelID string, frames []models.TelemetryReading, applyControl bool) (*decision.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, windowCall{sessionID: sessionID, panelID: panelID, frames: frames})
	return nil, nil
}

func (m *mockRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
