package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizmatters/solar-fleet/control-service/internal/auth"
	"github.com/bizmatters/solar-fleet/control-service/internal/models"
	"github.com/bizmatters/solar-fleet/control-service/internal/store"
)

// MockIngester records frames handed to the telemetry service
type MockIngester struct {
	mu       sync.Mutex
	readings []models.TelemetryReading
	err      error
}

func (m *MockIngester) ProcessReading(ctx context.Context, reading models.TelemetryReading) (models.TelemetryReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, reading)
	return reading, m.err
}

// MockSessionRepository keeps sessions in a map
type MockSessionRepository struct {
	sessions map[string]models.Session
	err      error
}

func newMockSessions() *MockSessionRepository {
	return &MockSessionRepository{sessions: make(map[string]models.Session)}
}

func (m *MockSessionRepository) Start(ctx context.Context, s models.Session) (models.Session, error) {
	if m.err != nil {
		return models.Session{}, m.err
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MockSessionRepository) Stop(ctx context.Context, id string) (models.Session, error) {
	if m.err != nil {
		return models.Session{}, m.err
	}
	s, ok := m.sessions[id]
	if !ok {
		return models.Session{}, store.ErrNotFound
	}
	now := time.Now().UTC()
	s.EndTime = &now
	s.Status = models.SessionStatusEnded
	m.sessions[id] = s
	return s, nil
}

func (m *MockSessionRepository) Active(ctx context.Context) ([]models.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []models.Session{}
	for _, s := range m.sessions {
		if s.Status == models.SessionStatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

// MockRelayer captures relayed events
type MockRelayer struct {
	events []models.StateChangeEvent
	resp   map[string]interface{}
	err    error
}

func (m *MockRelayer) Relay(ctx context.Context, evt models.StateChangeEvent) (map[string]interface{}, error) {
	m.events = append(m.events, evt)
	return m.resp, m.err
}

// MockBroadcaster captures runtime events
type MockBroadcaster struct {
	events []models.RuntimeEvent
}

func (m *MockBroadcaster) Broadcast(evt models.RuntimeEvent) {
	m.events = append(m.events, evt)
}

// MockStates records forgotten sessions
type MockStates struct {
	forgotten []string
	err       error
}

func (m *MockStates) Forget(ctx context.Context, sessionID string) error {
	m.forgotten = append(m.forgotten, sessionID)
	return m.err
}

type MockPinger struct{ err error }

func (m *MockPinger) Ping(ctx context.Context) error { return m.err }

type MockHealth struct{ healthy bool }

func (m *MockHealth) IsHealthy(ctx context.Context) bool { return m.healthy }

type handlerFixture struct {
	router   *gin.Engine
	ingester *MockIngester
	sessions *MockSessionRepository
	relayer  *MockRelayer
	hub      *MockBroadcaster
	states   *MockStates
	db       *MockPinger
	stateDB  *MockPinger
	ai       *MockHealth
}

func newHandlerFixture(t *testing.T, jm *auth.JWTManager) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		ingester: &MockIngester{},
		sessions: newMockSessions(),
		relayer:  &MockRelayer{resp: map[string]interface{}{"ok": true}},
		hub:      &MockBroadcaster{},
		states:   &MockStates{},
		db:       &MockPinger{},
		stateDB:  &MockPinger{},
		ai:       &MockHealth{healthy: true},
	}
	h := NewHandler(HandlerDeps{
		Ingester:     f.ingester,
		Sessions:     f.sessions,
		Relayer:      f.relayer,
		Hub:          f.hub,
		States:       f.states,
		DB:           f.db,
		StateBackend: f.stateDB,
		Prediction:   f.ai,
	}, zap.NewNop())
	f.router = NewRouter(RouterConfig{Handler: h, JWTManager: jm, Logger: zap.NewNop()})
	return f
}

func (f *handlerFixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHandler_IngestTelemetry(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		ingestErr  error
		wantStatus int
		wantFrames int
	}{
		{
			name:       "accepted",
			body:       `{"sessionId":"s-1","panelId":"p-1","dust_level":0.4,"power":210.5}`,
			wantStatus: http.StatusAccepted,
			wantFrames: 1,
		},
		{
			name:       "downstream failure is still accepted",
			body:       `{"sessionId":"s-1"}`,
			ingestErr:  errors.New("db down"),
			wantStatus: http.StatusAccepted,
			wantFrames: 1,
		},
		{
			name:       "malformed json",
			body:       `{"sessionId":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, nil)
			f.ingester.err = tt.ingestErr

			w := f.do(http.MethodPost, "/api/telemetry", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Len(t, f.ingester.readings, tt.wantFrames)
		})
	}
}

func TestHandler_IngestTelemetryAliases(t *testing.T) {
	f := newHandlerFixture(t, nil)
	w := f.do(http.MethodPost, "/api/telemetry", `{"sessionId":"s-1","panelId":"p-1","dust_level":0.4,"power":210.5}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, f.ingester.readings, 1)
	r := f.ingester.readings[0]
	require.NotNil(t, r.DustLevel)
	assert.Equal(t, 0.4, *r.DustLevel)
	require.NotNil(t, r.PowerOutput)
	assert.Equal(t, 210.5, *r.PowerOutput)
}

func TestHandler_Sessions(t *testing.T) {
	f := newHandlerFixture(t, nil)

	w := f.do(http.MethodPost, "/api/sessions/start", `{"sessionId":"s-1","panelId":"p-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var started models.SessionStartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, "s-1", started.SessionID)
	assert.Equal(t, "p-1", started.PanelID)
	assert.False(t, started.StartTime.IsZero())

	w = f.do(http.MethodPost, "/api/sessions/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	var generated models.SessionStartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &generated))
	assert.Len(t, generated.SessionID, 36)

	w = f.do(http.MethodGet, "/api/sessions/active", "")
	require.Equal(t, http.StatusOK, w.Code)
	var active []models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	assert.Len(t, active, 2)

	w = f.do(http.MethodPost, "/api/sessions/s-1/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stopped models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stopped))
	assert.Equal(t, models.SessionStatusEnded, stopped.Status)
	assert.NotNil(t, stopped.EndTime)
	assert.Equal(t, []string{"s-1"}, f.states.forgotten)

	w = f.do(http.MethodPost, "/api/sessions/unknown/stop", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), models.ErrCodeNotFound)
	assert.Len(t, f.states.forgotten, 1)
}

func TestHandler_SessionsStoreError(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.sessions.err = errors.New("db down")

	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/api/sessions/start", `{}`).Code)
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/api/sessions/s-1/stop", "").Code)
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/api/sessions/active", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/sessions/start", `[`).Code)
}

func TestHandler_StateChangeValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"missing version", `{"type":"state_change","sessionId":"s-1","panelId":"p-1"}`, http.StatusUnprocessableEntity, "required"},
		{"missing session", `{"type":"state_change","panelId":"p-1","version":1}`, http.StatusUnprocessableEntity, "required"},
		{"missing type", `{"sessionId":"s-1","panelId":"p-1","version":1}`, http.StatusUnprocessableEntity, "required"},
		{"control update is not an operator type", `{"type":"control_update","sessionId":"s-1","panelId":"p-1","version":1}`, http.StatusUnprocessableEntity, "invalid type"},
		{"unknown type", `{"type":"reboot","sessionId":"s-1","panelId":"p-1","version":1}`, http.StatusUnprocessableEntity, "invalid type"},
		{"malformed", `{"type":`, http.StatusBadRequest, "Invalid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, nil)
			w := f.do(http.MethodPost, "/api/telemetry/state-change", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantError)
			assert.Empty(t, f.relayer.events)
			assert.Empty(t, f.hub.events)
		})
	}
}

func TestHandler_StateChange(t *testing.T) {
	f := newHandlerFixture(t, nil)
	body := `{"type":"param_change","sessionId":"s-1","panelId":"p-1","version":3,
		"cause":"operator","paramsTarget":{"brush_rpm":900}}`

	w := f.do(http.MethodPost, "/api/telemetry/state-change", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"relay":{"ok":true}}`, w.Body.String())

	require.Len(t, f.hub.events, 1)
	assert.Equal(t, models.EventTypeParamChange, f.hub.events[0].Type)
	assert.Equal(t, "s-1", f.hub.events[0].SessionID)
	assert.Equal(t, "p-1", f.hub.events[0].PanelID)

	require.Len(t, f.relayer.events, 1)
	evt := f.relayer.events[0]
	assert.Equal(t, 3, *evt.Version)
	assert.Equal(t, "operator", evt.Cause)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestHandler_StateChangeRelayFailure(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.relayer.resp = nil
	f.relayer.err = errors.New("connection refused")

	w := f.do(http.MethodPost, "/api/telemetry/state-change",
		`{"type":"state_change","sessionId":"s-1","panelId":"p-1","version":1,"next":{"mode":"cleaning"}}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"relay":{"ok":false,"error":"connection refused"}}`, w.Body.String())
	assert.Len(t, f.hub.events, 1)
}

func TestHandler_StateChangeRequiresOperatorToken(t *testing.T) {
	jm, err := auth.NewJWTManager("test-secret")
	require.NoError(t, err)
	f := newHandlerFixture(t, jm)
	body := `{"type":"state_change","sessionId":"s-1","panelId":"p-1","version":1}`

	w := f.do(http.MethodPost, "/api/telemetry/state-change", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.relayer.events)

	token, err := jm.GenerateToken(context.Background(), "alice", []string{auth.ScopeControl}, time.Hour)
	require.NoError(t, err)
	w = f.do(http.MethodPost, "/api/telemetry/state-change", body, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.relayer.events, 1)

	// telemetry ingest stays open for robots
	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/telemetry", `{"sessionId":"s-1"}`).Code)
}

func TestHandler_Health(t *testing.T) {
	f := newHandlerFixture(t, nil)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)

	w := f.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","prediction":true}`, w.Body.String())

	f.ai.healthy = false
	w = f.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","prediction":false}`, w.Body.String())
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/ready", "").Code)

	f.stateDB.err = errors.New("redis down")
	w = f.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "decision state backend unavailable")

	f.db.err = errors.New("connection refused")
	w = f.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database connection failed")

	w = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:5173/"}))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodPost, "http://localhost:5173", http.StatusOK, "http://localhost:5173"},
		{"allowed preflight", http.MethodOptions, "http://LOCALHOST:5173", http.StatusNoContent, "http://LOCALHOST:5173"},
		{"foreign origin gets no header", http.MethodPost, "http://evil.example", http.StatusOK, ""},
		{"foreign preflight", http.MethodOptions, "http://evil.example", http.StatusForbidden, ""},
		{"no origin", http.MethodPost, "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/x", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
