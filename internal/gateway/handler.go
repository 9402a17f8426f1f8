package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bizmatters/solar-fleet/control-service/internal/auth"
	"github.com/bizmatters/solar-fleet/control-service/internal/models"
	"github.com/bizmatters/solar-fleet/control-service/internal/relay"
	"github.com/bizmatters/solar-fleet/control-service/internal/store"
	"github.com/bizmatters/solar-fleet/control-service/internal/telemetry"
)

// Ingester accepts telemetry frames
type Ingester interface {
	ProcessReading(ctx context.Context, reading models.TelemetryReading) (models.TelemetryReading, error)
}

// StateForgetter drops the decision state of an ended session
type StateForgetter interface {
	Forget(ctx context.Context, sessionID string) error
}

// Pinger reports backing store readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports whether a downstream service answers
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

var operatorEventTypes = map[string]bool{
	models.EventTypeStateChange:     true,
	models.EventTypeParamChange:     true,
	models.EventTypeParamChangeBulk: true,
}

// HandlerDeps are the collaborators of the HTTP handlers.
// StateBackend is only set when decision state lives outside the process.
type HandlerDeps struct {
	Ingester     Ingester
	Sessions     store.SessionRepository
	Relayer      relay.Relayer
	Hub          telemetry.Broadcaster
	States       StateForgetter
	DB           Pinger
	StateBackend Pinger
	Prediction   HealthChecker
}

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	ingester   Ingester
	sessions   store.SessionRepository
	relayer    relay.Relayer
	hub        telemetry.Broadcaster
	states     StateForgetter
	db         Pinger
	stateDB    Pinger
	prediction HealthChecker
	logger     *zap.Logger
}

// NewHandler creates a new gateway handler
func NewHandler(deps HandlerDeps, logger *zap.Logger) *Handler {
	return &Handler{
		ingester:   deps.Ingester,
		sessions:   deps.Sessions,
		relayer:    deps.Relayer,
		hub:        deps.Hub,
		states:     deps.States,
		db:         deps.DB,
		stateDB:    deps.StateBackend,
		prediction: deps.Prediction,
		logger:     logger,
	}
}

// IngestTelemetry accepts a frame and always answers 202 once it parses.
func (h *Handler) IngestTelemetry(c *gin.Context) {
	var reading models.TelemetryReading
	if err := c.ShouldBindJSON(&reading); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Invalid telemetry frame",
			Code:  models.ErrCodeInvalidRequest,
		})
		return
	}

	if _, err := h.ingester.ProcessReading(c.Request.Context(), reading); err != nil {
		h.logger.Error("error saving telemetry",
			zap.String("session_id", reading.SessionID),
			zap.String("panel_id", reading.PanelID),
			zap.Error(err))
	}

	c.Status(http.StatusAccepted)
}

// StartSession opens a session, generating an id when none is supplied
func (h *Handler) StartSession(c *gin.Context) {
	var req models.SessionStartRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Invalid request",
			Code:  models.ErrCodeInvalidRequest,
		})
		return
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.New().String()
	}

	session, err := h.sessions.Start(c.Request.Context(), models.Session{
		ID:        id,
		PanelID:   req.PanelID,
		StartTime: time.Now().UTC(),
		Status:    models.SessionStatusActive,
	})
	if err != nil {
		h.logger.Error("failed to start session", zap.String("session_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "Failed to start session",
			Code:  models.ErrCodeInternalError,
		})
		return
	}

	h.logger.Info("session started", zap.String("session_id", session.ID), zap.String("panel_id", session.PanelID))
	c.JSON(http.StatusOK, models.SessionStartResponse{
		SessionID: session.ID,
		PanelID:   session.PanelID,
		StartTime: session.StartTime,
	})
}

// StopSession ends a session and forgets its previous decision
func (h *Handler) StopSession(c *gin.Context) {
	id := c.Param("id")

	session, err := h.sessions.Stop(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "Session not found",
			Code:  models.ErrCodeNotFound,
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to stop session", zap.String("session_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "Failed to stop session",
			Code:  models.ErrCodeInternalError,
		})
		return
	}

	if err := h.states.Forget(c.Request.Context(), id); err != nil {
		h.logger.Warn("failed to drop decision state", zap.String("session_id", id), zap.Error(err))
	}

	c.JSON(http.StatusOK, session)
}

// ActiveSessions lists sessions that have not been stopped
func (h *Handler) ActiveSessions(c *gin.Context) {
	sessions, err := h.sessions.Active(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "Failed to list sessions",
			Code:  models.ErrCodeInternalError,
		})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// StateChange forwards an operator event to observers and the simulator.
// Relay failures are reported inside the relay field, not as an HTTP error.
func (h *Handler) StateChange(c *gin.Context) {
	var evt models.StateChangeEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Invalid request",
			Code:  models.ErrCodeInvalidRequest,
		})
		return
	}

	if evt.Type == "" || evt.SessionID == "" || evt.PanelID == "" || evt.Version == nil {
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
			Error: "type, sessionId, panelId, version are required",
			Code:  models.ErrCodeValidationFailed,
		})
		return
	}
	if !operatorEventTypes[evt.Type] {
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:   "invalid type",
			Code:    models.ErrCodeValidationFailed,
			Details: map[string]string{"type": evt.Type},
		})
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	h.hub.Broadcast(models.RuntimeEvent{
		Type:      evt.Type,
		SessionID: evt.SessionID,
		PanelID:   evt.PanelID,
		Payload:   evt,
		Timestamp: time.Now().UTC(),
	})

	log := h.logger.With(
		zap.String("session_id", evt.SessionID),
		zap.String("type", evt.Type),
		zap.String("operator", auth.OperatorFrom(c)))

	resp, err := h.relayer.Relay(c.Request.Context(), evt)
	if err != nil {
		log.Warn("relay to simulator failed", zap.Error(err))
		resp = map[string]interface{}{"ok": false, "error": err.Error()}
	} else {
		log.Info("relayed to simulator")
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "relay": resp})
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// APIHealth reports liveness plus the reachability of the prediction service.
// An unreachable model degrades decisions but does not make the service unhealthy.
func (h *Handler) APIHealth(c *gin.Context) {
	resp := gin.H{"status": "healthy"}
	if h.prediction != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		resp["prediction"] = h.prediction.IsHealthy(ctx)
	}
	c.JSON(http.StatusOK, resp)
}

// Ready reports readiness, which requires the database and any external state backend
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "database connection failed",
			})
			return
		}
	}
	if h.stateDB != nil {
		if err := h.stateDB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "decision state backend unavailable",
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
