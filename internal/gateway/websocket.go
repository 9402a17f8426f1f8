package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SessionStream upgrades observers onto a session's event topic
type SessionStream struct {
	hub      *Hub
	tracer   trace.Tracer
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewSessionStream creates the websocket endpoint. An empty allowedOrigins accepts every origin.
func NewSessionStream(hub *Hub, allowedOrigins []string, logger *zap.Logger) *SessionStream {
	return &SessionStream{
		hub:    hub,
		tracer: otel.Tracer("session-stream"),
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(allowedOrigins),
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Stream handles WebSocket /ws/sessions/:session_id
func (s *SessionStream) Stream(c *gin.Context) {
	_, span := s.tracer.Start(c.Request.Context(), "session_stream.connect")
	defer span.End()

	sessionID := strings.TrimSpace(c.Param("session_id"))
	span.SetAttributes(attribute.String("session_id", sessionID))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to upgrade connection", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	o := s.hub.register(sessionID, conn)
	s.logger.Info("observer connected",
		zap.String("session_id", sessionID),
		zap.String("remote", c.ClientIP()))

	go s.hub.writePump(o)
	s.hub.readPump(o)

	s.logger.Info("observer disconnected", zap.String("session_id", sessionID))
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}
