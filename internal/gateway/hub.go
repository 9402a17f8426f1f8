package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bizmatters/solar-fleet/control-service/internal/metrics"
	"github.com/bizmatters/solar-fleet/control-service/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Hub fans runtime events out to the observers of each session
type Hub struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]map[*observer]struct{}
}

type observer struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[string]map[*observer]struct{}),
	}
}

// Broadcast delivers evt to every observer of evt.SessionID.
// An observer whose send buffer is full is dropped instead of blocking the caller.
func (h *Hub) Broadcast(evt models.RuntimeEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	msg, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to encode runtime event", zap.String("type", evt.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*observer
	for o := range h.sessions[evt.SessionID] {
		select {
		case o.send <- msg:
		default:
			slow = append(slow, o)
		}
	}
	h.mu.RUnlock()

	for _, o := range slow {
		h.logger.Warn("dropping slow observer", zap.String("session_id", o.sessionID))
		metrics.WebSocketDropped.Inc()
		h.unregister(o)
	}
}

// Observers counts the observers of a session
func (h *Hub) Observers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Close disconnects every observer
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*observer
	for _, set := range h.sessions {
		for o := range set {
			all = append(all, o)
		}
	}
	h.mu.RUnlock()
	for _, o := range all {
		h.unregister(o)
	}
}

func (h *Hub) register(sessionID string, conn *websocket.Conn) *observer {
	o := &observer{sessionID: sessionID, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	set, ok := h.sessions[sessionID]
	if !ok {
		set = make(map[*observer]struct{})
		h.sessions[sessionID] = set
	}
	set[o] = struct{}{}
	h.mu.Unlock()
	metrics.WebSocketClients.Inc()
	return o
}

func (h *Hub) unregister(o *observer) {
	o.closeOnce.Do(func() {
		h.mu.Lock()
		if set, ok := h.sessions[o.sessionID]; ok {
			delete(set, o)
			if len(set) == 0 {
				delete(h.sessions, o.sessionID)
			}
		}
		h.mu.Unlock()
		close(o.send)
		metrics.WebSocketClients.Dec()
	})
}

// writePump owns all writes to the connection
func (h *Hub) writePump(o *observer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		o.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-o.send:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				o.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := o.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("observer write failed", zap.String("session_id", o.sessionID), zap.Error(err))
				h.unregister(o)
				return
			}
		case <-ticker.C:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(o)
				return
			}
		}
	}
}

// readPump discards client messages and notices disconnects
func (h *Hub) readPump(o *observer) {
	defer h.unregister(o)

	o.conn.SetReadLimit(4096)
	o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("observer read error", zap.String("session_id", o.sessionID), zap.Error(err))
			}
			return
		}
	}
}
