package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bizmatters/solar-fleet/control-service/internal/auth"
)

// RouterConfig collects everything the HTTP surface needs
type RouterConfig struct {
	Handler        *Handler
	Stream         *SessionStream
	JWTManager     *auth.JWTManager
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the gin engine with every route mounted
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(StructuredLogging(cfg.Logger))
	router.Use(CORS(cfg.AllowedOrigins))

	// Health checks stay at the root for probes
	router.GET("/health", cfg.Handler.Health)
	router.GET("/ready", cfg.Handler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/health", cfg.Handler.APIHealth)
	api.POST("/telemetry", cfg.Handler.IngestTelemetry)
	api.POST("/telemetry/state-change",
		auth.RequireOperator(cfg.JWTManager, auth.ScopeControl, cfg.Logger),
		cfg.Handler.StateChange)

	sessions := api.Group("/sessions")
	sessions.POST("/start", cfg.Handler.StartSession)
	sessions.POST("/:id/stop", cfg.Handler.StopSession)
	sessions.GET("/active", cfg.Handler.ActiveSessions)

	if cfg.Stream != nil {
		router.GET("/ws/sessions/:session_id", cfg.Stream.Stream)
	}

	return router
}

// StructuredLogging emits one log line per request
func StructuredLogging(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		if operator := auth.OperatorFrom(c); operator != "" {
			fields = append(fields, zap.String("operator", operator))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// CORS allows browser dashboards from the configured origins. An empty list allows any origin.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if len(allowed) > 0 && !allowed[strings.ToLower(strings.TrimSuffix(origin, "/"))] {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
