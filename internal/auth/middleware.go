package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/bizmatters/solar-fleet/control-service/internal/models"
)

var middlewareTracer = otel.Tracer("auth-middleware")

// ClaimsKey is the gin context key holding the verified claims
const ClaimsKey = "claims"

// RequireOperator is a Gin middleware that validates operator bearer tokens.
// A nil manager disables the check.
func RequireOperator(jwtManager *JWTManager, scope string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtManager == nil {
			c.Next()
			return
		}

		ctx, span := middlewareTracer.Start(c.Request.Context(), "auth.require_operator")
		defer span.End()

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			span.SetAttributes(attribute.Bool("auth.token_present", false))
			abort(c, http.StatusUnauthorized, "Missing or invalid authorization header")
			return
		}
		span.SetAttributes(attribute.Bool("auth.token_present", true))

		claims, err := jwtManager.ValidateToken(ctx, token)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.Bool("auth.token_valid", false))
			logger.Warn("invalid operator token", zap.Error(err), zap.String("path", c.Request.URL.Path))
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		span.SetAttributes(
			attribute.Bool("auth.token_valid", true),
			attribute.String("operator", claims.Operator),
		)

		if scope != "" && !claims.HasScope(scope) {
			logger.Warn("insufficient operator scope",
				zap.String("operator", claims.Operator),
				zap.String("required_scope", scope))
			abort(c, http.StatusForbidden, "Insufficient permissions")
			return
		}

		c.Set(ClaimsKey, claims)
		logger.Debug("operator authenticated",
			zap.String("operator", claims.Operator),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method))

		c.Next()
	}
}

// OperatorFrom returns the authenticated operator, if any
func OperatorFrom(c *gin.Context) string {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return ""
	}
	claims, ok := v.(*Claims)
	if !ok {
		return ""
	}
	return claims.Operator
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func abort(c *gin.Context, status int, message string) {
	code := models.ErrCodeUnauthorized
	if status == http.StatusForbidden {
		code = models.ErrCodeForbidden
	}
	c.AbortWithStatusJSON(status, models.ErrorResponse{Error: message, Code: code})
}
