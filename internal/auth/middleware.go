package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

type ctxKey int

const (
	ctxSubscriberID ctxKey = iota
	ctxRole
)

func WithIdentity(ctx context.Context, subscriberID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxSubscriberID, subscriberID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func SubscriberID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxSubscriberID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("subscriber_id not in context")
}

func Role(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxRole).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// RequireAccessToken verifies the bearer token and injects identity into the
// request context.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.SubscriberID, claims.Role)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("subscriber_id", claims.SubscriberID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// RequireAdmin gates the operational endpoints (office poll triggers, credit
// grants). Chain after RequireAccessToken.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := Role(c.Request.Context())
		if err != nil || role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
