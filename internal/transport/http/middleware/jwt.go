package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"gopherai-analyst/internal/pkg/jwtutil"
	"gopherai-analyst/internal/transport/http/response"
)

const (
	ContextUserIDKey = "user_id"

	// UserIDHeader carries the caller identity when authentication is off.
	UserIDHeader = "X-User-ID"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Next()
	}
}

// TrustHeader takes the identity from UserIDHeader. Only for local use with
// authentication disabled; a missing header yields the empty identity.
func TrustHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextUserIDKey, strings.TrimSpace(c.GetHeader(UserIDHeader)))
		c.Next()
	}
}

// Authenticate picks AuthJWT or TrustHeader.
func Authenticate(enabled bool, secret string) gin.HandlerFunc {
	if enabled {
		return AuthJWT(secret)
	}
	return TrustHeader()
}

func UserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextUserIDKey)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
