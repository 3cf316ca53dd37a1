package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gopherai-analyst/internal/transport/http/response"
)

// AdminPolicy accepts the listed identities and, when minTier is positive,
// every user whose tier reaches it.
func AdminPolicy(admins []string, tierOf func(userID string) int, minTier int) func(userID string) bool {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		if key := strings.ToLower(strings.TrimSpace(a)); key != "" {
			set[key] = struct{}{}
		}
	}
	return func(userID string) bool {
		key := strings.ToLower(strings.TrimSpace(userID))
		if key == "" {
			return false
		}
		if _, ok := set[key]; ok {
			return true
		}
		return minTier > 0 && tierOf != nil && tierOf(userID) >= minTier
	}
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(isAdmin func(userID string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok || !isAdmin(userID) {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "admin access required")
			return
		}
		c.Next()
	}
}
