package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// userCtxKey is the Gin context key used to store the authenticated user ID.
const userCtxKey = "user_id"

// BearerToken extracts the caller credential from the request. It accepts
// "Authorization: Bearer <token>" and, for API-key clients, "X-API-Key".
func BearerToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// Middleware resolves the caller to a user ID and aborts with 401 otherwise.
func Middleware(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userID, err := v.Verify(c.Request.Context(), token)
		if err != nil || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userCtxKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user ID from the request context.
func UserID(c *gin.Context) string {
	v, _ := c.Get(userCtxKey)
	s, _ := v.(string)
	return s
}
