package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// callerCtxKey is the Gin context key used to store the authenticated caller identity.
const callerCtxKey = "caller_id"

// CallerMiddleware resolves the caller from "Authorization: Bearer <token>".
//
// Token verification happens upstream. With configured keys the token is
// mapped to its caller name (apiKey -> caller); with none, the token itself
// is taken as the already-validated identity assertion.
func CallerMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		caller := token
		if len(keys) > 0 {
			var ok bool
			if caller, ok = keys[token]; !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
		}
		c.Set(callerCtxKey, caller)
		c.Next()
	}
}

// Caller returns the authenticated caller identity from the request context.
func Caller(c *gin.Context) string {
	v, _ := c.Get(callerCtxKey)
	s, _ := v.(string)
	return s
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
