package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type PrincipalSource interface {
	FromRequest(r *http.Request) (string, bool)
}

// Stores the authenticated principal, if any, for the rate limiter to key on.
// Requests without a valid token pass through untouched.
func Principal(source PrincipalSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal, ok := source.FromRequest(c.Request); ok {
			c.Set(PrincipalKey, principal)
		}

		c.Next()
	}
}

// The rate limiting key: the principal when one was resolved, else the client
// address
func CallerKey(c *gin.Context) string {
	if principal := c.GetString(PrincipalKey); principal != "" {
		return principal
	}
	return c.ClientIP()
}
