package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const identityHeader = "X-User-ID"

// Identity resolves the acting user from the X-User-ID header, falling back
// to the userId query parameter for EventSource and beacon clients that
// cannot set headers. The gateway in front of this service has already
// authenticated the request; this layer only needs the identity.
func Identity(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(identityHeader)
		if userID == "" {
			userID = c.Query("userId")
		}
		if userID == "" && required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}
