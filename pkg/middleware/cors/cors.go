package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// The API surface only ever sees these; anything wider invites browsers to
// send headers no handler reads.
const (
	allowedHeaders = "Authorization, Content-Type, X-Request-ID"
	allowedMethods = "GET, POST, OPTIONS"
)

// New builds CORS middleware for the configured origins. An empty list
// reflects any origin; credentials are only granted to listed origins.
func New(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Add("Vary", "Origin")

		if origin := c.GetHeader("Origin"); origin != "" {
			if len(allowed) == 0 {
				h.Set("Access-Control-Allow-Origin", origin)
			} else if _, ok := allowed[strings.TrimRight(origin, "/")]; ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		h.Set("Access-Control-Allow-Headers", allowedHeaders)
		h.Set("Access-Control-Allow-Methods", allowedMethods)
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
