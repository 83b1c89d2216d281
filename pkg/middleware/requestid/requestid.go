package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the request ID on both requests and responses.
const Header = "X-Request-ID"

const contextKey = "request_id"

// Middleware tags every request with an ID, reusing the caller's when one is
// supplied so IDs stay stable across hops.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(contextKey, id)
		c.Header(Header, id)
		c.Next()
	}
}

// Value returns the request ID assigned by Middleware, or "" outside of it.
func Value(c *gin.Context) string {
	v, _ := c.Get(contextKey)
	id, _ := v.(string)
	return id
}
