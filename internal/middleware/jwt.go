package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskora/taskora-api/internal/token"
	appErrors "github.com/taskora/taskora-api/pkg/errors"
	"github.com/taskora/taskora-api/pkg/response"
)

// ContextClaimsKey is the gin context key storing verified access claims.
const ContextClaimsKey = "currentClaims"

// Auth protects routes by requiring a valid bearer access credential.
// Missing, malformed, badly signed and expired tokens all produce the same
// INVALID_TOKEN response; requests never reach the handler on failure.
func Auth(verifier *token.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrInvalidToken, ""))
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrInvalidToken, ""))
			c.Abort()
			return
		}

		claims, err := verifier.Verify(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFromContext returns the verified claims stored by Auth, if any.
func ClaimsFromContext(c *gin.Context) *token.Claims {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*token.Claims)
	if !ok {
		return nil
	}
	return claims
}
