package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRequest(t *testing.T, inbound string) (string, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var seen string
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		seen = Value(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set(Header, inbound)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return seen, w
}

func TestAssignsIDWhenMissing(t *testing.T) {
	seen, w := runRequest(t, "")

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(Header))
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
}

func TestReusesInboundID(t *testing.T) {
	seen, w := runRequest(t, "upstream-id")

	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", w.Header().Get(Header))
}

func TestValueOutsideMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, Value(c))
}
