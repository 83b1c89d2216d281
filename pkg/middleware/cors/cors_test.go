package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRequest(t *testing.T, origins []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(New(origins))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAllowsListedOrigin(t *testing.T) {
	w := runRequest(t, []string{"https://app.example.com/"}, http.MethodGet, "https://app.example.com")

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, allowedHeaders, w.Header().Get("Access-Control-Allow-Headers"))
}

func TestIgnoresUnlistedOrigin(t *testing.T) {
	w := runRequest(t, []string{"https://app.example.com"}, http.MethodGet, "https://evil.example.com")

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestReflectsAnyOriginWhenUnconfigured(t *testing.T) {
	w := runRequest(t, nil, http.MethodGet, "https://anything.example.com")

	assert.Equal(t, "https://anything.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestPreflightShortCircuits(t *testing.T) {
	w := runRequest(t, []string{"https://app.example.com"}, http.MethodOptions, "https://app.example.com")

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, allowedMethods, w.Header().Get("Access-Control-Allow-Methods"))
}
