package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	r.GET("/", ok)
	r.POST("/", ok)
	return r
}

func do(r http.Handler, method, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitPerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2, zap.NewNop())
	defer rl.Shutdown()
	r := newRouter(rl.RateLimit())

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "", "").Code)

	w := do(r, http.MethodGet, "", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	other := httptest.NewRecorder()
	r.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)

	assert.Equal(t, 2, rl.GetGlobalStats()["active_clients"])
	rl.Shutdown()
}

func TestInputValidation(t *testing.T) {
	r := newRouter(InputValidation())

	for _, ct := range []string{
		"application/json",
		"application/msgpack",
		"multipart/form-data; boundary=xyz",
	} {
		assert.Equal(t, http.StatusOK, do(r, http.MethodPost, ct, "{}").Code, ct)
	}
	assert.Equal(t, http.StatusUnsupportedMediaType, do(r, http.MethodPost, "text/plain", "x").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "", "").Code)
}

func TestRequestSizeLimit(t *testing.T) {
	r := newRouter(RequestSizeLimit(4))

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "application/json", "{}").Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, do(r, http.MethodPost, "application/json", `{"a":1}`).Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(CORS([]string{"https://coach.example"}))
	r.OPTIONS("/", func(c *gin.Context) {})

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://coach.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://coach.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "null", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestTimeoutHandler(t *testing.T) {
	r := gin.New()
	r.Use(TimeoutHandler(20 * time.Millisecond))
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), "Request timeout")
}

func TestSecurityHeaders(t *testing.T) {
	w := do(newRouter(SecurityHeaders()), http.MethodGet, "", "")
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
