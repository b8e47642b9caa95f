package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisbze/molaison-ai-backend/logging"
	"github.com/chrisbze/molaison-ai-backend/requestid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestErrorHandler(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestID(), ErrorHandler(zerolog.New(&buf)))
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := serve(r, http.MethodGet, "/boom", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"An unexpected error occurred"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "kaboom")
	assert.Contains(t, buf.String(), "kaboom")
	assert.Contains(t, buf.String(), w.Header().Get(RequestIDHeader))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.Use(rl.RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	fromA := http.Header{"X-Forwarded-For": {"10.0.0.1"}}
	fromB := http.Header{"X-Forwarded-For": {"10.0.0.2"}}

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", fromA).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", fromA).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/", fromA).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", fromB).Code, "buckets are per IP")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", fromA).Code, "refilled after one second")
}

func TestRateLimiter_PrunesIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.allow("10.0.0.1")
	now = now.Add(time.Hour)
	rl.allow("10.0.0.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.clients, 1)
	assert.Contains(t, rl.clients, "10.0.0.2")
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		assert.Equal(t, RequestIDFrom(c), requestid.FromContext(c.Request.Context()))
		c.String(http.StatusOK, RequestIDFrom(c))
	})

	w := serve(r, http.MethodGet, "/", nil)
	id := w.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)
	assert.Equal(t, id, w.Body.String())

	w = serve(r, http.MethodGet, "/", http.Header{RequestIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestID(), RequestLogger(zerolog.New(&buf)))
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	serve(r, http.MethodGet, "/missing", http.Header{RequestIDHeader: {"req-1"}})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/missing", entry["path"])
	assert.EqualValues(t, 404, entry["status"])
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.POST("/api/analyze", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodOptions, "/api/analyze", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodPost, "/api/analyze", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestStats(t *testing.T) {
	stats := logging.NewStatistics(true)
	r := gin.New()
	r.Use(Stats(stats))
	r.GET("/api/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/ok", func(c *gin.Context) {
		MarkAnalysis(c, "https://example.com/page", false)
		c.Status(http.StatusOK)
	})
	r.POST("/degraded", func(c *gin.Context) {
		MarkAnalysis(c, "https://down.example/", true)
		c.Status(http.StatusOK)
	})

	serve(r, http.MethodGet, "/api/health", http.Header{"X-Forwarded-For": {"10.0.0.1"}})
	serve(r, http.MethodPost, "/ok", http.Header{"X-Forwarded-For": {"10.0.0.2"}})
	serve(r, http.MethodPost, "/degraded", http.Header{"X-Forwarded-For": {"10.0.0.2"}})

	snap := stats.Snapshot()
	assert.Equal(t, 2, snap.UniqueVisitors24h)
	assert.Equal(t, 2, snap.TotalRequests)
	assert.InDelta(t, 50.0, snap.ErrorRate, 0.001)
	assert.Len(t, snap.PopularURLs, 2)
}
