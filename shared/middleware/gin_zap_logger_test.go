package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRouter() (*gin.Engine, *observer.ObservedLogs) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	router := gin.New()
	router.Use(GinZapLogger(zap.New(core)))
	router.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, RequestID(c)) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	router.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router, logs
}

func TestGinZapLogger_LevelsByStatus(t *testing.T) {
	router, logs := newTestRouter()

	for path, level := range map[string]zapcore.Level{
		"/ok":   zapcore.InfoLevel,
		"/bad":  zapcore.WarnLevel,
		"/fail": zapcore.ErrorLevel,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		entries := logs.TakeAll()
		require.Len(t, entries, 1, path)
		assert.Equal(t, level, entries[0].Level, path)
		assert.Equal(t, path, entries[0].ContextMap()["path"])
	}
}

func TestGinZapLogger_SkipsHealth(t *testing.T) {
	router, logs := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, 0, logs.Len())
	assert.Empty(t, rec.Header().Get(RequestIDHeader))
}

func TestGinZapLogger_RequestID(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc-123", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	generated := rec.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, rec.Body.String())
}
