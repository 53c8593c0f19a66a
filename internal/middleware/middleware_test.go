package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func router(t *testing.T) (*gin.Engine, *prometheus.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()

	r := gin.New()
	r.Use(Recovery())
	r.Use(NewRequestLogger().Handler())
	promMw := NewPrometheusMiddleware("test", registry)
	r.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(r, registry)

	r.GET("/ok", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/error", func(c *gin.Context) { c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"}) })
	r.GET("/panic", func(c *gin.Context) { panic("broken handler") })
	return r, registry
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestPrometheusMiddleware_BasicMetrics(t *testing.T) {
	r, registry := router(t)

	assert.Equal(t, http.StatusOK, serve(r, "/ok").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(r, "/error").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, "/nowhere").Code)

	families, err := registry.Gather()
	require.NoError(t, err)

	var durationFound, errorsFound bool
	for _, mf := range families {
		switch mf.GetName() {
		case "test_rest_http_request_duration_seconds":
			durationFound = true
			assert.Equal(t, "Длительность HTTP-запросов.", mf.GetHelp())
			assert.Len(t, mf.Metric, 3)
		case "test_rest_http_request_errors_total":
			errorsFound = true
			assert.Len(t, mf.Metric, 2, "500 and the unmatched 404")
		case "test_rest_http_requests_inflight":
			assert.Zero(t, mf.Metric[0].GetGauge().GetValue())
		}
	}
	assert.True(t, durationFound, "duration metric not found")
	assert.True(t, errorsFound, "errors metric not found")
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := router(t)
	serve(r, "/ok")

	w := serve(r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_rest_http_request_duration_seconds_count{method="GET",path="/ok",status="200"} 1`)
}

func TestRecoveryAndTraceHeader(t *testing.T) {
	r, _ := router(t)

	w := serve(r, "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Внутренняя ошибка сервера"}`, w.Body.String())

	w = serve(r, "/ok")
	assert.Len(t, w.Header().Get("X-Trace-Id"), 36, "uuid trace id without an otel span")
}
