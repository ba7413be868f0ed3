package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/split-connect/split-backend/internal/telemetry"
)

// readMetric finds the series of c matching labels. ok is false when the
// series has not been observed yet.
func readMetric(c prometheus.Collector, labels prometheus.Labels) (m *dto.Metric, ok bool) {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	for pm := range ch {
		var dm dto.Metric
		if err := pm.Write(&dm); err != nil {
			continue
		}
		match := true
		for k, want := range labels {
			found := false
			for _, lp := range dm.GetLabel() {
				if lp.GetName() == k && lp.GetValue() == want {
					found = true
					break
				}
			}
			if !found {
				match = false
				break
			}
		}
		if match {
			return &dm, true
		}
	}
	return nil, false
}

func counterValue(cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	if m, ok := readMetric(cv, labels); ok {
		return m.GetCounter().GetValue()
	}
	return 0
}

func histogramCount(hv *prometheus.HistogramVec, labels prometheus.Labels) uint64 {
	if m, ok := readMetric(hv, labels); ok {
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.POST("/split/:op", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	labels := prometheus.Labels{"method": "POST", "path": "/split/:op", "status": "400"}
	before := counterValue(telemetry.HTTPRequestsTotal, labels)
	beforeHist := histogramCount(telemetry.HTTPRequestDuration, prometheus.Labels{"method": "POST", "path": "/split/:op"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/split/account_status", nil))

	if got := counterValue(telemetry.HTTPRequestsTotal, labels); got != before+1 {
		t.Errorf("http_requests_total = %v, want %v", got, before+1)
	}
	if got := histogramCount(telemetry.HTTPRequestDuration, prometheus.Labels{"method": "POST", "path": "/split/:op"}); got != beforeHist+1 {
		t.Errorf("http_request_duration_seconds count = %d, want %d", got, beforeHist+1)
	}
}

func TestMetricsMiddleware_UnmatchedRoute(t *testing.T) {
	r := gin.New()
	r.Use(MetricsMiddleware())

	labels := prometheus.Labels{"method": "GET", "path": unmatchedRoute, "status": "404"}
	before := counterValue(telemetry.HTTPRequestsTotal, labels)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope/abc123", nil))

	if got := counterValue(telemetry.HTTPRequestsTotal, labels); got != before+1 {
		t.Errorf("unmatched counter = %v, want %v", got, before+1)
	}
	if _, ok := readMetric(telemetry.HTTPRequestsTotal, prometheus.Labels{"path": "/nope/abc123"}); ok {
		t.Error("raw path leaked into the path label")
	}
}
