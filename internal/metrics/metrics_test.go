package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{422, "4xx"},
		{500, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestAssessmentCounters(t *testing.T) {
	before := counterValue(t, AssessmentsTotal.WithLabelValues("high"))
	AssessmentsTotal.WithLabelValues("high").Inc()
	AssessmentsTotal.WithLabelValues("high").Inc()
	if got := counterValue(t, AssessmentsTotal.WithLabelValues("high")); got != before+2 {
		t.Errorf("assessments{tier=high} = %v, want %v", got, before+2)
	}

	before = counterValue(t, AlertTransitionsTotal.WithLabelValues("raised", "critical"))
	AlertTransitionsTotal.WithLabelValues("raised", "critical").Inc()
	if got := counterValue(t, AlertTransitionsTotal.WithLabelValues("raised", "critical")); got != before+1 {
		t.Errorf("alert transitions = %v, want %v", got, before+1)
	}
}

func TestActiveAlertsGauge(t *testing.T) {
	ActiveAlerts.Set(4)
	var m dto.Metric
	if err := ActiveAlerts.Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.GetGauge().GetValue() != 4 {
		t.Errorf("active alerts = %v, want 4", m.GetGauge().GetValue())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	PortfolioCallsTotal.WithLabelValues("ok").Inc()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{
		"riskscope_active_alerts",
		"riskscope_active_websocket_clients",
		"riskscope_portfolio_calls_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/entities/:id/trend", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	before := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/v1/entities/:id/trend", "2xx"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/entities/ent_1/trend", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	after := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/v1/entities/:id/trend", "2xx"))
	if after != before+1 {
		t.Errorf("requests counter = %v, want %v", after, before+1)
	}
}
