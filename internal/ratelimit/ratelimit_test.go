package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testLimiter(cfg Config) (*Limiter, *time.Time) {
	l := New(cfg)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterAllow(t *testing.T) {
	l, now := testLimiter(Config{RequestsPerMinute: 60, BurstSize: 5})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("ip") {
			t.Errorf("request %d should be allowed (within burst)", i)
		}
	}
	if l.Allow("ip") {
		t.Error("request after burst should be denied")
	}

	// 60/min refills one token per second.
	*now = now.Add(time.Second)
	if !l.Allow("ip") {
		t.Error("request after refill should be allowed")
	}
	if l.Allow("ip") {
		t.Error("only one token should have refilled")
	}
}

func TestLimiterMultipleClients(t *testing.T) {
	l, _ := testLimiter(Config{RequestsPerMinute: 60, BurstSize: 2})
	defer l.Stop()

	l.Allow("a")
	l.Allow("a")
	if l.Allow("a") {
		t.Error("client a should be exhausted")
	}
	if !l.Allow("b") {
		t.Error("client b has its own bucket")
	}
}

func TestLimiterAllowNCost(t *testing.T) {
	l, now := testLimiter(Config{RequestsPerMinute: 60, BurstSize: 10})
	defer l.Stop()

	if ok, _ := l.AllowN("ip", 8); !ok {
		t.Fatal("first costly request should pass")
	}
	ok, wait := l.AllowN("ip", 8)
	if ok {
		t.Fatal("second costly request should be denied")
	}
	if wait != 6*time.Second {
		t.Errorf("wait = %v, want 6s", wait)
	}

	*now = now.Add(6 * time.Second)
	if ok, _ := l.AllowN("ip", 8); !ok {
		t.Error("request should pass once tokens refill")
	}

	// Costs above capacity are capped so the route is reachable at all.
	*now = now.Add(time.Minute)
	if ok, _ := l.AllowN("ip", 50); !ok {
		t.Error("oversized cost should be capped at burst size")
	}
}

func TestMiddlewareRouteCosts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := testLimiter(Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		RouteCosts:        map[string]float64{"/v1/batch/refresh": 10},
	})
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.POST("/v1/batch/refresh", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/scenarios", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("POST", "/v1/batch/refresh"); w.Code != http.StatusOK {
		t.Fatalf("batch = %d, want 200", w.Code)
	}
	w := do("GET", "/v1/scenarios")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("after batch = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "2" {
		t.Errorf("Retry-After = %q, want 2", w.Header().Get("Retry-After"))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 || cfg.BurstSize <= 0 || cfg.CleanupInterval <= 0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.RouteCosts["/v1/batch/refresh"] <= 1 {
		t.Error("batch refresh should cost more than one token")
	}
}

func TestStopIdempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}
