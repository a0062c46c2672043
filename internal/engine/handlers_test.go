package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Engine, *StaticSource) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	src := NewStaticSource()
	e, _ := newTestEngine(t, WithDataSource(src))
	r := gin.New()
	NewHandler(e).RegisterRoutes(r.Group("/v1"))
	return r, e, src
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func metricsBody(score float64) string {
	raw, _ := json.Marshal(AssessRequest{Metrics: uniformMetrics(score)})
	return string(raw)
}

func TestHandler_Assess(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, "POST", "/v1/entities/acme/assess", metricsBody(0.85))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Assessment struct {
			Profile struct {
				EntityID string  `json:"entityId"`
				Overall  float64 `json:"overall"`
				Tier     string  `json:"tier"`
				Scored   bool    `json:"scored"`
			} `json:"profile"`
			Trend struct {
				Label  string `json:"label"`
				Points int    `json:"points"`
			} `json:"trend"`
			Alerts []json.RawMessage `json:"alerts"`
		} `json:"assessment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	p := body.Assessment.Profile
	assert.Equal(t, "acme", p.EntityID)
	assert.InDelta(t, 0.85, p.Overall, 1e-9)
	assert.Equal(t, "low", p.Tier)
	assert.True(t, p.Scored)
	assert.Equal(t, "stable", body.Assessment.Trend.Label)
	assert.Equal(t, 1, body.Assessment.Trend.Points)
	assert.Empty(t, body.Assessment.Alerts)
}

func TestHandler_AssessBadBody(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(r, "POST", "/v1/entities/acme/assess", `{"metrics": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_AssessInsufficientData(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(r, "POST", "/v1/entities/acme/assess", `{"metrics": []}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_data", body["error"])
	assert.NotNil(t, body["assessment"])
}

func TestHandler_Refresh(t *testing.T) {
	r, _, src := newTestRouter(t)
	require.NoError(t, src.RecordMetrics(context.Background(), "acme", uniformMetrics(0.7)))

	w := doJSON(r, "POST", "/v1/entities/acme/refresh", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, "POST", "/v1/entities/ghost/refresh", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "entity_not_found")
}

func TestHandler_Trend(t *testing.T) {
	r, _, _ := newTestRouter(t)
	for _, s := range []float64{0.5, 0.6, 0.7, 0.8} {
		w := doJSON(r, "POST", "/v1/entities/acme/assess", metricsBody(s))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(r, "GET", "/v1/entities/acme/trend?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Trend struct {
			Label string `json:"label"`
		} `json:"trend"`
		History []struct {
			Overall float64 `json:"overall"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "improving", body.Trend.Label)
	require.Len(t, body.History, 2)
	assert.InDelta(t, 0.8, body.History[1].Overall, 1e-9)
}

func TestHandler_TailRisk(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(r, "GET", "/v1/entities/acme/tail-risk", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient_history")

	for i := 0; i < 10; i++ {
		s := 0.6 + 0.02*float64(i%3)
		w := doJSON(r, "POST", "/v1/entities/acme/assess", metricsBody(s))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w = doJSON(r, "GET", "/v1/entities/acme/tail-risk", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		TailRisk struct {
			Observations int  `json:"observations"`
			Reliable     bool `json:"reliable"`
		} `json:"tailRisk"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 10, body.TailRisk.Observations)
	assert.True(t, body.TailRisk.Reliable)
}

func TestHandler_Stress(t *testing.T) {
	r, e, _ := newTestRouter(t)

	w := doJSON(r, "POST", "/v1/entities/acme/stress", `{"exposure": 1000}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, "POST", "/v1/entities/acme/assess", metricsBody(0.6))
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, "POST", "/v1/entities/acme/stress", `{"exposure": -1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, "POST", "/v1/entities/acme/stress", `{"exposure": 1000}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		LibraryVersion string            `json:"libraryVersion"`
		Results        []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, e.Library().Version, body.LibraryVersion)
	assert.Len(t, body.Results, len(e.Library().Scenarios))
}

func TestHandler_Alerts(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, "POST", "/v1/entities/acme/assess", metricsBody(0.3))
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, "GET", "/v1/entities/acme/alerts?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)

	type alertsPage struct {
		Alerts []struct {
			ID       string `json:"id"`
			EntityID string `json:"entityId"`
			Active   bool   `json:"active"`
		} `json:"alerts"`
		Count      int    `json:"count"`
		NextCursor string `json:"nextCursor"`
		HasMore    bool   `json:"hasMore"`
	}
	var body alertsPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)
	assert.True(t, body.HasMore)
	for _, a := range body.Alerts {
		assert.Equal(t, "acme", a.EntityID)
		assert.True(t, a.Active)
	}

	// Walk the remaining pages; 7 alerts in total, no repeats.
	seen := map[string]bool{}
	for _, a := range body.Alerts {
		seen[a.ID] = true
	}
	for body.HasMore {
		w = doJSON(r, "GET", "/v1/entities/acme/alerts?limit=3&cursor="+body.NextCursor, "")
		require.Equal(t, http.StatusOK, w.Code)
		body = alertsPage{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		for _, a := range body.Alerts {
			assert.False(t, seen[a.ID], "alert %s repeated", a.ID)
			seen[a.ID] = true
		}
	}
	assert.Len(t, seen, 7)

	w = doJSON(r, "GET", "/v1/entities/acme/alerts?cursor=!!!", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Portfolio(t *testing.T) {
	r, _, _ := newTestRouter(t)
	for _, id := range []string{"acme", "globex"} {
		w := doJSON(r, "POST", fmt.Sprintf("/v1/entities/%s/assess", id), metricsBody(0.75))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(r, "POST", "/v1/portfolio/risk", `{
		"positions": [
			{"entityId": "acme", "exposure": "250.00"},
			{"entityId": "globex", "exposure": 750},
			{"entityId": "initech", "exposure": "0"}
		]
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Portfolio struct {
			TotalExposure    string   `json:"totalExposure"`
			Score            float64  `json:"score"`
			Partial          bool     `json:"partial"`
			DegradedEntities []string `json:"degradedEntities"`
			Entities         []struct {
				Weight float64 `json:"weight"`
			} `json:"entities"`
		} `json:"portfolio"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "1000", body.Portfolio.TotalExposure)
	assert.InDelta(t, 0.75, body.Portfolio.Score, 1e-9)
	assert.True(t, body.Portfolio.Partial)
	assert.Equal(t, []string{"initech"}, body.Portfolio.DegradedEntities)
	require.Len(t, body.Portfolio.Entities, 3)
	assert.InDelta(t, 0.25, body.Portfolio.Entities[0].Weight, 1e-9)
}

func TestHandler_PortfolioInvalid(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, "POST", "/v1/portfolio/risk", `{"positions": []}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(r, "POST", "/v1/portfolio/risk", `{"positions": [{"entityId": "acme", "exposure": -10}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_portfolio")

	w = doJSON(r, "POST", "/v1/portfolio/risk", `{"positions": [{"entityId": "acme", "exposure": 10}], "correlation": [[1, 0], [0, 1]]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(r, "POST", "/v1/portfolio/risk", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, "POST", "/v1/portfolio/risk", `{"positions": [{"entityId": "bad/id", "exposure": 10}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "positions.entityId[0]")
}

func TestHandler_PortfolioRefresh(t *testing.T) {
	r, _, src := newTestRouter(t)
	require.NoError(t, src.RecordMetrics(context.Background(), "acme", uniformMetrics(0.9)))

	w := doJSON(r, "POST", "/v1/portfolio/risk", `{
		"positions": [{"entityId": "acme", "exposure": 100}],
		"refresh": true
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"partial":false`)
}

func TestHandler_BatchRefresh(t *testing.T) {
	r, _, src := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, src.RecordMetrics(ctx, "acme", uniformMetrics(0.9)))
	require.NoError(t, src.RecordMetrics(ctx, "globex", uniformMetrics(0.4)))

	w := doJSON(r, "POST", "/v1/batch/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	w = doJSON(r, "POST", "/v1/batch/refresh", `{"entityIds": ["globex", "ghost"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestHandler_Scenarios(t *testing.T) {
	r, e, _ := newTestRouter(t)
	w := doJSON(r, "GET", "/v1/scenarios", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), e.Library().Version)
}
