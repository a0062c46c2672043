package engine

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/riskscope/internal/alerts"
	"github.com/mbd888/riskscope/internal/logging"
	"github.com/mbd888/riskscope/internal/pagination"
	"github.com/mbd888/riskscope/internal/portfolio"
	"github.com/mbd888/riskscope/internal/risk"
	"github.com/mbd888/riskscope/internal/stress"
	"github.com/mbd888/riskscope/internal/tailrisk"
	"github.com/mbd888/riskscope/internal/trend"
	"github.com/mbd888/riskscope/internal/validation"
)

const (
	maxBatchEntities   = 500
	maxPortfolioSize   = 500
	defaultAlertsLimit = 100
	maxAlertsLimit     = 1000
)

// Handler provides HTTP endpoints for the risk engine.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new risk handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up risk endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/entities/:id/assess", h.Assess)
	r.POST("/entities/:id/refresh", h.Refresh)
	r.GET("/entities/:id/trend", h.GetTrend)
	r.GET("/entities/:id/tail-risk", h.GetTailRisk)
	r.POST("/entities/:id/stress", h.RunStress)
	r.GET("/entities/:id/alerts", h.ListAlerts)
	r.POST("/portfolio/risk", h.PortfolioRisk)
	r.POST("/batch/refresh", h.BatchRefresh)
	r.GET("/scenarios", h.ListScenarios)
}

// AssessRequest is the body of POST /v1/entities/:id/assess.
type AssessRequest struct {
	Metrics []risk.Metric      `json:"metrics"`
	Weights map[string]float64 `json:"weights,omitempty"`
}

// Assess scores submitted metrics and runs the full assessment cycle.
// POST /v1/entities/:id/assess
func (h *Handler) Assess(c *gin.Context) {
	entityID := entityParam(c)
	var req AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain a 'metrics' array",
		})
		return
	}

	a, err := h.engine.AssessWithWeights(c.Request.Context(), entityID, req.Metrics, req.Weights)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !a.Profile.Scored {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "insufficient_data",
			"message":    "No risk category had usable metrics",
			"assessment": a,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// Refresh fetches metrics from the data source and assesses them.
// POST /v1/entities/:id/refresh
func (h *Handler) Refresh(c *gin.Context) {
	a, err := h.engine.Refresh(c.Request.Context(), entityParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// GetTrend returns the trend classification and recent history.
// GET /v1/entities/:id/trend?window=10&limit=50
func (h *Handler) GetTrend(c *gin.Context) {
	entityID := entityParam(c)
	window := queryInt(c, "window", 0)
	limit := queryInt(c, "limit", 50)

	cls, err := h.engine.ClassifyTrend(c.Request.Context(), entityID, window)
	if err != nil {
		h.fail(c, err)
		return
	}
	history, err := h.engine.History(c.Request.Context(), entityID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if history == nil {
		history = []trend.Point{}
	}
	c.JSON(http.StatusOK, gin.H{"trend": cls, "history": history})
}

// GetTailRisk returns VaR, expected shortfall and drawdown from history.
// GET /v1/entities/:id/tail-risk?window=60&reference=benchmark
func (h *Handler) GetTailRisk(c *gin.Context) {
	entityID := entityParam(c)
	m, err := h.engine.ComputeTailRiskWithReference(c.Request.Context(), entityID,
		queryInt(c, "window", 0), c.Query("reference"))
	if errors.Is(err, tailrisk.ErrInsufficientHistory) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "insufficient_history",
			"message": "Not enough score history for reliable tail estimates",
			"partial": m,
		})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tailRisk": m})
}

// StressRequest is the body of POST /v1/entities/:id/stress.
type StressRequest struct {
	Exposure float64 `json:"exposure"`
}

// RunStress runs the scenario library against the latest profile.
// POST /v1/entities/:id/stress
func (h *Handler) RunStress(c *gin.Context) {
	entityID := entityParam(c)
	req := StressRequest{Exposure: 1}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Request body must be {\"exposure\": number}",
			})
			return
		}
	}
	if req.Exposure < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_exposure",
			"message": "Exposure must not be negative",
		})
		return
	}

	profile, err := h.engine.LatestProfile(c.Request.Context(), entityID)
	if err != nil {
		h.fail(c, err)
		return
	}
	results, err := h.engine.RunStressTests(profile, req.Exposure)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entityId":       entityID,
		"libraryVersion": h.engine.Library().Version,
		"results":        results,
	})
}

// ListAlerts returns an entity's alerts, newest first.
// GET /v1/entities/:id/alerts?all=true&limit=100&cursor=...
func (h *Handler) ListAlerts(c *gin.Context) {
	entityID := entityParam(c)
	limit := queryInt(c, "limit", defaultAlertsLimit)
	if limit == 0 || limit > maxAlertsLimit {
		limit = maxAlertsLimit
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "Cursor is malformed"})
		return
	}

	list, err := h.engine.AlertStore().List(c.Request.Context(), entityID, alerts.ListOptions{
		IncludeInactive: c.Query("all") == "true",
		Limit:           limit + 1,
		Before:          cursor,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	page := pagination.NewPage(list, limit, func(a *alerts.Alert) (time.Time, string) {
		return a.CreatedAt, a.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"alerts":     page.Items,
		"count":      len(page.Items),
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

// PositionRequest is one holding in a portfolio request.
type PositionRequest struct {
	EntityID string          `json:"entityId"`
	Exposure decimal.Decimal `json:"exposure"`
}

// PortfolioRequest is the body of POST /v1/portfolio/risk.
type PortfolioRequest struct {
	Positions   []PositionRequest `json:"positions"`
	Correlation [][]float64       `json:"correlation,omitempty"`
	// Refresh reassesses every entity from the data source first.
	Refresh bool `json:"refresh,omitempty"`
}

// PortfolioRisk aggregates entity risk across weighted positions.
// POST /v1/portfolio/risk
func (h *Handler) PortfolioRisk(c *gin.Context) {
	var req PortfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain a 'positions' array",
		})
		return
	}
	if len(req.Positions) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_portfolio",
			"message": "At least one position is required",
		})
		return
	}

	ctx := c.Request.Context()
	ids := make([]string, len(req.Positions))
	exposures := make([]decimal.Decimal, len(req.Positions))
	for i, p := range req.Positions {
		ids[i] = strings.TrimSpace(p.EntityID)
		exposures[i] = p.Exposure
	}
	if errs := validation.Validate(
		validation.MaxItems("positions", len(ids), maxPortfolioSize),
		validation.ValidEntityIDs("positions.entityId", ids),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
		return
	}

	var profiles []*risk.RiskProfile
	if req.Refresh {
		batch, err := h.engine.AssessBatch(ctx, ids)
		if err != nil {
			h.fail(c, err)
			return
		}
		profiles = make([]*risk.RiskProfile, len(batch))
		for i, a := range batch {
			profiles[i] = a.Profile
		}
	} else {
		var err error
		if profiles, err = h.engine.LatestProfiles(ctx, ids); err != nil {
			h.fail(c, err)
			return
		}
	}

	out, err := h.engine.ComputePortfolioRisk(ctx, profiles, exposures, req.Correlation)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": out})
}

// BatchRefreshRequest is the body of POST /v1/batch/refresh.
type BatchRefreshRequest struct {
	EntityIDs []string `json:"entityIds"`
}

// BatchRefresh reassesses many entities concurrently. An empty list
// refreshes every entity the data source knows.
// POST /v1/batch/refresh
func (h *Handler) BatchRefresh(c *gin.Context) {
	var req BatchRefreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Request body must contain an 'entityIds' array",
			})
			return
		}
	}
	if errs := validation.Validate(
		validation.MaxItems("entityIds", len(req.EntityIDs), maxBatchEntities),
		validation.ValidEntityIDs("entityIds", req.EntityIDs),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
		return
	}

	var (
		results []*Assessment
		err     error
	)
	if len(req.EntityIDs) == 0 {
		results, err = h.engine.RefreshAll(c.Request.Context())
	} else {
		results, err = h.engine.AssessBatch(c.Request.Context(), req.EntityIDs)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	if results == nil {
		results = []*Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{"assessments": results, "count": len(results)})
}

// ListScenarios returns the scenario library in use.
// GET /v1/scenarios
func (h *Handler) ListScenarios(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"library": h.engine.Library()})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, risk.ErrMetricConfiguration), errors.Is(err, risk.ErrInvalidModel):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_metrics", "message": err.Error()})
	case errors.Is(err, risk.ErrInsufficientData), errors.Is(err, stress.ErrUnscored):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_data", "message": err.Error()})
	case errors.Is(err, portfolio.ErrPortfolioConfiguration):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_portfolio", "message": err.Error()})
	case errors.Is(err, ErrNoHistory):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_history", "message": "Entity has not been assessed"})
	case errors.Is(err, ErrUnknownEntity):
		c.JSON(http.StatusNotFound, gin.H{"error": "entity_not_found", "message": "Data source does not know this entity"})
	case errors.Is(err, ErrNoDataSource):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no_data_source", "message": "No metric data source is configured"})
	default:
		logging.L(c.Request.Context()).Error("risk request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Request failed"})
	}
}

func entityParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
