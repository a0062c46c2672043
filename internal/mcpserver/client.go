package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/riskscope/internal/retry"
)

const maxResponseBytes = 4 << 20

// Config holds the configuration for connecting to the riskscope API.
type Config struct {
	APIURL  string        // Base URL, e.g. "http://localhost:8080"
	APIKey  string        // Optional bearer token for a fronting gateway
	Timeout time.Duration // per request; defaults to 30s
	Retries int           // extra attempts for reads on 429, 5xx or transport errors
}

// RiskClient is a pure HTTP client for the riskscope API.
type RiskClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewRiskClient creates a new client for the riskscope API.
func NewRiskClient(cfg Config) *RiskClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RiskClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest calls the API and returns the response body. GETs are retried
// on transient failures; writes are sent once.
func (c *RiskClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	policy := retry.Policy{Attempts: 1, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
	if method == http.MethodGet {
		policy.Attempts += c.cfg.Retries
	}
	return retry.DoValue(ctx, policy, func(ctx context.Context) (json.RawMessage, error) {
		return c.send(ctx, method, u.String(), payload)
	})
}

func (c *RiskClient) send(ctx context.Context, method, target string, payload []byte) (json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		err := apiErrorFrom(resp.StatusCode, respBody)
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return json.RawMessage(respBody), nil
}

func apiErrorFrom(status int, body []byte) error {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		return fmt.Errorf("API error (%d): %s", status, apiErr.Message)
	}
	return fmt.Errorf("API error (%d): %s", status, string(body))
}

func entityPath(entityID, suffix string) string {
	return "/v1/entities/" + url.PathEscape(entityID) + suffix
}

// Assess submits metrics for scoring.
func (c *RiskClient) Assess(ctx context.Context, entityID string, metrics []map[string]any, weights map[string]float64) (json.RawMessage, error) {
	body := map[string]any{"metrics": metrics}
	if len(weights) > 0 {
		body["weights"] = weights
	}
	return c.doRequest(ctx, http.MethodPost, entityPath(entityID, "/assess"), nil, body)
}

// Refresh reassesses an entity from the server's data source.
func (c *RiskClient) Refresh(ctx context.Context, entityID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, entityPath(entityID, "/refresh"), nil, nil)
}

// GetTrend returns the trend classification and recent history.
func (c *RiskClient) GetTrend(ctx context.Context, entityID string, window, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if window > 0 {
		q.Set("window", strconv.Itoa(window))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, entityPath(entityID, "/trend"), q, nil)
}

// GetTailRisk returns tail metrics for an entity.
func (c *RiskClient) GetTailRisk(ctx context.Context, entityID string, window int, reference string) (json.RawMessage, error) {
	q := url.Values{}
	if window > 0 {
		q.Set("window", strconv.Itoa(window))
	}
	if reference != "" {
		q.Set("reference", reference)
	}
	return c.doRequest(ctx, http.MethodGet, entityPath(entityID, "/tail-risk"), q, nil)
}

// RunStress runs the scenario library against an entity.
func (c *RiskClient) RunStress(ctx context.Context, entityID string, exposure float64) (json.RawMessage, error) {
	body := map[string]float64{"exposure": exposure}
	return c.doRequest(ctx, http.MethodPost, entityPath(entityID, "/stress"), nil, body)
}

// ListAlerts returns one page of an entity's alerts. cursor is the
// nextCursor of the previous page, or empty for the first.
func (c *RiskClient) ListAlerts(ctx context.Context, entityID string, includeInactive bool, limit int, cursor string) (json.RawMessage, error) {
	q := url.Values{}
	if includeInactive {
		q.Set("all", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.doRequest(ctx, http.MethodGet, entityPath(entityID, "/alerts"), q, nil)
}

// PortfolioRisk aggregates risk over positions.
func (c *RiskClient) PortfolioRisk(ctx context.Context, positions []map[string]any, refresh bool) (json.RawMessage, error) {
	body := map[string]any{"positions": positions, "refresh": refresh}
	return c.doRequest(ctx, http.MethodPost, "/v1/portfolio/risk", nil, body)
}

// ListScenarios returns the scenario library.
func (c *RiskClient) ListScenarios(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/scenarios", nil, nil)
}
