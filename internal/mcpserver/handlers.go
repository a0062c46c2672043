package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *RiskClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *RiskClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAssessEntity scores submitted metrics.
func (h *Handlers) HandleAssessEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID := req.GetString("entity_id", "")
	if entityID == "" {
		return mcp.NewToolResultError("entity_id is required"), nil
	}
	metrics := objectList(req.GetArguments()["metrics"])
	if len(metrics) == 0 {
		return mcp.NewToolResultError("metrics must be a non-empty array of objects"), nil
	}

	var weights map[string]float64
	if raw, ok := req.GetArguments()["weights"].(map[string]any); ok {
		weights = make(map[string]float64, len(raw))
		for k, v := range raw {
			if f, ok := v.(float64); ok {
				weights[k] = f
			}
		}
	}

	raw, err := h.client.Assess(ctx, entityID, metrics, weights)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Assessment failed: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleRefreshEntity reassesses from the server's data source.
func (h *Handlers) HandleRefreshEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID := req.GetString("entity_id", "")
	if entityID == "" {
		return mcp.NewToolResultError("entity_id is required"), nil
	}

	raw, err := h.client.Refresh(ctx, entityID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Refresh failed: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetTrend returns the trend classification.
func (h *Handlers) HandleGetTrend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID := req.GetString("entity_id", "")
	if entityID == "" {
		return mcp.NewToolResultError("entity_id is required"), nil
	}
	window := req.GetInt("window", 0)

	raw, err := h.client.GetTrend(ctx, entityID, window, window)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get trend: %v", err)), nil
	}

	text, err := formatTrend(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trend: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetTailRisk returns VaR and expected shortfall.
func (h *Handlers) HandleGetTailRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID := req.GetString("entity_id", "")
	if entityID == "" {
		return mcp.NewToolResultError("entity_id is required"), nil
	}

	raw, err := h.client.GetTailRisk(ctx, entityID, req.GetInt("window", 0), req.GetString("reference", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get tail risk: %v", err)), nil
	}

	text, err := formatTailRisk(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse tail risk: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleRunStressTest runs the scenario library.
func (h *Handlers) HandleRunStressTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID := req.GetString("entity_id", "")
	if entityID == "" {
		return mcp.NewToolResultError("entity_id is required"), nil
	}
	exposure := req.GetFloat("exposure", 1)
	if exposure < 0 {
		return mcp.NewToolResultError("exposure must not be negative"), nil
	}

	raw, err := h.client.RunStress(ctx, entityID, exposure)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Stress test failed: %v", err)), nil
	}

	text, err := formatStress(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse stress results: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandlePortfolioRisk aggregates a portfolio.
func (h *Handlers) HandlePortfolioRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	positions := objectList(req.GetArguments()["positions"])
	if len(positions) == 0 {
		return mcp.NewToolResultError("positions must be a non-empty array of {entityId, exposure}"), nil
	}

	raw, err := h.client.PortfolioRisk(ctx, positions, req.GetBool("refresh", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Portfolio risk failed: %v", err)), nil
	}

	text, err := formatPortfolio(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse portfolio: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListAlerts lists an entity's alerts.
func (h *Handlers) HandleListAlerts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID := req.GetString("entity_id", "")
	if entityID == "" {
		return mcp.NewToolResultError("entity_id is required"), nil
	}

	raw, err := h.client.ListAlerts(ctx, entityID,
		req.GetBool("include_inactive", false), req.GetInt("limit", 20), req.GetString("cursor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list alerts: %v", err)), nil
	}

	text, err := formatAlerts(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse alerts: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListScenarios returns the scenario library.
func (h *Handlers) HandleListScenarios(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListScenarios(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list scenarios: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

func objectList(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func formatAssessment(raw json.RawMessage) (string, error) {
	var resp struct {
		Assessment struct {
			Profile map[string]any   `json:"profile"`
			Trend   map[string]any   `json:"trend"`
			Alerts  []map[string]any `json:"alerts"`
		} `json:"assessment"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	p := resp.Assessment.Profile
	if p == nil {
		return "", fmt.Errorf("no profile in response")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk assessment for %s:\n", getString(p, "entityId"))
	if scored, _ := p["scored"].(bool); !scored {
		sb.WriteString("  Status: UNSCORED (no usable metrics)\n")
		if degraded, _ := p["degraded"].(bool); degraded {
			sb.WriteString("  Data source unavailable; assessment is degraded.\n")
		}
		return sb.String(), nil
	}

	overall, _ := getFloat(p, "overall")
	confidence, _ := getFloat(p, "confidence")
	fmt.Fprintf(&sb, "  Score: %.3f (%s tier)\n", overall, getString(p, "tier"))
	fmt.Fprintf(&sb, "  Confidence: %.0f%%\n", confidence*100)
	if partial, _ := p["partial"].(bool); partial {
		if missing, ok := p["missingCategories"].([]any); ok {
			names := make([]string, 0, len(missing))
			for _, m := range missing {
				if s, ok := m.(string); ok {
					names = append(names, s)
				}
			}
			fmt.Fprintf(&sb, "  Missing categories: %s\n", strings.Join(names, ", "))
		}
	}
	if cats, ok := p["categories"].([]any); ok && len(cats) > 0 {
		sb.WriteString("  Categories:\n")
		for _, c := range cats {
			if m, ok := c.(map[string]any); ok {
				s, _ := getFloat(m, "score")
				fmt.Fprintf(&sb, "    %-15s %.3f\n", getString(m, "category"), s)
			}
		}
	}
	if t := resp.Assessment.Trend; t != nil {
		fmt.Fprintf(&sb, "  Trend: %s\n", getString(t, "label"))
	}

	var active int
	for _, a := range resp.Assessment.Alerts {
		if on, _ := a["active"].(bool); on {
			active++
		}
	}
	fmt.Fprintf(&sb, "  Active alerts: %d\n", active)

	if recs, ok := p["recommendations"].([]any); ok && len(recs) > 0 {
		sb.WriteString("  Recommendations:\n")
		for _, r := range recs {
			if s, ok := r.(string); ok {
				fmt.Fprintf(&sb, "    - %s\n", s)
			}
		}
	}
	return sb.String(), nil
}

func formatTrend(raw json.RawMessage) (string, error) {
	var resp struct {
		Trend   map[string]any   `json:"trend"`
		History []map[string]any `json:"history"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Trend == nil {
		return "", fmt.Errorf("no trend in response")
	}

	slope, _ := getFloat(resp.Trend, "slope")
	points, _ := getFloat(resp.Trend, "points")

	var sb strings.Builder
	fmt.Fprintf(&sb, "Trend for %s: %s\n", getString(resp.Trend, "entityId"), strings.ToUpper(getString(resp.Trend, "label")))
	fmt.Fprintf(&sb, "  Slope: %+.4f per assessment over %.0f points\n", slope, points)
	if len(resp.History) > 0 {
		sb.WriteString("  Recent scores:")
		for _, p := range resp.History {
			s, _ := getFloat(p, "overall")
			fmt.Fprintf(&sb, " %.3f", s)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatTailRisk(raw json.RawMessage) (string, error) {
	var resp struct {
		TailRisk map[string]any `json:"tailRisk"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	m := resp.TailRisk
	if m == nil {
		return "", fmt.Errorf("no tail risk in response")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tail risk for %s:\n", getString(m, "entityId"))
	for _, row := range []struct{ label, key string }{
		{"Observations", "observations"},
		{"Volatility", "volatility"},
		{"Max drawdown", "maxDrawdown"},
		{"VaR 95%", "var95"},
		{"VaR 99%", "var99"},
		{"VaR 99.9%", "var999"},
		{"ES 95%", "es95"},
		{"ES 99%", "es99"},
		{"Beta", "beta"},
	} {
		if v, ok := getFloat(m, row.key); ok {
			fmt.Fprintf(&sb, "  %-13s %.4f\n", row.label+":", v)
		}
	}
	return sb.String(), nil
}

func formatStress(raw json.RawMessage) (string, error) {
	var resp struct {
		EntityID       string           `json:"entityId"`
		LibraryVersion string           `json:"libraryVersion"`
		Results        []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Stress test for %s (library %s):\n", resp.EntityID, resp.LibraryVersion)
	for _, r := range resp.Results {
		prob, _ := getFloat(r, "probability")
		loss, _ := getFloat(r, "estimatedLoss")
		days, _ := getFloat(r, "recoveryDays")
		fmt.Fprintf(&sb, "  %-24s p=%.2f loss=%.2f recovery=%.0fd\n", getString(r, "scenario"), prob, loss, days)
	}
	return sb.String(), nil
}

func formatPortfolio(raw json.RawMessage) (string, error) {
	var resp struct {
		Portfolio map[string]any `json:"portfolio"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	p := resp.Portfolio
	if p == nil {
		return "", fmt.Errorf("no portfolio in response")
	}

	score, _ := getFloat(p, "score")
	vol, _ := getFloat(p, "volatility")
	div, _ := getFloat(p, "diversification")
	conc, _ := getFloat(p, "concentration")

	var sb strings.Builder
	sb.WriteString("Portfolio risk:\n")
	fmt.Fprintf(&sb, "  Total exposure: %s\n", getString(p, "totalExposure"))
	fmt.Fprintf(&sb, "  Score: %.3f (%s tier)\n", score, getString(p, "tier"))
	fmt.Fprintf(&sb, "  Volatility: %.4f | Diversification: %.0f%% | Concentration: %.2f\n", vol, div*100, conc)
	if partial, _ := p["partial"].(bool); partial {
		sb.WriteString("  PARTIAL: some entities had no usable data and were penalized\n")
	}
	if ents, ok := p["entities"].([]any); ok {
		sb.WriteString("  Entities:\n")
		for _, e := range ents {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			w, _ := getFloat(m, "weight")
			c, _ := getFloat(m, "contribution")
			fmt.Fprintf(&sb, "    %-20s weight=%.2f risk contribution=%.2f\n", getString(m, "entityId"), w, c)
		}
	}
	return sb.String(), nil
}

func formatAlerts(raw json.RawMessage) (string, error) {
	var resp struct {
		Alerts     []map[string]any `json:"alerts"`
		NextCursor string           `json:"nextCursor"`
		HasMore    bool             `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Alerts) == 0 {
		return "No alerts.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d alert(s):\n\n", len(resp.Alerts))
	for i, a := range resp.Alerts {
		state := "active"
		if on, _ := a["active"].(bool); !on {
			state = "cleared"
		}
		fmt.Fprintf(&sb, "%d. [%s] %s (%s)\n", i+1, strings.ToUpper(getString(a, "severity")), getString(a, "type"), state)
		if d := getString(a, "description"); d != "" {
			fmt.Fprintf(&sb, "   %s\n", d)
		}
	}
	if resp.HasMore && resp.NextCursor != "" {
		fmt.Fprintf(&sb, "\nMore alerts available; pass cursor %q for the next page.\n", resp.NextCursor)
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
