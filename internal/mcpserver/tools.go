package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the riskscope MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAssessEntity = mcp.NewTool("assess_entity",
	mcp.WithDescription(
		"Score an entity's risk from raw business metrics. "+
			"Each metric is normalized to [0,1] (1 = lowest risk), grouped into categories "+
			"(financial, operational, market, compliance, geopolitical, sustainability) and combined "+
			"into an overall score, tier (low/medium/high/extreme) and confidence. "+
			"Raises or clears alerts as a side effect."),
	mcp.WithString("entity_id",
		mcp.Required(),
		mcp.Description("The entity identifier (e.g. 'acme-corp')")),
	mcp.WithArray("metrics",
		mcp.Required(),
		mcp.Description("Metrics as objects: {category, name, value, min, max, weight, orientation}. "+
			"orientation is 'higher_is_better' (default) or 'lower_is_better'.")),
	mcp.WithObject("weights",
		mcp.Description("Optional per-call category weight overrides, e.g. {\"financial\": 0.4}")),
)

var ToolRefreshEntity = mcp.NewTool("refresh_entity",
	mcp.WithDescription(
		"Reassess an entity from the latest metrics the server holds. "+
			"If the data source fails the result is marked degraded instead of erroring."),
	mcp.WithString("entity_id",
		mcp.Required(),
		mcp.Description("The entity identifier")),
)

var ToolGetTrend = mcp.NewTool("get_trend",
	mcp.WithDescription(
		"Classify an entity's risk trend as improving, stable or declining from its score history."),
	mcp.WithString("entity_id",
		mcp.Required(),
		mcp.Description("The entity identifier")),
	mcp.WithNumber("window",
		mcp.Description("Number of recent assessments to fit (default 10)")),
)

var ToolGetTailRisk = mcp.NewTool("get_tail_risk",
	mcp.WithDescription(
		"Estimate tail risk from an entity's score history: value at risk at 95/99/99.9%, "+
			"expected shortfall, volatility and maximum drawdown. Needs at least 8 assessments for VaR."),
	mcp.WithString("entity_id",
		mcp.Required(),
		mcp.Description("The entity identifier")),
	mcp.WithNumber("window",
		mcp.Description("Number of recent assessments to use (default 60)")),
	mcp.WithString("reference",
		mcp.Description("Optional benchmark entity id; enables beta")),
)

var ToolRunStressTest = mcp.NewTool("run_stress_test",
	mcp.WithDescription(
		"Run the adverse scenario library (market crash, regulatory change, supply chain disruption, "+
			"cyber attack, natural disaster) against an entity's latest assessment."),
	mcp.WithString("entity_id",
		mcp.Required(),
		mcp.Description("The entity identifier")),
	mcp.WithNumber("exposure",
		mcp.Description("Exposure amount losses are scaled by (default 1)")),
)

var ToolPortfolioRisk = mcp.NewTool("portfolio_risk",
	mcp.WithDescription(
		"Aggregate risk across a portfolio of entities weighted by exposure. "+
			"Returns the weighted score, correlation-aware volatility, diversification benefit, "+
			"concentration and per-scenario losses. Entities without data are penalized and flagged."),
	mcp.WithArray("positions",
		mcp.Required(),
		mcp.Description("Positions as objects: {entityId, exposure}. Exposure is a decimal string or number.")),
	mcp.WithBoolean("refresh",
		mcp.Description("Reassess every entity before aggregating (default false)")),
)

var ToolListAlerts = mcp.NewTool("list_alerts",
	mcp.WithDescription(
		"List an entity's risk alerts, newest first. Alerts clear only after several healthy assessments in a row."),
	mcp.WithString("entity_id",
		mcp.Required(),
		mcp.Description("The entity identifier")),
	mcp.WithBoolean("include_inactive",
		mcp.Description("Include cleared alerts (default false)")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of alerts to return (default 20)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous page to continue listing")),
)

var ToolListScenarios = mcp.NewTool("list_scenarios",
	mcp.WithDescription("Show the stress scenario library and its version."),
)
