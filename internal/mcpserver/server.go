package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all riskscope tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("riskscope", "1.0.0")
	client := NewRiskClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolAssessEntity, h.HandleAssessEntity)
	s.AddTool(ToolRefreshEntity, h.HandleRefreshEntity)
	s.AddTool(ToolGetTrend, h.HandleGetTrend)
	s.AddTool(ToolGetTailRisk, h.HandleGetTailRisk)
	s.AddTool(ToolRunStressTest, h.HandleRunStressTest)
	s.AddTool(ToolPortfolioRisk, h.HandlePortfolioRisk)
	s.AddTool(ToolListAlerts, h.HandleListAlerts)
	s.AddTool(ToolListScenarios, h.HandleListScenarios)

	return s
}
