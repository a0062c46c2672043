// Command mcp serves riskscope tools to LLM clients over stdio.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/riskscope/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:  envOr("RISKSCOPE_API_URL", "http://localhost:8080"),
		APIKey:  os.Getenv("RISKSCOPE_API_KEY"),
		Retries: 2,
	}
	if v, err := time.ParseDuration(os.Getenv("RISKSCOPE_API_TIMEOUT")); err == nil {
		cfg.Timeout = v
	}
	if v, err := strconv.Atoi(os.Getenv("RISKSCOPE_API_RETRIES")); err == nil && v >= 0 {
		cfg.Retries = v
	}

	// stdout carries the protocol; diagnostics go to stderr.
	if err := server.ServeStdio(mcpserver.NewMCPServer(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "mcp: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
