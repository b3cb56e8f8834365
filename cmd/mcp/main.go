// PropertyEscrow MCP Server - exposes escrow operations as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/propertyescrow/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:  envOrDefault("PROPERTYESCROW_API_URL", "http://localhost:8080"),
		APIKey:  os.Getenv("PROPERTYESCROW_API_KEY"),
		Address: os.Getenv("PROPERTYESCROW_ADDRESS"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "PROPERTYESCROW_API_KEY is required")
		os.Exit(1)
	}
	if cfg.Address == "" {
		fmt.Fprintln(os.Stderr, "PROPERTYESCROW_ADDRESS is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
