package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all escrow tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("propertyescrow", "1.0.0")
	client := NewClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolListMyEscrows, h.HandleListMyEscrows)
	s.AddTool(ToolGetEscrowEvents, h.HandleGetEscrowEvents)
	s.AddTool(ToolListProperty, h.HandleListProperty)
	s.AddTool(ToolDepositEarnest, h.HandleDepositEarnest)
	s.AddTool(ToolRecordInspection, h.HandleRecordInspection)
	s.AddTool(ToolApproveSale, h.HandleApproveSale)
	s.AddTool(ToolFinalizeSale, h.HandleFinalizeSale)
	s.AddTool(ToolCancelSale, h.HandleCancelSale)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)

	return s
}
