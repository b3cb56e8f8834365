package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleGetEscrow shows the escrow for one asset.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	assetID := req.GetString("asset_id", "")
	if assetID == "" {
		return mcp.NewToolResultError("asset_id is required"), nil
	}

	raw, err := h.client.GetEscrow(ctx, assetID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}

	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListMyEscrows lists the caller's escrows.
func (h *Handlers) HandleListMyEscrows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListMyEscrows(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list escrows: %v", err)), nil
	}

	text, err := formatEscrowList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrows: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetEscrowEvents shows an escrow's audit trail.
func (h *Handlers) HandleGetEscrowEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	assetID := req.GetString("asset_id", "")
	if assetID == "" {
		return mcp.NewToolResultError("asset_id is required"), nil
	}

	raw, err := h.client.GetEvents(ctx, assetID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get events: %v", err)), nil
	}

	text, err := formatEvents(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse events: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListProperty lists a deed for sale.
func (h *Handlers) HandleListProperty(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := map[string]string{}
	for _, k := range []string{"asset_id", "purchase_price", "escrow_amount", "buyer"} {
		v := req.GetString(k, "")
		if v == "" {
			return mcp.NewToolResultError(k + " is required"), nil
		}
		args[k] = v
	}

	raw, err := h.client.ListAsset(ctx, args["asset_id"], args["purchase_price"], args["escrow_amount"], args["buyer"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Listing failed: %v", err)), nil
	}
	return h.escrowResult("Property listed.", raw)
}

// HandleDepositEarnest deposits earnest money as the buyer.
func (h *Handlers) HandleDepositEarnest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	assetID := req.GetString("asset_id", "")
	if assetID == "" {
		return mcp.NewToolResultError("asset_id is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}

	raw, err := h.client.DepositEarnest(ctx, assetID, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Deposit failed: %v", err)), nil
	}
	return h.escrowResult(fmt.Sprintf("Deposited %s.", amount), raw)
}

// HandleRecordInspection records the inspection outcome.
func (h *Handlers) HandleRecordInspection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	assetID := req.GetString("asset_id", "")
	if assetID == "" {
		return mcp.NewToolResultError("asset_id is required"), nil
	}
	passed, ok := req.GetArguments()["passed"].(bool)
	if !ok {
		return mcp.NewToolResultError("passed is required and must be true or false"), nil
	}

	raw, err := h.client.RecordInspection(ctx, assetID, passed)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Inspection update failed: %v", err)), nil
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	return h.escrowResult("Inspection recorded as "+outcome+".", raw)
}

// HandleApproveSale approves the sale as the caller.
func (h *Handlers) HandleApproveSale(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.assetAction(ctx, req, "Approval", "Sale approved.", h.client.ApproveSale)
}

// HandleFinalizeSale settles the sale.
func (h *Handlers) HandleFinalizeSale(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.assetAction(ctx, req, "Finalize", "Sale finalized. The deed now belongs to the buyer.", h.client.FinalizeSale)
}

// HandleCancelSale cancels the sale.
func (h *Handlers) HandleCancelSale(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.assetAction(ctx, req, "Cancel", "Sale cancelled. The deed is back with the seller and earnest money was refunded.", h.client.CancelSale)
}

// HandleCheckBalance returns the caller's account balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetBalance(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (h *Handlers) assetAction(ctx context.Context, req mcp.CallToolRequest, name, done string,
	call func(context.Context, string) (json.RawMessage, error)) (*mcp.CallToolResult, error) {
	assetID := req.GetString("asset_id", "")
	if assetID == "" {
		return mcp.NewToolResultError("asset_id is required"), nil
	}

	raw, err := call(ctx, assetID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", name, err)), nil
	}
	return h.escrowResult(done, raw)
}

func (h *Handlers) escrowResult(headline string, raw json.RawMessage) (*mcp.CallToolResult, error) {
	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultText(headline + "\n\n" + formatJSON(raw)), nil
	}
	return mcp.NewToolResultText(headline + "\n\n" + text), nil
}

// --- Formatting helpers ---

func unwrapEscrow(raw json.RawMessage) (map[string]any, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if e, ok := resp["escrow"].(map[string]any); ok {
		return e, nil
	}
	if _, ok := resp["assetId"]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no escrow in response: %s", string(raw))
}

func formatEscrow(raw json.RawMessage) (string, error) {
	e, err := unwrapEscrow(raw)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow for asset %s\n", getString(e, "assetId"))
	fmt.Fprintf(&sb, "  Status:    %s\n", getString(e, "status"))
	fmt.Fprintf(&sb, "  Price:     %s\n", getString(e, "purchasePrice"))
	fmt.Fprintf(&sb, "  Earnest:   %s of %s deposited\n", orZero(getString(e, "depositedBalance")), getString(e, "escrowAmount"))
	fmt.Fprintf(&sb, "  Seller:    %s\n", getString(e, "seller"))
	fmt.Fprintf(&sb, "  Buyer:     %s\n", getString(e, "buyer"))
	fmt.Fprintf(&sb, "  Lender:    %s\n", getString(e, "lender"))

	inspection := "not passed"
	if passed, ok := e["inspectionPassed"].(bool); ok && passed {
		inspection = "passed"
	}
	fmt.Fprintf(&sb, "  Inspection: %s\n", inspection)

	approvals, _ := e["approvals"].(map[string]any)
	var approved []string
	for addr, v := range approvals {
		if ok, _ := v.(bool); ok {
			approved = append(approved, addr)
		}
	}
	sort.Strings(approved)
	if len(approved) == 0 {
		sb.WriteString("  Approvals: none\n")
	} else {
		fmt.Fprintf(&sb, "  Approvals: %s\n", strings.Join(approved, ", "))
	}
	return sb.String(), nil
}

func formatEscrowList(raw json.RawMessage) (string, error) {
	var resp struct {
		Escrows []map[string]any `json:"escrows"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected escrows response format")
	}
	if len(resp.Escrows) == 0 {
		return "No escrows found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d escrow(s):\n\n", len(resp.Escrows))
	for i, e := range resp.Escrows {
		fmt.Fprintf(&sb, "%d. Asset %s (%s)\n", i+1, getString(e, "assetId"), getString(e, "status"))
		fmt.Fprintf(&sb, "   Price: %s | Earnest: %s of %s\n",
			getString(e, "purchasePrice"), orZero(getString(e, "depositedBalance")), getString(e, "escrowAmount"))
	}
	return sb.String(), nil
}

func formatEvents(raw json.RawMessage) (string, error) {
	var resp struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected events response format")
	}
	if len(resp.Events) == 0 {
		return "No events recorded.", nil
	}

	var sb strings.Builder
	for _, ev := range resp.Events {
		fmt.Fprintf(&sb, "%s  %-20s %s", getString(ev, "createdAt"), getString(ev, "type"), getString(ev, "actor"))
		if amt := getString(ev, "amount"); amt != "" {
			fmt.Fprintf(&sb, "  amount=%s", amt)
		}
		if passed, ok := ev["passed"].(bool); ok {
			fmt.Fprintf(&sb, "  passed=%t", passed)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatBalance(raw json.RawMessage) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	// Balance might be at top level or nested under "balance"
	bal := resp
	if b, ok := resp["balance"].(map[string]any); ok {
		bal = b
	}

	var sb strings.Builder
	sb.WriteString("Account Balance:\n")
	fmt.Fprintf(&sb, "  Available: %s\n", getString(bal, "available"))
	if v := getString(bal, "escrowed"); v != "" && v != "0" && v != "0.000000" {
		fmt.Fprintf(&sb, "  Escrowed:  %s\n", v)
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

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
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
