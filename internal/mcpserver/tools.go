package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the escrow MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Show the escrow for a tokenized property: status, price, earnest money deposited, "+
			"inspection result, and which of buyer, seller and lender have approved."),
	mcp.WithString("asset_id",
		mcp.Required(),
		mcp.Description("Deed ID of the property (e.g. '1')")),
)

var ToolListMyEscrows = mcp.NewTool("list_my_escrows",
	mcp.WithDescription(
		"List property escrows you take part in as buyer, seller or lender, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of escrows to return (default 20)")),
)

var ToolGetEscrowEvents = mcp.NewTool("get_escrow_events",
	mcp.WithDescription(
		"Show the audit trail of an escrow: listing, deposits, inspection updates, approvals and settlement."),
	mcp.WithString("asset_id",
		mcp.Required(),
		mcp.Description("Deed ID of the property")),
)

var ToolListProperty = mcp.NewTool("list_property",
	mcp.WithDescription(
		"List a property for sale. Only the seller can do this, and the deed must already "+
			"approve the escrow address. The deed moves into escrow custody."),
	mcp.WithString("asset_id",
		mcp.Required(),
		mcp.Description("Deed ID of the property")),
	mcp.WithString("purchase_price",
		mcp.Required(),
		mcp.Description("Agreed purchase price (e.g. '250000')")),
	mcp.WithString("escrow_amount",
		mcp.Required(),
		mcp.Description("Earnest money the buyer must deposit before the sale can finalize")),
	mcp.WithString("buyer",
		mcp.Required(),
		mcp.Description("Buyer's address (e.g. '0x1234...')")),
)

var ToolDepositEarnest = mcp.NewTool("deposit_earnest",
	mcp.WithDescription(
		"Deposit earnest money into escrow as the buyer. Funds are locked from your account "+
			"balance and can be deposited in several installments."),
	mcp.WithString("asset_id",
		mcp.Required(),
		mcp.Description("Deed ID of the property")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount to deposit (e.g. '5000')")),
)

var ToolRecordInspection = mcp.NewTool("record_inspection",
	mcp.WithDescription(
		"Record whether the property passed inspection. Only the inspector can do this. "+
			"A later call overwrites an earlier result."),
	mcp.WithString("asset_id",
		mcp.Required(),
		mcp.Description("Deed ID of the property")),
	mcp.WithBoolean("passed",
		mcp.Required(),
		mcp.Description("true if the property passed inspection")),
)

var ToolApproveSale = mcp.NewTool("approve_sale",
	mcp.WithDescription(
		"Approve the sale as buyer, seller or lender. All three approvals are required to finalize."),
	mcp.WithString("asset_id",
		mcp.Required(),
		mcp.Description("Deed ID of the property")),
)

var ToolFinalizeSale = mcp.NewTool("finalize_sale",
	mcp.WithDescription(
		"Complete the sale: the deed goes to the buyer and the earnest money to the seller. "+
			"Fails and names the first unmet condition if inspection, approvals or funding are missing."),
	mcp.WithString("asset_id",
		mcp.Required(),
		mcp.Description("Deed ID of the property")),
)

var ToolCancelSale = mcp.NewTool("cancel_sale",
	mcp.WithDescription(
		"Cancel the sale as buyer or seller. The deed returns to the seller and any earnest money "+
			"is refunded to the buyer."),
	mcp.WithString("asset_id",
		mcp.Required(),
		mcp.Description("Deed ID of the property")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check your account balance: funds available for deposits and funds locked in escrow."),
)
