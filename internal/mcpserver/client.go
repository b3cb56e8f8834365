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
)

// Config holds the configuration for connecting to the escrow API.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	APIKey  string // API key, e.g. "sk_..."
	Address string // Address the API key belongs to, e.g. "0x..."
}

// Client is a pure HTTP client for the escrow API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the escrow API.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Condition string `json:"condition"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			if apiErr.Condition != "" {
				return nil, fmt.Errorf("API error (%d): %s (unmet: %s)", resp.StatusCode, apiErr.Message, apiErr.Condition)
			}
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

func escrowPath(assetID, action string) string {
	p := "/v1/escrow/" + url.PathEscape(assetID)
	if action != "" {
		p += "/" + action
	}
	return p
}

// GetEscrow returns the escrow record for an asset.
func (c *Client) GetEscrow(ctx context.Context, assetID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, escrowPath(assetID, ""), nil, nil)
}

// GetEvents returns the audit trail for an asset's escrow.
func (c *Client) GetEvents(ctx context.Context, assetID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, escrowPath(assetID, "events"), nil, nil)
}

// ListMyEscrows lists escrows the configured address participates in.
func (c *Client) ListMyEscrows(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/participants/" + c.cfg.Address + "/escrows"
	return c.doRequest(ctx, http.MethodGet, path, q, nil)
}

// ListAsset puts a deed into escrow. Only the seller may call this.
func (c *Client) ListAsset(ctx context.Context, assetID, purchasePrice, escrowAmount, buyer string) (json.RawMessage, error) {
	body := map[string]string{
		"assetId":       assetID,
		"purchasePrice": purchasePrice,
		"escrowAmount":  escrowAmount,
		"buyer":         buyer,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrow", nil, body)
}

// DepositEarnest locks earnest money from the buyer's account.
func (c *Client) DepositEarnest(ctx context.Context, assetID, amount string) (json.RawMessage, error) {
	body := map[string]string{"amount": amount}
	return c.doRequest(ctx, http.MethodPost, escrowPath(assetID, "deposit"), nil, body)
}

// RecordInspection sets the inspection outcome. Only the inspector may call this.
func (c *Client) RecordInspection(ctx context.Context, assetID string, passed bool) (json.RawMessage, error) {
	body := map[string]bool{"passed": passed}
	return c.doRequest(ctx, http.MethodPost, escrowPath(assetID, "inspection"), nil, body)
}

// ApproveSale records the caller's approval.
func (c *Client) ApproveSale(ctx context.Context, assetID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, escrowPath(assetID, "approve"), nil, nil)
}

// FinalizeSale settles the sale once every condition holds.
func (c *Client) FinalizeSale(ctx context.Context, assetID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, escrowPath(assetID, "finalize"), nil, nil)
}

// CancelSale unwinds the sale, refunding the buyer and returning the deed.
func (c *Client) CancelSale(ctx context.Context, assetID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, escrowPath(assetID, "cancel"), nil, nil)
}

// GetBalance returns the account balance of the configured address.
func (c *Client) GetBalance(ctx context.Context) (json.RawMessage, error) {
	path := "/v1/accounts/" + c.cfg.Address + "/balance"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}
