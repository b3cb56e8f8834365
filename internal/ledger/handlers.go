package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/propertyescrow/internal/validation"
)

// Handler provides HTTP endpoints for ledger operations
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up public ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	accounts := r.Group("/accounts/:address", validation.AddressParamMiddleware())
	accounts.GET("/balance", h.GetBalance)
	accounts.GET("/history", h.GetHistory)
}

// RegisterAdminRoutes sets up operator-only ledger routes. The caller is
// expected to guard r with auth.RequireAdmin.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/:address/deposit", validation.AddressParamMiddleware(), h.RecordDeposit)
}

// GetBalance handles GET /accounts/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.logger.Error("balance lookup failed", "address", c.Param("address"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// GetHistory handles GET /accounts/:address/history
func (h *Handler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.ledger.GetHistory(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		h.logger.Error("history lookup failed", "address", c.Param("address"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve ledger history",
		})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// DepositRequest records funds arriving for an account.
type DepositRequest struct {
	Amount string `json:"amount" binding:"required"`
	TxHash string `json:"txHash" binding:"required"`
}

// RecordDeposit handles POST /accounts/:address/deposit
func (h *Handler) RecordDeposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount and txHash are required",
		})
		return
	}

	req.Amount = strings.TrimSpace(req.Amount)
	if errs := validation.Validate(
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("txHash", req.TxHash, 128),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
		})
		return
	}

	address := strings.ToLower(c.Param("address"))
	if err := h.ledger.Deposit(c.Request.Context(), address, req.Amount, req.TxHash); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateDeposit):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_deposit",
				"message": "Deposit already processed",
			})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive decimal number",
			})
		default:
			h.logger.Error("deposit failed", "address", address, "txHash", req.TxHash, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "deposit_error",
				"message": "Failed to record deposit",
			})
		}
		return
	}

	h.logger.Info("deposit credited", "address", address, "amount", req.Amount, "txHash", req.TxHash)
	c.JSON(http.StatusCreated, gin.H{
		"status":  "credited",
		"address": address,
		"amount":  req.Amount,
	})
}
