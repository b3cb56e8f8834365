package escrow

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/propertyescrow/internal/auth"
	"github.com/mbd888/propertyescrow/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	asset := validation.AssetIDParamMiddleware()
	addr := validation.AddressParamMiddleware()

	r.GET("/escrow/roles", h.GetRoles)
	r.GET("/escrow/:assetId", asset, h.GetEscrow)
	r.GET("/escrow/:assetId/approvals/:address", asset, addr, h.GetApproval)
	r.GET("/escrow/:assetId/balance", asset, h.GetBalance)
	r.GET("/escrow/:assetId/events", asset, h.GetEvents)
	r.GET("/participants/:address/escrows", addr, h.ListEscrows)
}

// RegisterProtectedRoutes sets up protected (auth-required) escrow routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	asset := validation.AssetIDParamMiddleware()

	r.POST("/escrow", h.ListAsset)
	r.POST("/escrow/:assetId/deposit", asset, h.DepositEarnest)
	r.POST("/escrow/:assetId/inspection", asset, h.UpdateInspection)
	r.POST("/escrow/:assetId/approve", asset, h.ApproveSale)
	r.POST("/escrow/:assetId/finalize", asset, h.Finalize)
	r.POST("/escrow/:assetId/cancel", asset, h.Cancel)
}

// GetRoles handles GET /v1/escrow/roles
func (h *Handler) GetRoles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"roles": h.service.Roles()})
}

// ListAsset handles POST /v1/escrow
func (h *Handler) ListAsset(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAssetID("assetId", req.AssetID),
		validation.ValidAmount("purchasePrice", req.PurchasePrice),
		validation.ValidAmount("escrowAmount", req.EscrowAmount),
		validation.ValidAddress("buyer", req.Buyer),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	e, err := h.service.List(c.Request.Context(), auth.CallerAddr(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"escrow": e})
}

// DepositRequest is the body for POST /v1/escrow/:assetId/deposit.
type DepositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// DepositEarnest handles POST /v1/escrow/:assetId/deposit
func (h *Handler) DepositEarnest(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}
	if errs := validation.Validate(validation.ValidAmount("amount", req.Amount)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	e, err := h.service.DepositEarnest(c.Request.Context(), auth.CallerAddr(c), c.Param("assetId"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// InspectionRequest is the body for POST /v1/escrow/:assetId/inspection.
type InspectionRequest struct {
	Passed *bool `json:"passed" binding:"required"`
}

// UpdateInspection handles POST /v1/escrow/:assetId/inspection
func (h *Handler) UpdateInspection(c *gin.Context) {
	var req InspectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "passed is required",
		})
		return
	}

	e, err := h.service.UpdateInspectionStatus(c.Request.Context(), auth.CallerAddr(c), c.Param("assetId"), *req.Passed)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// ApproveSale handles POST /v1/escrow/:assetId/approve
func (h *Handler) ApproveSale(c *gin.Context) {
	e, err := h.service.ApproveSale(c.Request.Context(), auth.CallerAddr(c), c.Param("assetId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// Finalize handles POST /v1/escrow/:assetId/finalize
func (h *Handler) Finalize(c *gin.Context) {
	e, err := h.service.Finalize(c.Request.Context(), auth.CallerAddr(c), c.Param("assetId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// Cancel handles POST /v1/escrow/:assetId/cancel
func (h *Handler) Cancel(c *gin.Context) {
	e, err := h.service.Cancel(c.Request.Context(), auth.CallerAddr(c), c.Param("assetId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// GetEscrow handles GET /v1/escrow/:assetId
func (h *Handler) GetEscrow(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("assetId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// GetApproval handles GET /v1/escrow/:assetId/approvals/:address
func (h *Handler) GetApproval(c *gin.Context) {
	addr := strings.ToLower(c.Param("address"))
	ok, err := h.service.Approval(c.Request.Context(), c.Param("assetId"), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assetId": c.Param("assetId"), "address": addr, "approved": ok})
}

// GetBalance handles GET /v1/escrow/:assetId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	bal, err := h.service.BalanceOf(c.Request.Context(), c.Param("assetId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assetId": c.Param("assetId"), "depositedBalance": bal})
}

// GetEvents handles GET /v1/escrow/:assetId/events
func (h *Handler) GetEvents(c *gin.Context) {
	events, err := h.service.Events(c.Request.Context(), c.Param("assetId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []*Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// ListEscrows handles GET /v1/participants/:address/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	escrows, err := h.service.ListByParticipant(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if escrows == nil {
		escrows = []*Escrow{}
	}
	c.JSON(http.StatusOK, gin.H{"escrows": escrows, "count": len(escrows)})
}

func writeError(c *gin.Context, err error) {
	kind := ErrorKind(err)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": kind, "message": err.Error()})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": kind, "message": err.Error()})
	case errors.Is(err, ErrAlreadyListed), errors.Is(err, ErrTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": kind, "message": err.Error()})
	case errors.Is(err, ErrPreconditionNotMet):
		body := gin.H{"error": kind, "message": err.Error()}
		var pe *PreconditionError
		if errors.As(err, &pe) {
			body["condition"] = pe.Condition
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, ErrInvalidTerms):
		c.JSON(http.StatusBadRequest, gin.H{"error": kind, "message": err.Error()})
	case errors.Is(err, ErrTransferFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": kind, "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Escrow operation failed"})
	}
}
