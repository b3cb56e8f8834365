package deed

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/propertyescrow/internal/auth"
	"github.com/mbd888/propertyescrow/internal/validation"
)

// Handler provides HTTP endpoints for the deed registry
type Handler struct {
	registry *Registry
}

// NewHandler creates a new deed handler
func NewHandler(r *Registry) *Handler {
	return &Handler{registry: r}
}

// RegisterRoutes sets up public deed routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/deeds", h.ListByOwner)
	r.GET("/deeds/:id", h.Get)
}

// RegisterProtectedRoutes sets up routes that act as the authenticated caller
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/deeds", h.Mint)
	r.POST("/deeds/:id/approve", h.Approve)
}

// MintRequest is the body for POST /deeds.
type MintRequest struct {
	TokenURI string `json:"tokenUri" binding:"required"`
}

// Mint issues a deed to the caller.
func (h *Handler) Mint(c *gin.Context) {
	caller := auth.CallerAddr(c)
	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tokenUri is required"})
		return
	}
	if errs := validation.Validate(
		validation.MaxLength("tokenUri", req.TokenURI, 2048),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": errs.Error()})
		return
	}

	d, err := h.registry.Mint(c.Request.Context(), caller, validation.SanitizeString(req.TokenURI, 2048))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"deed": d})
}

// ApproveRequest is the body for POST /deeds/:id/approve.
type ApproveRequest struct {
	Operator string `json:"operator" binding:"required"`
}

// Approve lets an operator (usually the escrow identity) move the deed.
func (h *Handler) Approve(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "operator is required"})
		return
	}
	operator := validation.SanitizeAddress(req.Operator)
	if !validation.IsValidEthAddress(operator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "operator must be a valid Ethereum address"})
		return
	}

	d, err := h.registry.Approve(c.Request.Context(), auth.CallerAddr(c), c.Param("id"), operator)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deed": d})
}

// Get returns a deed by ID.
func (h *Handler) Get(c *gin.Context) {
	d, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deed": d})
}

// ListByOwner handles GET /deeds?owner=0x...
func (h *Handler) ListByOwner(c *gin.Context) {
	owner := strings.ToLower(c.Query("owner"))
	if !validation.IsValidEthAddress(owner) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "owner query parameter must be a valid address"})
		return
	}
	deeds, err := h.registry.ListByOwner(c.Request.Context(), owner, 50)
	if err != nil {
		writeError(c, err)
		return
	}
	if deeds == nil {
		deeds = []*Deed{}
	}
	c.JSON(http.StatusOK, gin.H{"deeds": deeds, "count": len(deeds)})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDeedNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_owner", "message": err.Error()})
	case errors.Is(err, ErrNotApproved):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_approved", "message": err.Error()})
	case errors.Is(err, ErrInvalidOwner):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Deed registry error"})
	}
}
