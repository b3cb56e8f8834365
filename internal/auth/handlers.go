package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/propertyescrow/internal/validation"
)

// Handler provides HTTP endpoints for API key management
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterRoutes sets up the public auth routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth/info", h.Info)
	r.POST("/auth/keys", h.IssueKey)
}

// RegisterProtectedRoutes sets up routes that need an API key.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
	r.GET("/auth/keys", h.ListKeys)
	r.DELETE("/auth/keys/:keyId", h.RevokeKey)
}

// Info describes how to authenticate.
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":         "api_key",
		"header":       "Authorization: Bearer sk_...",
		"altHeader":    "X-API-Key: sk_...",
		"issue":        "POST /v1/auth/keys with {address, message, signature}",
		"messageShape": loginPrefix + "|{address}|{unix seconds}",
		"maxAgeSecs":   int(LoginWindow.Seconds()),
	})
}

// IssueKeyRequest is the body for POST /auth/keys.
type IssueKeyRequest struct {
	Address   string `json:"address" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Name      string `json:"name"`
}

// IssueKey trades a signed login message for a new API key.
func (h *Handler) IssueKey(c *gin.Context) {
	var req IssueKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "address, message and signature are required",
		})
		return
	}
	addr := validation.SanitizeAddress(req.Address)
	if !validation.IsValidEthAddress(addr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
		})
		return
	}

	rawKey, key, err := h.manager.IssueForSignature(c.Request.Context(), addr, req.Message, req.Signature,
		validation.SanitizeString(req.Name, 255))
	if err != nil {
		switch {
		case errors.Is(err, ErrMalformedLogin):
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_message", "message": err.Error()})
		case errors.Is(err, ErrStaleLogin):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "stale_message", "message": err.Error()})
		case errors.Is(err, ErrBadSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad_signature", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to create API key"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"address": key.OwnerAddr,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// ListKeys returns API keys for the authenticated address
func (h *Handler) ListKeys(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keys, err := h.manager.ListKeys(c.Request.Context(), key.OwnerAddr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list keys"})
		return
	}

	safeKeys := make([]gin.H, len(keys))
	for i, k := range keys {
		safeKeys[i] = gin.H{
			"id":        k.ID,
			"name":      k.Name,
			"createdAt": k.CreatedAt,
			"lastUsed":  k.LastUsed,
			"revoked":   k.Revoked,
		}
	}
	c.JSON(http.StatusOK, gin.H{"keys": safeKeys, "count": len(safeKeys)})
}

// RevokeKey revokes one of the caller's other keys.
func (h *Handler) RevokeKey(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keyID := strings.TrimSpace(c.Param("keyId"))
	if keyID == key.ID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "cannot_revoke_current",
			"message": "Cannot revoke the key you're using",
		})
		return
	}

	if err := h.manager.RevokeKey(c.Request.Context(), keyID, key.OwnerAddr); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "key_not_found",
			"message": "Key not found or already revoked",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key revoked", "keyId": keyID})
}

// Me returns the identity behind the presented key.
func (h *Handler) Me(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":   key.OwnerAddr,
		"keyId":     key.ID,
		"keyName":   key.Name,
		"createdAt": key.CreatedAt,
	})
}
