package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupMiddlewareTest() (*Manager, string, *APIKey) {
	mgr := NewManager(NewMemoryStore())
	rawKey, key, _ := mgr.GenerateKey(context.Background(), "0xAbC0000000000000000000000000000000000001", "test-key")
	return mgr, rawKey, key
}

func TestMiddleware_ValidKey_SetsContext(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", "Bearer "+rawKey)

	Middleware(mgr)(c)

	if got := CallerAddr(c); got != "0xabc0000000000000000000000000000000000001" {
		t.Errorf("Expected lowercased caller, got %q", got)
	}
	key, ok := GetAPIKey(c)
	if !ok {
		t.Fatal("Expected API key to be set in context")
	}
	if key.Name != "test-key" {
		t.Errorf("Expected key name 'test-key', got %s", key.Name)
	}
}

func TestMiddleware_ValidKeyViaXAPIKey(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("X-API-Key", rawKey)

	Middleware(mgr)(c)

	if !IsAuthenticated(c) {
		t.Error("Expected auth via X-API-Key header")
	}
}

func TestMiddleware_InvalidKey_DoesNotAbort(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", "sk_invalid")

	Middleware(mgr)(c)

	if c.IsAborted() {
		t.Error("Middleware should not abort on invalid key")
	}
	if IsAuthenticated(c) {
		t.Error("Invalid key must not authenticate")
	}
	if CallerAddr(c) != "" {
		t.Error("Caller should be empty for invalid key")
	}
}

func TestMiddleware_RevokedKey_DoesNotSetContext(t *testing.T) {
	mgr, rawKey, key := setupMiddlewareTest()
	if err := mgr.RevokeKey(context.Background(), key.ID, key.OwnerAddr); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", rawKey)

	Middleware(mgr)(c)

	if IsAuthenticated(c) {
		t.Error("Revoked key must not authenticate")
	}
}

func TestRequireAuth_NoAuth_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/v1/escrow", nil)

	RequireAuth()(c)

	if !c.IsAborted() {
		t.Error("Expected request to be aborted")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_WithAuth_Passes(t *testing.T) {
	_, _, key := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/v1/escrow", nil)
	c.Set(ContextKeyAPIKey, key)

	RequireAuth()(c)

	if c.IsAborted() {
		t.Error("Expected request to pass")
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   int
		abort  bool
	}{
		{"correct secret", "s3cret", "s3cret", http.StatusOK, false},
		{"wrong secret", "s3cret", "nope", http.StatusUnauthorized, true},
		{"missing header", "s3cret", "", http.StatusUnauthorized, true},
		{"not configured", "", "anything", http.StatusForbidden, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request, _ = http.NewRequest("POST", "/deposit", nil)
			if tt.header != "" {
				c.Request.Header.Set(AdminSecretHeader, tt.header)
			}

			RequireAdmin(tt.secret)(c)

			if c.IsAborted() != tt.abort {
				t.Errorf("aborted = %v, want %v", c.IsAborted(), tt.abort)
			}
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestGetAPIKey_Missing(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	if _, ok := GetAPIKey(c); ok {
		t.Error("Expected no API key")
	}
	if IsAuthenticated(c) {
		t.Error("Expected unauthenticated")
	}
}
