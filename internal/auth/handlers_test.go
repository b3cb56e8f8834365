package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthRouter(mgr *Manager) *gin.Engine {
	r := gin.New()
	h := NewHandler(mgr)
	v1 := r.Group("/v1")
	v1.Use(Middleware(mgr))
	h.RegisterRoutes(v1)
	protected := v1.Group("")
	protected.Use(RequireAuth())
	h.RegisterProtectedRoutes(protected)
	return r
}

func doJSON(r http.Handler, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_IssueKeyAndMe(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := strings.ToLower(crypto.PubkeyToAddress(priv.PublicKey).Hex())

	mgr := NewManager(NewMemoryStore())
	r := setupAuthRouter(mgr)

	msg := LoginMessage(addr, time.Now())
	w := doJSON(r, http.MethodPost, "/v1/auth/keys", "", IssueKeyRequest{
		Address: addr, Message: msg, Signature: sign(t, priv, msg), Name: "laptop",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var issued struct {
		APIKey  string `json:"apiKey"`
		KeyID   string `json:"keyId"`
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	assert.Equal(t, addr, issued.Address)

	w = doJSON(r, http.MethodGet, "/v1/auth/me", issued.APIKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), addr)

	w = doJSON(r, http.MethodDelete, "/v1/auth/keys/"+issued.KeyID, issued.APIKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "cannot revoke the key in use")
}

func TestHandler_IssueKey_BadSignature(t *testing.T) {
	priv, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	addr := strings.ToLower(crypto.PubkeyToAddress(priv.PublicKey).Hex())

	r := setupAuthRouter(NewManager(NewMemoryStore()))
	msg := LoginMessage(addr, time.Now())

	w := doJSON(r, http.MethodPost, "/v1/auth/keys", "", IssueKeyRequest{
		Address: addr, Message: msg, Signature: sign(t, other, msg),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "bad_signature")
}

func TestHandler_IssueKey_Validation(t *testing.T) {
	r := setupAuthRouter(NewManager(NewMemoryStore()))

	w := doJSON(r, http.MethodPost, "/v1/auth/keys", "", map[string]string{"address": testAddr})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/auth/keys", "", IssueKeyRequest{
		Address: "0x12", Message: "m", Signature: "0x00",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_address")
}

func TestHandler_ListAndRevoke(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	r := setupAuthRouter(mgr)
	ctx := context.Background()

	raw, _, _ := mgr.GenerateKey(ctx, testAddr, "one")
	_, second, _ := mgr.GenerateKey(ctx, testAddr, "two")

	w := doJSON(r, http.MethodGet, "/v1/auth/keys", raw, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
	assert.NotContains(t, w.Body.String(), "hash")

	w = doJSON(r, http.MethodDelete, "/v1/auth/keys/"+second.ID, raw, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/v1/auth/keys/"+second.ID, raw, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/auth/keys", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
