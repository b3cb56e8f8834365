// Package auth issues and validates API keys for escrow participants.
//
// Authentication model:
//   - Reads (escrow state, roles, balances) need no auth
//   - Mutations (list, deposit, inspect, approve, finalize, cancel) need an
//     API key; the key's owner address is the caller the escrow ledger sees
//   - Keys are issued to whoever proves control of an address by signing a
//     fresh login message (EIP-191 personal_sign)
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Errors
var (
	ErrNoAPIKey       = errors.New("API key required")
	ErrInvalidAPIKey  = errors.New("invalid or expired API key")
	ErrKeyNotFound    = errors.New("API key not found")
	ErrBadSignature   = errors.New("signature does not match address")
	ErrStaleLogin     = errors.New("login message expired")
	ErrMalformedLogin = errors.New("malformed login message")
)

// LoginWindow bounds how old a signed login message may be.
const LoginWindow = 5 * time.Minute

// APIKey represents an API key
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`         // SHA256 hash of key (stored)
	OwnerAddr string     `json:"ownerAddr"` // lowercase address the key acts as
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists API keys
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetByOwner(ctx context.Context, addr string) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
}

// Manager handles authentication
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates a new auth manager
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// GenerateKey creates a new API key for an address.
// Returns the raw key (shown once) and the stored metadata.
func (m *Manager) GenerateKey(ctx context.Context, ownerAddr, name string) (rawKey string, key *APIKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey = "sk_" + hex.EncodeToString(b)

	key = &APIKey{
		ID:        "ak_" + hex.EncodeToString(b[:8]),
		Hash:      hashKey(rawKey),
		OwnerAddr: strings.ToLower(ownerAddr),
		Name:      name,
		CreatedAt: m.now(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// IssueForSignature verifies that signature is addr's EIP-191 signature
// over a LoginMessage no older than LoginWindow, then issues a key.
func (m *Manager) IssueForSignature(ctx context.Context, addr, message, signature, name string) (string, *APIKey, error) {
	signedAddr, ts, err := ParseLoginMessage(message)
	if err != nil {
		return "", nil, err
	}
	if !strings.EqualFold(signedAddr, addr) {
		return "", nil, fmt.Errorf("%w: message names %s", ErrBadSignature, signedAddr)
	}
	age := m.now().Sub(ts)
	if age > LoginWindow || age < -LoginWindow {
		return "", nil, ErrStaleLogin
	}
	if err := VerifySignature(message, signature, addr); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if name == "" {
		name = "default"
	}
	return m.GenerateKey(ctx, addr, name)
}

// ValidateKey validates an API key and returns the key metadata
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}

	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if !strings.HasPrefix(rawKey, "sk_") {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && m.now().After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	// Update last used (fire and forget)
	touched := *key
	touched.LastUsed = m.now()
	go func() {
		_ = m.store.Update(context.Background(), &touched)
	}()

	return key, nil
}

// ListKeys returns all keys for an address
func (m *Manager) ListKeys(ctx context.Context, ownerAddr string) ([]*APIKey, error) {
	return m.store.GetByOwner(ctx, strings.ToLower(ownerAddr))
}

// RevokeKey revokes an API key owned by ownerAddr.
func (m *Manager) RevokeKey(ctx context.Context, keyID, ownerAddr string) error {
	keys, err := m.store.GetByOwner(ctx, strings.ToLower(ownerAddr))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID && !k.Revoked {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}
	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by ID
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]*APIKey),
	}
}

func (s *MemoryStore) Create(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) GetByOwner(_ context.Context, addr string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*APIKey
	for _, k := range s.keys {
		if strings.EqualFold(k.OwnerAddr, addr) {
			cp := *k
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.keys[key.ID]
	if !ok {
		return ErrKeyNotFound
	}
	// Revocation is sticky; a late LastUsed touch must not undo it.
	revoked := existing.Revoked || key.Revoked
	cp := *key
	cp.Revoked = revoked
	s.keys[key.ID] = &cp
	return nil
}
