package authn

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	svcerrors "github.com/r3e-network/gateway-core/infrastructure/errors"
)

// APIKey is a long-lived external credential: a public key_id paired with a
// bcrypt-hashed secret, a fixed permission set, and an hourly request quota.
type APIKey struct {
	KeyID      string
	SecretHash string
	Name       string
	Permissions []string
	RateLimit  int // requests per rolling hour
	ExpiresAt  *time.Time
	IsActive   bool
	Metadata   map[string]string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	UsageCount int64
}

// RateLimiter enforces the hourly request quota per API key. Allow records
// one unit of usage and reports whether the caller is still within budget.
type RateLimiter interface {
	Allow(ctx context.Context, keyID string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

// KeyStore persists API keys. The in-memory implementation below backs
// single-instance deployments; a durable implementation can satisfy the same
// interface against the bridge's database.
type KeyStore interface {
	Get(ctx context.Context, keyID string) (*APIKey, error)
	Put(ctx context.Context, key *APIKey) error
	List(ctx context.Context) ([]*APIKey, error)
	Delete(ctx context.Context, keyID string) error
}

// MemoryKeyStore is a process-local KeyStore, adequate for a single gateway
// instance or for tests.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]*APIKey)}
}

func (s *MemoryKeyStore) Get(_ context.Context, keyID string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, svcerrors.NotFound("api key: " + keyID)
	}
	clone := *k
	return &clone, nil
}

func (s *MemoryKeyStore) Put(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *key
	s.keys[key.KeyID] = &clone
	return nil
}

func (s *MemoryKeyStore) List(_ context.Context) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		clone := *k
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryKeyStore) Delete(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, keyID)
	return nil
}

// KeyManager issues, verifies, and revokes API keys.
type KeyManager struct {
	store   KeyStore
	limiter RateLimiter
}

func NewKeyManager(store KeyStore, limiter RateLimiter) *KeyManager {
	return &KeyManager{store: store, limiter: limiter}
}

const defaultRateLimit = 1000

// CreateKey mints a new key_id/secret pair and stores the bcrypt hash of the
// secret. The plaintext secret is returned exactly once and never stored.
func (m *KeyManager) CreateKey(ctx context.Context, name string, permissions []string, rateLimit int, expiresIn *time.Duration, metadata map[string]string) (keyID, secret string, err error) {
	keyID, secret = GenerateAPIKeyPair()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", svcerrors.Internal("failed to hash api key secret", err)
	}
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}

	var expiresAt *time.Time
	if expiresIn != nil {
		t := time.Now().Add(*expiresIn)
		expiresAt = &t
	}

	key := &APIKey{
		KeyID:       keyID,
		SecretHash:  string(hash),
		Name:        name,
		Permissions: permissions,
		RateLimit:   rateLimit,
		ExpiresAt:   expiresAt,
		IsActive:    true,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}
	if err := m.store.Put(ctx, key); err != nil {
		return "", "", err
	}
	return keyID, secret, nil
}

// Verify validates a key_id/secret pair against storage, checks activation
// and expiry, enforces the hourly rate limit, and records usage on success.
func (m *KeyManager) Verify(ctx context.Context, keyID, secret string) (*APIKey, error) {
	key, err := m.store.Get(ctx, keyID)
	if err != nil {
		return nil, svcerrors.AuthenticationFailed("invalid api key")
	}
	if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) != nil {
		return nil, svcerrors.AuthenticationFailed("invalid api key")
	}
	if !key.IsActive {
		return nil, svcerrors.AuthenticationFailed("api key has been revoked")
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, svcerrors.AuthenticationFailed("api key has expired")
	}

	allowed, remaining, resetAt, err := m.limiter.Allow(ctx, keyID, key.RateLimit)
	if err != nil {
		return nil, svcerrors.Internal("rate limit check failed", err)
	}
	if !allowed {
		return nil, svcerrors.RateLimited(key.RateLimit, resetAt.Format(time.RFC3339)).WithDetails("remaining", remaining)
	}

	now := time.Now()
	key.LastUsedAt = &now
	key.UsageCount++
	_ = m.store.Put(ctx, key)

	return key, nil
}

// Revoke deactivates an API key; it remains in storage for audit purposes.
func (m *KeyManager) Revoke(ctx context.Context, keyID string) error {
	key, err := m.store.Get(ctx, keyID)
	if err != nil {
		return err
	}
	key.IsActive = false
	return m.store.Put(ctx, key)
}

// HasPermission checks a key's fixed permission set, honoring "prefix:*"
// wildcards, the same convention used for internal tokens (roles use the
// "resource.*" form instead).
func (k *APIKey) HasPermission(required string) bool {
	if required == "" {
		return true
	}
	for _, p := range k.Permissions {
		if p == required {
			return true
		}
		if strings.HasSuffix(p, ":*") && strings.HasPrefix(required, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

// ExtractAPIKey pulls a key_id/secret pair from a request, trying in order:
// X-API-Key/X-API-Secret headers, "Authorization: Bearer <id>:<secret>",
// then api_key/api_secret query parameters. The query parameters are read
// on every call; no debug or test-only gate applies.
func ExtractAPIKey(headerValue func(string) string, authHeader string, queryParam func(string) string) (keyID, secret string) {
	if id, sec := headerValue("X-API-Key"), headerValue("X-API-Secret"); id != "" && sec != "" {
		return id, sec
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if idx := strings.Index(token, ":"); idx > 0 {
			return token[:idx], token[idx+1:]
		}
	}
	if id, sec := queryParam("api_key"), queryParam("api_secret"); id != "" && sec != "" {
		return id, sec
	}
	return "", ""
}
