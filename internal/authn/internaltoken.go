package authn

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	svcerrors "github.com/r3e-network/gateway-core/infrastructure/errors"
)

const (
	internalTokenIssuer = "gateway-core"
	internalTokenType   = "internal_token"
	internalTokenTTL    = 1 * time.Hour
)

// knownServices is the closed allow-list of services entitled to mint and
// hold an internal token. Unlike user roles, this set is fixed at compile
// time: onboarding a new service is a deploy, not a runtime operation.
var knownServices = map[string]string{
	"gateway-service":         "API gateway",
	"agent-service":           "agent execution service",
	"knowledge-service":       "knowledge base service",
	"model-service":           "model inference service",
	"base-service":            "shared base service",
	"database-service":        "database service",
	"system-service":          "system management service",
	"knowledge-graph-service": "knowledge graph service",
	"mcp-service":             "MCP service",
}

// InternalClaims is the payload of a service-to-service internal token.
type InternalClaims struct {
	ServiceName        string   `json:"service_name"`
	ServiceDescription string   `json:"service_description"`
	Permissions        []string `json:"permissions"`
	Type               string   `json:"type"`
	Issuer             string   `json:"issuer"`
	jwt.RegisteredClaims
}

// InternalTokenManager issues and verifies internal service tokens, and
// caches one self-issued token per known service for outbound calls.
type InternalTokenManager struct {
	secret []byte
	mu     sync.Mutex
	cache  map[string]string
}

func NewInternalTokenManager(secret string) *InternalTokenManager {
	return &InternalTokenManager{
		secret: []byte(secret),
		cache:  make(map[string]string),
	}
}

// IsKnownService reports whether name is in the closed service allow-list.
func IsKnownService(name string) bool {
	_, ok := knownServices[name]
	return ok
}

// KnownServiceNames lists every service entitled to an internal token, for
// callers that pre-generate or refresh the whole set (the composed root's
// service-token self-issuance at boot).
func KnownServiceNames() []string {
	names := make([]string, 0, len(knownServices))
	for name := range knownServices {
		names = append(names, name)
	}
	return names
}

// GenerateToken mints a new internal token for serviceName. An empty
// permissions slice defaults to implicit "system:*", matching the
// allow-everything posture internal callers are trusted with.
func (m *InternalTokenManager) GenerateToken(serviceName string, permissions []string) (string, error) {
	desc, ok := knownServices[serviceName]
	if !ok {
		return "", svcerrors.BadRequest("unknown internal service: " + serviceName)
	}
	if len(permissions) == 0 {
		permissions = []string{"system:*"}
	}

	now := time.Now()
	claims := InternalClaims{
		ServiceName:        serviceName,
		ServiceDescription: desc,
		Permissions:        permissions,
		Type:               internalTokenType,
		Issuer:             internalTokenIssuer,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        newJTI(),
			Subject:   serviceName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(internalTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify validates signature, expiry, declared type, issuer, and service
// membership in the allow-list.
func (m *InternalTokenManager) Verify(_ context.Context, tokenString string) (*InternalClaims, error) {
	claims := &InternalClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, svcerrors.AuthenticationFailed("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, svcerrors.AuthenticationFailed("invalid or expired internal token")
	}
	if claims.Type != internalTokenType {
		return nil, svcerrors.AuthenticationFailed("invalid internal token type")
	}
	if claims.Issuer != internalTokenIssuer {
		return nil, svcerrors.AuthenticationFailed("invalid internal token issuer")
	}
	if !IsKnownService(claims.ServiceName) {
		return nil, svcerrors.AuthenticationFailed("unknown internal service")
	}
	return claims, nil
}

// HasPermission checks an internal claim set against a required permission,
// honoring "prefix:*" wildcards and the implicit "system:*" blanket grant.
func HasPermission(claims *InternalClaims, required string) bool {
	for _, p := range claims.Permissions {
		if p == required || p == "system:*" {
			return true
		}
		if strings.HasSuffix(p, ":*") && strings.HasPrefix(required, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

// ServiceToken returns the cached self-issued token for serviceName,
// generating and caching one on first use.
func (m *InternalTokenManager) ServiceToken(serviceName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok, ok := m.cache[serviceName]; ok {
		return tok, nil
	}
	tok, err := m.GenerateToken(serviceName, nil)
	if err != nil {
		return "", err
	}
	m.cache[serviceName] = tok
	return tok, nil
}

// RefreshServiceToken forces a new self-issued token for serviceName,
// replacing any cached one.
func (m *InternalTokenManager) RefreshServiceToken(serviceName string) (string, error) {
	tok, err := m.GenerateToken(serviceName, nil)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.cache[serviceName] = tok
	m.mu.Unlock()
	return tok, nil
}

// ExtractInternalToken pulls an internal token out of a request's headers or
// query parameters, in priority order: X-Internal-Token header,
// "Authorization: Internal <token>", then the "internal_token" query param.
// The query parameter is read on every call; no debug-only gate applies.
func ExtractInternalToken(headerValue func(string) string, authHeader string, queryParam func(string) string) string {
	if v := headerValue("X-Internal-Token"); v != "" {
		return v
	}
	if strings.HasPrefix(authHeader, "Internal ") {
		return strings.TrimPrefix(authHeader, "Internal ")
	}
	return queryParam("internal_token")
}
