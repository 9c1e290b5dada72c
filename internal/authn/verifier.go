package authn

import (
	"context"
	"net/http"

	svcerrors "github.com/r3e-network/gateway-core/infrastructure/errors"
)

// CredentialVerifier is the single authentication entrypoint a router plane
// calls into. It tries, in order, the internal service token, the API key
// pair, and the user JWT, since a request carries at most one credential
// family and each family has a disjoint set of headers to probe.
type CredentialVerifier struct {
	jwt      *JWTVerifier
	apiKeys  *KeyManager
	internal *InternalTokenManager
}

func NewCredentialVerifier(jwt *JWTVerifier, apiKeys *KeyManager, internal *InternalTokenManager) *CredentialVerifier {
	return &CredentialVerifier{jwt: jwt, apiKeys: apiKeys, internal: internal}
}

// Authenticate inspects a request's headers and query string for a supported
// credential and returns the resulting Principal. It returns an
// AuthenticationFailed ServiceError when no credential is present or none of
// the present credentials verify.
func (v *CredentialVerifier) Authenticate(ctx context.Context, r *http.Request) (Principal, error) {
	header := func(k string) string { return r.Header.Get(k) }
	auth := r.Header.Get("Authorization")
	query := func(k string) string { return r.URL.Query().Get(k) }

	if tok := ExtractInternalToken(header, auth, query); tok != "" && v.internal != nil {
		claims, err := v.internal.Verify(ctx, tok)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Kind: "internal_service", Subject: claims.ServiceName, Permissions: claims.Permissions}, nil
	}

	if keyID, secret := ExtractAPIKey(header, auth, query); keyID != "" && secret != "" && v.apiKeys != nil {
		key, err := v.apiKeys.Verify(ctx, keyID, secret)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Kind: "api_key", Subject: key.KeyID, Permissions: key.Permissions}, nil
	}

	if tok := bearerToken(auth); tok != "" && v.jwt != nil {
		claims, err := v.jwt.Verify(ctx, tok, TokenAccess)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Kind: "user", Subject: claims.UserID, Roles: claims.Roles, Permissions: claims.Permissions}, nil
	}

	return Principal{}, svcerrors.AuthenticationFailed("no credential provided")
}

func bearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && authHeader[:len(prefix)] == prefix {
		return authHeader[len(prefix):]
	}
	return ""
}
