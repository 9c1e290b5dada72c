// Package authn implements the three credential verifiers: user JWT,
// API-key+secret with hourly rate limiting, and internal service tokens.
package authn

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	svcerrors "github.com/r3e-network/gateway-core/infrastructure/errors"
)

const (
	jwtIssuer   = "gateway-core"
	jwtAudience = "gateway-services"

	accessTokenTTL  = 30 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

// TokenType distinguishes an access token from a refresh token; both carry
// the same claim shape but only an access token authorizes a request.
type TokenType string

const (
	TokenAccess  TokenType = "access_token"
	TokenRefresh TokenType = "refresh_token"
)

// UserClaims is the payload of a user JWT.
type UserClaims struct {
	UserID      string    `json:"user_id"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	Type        TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair is returned on login/refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Denylist tracks revoked JWT IDs until their natural expiry, after which a
// janitor sweep removes them.
type Denylist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
	Sweep(ctx context.Context) error
}

// JWTVerifier issues and verifies user access/refresh token pairs.
type JWTVerifier struct {
	secret   []byte
	denylist Denylist
}

func NewJWTVerifier(secret string, denylist Denylist) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), denylist: denylist}
}

// IssueTokenPair mints a fresh access+refresh pair for a user.
func (v *JWTVerifier) IssueTokenPair(userID string, roles, permissions []string) (TokenPair, error) {
	now := time.Now()
	access, err := v.sign(UserClaims{
		UserID:      userID,
		Roles:       roles,
		Permissions: permissions,
		Type:        TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    jwtIssuer,
			Audience:  jwt.ClaimStrings{jwtAudience},
			ID:        newJTI(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := v.sign(UserClaims{
		UserID: userID,
		Type:   TokenRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    jwtIssuer,
			Audience:  jwt.ClaimStrings{jwtAudience},
			ID:        newJTI(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(refreshTokenTTL)),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

func (v *JWTVerifier) sign(claims UserClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify checks signature, expiry, audience, issuer, token type, and the
// revocation denylist. On success it returns the decoded claims.
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string, want TokenType) (*UserClaims, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, svcerrors.AuthenticationFailed("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithIssuer(jwtIssuer), jwt.WithAudience(jwtAudience))
	if err != nil || !token.Valid {
		return nil, svcerrors.AuthenticationFailed("invalid or expired token")
	}
	if claims.Type != want {
		return nil, svcerrors.AuthenticationFailed("unexpected token type")
	}

	if v.denylist != nil {
		revoked, err := v.denylist.Contains(ctx, claims.ID)
		if err != nil {
			return nil, svcerrors.Internal("denylist lookup failed", err)
		}
		if revoked {
			return nil, svcerrors.AuthenticationFailed("token has been revoked")
		}
	}

	return claims, nil
}

// Refresh verifies a refresh token and issues a new access token without
// extending the refresh token's own lifetime.
func (v *JWTVerifier) Refresh(ctx context.Context, refreshToken string, roles, permissions []string) (TokenPair, error) {
	claims, err := v.Verify(ctx, refreshToken, TokenRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	now := time.Now()
	access, err := v.sign(UserClaims{
		UserID:      claims.UserID,
		Roles:       roles,
		Permissions: permissions,
		Type:        TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			Issuer:    jwtIssuer,
			Audience:  jwt.ClaimStrings{jwtAudience},
			ID:        newJTI(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Revoke adds a token's JTI to the denylist until it naturally expires.
func (v *JWTVerifier) Revoke(ctx context.Context, claims *UserClaims) error {
	if v.denylist == nil {
		return nil
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	} else {
		expiresAt = time.Now().Add(accessTokenTTL)
	}
	return v.denylist.Add(ctx, claims.ID, expiresAt)
}
