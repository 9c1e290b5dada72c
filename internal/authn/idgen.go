package authn

import (
	"crypto/rand"
	"encoding/base64"
)

// randomToken returns base64url-encoded cryptographically random data of the
// given bit length, used for JWT IDs, API key IDs, and API key secrets.
func randomToken(bits int) string {
	buf := make([]byte, bits/8)
	if _, err := rand.Read(buf); err != nil {
		panic("authn: failed to read random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// newJTI generates a fresh JWT ID with 128 bits of randomness.
func newJTI() string {
	return randomToken(128)
}

// GenerateAPIKeyPair produces a new key_id ("ak_" + 128 random bits) and a
// secret (256 random bits), per spec's key-generation semantics.
func GenerateAPIKeyPair() (keyID, secret string) {
	return "ak_" + randomToken(128), randomToken(256)
}
