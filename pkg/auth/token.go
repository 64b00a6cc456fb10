// Package auth generates and hashes the console's opaque bearer credentials:
// admin session tokens and data-plane API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// AdminTokenPrefix identifies admin session tokens
	AdminTokenPrefix = "gxr_"
	// APIKeyPrefix identifies data-plane API keys
	APIKeyPrefix = "gxrk_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and validates opaque tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateAdminToken creates a new admin session token.
// Format: gxr_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateAdminToken() (token string, tokenHash string, err error) {
	return tg.generate(AdminTokenPrefix)
}

// GenerateAPIKey creates a new data-plane API key.
// Format: gxrk_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateAPIKey() (key string, err error) {
	key, _, err = tg.generate(APIKeyPrefix)
	return key, err
}

func (tg *TokenGenerator) generate(prefix string) (string, string, error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	full := prefix + base64.RawURLEncoding.EncodeToString(randomBytes)

	// SHA256 hash for server-side storage; the raw value is never persisted
	hash := sha256.Sum256([]byte(full))
	return full, hex.EncodeToString(hash[:]), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if an admin token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, AdminTokenPrefix) {
		return fmt.Errorf("token must start with %q", AdminTokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, AdminTokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// SecureCompare compares two secrets in constant time
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
