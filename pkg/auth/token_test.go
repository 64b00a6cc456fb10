package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAdminToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, hash, err := tg.GenerateAdminToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, AdminTokenPrefix))
	assert.Len(t, hash, 64) // hex-encoded sha256
	assert.Equal(t, hash, tg.HashToken(token))
	assert.NoError(t, tg.ValidateTokenFormat(token))

	// Tokens must be unique
	token2, _, err := tg.GenerateAdminToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}

func TestGenerateAPIKey(t *testing.T) {
	tg := NewTokenGenerator()

	key, err := tg.GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, APIKeyPrefix))
}

func TestValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"missing prefix", "abc123", true},
		{"empty after prefix", "gxr_", true},
		{"invalid base64url", "gxr_!!!!", true},
		{"valid", "gxr_YWJjZGVmZ2hpamtsbW5vcA", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateTokenFormat(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare("secret", "secret"))
	assert.False(t, SecureCompare("secret", "Secret"))
	assert.False(t, SecureCompare("secret", ""))
}
