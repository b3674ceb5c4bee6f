package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", 1)

	token, err := svc.GenerateToken("user-1", "tenant-a")
	require.NoError(t, err)

	p, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "user-1", TenantID: "tenant-a"}, p)
}

func TestGenerateTokenRequiresUser(t *testing.T) {
	_, err := NewTokenService("secret", 1).GenerateToken("", "tenant")
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret", 1).GenerateToken("user-1", "")
	require.NoError(t, err)

	_, err = NewTokenService("other", 1).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewTokenService("secret", 1)
	svc.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	token, err := svc.GenerateToken("user-1", "")
	require.NoError(t, err)

	_, err = NewTokenService("secret", 1).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsForeignIssuerAndAlgorithm(t *testing.T) {
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	})
	signed, err := foreign.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewTokenService("secret", 1).ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: DefaultIssuer},
	})
	none, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewTokenService("secret", 1).ValidateToken(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
