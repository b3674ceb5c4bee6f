// Package services holds stateless helpers shared by the API and the CLI.
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is written into every issued token
const DefaultIssuer = "pipelinestudio"

// ErrInvalidToken is returned for tokens that fail signature, expiry or claim checks
var ErrInvalidToken = errors.New("invalid token")

// TokenService handles JWT token generation and validation
type TokenService struct {
	secret          []byte
	tokenExpiration time.Duration
	now             func() time.Time
}

// NewTokenService creates a new token service. A non-positive expiration defaults to 24 hours.
func NewTokenService(secret string, expirationHours int) *TokenService {
	if expirationHours <= 0 {
		expirationHours = 24
	}
	return &TokenService{
		secret:          []byte(secret),
		tokenExpiration: time.Duration(expirationHours) * time.Hour,
		now:             time.Now,
	}
}

// Claims represents the JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Principal identifies the caller of an authenticated request
type Principal struct {
	UserID   string
	TenantID string
}

// GenerateToken issues a signed token for a user within a tenant
func (s *TokenService) GenerateToken(userID, tenantID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := s.now()
	claims := Claims{
		UserID:   userID,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    DefaultIssuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken verifies a token and returns the principal it names
func (s *TokenService) ValidateToken(tokenString string) (Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(DefaultIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return Principal{}, fmt.Errorf("%w: missing user claim", ErrInvalidToken)
	}
	return Principal{UserID: claims.UserID, TenantID: claims.TenantID}, nil
}
