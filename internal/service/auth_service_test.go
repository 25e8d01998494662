package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stemsi/exstem-runtime/internal/config"
)

func testAuth() *AuthService {
	return NewAuthService(&config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}, nil, nil)
}

func TestIssueAndValidateToken(t *testing.T) {
	s := testAuth()
	token, err := s.IssueToken(7, "jti-1", time.Now())
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.UserID)
	assert.Equal(t, "jti-1", claims.ID)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	s := testAuth()
	token, err := s.IssueToken(7, "jti", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour}, nil, nil)
	token, err := other.IssueToken(7, "jti", time.Now())
	require.NoError(t, err)

	_, err = testAuth().ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsNonStudent(t *testing.T) {
	s := testAuth()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		TokenType:        "admin",
		UserID:           1,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	s := testAuth()
	hash, err := s.HashPassword("rahasia123")
	require.NoError(t, err)

	assert.NoError(t, s.CheckPassword(hash, "rahasia123"))
	assert.ErrorIs(t, s.CheckPassword(hash, "salah"), ErrInvalidCredentials)
}
