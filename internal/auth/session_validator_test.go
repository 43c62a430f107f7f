package auth

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenPair(t *testing.T, clock func() time.Time) (*TokenIssuer, *TokenValidator) {
	t.Helper()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		SessionTTL:    time.Hour,
		Clock:         clock,
	})
	validator, err := NewTokenValidator(TokenValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Clock:         clock,
	})
	require.NoError(t, err)
	return issuer, validator
}

func TestTokenValidatorAcceptsIssuedTokens(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestTokenPair(t, func() time.Time { return clockNow })

	signed, _, err := issuer.IssueSessionToken(users.Identity{ID: "user-123", Email: "ada@example.com"})
	require.NoError(t, err)

	claims, err := validator.Validate(signed, PurposeSession)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "ada@example.com", claims.UserEmail)
}

func TestTokenValidatorRejectsExpiredTokens(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestTokenPair(t, func() time.Time { return clockNow })

	signed, _, err := issuer.IssueSessionToken(users.Identity{ID: "user-123"})
	require.NoError(t, err)

	clockNow = clockNow.Add(2 * time.Hour)
	_, err = validator.Validate(signed, PurposeSession)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenValidatorRejectsPurposeMismatch(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestTokenPair(t, func() time.Time { return clockNow })

	signed, _, err := issuer.IssueConfirmationToken(users.Identity{ID: "user-123"})
	require.NoError(t, err)

	_, err = validator.Validate(signed, PurposeSession)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = validator.Validate(signed, PurposeEmailConfirmation)
	assert.NoError(t, err)
}

func TestTokenValidatorRejectsForeignSignatures(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	_, validator := newTestTokenPair(t, func() time.Time { return clockNow })

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		UserID:  "user-123",
		Purpose: PurposeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = validator.Validate(signed, PurposeSession)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenValidatorRejectsEmptyToken(t *testing.T) {
	_, validator := newTestTokenPair(t, time.Now)
	_, err := validator.Validate("", PurposeSession)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestNewTokenValidatorRequiresSecretAndIssuer(t *testing.T) {
	_, err := NewTokenValidator(TokenValidatorConfig{Issuer: testIssuer})
	assert.Error(t, err, "missing secret")
	_, err = NewTokenValidator(TokenValidatorConfig{SigningSecret: []byte("x")})
	assert.Error(t, err, "missing issuer")
}
