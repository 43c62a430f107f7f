package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jwksFixture struct {
	privateKey *rsa.PrivateKey
	server     *httptest.Server
	requests   atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	fixture := &jwksFixture{privateKey: privateKey}
	jwksResponse := map[string]any{
		"keys": []any{map[string]string{
			"kty": "RSA",
			"alg": "RS256",
			"kid": "test-key",
			"use": "sig",
			"n":   encodeBigInt(privateKey.PublicKey.N),
			"e":   encodeBigInt(privateKey.PublicKey.E),
		}},
	}
	fixture.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/v3/certs" {
			http.NotFound(w, r)
			return
		}
		fixture.requests.Add(1)
		_ = json.NewEncoder(w).Encode(jwksResponse)
	}))
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *jwksFixture) verifier(t *testing.T) *IDTokenVerifier {
	t.Helper()
	verifier, err := NewIDTokenVerifier(IDTokenVerifierConfig{
		Audience:   "test-client",
		JWKSURL:    f.server.URL + "/oauth2/v3/certs",
		HTTPClient: f.server.Client(),
	})
	require.NoError(t, err)
	return verifier
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(f.privateKey)
	require.NoError(t, err)
	return signed
}

func TestIDTokenVerifierValidatesTokenUsingJWKS(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := fixture.verifier(t)

	now := time.Now().UTC()
	signed := fixture.sign(t, jwt.MapClaims{
		"aud":            "test-client",
		"iss":            "https://accounts.google.com",
		"sub":            "user-123",
		"email":          "ada@example.com",
		"email_verified": true,
		"name":           "Ada Lovelace",
		"picture":        "https://example.com/ada.png",
		"exp":            now.Add(5 * time.Minute).Unix(),
		"iat":            now.Unix(),
	})

	verified, err := verifier.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "user-123", verified.Subject)
	assert.Equal(t, "test-client", verified.Audience)
	assert.Equal(t, "ada@example.com", verified.Email)
	assert.True(t, verified.EmailVerified)
	assert.Equal(t, "Ada Lovelace", verified.Name)
	assert.Equal(t, "https://example.com/ada.png", verified.Picture)

	_, err = verifier.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fixture.requests.Load(), "jwks fetched once")
}

func TestIDTokenVerifierRejectsInvalidAudience(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := fixture.verifier(t)

	now := time.Now().UTC()
	signed := fixture.sign(t, jwt.MapClaims{
		"aud": "unexpected-client",
		"iss": "https://accounts.google.com",
		"sub": "user-123",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	})

	_, err := verifier.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIDTokenVerifierRejectsUntrustedIssuer(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := fixture.verifier(t)

	now := time.Now().UTC()
	signed := fixture.sign(t, jwt.MapClaims{
		"aud": "test-client",
		"iss": "https://evil.example.com",
		"sub": "user-123",
		"exp": now.Add(5 * time.Minute).Unix(),
	})

	_, err := verifier.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIDTokenVerifierReportsExpiredTokens(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := fixture.verifier(t)

	now := time.Now().UTC()
	signed := fixture.sign(t, jwt.MapClaims{
		"aud": "test-client",
		"iss": "accounts.google.com",
		"sub": "user-123",
		"exp": now.Add(-time.Minute).Unix(),
	})

	_, err := verifier.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestIDTokenVerifierRequiresToken(t *testing.T) {
	fixture := newJWKSFixture(t)
	verifier := fixture.verifier(t)

	_, err := verifier.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestNewIDTokenVerifierRequiresAudienceAndJWKS(t *testing.T) {
	_, err := NewIDTokenVerifier(IDTokenVerifierConfig{
		Audience: "",
		JWKSURL:  "https://example.com/jwks",
	})
	require.ErrorIs(t, err, ErrInvalidVerifierConfig)
	assert.ErrorContains(t, err, errMissingAudienceConfig.Error())

	_, err = NewIDTokenVerifier(IDTokenVerifierConfig{
		Audience: "test-client",
		JWKSURL:  " ",
	})
	require.ErrorIs(t, err, ErrInvalidVerifierConfig)
	assert.ErrorContains(t, err, errMissingJWKSURL.Error())
}

func TestNewIDTokenVerifierRejectsEmptyIssuerList(t *testing.T) {
	_, err := NewIDTokenVerifier(IDTokenVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        "https://example.com/jwks",
		AllowedIssuers: []string{"", "   "},
	})
	require.ErrorIs(t, err, ErrInvalidVerifierConfig)
	assert.ErrorContains(t, err, errNoAllowedIssuers.Error())
}

func encodeBigInt(value interface{}) string {
	switch v := value.(type) {
	case *big.Int:
		return base64.RawURLEncoding.EncodeToString(v.Bytes())
	case int:
		return encodeBigInt(int64(v))
	case int64:
		return base64.RawURLEncoding.EncodeToString(big.NewInt(v).Bytes())
	default:
		return ""
	}
}
