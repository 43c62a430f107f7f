package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultSessionTTL      = time.Hour
	defaultConfirmationTTL = 24 * time.Hour
)

// Token purposes embedded in the "purpose" claim.
const (
	PurposeSession           = "session"
	PurposeEmailConfirmation = "email_confirmation"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenClaims is the JWT payload of every token minted by the issuer.
type TokenClaims struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the HS256 token issuer.
type TokenIssuerConfig struct {
	SigningSecret   []byte
	Issuer          string
	SessionTTL      time.Duration
	ConfirmationTTL time.Duration
	Clock           func() time.Time
}

// TokenIssuer mints session and email confirmation tokens.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	confirmationTTL := cfg.ConfirmationTTL
	if confirmationTTL <= 0 {
		confirmationTTL = defaultConfirmationTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret:   append([]byte(nil), cfg.SigningSecret...),
			Issuer:          strings.TrimSpace(cfg.Issuer),
			SessionTTL:      sessionTTL,
			ConfirmationTTL: confirmationTTL,
			Clock:           clock,
		},
		clock: clock,
	}
}

// IssueSessionToken produces a signed session token and its expiry.
func (i *TokenIssuer) IssueSessionToken(identity users.Identity) (string, time.Time, error) {
	return i.issue(identity, PurposeSession, i.config.SessionTTL)
}

// IssueConfirmationToken produces a one-purpose token redeemable by VerifyConfirmationToken.
func (i *TokenIssuer) IssueConfirmationToken(identity users.Identity) (string, time.Time, error) {
	return i.issue(identity, PurposeEmailConfirmation, i.config.ConfirmationTTL)
}

func (i *TokenIssuer) issue(identity users.Identity, purpose string, ttl time.Duration) (string, time.Time, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", time.Time{}, errMissingSigningSecret
	}
	if strings.TrimSpace(identity.ID) == "" {
		return "", time.Time{}, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(ttl).UTC()

	claims := TokenClaims{
		UserID:    identity.ID,
		UserEmail: identity.Email,
		Purpose:   purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.ID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
