package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ProviderGoogle is the provider name used for Google sign-in.
const ProviderGoogle = "google"

const (
	defaultOAuthStateTTL = 10 * time.Minute
	oauthStateBytes      = 32
)

var errMissingIDToken = errors.New("oauth token response carried no id_token")

// OAuthClient drives the authorization code flow against one provider.
type OAuthClient interface {
	AuthCodeURL(state string) string
	// Exchange trades the authorization code for the provider's ID token.
	Exchange(ctx context.Context, code string) (string, error)
}

// GoogleOAuthConfig configures the Google authorization code flow.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

type googleOAuthClient struct {
	conf *oauth2.Config
}

// NewGoogleOAuthClient builds an OAuthClient backed by Google's OAuth endpoints.
func NewGoogleOAuthClient(cfg GoogleOAuthConfig) OAuthClient {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &googleOAuthClient{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

func (c *googleOAuthClient) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (c *googleOAuthClient) Exchange(ctx context.Context, code string) (string, error) {
	token, err := c.conf.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}
	idToken, _ := token.Extra("id_token").(string)
	if strings.TrimSpace(idToken) == "" {
		return "", errMissingIDToken
	}
	return idToken, nil
}

// oauthAttempt is remembered between SignInWithOAuth and the callback.
type oauthAttempt struct {
	Provider   string
	RedirectTo string
}

type oauthStateStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

func newOAuthStateStore(ttl time.Duration) *oauthStateStore {
	if ttl <= 0 {
		ttl = defaultOAuthStateTTL
	}
	return &oauthStateStore{cache: gocache.New(ttl, time.Minute)}
}

func (s *oauthStateStore) put(attempt oauthAttempt) (string, error) {
	buf := make([]byte, oauthStateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)
	s.cache.SetDefault(state, attempt)
	return state, nil
}

// take returns the attempt for state at most once.
func (s *oauthStateStore) take(state string) (oauthAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.cache.Get(state)
	if !ok {
		return oauthAttempt{}, false
	}
	s.cache.Delete(state)
	attempt, ok := value.(oauthAttempt)
	return attempt, ok
}
