package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	"go.uber.org/zap"
)

const tokenTypeBearer = "bearer"

// IdentityDirectory stores the identities the provider signs in.
type IdentityDirectory interface {
	Resolve(ctx context.Context, claims users.Claims) (string, error)
	FindByID(ctx context.Context, id string) (users.Identity, error)
	FindByEmail(ctx context.Context, email string) (users.Identity, error)
	MarkEmailConfirmed(ctx context.Context, id string, confirmedAt time.Time) (users.Identity, error)
}

// IDTokenVerifierAPI verifies ID tokens returned by an OAuth provider.
type IDTokenVerifierAPI interface {
	Verify(ctx context.Context, rawToken string) (IDTokenClaims, error)
}

// ConfirmationMailer delivers email confirmation links.
type ConfirmationMailer interface {
	SendConfirmationEmail(ctx context.Context, email notify.ConfirmationEmail) error
}

// ProviderConfig wires the provider's collaborators.
type ProviderConfig struct {
	Users           IdentityDirectory
	Sessions        *SessionStore
	Issuer          *TokenIssuer
	Validator       *TokenValidator
	OAuthClients    map[string]OAuthClient
	IDTokens        IDTokenVerifierAPI
	Mailer          ConfirmationMailer
	ConfirmationURL string
	StateTTL        time.Duration
	Hub             *EventHub
	Logger          *zap.Logger
	Clock           func() time.Time
}

// Provider is the process-local identity provider. It owns the single active
// session and announces every change to it through the event hub.
type Provider struct {
	users           IdentityDirectory
	sessions        *SessionStore
	issuer          *TokenIssuer
	validator       *TokenValidator
	oauthClients    map[string]OAuthClient
	idTokens        IDTokenVerifierAPI
	mailer          ConfirmationMailer
	confirmationURL string
	states          *oauthStateStore
	hub             *EventHub
	logger          *zap.Logger
	clock           func() time.Time

	// mu serialises session mutations with their event publication.
	mu sync.Mutex
}

// NewProvider validates the configuration and constructs a Provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Users == nil {
		return nil, fmt.Errorf("auth: identity directory required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("auth: session store required")
	}
	if cfg.Issuer == nil || cfg.Validator == nil {
		return nil, fmt.Errorf("auth: token issuer and validator required")
	}
	if len(cfg.OAuthClients) > 0 && cfg.IDTokens == nil {
		return nil, fmt.Errorf("auth: id token verifier required for oauth sign-in")
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewEventHub()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	clients := make(map[string]OAuthClient, len(cfg.OAuthClients))
	for name, client := range cfg.OAuthClients {
		clients[strings.ToLower(strings.TrimSpace(name))] = client
	}
	return &Provider{
		users:           cfg.Users,
		sessions:        cfg.Sessions,
		issuer:          cfg.Issuer,
		validator:       cfg.Validator,
		oauthClients:    clients,
		idTokens:        cfg.IDTokens,
		mailer:          cfg.Mailer,
		confirmationURL: strings.TrimSpace(cfg.ConfirmationURL),
		states:          newOAuthStateStore(cfg.StateTTL),
		hub:             hub,
		logger:          logger,
		clock:           clock,
	}, nil
}

// Close releases every subscriber.
func (p *Provider) Close() {
	p.hub.Close()
}

// CurrentSession returns the active session, or nil when signed out. A stored
// session whose token no longer validates is discarded.
func (p *Provider) CurrentSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentSessionLocked(ctx)
}

// CurrentUser re-reads the identity behind the active session.
func (p *Provider) CurrentUser(ctx context.Context) (*User, error) {
	session, err := p.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}
	return session.User, nil
}

// Subscribe registers handler and immediately queues an INITIAL_SESSION event for it.
func (p *Provider) Subscribe(ctx context.Context, handler EventHandler) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	session, err := p.currentSessionLocked(ctx)
	if err != nil {
		p.logger.Warn("initial session unavailable", zap.Error(err))
		session = nil
	}
	return p.hub.Subscribe(handler, &Event{Type: EventInitialSession, Session: session})
}

// SignInWithOAuth starts the authorization code flow and returns the URL the
// browser must visit. The session is created later by HandleCallback.
func (p *Provider) SignInWithOAuth(ctx context.Context, provider string, options OAuthOptions) (string, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	client, ok := p.oauthClients[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if !isAbsoluteURL(options.RedirectTo) {
		return "", ErrInvalidRedirect
	}
	state, err := p.states.put(oauthAttempt{Provider: name, RedirectTo: options.RedirectTo})
	if err != nil {
		return "", err
	}
	return client.AuthCodeURL(state), nil
}

// HandleCallback completes the authorization code flow, persists a new session
// and publishes SIGNED_IN. It returns the redirect target of the attempt.
func (p *Provider) HandleCallback(ctx context.Context, state, code string) (string, error) {
	attempt, ok := p.states.take(strings.TrimSpace(state))
	if !ok {
		return "", ErrInvalidState
	}
	client, ok := p.oauthClients[attempt.Provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, attempt.Provider)
	}
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("%w: authorization code required", ErrInvalidToken)
	}

	rawIDToken, err := client.Exchange(ctx, code)
	if err != nil {
		return "", err
	}
	claims, err := p.idTokens.Verify(ctx, rawIDToken)
	if err != nil {
		return "", err
	}

	identityID, err := p.users.Resolve(ctx, users.Claims{
		Provider:      attempt.Provider,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		FullName:      claims.Name,
		AvatarURL:     claims.Picture,
	})
	if err != nil {
		return "", err
	}
	identity, err := p.users.FindByID(ctx, identityID)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	session, err := p.startSessionLocked(ctx, identity)
	if err != nil {
		return "", err
	}
	p.logger.Info("user signed in", zap.String("user_id", identity.ID), zap.String("provider", attempt.Provider))
	p.hub.Publish(Event{Type: EventSignedIn, Session: session})
	return attempt.RedirectTo, nil
}

// SignOut discards the active session and publishes SIGNED_OUT.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sessions.Clear(ctx); err != nil {
		return err
	}
	p.hub.Publish(Event{Type: EventSignedOut})
	return nil
}

// RefreshSession mints a fresh token for the active session and publishes TOKEN_REFRESHED.
func (p *Provider) RefreshSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, err := p.currentSessionLocked(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNoSession
	}
	identity, err := p.users.FindByID(ctx, current.User.ID)
	if err != nil {
		return nil, err
	}
	session, err := p.startSessionLocked(ctx, identity)
	if err != nil {
		return nil, err
	}
	p.hub.Publish(Event{Type: EventTokenRefreshed, Session: session})
	return session, nil
}

// ResendConfirmation mails a new confirmation link. Unknown or already
// confirmed addresses succeed silently so callers cannot probe for accounts.
func (p *Provider) ResendConfirmation(ctx context.Context, request ResendRequest) error {
	if request.Type != ConfirmationTypeSignup {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, request.Type)
	}
	if strings.TrimSpace(request.Email) == "" {
		return ErrMissingEmail
	}
	if p.mailer == nil {
		return ErrMailerNotEnabled
	}

	identity, err := p.users.FindByEmail(ctx, request.Email)
	if errors.Is(err, users.ErrIdentityNotFound) {
		p.logger.Debug("confirmation requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	if identity.EmailConfirmedAt != nil {
		return nil
	}

	token, _, err := p.issuer.IssueConfirmationToken(identity)
	if err != nil {
		return err
	}
	link, err := p.confirmationLink(token)
	if err != nil {
		return err
	}
	return p.mailer.SendConfirmationEmail(ctx, notify.ConfirmationEmail{
		Email: identity.Email,
		Name:  identity.FullName,
		Link:  link,
	})
}

// VerifyConfirmationToken redeems a confirmation token. When the confirmed
// identity is signed in, USER_UPDATED carries the refreshed user.
func (p *Provider) VerifyConfirmationToken(ctx context.Context, request VerifyRequest) error {
	if request.Type != ConfirmationTypeEmail {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, request.Type)
	}
	claims, err := p.validator.Validate(request.Token, PurposeEmailConfirmation)
	if err != nil {
		return err
	}

	identity, err := p.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return err
	}
	if claims.UserEmail != "" && !strings.EqualFold(claims.UserEmail, identity.Email) {
		return fmt.Errorf("%w: email changed since the token was issued", ErrInvalidToken)
	}
	confirmed, err := p.users.MarkEmailConfirmed(ctx, identity.ID, p.clock())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	session, err := p.currentSessionLocked(ctx)
	if err != nil {
		p.logger.Warn("session lookup after confirmation failed", zap.Error(err))
		return nil
	}
	if session != nil && session.User != nil && session.User.ID == confirmed.ID {
		p.hub.Publish(Event{Type: EventUserUpdated, Session: session})
	}
	return nil
}

func (p *Provider) currentSessionLocked(ctx context.Context) (*Session, error) {
	stored, err := p.sessions.Load(ctx)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}

	claims, err := p.validator.Validate(stored.AccessToken, PurposeSession)
	if err != nil {
		p.logger.Info("discarding stored session", zap.Error(err))
		if clearErr := p.sessions.Clear(ctx); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}

	identity, err := p.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, users.ErrIdentityNotFound) {
		if clearErr := p.sessions.Clear(ctx); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken: stored.AccessToken,
		TokenType:   tokenTypeBearer,
		ExpiresAt:   stored.ExpiresAt,
		User:        userFromIdentity(identity),
	}, nil
}

func (p *Provider) startSessionLocked(ctx context.Context, identity users.Identity) (*Session, error) {
	token, expiresAt, err := p.issuer.IssueSessionToken(identity)
	if err != nil {
		return nil, err
	}
	if err := p.sessions.Save(ctx, token, identity.ID, expiresAt); err != nil {
		return nil, err
	}
	return &Session{
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		ExpiresAt:   expiresAt,
		User:        userFromIdentity(identity),
	}, nil
}

func (p *Provider) confirmationLink(token string) (string, error) {
	if p.confirmationURL == "" {
		return "", fmt.Errorf("auth: confirmation url not configured")
	}
	link, err := url.Parse(p.confirmationURL)
	if err != nil {
		return "", fmt.Errorf("auth: parse confirmation url: %w", err)
	}
	query := link.Query()
	query.Set("token", token)
	query.Set("type", string(ConfirmationTypeEmail))
	link.RawQuery = query.Encode()
	return link.String(), nil
}

func userFromIdentity(identity users.Identity) *User {
	var confirmedAt *time.Time
	if identity.EmailConfirmedAt != nil {
		stamp := identity.EmailConfirmedAt.UTC()
		confirmedAt = &stamp
	}
	return &User{
		ID:               identity.ID,
		Email:            identity.Email,
		EmailConfirmedAt: confirmedAt,
		Metadata: UserMetadata{
			FullName:  identity.FullName,
			AvatarURL: identity.AvatarURL,
		},
		CreatedAt: identity.CreatedAt,
	}
}

func isAbsoluteURL(value string) bool {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	return parsed.IsAbs() && parsed.Host != ""
}
