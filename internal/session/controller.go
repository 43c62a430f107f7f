// Package session owns the authentication lifecycle of the running app: it
// bootstraps the current session, reconciles provider auth events, and keeps the
// signed-in user's profile provisioned.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/profiles"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultFetchTimeout     = 5 * time.Second
	defaultNicknameAttempts = 5
)

// IdentityProvider is the auth backend the controller delegates to.
type IdentityProvider interface {
	CurrentSession(ctx context.Context) (*auth.Session, error)
	Subscribe(ctx context.Context, handler auth.EventHandler) auth.Subscription
	SignInWithOAuth(ctx context.Context, provider string, options auth.OAuthOptions) (string, error)
	SignOut(ctx context.Context) error
	ResendConfirmation(ctx context.Context, request auth.ResendRequest) error
	VerifyConfirmationToken(ctx context.Context, request auth.VerifyRequest) error
	CurrentUser(ctx context.Context) (*auth.User, error)
}

// ProfileStore persists profiles keyed by identity id.
type ProfileStore interface {
	FindByID(ctx context.Context, id string) (profiles.Profile, error)
	FindByNickname(ctx context.Context, nickname string) (profiles.Profile, error)
	Insert(ctx context.Context, draft profiles.Draft) (profiles.Profile, error)
	UpdateByID(ctx context.Context, id string, update profiles.Update) (profiles.Profile, error)
}

// NicknameGenerator proposes nickname candidates.
type NicknameGenerator interface {
	Generate() string
}

// WelcomeNotifier greets newly provisioned users.
type WelcomeNotifier interface {
	SendWelcomeEmail(ctx context.Context, email notify.WelcomeEmail) (notify.Receipt, error)
}

// MetricsRecorder receives lifecycle measurements.
type MetricsRecorder interface {
	RecordProfileFetch(outcome string, latency time.Duration)
	RecordProvisioning(outcome string)
	RecordNicknameCollision()
	RecordDetachedFailure(task string)
	RecordAuthEvent(eventType string, reconciled bool)
}

// Config wires a Controller.
type Config struct {
	Provider  IdentityProvider
	Profiles  ProfileStore
	Nicknames NicknameGenerator
	Notifier  WelcomeNotifier
	Metrics   MetricsRecorder
	Logger    *zap.Logger
	Clock     func() time.Time

	// RedirectURL is the fixed absolute landing point after OAuth sign-in.
	RedirectURL      string
	FetchTimeout     time.Duration
	NicknameAttempts int
}

// State is a point-in-time copy of the controller's state.
type State struct {
	User         *auth.User
	Profile      *profiles.Profile
	Session      *auth.Session
	Loading      bool
	Bootstrapped bool
}

// fetchTag identifies the identity and auth epoch a profile fetch was issued for.
type fetchTag struct {
	userID string
	epoch  uint64
}

func (t fetchTag) key() string {
	return fmt.Sprintf("%s#%d", t.userID, t.epoch)
}

// Controller is the single owner of user, profile and session state.
type Controller struct {
	provider         IdentityProvider
	profiles         ProfileStore
	nicknames        NicknameGenerator
	notifier         WelcomeNotifier
	metrics          MetricsRecorder
	logger           *zap.Logger
	clock            func() time.Time
	redirectURL      string
	fetchTimeout     time.Duration
	nicknameAttempts int

	mu           sync.RWMutex
	user         *auth.User
	profile      *profiles.Profile
	session      *auth.Session
	loading      bool
	bootstrapped bool
	epoch        uint64
	closed       bool

	subscription auth.Subscription
	lifetime     context.Context
	cancel       context.CancelFunc
	tasks        sync.WaitGroup
	fetches      singleflight.Group
	closeOnce    sync.Once
}

// New subscribes to provider auth events and bootstraps the current session.
// It returns once the session is known; the profile loads in the background.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("session: identity provider required")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("session: profile store required")
	}
	if cfg.Nicknames == nil {
		return nil, fmt.Errorf("session: nickname generator required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, fmt.Errorf("session: redirect url required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	attempts := cfg.NicknameAttempts
	if attempts <= 0 {
		attempts = defaultNicknameAttempts
	}

	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Controller{
		provider:         cfg.Provider,
		profiles:         cfg.Profiles,
		nicknames:        cfg.Nicknames,
		notifier:         cfg.Notifier,
		metrics:          recorder,
		logger:           logger,
		clock:            clock,
		redirectURL:      cfg.RedirectURL,
		fetchTimeout:     fetchTimeout,
		nicknameAttempts: attempts,
		loading:          true,
		lifetime:         lifetime,
		cancel:           cancel,
	}

	c.subscription = c.provider.Subscribe(lifetime, c.handleAuthEvent)
	c.bootstrap(ctx)
	return c, nil
}

// Close unsubscribes from the provider, cancels background work and waits for it.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		if c.subscription != nil {
			c.subscription.Unsubscribe()
		}
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		c.tasks.Wait()
	})
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{
		User:         cloneUser(c.user),
		Profile:      cloneProfile(c.profile),
		Session:      cloneSession(c.session),
		Loading:      c.loading,
		Bootstrapped: c.bootstrapped,
	}
}

func (c *Controller) bootstrap(ctx context.Context) {
	session, err := c.provider.CurrentSession(ctx)
	if err != nil {
		c.logger.Warn("session bootstrap failed",
			zap.String("operation", OpBootstrap),
			zap.Error(err),
		)
		session = nil
	}

	c.mu.Lock()
	c.applySessionLocked(session)
	c.loading = false
	c.bootstrapped = true
	tag, signedIn := c.currentTagLocked()
	c.mu.Unlock()

	if signedIn {
		c.dispatchFetch(tag)
	}
}

// handleAuthEvent reconciles a provider event. INITIAL_SESSION and events
// delivered before bootstrap completes are ignored; bootstrap already covers them.
func (c *Controller) handleAuthEvent(event auth.Event) {
	c.mu.Lock()
	if !c.bootstrapped || c.closed || event.Type == auth.EventInitialSession {
		c.mu.Unlock()
		c.metrics.RecordAuthEvent(string(event.Type), false)
		c.logger.Debug("auth event ignored", zap.String("event", string(event.Type)))
		return
	}
	c.applySessionLocked(event.Session)
	tag, signedIn := c.currentTagLocked()
	c.mu.Unlock()

	c.metrics.RecordAuthEvent(string(event.Type), true)
	if signedIn {
		c.dispatchFetch(tag)
	}
}

// applySessionLocked replaces session and user. A change of identity starts a
// new epoch, which invalidates every fetch issued before it.
func (c *Controller) applySessionLocked(session *auth.Session) {
	var user *auth.User
	if session != nil && session.User != nil {
		user = cloneUser(session.User)
	}
	if userID(c.user) != userID(user) {
		c.epoch++
	}
	c.session = cloneSession(session)
	c.user = user
	if user == nil || (c.profile != nil && c.profile.ID != user.ID) {
		c.profile = nil
	}
}

func (c *Controller) clearLocked() {
	c.epoch++
	c.user = nil
	c.profile = nil
	c.session = nil
}

func (c *Controller) currentTagLocked() (fetchTag, bool) {
	if c.user == nil {
		return fetchTag{}, false
	}
	return fetchTag{userID: c.user.ID, epoch: c.epoch}, true
}

func (c *Controller) isCurrentLocked(tag fetchTag) bool {
	return c.user != nil && c.user.ID == tag.userID && c.epoch == tag.epoch
}

func userID(user *auth.User) string {
	if user == nil {
		return ""
	}
	return user.ID
}

func cloneUser(user *auth.User) *auth.User {
	if user == nil {
		return nil
	}
	copied := *user
	if user.EmailConfirmedAt != nil {
		stamp := *user.EmailConfirmedAt
		copied.EmailConfirmedAt = &stamp
	}
	return &copied
}

func cloneSession(session *auth.Session) *auth.Session {
	if session == nil {
		return nil
	}
	copied := *session
	copied.User = cloneUser(session.User)
	return &copied
}

func cloneProfile(profile *profiles.Profile) *profiles.Profile {
	if profile == nil {
		return nil
	}
	copied := *profile
	if profile.FullName != nil {
		value := *profile.FullName
		copied.FullName = &value
	}
	if profile.AvatarURL != nil {
		value := *profile.AvatarURL
		copied.AvatarURL = &value
	}
	if profile.EmailConfirmedAt != nil {
		value := *profile.EmailConfirmedAt
		copied.EmailConfirmedAt = &value
	}
	return &copied
}
