package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

const defaultCacheTTL = 15 * time.Minute

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrIdentityNotFound indicates no identity matched the lookup.
	ErrIdentityNotFound = errors.New("users: identity not found")
)

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	NewID    func() (string, error)
	CacheTTL time.Duration
}

// Service manages canonical identity ids and provider-specific logins.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	newID func() (string, error)
	cache *gocache.Cache
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newUUIDv7
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		newID: newID,
		cache: gocache.New(ttl, 2*ttl),
	}, nil
}

// Resolve returns the canonical identity id for the provider login, creating the identity
// the first time the login is seen and refreshing its metadata afterwards.
func (s *Service) Resolve(ctx context.Context, claims Claims) (string, error) {
	provider := normalize(claims.Provider)
	subject := normalize(claims.Subject)
	if provider == "" || subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cachedIdentifier, ok := s.cache.Get(cacheKey); ok {
		if identifier, ok := cachedIdentifier.(string); ok {
			s.refresh(ctx, identifier, claims)
			return identifier, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identifier, idErr := s.newID()
		if idErr != nil {
			return "", idErr
		}
		now := s.now().UTC()
		identity = Identity{
			ID:         identifier,
			Provider:   provider,
			Subject:    subject,
			Email:      normalizeEmail(claims.Email),
			FullName:   normalize(claims.FullName),
			AvatarURL:  normalize(claims.AvatarURL),
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if claims.EmailVerified && identity.Email != "" {
			identity.EmailConfirmedAt = &now
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		s.refresh(ctx, identity.ID, claims)
	}

	s.cache.Set(cacheKey, identity.ID, gocache.DefaultExpiration)
	return identity.ID, nil
}

// FindByID loads an identity by canonical id.
func (s *Service) FindByID(ctx context.Context, id string) (Identity, error) {
	return s.findOne(ctx, "id = ?", normalize(id))
}

// FindByEmail loads the most recently seen identity registered with the email.
func (s *Service) FindByEmail(ctx context.Context, email string) (Identity, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return Identity{}, ErrIdentityNotFound
	}
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("email = ?", normalized).
		Order("last_seen_at DESC").
		Take(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, err
}

// MarkEmailConfirmed stamps the confirmation time unless the identity is already confirmed.
func (s *Service) MarkEmailConfirmed(ctx context.Context, id string, confirmedAt time.Time) (Identity, error) {
	identity, err := s.FindByID(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	if identity.EmailConfirmedAt != nil {
		return identity, nil
	}
	stamp := confirmedAt.UTC()
	if err := s.db.WithContext(ctx).
		Model(&Identity{}).
		Where("id = ?", identity.ID).
		Updates(map[string]interface{}{
			"email_confirmed_at": stamp,
			"updated_at":         s.now().UTC(),
		}).Error; err != nil {
		return Identity{}, err
	}
	identity.EmailConfirmedAt = &stamp
	return identity, nil
}

func (s *Service) findOne(ctx context.Context, query string, args ...interface{}) (Identity, error) {
	var identity Identity
	err := s.db.WithContext(ctx).Where(query, args...).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, err
}

func (s *Service) refresh(ctx context.Context, identifier string, claims Claims) {
	updates := map[string]interface{}{
		"last_seen_at": s.now().UTC(),
	}
	if email := normalizeEmail(claims.Email); email != "" {
		updates["email"] = email
	}
	if fullName := normalize(claims.FullName); fullName != "" {
		updates["full_name"] = fullName
	}
	if avatar := normalize(claims.AvatarURL); avatar != "" {
		updates["avatar_url"] = avatar
	}
	_ = s.db.WithContext(ctx).
		Model(&Identity{}).
		Where("id = ?", identifier).
		Updates(updates).
		Error
}

func newUUIDv7() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
