package session

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/profiles"
	"go.uber.org/zap"
)

// FetchProfile re-runs fetch-or-create for the signed-in user and waits for it.
func (c *Controller) FetchProfile(ctx context.Context) error {
	c.mu.RLock()
	tag, signedIn := c.currentTagLocked()
	c.mu.RUnlock()
	if !signedIn {
		return newError(OpFetchProfile, KindPreconditionFailed, ErrNotAuthenticated)
	}
	return c.fetchOrCreate(ctx, tag)
}

func (c *Controller) dispatchFetch(tag fetchTag) {
	c.detach(taskProfileFetch, func(ctx context.Context) error {
		return c.fetchOrCreate(ctx, tag)
	})
}

// fetchOrCreate collapses concurrent runs for the same tag into one.
func (c *Controller) fetchOrCreate(ctx context.Context, tag fetchTag) error {
	results := c.fetches.DoChan(tag.key(), func() (interface{}, error) {
		return nil, c.runFetch(c.lifetime, tag)
	})
	select {
	case result := <-results:
		return result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) runFetch(ctx context.Context, tag fetchTag) error {
	started := c.clock()
	profile, err := c.findWithTimeout(ctx, tag.userID)
	latency := c.clock().Sub(started)

	switch {
	case errors.Is(err, profiles.ErrNotFound):
		c.metrics.RecordProfileFetch(metrics.FetchMissing, latency)
		return c.provision(ctx, tag)
	case errors.Is(err, errFetchTimeout):
		c.metrics.RecordProfileFetch(metrics.FetchTimeout, latency)
		return newError(OpFetchProfile, KindTransient, err)
	case errors.Is(err, context.Canceled):
		c.metrics.RecordProfileFetch(metrics.FetchCanceled, latency)
		return err
	case err != nil:
		c.metrics.RecordProfileFetch(metrics.FetchError, latency)
		return storeError(OpFetchProfile, err)
	}

	if !c.applyProfile(tag, profile) {
		c.metrics.RecordProfileFetch(metrics.FetchStale, latency)
		c.logger.Debug("discarding stale profile fetch", zap.String("user_id", tag.userID))
		return nil
	}
	c.metrics.RecordProfileFetch(metrics.FetchFound, latency)
	return nil
}

// findWithTimeout races the lookup against the fetch timeout. A lookup that
// ignores cancellation is abandoned.
func (c *Controller) findWithTimeout(ctx context.Context, id string) (profiles.Profile, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	type lookup struct {
		profile profiles.Profile
		err     error
	}
	done := make(chan lookup, 1)
	go func() {
		profile, err := c.profiles.FindByID(fetchCtx, id)
		done <- lookup{profile: profile, err: err}
	}()

	select {
	case result := <-done:
		return result.profile, result.err
	case <-fetchCtx.Done():
		if err := ctx.Err(); err != nil {
			return profiles.Profile{}, err
		}
		c.logger.Warn("profile fetch timed out",
			zap.String("user_id", id),
			zap.Duration("timeout", c.fetchTimeout),
		)
		return profiles.Profile{}, errFetchTimeout
	}
}

// provision creates the missing profile. A failed insert leaves the profile
// absent until the next fetch.
func (c *Controller) provision(ctx context.Context, tag fetchTag) error {
	user, err := c.provider.CurrentUser(ctx)
	if err != nil || user == nil {
		c.metrics.RecordProvisioning(metrics.ProvisionIdentityUnavailable)
		if err == nil {
			err = ErrNotAuthenticated
		}
		return providerError(OpProvision, err)
	}
	if user.ID != tag.userID {
		c.metrics.RecordProvisioning(metrics.ProvisionIdentityUnavailable)
		c.logger.Debug("identity changed before provisioning", zap.String("user_id", tag.userID))
		return nil
	}

	candidate := c.negotiateNickname(ctx)
	profile, err := c.profiles.Insert(ctx, draftFor(user, candidate))
	if err != nil {
		if errors.Is(err, profiles.ErrConflict) {
			if existing, findErr := c.profiles.FindByID(ctx, user.ID); findErr == nil {
				c.metrics.RecordProvisioning(metrics.ProvisionAdopted)
				c.applyProfile(tag, existing)
				return nil
			}
		}
		c.metrics.RecordProvisioning(metrics.ProvisionFailed)
		return storeError(OpProvision, err)
	}

	c.metrics.RecordProvisioning(metrics.ProvisionCreated)
	c.logger.Info("profile provisioned",
		zap.String("user_id", profile.ID),
		zap.String("nickname", profile.Nickname),
	)
	if !c.applyProfile(tag, profile) {
		c.logger.Debug("provisioned profile belongs to a previous session", zap.String("user_id", profile.ID))
	}
	c.sendWelcome(user, profile)
	return nil
}

// negotiateNickname checks candidates sequentially and settles for the last
// one once the attempt bound is reached.
func (c *Controller) negotiateNickname(ctx context.Context) string {
	var candidate string
	for attempt := 1; attempt <= c.nicknameAttempts; attempt++ {
		candidate = c.nicknames.Generate()
		_, err := c.profiles.FindByNickname(ctx, candidate)
		if errors.Is(err, profiles.ErrNotFound) {
			return candidate
		}
		if err != nil {
			c.logger.Warn("nickname availability check failed",
				zap.String("nickname", candidate),
				zap.Error(err),
			)
			return candidate
		}
		c.metrics.RecordNicknameCollision()
		c.logger.Debug("nickname taken",
			zap.String("nickname", candidate),
			zap.Int("attempt", attempt),
		)
	}
	c.logger.Info("nickname attempts exhausted",
		zap.String("nickname", candidate),
		zap.Int("attempts", c.nicknameAttempts),
	)
	return candidate
}

func (c *Controller) sendWelcome(user *auth.User, profile profiles.Profile) {
	if c.notifier == nil {
		return
	}
	email := notify.WelcomeEmail{
		Email:      firstNonEmpty(user.Email, profile.Email),
		Name:       user.DisplayName(),
		Nickname:   profile.Nickname,
		SignupDate: profile.CreatedAt,
	}
	c.detach(taskWelcomeEmail, func(ctx context.Context) error {
		receipt, err := c.notifier.SendWelcomeEmail(ctx, email)
		if err != nil {
			return err
		}
		c.logger.Info("welcome email sent",
			zap.String("user_id", profile.ID),
			zap.String("message_id", receipt.MessageID),
		)
		return nil
	})
}

func (c *Controller) applyProfile(tag fetchTag, profile profiles.Profile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrentLocked(tag) {
		return false
	}
	c.profile = cloneProfile(&profile)
	return true
}

func draftFor(user *auth.User, nickname string) profiles.Draft {
	draft := profiles.Draft{
		ID:             user.ID,
		Email:          user.Email,
		Nickname:       nickname,
		EmailConfirmed: user.EmailConfirmedAt != nil,
	}
	if name := strings.TrimSpace(user.DisplayName()); name != "" {
		draft.FullName = &name
	}
	if avatar := strings.TrimSpace(user.Metadata.AvatarURL); avatar != "" {
		draft.AvatarURL = &avatar
	}
	if user.EmailConfirmedAt != nil {
		confirmedAt := *user.EmailConfirmedAt
		draft.EmailConfirmedAt = &confirmedAt
	}
	return draft
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
