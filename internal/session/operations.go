package session

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/profiles"
	"go.uber.org/zap"
)

// SignIn starts an OAuth sign-in and returns the provider URL to visit. State
// changes arrive later through auth events.
func (c *Controller) SignIn(ctx context.Context, provider string) (string, error) {
	authURL, err := c.provider.SignInWithOAuth(ctx, provider, auth.OAuthOptions{RedirectTo: c.redirectURL})
	if err != nil {
		return "", providerError(OpSignIn, err)
	}
	return authURL, nil
}

// SignOut signs out with the provider and clears local state before returning.
func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.provider.SignOut(ctx); err != nil {
		return providerError(OpSignOut, err)
	}
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
	return nil
}

// UpdateProfile applies a partial update to the signed-in user's profile and
// adopts the stored row.
func (c *Controller) UpdateProfile(ctx context.Context, update profiles.Update) (profiles.Profile, error) {
	c.mu.RLock()
	tag, signedIn := c.currentTagLocked()
	c.mu.RUnlock()
	if !signedIn {
		return profiles.Profile{}, newError(OpUpdateProfile, KindPreconditionFailed, ErrNotAuthenticated)
	}

	profile, err := c.profiles.UpdateByID(ctx, tag.userID, update)
	if err != nil {
		return profiles.Profile{}, storeError(OpUpdateProfile, err)
	}
	c.applyProfile(tag, profile)
	return profile, nil
}

// ResendConfirmationEmail asks the provider to mail another signup confirmation.
func (c *Controller) ResendConfirmationEmail(ctx context.Context) error {
	c.mu.RLock()
	email := ""
	if c.user != nil {
		email = strings.TrimSpace(c.user.Email)
	}
	c.mu.RUnlock()
	if email == "" {
		return newError(OpResend, KindPreconditionFailed, ErrNoUserEmail)
	}

	if err := c.provider.ResendConfirmation(ctx, auth.ResendRequest{
		Type:  auth.ConfirmationTypeSignup,
		Email: email,
	}); err != nil {
		return providerError(OpResend, err)
	}
	return nil
}

// ConfirmEmail redeems a confirmation token. Once the provider accepts the
// token the operation succeeds even if the profile cannot be updated. Without
// a local session only the provider side is confirmed.
func (c *Controller) ConfirmEmail(ctx context.Context, token string) error {
	if err := c.provider.VerifyConfirmationToken(ctx, auth.VerifyRequest{
		Token: token,
		Type:  auth.ConfirmationTypeEmail,
	}); err != nil {
		return providerError(OpConfirmEmail, err)
	}

	user, err := c.provider.CurrentUser(ctx)
	if err != nil {
		return providerError(OpConfirmEmail, err)
	}
	if user == nil {
		return newError(OpConfirmEmail, KindPreconditionFailed, ErrNotAuthenticated)
	}

	confirmedAt := c.clock().UTC()
	if user.EmailConfirmedAt != nil {
		confirmedAt = user.EmailConfirmedAt.UTC()
	}
	confirmed := true
	if _, err := c.UpdateProfile(ctx, profiles.Update{
		EmailConfirmed:   &confirmed,
		EmailConfirmedAt: &confirmedAt,
	}); err != nil {
		c.logger.Warn("profile confirmation sync failed",
			zap.String("operation", OpConfirmEmail),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		c.logger.Info("email confirmed without a local session",
			zap.String("operation", OpConfirmEmail),
			zap.String("user_id", user.ID),
		)
		return nil
	}
	if userID(c.user) != user.ID {
		c.profile = nil
	}
	// The refresh below must not join or be overwritten by a fetch that read
	// the row before the confirmation was stored.
	c.epoch++
	c.user = cloneUser(user)
	c.session.User = cloneUser(user)
	tag, _ := c.currentTagLocked()
	c.mu.Unlock()

	if err := c.fetchOrCreate(ctx, tag); err != nil {
		c.logger.Warn("profile refresh after confirmation failed",
			zap.String("operation", OpConfirmEmail),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}
	return nil
}
