package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPAddress, cfg.HTTPAddress)
	assert.Equal(t, 5*time.Second, cfg.Profiles.FetchTimeout)
	assert.Equal(t, 5, cfg.Profiles.NicknameAttempts)
	assert.Equal(t, MailTransportLog, cfg.Mail.Transport)
	assert.Equal(t, time.Minute, cfg.Auth.ResendInterval)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.False(t, cfg.Auth.GoogleEnabled(), "google sign-in needs credentials")
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	_, err := Load(NewViper())
	assert.Error(t, err)
}

func TestLoadRejectsRelativeLandingURL(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("auth.landing_url", "/home")

	_, err := Load(configViper)
	assert.Error(t, err)
}

func TestLoadValidatesMailTransport(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("mail.transport", "postmark")
	configViper.Set("mail.sender_email", "hello@kindred.app")

	_, err := Load(configViper)
	require.Error(t, err, "postmark without tokens")

	configViper.Set("mail.postmark.server_token", "server")
	configViper.Set("mail.postmark.account_token", "account")
	cfg, err := Load(configViper)
	require.NoError(t, err)
	assert.Equal(t, MailTransportPostmark, cfg.Mail.Transport)

	configViper.Set("mail.transport", "pigeon")
	_, err = Load(configViper)
	assert.Error(t, err, "unknown transport")
}

func TestLoadRejectsZeroNicknameAttempts(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("profiles.nickname_attempts", 0)

	_, err := Load(configViper)
	assert.Error(t, err)
}

func TestLoadRejectsNegativeResendInterval(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("auth.resend_interval", -time.Second)

	_, err := Load(configViper)
	assert.Error(t, err)
}
