package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "KINDRED"
	defaultHTTPAddress         = "127.0.0.1:8080"
	defaultDatabasePath        = "kindred.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultAuthIssuer          = "kindred-auth"
	defaultSessionTTL          = time.Hour
	defaultConfirmationTTL     = 24 * time.Hour
	defaultOAuthStateTTL       = 10 * time.Minute
	defaultResendInterval      = time.Minute
	defaultCallbackURL         = "http://127.0.0.1:8080/auth/callback"
	defaultLandingURL          = "http://127.0.0.1:5173/"
	defaultConfirmationURL     = "http://127.0.0.1:5173/confirm-email"
	defaultGoogleJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	defaultProfileFetchTimeout = 5 * time.Second
	defaultNicknameAttempts    = 5
	defaultMailTransport       = MailTransportLog
	defaultSMTPPort            = 587
)

// Supported mail transports.
const (
	MailTransportLog      = "log"
	MailTransportPostmark = "postmark"
	MailTransportSMTP     = "smtp"
)

// AppConfig captures runtime configuration for the companion backend.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	DatabasePath   string
	LogLevel       string
	LogFormat      string
	Auth           AuthConfig
	Profiles       ProfilesConfig
	Mail           MailConfig
}

// AuthConfig configures the identity provider and OAuth sign-in.
type AuthConfig struct {
	SigningSecret      string
	Issuer             string
	SessionTTL         time.Duration
	ConfirmationTTL    time.Duration
	OAuthStateTTL      time.Duration
	ResendInterval     time.Duration
	CallbackURL        string
	LandingURL         string
	ConfirmationURL    string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleJWKSURL      string
}

// ProfilesConfig bounds profile fetching and nickname negotiation.
type ProfilesConfig struct {
	FetchTimeout     time.Duration
	NicknameAttempts int
}

// MailConfig selects and configures the outbound mail transport.
type MailConfig struct {
	Transport            string
	SenderEmail          string
	SupportEmail         string
	PostmarkServerToken  string
	PostmarkAccountToken string
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)

	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.session_ttl", defaultSessionTTL)
	configViper.SetDefault("auth.confirmation_ttl", defaultConfirmationTTL)
	configViper.SetDefault("auth.oauth_state_ttl", defaultOAuthStateTTL)
	configViper.SetDefault("auth.resend_interval", defaultResendInterval)
	configViper.SetDefault("auth.callback_url", defaultCallbackURL)
	configViper.SetDefault("auth.landing_url", defaultLandingURL)
	configViper.SetDefault("auth.confirmation_url", defaultConfirmationURL)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)

	configViper.SetDefault("profiles.fetch_timeout", defaultProfileFetchTimeout)
	configViper.SetDefault("profiles.nickname_attempts", defaultNicknameAttempts)

	configViper.SetDefault("mail.transport", defaultMailTransport)
	configViper.SetDefault("mail.smtp.port", defaultSMTPPort)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
		Auth: AuthConfig{
			SigningSecret:      configViper.GetString("auth.signing_secret"),
			Issuer:             configViper.GetString("auth.issuer"),
			SessionTTL:         configViper.GetDuration("auth.session_ttl"),
			ConfirmationTTL:    configViper.GetDuration("auth.confirmation_ttl"),
			OAuthStateTTL:      configViper.GetDuration("auth.oauth_state_ttl"),
			ResendInterval:     configViper.GetDuration("auth.resend_interval"),
			CallbackURL:        configViper.GetString("auth.callback_url"),
			LandingURL:         configViper.GetString("auth.landing_url"),
			ConfirmationURL:    configViper.GetString("auth.confirmation_url"),
			GoogleClientID:     configViper.GetString("google.client_id"),
			GoogleClientSecret: configViper.GetString("google.client_secret"),
			GoogleJWKSURL:      configViper.GetString("google.jwks_url"),
		},
		Profiles: ProfilesConfig{
			FetchTimeout:     configViper.GetDuration("profiles.fetch_timeout"),
			NicknameAttempts: configViper.GetInt("profiles.nickname_attempts"),
		},
		Mail: MailConfig{
			Transport:            strings.ToLower(strings.TrimSpace(configViper.GetString("mail.transport"))),
			SenderEmail:          configViper.GetString("mail.sender_email"),
			SupportEmail:         configViper.GetString("mail.support_email"),
			PostmarkServerToken:  configViper.GetString("mail.postmark.server_token"),
			PostmarkAccountToken: configViper.GetString("mail.postmark.account_token"),
			SMTPHost:             configViper.GetString("mail.smtp.host"),
			SMTPPort:             configViper.GetInt("mail.smtp.port"),
			SMTPUsername:         configViper.GetString("mail.smtp.username"),
			SMTPPassword:         configViper.GetString("mail.smtp.password"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// GoogleEnabled reports whether Google sign-in has been configured.
func (c AuthConfig) GoogleEnabled() bool {
	return strings.TrimSpace(c.GoogleClientID) != "" && strings.TrimSpace(c.GoogleClientSecret) != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	if c.Auth.ConfirmationTTL <= 0 {
		return fmt.Errorf("auth.confirmation_ttl must be positive")
	}
	if c.Auth.ResendInterval < 0 {
		return fmt.Errorf("auth.resend_interval must not be negative")
	}
	for key, value := range map[string]string{
		"auth.callback_url":     c.Auth.CallbackURL,
		"auth.landing_url":      c.Auth.LandingURL,
		"auth.confirmation_url": c.Auth.ConfirmationURL,
	} {
		if !isAbsoluteURL(value) {
			return fmt.Errorf("%s must be an absolute URL", key)
		}
	}
	if c.Profiles.FetchTimeout <= 0 {
		return fmt.Errorf("profiles.fetch_timeout must be positive")
	}
	if c.Profiles.NicknameAttempts < 1 {
		return fmt.Errorf("profiles.nickname_attempts must be at least 1")
	}
	return c.Mail.validate()
}

func (c MailConfig) validate() error {
	switch c.Transport {
	case MailTransportLog:
		return nil
	case MailTransportPostmark:
		if strings.TrimSpace(c.PostmarkServerToken) == "" || strings.TrimSpace(c.PostmarkAccountToken) == "" {
			return fmt.Errorf("mail.postmark.server_token and mail.postmark.account_token are required")
		}
	case MailTransportSMTP:
		if strings.TrimSpace(c.SMTPHost) == "" {
			return fmt.Errorf("mail.smtp.host is required")
		}
		if c.SMTPPort <= 0 {
			return fmt.Errorf("mail.smtp.port must be positive")
		}
	default:
		return fmt.Errorf("mail.transport %q is not supported", c.Transport)
	}
	if strings.TrimSpace(c.SenderEmail) == "" {
		return fmt.Errorf("mail.sender_email is required")
	}
	return nil
}

func isAbsoluteURL(value string) bool {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	return parsed.IsAbs() && parsed.Host != ""
}
