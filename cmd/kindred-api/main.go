package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/config"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/database"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/nickname"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/server"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/session"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const appName = "Kindred"

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kindred-api",
		Short: "Kindred session and profile backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "Origins allowed to call the API")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-client-secret", "", "Google OAuth client secret")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("callback-url", defaults.GetString("auth.callback_url"), "Absolute OAuth callback URL")
	cmd.PersistentFlags().String("landing-url", defaults.GetString("auth.landing_url"), "Absolute URL users land on after sign-in")
	cmd.PersistentFlags().String("confirmation-url", defaults.GetString("auth.confirmation_url"), "Absolute URL of the email confirmation page")
	cmd.PersistentFlags().Duration("profile-fetch-timeout", defaults.GetDuration("profiles.fetch_timeout"), "Profile lookup timeout")
	cmd.PersistentFlags().Int("nickname-attempts", defaults.GetInt("profiles.nickname_attempts"), "Nickname candidates tried per provisioning")
	cmd.PersistentFlags().String("mail-transport", defaults.GetString("mail.transport"), "Mail transport (log, postmark, smtp)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.client_secret", "google-client-secret")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "auth.callback_url", "callback-url")
	bindFlag(cmd, "auth.landing_url", "landing-url")
	bindFlag(cmd, "auth.confirmation_url", "confirmation-url")
	bindFlag(cmd, "profiles.fetch_timeout", "profile-fetch-timeout")
	bindFlag(cmd, "profiles.nickname_attempts", "nickname-attempts")
	bindFlag(cmd, "mail.transport", "mail-transport")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	identities, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	sessionStore, err := auth.NewSessionStore(db, time.Now)
	if err != nil {
		return err
	}
	signingSecret := []byte(appConfig.Auth.SigningSecret)
	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret:   signingSecret,
		Issuer:          appConfig.Auth.Issuer,
		SessionTTL:      appConfig.Auth.SessionTTL,
		ConfirmationTTL: appConfig.Auth.ConfirmationTTL,
	})
	tokenValidator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: signingSecret,
		Issuer:        appConfig.Auth.Issuer,
	})
	if err != nil {
		return err
	}

	oauthClients := map[string]auth.OAuthClient{}
	var idTokens auth.IDTokenVerifierAPI
	if appConfig.Auth.GoogleEnabled() {
		oauthClients[auth.ProviderGoogle] = auth.NewGoogleOAuthClient(auth.GoogleOAuthConfig{
			ClientID:     appConfig.Auth.GoogleClientID,
			ClientSecret: appConfig.Auth.GoogleClientSecret,
			RedirectURL:  appConfig.Auth.CallbackURL,
		})
		verifier, err := auth.NewIDTokenVerifier(auth.IDTokenVerifierConfig{
			Audience: appConfig.Auth.GoogleClientID,
			JWKSURL:  appConfig.Auth.GoogleJWKSURL,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		idTokens = verifier
	} else {
		logger.Warn("google sign-in disabled: client id or secret missing")
	}

	mailer, err := notify.NewMailer(notify.TransportConfig{
		Transport:            appConfig.Mail.Transport,
		SenderEmail:          appConfig.Mail.SenderEmail,
		SupportEmail:         appConfig.Mail.SupportEmail,
		PostmarkServerToken:  appConfig.Mail.PostmarkServerToken,
		PostmarkAccountToken: appConfig.Mail.PostmarkAccountToken,
		SMTPHost:             appConfig.Mail.SMTPHost,
		SMTPPort:             appConfig.Mail.SMTPPort,
		SMTPUsername:         appConfig.Mail.SMTPUsername,
		SMTPPassword:         appConfig.Mail.SMTPPassword,
	}, logger)
	if err != nil {
		return err
	}
	notifier, err := notify.NewNotifier(notify.NotifierConfig{Mailer: mailer, AppName: appName})
	if err != nil {
		return err
	}

	provider, err := auth.NewProvider(auth.ProviderConfig{
		Users:           identities,
		Sessions:        sessionStore,
		Issuer:          tokenIssuer,
		Validator:       tokenValidator,
		OAuthClients:    oauthClients,
		IDTokens:        idTokens,
		Mailer:          notifier,
		ConfirmationURL: appConfig.Auth.ConfirmationURL,
		StateTTL:        appConfig.Auth.OAuthStateTTL,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer provider.Close()

	profileStore, err := profiles.NewStore(profiles.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	controller, err := session.New(ctx, session.Config{
		Provider:         provider,
		Profiles:         profileStore,
		Nicknames:        nickname.New(nickname.Config{}),
		Notifier:         notifier,
		Metrics:          collector,
		Logger:           logger,
		RedirectURL:      appConfig.Auth.LandingURL,
		FetchTimeout:     appConfig.Profiles.FetchTimeout,
		NicknameAttempts: appConfig.Profiles.NicknameAttempts,
	})
	if err != nil {
		return err
	}
	defer controller.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Controller:     controller,
		Callbacks:      provider,
		LandingURL:     appConfig.Auth.LandingURL,
		AllowedOrigins: appConfig.AllowedOrigins,
		ResendInterval: appConfig.Auth.ResendInterval,
		MetricsHandler: metrics.Handler(registry),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
