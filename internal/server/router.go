package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingController = errors.New("session controller dependency required")
	errMissingCallbacks  = errors.New("oauth callback handler dependency required")
	errMissingLandingURL = errors.New("landing url dependency required")
)

// SessionController is the state owner the HTTP surface reads and drives.
type SessionController interface {
	State() session.State
	SignIn(ctx context.Context, provider string) (string, error)
	SignOut(ctx context.Context) error
	UpdateProfile(ctx context.Context, update profiles.Update) (profiles.Profile, error)
	ResendConfirmationEmail(ctx context.Context) error
	ConfirmEmail(ctx context.Context, token string) error
	FetchProfile(ctx context.Context) error
}

// OAuthCallbackHandler completes OAuth sign-ins.
type OAuthCallbackHandler interface {
	HandleCallback(ctx context.Context, state, code string) (string, error)
}

type Dependencies struct {
	Controller     SessionController
	Callbacks      OAuthCallbackHandler
	LandingURL     string
	// AllowedOrigins lists the browser origins trusted to call the API. Empty
	// means the origin of LandingURL only.
	AllowedOrigins []string
	// ResendInterval is the minimum gap between confirmation email resends; zero disables the limit.
	ResendInterval time.Duration
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Controller == nil {
		return nil, errMissingController
	}
	if deps.Callbacks == nil {
		return nil, errMissingCallbacks
	}
	if strings.TrimSpace(deps.LandingURL) == "" {
		return nil, errMissingLandingURL
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	origins := originSet(deps.AllowedOrigins, deps.LandingURL)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(origins))

	handler := &httpHandler{
		controller: deps.Controller,
		callbacks:  deps.Callbacks,
		landingURL: deps.LandingURL,
		logger:     logger,
	}

	router.GET("/auth/callback", handler.handleOAuthCallback)

	api := router.Group("/api")
	api.Use(rejectForeignOrigins(origins))
	api.GET("/session", handler.handleSession)
	api.POST("/auth/sign-in", handler.handleSignIn)
	api.POST("/auth/sign-out", handler.handleSignOut)
	api.POST("/auth/confirmation/resend", throttle(deps.ResendInterval), handler.handleResendConfirmation)
	api.POST("/auth/confirm", handler.handleConfirmEmail)
	api.PATCH("/profile", handler.handleUpdateProfile)
	api.POST("/profile/refresh", handler.handleRefreshProfile)

	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	return router, nil
}

// originSet normalises the configured origins. An empty list trusts only the
// origin of the landing page the UI is served from.
func originSet(allowedOrigins []string, landingURL string) map[string]struct{} {
	origins := make(map[string]struct{}, len(allowedOrigins)+1)
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			origins[trimmed] = struct{}{}
		}
	}
	if len(origins) == 0 {
		if landing, err := url.Parse(strings.TrimSpace(landingURL)); err == nil && landing.Scheme != "" && landing.Host != "" {
			origins[landing.Scheme+"://"+landing.Host] = struct{}{}
		}
	}
	return origins
}

func corsMiddleware(origins map[string]struct{}) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			_, ok := origins[origin]
			return ok
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// rejectForeignOrigins refuses state-changing requests sent from an untrusted
// origin. Simple cross-site POSTs are not preflighted, so CORS alone does not stop them.
func rejectForeignOrigins(origins map[string]struct{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if _, ok := origins[origin]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden_origin"})
			return
		}
		c.Next()
	}
}

type httpHandler struct {
	controller SessionController
	callbacks  OAuthCallbackHandler
	landingURL string
	logger     *zap.Logger
}

type userPayload struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	DisplayName      string     `json:"display_name"`
	AvatarURL        string     `json:"avatar_url,omitempty"`
}

type sessionPayload struct {
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type stateResponsePayload struct {
	Authenticated bool              `json:"authenticated"`
	Loading       bool              `json:"loading"`
	Bootstrapped  bool              `json:"bootstrapped"`
	User          *userPayload      `json:"user"`
	Profile       *profiles.Profile `json:"profile"`
	Session       *sessionPayload   `json:"session"`
}

type signInRequestPayload struct {
	Provider string `json:"provider"`
}

type signInResponsePayload struct {
	URL string `json:"url"`
}

type confirmRequestPayload struct {
	Token string `json:"token"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, newStateResponse(h.controller.State()))
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Provider) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	authURL, err := h.controller.SignIn(c.Request.Context(), request.Provider)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, signInResponsePayload{URL: authURL})
}

func (h *httpHandler) handleOAuthCallback(c *gin.Context) {
	if providerError := c.Query("error"); providerError != "" {
		h.logger.Warn("oauth provider returned an error", zap.String("reason", providerError))
		c.Redirect(http.StatusFound, h.landingWithError("access_denied"))
		return
	}
	redirectTo, err := h.callbacks.HandleCallback(c.Request.Context(), c.Query("state"), c.Query("code"))
	if err != nil {
		h.logger.Warn("oauth callback failed", zap.Error(err))
		reason := "sign_in_failed"
		if errors.Is(err, auth.ErrInvalidState) {
			reason = "invalid_state"
		}
		c.Redirect(http.StatusFound, h.landingWithError(reason))
		return
	}
	c.Redirect(http.StatusFound, redirectTo)
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	if err := h.controller.SignOut(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var update profiles.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.controller.UpdateProfile(c.Request.Context(), update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleRefreshProfile(c *gin.Context) {
	if err := h.controller.FetchProfile(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateResponse(h.controller.State()))
}

func (h *httpHandler) handleResendConfirmation(c *gin.Context) {
	if err := h.controller.ResendConfirmationEmail(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleConfirmEmail(c *gin.Context) {
	var request confirmRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.controller.ConfirmEmail(c.Request.Context(), request.Token); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateResponse(h.controller.State()))
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusForError(err)
	kind := session.KindOf(err)
	if kind == "" {
		kind = "internal"
	}
	fields := []zap.Field{zap.Int("status", status), zap.String("reason", string(kind)), zap.Error(err)}
	var sessionErr *session.Error
	if errors.As(err, &sessionErr) {
		fields = append(fields, zap.String("operation", sessionErr.Op))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}
	c.JSON(status, gin.H{"error": string(kind), "message": err.Error()})
}

func (h *httpHandler) landingWithError(reason string) string {
	landing, err := url.Parse(h.landingURL)
	if err != nil {
		return h.landingURL
	}
	query := landing.Query()
	query.Set("auth_error", reason)
	landing.RawQuery = query.Encode()
	return landing.String()
}

func statusForError(err error) int {
	switch session.KindOf(err) {
	case session.KindPreconditionFailed:
		if errors.Is(err, session.ErrNotAuthenticated) || errors.Is(err, auth.ErrNoSession) {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	case session.KindConflict:
		return http.StatusConflict
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindProviderRejected:
		if errors.Is(err, auth.ErrMailerNotEnabled) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadRequest
	case session.KindTransient:
		if errors.Is(err, notify.ErrSendFailed) {
			return http.StatusBadGateway
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newStateResponse(state session.State) stateResponsePayload {
	response := stateResponsePayload{
		Authenticated: state.User != nil,
		Loading:       state.Loading,
		Bootstrapped:  state.Bootstrapped,
		Profile:       state.Profile,
	}
	if state.User != nil {
		response.User = &userPayload{
			ID:               state.User.ID,
			Email:            state.User.Email,
			EmailConfirmedAt: state.User.EmailConfirmedAt,
			DisplayName:      state.User.DisplayName(),
			AvatarURL:        state.User.Metadata.AvatarURL,
		}
	}
	if state.Session != nil {
		response.Session = &sessionPayload{
			TokenType: state.Session.TokenType,
			ExpiresAt: state.Session.ExpiresAt,
		}
	}
	return response
}
