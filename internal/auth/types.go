package auth

import "time"

// User is the identity record exposed to the application.
type User struct {
	ID               string       `json:"id"`
	Email            string       `json:"email"`
	EmailConfirmedAt *time.Time   `json:"email_confirmed_at"`
	Metadata         UserMetadata `json:"user_metadata"`
	CreatedAt        time.Time    `json:"created_at"`
}

// UserMetadata carries provider supplied display details.
type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName prefers the full name and falls back to the short name.
func (u User) DisplayName() string {
	if u.Metadata.FullName != "" {
		return u.Metadata.FullName
	}
	return u.Metadata.Name
}

// Session is the token bundle for an active login.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

// EventType names an auth state change.
type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// Event is pushed to subscribers on every auth state change. Session is nil when signed out.
type Event struct {
	Type    EventType
	Session *Session
}

// EventHandler receives auth events in publish order.
type EventHandler func(Event)

// Subscription is returned by Subscribe and must be released on teardown.
type Subscription interface {
	Unsubscribe()
}

// OAuthOptions customises an OAuth sign-in.
type OAuthOptions struct {
	// RedirectTo is the absolute URL the browser lands on after the callback completes.
	RedirectTo string
}

// ConfirmationType selects the email confirmation flow.
type ConfirmationType string

const (
	ConfirmationTypeSignup ConfirmationType = "signup"
	ConfirmationTypeEmail  ConfirmationType = "email"
)

// ResendRequest asks for another confirmation email.
type ResendRequest struct {
	Type  ConfirmationType
	Email string
}

// VerifyRequest redeems a confirmation token.
type VerifyRequest struct {
	Token string
	Type  ConfirmationType
}
