package session

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/profiles"
)

// Kind classifies a controller failure.
type Kind string

const (
	KindTransient          Kind = "transient"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindPreconditionFailed Kind = "precondition_failed"
	KindProviderRejected   Kind = "provider_rejected"
)

// Operation names carried by Error.Op.
const (
	OpBootstrap     = "session.bootstrap"
	OpSignIn        = "session.sign_in"
	OpSignOut       = "session.sign_out"
	OpUpdateProfile = "session.update_profile"
	OpResend        = "session.resend_confirmation"
	OpConfirmEmail  = "session.confirm_email"
	OpFetchProfile  = "session.fetch_profile"
	OpProvision     = "session.provision_profile"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a signed-in user.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrNoUserEmail is returned when the signed-in user has no email address.
	ErrNoUserEmail = errors.New("session: no user email found")

	errFetchTimeout = errors.New("session: profile fetch timed out")
)

// Error is returned by every public controller operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s.%s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s.%s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind of err, or "" when err is not a controller error.
func KindOf(err error) Kind {
	var sessionErr *Error
	if errors.As(err, &sessionErr) {
		return sessionErr.Kind
	}
	return ""
}

func newError(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func providerError(op string, err error) error {
	return newError(op, classifyProviderError(err), err)
}

func storeError(op string, err error) error {
	return newError(op, classifyStoreError(err), err)
}

func classifyProviderError(err error) Kind {
	switch {
	case errors.Is(err, auth.ErrNoSession):
		return KindPreconditionFailed
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrMissingSubject),
		errors.Is(err, auth.ErrUnknownProvider),
		errors.Is(err, auth.ErrInvalidRedirect),
		errors.Is(err, auth.ErrInvalidState),
		errors.Is(err, auth.ErrUnsupportedType),
		errors.Is(err, auth.ErrMissingEmail),
		errors.Is(err, auth.ErrMailerNotEnabled):
		return KindProviderRejected
	default:
		return KindTransient
	}
}

func classifyStoreError(err error) Kind {
	switch {
	case errors.Is(err, profiles.ErrNotFound):
		return KindNotFound
	case errors.Is(err, profiles.ErrConflict):
		return KindConflict
	case errors.Is(err, profiles.ErrInvalidUpdate):
		return KindPreconditionFailed
	default:
		return KindTransient
	}
}
