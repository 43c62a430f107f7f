package auth

import "errors"

var (
	ErrMissingToken     = errors.New("auth: token required")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrExpiredToken     = errors.New("auth: token expired")
	ErrMissingSubject   = errors.New("auth: subject required")
	ErrUnknownProvider  = errors.New("auth: unknown oauth provider")
	ErrInvalidRedirect  = errors.New("auth: redirect must be an absolute url")
	ErrInvalidState     = errors.New("auth: invalid or expired oauth state")
	ErrUnsupportedType  = errors.New("auth: unsupported confirmation type")
	ErrNoSession        = errors.New("auth: no active session")
	ErrMissingEmail     = errors.New("auth: email required")
	ErrMailerNotEnabled = errors.New("auth: confirmation mailer not configured")
)
