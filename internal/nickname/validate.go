package nickname

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MinLength is the shortest accepted nickname.
	MinLength = 3
	// MaxLength is the longest accepted nickname.
	MaxLength = 32
)

var (
	ErrInvalidLength     = errors.New("nickname: invalid length")
	ErrInvalidCharacters = errors.New("nickname: invalid characters")
	ErrBlockedTerm       = errors.New("nickname: contains a blocked term")
)

var nicknamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// Validate checks the nickname format and content rules.
func Validate(nickname string) error {
	if length := len(nickname); length < MinLength || length > MaxLength {
		return fmt.Errorf("%w: %d characters, want %d-%d", ErrInvalidLength, length, MinLength, MaxLength)
	}
	if !nicknamePattern.MatchString(nickname) {
		return ErrInvalidCharacters
	}
	lowered := strings.ToLower(nickname)
	for _, term := range blockedTerms {
		if strings.Contains(lowered, term) {
			return fmt.Errorf("%w: %q", ErrBlockedTerm, term)
		}
	}
	return nil
}
