package users

import (
	"strings"
	"time"
)

// Identity is the auth backend's record of a person, keyed by a canonical id and
// reachable from any provider-specific (provider, subject) login.
type Identity struct {
	ID               string     `gorm:"column:id;primaryKey;size:36;not null"`
	Provider         string     `gorm:"column:provider;size:32;not null;uniqueIndex:idx_identity_login"`
	Subject          string     `gorm:"column:subject;size:190;not null;uniqueIndex:idx_identity_login"`
	Email            string     `gorm:"column:email;size:320;index"`
	FullName         string     `gorm:"column:full_name;size:320"`
	AvatarURL        string     `gorm:"column:avatar_url;size:512"`
	EmailConfirmedAt *time.Time `gorm:"column:email_confirmed_at"`
	LastSeenAt       time.Time  `gorm:"column:last_seen_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

// TableName exposes the table backing identities.
func (Identity) TableName() string {
	return "auth_identities"
}

// Claims is the verified information a provider asserted about a login.
type Claims struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	FullName      string
	AvatarURL     string
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
