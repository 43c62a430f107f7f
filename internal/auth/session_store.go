package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const currentSessionSlot = "current"

// StoredSession persists the active session token so it survives restarts.
type StoredSession struct {
	Slot        string    `gorm:"column:slot;primaryKey;size:32;not null"`
	AccessToken string    `gorm:"column:access_token;type:text;not null"`
	UserID      string    `gorm:"column:user_id;size:36;not null"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing persisted sessions.
func (StoredSession) TableName() string {
	return "auth_sessions"
}

// SessionStore keeps the single session slot of this process.
type SessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSessionStore constructs a store over db.
func NewSessionStore(db *gorm.DB, clock func() time.Time) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("auth: database connection required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionStore{db: db, now: clock}, nil
}

// Load returns the stored session, or nil when none is stored.
func (s *SessionStore) Load(ctx context.Context) (*StoredSession, error) {
	var stored StoredSession
	err := s.db.WithContext(ctx).Where("slot = ?", currentSessionSlot).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Save replaces the stored session.
func (s *SessionStore) Save(ctx context.Context, accessToken, userID string, expiresAt time.Time) error {
	stored := StoredSession{
		Slot:        currentSessionSlot,
		AccessToken: accessToken,
		UserID:      userID,
		ExpiresAt:   expiresAt.UTC(),
		UpdatedAt:   s.now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&stored).
		Error
}

// Clear removes the stored session. Clearing an empty slot is not an error.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("slot = ?", currentSessionSlot).Delete(&StoredSession{}).Error
}
