package profiles

import "time"

// Profile is the application-owned record describing a user. Its id equals the identity id.
type Profile struct {
	ID               string     `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Email            string     `gorm:"column:email;size:320;not null" json:"email"`
	FullName         *string    `gorm:"column:full_name;size:320" json:"full_name"`
	AvatarURL        *string    `gorm:"column:avatar_url;size:512" json:"avatar_url"`
	Nickname         string     `gorm:"column:nickname;size:64;not null;uniqueIndex:idx_profiles_nickname" json:"nickname"`
	EmailConfirmed   bool       `gorm:"column:email_confirmed;not null" json:"email_confirmed"`
	EmailConfirmedAt *time.Time `gorm:"column:email_confirmed_at" json:"email_confirmed_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// Draft describes a profile that has not been inserted yet.
type Draft struct {
	ID               string
	Email            string
	FullName         *string
	AvatarURL        *string
	Nickname         string
	EmailConfirmed   bool
	EmailConfirmedAt *time.Time
}

// Update is a partial profile update; nil fields are left untouched.
type Update struct {
	FullName         *string    `json:"full_name,omitempty" validate:"omitempty,max=120"`
	AvatarURL        *string    `json:"avatar_url,omitempty" validate:"omitempty,url,max=512"`
	Nickname         *string    `json:"nickname,omitempty" validate:"omitempty,nickname"`
	EmailConfirmed   *bool      `json:"-"`
	EmailConfirmedAt *time.Time `json:"-"`
}

// IsEmpty reports whether the update would change nothing.
func (u Update) IsEmpty() bool {
	return u.FullName == nil &&
		u.AvatarURL == nil &&
		u.Nickname == nil &&
		u.EmailConfirmed == nil &&
		u.EmailConfirmedAt == nil
}

func (u Update) columns() map[string]interface{} {
	columns := map[string]interface{}{}
	if u.FullName != nil {
		columns["full_name"] = *u.FullName
	}
	if u.AvatarURL != nil {
		columns["avatar_url"] = *u.AvatarURL
	}
	if u.Nickname != nil {
		columns["nickname"] = *u.Nickname
	}
	if u.EmailConfirmed != nil {
		columns["email_confirmed"] = *u.EmailConfirmed
	}
	if u.EmailConfirmedAt != nil {
		columns["email_confirmed_at"] = u.EmailConfirmedAt.UTC()
	}
	return columns
}
