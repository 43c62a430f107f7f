package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillProfileEmailConfirmed = "2026-10-01_backfill_profile_email_confirmed"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillProfileEmailConfirmed, apply: backfillProfileEmailConfirmed},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillProfileEmailConfirmed copies confirmation stamps recorded on the
// identity onto profiles created before the profile tracked them.
func backfillProfileEmailConfirmed(db *gorm.DB) error {
	return db.Exec(`
UPDATE profiles
SET email_confirmed = 1,
    email_confirmed_at = (
        SELECT auth_identities.email_confirmed_at
        FROM auth_identities
        WHERE auth_identities.id = profiles.id
    )
WHERE email_confirmed = 0
  AND EXISTS (
        SELECT 1 FROM auth_identities
        WHERE auth_identities.id = profiles.id
          AND auth_identities.email_confirmed_at IS NOT NULL
  )`).Error
}
