package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsProfileConfirmation(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	require.NoError(testContext, err)
	require.NoError(testContext, database.AutoMigrate(&profiles.Profile{}, &users.Identity{}, &migrationRecord{}))

	confirmedAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	identities := []users.Identity{
		{ID: "user-1", Provider: "google", Subject: "sub-1", Email: "ada@example.com", EmailConfirmedAt: &confirmedAt, CreatedAt: now, UpdatedAt: now, LastSeenAt: now},
		{ID: "user-2", Provider: "google", Subject: "sub-2", Email: "grace@example.com", CreatedAt: now, UpdatedAt: now, LastSeenAt: now},
	}
	require.NoError(testContext, database.Create(&identities).Error)
	rows := []profiles.Profile{
		{ID: "user-1", Email: "ada@example.com", Nickname: "CalmOwl47", CreatedAt: now, UpdatedAt: now},
		{ID: "user-2", Email: "grace@example.com", Nickname: "ZenPanda12", CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(testContext, database.Create(&rows).Error)

	require.NoError(testContext, applyMigrations(database, zap.NewNop()))

	var confirmed profiles.Profile
	require.NoError(testContext, database.Where("id = ?", "user-1").Take(&confirmed).Error)
	assert.True(testContext, confirmed.EmailConfirmed)
	require.NotNil(testContext, confirmed.EmailConfirmedAt)
	assert.True(testContext, confirmed.EmailConfirmedAt.Equal(confirmedAt))

	var unconfirmed profiles.Profile
	require.NoError(testContext, database.Where("id = ?", "user-2").Take(&unconfirmed).Error)
	assert.False(testContext, unconfirmed.EmailConfirmed)

	var record migrationRecord
	require.NoError(testContext, database.Where("name = ?", migrationBackfillProfileEmailConfirmed).Take(&record).Error)
	assert.NotZero(testContext, record.AppliedAtSeconds)

	require.NoError(testContext, applyMigrations(database, zap.NewNop()), "migrations must be idempotent")
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "kindred.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	require.NoError(testContext, err)

	for _, table := range []string{"profiles", "auth_identities", "auth_sessions", "db_migrations"} {
		assert.True(testContext, database.Migrator().HasTable(table), "table %s", table)
	}

	_, err = OpenSQLite("", nil)
	assert.Error(testContext, err)
}
