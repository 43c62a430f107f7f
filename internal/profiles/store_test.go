package profiles

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "profiles.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Profile{}))

	store, err := NewStore(StoreConfig{
		Database: db,
		Clock:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return store
}

func stringPointer(value string) *string {
	return &value
}

func TestNewStoreRequiresDatabase(t *testing.T) {
	_, err := NewStore(StoreConfig{})
	require.Error(t, err)
}

func TestInsertAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.Insert(ctx, Draft{
		ID:       "8e0f2d8c-0000-4000-8000-000000000001",
		Email:    "river@example.com",
		FullName: stringPointer("River Song"),
		Nickname: "CalmOwl47",
	})
	require.NoError(t, err)
	require.Equal(t, fixedNow, inserted.CreatedAt)
	require.False(t, inserted.EmailConfirmed)

	byID, err := store.FindByID(ctx, inserted.ID)
	require.NoError(t, err)
	require.Equal(t, "CalmOwl47", byID.Nickname)
	require.Equal(t, "River Song", *byID.FullName)

	byNickname, err := store.FindByNickname(ctx, "CalmOwl47")
	require.NoError(t, err)
	require.Equal(t, inserted.ID, byNickname.ID)
}

func TestFindReportsNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.FindByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindByNickname(ctx, "NobodyHere10")
	require.ErrorIs(t, err, ErrNotFound)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, "profiles.find_by_nickname.not_found", storeErr.Code())
}

func TestInsertRejectsDuplicateIDAndNickname(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, Draft{ID: "user-1", Email: "one@example.com", Nickname: "ZenPanda12"})
	require.NoError(t, err)

	_, err = store.Insert(ctx, Draft{ID: "user-1", Email: "one@example.com", Nickname: "SereneFox63"})
	require.ErrorIs(t, err, ErrConflict)

	_, err = store.Insert(ctx, Draft{ID: "user-2", Email: "two@example.com", Nickname: "ZenPanda12"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestInsertRejectsIncompleteDraft(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Insert(context.Background(), Draft{ID: "user-1", Email: "one@example.com"})
	require.ErrorIs(t, err, ErrInvalidDraft)
}

func TestUpdateByIDAppliesPartialUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, Draft{ID: "user-1", Email: "one@example.com", FullName: stringPointer("One"), Nickname: "ZenPanda12"})
	require.NoError(t, err)

	confirmed := true
	confirmedAt := fixedNow.Add(-time.Hour)
	updated, err := store.UpdateByID(ctx, "user-1", Update{
		AvatarURL:        stringPointer("https://cdn.example.com/a.png"),
		EmailConfirmed:   &confirmed,
		EmailConfirmedAt: &confirmedAt,
	})
	require.NoError(t, err)
	require.Equal(t, "One", *updated.FullName)
	require.Equal(t, "https://cdn.example.com/a.png", *updated.AvatarURL)
	require.True(t, updated.EmailConfirmed)
	require.NotNil(t, updated.EmailConfirmedAt)
	require.True(t, confirmedAt.Equal(*updated.EmailConfirmedAt))
}

func TestUpdateByIDValidatesInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, Draft{ID: "user-1", Email: "one@example.com", Nickname: "ZenPanda12"})
	require.NoError(t, err)

	_, err = store.UpdateByID(ctx, "user-1", Update{AvatarURL: stringPointer("not a url")})
	require.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = store.UpdateByID(ctx, "user-1", Update{Nickname: stringPointer("SiteAdmin")})
	require.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestUpdateByIDReportsNicknameConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, Draft{ID: "user-1", Email: "one@example.com", Nickname: "ZenPanda12"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, Draft{ID: "user-2", Email: "two@example.com", Nickname: "SereneFox63"})
	require.NoError(t, err)

	_, err = store.UpdateByID(ctx, "user-2", Update{Nickname: stringPointer("ZenPanda12")})
	require.ErrorIs(t, err, ErrConflict)
}

func TestUpdateByIDMissingRow(t *testing.T) {
	store := newTestStore(t)
	_, err := store.UpdateByID(context.Background(), "ghost", Update{FullName: stringPointer("Ghost")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateByIDEmptyUpdateReturnsCurrentRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, Draft{ID: "user-1", Email: "one@example.com", Nickname: "ZenPanda12"})
	require.NoError(t, err)

	current, err := store.UpdateByID(ctx, "user-1", Update{})
	require.NoError(t, err)
	require.Equal(t, "ZenPanda12", current.Nickname)
}
