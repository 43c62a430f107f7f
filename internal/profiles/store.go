package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/nickname"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates no profile matched the lookup.
	ErrNotFound = errors.New("profiles: profile not found")
	// ErrConflict indicates the id or nickname is already taken.
	ErrConflict = errors.New("profiles: profile conflicts with an existing row")
	// ErrInvalidUpdate indicates the partial update failed validation.
	ErrInvalidUpdate = errors.New("profiles: invalid update")
	// ErrInvalidDraft indicates the draft lacks an id, email or nickname.
	ErrInvalidDraft = errors.New("profiles: invalid draft")

	errMissingDatabase = errors.New("database handle is required")
	errMissingID       = errors.New("profile id is required")
	noOpLogger         = zap.NewNop()
)

const (
	opStoreNew       = "profiles.store.new"
	opFindByID       = "profiles.find_by_id"
	opFindByNickname = "profiles.find_by_nickname"
	opInsert         = "profiles.insert"
	opUpdateByID     = "profiles.update_by_id"
)

// StoreError carries a stable "operation.reason" code alongside the cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: operation + "." + reason, err: cause}
}

// StoreConfig describes the dependencies of the profiles store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists profiles in the "profiles" table.
type Store struct {
	db       *gorm.DB
	now      func() time.Time
	logger   *zap.Logger
	validate *validator.Validate
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("nickname", func(field validator.FieldLevel) bool {
		return nickname.Validate(field.Field().String()) == nil
	}); err != nil {
		return nil, newStoreError(opStoreNew, "validator_setup_failed", err)
	}

	return &Store{
		db:       cfg.Database,
		now:      clock,
		logger:   logger,
		validate: validate,
	}, nil
}

// FindByID returns the profile whose id equals the identity id.
func (s *Store) FindByID(ctx context.Context, id string) (Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Profile{}, newStoreError(opFindByID, "missing_id", errMissingID)
	}
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newStoreError(opFindByID, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opFindByID, "query_failed", err, zap.String("profile_id", id))
		return Profile{}, newStoreError(opFindByID, "query_failed", err)
	}
	return profile, nil
}

// FindByNickname returns the profile holding the nickname, if any.
func (s *Store) FindByNickname(ctx context.Context, nickname string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("nickname = ?", nickname).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newStoreError(opFindByNickname, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opFindByNickname, "query_failed", err, zap.String("nickname", nickname))
		return Profile{}, newStoreError(opFindByNickname, "query_failed", err)
	}
	return profile, nil
}

// Insert creates a profile. A duplicate id or nickname yields ErrConflict.
func (s *Store) Insert(ctx context.Context, draft Draft) (Profile, error) {
	if strings.TrimSpace(draft.ID) == "" || strings.TrimSpace(draft.Email) == "" || strings.TrimSpace(draft.Nickname) == "" {
		return Profile{}, newStoreError(opInsert, "invalid_draft", ErrInvalidDraft)
	}

	now := s.now().UTC()
	profile := Profile{
		ID:               draft.ID,
		Email:            strings.TrimSpace(draft.Email),
		FullName:         draft.FullName,
		AvatarURL:        draft.AvatarURL,
		Nickname:         draft.Nickname,
		EmailConfirmed:   draft.EmailConfirmed,
		EmailConfirmedAt: utcPointer(draft.EmailConfirmedAt),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		if isUniqueViolation(err) {
			return Profile{}, newStoreError(opInsert, "conflict", fmt.Errorf("%w: %v", ErrConflict, err))
		}
		s.logError(opInsert, "insert_failed", err, zap.String("profile_id", draft.ID))
		return Profile{}, newStoreError(opInsert, "insert_failed", err)
	}
	return profile, nil
}

// UpdateByID applies a partial update to the profile and returns the stored row.
func (s *Store) UpdateByID(ctx context.Context, id string, update Update) (Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Profile{}, newStoreError(opUpdateByID, "missing_id", errMissingID)
	}
	if err := s.validate.Struct(update); err != nil {
		return Profile{}, newStoreError(opUpdateByID, "invalid_update", fmt.Errorf("%w: %s", ErrInvalidUpdate, describeValidation(err)))
	}
	if update.IsEmpty() {
		return s.FindByID(ctx, id)
	}

	columns := update.columns()
	columns["updated_at"] = s.now().UTC()
	result := s.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", id).Updates(columns)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return Profile{}, newStoreError(opUpdateByID, "conflict", fmt.Errorf("%w: %v", ErrConflict, result.Error))
		}
		s.logError(opUpdateByID, "update_failed", result.Error, zap.String("profile_id", id))
		return Profile{}, newStoreError(opUpdateByID, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Profile{}, newStoreError(opUpdateByID, "not_found", ErrNotFound)
	}
	return s.FindByID(ctx, id)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("profiles store error", attrs...)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "duplicate key")
}

func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		fieldError := validationErrors[0]
		return fmt.Sprintf("%s failed on '%s' validation", fieldError.Field(), fieldError.Tag())
	}
	return err.Error()
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}
