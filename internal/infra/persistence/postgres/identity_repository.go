// Package postgres contains the concrete implementation of the persistence layer using GORM and PostgreSQL.
package postgres

import (
	"context"
	"time"

	"gatekeeper/internal/domain/entity"
	domainerrors "gatekeeper/internal/domain/errors"
	"gatekeeper/internal/domain/repository"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/infra/persistence/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// identityRepository implements repository.IdentityRepository using GORM.
type identityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository binds the repository to db, which may be a transaction.
func NewIdentityRepository(db *gorm.DB) repository.IdentityRepository {
	return &identityRepository{db: db}
}

func (repo *identityRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Identity, error) {
	return repo.first(repo.withTokens(ctx).Where("id = ?", id), "failed to find identity by id")
}

func (repo *identityRepository) FindByEmail(ctx context.Context, email string) (*entity.Identity, error) {
	return repo.first(
		repo.withTokens(ctx).Where("email = ?", entity.NormalizeEmail(email)),
		"failed to find identity by email",
	)
}

func (repo *identityRepository) FindByRefreshTokenDigest(ctx context.Context, digest string) (*entity.Identity, error) {
	owner := repo.db.WithContext(ctx).
		Model(&model.RefreshTokenModel{}).
		Select("identity_id").
		Where("token_hash = ?", digest)

	return repo.first(repo.withTokens(ctx).Where("id IN (?)", owner), "failed to find identity by refresh token")
}

func (repo *identityRepository) FindByPasswordResetDigest(ctx context.Context, digest string, now time.Time) (*entity.Identity, error) {
	return repo.first(
		repo.withTokens(ctx).Where("password_reset_digest = ? AND password_reset_expires_at > ?", digest, now),
		"failed to find identity by reset token",
	)
}

func (repo *identityRepository) FindByEmailVerificationDigest(ctx context.Context, digest string) (*entity.Identity, error) {
	return repo.first(
		repo.withTokens(ctx).Where("email_verification_digest = ?", digest),
		"failed to find identity by verification token",
	)
}

// LockByID selects the identity row FOR UPDATE. It only serializes writers
// when called inside TransactionManager.Execute.
func (repo *identityRepository) LockByID(ctx context.Context, id uuid.UUID) (*entity.Identity, error) {
	return repo.first(
		repo.withTokens(ctx).Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).Where("id = ?", id),
		"failed to lock identity",
	)
}

func (repo *identityRepository) Create(ctx context.Context, identity *entity.Identity) error {
	identityM := fromIdentityDomain(identity)

	if err := repo.db.WithContext(ctx).Create(identityM).Error; err != nil {
		if isUniqueConstraintViolation(err) {
			return errors.WithStack(repository.ErrEmailAlreadyExists)
		}

		return domainerrors.NewDatabaseExecuteError(err, "failed to create identity")
	}

	identity.CreatedAt = identityM.CreatedAt
	identity.UpdatedAt = identityM.UpdatedAt

	return nil
}

// Update writes every mutable column and replaces the refresh token rows.
// Both steps share one (nested) transaction. Rows are inserted in list order
// so their seq values preserve it.
func (repo *identityRepository) Update(ctx context.Context, identity *entity.Identity) error {
	identityM := fromIdentityDomain(identity)
	identityM.UpdatedAt = time.Now()

	err := repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.IdentityModel{}).
			Where("id = ?", identityM.ID).
			Updates(map[string]any{
				"email":                     identityM.Email,
				"password_hash":             identityM.PasswordHash,
				"first_name":                identityM.FirstName,
				"last_name":                 identityM.LastName,
				"role":                      identityM.Role,
				"active":                    identityM.Active,
				"email_verified":            identityM.EmailVerified,
				"email_verification_digest": identityM.EmailVerificationDigest,
				"login_attempts":            identityM.LoginAttempts,
				"lock_until":                identityM.LockUntil,
				"last_login_at":             identityM.LastLoginAt,
				"password_reset_digest":     identityM.PasswordResetDigest,
				"password_reset_expires_at": identityM.PasswordResetExpiresAt,
				"updated_at":                identityM.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return repository.ErrIdentityNotFound
		}

		if err := tx.Where("identity_id = ?", identityM.ID).Delete(&model.RefreshTokenModel{}).Error; err != nil {
			return err
		}
		if len(identityM.RefreshTokens) == 0 {
			return nil
		}

		return tx.Create(&identityM.RefreshTokens).Error
	})

	switch {
	case err == nil:
		identity.UpdatedAt = identityM.UpdatedAt

		return nil
	case errors.Is(err, repository.ErrIdentityNotFound):
		return errors.WithStack(err)
	case isUniqueConstraintViolation(err):
		return errors.WithStack(repository.ErrEmailAlreadyExists)
	default:
		return domainerrors.NewDatabaseExecuteError(err, "failed to update identity")
	}
}

func (repo *identityRepository) withTokens(ctx context.Context) *gorm.DB {
	return repo.db.WithContext(ctx).Preload("RefreshTokens", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, seq ASC")
	})
}

func (repo *identityRepository) first(query *gorm.DB, details string) (*entity.Identity, error) {
	var identityM model.IdentityModel
	if err := query.First(&identityM).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithStack(repository.ErrIdentityNotFound)
		}

		return nil, domainerrors.NewDatabaseExecuteError(err, details)
	}

	return toIdentityDomain(&identityM), nil
}

// --- Mapper Functions ---

func toIdentityDomain(data *model.IdentityModel) *entity.Identity {
	if data == nil {
		return nil
	}

	tokens := make([]entity.RefreshTokenEntry, 0, len(data.RefreshTokens))
	for _, token := range data.RefreshTokens {
		tokens = append(tokens, entity.RefreshTokenEntry{
			TokenDigest: token.TokenHash,
			RotatedFrom: derefString(token.RotatedFrom),
			CreatedAt:   token.CreatedAt,
			ExpiresAt:   token.ExpiresAt,
			Device: entity.DeviceInfo{
				UserAgent: token.UserAgent,
				IPAddress: token.IPAddress,
			},
		})
	}

	return &entity.Identity{
		ID:                      data.ID,
		Email:                   data.Email,
		PasswordHash:            data.PasswordHash,
		FirstName:               data.FirstName,
		LastName:                data.LastName,
		Role:                    entity.ParseRole(data.Role),
		Active:                  data.Active,
		EmailVerified:           data.EmailVerified,
		EmailVerificationDigest: derefString(data.EmailVerificationDigest),
		LoginAttempts:           data.LoginAttempts,
		LockUntil:               data.LockUntil,
		LastLoginAt:             data.LastLoginAt,
		PasswordResetDigest:     derefString(data.PasswordResetDigest),
		PasswordResetExpiresAt:  data.PasswordResetExpiresAt,
		RefreshTokens:           tokens,
		CreatedAt:               data.CreatedAt,
		UpdatedAt:               data.UpdatedAt,
	}
}

func fromIdentityDomain(data *entity.Identity) *model.IdentityModel {
	if data == nil {
		return nil
	}

	tokens := make([]model.RefreshTokenModel, 0, len(data.RefreshTokens))
	for _, token := range data.RefreshTokens {
		tokens = append(tokens, model.RefreshTokenModel{
			ID:          uuid.New(),
			IdentityID:  data.ID,
			TokenHash:   token.TokenDigest,
			RotatedFrom: nullableString(token.RotatedFrom),
			UserAgent:   token.Device.UserAgent,
			IPAddress:   token.Device.IPAddress,
			ExpiresAt:   token.ExpiresAt,
			CreatedAt:   token.CreatedAt,
		})
	}

	return &model.IdentityModel{
		ID:                      data.ID,
		Email:                   entity.NormalizeEmail(data.Email),
		PasswordHash:            data.PasswordHash,
		FirstName:               data.FirstName,
		LastName:                data.LastName,
		Role:                    data.Role.String(),
		Active:                  data.Active,
		EmailVerified:           data.EmailVerified,
		EmailVerificationDigest: nullableString(data.EmailVerificationDigest),
		LoginAttempts:           data.LoginAttempts,
		LockUntil:               data.LockUntil,
		LastLoginAt:             data.LastLoginAt,
		PasswordResetDigest:     nullableString(data.PasswordResetDigest),
		PasswordResetExpiresAt:  data.PasswordResetExpiresAt,
		RefreshTokens:           tokens,
		CreatedAt:               data.CreatedAt,
		UpdatedAt:               data.UpdatedAt,
	}
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
