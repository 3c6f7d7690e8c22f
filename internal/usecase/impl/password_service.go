package impl

import (
	"context"
	"log/slog"

	"gatekeeper/config"
	"gatekeeper/internal/domain/entity"
	domainerrors "gatekeeper/internal/domain/errors"
	"gatekeeper/internal/domain/repository"
	"gatekeeper/internal/domain/service"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/usecase"

	"go.uber.org/fx"
)

type passwordService struct {
	core

	hasher       service.PasswordHasher
	secureTokens service.SecureTokenGenerator
}

// PasswordServiceParams holds dependencies for PasswordService, injected by Fx.
type PasswordServiceParams struct {
	fx.In

	TxManager    repository.TransactionManager
	IdentityRepo repository.IdentityRepository
	Hasher       service.PasswordHasher
	SecureTokens service.SecureTokenGenerator
	Publisher    service.SecurityEventPublisher
	Clock        service.Clock `optional:"true"`
	Config       *config.Config
	Logger       *slog.Logger
}

func NewPasswordService(params PasswordServiceParams) usecase.PasswordUsecase {
	return &passwordService{
		core: core{
			txManager:    params.TxManager,
			identityRepo: params.IdentityRepo,
			publisher:    params.Publisher,
			logger:       params.Logger,
			clock:        params.Clock,
			policy:       newPolicy(params.Config),
		},
		hasher:       params.Hasher,
		secureTokens: params.SecureTokens,
	}
}

// ChangePassword replaces the password digest and revokes every refresh token.
// Outstanding access tokens stay valid until they expire.
func (srv *passwordService) ChangePassword(ctx context.Context, identityCtx entity.IdentityContext, input *usecase.ChangePasswordInput) error {
	if err := srv.hasher.ValidateStrength(input.NewPassword); err != nil {
		return err
	}

	identity, err := srv.findIdentity(ctx, func(ctx context.Context, repo repository.IdentityRepository) (*entity.Identity, error) {
		return repo.FindByID(ctx, identityCtx.UserID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return domainerrors.ErrNotFound
		}

		return err
	}

	if !srv.hasher.Check(input.CurrentPassword, identity.PasswordHash) {
		srv.log(ctx).Info("Password change rejected, current password mismatch", slog.Any("identityID", identity.ID))

		return domainerrors.ErrInvalidCredentials
	}

	newHash, err := srv.hasher.Hash(input.NewPassword)
	if err != nil {
		return errors.Wrap(domainerrors.ErrPasswordHashFailed, err.Error())
	}

	changed, err := srv.mutate(ctx, identity.ID, func(locked *entity.Identity) error {
		// The password changed after it was checked.
		if locked.PasswordHash != identity.PasswordHash {
			return domainerrors.ErrInvalidCredentials
		}
		locked.PasswordHash = newHash
		locked.ClearRefreshTokens()

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return domainerrors.ErrNotFound
		}

		return err
	}

	srv.publish(ctx, newEvent(service.EventPasswordChanged, changed, entity.DeviceInfo{}))
	srv.log(ctx).Info("Password changed", slog.Any("identityID", changed.ID))

	return nil
}

// RequestPasswordReset answers every request with the same message. When the
// email matches an identity a reset token is issued and only its digest stored.
func (srv *passwordService) RequestPasswordReset(ctx context.Context, input *usecase.RequestPasswordResetInput) (*usecase.RequestPasswordResetOutput, error) {
	output := &usecase.RequestPasswordResetOutput{Message: usecase.PasswordResetRequestedMessage}
	email := entity.NormalizeEmail(input.Email)

	identity, err := srv.findIdentity(ctx, func(ctx context.Context, repo repository.IdentityRepository) (*entity.Identity, error) {
		return repo.FindByEmail(ctx, email)
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			srv.log(ctx).Debug("Password reset requested for unknown email")

			return output, nil
		}

		return nil, err
	}

	resetToken, err := srv.secureTokens.Generate(service.DefaultSecureTokenBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate reset token")
	}
	digest := srv.secureTokens.Digest(resetToken)

	requested, err := srv.mutate(ctx, identity.ID, func(locked *entity.Identity) error {
		locked.SetPasswordReset(digest, srv.now().Add(srv.policy.resetTokenTTL))

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return output, nil
		}

		return nil, err
	}

	srv.publish(ctx, newEvent(service.EventPasswordResetRequested, requested, entity.DeviceInfo{}))
	output.ResetToken = resetToken

	return output, nil
}

// ResetPassword consumes a reset token. It sets the new password, clears the
// lockout state and revokes every refresh token.
func (srv *passwordService) ResetPassword(ctx context.Context, input *usecase.ResetPasswordInput) error {
	if input.Token == "" {
		return domainerrors.ErrInvalidOrExpiredToken
	}
	if err := srv.hasher.ValidateStrength(input.NewPassword); err != nil {
		return err
	}

	digest := srv.secureTokens.Digest(input.Token)

	identity, err := srv.findIdentity(ctx, func(ctx context.Context, repo repository.IdentityRepository) (*entity.Identity, error) {
		return repo.FindByPasswordResetDigest(ctx, digest, srv.now())
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return domainerrors.ErrInvalidOrExpiredToken
		}

		return err
	}

	newHash, err := srv.hasher.Hash(input.NewPassword)
	if err != nil {
		return errors.Wrap(domainerrors.ErrPasswordHashFailed, err.Error())
	}

	reset, err := srv.mutate(ctx, identity.ID, func(locked *entity.Identity) error {
		// Single use: a concurrent reset may have consumed the token.
		if !locked.PasswordResetMatches(digest, srv.now()) {
			return domainerrors.ErrInvalidOrExpiredToken
		}
		locked.PasswordHash = newHash
		locked.ClearPasswordReset()
		locked.ResetLockout()
		locked.ClearRefreshTokens()

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return domainerrors.ErrInvalidOrExpiredToken
		}

		return err
	}

	srv.publish(ctx, newEvent(service.EventPasswordResetCompleted, reset, entity.DeviceInfo{}))
	srv.log(ctx).Info("Password reset completed", slog.Any("identityID", reset.ID))

	return nil
}
