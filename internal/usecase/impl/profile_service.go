package impl

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"gatekeeper/config"
	"gatekeeper/internal/domain/entity"
	domainerrors "gatekeeper/internal/domain/errors"
	"gatekeeper/internal/domain/repository"
	"gatekeeper/internal/domain/service"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/usecase"

	"github.com/google/uuid"
	"go.uber.org/fx"
)

type profileService struct {
	core

	secureTokens service.SecureTokenGenerator
}

// ProfileServiceParams holds dependencies for ProfileService, injected by Fx.
type ProfileServiceParams struct {
	fx.In

	TxManager    repository.TransactionManager
	IdentityRepo repository.IdentityRepository
	SecureTokens service.SecureTokenGenerator
	Publisher    service.SecurityEventPublisher
	Clock        service.Clock `optional:"true"`
	Config       *config.Config
	Logger       *slog.Logger
}

func NewProfileService(params ProfileServiceParams) usecase.ProfileUsecase {
	return &profileService{
		core: core{
			txManager:    params.TxManager,
			identityRepo: params.IdentityRepo,
			publisher:    params.Publisher,
			logger:       params.Logger,
			clock:        params.Clock,
			policy:       newPolicy(params.Config),
		},
		secureTokens: params.SecureTokens,
	}
}

func (srv *profileService) GetProfile(ctx context.Context, userID uuid.UUID) (*usecase.IdentityView, error) {
	identity, err := srv.findIdentity(ctx, func(ctx context.Context, repo repository.IdentityRepository) (*entity.Identity, error) {
		return repo.FindByID(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return nil, domainerrors.ErrNotFound
		}

		return nil, err
	}

	return usecase.NewIdentityView(identity), nil
}

// UpdateProfile patches name and email. A changed email must be verified again.
func (srv *profileService) UpdateProfile(ctx context.Context, userID uuid.UUID, input *usecase.UpdateProfileInput) (*usecase.UpdateProfileOutput, error) {
	var verificationToken string

	if input.Email != nil {
		token, err := srv.secureTokens.Generate(service.DefaultSecureTokenBytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate verification token")
		}
		verificationToken = token
	}

	var emailChanged bool
	updated, err := srv.mutateWithRepo(ctx, userID, func(ctx context.Context, repo repository.IdentityRepository, locked *entity.Identity) error {
		if input.FirstName != nil {
			locked.FirstName = strings.TrimSpace(*input.FirstName)
		}
		if input.LastName != nil {
			locked.LastName = strings.TrimSpace(*input.LastName)
		}
		if input.Email == nil {
			return nil
		}

		email := entity.NormalizeEmail(*input.Email)
		if email == "" {
			return domainerrors.ErrValidationFailed.WithDetails("email must not be empty")
		}
		if email == locked.Email {
			return nil
		}

		holder, err := repo.FindByEmail(ctx, email)
		switch {
		case err == nil && holder.ID != locked.ID:
			return domainerrors.ErrEmailTaken
		case err != nil && !errors.Is(err, repository.ErrIdentityNotFound):
			return err
		}

		locked.Email = email
		locked.EmailVerified = false
		locked.EmailVerificationDigest = srv.secureTokens.Digest(verificationToken)
		emailChanged = true

		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrIdentityNotFound):
			return nil, domainerrors.ErrNotFound
		case errors.Is(err, repository.ErrEmailAlreadyExists):
			return nil, domainerrors.ErrEmailTaken
		}

		return nil, err
	}

	output := &usecase.UpdateProfileOutput{Identity: usecase.NewIdentityView(updated)}
	if emailChanged {
		output.VerificationToken = verificationToken
	}

	return output, nil
}

// SetActive toggles the active flag. Deactivation revokes every refresh token.
func (srv *profileService) SetActive(ctx context.Context, actor entity.IdentityContext, targetID uuid.UUID, active bool) (*usecase.IdentityView, error) {
	if !actor.Role.Satisfies(entity.RoleAdmin) {
		return nil, domainerrors.ErrForbidden
	}
	if actor.UserID == targetID && !active {
		return nil, domainerrors.ErrValidationFailed.WithDetails("cannot deactivate your own account")
	}

	updated, err := srv.mutate(ctx, targetID, func(locked *entity.Identity) error {
		if locked.Active == active {
			return errSkipUpdate
		}
		locked.Active = active
		if !active {
			locked.ClearRefreshTokens()
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return nil, domainerrors.ErrNotFound
		}

		return nil, err
	}

	event := newEvent(service.EventAccountStatusChanged, updated, entity.DeviceInfo{})
	event.Attributes = map[string]string{
		"active":   strconv.FormatBool(active),
		"actor_id": actor.UserID.String(),
	}
	srv.publish(ctx, event)
	srv.log(ctx).Info("Account status changed", slog.Any("identityID", updated.ID), slog.Bool("active", active))

	return usecase.NewIdentityView(updated), nil
}
