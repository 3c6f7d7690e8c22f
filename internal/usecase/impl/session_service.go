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

// sessionService implements the SessionUsecase interface.
type sessionService struct {
	core

	hasher       service.PasswordHasher
	tokenService service.TokenService
	secureTokens service.SecureTokenGenerator
}

// SessionServiceParams holds dependencies for SessionService, injected by Fx.
type SessionServiceParams struct {
	fx.In

	TxManager    repository.TransactionManager
	IdentityRepo repository.IdentityRepository
	Hasher       service.PasswordHasher
	TokenService service.TokenService
	SecureTokens service.SecureTokenGenerator
	Publisher    service.SecurityEventPublisher
	Clock        service.Clock `optional:"true"`
	Config       *config.Config
	Logger       *slog.Logger
}

// NewSessionService is the constructor for sessionService.
func NewSessionService(params SessionServiceParams) usecase.SessionUsecase {
	return &sessionService{
		core: core{
			txManager:    params.TxManager,
			identityRepo: params.IdentityRepo,
			publisher:    params.Publisher,
			logger:       params.Logger,
			clock:        params.Clock,
			policy:       newPolicy(params.Config),
		},
		hasher:       params.Hasher,
		tokenService: params.TokenService,
		secureTokens: params.SecureTokens,
	}
}

// Register creates an identity, issues its first token pair and hands back a
// one-time email verification token.
func (srv *sessionService) Register(ctx context.Context, input *usecase.RegisterInput) (*usecase.AuthOutput, error) {
	email := entity.NormalizeEmail(input.Email)
	srv.log(ctx).Debug("Starting registration", slog.String("email", email))

	role := input.Role
	if role == "" {
		role = entity.RoleUser
	}
	if !role.IsValid() {
		return nil, domainerrors.ErrValidationFailed.WithDetails("unknown role")
	}

	if err := srv.hasher.ValidateStrength(input.Password); err != nil {
		return nil, err
	}

	_, err := srv.findIdentity(ctx, func(ctx context.Context, repo repository.IdentityRepository) (*entity.Identity, error) {
		return repo.FindByEmail(ctx, email)
	})
	switch {
	case err == nil:
		srv.log(ctx).Info("Registration rejected, email already registered", slog.String("email", email))

		return nil, domainerrors.ErrDuplicateEmail
	case !errors.Is(err, repository.ErrIdentityNotFound):
		return nil, err
	}

	passwordHash, err := srv.hasher.Hash(input.Password)
	if err != nil {
		srv.log(ctx).Error("Failed to hash password during registration", slog.Any("error", err))

		return nil, errors.Wrap(domainerrors.ErrPasswordHashFailed, err.Error())
	}

	verificationToken, err := srv.secureTokens.Generate(service.DefaultSecureTokenBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate verification token")
	}

	now := srv.now()
	identity := &entity.Identity{
		ID:                      uuid.New(),
		Email:                   email,
		PasswordHash:            passwordHash,
		FirstName:               strings.TrimSpace(input.FirstName),
		LastName:                strings.TrimSpace(input.LastName),
		Role:                    role,
		Active:                  true,
		EmailVerificationDigest: srv.secureTokens.Digest(verificationToken),
	}

	pair, err := srv.tokenService.IssuePair(identity.Context())
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue tokens")
	}
	identity.RegisterSuccessfulLogin(now)
	identity.AddRefreshToken(srv.refreshEntry(pair, input.Device), srv.policy.maxRefreshTokens, now)

	boundedCtx, cancel := srv.bounded(ctx)
	defer cancel()

	if err := srv.identityRepo.Create(boundedCtx, identity); err != nil {
		if errors.Is(err, repository.ErrEmailAlreadyExists) {
			return nil, domainerrors.ErrDuplicateEmail
		}

		return nil, srv.classify(ctx, err)
	}

	srv.publish(ctx, newEvent(service.EventRegistered, identity, input.Device))
	srv.log(ctx).Info("Identity registered", slog.Any("identityID", identity.ID))

	return &usecase.AuthOutput{
		Identity:          usecase.NewIdentityView(identity),
		Tokens:            pair,
		VerificationToken: verificationToken,
	}, nil
}

// Login checks the password against the lockout state machine and, on
// success, issues a token pair and appends its refresh entry.
func (srv *sessionService) Login(ctx context.Context, input *usecase.LoginInput) (*usecase.AuthOutput, error) {
	email := entity.NormalizeEmail(input.Email)

	identity, err := srv.findIdentity(ctx, func(ctx context.Context, repo repository.IdentityRepository) (*entity.Identity, error) {
		return repo.FindByEmail(ctx, email)
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			srv.log(ctx).Info("Login failed, unknown email")

			return nil, domainerrors.ErrInvalidCredentials
		}

		return nil, err
	}

	// A locked account neither consumes an attempt nor checks the password.
	if identity.IsLocked(srv.now()) {
		srv.log(ctx).Info("Login rejected, account locked", slog.Any("identityID", identity.ID))

		return nil, domainerrors.ErrAccountLocked
	}

	// bcrypt runs outside the transaction.
	if !srv.hasher.Check(input.Password, identity.PasswordHash) {
		return nil, srv.recordFailedLogin(ctx, identity.ID, identity.PasswordHash, input.Device)
	}

	var pair *entity.TokenPair
	loggedIn, err := srv.mutate(ctx, identity.ID, func(locked *entity.Identity) error {
		// The password changed after it was checked.
		if locked.PasswordHash != identity.PasswordHash {
			return domainerrors.ErrInvalidCredentials
		}

		now := srv.now()
		if locked.IsLocked(now) {
			return domainerrors.ErrAccountLocked
		}
		if !locked.Active {
			return domainerrors.ErrAccountDeactivated
		}

		var issueErr error
		pair, issueErr = srv.tokenService.IssuePair(locked.Context())
		if issueErr != nil {
			return errors.Wrap(issueErr, "failed to issue tokens")
		}

		locked.RegisterSuccessfulLogin(now)
		locked.AddRefreshToken(srv.refreshEntry(pair, input.Device), srv.policy.maxRefreshTokens, now)

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return nil, domainerrors.ErrInvalidCredentials
		}
		srv.log(ctx).Info("Login rejected", slog.Any("identityID", identity.ID), slog.Any("error", err))

		return nil, err
	}

	srv.publish(ctx, newEvent(service.EventLoginSucceeded, loggedIn, input.Device))
	srv.log(ctx).Debug("Identity logged in", slog.Any("identityID", loggedIn.ID))

	return &usecase.AuthOutput{
		Identity: usecase.NewIdentityView(loggedIn),
		Tokens:   pair,
	}, nil
}

// recordFailedLogin counts one failure and returns the error the caller sees.
// checkedHash is the digest the password was compared against; a failure
// against a digest that has since been replaced is not counted.
func (srv *sessionService) recordFailedLogin(ctx context.Context, id uuid.UUID, checkedHash string, device entity.DeviceInfo) error {
	var justLocked, counted bool
	identity, err := srv.mutate(ctx, id, func(locked *entity.Identity) error {
		if locked.PasswordHash != checkedHash {
			return errSkipUpdate
		}

		now := srv.now()
		// A concurrent failure already locked the account.
		if locked.IsLocked(now) {
			return errSkipUpdate
		}
		justLocked = locked.RegisterFailedLogin(now, srv.policy.maxLoginAttempts, srv.policy.lockDuration)
		counted = true

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return domainerrors.ErrInvalidCredentials
		}

		return err
	}
	if !counted {
		return domainerrors.ErrInvalidCredentials
	}

	event := newEvent(service.EventLoginFailed, identity, device)
	event.Attributes = map[string]string{"attempts": strconv.Itoa(identity.LoginAttempts)}
	srv.publish(ctx, event)

	if justLocked {
		srv.log(ctx).Warn("Account locked after repeated failures", slog.Any("identityID", identity.ID))
		srv.publish(ctx, newEvent(service.EventAccountLocked, identity, device))
	}

	return domainerrors.ErrInvalidCredentials
}

// RefreshToken exchanges a refresh token for a new access token. The token
// must verify in the refresh domain and still be listed on its owner.
func (srv *sessionService) RefreshToken(ctx context.Context, input *usecase.RefreshTokenInput) (*usecase.RefreshTokenOutput, error) {
	claims, err := srv.tokenService.VerifyRefresh(input.RefreshToken)
	if err != nil {
		srv.log(ctx).Debug("Refresh token rejected", slog.Any("error", err))

		return nil, domainerrors.ErrInvalidToken
	}

	subject, err := claims.UserID()
	if err != nil {
		return nil, domainerrors.ErrInvalidToken
	}

	digest := srv.tokenService.HashToken(input.RefreshToken)

	if srv.policy.rotateRefreshTokens {
		return srv.rotateRefreshToken(ctx, subject, digest, input.Device)
	}

	identity, err := srv.findIdentity(ctx, func(ctx context.Context, repo repository.IdentityRepository) (*entity.Identity, error) {
		return repo.FindByRefreshTokenDigest(ctx, digest)
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return nil, srv.revoked(ctx, subject, input.Device)
		}

		return nil, err
	}
	if identity.ID != subject || !identity.HasRefreshToken(digest, srv.now()) {
		return nil, srv.revoked(ctx, subject, input.Device)
	}
	if !identity.Active {
		return nil, domainerrors.ErrAccountDeactivated
	}

	accessToken, accessExp, err := srv.tokenService.IssueAccess(identity.Context())
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue access token")
	}

	return &usecase.RefreshTokenOutput{
		AccessToken:          accessToken,
		AccessTokenExpiresAt: accessExp,
	}, nil
}

// rotateRefreshToken replaces the presented entry with a new refresh token in
// the same transaction that verifies it is still listed. Presenting a token
// that was already rotated away revokes every session of the identity.
func (srv *sessionService) rotateRefreshToken(ctx context.Context, subject uuid.UUID, digest string, device entity.DeviceInfo) (*usecase.RefreshTokenOutput, error) {
	var (
		pair   *entity.TokenPair
		reused bool
	)
	_, err := srv.mutate(ctx, subject, func(locked *entity.Identity) error {
		now := srv.now()
		if !locked.HasRefreshToken(digest, now) {
			if !locked.WasRotatedAway(digest) {
				return domainerrors.ErrTokenRevoked
			}
			reused = true
			locked.ClearRefreshTokens()

			return nil
		}
		if !locked.Active {
			return domainerrors.ErrAccountDeactivated
		}

		var issueErr error
		pair, issueErr = srv.tokenService.IssuePair(locked.Context())
		if issueErr != nil {
			return errors.Wrap(issueErr, "failed to issue tokens")
		}

		entry := srv.refreshEntry(pair, device)
		entry.RotatedFrom = digest
		locked.RemoveRefreshToken(digest)
		locked.AddRefreshToken(entry, srv.policy.maxRefreshTokens, now)

		return nil
	})
	if err != nil {
		if errors.IsAny(err, repository.ErrIdentityNotFound, domainerrors.ErrTokenRevoked) {
			return nil, srv.revoked(ctx, subject, device)
		}

		return nil, err
	}

	if reused {
		srv.log(ctx).Warn("Rotated refresh token reused, all sessions revoked", slog.Any("identityID", subject))

		event := newEvent(service.EventRefreshTokenReused, nil, device)
		event.IdentityID = subject.String()
		srv.publish(ctx, event)

		return nil, domainerrors.ErrTokenRevoked
	}

	refreshExp := pair.RefreshTokenExpiresAt

	return &usecase.RefreshTokenOutput{
		AccessToken:           pair.AccessToken,
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresAt: &refreshExp,
	}, nil
}

// revoked reports a signature-valid refresh token that is no longer listed,
// after logout, password change, reset or eviction.
func (srv *sessionService) revoked(ctx context.Context, subject uuid.UUID, device entity.DeviceInfo) error {
	srv.log(ctx).Info("Revoked refresh token presented", slog.Any("identityID", subject))

	event := newEvent(service.EventRefreshTokenRejected, nil, device)
	event.IdentityID = subject.String()
	srv.publish(ctx, event)

	return domainerrors.ErrTokenRevoked
}

// Logout removes one refresh entry, or all of them when no token is given.
// Removing an entry that is already gone succeeds.
func (srv *sessionService) Logout(ctx context.Context, identityCtx entity.IdentityContext, input *usecase.LogoutInput) error {
	scope := "all"
	var digest string
	if input != nil && input.RefreshToken != "" {
		scope = "device"
		digest = srv.tokenService.HashToken(input.RefreshToken)
	}

	identity, err := srv.mutate(ctx, identityCtx.UserID, func(locked *entity.Identity) error {
		if digest == "" {
			if len(locked.RefreshTokens) == 0 {
				return errSkipUpdate
			}
			locked.ClearRefreshTokens()

			return nil
		}

		if !locked.RemoveRefreshToken(digest) {
			return errSkipUpdate
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return domainerrors.ErrNotFound
		}

		return err
	}

	event := newEvent(service.EventLoggedOut, identity, entity.DeviceInfo{})
	event.Attributes = map[string]string{"scope": scope}
	srv.publish(ctx, event)

	return nil
}

// VerifyEmail consumes a verification token. It can succeed only once.
func (srv *sessionService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return domainerrors.ErrInvalidOrExpiredToken
	}
	digest := srv.secureTokens.Digest(token)

	identity, err := srv.findIdentity(ctx, func(ctx context.Context, repo repository.IdentityRepository) (*entity.Identity, error) {
		return repo.FindByEmailVerificationDigest(ctx, digest)
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return domainerrors.ErrInvalidOrExpiredToken
		}

		return err
	}

	verified, err := srv.mutate(ctx, identity.ID, func(locked *entity.Identity) error {
		if locked.EmailVerificationDigest != digest {
			return domainerrors.ErrInvalidOrExpiredToken
		}
		locked.EmailVerified = true
		locked.EmailVerificationDigest = ""

		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return domainerrors.ErrInvalidOrExpiredToken
		}

		return err
	}

	srv.publish(ctx, newEvent(service.EventEmailVerified, verified, entity.DeviceInfo{}))

	return nil
}

// ListSessions returns the unexpired refresh entries, oldest first.
func (srv *sessionService) ListSessions(ctx context.Context, identityCtx entity.IdentityContext) ([]*usecase.SessionView, error) {
	identity, err := srv.findIdentity(ctx, func(ctx context.Context, repo repository.IdentityRepository) (*entity.Identity, error) {
		return repo.FindByID(ctx, identityCtx.UserID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return nil, domainerrors.ErrNotFound
		}

		return nil, err
	}

	identity.PruneExpiredRefreshTokens(srv.now())

	sessions := make([]*usecase.SessionView, 0, len(identity.RefreshTokens))
	for _, token := range identity.RefreshTokens {
		sessions = append(sessions, &usecase.SessionView{
			CreatedAt: token.CreatedAt,
			ExpiresAt: token.ExpiresAt,
			UserAgent: token.Device.UserAgent,
			IPAddress: token.Device.IPAddress,
		})
	}

	return sessions, nil
}

func (srv *sessionService) refreshEntry(pair *entity.TokenPair, device entity.DeviceInfo) entity.RefreshTokenEntry {
	return entity.RefreshTokenEntry{
		TokenDigest: srv.tokenService.HashToken(pair.RefreshToken),
		CreatedAt:   srv.now(),
		ExpiresAt:   pair.RefreshTokenExpiresAt,
		Device:      device,
	}
}
