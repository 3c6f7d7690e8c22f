// Package impl contains the implementation of the application's business logic.
package impl

import (
	"context"
	"log/slog"
	"time"

	"gatekeeper/config"
	deliverycontext "gatekeeper/internal/delivery/context"
	"gatekeeper/internal/domain/entity"
	domainerrors "gatekeeper/internal/domain/errors"
	"gatekeeper/internal/domain/repository"
	"gatekeeper/internal/domain/service"
	"gatekeeper/internal/errors"

	"github.com/google/uuid"
)

// policy holds the tunables shared by the credential use cases.
type policy struct {
	maxLoginAttempts    int
	lockDuration        time.Duration
	maxRefreshTokens    int
	resetTokenTTL       time.Duration
	repositoryTimeout   time.Duration
	rotateRefreshTokens bool
}

func newPolicy(cfg *config.Config) policy {
	p := policy{
		maxLoginAttempts:  entity.DefaultMaxLoginAttempts,
		lockDuration:      entity.DefaultLockDuration,
		maxRefreshTokens:  entity.DefaultMaxRefreshTokens,
		resetTokenTTL:     entity.DefaultPasswordResetTTL,
		repositoryTimeout: 3 * time.Second,
	}
	if cfg == nil || cfg.Auth == nil {
		return p
	}

	auth := cfg.Auth
	if auth.MaxLoginAttempts > 0 {
		p.maxLoginAttempts = auth.MaxLoginAttempts
	}
	if auth.LockDuration > 0 {
		p.lockDuration = auth.LockDuration
	}
	if auth.MaxRefreshTokens > 0 {
		p.maxRefreshTokens = auth.MaxRefreshTokens
	}
	if auth.ResetTokenTTL > 0 {
		p.resetTokenTTL = auth.ResetTokenTTL
	}
	if auth.RepositoryTimeout > 0 {
		p.repositoryTimeout = auth.RepositoryTimeout
	}
	p.rotateRefreshTokens = auth.RotateRefreshTokens

	return p
}

// core bundles the storage, audit and clock plumbing the services share.
type core struct {
	txManager    repository.TransactionManager
	identityRepo repository.IdentityRepository
	publisher    service.SecurityEventPublisher
	logger       *slog.Logger
	clock        service.Clock
	policy       policy
}

func (c *core) now() time.Time {
	if c.clock == nil {
		return time.Now()
	}

	return c.clock()
}

// log returns a request-scoped logger if available, otherwise falls back to the service's logger.
func (c *core) log(ctx context.Context) *slog.Logger {
	return deliverycontext.GetLoggerOrDefault(ctx, c.logger)
}

// bounded derives a context that expires after the repository timeout.
func (c *core) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.policy.repositoryTimeout)
}

// findIdentity runs one bounded lookup. A missing identity is returned as
// repository.ErrIdentityNotFound; every other failure is transient.
func (c *core) findIdentity(ctx context.Context, find func(ctx context.Context, repo repository.IdentityRepository) (*entity.Identity, error)) (*entity.Identity, error) {
	boundedCtx, cancel := c.bounded(ctx)
	defer cancel()

	identity, err := find(boundedCtx, c.identityRepo)
	if err != nil {
		if errors.Is(err, repository.ErrIdentityNotFound) {
			return nil, err
		}

		return nil, c.storageError(ctx, err, "identity lookup failed")
	}

	return identity, nil
}

// mutate loads id under a row lock, applies fn and saves the result, all in
// one bounded transaction. When fn returns errSkipUpdate nothing is written.
func (c *core) mutate(ctx context.Context, id uuid.UUID, fn func(identity *entity.Identity) error) (*entity.Identity, error) {
	return c.mutateWithRepo(ctx, id, func(_ context.Context, _ repository.IdentityRepository, identity *entity.Identity) error {
		return fn(identity)
	})
}

// mutateWithRepo is mutate for mutators that need further reads inside the
// same transaction.
func (c *core) mutateWithRepo(
	ctx context.Context,
	id uuid.UUID,
	fn func(ctx context.Context, repo repository.IdentityRepository, identity *entity.Identity) error,
) (*entity.Identity, error) {
	boundedCtx, cancel := c.bounded(ctx)
	defer cancel()

	var saved *entity.Identity
	err := c.txManager.Execute(boundedCtx, func(factory repository.RepositoryFactory) error {
		repo := factory.IdentityRepository()

		identity, err := repo.LockByID(boundedCtx, id)
		if err != nil {
			return err
		}

		if err := fn(boundedCtx, repo, identity); err != nil {
			if errors.Is(err, errSkipUpdate) {
				saved = identity

				return nil
			}

			return err
		}

		if err := repo.Update(boundedCtx, identity); err != nil {
			return err
		}
		saved = identity

		return nil
	})
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	return saved, nil
}

// errSkipUpdate lets a mutator end a transaction without writing.
var errSkipUpdate = errors.New("skip update")

// classify keeps domain and not-found errors and turns anything else into a
// transient failure.
func (c *core) classify(ctx context.Context, err error) error {
	var appErr domainerrors.AppError
	switch {
	case errors.Is(err, repository.ErrIdentityNotFound), errors.Is(err, repository.ErrEmailAlreadyExists):
		return err
	case errors.IsContextDone(err):
		return c.storageError(ctx, err, "repository call timed out")
	case errors.As(err, &appErr):
		return err
	default:
		return c.storageError(ctx, err, "repository call failed")
	}
}

// storageError logs the cause and returns ErrTransientFailure.
func (c *core) storageError(ctx context.Context, err error, message string) error {
	c.log(ctx).Error(message, slog.Any("error", err))

	if errors.Is(err, domainerrors.ErrTransientFailure) {
		return err
	}

	return errors.Wrap(domainerrors.ErrTransientFailure, message)
}

// publish sends an audit event. Failures are logged and never returned.
func (c *core) publish(ctx context.Context, event *service.SecurityEvent) {
	if c.publisher == nil {
		return
	}

	event.RequestID = deliverycontext.GetRequestIDFromContext(ctx)
	event.OccurredAt = c.now().UTC()

	publishCtx, cancel := c.bounded(context.WithoutCancel(ctx))
	defer cancel()

	if err := c.publisher.PublishSecurityEvent(publishCtx, event); err != nil {
		c.log(ctx).Warn("Failed to publish security event",
			slog.String("type", string(event.Type)),
			slog.Any("error", err),
		)
	}
}

func newEvent(eventType service.SecurityEventType, identity *entity.Identity, device entity.DeviceInfo) *service.SecurityEvent {
	event := &service.SecurityEvent{
		Type:      eventType,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
	}
	if identity != nil {
		event.IdentityID = identity.ID.String()
		event.Email = identity.Email
	}

	return event
}
