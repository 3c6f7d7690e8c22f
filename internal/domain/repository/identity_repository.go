// Package repository defines the interfaces for the persistence layer.
// These interfaces act as a contract between the domain/application layers and the infrastructure layer.
package repository

import (
	"context"
	"time"

	"gatekeeper/internal/domain/entity"
	"gatekeeper/internal/errors"

	"github.com/google/uuid"
)

var (
	// ErrIdentityNotFound is returned when no identity matches a lookup.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrEmailAlreadyExists is returned by Create and Update when the email is held by another identity.
	ErrEmailAlreadyExists = errors.New("email already exists")
)

// IdentityRepository persists identity records together with their refresh
// token entries. Every returned identity carries its refresh tokens ordered
// oldest first.
type IdentityRepository interface {
	// FindByID retrieves an identity by its unique ID.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Identity, error)

	// FindByEmail retrieves an identity by its normalized email.
	FindByEmail(ctx context.Context, email string) (*entity.Identity, error)

	// FindByRefreshTokenDigest retrieves the identity owning a refresh token entry.
	FindByRefreshTokenDigest(ctx context.Context, digest string) (*entity.Identity, error)

	// FindByPasswordResetDigest retrieves the identity whose reset digest
	// matches and whose reset expiry is after now.
	FindByPasswordResetDigest(ctx context.Context, digest string, now time.Time) (*entity.Identity, error)

	// FindByEmailVerificationDigest retrieves the identity awaiting verification with digest.
	FindByEmailVerificationDigest(ctx context.Context, digest string) (*entity.Identity, error)

	// LockByID retrieves an identity and holds it exclusively until the
	// surrounding transaction ends. Use it for read-modify-write sequences.
	LockByID(ctx context.Context, id uuid.UUID) (*entity.Identity, error)

	// Create persists a new identity.
	Create(ctx context.Context, identity *entity.Identity) error

	// Update saves every mutable field of identity, replacing its refresh token list.
	Update(ctx context.Context, identity *entity.Identity) error
}
