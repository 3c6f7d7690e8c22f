// Package memory is an in-process identity store. It backs the "memory"
// storage driver and the use case tests.
package memory

import (
	"context"
	"sync"
	"time"

	"gatekeeper/internal/domain/entity"
	"gatekeeper/internal/domain/repository"
	"gatekeeper/internal/errors"

	"github.com/google/uuid"
)

// Store keeps cloned identities keyed by ID. Writers are serialized by
// writeMu, which a transaction holds for its whole duration.
type Store struct {
	writeMu sync.Mutex

	mu         sync.RWMutex
	identities map[uuid.UUID]*entity.Identity
}

func NewStore() *Store {
	return &Store{identities: make(map[uuid.UUID]*entity.Identity)}
}

// IdentityRepository returns a repository that writes straight to the store.
func (s *Store) IdentityRepository() repository.IdentityRepository {
	return &identityRepository{store: s}
}

// TransactionManager returns a manager whose units of work commit atomically.
func (s *Store) TransactionManager() repository.TransactionManager {
	return &transactionManager{store: s}
}

// Len reports how many identities are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.identities)
}

type transactionManager struct {
	store *Store
}

type repositoryFactory struct {
	repo *identityRepository
}

func (f *repositoryFactory) IdentityRepository() repository.IdentityRepository {
	return f.repo
}

// Execute stages writes made by fn and publishes them only when fn succeeds.
func (tm *transactionManager) Execute(ctx context.Context, fn func(repository.RepositoryFactory) error) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}

	tm.store.writeMu.Lock()
	defer tm.store.writeMu.Unlock()

	repo := &identityRepository{store: tm.store, staged: make(map[uuid.UUID]*entity.Identity)}
	if err := fn(&repositoryFactory{repo: repo}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}

	tm.store.mu.Lock()
	for id, identity := range repo.staged {
		tm.store.identities[id] = identity
	}
	tm.store.mu.Unlock()

	return nil
}

// identityRepository reads through staged writes when bound to a transaction.
type identityRepository struct {
	store  *Store
	staged map[uuid.UUID]*entity.Identity
}

func (r *identityRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Identity, error) {
	return r.find(ctx, func(identity *entity.Identity) bool {
		return identity.ID == id
	})
}

func (r *identityRepository) FindByEmail(ctx context.Context, email string) (*entity.Identity, error) {
	normalized := entity.NormalizeEmail(email)

	return r.find(ctx, func(identity *entity.Identity) bool {
		return identity.Email == normalized
	})
}

func (r *identityRepository) FindByRefreshTokenDigest(ctx context.Context, digest string) (*entity.Identity, error) {
	return r.find(ctx, func(identity *entity.Identity) bool {
		for _, token := range identity.RefreshTokens {
			if token.TokenDigest == digest {
				return true
			}
		}

		return false
	})
}

func (r *identityRepository) FindByPasswordResetDigest(ctx context.Context, digest string, now time.Time) (*entity.Identity, error) {
	return r.find(ctx, func(identity *entity.Identity) bool {
		return identity.PasswordResetMatches(digest, now)
	})
}

func (r *identityRepository) FindByEmailVerificationDigest(ctx context.Context, digest string) (*entity.Identity, error) {
	return r.find(ctx, func(identity *entity.Identity) bool {
		return identity.EmailVerificationDigest != "" && identity.EmailVerificationDigest == digest
	})
}

// LockByID is FindByID: inside a transaction the writer lock is already held.
func (r *identityRepository) LockByID(ctx context.Context, id uuid.UUID) (*entity.Identity, error) {
	return r.FindByID(ctx, id)
}

func (r *identityRepository) Create(ctx context.Context, identity *entity.Identity) error {
	return r.write(ctx, func() error {
		if _, exists := r.lookup(identity.ID); exists {
			return errors.Errorf("identity %s already exists", identity.ID)
		}

		now := time.Now()
		identity.Email = entity.NormalizeEmail(identity.Email)
		identity.CreatedAt = now
		identity.UpdatedAt = now

		return r.put(identity)
	})
}

func (r *identityRepository) Update(ctx context.Context, identity *entity.Identity) error {
	return r.write(ctx, func() error {
		if _, exists := r.lookup(identity.ID); !exists {
			return errors.WithStack(repository.ErrIdentityNotFound)
		}

		identity.Email = entity.NormalizeEmail(identity.Email)
		identity.UpdatedAt = time.Now()

		return r.put(identity)
	})
}

// write runs fn under the writer lock unless a transaction already holds it.
func (r *identityRepository) write(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	if r.staged == nil {
		r.store.writeMu.Lock()
		defer r.store.writeMu.Unlock()
	}

	return fn()
}

func (r *identityRepository) put(identity *entity.Identity) error {
	for _, other := range r.snapshot() {
		if other.ID != identity.ID && other.Email == identity.Email {
			return errors.WithStack(repository.ErrEmailAlreadyExists)
		}
	}

	stored := identity.Clone()
	if r.staged != nil {
		r.staged[stored.ID] = stored

		return nil
	}

	r.store.mu.Lock()
	r.store.identities[stored.ID] = stored
	r.store.mu.Unlock()

	return nil
}

func (r *identityRepository) find(ctx context.Context, match func(*entity.Identity) bool) (*entity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	for _, identity := range r.snapshot() {
		if match(identity) {
			return identity.Clone(), nil
		}
	}

	return nil, errors.WithStack(repository.ErrIdentityNotFound)
}

func (r *identityRepository) lookup(id uuid.UUID) (*entity.Identity, bool) {
	if identity, ok := r.staged[id]; ok {
		return identity, true
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	identity, ok := r.store.identities[id]

	return identity, ok
}

// snapshot merges staged writes over committed state.
func (r *identityRepository) snapshot() []*entity.Identity {
	r.store.mu.RLock()
	merged := make([]*entity.Identity, 0, len(r.store.identities)+len(r.staged))
	for id, identity := range r.store.identities {
		if _, shadowed := r.staged[id]; !shadowed {
			merged = append(merged, identity)
		}
	}
	r.store.mu.RUnlock()

	for _, identity := range r.staged {
		merged = append(merged, identity)
	}

	return merged
}
