package repository

import "context"

// TransactionManager runs a unit of work atomically. If fn returns an error
// nothing it wrote is persisted.
type TransactionManager interface {
	Execute(ctx context.Context, fn func(txRepoFactory RepositoryFactory) error) error
}

// RepositoryFactory hands out repositories bound to the current transaction.
type RepositoryFactory interface {
	IdentityRepository() IdentityRepository
}
