// Package persistence selects the identity store named by storage.driver.
package persistence

import (
	"log/slog"

	"gatekeeper/config"
	"gatekeeper/internal/domain/repository"
	"gatekeeper/internal/infra/persistence/memory"
	"gatekeeper/internal/infra/persistence/postgres"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// StoreParams holds dependencies for the identity store, injected by Fx
type StoreParams struct {
	fx.In

	Lc              fx.Lifecycle
	Config          *config.Config
	Logger          *slog.Logger
	ConnectionState repository.ConnectionState
}

// StoreResult exposes the repository and its transaction manager
type StoreResult struct {
	fx.Out

	IdentityRepo repository.IdentityRepository
	TxManager    repository.TransactionManager
}

// NewIdentityStore opens PostgreSQL, or an in-memory store for local runs.
func NewIdentityStore(params StoreParams) (StoreResult, error) {
	switch params.Config.Storage.Driver {
	case config.StorageDriverMemory:
		params.Logger.Warn("Using in-memory identity store, data is lost on restart")
		store := memory.NewStore()

		return StoreResult{
			IdentityRepo: store.IdentityRepository(),
			TxManager:    store.TransactionManager(),
		}, nil

	case config.StorageDriverPostgres, "":
		db, err := postgres.New(postgres.Params{
			Lifecycle:       params.Lc,
			Config:          params.Config,
			Logger:          params.Logger,
			ConnectionState: params.ConnectionState,
		})
		if err != nil {
			return StoreResult{}, err
		}

		return StoreResult{
			IdentityRepo: postgres.NewIdentityRepository(db),
			TxManager:    postgres.NewTransactionManager(db),
		}, nil

	default:
		return StoreResult{}, errors.Errorf("unknown storage driver: %s", params.Config.Storage.Driver)
	}
}

// Module provides the identity store FX module
//
//nolint:gochecknoglobals
var Module = fx.Options(
	fx.Provide(NewIdentityStore),
)
