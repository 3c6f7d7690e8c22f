package repository

import "context"

// ConnectionState is the shared freshness flag the data-access bootstrap keeps
// for its backing store. A warm flag lets a new process skip schema checks.
type ConnectionState interface {
	IsWarm(ctx context.Context) (bool, error)
	MarkWarm(ctx context.Context) error
}
