// Package cache holds the shared connection-state flag used by the data-access bootstrap.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/config"
	"gatekeeper/internal/domain/repository"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

const (
	defaultWarmKey = "gatekeeper:schema:warm"
	defaultWarmTTL = time.Hour
)

// Params defines the required parameters
type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Config *config.Config
	Logger *slog.Logger
}

// NewConnectionState returns a Redis-backed flag when Redis is enabled and an
// in-process flag otherwise.
func NewConnectionState(params Params) repository.ConnectionState {
	cfg := params.Config.Redis
	if cfg == nil || !cfg.Enabled {
		params.Logger.Debug("Redis disabled, using in-process connection state")

		return NewLocalConnectionState()
	}

	state := NewRedisConnectionState(NewRedisClient(cfg), cfg.WarmKey, cfg.WarmTTL)

	params.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return state.Close()
		},
	})

	return state
}

// NewRedisClient builds a client from the shared redis section.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
}

// RedisConnectionState stores the warm flag as a TTL'd Redis key so every
// instance sharing the database sees it.
type RedisConnectionState struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisConnectionState(client *redis.Client, key string, ttl time.Duration) *RedisConnectionState {
	if key == "" {
		key = defaultWarmKey
	}
	if ttl <= 0 {
		ttl = defaultWarmTTL
	}

	return &RedisConnectionState{client: client, key: key, ttl: ttl}
}

func (s *RedisConnectionState) IsWarm(ctx context.Context) (bool, error) {
	err := s.client.Get(ctx, s.key).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, errors.Wrap(err, "redis get warm flag")
	}
}

func (s *RedisConnectionState) MarkWarm(ctx context.Context) error {
	return errors.Wrap(s.client.Set(ctx, s.key, time.Now().UTC().Format(time.RFC3339), s.ttl).Err(), "redis set warm flag")
}

func (s *RedisConnectionState) Close() error {
	return s.client.Close()
}

// LocalConnectionState keeps the flag for the lifetime of the process.
type LocalConnectionState struct {
	mu   sync.RWMutex
	warm bool
}

func NewLocalConnectionState() *LocalConnectionState {
	return &LocalConnectionState{}
}

func (s *LocalConnectionState) IsWarm(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.WithStack(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.warm, nil
}

func (s *LocalConnectionState) MarkWarm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}

	s.mu.Lock()
	s.warm = true
	s.mu.Unlock()

	return nil
}

// Module provides the connection state FX module
//
//nolint:gochecknoglobals
var Module = fx.Options(
	fx.Provide(NewConnectionState),
)
