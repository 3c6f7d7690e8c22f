// Package audit stores the security events consumed by the audit worker.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gatekeeper/config"
	"gatekeeper/internal/domain/service"
	"gatekeeper/internal/infra/cache"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// SinkParams holds dependencies for the AuditSink, injected by Fx
type SinkParams struct {
	fx.In

	Lc     fx.Lifecycle
	Config *config.Config
	Logger *slog.Logger
}

// NewAuditSink picks the sink named by worker.sink.
func NewAuditSink(params SinkParams) (service.AuditSink, error) {
	workerCfg := params.Config.Worker
	if workerCfg == nil || workerCfg.Sink == "" || workerCfg.Sink == config.AuditSinkLog {
		params.Logger.Info("Recording security events to the structured log")

		return NewLogSink(params.Logger), nil
	}

	if workerCfg.Sink != config.AuditSinkRedis {
		return nil, errors.Errorf("unknown audit sink: %s", workerCfg.Sink)
	}
	if params.Config.Redis == nil || params.Config.Redis.Addr == "" {
		return nil, errors.New("redis address is required for the redis audit sink")
	}

	client := cache.NewRedisClient(params.Config.Redis)
	sink := NewRedisStreamSink(client, workerCfg.AuditStream, workerCfg.AuditStreamMaxLen)

	params.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return errors.WithStack(client.Close())
		},
	})

	params.Logger.Info("Recording security events to a redis stream",
		slog.String("stream", workerCfg.AuditStream),
	)

	return sink, nil
}

// LogSink writes one structured log record per event.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "audit"))}
}

func (s *LogSink) Record(ctx context.Context, event *service.SecurityEvent) error {
	attrs := []slog.Attr{
		slog.String("event_type", string(event.Type)),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.IdentityID != "" {
		attrs = append(attrs, slog.String("identity_id", event.IdentityID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", event.Email))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	for key, value := range event.Attributes {
		attrs = append(attrs, slog.String("attr_"+key, value))
	}

	s.logger.LogAttrs(ctx, eventLevel(event.Type), "Security event", attrs...)

	return nil
}

// eventLevel raises the events an operator should notice.
func eventLevel(eventType service.SecurityEventType) slog.Level {
	switch eventType {
	case service.EventAccountLocked, service.EventRefreshTokenReused:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RedisStreamSink appends events to a capped Redis stream.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Record(ctx context.Context, event *service.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.WithStack(err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_type":  string(event.Type),
			"identity_id": event.IdentityID,
			"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339Nano),
			"payload":     string(payload),
		},
	}).Err()

	return errors.Wrap(err, "redis xadd audit event")
}
