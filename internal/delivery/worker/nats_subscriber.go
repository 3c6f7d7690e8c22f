package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/config"
	"gatekeeper/internal/delivery"
	"gatekeeper/internal/delivery/worker/handler"

	nats "github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

const (
	natsQueueGroup     = "gatekeeper-audit-worker"
	natsConnectTimeout = 3 * time.Second
)

// natsSubscriber consumes security events published on the NATS subject.
// It stays idle unless the nats provider is configured.
type natsSubscriber struct {
	cfg          *config.PubSubConfig
	logger       *slog.Logger
	auditHandler *handler.AuditHandler

	mu   sync.Mutex
	conn *nats.Conn
	done chan struct{}
	once sync.Once
}

// NATSSubscriberParams holds dependencies for the NATS subscriber
type NATSSubscriberParams struct {
	fx.In

	Lc           fx.Lifecycle
	Cfg          *config.Config
	Logger       *slog.Logger
	AuditHandler *handler.AuditHandler
}

// NewNATSSubscriber creates the NATS delivery of the audit worker
func NewNATSSubscriber(params NATSSubscriberParams) delivery.Delivery {
	s := &natsSubscriber{
		cfg:          params.Cfg.PubSub,
		logger:       params.Logger,
		auditHandler: params.AuditHandler,
		done:         make(chan struct{}),
	}

	params.Lc.Append(fx.Hook{
		OnStop: s.stop,
	})

	return s
}

func (s *natsSubscriber) enabled() bool {
	return s.cfg != nil && s.cfg.Provider == config.PubSubProviderNATS
}

// Serve subscribes and blocks until the subscriber is stopped
func (s *natsSubscriber) Serve(ctx context.Context) error {
	if !s.enabled() {
		s.logger.Debug("NATS provider not configured, subscriber idle")

		return nil
	}

	conn, err := nats.Connect(s.cfg.NATSURL,
		nats.Name(natsQueueGroup),
		nats.Timeout(natsConnectTimeout),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to nats at %s", s.cfg.NATSURL)
	}

	if _, err := conn.QueueSubscribe(s.cfg.NATSSubject, natsQueueGroup, s.handle); err != nil {
		conn.Close()

		return errors.Wrapf(err, "failed to subscribe to %s", s.cfg.NATSSubject)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("Consuming security events from NATS",
		slog.String("subject", s.cfg.NATSSubject),
		slog.String("queue", natsQueueGroup),
	)

	<-s.done

	return nil
}

// handle records one message. Core NATS has no redelivery, so failures are only logged.
func (s *natsSubscriber) handle(msg *nats.Msg) {
	attributes := map[string]string{}
	if msg.Header != nil {
		if requestID := msg.Header.Get("request_id"); requestID != "" {
			attributes["request_id"] = requestID
		}
	}

	if err := s.auditHandler.HandleMessage(context.Background(), msg.Data, attributes); err != nil {
		s.logger.Warn("[Worker] NATS security event not recorded",
			slog.String("subject", msg.Subject),
			slog.Any("error", err),
		)
	}
}

func (s *natsSubscriber) stop(ctx context.Context) error {
	s.once.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	s.logger.Info("Draining NATS subscriber")

	return errors.WithStack(s.conn.Drain())
}
