package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gatekeeper/internal/domain/service"

	nats "github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

const natsConnectTimeout = 3 * time.Second

// natsPublisher fans security events out on a NATS subject
type natsPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to url and publishes every event on subject
func NewNATSPublisher(url, subject string, logger *slog.Logger) (service.SecurityEventPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("gatekeeper-security-events"),
		nats.Timeout(natsConnectTimeout),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to nats at %s", url)
	}

	return newNATSPublisherWithConn(conn, subject, logger), nil
}

func newNATSPublisherWithConn(conn *nats.Conn, subject string, logger *slog.Logger) *natsPublisher {
	return &natsPublisher{conn: conn, subject: subject, logger: logger}
}

func (p *natsPublisher) PublishSecurityEvent(ctx context.Context, event *service.SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WithStack(err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	for key, value := range eventAttributes(event) {
		msg.Header.Set(key, value)
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return errors.Wrap(err, "nats publish")
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return errors.Wrap(err, "nats flush")
	}

	p.logger.DebugContext(ctx, "[NATS] Event published",
		slog.String("type", string(event.Type)),
		slog.String("subject", p.subject),
	)

	return nil
}

// Close drains pending messages and closes the connection
func (p *natsPublisher) Close() error {
	if p.conn == nil {
		return nil
	}

	return errors.WithStack(p.conn.Drain())
}
