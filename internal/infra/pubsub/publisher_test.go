package pubsub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatekeeper/config"
	"gatekeeper/internal/domain/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent() *service.SecurityEvent {
	return &service.SecurityEvent{
		RequestID:  "req-1",
		Type:       service.EventAccountLocked,
		IdentityID: "3f1c2a9e-0000-4000-8000-000000000001",
		Email:      "jane@example.com",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestLocalHTTPPublisher_PostsPushMessage(t *testing.T) {
	var (
		received  PushMessage
		requestID string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = r.Header.Get("X-Request-Id")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	publisher := NewLocalHTTPPublisher(server.URL, testLogger())
	require.NoError(t, publisher.PublishSecurityEvent(context.Background(), sampleEvent()))

	assert.Equal(t, "req-1", requestID)
	assert.Equal(t, localPushSubscription, received.Subscription)
	assert.Equal(t, "account_locked", received.Message.Attributes["event_type"])
	assert.NotEmpty(t, received.Message.MessageID)

	raw, err := base64.StdEncoding.DecodeString(received.Message.Data)
	require.NoError(t, err)

	var event service.SecurityEvent
	require.NoError(t, json.Unmarshal(raw, &event))
	assert.Equal(t, service.EventAccountLocked, event.Type)
	assert.Equal(t, "jane@example.com", event.Email)
}

func TestLocalHTTPPublisher_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	publisher := NewLocalHTTPPublisher(server.URL, testLogger())
	err := publisher.PublishSecurityEvent(context.Background(), sampleEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNewPublisher_Selection(t *testing.T) {
	ctx := context.Background()

	publisher, err := newPublisher(ctx, nil, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &noopPublisher{}, publisher)

	publisher, err = newPublisher(ctx, &config.PubSubConfig{Provider: config.PubSubProviderLocal, LocalEndpoint: "http://localhost:1"}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &localHTTPPublisher{}, publisher)

	_, err = newPublisher(ctx, &config.PubSubConfig{Provider: config.PubSubProviderLocal}, testLogger())
	assert.Error(t, err)

	_, err = newPublisher(ctx, &config.PubSubConfig{Provider: config.PubSubProviderGoogle, ProjectID: "p"}, testLogger())
	assert.Error(t, err)

	_, err = newPublisher(ctx, &config.PubSubConfig{Provider: config.PubSubProviderNATS, NATSURL: "nats://localhost:4222"}, testLogger())
	assert.Error(t, err)

	_, err = newPublisher(ctx, &config.PubSubConfig{Provider: "kafka"}, testLogger())
	assert.EqualError(t, err, "unknown pubsub provider: kafka")
}

func TestNoopPublisher(t *testing.T) {
	publisher := NewNoopPublisher(testLogger())

	assert.NoError(t, publisher.PublishSecurityEvent(context.Background(), sampleEvent()))
	assert.NoError(t, publisher.Close())
}

func TestEventAttributes(t *testing.T) {
	attrs := eventAttributes(&service.SecurityEvent{Type: service.EventLoggedOut})

	assert.Equal(t, map[string]string{"event_type": "logged_out"}, attrs)
}
