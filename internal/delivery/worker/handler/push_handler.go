package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"gatekeeper/config"
	deliverycontext "gatekeeper/internal/delivery/context"
	"gatekeeper/internal/domain/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"google.golang.org/api/idtoken"
)

// PubSubMessage represents the structure of a Pub/Sub push message
type PubSubMessage struct {
	Message struct {
		Data        string            `json:"data"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// errMalformedEvent marks deliveries that will never succeed, so they are
// acknowledged instead of retried.
var errMalformedEvent = errors.New("malformed security event")

// TokenValidator checks a Google-signed OIDC token for the given audience.
type TokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// AuditHandler records the security events delivered to the worker.
type AuditHandler struct {
	verifyPushAuth bool
	pushAudience   string
	validateToken  TokenValidator
	sink           service.AuditSink
	logger         *slog.Logger
}

// AuditHandlerParams holds dependencies for the AuditHandler
type AuditHandlerParams struct {
	fx.In

	Config    *config.Config
	Logger    *slog.Logger
	Sink      service.AuditSink
	Validator TokenValidator `optional:"true"`
}

// NewAuditHandler creates a new audit event handler
func NewAuditHandler(params AuditHandlerParams) *AuditHandler {
	h := &AuditHandler{
		validateToken: params.Validator,
		sink:          params.Sink,
		logger:        params.Logger,
	}
	if workerCfg := params.Config.Worker; workerCfg != nil {
		h.verifyPushAuth = workerCfg.VerifyPushAuth
		h.pushAudience = workerCfg.PushAudience
	}
	if h.validateToken == nil {
		h.validateToken = idtoken.Validate
	}

	return h
}

// HandlePush handles incoming Pub/Sub push messages.
// 400 rejects an unreadable envelope, 503 asks for a retry, 200 acknowledges.
func (h *AuditHandler) HandlePush(c echo.Context) error {
	ctx := c.Request().Context()

	if h.verifyPushAuth {
		if err := h.verifyPubSubToken(c.Request()); err != nil {
			h.logger.Warn("[Worker] Invalid Pub/Sub token", slog.Any("error", err))

			return c.NoContent(http.StatusUnauthorized)
		}
	}

	var pushMsg PubSubMessage
	if err := c.Bind(&pushMsg); err != nil {
		h.logger.Error("[Worker] Failed to parse push message", slog.Any("error", err))

		return c.NoContent(http.StatusBadRequest)
	}

	data, err := base64.StdEncoding.DecodeString(pushMsg.Message.Data)
	if err != nil {
		h.logger.Error("[Worker] Failed to decode message data", slog.Any("error", err))

		return c.NoContent(http.StatusBadRequest)
	}

	if err := h.HandleMessage(ctx, data, pushMsg.Message.Attributes); err != nil {
		if errors.Is(err, errMalformedEvent) {
			return c.NoContent(http.StatusOK)
		}

		return c.NoContent(http.StatusServiceUnavailable)
	}

	return c.NoContent(http.StatusOK)
}

// HandleMessage decodes one event and records it. It is shared by every
// transport the worker listens on.
func (h *AuditHandler) HandleMessage(ctx context.Context, data []byte, attributes map[string]string) error {
	var event service.SecurityEvent
	if err := json.Unmarshal(data, &event); err != nil || event.Type == "" {
		h.logger.Error("[Worker] Dropping malformed security event", slog.Any("error", err))

		return errMalformedEvent
	}

	requestID := h.extractRequestID(ctx, attributes, &event)
	reqLogger := h.logger.With(slog.String("request_id", requestID))
	ctx = deliverycontext.WithRequestID(ctx, requestID)
	ctx = deliverycontext.WithLogger(ctx, reqLogger)

	if err := h.sink.Record(ctx, &event); err != nil {
		reqLogger.Error("[Worker] Failed to record security event",
			slog.String("type", string(event.Type)),
			slog.Any("error", err),
		)

		return errors.WithStack(err)
	}

	reqLogger.Debug("[Worker] Security event recorded", slog.String("type", string(event.Type)))

	return nil
}

// extractRequestID prefers message attributes, then the event, then the
// incoming request, and generates one as a last resort.
func (h *AuditHandler) extractRequestID(ctx context.Context, attributes map[string]string, event *service.SecurityEvent) string {
	if requestID := attributes["request_id"]; requestID != "" {
		return requestID
	}
	if event.RequestID != "" {
		return event.RequestID
	}
	if requestID := deliverycontext.GetRequestIDFromContext(ctx); requestID != "" {
		return requestID
	}

	return uuid.New().String()
}

// verifyPubSubToken verifies the JWT token from Google Pub/Sub push requests
// Reference: https://cloud.google.com/pubsub/docs/push#authenticating_standard_push_requests
func (h *AuditHandler) verifyPubSubToken(req *http.Request) error {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return errors.New("missing authorization header")
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return errors.New("invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, bearerPrefix)

	audience := h.pushAudience
	if audience == "" {
		scheme := "https"
		if req.TLS == nil {
			scheme = "http"
		}
		audience = fmt.Sprintf("%s://%s%s", scheme, req.Host, req.URL.Path)
	}

	payload, err := h.validateToken(req.Context(), token, audience)
	if err != nil {
		return errors.Wrap(err, "failed to validate token")
	}

	if payload.Issuer != "accounts.google.com" && payload.Issuer != "https://accounts.google.com" {
		return errors.Errorf("invalid issuer: %s", payload.Issuer)
	}

	if emailVerified, ok := payload.Claims["email_verified"].(bool); ok && !emailVerified {
		return errors.New("email not verified")
	}

	return nil
}
