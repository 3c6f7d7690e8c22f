package impl

import (
	"context"
	"log/slog"
	"strings"

	deliverycontext "gatekeeper/internal/delivery/context"
	"gatekeeper/internal/domain/entity"
	"gatekeeper/internal/domain/service"
	"gatekeeper/internal/usecase"

	"go.uber.org/fx"
)

const bearerPrefix = "Bearer "

// accessService is stateless: it only verifies access tokens.
type accessService struct {
	tokenService service.TokenService
	logger       *slog.Logger
}

// AccessServiceParams holds dependencies for AccessService, injected by Fx.
type AccessServiceParams struct {
	fx.In

	TokenService service.TokenService
	Logger       *slog.Logger
}

func NewAccessService(params AccessServiceParams) usecase.AccessUsecase {
	return &accessService{
		tokenService: params.TokenService,
		logger:       params.Logger,
	}
}

// Decide allows the request when the first non-empty credential verifies in
// the access domain. Every failure takes the same deny path.
func (srv *accessService) Decide(ctx context.Context, req *usecase.AccessRequest) *usecase.AccessDecision {
	logger := deliverycontext.GetLoggerOrDefault(ctx, srv.logger)

	if req == nil {
		return deny("")
	}

	token := ExtractBearerToken(req.IdentitySources, req.LegacyToken)
	if token == "" {
		logger.Debug("Access denied", slog.String("reason", "missing credential"))

		return deny(req.Resource)
	}

	claims, err := srv.tokenService.VerifyAccess(token)
	if err != nil {
		logger.Debug("Access denied", slog.String("reason", "token verification failed"), slog.Any("error", err))

		return deny(req.Resource)
	}

	identity, err := claims.IdentityContext()
	if err != nil {
		logger.Debug("Access denied", slog.String("reason", "malformed subject"))

		return deny(req.Resource)
	}

	return &usecase.AccessDecision{
		PrincipalID: identity.UserID.String(),
		Effect:      entity.EffectAllow,
		Resource:    req.Resource,
		Identity:    &identity,
	}
}

func deny(resource string) *usecase.AccessDecision {
	return &usecase.AccessDecision{
		PrincipalID: usecase.AnonymousPrincipal,
		Effect:      entity.EffectDeny,
		Resource:    resource,
	}
}

// ExtractBearerToken returns the first non-empty source, falling back to
// legacy, with a leading "Bearer " removed.
func ExtractBearerToken(sources []string, legacy string) string {
	raw := ""
	for _, source := range sources {
		if strings.TrimSpace(source) != "" {
			raw = source

			break
		}
	}
	if raw == "" {
		raw = legacy
	}

	raw = strings.TrimSpace(raw)
	if len(raw) >= len(bearerPrefix) && strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		raw = strings.TrimSpace(raw[len(bearerPrefix):])
	}

	return raw
}
