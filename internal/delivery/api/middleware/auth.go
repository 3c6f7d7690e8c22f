package middleware

import (
	"gatekeeper/config"
	deliverycontext "gatekeeper/internal/delivery/context"
	"gatekeeper/internal/domain/entity"
	domainerrors "gatekeeper/internal/domain/errors"
	"gatekeeper/internal/usecase"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// AuthMiddleware gates routes on the access decision.
type AuthMiddleware struct {
	access          usecase.AccessUsecase
	identityHeaders []string
	legacyHeader    string
}

// AuthMiddlewareParams holds dependencies for AuthMiddleware, injected by Fx.
type AuthMiddlewareParams struct {
	fx.In

	Access usecase.AccessUsecase
	Config *config.Config
}

// NewAuthMiddleware is the constructor for AuthMiddleware.
func NewAuthMiddleware(params AuthMiddlewareParams) *AuthMiddleware {
	m := &AuthMiddleware{
		access:          params.Access,
		identityHeaders: []string{echo.HeaderAuthorization},
	}
	if authorizer := params.Config.Authorizer; authorizer != nil {
		if len(authorizer.IdentityHeaders) > 0 {
			m.identityHeaders = authorizer.IdentityHeaders
		}
		m.legacyHeader = authorizer.LegacyHeader
	}

	return m
}

// Authenticate lets the request through only on an Allow decision. Every deny
// produces the same 401 response.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		sources := make([]string, 0, len(m.identityHeaders))
		for _, header := range m.identityHeaders {
			sources = append(sources, req.Header.Get(header))
		}

		accessReq := &usecase.AccessRequest{
			IdentitySources: sources,
			Resource:        req.Method + " " + c.Path(),
		}
		if m.legacyHeader != "" {
			accessReq.LegacyToken = req.Header.Get(m.legacyHeader)
		}

		decision := m.access.Decide(req.Context(), accessReq)
		if !decision.Allowed() {
			return domainerrors.ErrUnauthorized
		}

		identity := *decision.Identity
		c.Set(string(deliverycontext.KeyIdentity), identity)
		c.SetRequest(req.WithContext(deliverycontext.WithIdentity(req.Context(), identity)))

		return next(c)
	}
}

// RequireRole is a middleware factory that checks the caller's role.
// It must be used AFTER the Authenticate middleware. Admin satisfies every role.
func (m *AuthMiddleware) RequireRole(roles ...entity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, ok := GetIdentity(c)
			if !ok {
				return domainerrors.ErrUnauthorized
			}
			if !identity.Role.Satisfies(roles...) {
				return domainerrors.ErrForbidden
			}

			return next(c)
		}
	}
}

// GetIdentity returns the identity attached by Authenticate.
func GetIdentity(c echo.Context) (entity.IdentityContext, bool) {
	identity, ok := c.Get(string(deliverycontext.KeyIdentity)).(entity.IdentityContext)

	return identity, ok
}
