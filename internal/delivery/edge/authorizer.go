// Package edge exposes the access decision as an API Gateway custom authorizer.
package edge

import (
	"context"
	"log/slog"
	"strings"

	"gatekeeper/config"
	"gatekeeper/internal/domain/entity"
	"gatekeeper/internal/usecase"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/fx"
)

const (
	policyVersion = "2012-10-17"
	invokeAction  = "execute-api:Invoke"
)

// Request accepts both authorizer flavours. TOKEN authorizers send
// authorizationToken, REQUEST authorizers send the headers.
type Request struct {
	events.APIGatewayCustomAuthorizerRequestTypeRequest
	AuthorizationToken string `json:"authorizationToken,omitempty"`
}

// Response is the authorizer answer. PolicyDocument is omitted when either
// the effect or the resource is unknown.
type Response struct {
	PrincipalID    string                                   `json:"principalId"`
	PolicyDocument *events.APIGatewayCustomAuthorizerPolicy `json:"policyDocument,omitempty"`
	Context        map[string]any                           `json:"context,omitempty"`
}

type AuthorizerParams struct {
	fx.In

	Access usecase.AccessUsecase
	Config *config.Config
	Logger *slog.Logger
}

// Authorizer turns a gateway event into an access request and renders the decision.
type Authorizer struct {
	access          usecase.AccessUsecase
	identityHeaders []string
	legacyHeader    string
	logger          *slog.Logger
}

func NewAuthorizer(params AuthorizerParams) *Authorizer {
	a := &Authorizer{
		access:          params.Access,
		identityHeaders: []string{"Authorization"},
		logger:          params.Logger,
	}
	if authorizer := params.Config.Authorizer; authorizer != nil {
		if len(authorizer.IdentityHeaders) > 0 {
			a.identityHeaders = authorizer.IdentityHeaders
		}
		a.legacyHeader = authorizer.LegacyHeader
	}

	return a
}

// Handle is the lambda entry point. It never returns an error: a deny is a
// policy, not a failure.
func (a *Authorizer) Handle(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		req = &Request{}
	}

	decision := a.access.Decide(ctx, a.accessRequest(req))

	a.logger.DebugContext(ctx, "Authorizer decision",
		slog.String("effect", string(decision.Effect)),
		slog.String("principal_id", decision.PrincipalID),
		slog.String("resource", decision.Resource),
	)

	return NewResponse(decision), nil
}

func (a *Authorizer) accessRequest(req *Request) *usecase.AccessRequest {
	sources := make([]string, 0, len(a.identityHeaders)+1)
	sources = append(sources, req.AuthorizationToken)
	for _, name := range a.identityHeaders {
		sources = append(sources, header(req.Headers, name))
	}

	accessReq := &usecase.AccessRequest{
		IdentitySources: sources,
		Resource:        req.MethodArn,
	}
	if a.legacyHeader != "" {
		accessReq.LegacyToken = header(req.Headers, a.legacyHeader)
	}

	return accessReq
}

// NewResponse renders a decision in the authorizer wire format.
func NewResponse(decision *usecase.AccessDecision) *Response {
	resp := &Response{PrincipalID: usecase.AnonymousPrincipal}
	if decision == nil {
		return resp
	}
	if decision.PrincipalID != "" {
		resp.PrincipalID = decision.PrincipalID
	}

	if decision.Effect != "" && decision.Resource != "" {
		resp.PolicyDocument = &events.APIGatewayCustomAuthorizerPolicy{
			Version: policyVersion,
			Statement: []events.IAMPolicyStatement{
				{
					Action:   []string{invokeAction},
					Effect:   string(decision.Effect),
					Resource: []string{decision.Resource},
				},
			},
		}
	}

	if decision.Allowed() {
		resp.Context = identityContext(decision.Identity)
	}

	return resp
}

// identityContext only carries flat string values, which is all the gateway forwards.
func identityContext(identity *entity.IdentityContext) map[string]any {
	return map[string]any{
		"userId": identity.UserID.String(),
		"email":  identity.Email,
		"role":   string(identity.Role),
	}
}

// header looks a name up case-insensitively since gateways keep the client's casing.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}

	return ""
}
