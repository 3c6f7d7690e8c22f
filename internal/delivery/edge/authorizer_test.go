package edge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"gatekeeper/config"
	"gatekeeper/internal/domain/entity"
	"gatekeeper/internal/domain/service"
	"gatekeeper/internal/infra/auth"
	"gatekeeper/internal/usecase"
	"gatekeeper/internal/usecase/impl"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const methodArn = "arn:aws:execute-api:eu-west-1:123456789012:abcdef/prod/GET/user/profile"

func newTestAuthorizer(t *testing.T) (*Authorizer, service.TokenService) {
	t.Helper()

	cfg := &config.Config{
		SecretKey: config.SecretKeyConfig{Access: "edge-access-secret", Refresh: "edge-refresh-secret"},
		Token: &config.TokenConfig{
			Issuer:     "gatekeeper",
			Audience:   "gatekeeper-api",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: time.Hour,
		},
		Authorizer: &config.AuthorizerConfig{
			IdentityHeaders: []string{"Authorization"},
			LegacyHeader:    "X-Access-Token",
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := auth.NewJWTService(cfg)
	require.NoError(t, err)

	access := impl.NewAccessService(impl.AccessServiceParams{TokenService: tokens, Logger: logger})

	return NewAuthorizer(AuthorizerParams{Access: access, Config: cfg, Logger: logger}), tokens
}

func requestWithHeaders(headers map[string]string) *Request {
	req := &Request{}
	req.Type = "REQUEST"
	req.MethodArn = methodArn
	req.Headers = headers

	return req
}

func TestAuthorizer_Allow(t *testing.T) {
	a, tokens := newTestAuthorizer(t)
	identity := entity.IdentityContext{UserID: uuid.New(), Email: "jane@example.com", Role: entity.RoleModerator}
	token, _, err := tokens.IssueAccess(identity)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  *Request
	}{
		{name: "token authorizer", req: &Request{
			APIGatewayCustomAuthorizerRequestTypeRequest: events.APIGatewayCustomAuthorizerRequestTypeRequest{MethodArn: methodArn},
			AuthorizationToken: "Bearer " + token,
		}},
		{name: "authorization header", req: requestWithHeaders(map[string]string{"Authorization": "Bearer " + token})},
		{name: "lowercase header", req: requestWithHeaders(map[string]string{"authorization": "Bearer " + token})},
		{name: "legacy header", req: requestWithHeaders(map[string]string{"x-access-token": token})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := a.Handle(context.Background(), tt.req)
			require.NoError(t, err)

			assert.Equal(t, identity.UserID.String(), resp.PrincipalID)
			require.NotNil(t, resp.PolicyDocument)
			assert.Equal(t, "2012-10-17", resp.PolicyDocument.Version)
			require.Len(t, resp.PolicyDocument.Statement, 1)
			statement := resp.PolicyDocument.Statement[0]
			assert.Equal(t, []string{"execute-api:Invoke"}, statement.Action)
			assert.Equal(t, "Allow", statement.Effect)
			assert.Equal(t, []string{methodArn}, statement.Resource)
			assert.Equal(t, map[string]any{
				"userId": identity.UserID.String(),
				"email":  "jane@example.com",
				"role":   "moderator",
			}, resp.Context)
		})
	}
}

func TestAuthorizer_UniformDeny(t *testing.T) {
	a, tokens := newTestAuthorizer(t)
	refresh, _, err := tokens.IssueRefresh(entity.IdentityContext{UserID: uuid.New(), Role: entity.RoleUser})
	require.NoError(t, err)

	reqs := map[string]*Request{
		"no credential": requestWithHeaders(nil),
		"garbage":       requestWithHeaders(map[string]string{"Authorization": "Bearer garbage"}),
		"refresh token": requestWithHeaders(map[string]string{"Authorization": "Bearer " + refresh}),
		"bearer only":   requestWithHeaders(map[string]string{"Authorization": "Bearer "}),
	}

	var reference []byte
	for name, req := range reqs {
		resp, err := a.Handle(context.Background(), req)
		require.NoError(t, err, name)

		assert.Equal(t, usecase.AnonymousPrincipal, resp.PrincipalID, name)
		require.NotNil(t, resp.PolicyDocument, name)
		assert.Equal(t, "Deny", resp.PolicyDocument.Statement[0].Effect, name)
		assert.Nil(t, resp.Context, name)

		raw, err := json.Marshal(resp)
		require.NoError(t, err)
		if reference == nil {
			reference = raw
		}
		assert.JSONEq(t, string(reference), string(raw), name)
	}
}

func TestAuthorizer_UnknownResourceOmitsPolicy(t *testing.T) {
	a, _ := newTestAuthorizer(t)

	resp, err := a.Handle(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, usecase.AnonymousPrincipal, resp.PrincipalID)
	assert.Nil(t, resp.PolicyDocument)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"principalId":"anonymous"}`, string(raw))

	resp, err = a.Handle(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, resp.PolicyDocument)
}

func TestRequest_DecodesGatewayEvent(t *testing.T) {
	raw := `{
		"type": "REQUEST",
		"methodArn": "` + methodArn + `",
		"headers": {"Authorization": "Bearer abc"},
		"authorizationToken": "Bearer xyz"
	}`

	var req Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	assert.Equal(t, "REQUEST", req.Type)
	assert.Equal(t, methodArn, req.MethodArn)
	assert.Equal(t, "Bearer abc", req.Headers["Authorization"])
	assert.Equal(t, "Bearer xyz", req.AuthorizationToken)
}

func TestNewResponse_NilDecision(t *testing.T) {
	resp := NewResponse(nil)
	assert.Equal(t, usecase.AnonymousPrincipal, resp.PrincipalID)
	assert.Nil(t, resp.PolicyDocument)
}
