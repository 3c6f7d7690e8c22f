package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatekeeper/config"
	apimiddleware "gatekeeper/internal/delivery/api/middleware"
	"gatekeeper/internal/delivery/api/router"
	"gatekeeper/internal/delivery/api/router/handler"
	"gatekeeper/internal/domain/entity"
	"gatekeeper/internal/infra/auth"
	"gatekeeper/internal/infra/persistence/memory"
	"gatekeeper/internal/infra/pubsub"
	"gatekeeper/internal/usecase"
	"gatekeeper/internal/usecase/impl"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "jane@example.com"
	testPassword = "StrongPass123!"
)

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	} `json:"error"`
}

type testAPI struct {
	e       *echo.Echo
	session usecase.SessionUsecase
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := &config.Config{
		SecretKey: config.SecretKeyConfig{Access: "api-access-secret", Refresh: "api-refresh-secret"},
		Token: &config.TokenConfig{
			Issuer:     "gatekeeper",
			Audience:   "gatekeeper-api",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
		Auth: &config.AuthConfig{
			BcryptCost:        bcrypt.MinCost,
			MaxRefreshTokens:  5,
			MaxLoginAttempts:  5,
			LockDuration:      30 * time.Minute,
			ResetTokenTTL:     10 * time.Minute,
			RepositoryTimeout: time.Second,
			ExposeResetToken:  true,
		},
		Authorizer: &config.AuthorizerConfig{IdentityHeaders: []string{echo.HeaderAuthorization}},
	}
	cfg.HTTP.MaxRequestBodySize = "64KB"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	tokens, err := auth.NewJWTService(cfg)
	require.NoError(t, err)
	hasher := auth.NewBcryptHasher(cfg)
	secureTokens := auth.NewSecureTokenGenerator()
	publisher := pubsub.NewNoopPublisher(logger)

	session := impl.NewSessionService(impl.SessionServiceParams{
		TxManager:    store.TransactionManager(),
		IdentityRepo: store.IdentityRepository(),
		Hasher:       hasher,
		TokenService: tokens,
		SecureTokens: secureTokens,
		Publisher:    publisher,
		Config:       cfg,
		Logger:       logger,
	})
	password := impl.NewPasswordService(impl.PasswordServiceParams{
		TxManager:    store.TransactionManager(),
		IdentityRepo: store.IdentityRepository(),
		Hasher:       hasher,
		SecureTokens: secureTokens,
		Publisher:    publisher,
		Config:       cfg,
		Logger:       logger,
	})
	profile := impl.NewProfileService(impl.ProfileServiceParams{
		TxManager:    store.TransactionManager(),
		IdentityRepo: store.IdentityRepository(),
		SecureTokens: secureTokens,
		Publisher:    publisher,
		Config:       cfg,
		Logger:       logger,
	})
	access := impl.NewAccessService(impl.AccessServiceParams{TokenService: tokens, Logger: logger})

	e := newEcho(cfg, logger, router.RouterParams{
		AuthHandler: handler.NewAuthHandler(handler.AuthHandlerParams{
			Session:  session,
			Password: password,
			Config:   cfg,
			Logger:   logger,
		}),
		ProfileHandler: handler.NewProfileHandler(handler.ProfileHandlerParams{Profile: profile, Logger: logger}),
		AuthMiddleware: apimiddleware.NewAuthMiddleware(apimiddleware.AuthMiddlewareParams{Access: access, Config: cfg}),
	})

	return &testAPI{e: e, session: session}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}

	return rec, env
}

func (a *testAPI) register(t *testing.T, email string) handler.AuthResponse {
	t.Helper()

	rec, env := a.do(t, http.MethodPost, "/auth/register", handler.RegisterRequest{
		Email:     email,
		Password:  testPassword,
		FirstName: "Jane",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out handler.AuthResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))

	return out
}

func TestAPI_RegisterAndLogin(t *testing.T) {
	a := newTestAPI(t)

	registered := a.register(t, testEmail)
	assert.Equal(t, testEmail, registered.Identity.Email)
	assert.Equal(t, entity.RoleUser, registered.Identity.Role)
	assert.NotEmpty(t, registered.Tokens.AccessToken)
	assert.NotEmpty(t, registered.Tokens.RefreshToken)
	assert.Equal(t, "Bearer", registered.Tokens.TokenType)

	rec, env := a.do(t, http.MethodPost, "/auth/login", handler.LoginRequest{Email: "JANE@example.com", Password: testPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, http.StatusOK, env.Code)
	assert.Nil(t, env.Error)
	assert.NotContains(t, rec.Body.String(), "password")

	rec, env = a.do(t, http.MethodPost, "/auth/register", handler.RegisterRequest{Email: testEmail, Password: testPassword}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "DUPLICATE_EMAIL", env.Error.Code)
}

func TestAPI_ValidationErrors(t *testing.T) {
	a := newTestAPI(t)

	rec, env := a.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "not-an-email"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	assert.NotEmpty(t, env.Error.Details)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString("{"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	raw := httptest.NewRecorder()
	a.e.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec, env = a.do(t, http.MethodPost, "/auth/register", handler.RegisterRequest{Email: testEmail, Password: "weak"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PASSWORD_STRENGTH", env.Error.Code)
}

func TestAPI_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, testEmail)

	wrongPassword, _ := a.do(t, http.MethodPost, "/auth/login", handler.LoginRequest{Email: testEmail, Password: "WrongPass999!"}, "")
	unknownEmail, _ := a.do(t, http.MethodPost, "/auth/login", handler.LoginRequest{Email: "nobody@example.com", Password: "WrongPass999!"}, "")

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, wrongPassword.Code, unknownEmail.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestAPI_Lockout(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, testEmail)

	for i := 0; i < 5; i++ {
		rec, _ := a.do(t, http.MethodPost, "/auth/login", handler.LoginRequest{Email: testEmail, Password: "WrongPass999!"}, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec, env := a.do(t, http.MethodPost, "/auth/login", handler.LoginRequest{Email: testEmail, Password: testPassword}, "")
	assert.Equal(t, http.StatusLocked, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ACCOUNT_LOCKED", env.Error.Code)
}

func TestAPI_ProtectedRoutesDenyUniformly(t *testing.T) {
	a := newTestAPI(t)
	registered := a.register(t, testEmail)

	noToken, _ := a.do(t, http.MethodGet, "/user/profile", nil, "")
	garbage, _ := a.do(t, http.MethodGet, "/user/profile", nil, "not.a.jwt")
	refreshAsAccess, _ := a.do(t, http.MethodGet, "/user/profile", nil, registered.Tokens.RefreshToken)

	for _, rec := range []*httptest.ResponseRecorder{noToken, garbage, refreshAsAccess} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, noToken.Body.String(), rec.Body.String())
	}

	rec, env := a.do(t, http.MethodGet, "/user/profile", nil, registered.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var view usecase.IdentityView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, registered.Identity.ID, view.ID)
}

func TestAPI_RefreshAndLogout(t *testing.T) {
	a := newTestAPI(t)
	registered := a.register(t, testEmail)

	rec, env := a.do(t, http.MethodPost, "/auth/refresh", handler.RefreshRequest{RefreshToken: registered.Tokens.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed handler.TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &refreshed))
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.Empty(t, refreshed.RefreshToken)

	rec, env = a.do(t, http.MethodGet, "/auth/sessions", nil, refreshed.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	assert.Len(t, sessions, 1)

	rec, _ = a.do(t, http.MethodPost, "/auth/logout", handler.LogoutRequest{RefreshToken: registered.Tokens.RefreshToken}, refreshed.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.do(t, http.MethodPost, "/auth/refresh", handler.RefreshRequest{RefreshToken: registered.Tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "TOKEN_REVOKED", env.Error.Code)
	assert.Empty(t, env.Error.Details)

	// Logging out again is not an error.
	rec, _ = a.do(t, http.MethodPost, "/auth/logout", handler.LogoutRequest{RefreshToken: registered.Tokens.RefreshToken}, refreshed.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_PasswordResetFlow(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, testEmail)

	known, knownEnv := a.do(t, http.MethodPost, "/auth/password/forgot", handler.ForgotPasswordRequest{Email: testEmail}, "")
	unknown, unknownEnv := a.do(t, http.MethodPost, "/auth/password/forgot", handler.ForgotPasswordRequest{Email: "nobody@example.com"}, "")

	require.Equal(t, http.StatusAccepted, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, knownEnv.Message, unknownEnv.Message)
	assert.Empty(t, unknownEnv.Data)

	var exposed map[string]string
	require.NoError(t, json.Unmarshal(knownEnv.Data, &exposed))
	require.NotEmpty(t, exposed["reset_token"])

	rec, _ := a.do(t, http.MethodPost, "/auth/password/reset", handler.ResetPasswordRequest{
		Token:       exposed["reset_token"],
		NewPassword: "FreshStart456!",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/auth/login", handler.LoginRequest{Email: testEmail, Password: "FreshStart456!"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := a.do(t, http.MethodPost, "/auth/password/reset", handler.ResetPasswordRequest{
		Token:       exposed["reset_token"],
		NewPassword: "AnotherPass789!",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_OR_EXPIRED_TOKEN", env.Error.Code)
}

func TestAPI_AdminStatus(t *testing.T) {
	a := newTestAPI(t)
	user := a.register(t, testEmail)

	adminOut, err := a.session.Register(context.Background(), &usecase.RegisterInput{
		Email:    "admin@example.com",
		Password: testPassword,
		Role:     entity.RoleAdmin,
	})
	require.NoError(t, err)

	path := "/admin/identities/" + user.Identity.ID.String() + "/status"
	active := false

	rec, env := a.do(t, http.MethodPatch, path, handler.SetStatusRequest{Active: &active}, user.Tokens.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	rec, _ = a.do(t, http.MethodPatch, "/admin/identities/not-a-uuid/status", handler.SetStatusRequest{Active: &active}, adminOut.Tokens.AccessToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, http.MethodPatch, path, handler.SetStatusRequest{Active: &active}, adminOut.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = a.do(t, http.MethodPost, "/auth/login", handler.LoginRequest{Email: testEmail, Password: testPassword}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ACCOUNT_DEACTIVATED", env.Error.Code)
}

func TestAPI_HealthAndUnknownRoute(t *testing.T) {
	a := newTestAPI(t)

	rec, env := a.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec, env = a.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}
