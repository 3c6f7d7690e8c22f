// Package handler contains the HTTP handlers for the application.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/config"
	"gatekeeper/internal/delivery/api/middleware"
	"gatekeeper/internal/delivery/api/response"
	"gatekeeper/internal/domain/entity"
	domainerrors "gatekeeper/internal/domain/errors"
	"gatekeeper/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// RegisterRequest is the body of POST /auth/register. The role is never taken
// from the client.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest revokes one refresh token, or all of them when RefreshToken is empty.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// TokenResponse carries tokens in the response body only.
type TokenResponse struct {
	AccessToken           string     `json:"access_token"`
	AccessTokenExpiresAt  time.Time  `json:"access_token_expires_at"`
	RefreshToken          string     `json:"refresh_token,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
	TokenType             string     `json:"token_type"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Identity          *usecase.IdentityView `json:"identity"`
	Tokens            *TokenResponse        `json:"tokens"`
	VerificationToken string                `json:"verification_token,omitempty"`
}

// AuthHandlerParams holds dependencies for AuthHandler, injected by Fx.
type AuthHandlerParams struct {
	fx.In

	Session  usecase.SessionUsecase
	Password usecase.PasswordUsecase
	Config   *config.Config
	Logger   *slog.Logger
}

// AuthHandler serves the credential and session endpoints.
type AuthHandler struct {
	session          usecase.SessionUsecase
	password         usecase.PasswordUsecase
	exposeResetToken bool
	logger           *slog.Logger
}

// NewAuthHandler is the constructor for AuthHandler.
func NewAuthHandler(params AuthHandlerParams) *AuthHandler {
	return &AuthHandler{
		session:          params.Session,
		password:         params.Password,
		exposeResetToken: params.Config.Auth != nil && params.Config.Auth.ExposeResetToken,
		logger:           params.Logger,
	}
}

// Register handles the registration request.
func (h *AuthHandler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	output, err := h.session.Register(c.Request().Context(), &usecase.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Device:    deviceInfo(c),
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusCreated, newAuthResponse(output), "Registration successful")
}

// Login handles the login request.
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	output, err := h.session.Login(c.Request().Context(), &usecase.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   deviceInfo(c),
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, newAuthResponse(output), "Login successful")
}

// RefreshToken exchanges a refresh token for a new access token.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	var req RefreshRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	output, err := h.session.RefreshToken(c.Request().Context(), &usecase.RefreshTokenInput{
		RefreshToken: req.RefreshToken,
		Device:       deviceInfo(c),
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, &TokenResponse{
		AccessToken:           output.AccessToken,
		AccessTokenExpiresAt:  output.AccessTokenExpiresAt,
		RefreshToken:          output.RefreshToken,
		RefreshTokenExpiresAt: output.RefreshTokenExpiresAt,
		TokenType:             "Bearer",
	}, "Token refreshed successfully")
}

// Logout revokes one or all refresh tokens of the caller.
func (h *AuthHandler) Logout(c echo.Context) error {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return domainerrors.ErrUnauthorized
	}

	var req LogoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.session.Logout(c.Request().Context(), identity, &usecase.LogoutInput{RefreshToken: req.RefreshToken}); err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, nil, "Logout successful")
}

// ListSessions returns the caller's active refresh token entries.
func (h *AuthHandler) ListSessions(c echo.Context) error {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return domainerrors.ErrUnauthorized
	}

	sessions, err := h.session.ListSessions(c.Request().Context(), identity)
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, sessions, "")
}

// VerifyEmail consumes an email verification token.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req VerifyEmailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.session.VerifyEmail(c.Request().Context(), req.Token); err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, nil, "Email verified")
}

// ForgotPassword always answers with the same message. The reset token is
// only returned when exposeResetToken is enabled for development.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	output, err := h.password.RequestPasswordReset(c.Request().Context(), &usecase.RequestPasswordResetInput{Email: req.Email})
	if err != nil {
		return errors.WithStack(err)
	}

	var data any
	if h.exposeResetToken && output.ResetToken != "" {
		data = map[string]string{"reset_token": output.ResetToken}
	}

	return response.Success(c, http.StatusAccepted, data, output.Message)
}

// ResetPassword consumes a password reset token.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.password.ResetPassword(c.Request().Context(), &usecase.ResetPasswordInput{
		Token:       req.Token,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, nil, "Password has been reset")
}

// ChangePassword replaces the caller's password and signs out every device.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return domainerrors.ErrUnauthorized
	}

	var req ChangePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.password.ChangePassword(c.Request().Context(), identity, &usecase.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, nil, "Password changed")
}

// HealthCheck is a simple handler to check if the service is up.
func HealthCheck(c echo.Context) error {
	return response.Success(c, http.StatusOK, map[string]string{"status": "ok"}, "Service is healthy")
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return domainerrors.ErrValidationFailed.WithDetails("malformed request body")
	}

	return c.Validate(req)
}

func deviceInfo(c echo.Context) entity.DeviceInfo {
	return entity.DeviceInfo{
		UserAgent: c.Request().UserAgent(),
		IPAddress: c.RealIP(),
	}
}

func newAuthResponse(output *usecase.AuthOutput) *AuthResponse {
	refreshExp := output.Tokens.RefreshTokenExpiresAt

	return &AuthResponse{
		Identity: output.Identity,
		Tokens: &TokenResponse{
			AccessToken:           output.Tokens.AccessToken,
			AccessTokenExpiresAt:  output.Tokens.AccessTokenExpiresAt,
			RefreshToken:          output.Tokens.RefreshToken,
			RefreshTokenExpiresAt: &refreshExp,
			TokenType:             "Bearer",
		},
		VerificationToken: output.VerificationToken,
	}
}
