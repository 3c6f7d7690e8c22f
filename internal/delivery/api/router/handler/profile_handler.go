package handler

import (
	"log/slog"
	"net/http"

	"gatekeeper/internal/delivery/api/middleware"
	"gatekeeper/internal/delivery/api/response"
	domainerrors "gatekeeper/internal/domain/errors"
	"gatekeeper/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// UpdateProfileRequest patches only the fields that are present.
type UpdateProfileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	Email     *string `json:"email" validate:"omitempty,email,max=254"`
}

// UpdateProfileResponse returns the updated view and, after an email change,
// the token that verifies the new address.
type UpdateProfileResponse struct {
	Identity          *usecase.IdentityView `json:"identity"`
	VerificationToken string                `json:"verification_token,omitempty"`
}

// SetStatusRequest is the body of PATCH /admin/identities/:id/status.
type SetStatusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// ProfileHandlerParams holds dependencies for ProfileHandler, injected by Fx.
type ProfileHandlerParams struct {
	fx.In

	Profile usecase.ProfileUsecase
	Logger  *slog.Logger
}

// ProfileHandler serves the caller's profile and the admin status toggle.
type ProfileHandler struct {
	profile usecase.ProfileUsecase
	logger  *slog.Logger
}

func NewProfileHandler(params ProfileHandlerParams) *ProfileHandler {
	return &ProfileHandler{
		profile: params.Profile,
		logger:  params.Logger,
	}
}

// GetProfile handles the request to get the current identity's profile.
func (h *ProfileHandler) GetProfile(c echo.Context) error {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return domainerrors.ErrUnauthorized
	}

	view, err := h.profile.GetProfile(c.Request().Context(), identity.UserID)
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, view, "Profile retrieved successfully")
}

func (h *ProfileHandler) UpdateProfile(c echo.Context) error {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return domainerrors.ErrUnauthorized
	}

	var req UpdateProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	output, err := h.profile.UpdateProfile(c.Request().Context(), identity.UserID, &usecase.UpdateProfileInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, &UpdateProfileResponse{
		Identity:          output.Identity,
		VerificationToken: output.VerificationToken,
	}, "Profile updated successfully")
}

// SetStatus activates or deactivates another identity. Admin only.
func (h *ProfileHandler) SetStatus(c echo.Context) error {
	actor, ok := middleware.GetIdentity(c)
	if !ok {
		return domainerrors.ErrUnauthorized
	}

	targetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return domainerrors.ErrValidationFailed.WithDetails("id must be a UUID")
	}

	var req SetStatusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	view, err := h.profile.SetActive(c.Request().Context(), actor, targetID, *req.Active)
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, view, "Account status updated")
}
