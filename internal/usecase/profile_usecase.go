package usecase

import (
	"context"
	"time"

	"gatekeeper/internal/domain/entity"

	"github.com/google/uuid"
)

// IdentityView is the public projection of an identity. It never carries the
// password digest or any token digest.
type IdentityView struct {
	ID            uuid.UUID   `json:"id"`
	Email         string      `json:"email"`
	FirstName     string      `json:"first_name"`
	LastName      string      `json:"last_name"`
	Role          entity.Role `json:"role"`
	Active        bool        `json:"active"`
	EmailVerified bool        `json:"email_verified"`
	LastLoginAt   *time.Time  `json:"last_login_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewIdentityView projects identity for callers.
func NewIdentityView(identity *entity.Identity) *IdentityView {
	if identity == nil {
		return nil
	}

	return &IdentityView{
		ID:            identity.ID,
		Email:         identity.Email,
		FirstName:     identity.FirstName,
		LastName:      identity.LastName,
		Role:          identity.Role,
		Active:        identity.Active,
		EmailVerified: identity.EmailVerified,
		LastLoginAt:   identity.LastLoginAt,
		CreatedAt:     identity.CreatedAt,
		UpdatedAt:     identity.UpdatedAt,
	}
}

// UpdateProfileInput is a patch; nil fields are left untouched.
type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
	Email     *string
}

// UpdateProfileOutput returns the updated view. VerificationToken is set when
// the email changed and must be verified again.
type UpdateProfileOutput struct {
	Identity          *IdentityView
	VerificationToken string
}

// ProfileUsecase defines the interface for profile-related business operations.
type ProfileUsecase interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*IdentityView, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, input *UpdateProfileInput) (*UpdateProfileOutput, error)

	// SetActive activates or deactivates targetID. Only admins may call it.
	SetActive(ctx context.Context, actor entity.IdentityContext, targetID uuid.UUID, active bool) (*IdentityView, error)
}
