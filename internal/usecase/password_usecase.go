package usecase

import (
	"context"

	"gatekeeper/internal/domain/entity"
)

// PasswordResetRequestedMessage is returned for every reset request, whether
// or not the email belongs to an identity.
const PasswordResetRequestedMessage = "If an account exists for that email, password reset instructions have been issued"

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

type RequestPasswordResetInput struct {
	Email string
}

// RequestPasswordResetOutput always carries the generic message. ResetToken is
// empty when no identity matched.
type RequestPasswordResetOutput struct {
	Message    string
	ResetToken string
}

type ResetPasswordInput struct {
	Token       string
	NewPassword string
}

// PasswordUsecase defines password change and the one-time reset protocol.
type PasswordUsecase interface {
	ChangePassword(ctx context.Context, identity entity.IdentityContext, input *ChangePasswordInput) error
	RequestPasswordReset(ctx context.Context, input *RequestPasswordResetInput) (*RequestPasswordResetOutput, error)
	ResetPassword(ctx context.Context, input *ResetPasswordInput) error
}
