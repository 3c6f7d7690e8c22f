// Package usecase contains the application-specific business rules.
// It orchestrates the domain layer to perform tasks.
package usecase

import (
	"context"
	"time"

	"gatekeeper/internal/domain/entity"
)

// --- Input DTOs ---

// RegisterInput defines the data required to register a new identity.
// An empty Role registers a regular user.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      entity.Role
	Device    entity.DeviceInfo
}

// LoginInput defines the data required for an identity to log in.
type LoginInput struct {
	Email    string
	Password string
	Device   entity.DeviceInfo
}

// RefreshTokenInput carries the refresh token presented by the client.
type RefreshTokenInput struct {
	RefreshToken string
	Device       entity.DeviceInfo
}

// LogoutInput names the refresh token to revoke. An empty token logs out every device.
type LogoutInput struct {
	RefreshToken string
}

// --- Output DTOs ---

// AuthOutput is returned by Register and Login.
type AuthOutput struct {
	Identity *IdentityView
	Tokens   *entity.TokenPair

	// VerificationToken is only set by Register and is never stored in plaintext.
	VerificationToken string
}

// RefreshTokenOutput carries the new access token. RefreshToken is only set
// when rotation-on-use is enabled.
type RefreshTokenOutput struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt *time.Time
}

// SessionView describes one active refresh token entry without its digest.
type SessionView struct {
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
}

// SessionUsecase defines registration, login and refresh token lifecycle operations.
type SessionUsecase interface {
	Register(ctx context.Context, input *RegisterInput) (*AuthOutput, error)
	Login(ctx context.Context, input *LoginInput) (*AuthOutput, error)
	RefreshToken(ctx context.Context, input *RefreshTokenInput) (*RefreshTokenOutput, error)
	Logout(ctx context.Context, identity entity.IdentityContext, input *LogoutInput) error
	VerifyEmail(ctx context.Context, token string) error
	ListSessions(ctx context.Context, identity entity.IdentityContext) ([]*SessionView, error)
}
