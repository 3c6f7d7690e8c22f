package service

import (
	"time"

	"gatekeeper/internal/domain/entity"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes the two signing domains.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the claim set carried by both access and refresh tokens.
type Claims struct {
	Email string    `json:"email"`
	Role  string    `json:"role"`
	Type  TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// IdentityContext converts verified claims into an identity context.
func (c *Claims) IdentityContext() (entity.IdentityContext, error) {
	userID, err := c.UserID()
	if err != nil {
		return entity.IdentityContext{}, err
	}

	return entity.IdentityContext{
		UserID: userID,
		Email:  c.Email,
		Role:   entity.ParseRole(c.Role),
	}, nil
}

// TokenService issues and verifies signed credentials. Access and refresh
// tokens are signed with independent secrets, so a token from one domain never
// verifies in the other.
type TokenService interface {
	// IssueAccess signs a short-lived access token for identity.
	IssueAccess(identity entity.IdentityContext) (string, time.Time, error)

	// IssueRefresh signs a long-lived refresh token for identity.
	IssueRefresh(identity entity.IdentityContext) (string, time.Time, error)

	// IssuePair issues both tokens.
	IssuePair(identity entity.IdentityContext) (*entity.TokenPair, error)

	// VerifyAccess validates an access token. Every failure is reported as
	// domainerrors.ErrInvalidToken.
	VerifyAccess(token string) (*Claims, error)

	// VerifyRefresh validates a refresh token. Every failure is reported as
	// domainerrors.ErrInvalidToken.
	VerifyRefresh(token string) (*Claims, error)

	// HashToken returns the digest under which a refresh token is persisted.
	HashToken(token string) string
}
