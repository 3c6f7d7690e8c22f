package entity

import "time"

// TokenPair is returned to the client after a successful authentication.
type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
}

// Effect is the outcome of an access decision.
type Effect string

const (
	// EffectAllow lets the request through with an attached identity context.
	EffectAllow Effect = "Allow"
	// EffectDeny rejects the request without further detail.
	EffectDeny Effect = "Deny"
)
