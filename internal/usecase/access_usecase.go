package usecase

import (
	"context"

	"gatekeeper/internal/domain/entity"
)

// AnonymousPrincipal is the principal reported for every Deny.
const AnonymousPrincipal = "anonymous"

// AccessRequest lists where a bearer credential may arrive, highest priority
// first, followed by the legacy bearer field.
type AccessRequest struct {
	IdentitySources []string
	LegacyToken     string
	Resource        string
}

// AccessDecision is the outcome of one access evaluation. Identity is only set on Allow.
type AccessDecision struct {
	PrincipalID string
	Effect      entity.Effect
	Resource    string
	Identity    *entity.IdentityContext
}

// Allowed reports whether the decision grants access.
func (d *AccessDecision) Allowed() bool {
	return d != nil && d.Effect == entity.EffectAllow && d.Identity != nil
}

// AccessUsecase turns an inbound credential into an allow or deny decision.
// Every failure produces the same Deny.
type AccessUsecase interface {
	Decide(ctx context.Context, req *AccessRequest) *AccessDecision
}
