package service

import (
	"context"
	"time"
)

// SecurityEventType names an auditable credential lifecycle event.
type SecurityEventType string

const (
	EventRegistered             SecurityEventType = "registered"
	EventLoginSucceeded         SecurityEventType = "login_succeeded"
	EventLoginFailed            SecurityEventType = "login_failed"
	EventAccountLocked          SecurityEventType = "account_locked"
	EventLoggedOut              SecurityEventType = "logged_out"
	EventPasswordChanged        SecurityEventType = "password_changed"
	EventPasswordResetRequested SecurityEventType = "password_reset_requested"
	EventPasswordResetCompleted SecurityEventType = "password_reset_completed"
	EventRefreshTokenReused     SecurityEventType = "refresh_token_reused"
	EventRefreshTokenRejected   SecurityEventType = "refresh_token_rejected"
	EventEmailVerified          SecurityEventType = "email_verified"
	EventAccountStatusChanged   SecurityEventType = "account_status_changed"
)

// SecurityEvent is the audit record published after a state change. It never
// carries token values or password material.
type SecurityEvent struct {
	RequestID  string            `json:"request_id,omitempty"`
	Type       SecurityEventType `json:"type"`
	IdentityID string            `json:"identity_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// SecurityEventPublisher delivers security events to an audit sink.
type SecurityEventPublisher interface {
	PublishSecurityEvent(ctx context.Context, event *SecurityEvent) error

	// Close releases any resources held by the publisher
	Close() error
}
