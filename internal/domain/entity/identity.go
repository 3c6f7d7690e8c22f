package entity

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxLoginAttempts is the number of consecutive failures that locks an account.
	DefaultMaxLoginAttempts = 5
	// DefaultLockDuration is how long a lock lasts, measured from the locking failure.
	DefaultLockDuration = 30 * time.Minute
	// DefaultMaxRefreshTokens caps the per-identity refresh token list.
	DefaultMaxRefreshTokens = 5
	// DefaultPasswordResetTTL is the absolute lifetime of a password reset token.
	DefaultPasswordResetTTL = 10 * time.Minute
)

// Identity is one registered principal together with its credential state.
type Identity struct {
	ID           uuid.UUID
	Email        string // always stored normalized, see NormalizeEmail
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role
	Active       bool

	EmailVerified           bool
	EmailVerificationDigest string

	LoginAttempts int
	LockUntil     *time.Time
	LastLoginAt   *time.Time

	PasswordResetDigest    string
	PasswordResetExpiresAt *time.Time

	// RefreshTokens is ordered oldest first.
	RefreshTokens []RefreshTokenEntry

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RefreshTokenEntry is the persisted trace of one issued refresh token.
// Only the SHA-256 digest of the token is kept.
type RefreshTokenEntry struct {
	TokenDigest string
	// RotatedFrom is the digest of the token this one replaced on refresh.
	RotatedFrom string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Device      DeviceInfo
}

// DeviceInfo is the client metadata recorded with a refresh token.
type DeviceInfo struct {
	UserAgent string
	IPAddress string
}

// IdentityContext is the read-only projection attached to an authorized request.
type IdentityContext struct {
	UserID uuid.UUID
	Email  string
	Role   Role
}

// NormalizeEmail lower-cases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Context returns the identity context for this record.
func (i *Identity) Context() IdentityContext {
	return IdentityContext{UserID: i.ID, Email: i.Email, Role: i.Role}
}

// IsLocked reports whether a lock is in force at now. An elapsed lock is
// treated as absent.
func (i *Identity) IsLocked(now time.Time) bool {
	return i.LockUntil != nil && now.Before(*i.LockUntil)
}

// RegisterFailedLogin records one failed password check and reports whether
// the account became locked by it. A lock that has already elapsed is cleared
// first, so the counter restarts at one.
func (i *Identity) RegisterFailedLogin(now time.Time, maxAttempts int, lockDuration time.Duration) bool {
	if i.LockUntil != nil && !now.Before(*i.LockUntil) {
		i.LoginAttempts = 0
		i.LockUntil = nil
	}

	i.LoginAttempts++
	if i.LoginAttempts < maxAttempts {
		return false
	}

	lockUntil := now.Add(lockDuration)
	i.LockUntil = &lockUntil

	return true
}

// ResetLockout returns the account to the unlocked state with no failed attempts.
func (i *Identity) ResetLockout() {
	i.LoginAttempts = 0
	i.LockUntil = nil
}

// RegisterSuccessfulLogin resets the lockout state and stamps the last login.
func (i *Identity) RegisterSuccessfulLogin(now time.Time) {
	i.ResetLockout()
	i.LastLoginAt = &now
}

// AddRefreshToken appends entry after dropping expired entries, then evicts the
// oldest entries until at most maxTokens remain.
func (i *Identity) AddRefreshToken(entry RefreshTokenEntry, maxTokens int, now time.Time) {
	i.PruneExpiredRefreshTokens(now)
	i.RefreshTokens = append(i.RefreshTokens, entry)

	if maxTokens > 0 && len(i.RefreshTokens) > maxTokens {
		i.RefreshTokens = slices.Clone(i.RefreshTokens[len(i.RefreshTokens)-maxTokens:])
	}
}

// PruneExpiredRefreshTokens removes entries whose expiry is not after now.
func (i *Identity) PruneExpiredRefreshTokens(now time.Time) {
	i.RefreshTokens = slices.DeleteFunc(i.RefreshTokens, func(e RefreshTokenEntry) bool {
		return !e.ExpiresAt.After(now)
	})
}

// HasRefreshToken reports whether digest is present and unexpired.
func (i *Identity) HasRefreshToken(digest string, now time.Time) bool {
	return slices.ContainsFunc(i.RefreshTokens, func(e RefreshTokenEntry) bool {
		return e.TokenDigest == digest && e.ExpiresAt.After(now)
	})
}

// WasRotatedAway reports whether digest was replaced by a listed entry.
func (i *Identity) WasRotatedAway(digest string) bool {
	return digest != "" && slices.ContainsFunc(i.RefreshTokens, func(e RefreshTokenEntry) bool {
		return e.RotatedFrom == digest
	})
}

// RemoveRefreshToken deletes the entry with digest and reports whether one was removed.
func (i *Identity) RemoveRefreshToken(digest string) bool {
	before := len(i.RefreshTokens)
	i.RefreshTokens = slices.DeleteFunc(i.RefreshTokens, func(e RefreshTokenEntry) bool {
		return e.TokenDigest == digest
	})

	return len(i.RefreshTokens) != before
}

// ClearRefreshTokens revokes every refresh token of the identity.
func (i *Identity) ClearRefreshTokens() {
	i.RefreshTokens = nil
}

// SetPasswordReset stores the digest of a freshly issued reset token.
func (i *Identity) SetPasswordReset(digest string, expiresAt time.Time) {
	i.PasswordResetDigest = digest
	i.PasswordResetExpiresAt = &expiresAt
}

// PasswordResetMatches reports whether digest is the current reset digest and
// has not yet expired at now.
func (i *Identity) PasswordResetMatches(digest string, now time.Time) bool {
	return digest != "" &&
		i.PasswordResetDigest == digest &&
		i.PasswordResetExpiresAt != nil &&
		now.Before(*i.PasswordResetExpiresAt)
}

// ClearPasswordReset consumes the reset token.
func (i *Identity) ClearPasswordReset() {
	i.PasswordResetDigest = ""
	i.PasswordResetExpiresAt = nil
}

// Clone returns a deep copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}

	cloned := *i
	cloned.LockUntil = cloneTime(i.LockUntil)
	cloned.LastLoginAt = cloneTime(i.LastLoginAt)
	cloned.PasswordResetExpiresAt = cloneTime(i.PasswordResetExpiresAt)
	cloned.RefreshTokens = slices.Clone(i.RefreshTokens)

	return &cloned
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t

	return &v
}
