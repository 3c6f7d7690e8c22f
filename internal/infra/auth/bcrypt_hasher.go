package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"gatekeeper/config"
	domainerrors "gatekeeper/internal/domain/errors"
	"gatekeeper/internal/domain/service"

	"golang.org/x/crypto/bcrypt"
)

var forbiddenPasswordWords = []string{"password", "admin", "qwerty", "letmein"}

// bcryptHasher implements service.PasswordHasher with bcrypt and a configurable strength policy.
type bcryptHasher struct {
	cost   int
	policy config.PasswordStrengthConfig
}

// NewBcryptHasher reads the bcrypt cost and password policy from cfg.
func NewBcryptHasher(cfg *config.Config) service.PasswordHasher {
	cost := bcrypt.DefaultCost
	if cfg.Auth != nil && cfg.Auth.BcryptCost != 0 {
		cost = cfg.Auth.BcryptCost
	}

	policy := defaultPasswordPolicy()
	if cfg.PasswordStrength != nil {
		policy = *cfg.PasswordStrength
	}

	return NewBcryptHasherWithPolicy(cost, policy)
}

// NewBcryptHasherWithPolicy builds a hasher with an explicit cost. Out of range
// costs fall back to bcrypt.DefaultCost.
func NewBcryptHasherWithPolicy(cost int, policy config.PasswordStrengthConfig) service.PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if policy.MinLength <= 0 {
		policy.MinLength = 8
	}

	return &bcryptHasher{cost: cost, policy: policy}
}

func defaultPasswordPolicy() config.PasswordStrengthConfig {
	return config.PasswordStrengthConfig{
		MinLength:        8,
		MaxLength:        72,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumbers:   true,
	}
}

func (h *bcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", domainerrors.ErrPasswordHashFailed.WrapMessage(err.Error())
	}

	return string(hashed), nil
}

func (h *bcryptHasher) Check(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (h *bcryptHasher) ValidateStrength(password string) error {
	length := utf8.RuneCountInString(password)

	var violation string
	switch {
	case length < h.policy.MinLength:
		violation = fmt.Sprintf("must be at least %d characters long", h.policy.MinLength)
	case h.policy.MaxLength > 0 && length > h.policy.MaxLength:
		violation = fmt.Sprintf("must be at most %d characters long", h.policy.MaxLength)
	case len(password) > 72:
		// bcrypt ignores everything after 72 bytes
		violation = "must be at most 72 bytes long"
	case h.policy.RequireLowercase && !hasLowercase(password):
		violation = "must contain at least one lowercase letter"
	case h.policy.RequireUppercase && !hasUppercase(password):
		violation = "must contain at least one uppercase letter"
	case h.policy.RequireNumbers && !hasNumbers(password):
		violation = "must contain at least one number"
	case h.policy.RequireSpecial && !hasSpecialChars(password):
		violation = "must contain at least one special character"
	case containsForbiddenWords(password, forbiddenPasswordWords):
		violation = "contains forbidden words"
	default:
		return nil
	}

	return domainerrors.ErrPasswordStrength.WithDetails("password " + violation)
}

func hasUppercase(s string) bool {
	return strings.IndexFunc(s, unicode.IsUpper) >= 0
}

func hasLowercase(s string) bool {
	return strings.IndexFunc(s, unicode.IsLower) >= 0
}

func hasNumbers(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func hasSpecialChars(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	}) >= 0
}

func containsForbiddenWords(s string, words []string) bool {
	lower := strings.ToLower(s)
	for _, word := range words {
		if strings.Contains(lower, word) {
			return true
		}
	}

	return false
}
