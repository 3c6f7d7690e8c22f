package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"gatekeeper/internal/domain/service"
	"gatekeeper/internal/errors"
)

type secureTokenGenerator struct{}

// NewSecureTokenGenerator returns a crypto/rand backed generator.
func NewSecureTokenGenerator() service.SecureTokenGenerator {
	return secureTokenGenerator{}
}

func (secureTokenGenerator) Generate(byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = service.DefaultSecureTokenBytes
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random bytes")
	}

	return hex.EncodeToString(buf), nil
}

func (secureTokenGenerator) Digest(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}
