package service

// DefaultSecureTokenBytes is the entropy of verification and reset tokens.
const DefaultSecureTokenBytes = 32

// SecureTokenGenerator produces opaque single-use tokens. The plaintext is
// handed to the caller once; only Digest output is ever stored.
type SecureTokenGenerator interface {
	// Generate returns byteLength random bytes, hex encoded.
	Generate(byteLength int) (string, error)

	// Digest returns the one-way digest of token.
	Digest(token string) string
}
