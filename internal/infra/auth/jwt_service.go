// Package auth provides concrete implementations for authentication-related domain services.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gatekeeper/config"
	"gatekeeper/internal/domain/entity"
	domainerrors "gatekeeper/internal/domain/errors"
	"gatekeeper/internal/domain/service"
	"gatekeeper/internal/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// signingDomain is one independent key and lifetime pair.
type signingDomain struct {
	secret    []byte
	ttl       time.Duration
	tokenType service.TokenType
}

// jwtService is a concrete implementation of the TokenService interface using HS256 JWTs.
type jwtService struct {
	access   signingDomain
	refresh  signingDomain
	issuer   string
	audience string
	now      func() time.Time
}

// JWTOption customizes a jwtService.
type JWTOption func(*jwtService)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) JWTOption {
	return func(s *jwtService) {
		s.now = now
	}
}

// NewJWTService builds the token codec from the secretKey and token sections.
func NewJWTService(cfg *config.Config) (service.TokenService, error) {
	return NewJWTServiceWithOptions(cfg)
}

// NewJWTServiceWithOptions is NewJWTService with functional options.
func NewJWTServiceWithOptions(cfg *config.Config, opts ...JWTOption) (service.TokenService, error) {
	if cfg.SecretKey.Access == "" || cfg.SecretKey.Refresh == "" {
		return nil, errors.New("jwt secrets must be provided")
	}
	if cfg.SecretKey.Access == cfg.SecretKey.Refresh {
		return nil, errors.New("access and refresh secrets must differ")
	}

	tokenCfg := cfg.Token
	if tokenCfg == nil {
		tokenCfg = &config.TokenConfig{}
	}

	s := &jwtService{
		access: signingDomain{
			secret:    []byte(cfg.SecretKey.Access),
			ttl:       durationOr(tokenCfg.AccessTTL, 15*time.Minute),
			tokenType: service.TokenTypeAccess,
		},
		refresh: signingDomain{
			secret:    []byte(cfg.SecretKey.Refresh),
			ttl:       durationOr(tokenCfg.RefreshTTL, 7*24*time.Hour),
			tokenType: service.TokenTypeRefresh,
		},
		issuer:   tokenCfg.Issuer,
		audience: tokenCfg.Audience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *jwtService) IssueAccess(identity entity.IdentityContext) (string, time.Time, error) {
	return s.sign(s.access, identity)
}

func (s *jwtService) IssueRefresh(identity entity.IdentityContext) (string, time.Time, error) {
	return s.sign(s.refresh, identity)
}

func (s *jwtService) IssuePair(identity entity.IdentityContext) (*entity.TokenPair, error) {
	accessToken, accessExp, err := s.IssueAccess(identity)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshExp, err := s.IssueRefresh(identity)
	if err != nil {
		return nil, err
	}

	return &entity.TokenPair{
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

func (s *jwtService) VerifyAccess(token string) (*service.Claims, error) {
	return s.verify(s.access, token)
}

func (s *jwtService) VerifyRefresh(token string) (*service.Claims, error) {
	return s.verify(s.refresh, token)
}

// HashToken returns the hex SHA-256 digest of token.
func (s *jwtService) HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}

func (s *jwtService) sign(domain signingDomain, identity entity.IdentityContext) (string, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(domain.ttl)

	claims := &service.Claims{
		Email: identity.Email,
		Role:  identity.Role.String(),
		Type:  domain.tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(domain.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrapf(err, "sign %s token", domain.tokenType)
	}

	return signed, expiresAt, nil
}

// verify collapses every failure into ErrInvalidToken.
func (s *jwtService) verify(domain signingDomain, token string) (*service.Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(s.audience))
	}

	claims := &service.Claims{}
	parsed, err := jwt.NewParser(parserOpts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return domain.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, domainerrors.ErrInvalidToken
	}

	if claims.Type != domain.tokenType {
		return nil, domainerrors.ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, domainerrors.ErrInvalidToken
	}

	return claims, nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}

	return d
}
