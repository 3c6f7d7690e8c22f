package impl

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"gatekeeper/config"
	"gatekeeper/internal/domain/service"
	"gatekeeper/internal/infra/auth"
	"gatekeeper/internal/infra/persistence/memory"
	mockSvc "gatekeeper/internal/mocks/service"
	"gatekeeper/internal/usecase"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "jane@example.com"
	testPassword = "StrongPass123!"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fixture wires the real token codec, bcrypt hasher and in-memory store
// behind every use case, all sharing one fake clock.
type fixture struct {
	cfg       *config.Config
	clock     *fakeClock
	store     *memory.Store
	publisher *mockSvc.MockSecurityEventPublisher
	tokens    service.TokenService

	session  usecase.SessionUsecase
	password usecase.PasswordUsecase
	profile  usecase.ProfileUsecase
	access   usecase.AccessUsecase

	eventsMu sync.Mutex
	events   []service.SecurityEventType
}

func newTestConfig() *config.Config {
	return &config.Config{
		SecretKey: config.SecretKeyConfig{
			Access:  "test-access-secret",
			Refresh: "test-refresh-secret",
		},
		Token: &config.TokenConfig{
			Issuer:     "gatekeeper",
			Audience:   "gatekeeper-api",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Auth: &config.AuthConfig{
			BcryptCost:        bcrypt.MinCost,
			MaxRefreshTokens:  5,
			MaxLoginAttempts:  5,
			LockDuration:      30 * time.Minute,
			ResetTokenTTL:     10 * time.Minute,
			RepositoryTimeout: time.Second,
		},
	}
}

func newFixture(t *testing.T, configure ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := newTestConfig()
	for _, fn := range configure {
		fn(cfg)
	}

	f := &fixture{
		cfg:       cfg,
		clock:     newFakeClock(),
		store:     memory.NewStore(),
		publisher: mockSvc.NewMockSecurityEventPublisher(t),
	}

	f.publisher.EXPECT().
		PublishSecurityEvent(mock.Anything, mock.Anything).
		Run(func(_ context.Context, event *service.SecurityEvent) {
			f.eventsMu.Lock()
			f.events = append(f.events, event.Type)
			f.eventsMu.Unlock()
		}).
		Return(nil).
		Maybe()

	tokens, err := auth.NewJWTServiceWithOptions(cfg, auth.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.tokens = tokens

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher := auth.NewBcryptHasher(cfg)
	secureTokens := auth.NewSecureTokenGenerator()
	clock := service.Clock(f.clock.Now)

	f.session = NewSessionService(SessionServiceParams{
		TxManager:    f.store.TransactionManager(),
		IdentityRepo: f.store.IdentityRepository(),
		Hasher:       hasher,
		TokenService: tokens,
		SecureTokens: secureTokens,
		Publisher:    f.publisher,
		Clock:        clock,
		Config:       cfg,
		Logger:       logger,
	})
	f.password = NewPasswordService(PasswordServiceParams{
		TxManager:    f.store.TransactionManager(),
		IdentityRepo: f.store.IdentityRepository(),
		Hasher:       hasher,
		SecureTokens: secureTokens,
		Publisher:    f.publisher,
		Clock:        clock,
		Config:       cfg,
		Logger:       logger,
	})
	f.profile = NewProfileService(ProfileServiceParams{
		TxManager:    f.store.TransactionManager(),
		IdentityRepo: f.store.IdentityRepository(),
		SecureTokens: secureTokens,
		Publisher:    f.publisher,
		Clock:        clock,
		Config:       cfg,
		Logger:       logger,
	})
	f.access = NewAccessService(AccessServiceParams{
		TokenService: tokens,
		Logger:       logger,
	})

	return f
}

func (f *fixture) register(t *testing.T, email string) *usecase.AuthOutput {
	t.Helper()

	out, err := f.session.Register(context.Background(), &usecase.RegisterInput{
		Email:     email,
		Password:  testPassword,
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.NoError(t, err)

	return out
}

func (f *fixture) login(email, password string) (*usecase.AuthOutput, error) {
	return f.session.Login(context.Background(), &usecase.LoginInput{Email: email, Password: password})
}

func (f *fixture) publishedEvents() []service.SecurityEventType {
	f.eventsMu.Lock()
	defer f.eventsMu.Unlock()

	return append([]service.SecurityEventType(nil), f.events...)
}

// interleavingHasher runs afterCheck once, right after the first password
// comparison, to commit a concurrent change in that window.
type interleavingHasher struct {
	service.PasswordHasher

	afterCheck func()
}

func (h *interleavingHasher) Check(password, hash string) bool {
	ok := h.PasswordHasher.Check(password, hash)
	if fn := h.afterCheck; fn != nil {
		h.afterCheck = nil
		fn()
	}

	return ok
}

// sessionWithHasher builds a session service over the fixture's store that
// compares passwords through hasher.
func (f *fixture) sessionWithHasher(hasher service.PasswordHasher) usecase.SessionUsecase {
	return NewSessionService(SessionServiceParams{
		TxManager:    f.store.TransactionManager(),
		IdentityRepo: f.store.IdentityRepository(),
		Hasher:       hasher,
		TokenService: f.tokens,
		SecureTokens: auth.NewSecureTokenGenerator(),
		Publisher:    f.publisher,
		Clock:        f.clock.Now,
		Config:       f.cfg,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

// resetPassword runs the full reset protocol for email.
func (f *fixture) resetPassword(t *testing.T, email, newPassword string) {
	t.Helper()

	ctx := context.Background()
	requested, err := f.password.RequestPasswordReset(ctx, &usecase.RequestPasswordResetInput{Email: email})
	require.NoError(t, err)
	require.NotEmpty(t, requested.ResetToken)
	require.NoError(t, f.password.ResetPassword(ctx, &usecase.ResetPasswordInput{
		Token:       requested.ResetToken,
		NewPassword: newPassword,
	}))
}
