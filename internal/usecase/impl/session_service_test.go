package impl

import (
	"context"
	"testing"
	"time"

	"gatekeeper/config"
	"gatekeeper/internal/domain/entity"
	domainerrors "gatekeeper/internal/domain/errors"
	"gatekeeper/internal/domain/service"
	"gatekeeper/internal/infra/auth"
	"gatekeeper/internal/usecase"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionService_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.register(t, "  Jane@Example.COM ")

	require.NotNil(t, out.Identity)
	assert.Equal(t, testEmail, out.Identity.Email)
	assert.Equal(t, entity.RoleUser, out.Identity.Role)
	assert.True(t, out.Identity.Active)
	assert.False(t, out.Identity.EmailVerified)
	assert.NotEmpty(t, out.VerificationToken)
	require.NotNil(t, out.Tokens)
	assert.NotEmpty(t, out.Tokens.AccessToken)
	assert.NotEmpty(t, out.Tokens.RefreshToken)

	stored, err := f.store.IdentityRepository().FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	assert.NotEqual(t, testPassword, stored.PasswordHash)
	assert.NotContains(t, stored.PasswordHash, testPassword)
	assert.NotEqual(t, out.VerificationToken, stored.EmailVerificationDigest)
	require.Len(t, stored.RefreshTokens, 1)
	assert.Equal(t, f.tokens.HashToken(out.Tokens.RefreshToken), stored.RefreshTokens[0].TokenDigest)
	assert.NotEqual(t, out.Tokens.RefreshToken, stored.RefreshTokens[0].TokenDigest)

	loggedIn, err := f.login(testEmail, testPassword)
	require.NoError(t, err)
	assert.Equal(t, out.Identity.ID, loggedIn.Identity.ID)

	assert.Contains(t, f.publishedEvents(), service.EventRegistered)
}

func TestSessionService_Register_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.register(t, testEmail)
	before, err := f.store.IdentityRepository().FindByID(ctx, first.Identity.ID)
	require.NoError(t, err)

	_, err = f.session.Register(ctx, &usecase.RegisterInput{
		Email:     "JANE@example.com",
		Password:  "AnotherPass456!",
		FirstName: "Other",
	})
	require.ErrorIs(t, err, domainerrors.ErrDuplicateEmail)

	after, err := f.store.IdentityRepository().FindByID(ctx, first.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, before.FirstName, after.FirstName)
	assert.Equal(t, 1, f.store.Len())
}

func TestSessionService_Register_Validation(t *testing.T) {
	tests := []struct {
		name    string
		input   *usecase.RegisterInput
		wantErr error
	}{
		{
			name:    "weak password",
			input:   &usecase.RegisterInput{Email: testEmail, Password: "short"},
			wantErr: domainerrors.ErrPasswordStrength,
		},
		{
			name:    "password without digits",
			input:   &usecase.RegisterInput{Email: testEmail, Password: "NoDigitsHere"},
			wantErr: domainerrors.ErrPasswordStrength,
		},
		{
			name:    "unknown role",
			input:   &usecase.RegisterInput{Email: testEmail, Password: testPassword, Role: entity.Role("root")},
			wantErr: domainerrors.ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.session.Register(context.Background(), tt.input)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.store.Len())
		})
	}
}

func TestSessionService_Login_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.register(t, testEmail)

	_, unknownErr := f.login("nobody@example.com", testPassword)
	_, wrongErr := f.login(testEmail, "WrongPass999!")

	require.ErrorIs(t, unknownErr, domainerrors.ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, domainerrors.ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestSessionService_Login_LocksAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	for i := 0; i < 5; i++ {
		_, err := f.login(testEmail, "WrongPass999!")
		require.ErrorIs(t, err, domainerrors.ErrInvalidCredentials, "attempt %d", i+1)
	}

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.LoginAttempts)
	require.NotNil(t, stored.LockUntil)
	lockUntil := *stored.LockUntil
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), lockUntil)

	// The correct password is not even checked while locked.
	_, err = f.login(testEmail, testPassword)
	require.ErrorIs(t, err, domainerrors.ErrAccountLocked)

	// Attempts on a locked account are not counted and do not extend the lock.
	f.clock.Advance(10 * time.Minute)
	_, err = f.login(testEmail, "WrongPass999!")
	require.ErrorIs(t, err, domainerrors.ErrAccountLocked)

	stored, err = f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.LoginAttempts)
	require.NotNil(t, stored.LockUntil)
	assert.Equal(t, lockUntil, *stored.LockUntil)

	events := f.publishedEvents()
	assert.Contains(t, events, service.EventLoginFailed)
	assert.Contains(t, events, service.EventAccountLocked)
}

func TestSessionService_Login_LockExpiresLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	for i := 0; i < 5; i++ {
		_, _ = f.login(testEmail, "WrongPass999!")
	}

	f.clock.Advance(30*time.Minute + time.Second)

	out, err := f.login(testEmail, testPassword)
	require.NoError(t, err)
	require.NotNil(t, out.Tokens)

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.LoginAttempts)
	assert.Nil(t, stored.LockUntil)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, f.clock.Now(), *stored.LastLoginAt)
}

func TestSessionService_Login_FailureAfterElapsedLockRestartsCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	for i := 0; i < 5; i++ {
		_, _ = f.login(testEmail, "WrongPass999!")
	}
	f.clock.Advance(31 * time.Minute)

	_, err := f.login(testEmail, "WrongPass999!")
	require.ErrorIs(t, err, domainerrors.ErrInvalidCredentials)

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LoginAttempts)
	assert.Nil(t, stored.LockUntil)
}

func TestSessionService_Login_SuccessResetsFailureCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	for i := 0; i < 4; i++ {
		_, _ = f.login(testEmail, "WrongPass999!")
	}
	_, err := f.login(testEmail, testPassword)
	require.NoError(t, err)

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.LoginAttempts)

	// Four more failures do not lock because the counter restarted.
	for i := 0; i < 4; i++ {
		_, _ = f.login(testEmail, "WrongPass999!")
	}
	_, err = f.login(testEmail, testPassword)
	require.NoError(t, err)
}

func TestSessionService_Login_Deactivated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	stored.Active = false
	require.NoError(t, f.store.IdentityRepository().Update(ctx, stored))

	_, err = f.login(testEmail, testPassword)
	require.ErrorIs(t, err, domainerrors.ErrAccountDeactivated)

	_, err = f.login(testEmail, "WrongPass999!")
	require.ErrorIs(t, err, domainerrors.ErrInvalidCredentials)
}

func TestSessionService_RefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	f.clock.Advance(time.Minute)

	out, err := f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: registered.Tokens.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, out.AccessToken)
	assert.Empty(t, out.RefreshToken, "refresh returns an access token only")
	assert.Nil(t, out.RefreshTokenExpiresAt)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), out.AccessTokenExpiresAt)

	claims, err := f.tokens.VerifyAccess(out.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.Identity.ID.String(), claims.Subject)

	// The refresh token stays usable without rotation.
	_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: registered.Tokens.RefreshToken})
	require.NoError(t, err)
}

func TestSessionService_RefreshToken_RejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, testEmail)

	tests := []struct {
		name  string
		token string
	}{
		{name: "access token", token: registered.Tokens.AccessToken},
		{name: "garbage", token: "not-a-jwt"},
		{name: "empty", token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.session.RefreshToken(context.Background(), &usecase.RefreshTokenInput{RefreshToken: tt.token})
			require.ErrorIs(t, err, domainerrors.ErrInvalidToken)
		})
	}
}

func TestSessionService_RefreshToken_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t, testEmail)

	f.clock.Advance(7*24*time.Hour + time.Second)

	_, err := f.session.RefreshToken(context.Background(), &usecase.RefreshTokenInput{RefreshToken: registered.Tokens.RefreshToken})
	require.ErrorIs(t, err, domainerrors.ErrInvalidToken)
}

func TestSessionService_RefreshToken_RevokedAfterLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)
	identity := entity.IdentityContext{UserID: registered.Identity.ID, Email: testEmail, Role: entity.RoleUser}

	other, err := f.login(testEmail, testPassword)
	require.NoError(t, err)

	require.NoError(t, f.session.Logout(ctx, identity, &usecase.LogoutInput{RefreshToken: registered.Tokens.RefreshToken}))

	_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: registered.Tokens.RefreshToken})
	require.ErrorIs(t, err, domainerrors.ErrTokenRevoked)
	assert.Contains(t, f.publishedEvents(), service.EventRefreshTokenRejected)
	assert.NotContains(t, f.publishedEvents(), service.EventRefreshTokenReused)

	// The other device is unaffected by a single-device logout.
	_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: other.Tokens.RefreshToken})
	require.NoError(t, err)

	// Logging out the same device again succeeds.
	require.NoError(t, f.session.Logout(ctx, identity, &usecase.LogoutInput{RefreshToken: registered.Tokens.RefreshToken}))
}

func TestSessionService_Logout_AllDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)
	identity := entity.IdentityContext{UserID: registered.Identity.ID, Email: testEmail, Role: entity.RoleUser}

	second, err := f.login(testEmail, testPassword)
	require.NoError(t, err)

	require.NoError(t, f.session.Logout(ctx, identity, &usecase.LogoutInput{}))

	for _, token := range []string{registered.Tokens.RefreshToken, second.Tokens.RefreshToken} {
		_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: token})
		require.ErrorIs(t, err, domainerrors.ErrTokenRevoked)
	}

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.RefreshTokens)

	require.NoError(t, f.session.Logout(ctx, identity, nil))
}

func TestSessionService_Logout_UnknownIdentity(t *testing.T) {
	f := newFixture(t)

	err := f.session.Logout(context.Background(), entity.IdentityContext{UserID: uuid.New()}, nil)
	require.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestSessionService_RefreshTokenListIsCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	refreshTokens := []string{registered.Tokens.RefreshToken}
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Second)
		out, err := f.login(testEmail, testPassword)
		require.NoError(t, err)
		refreshTokens = append(refreshTokens, out.Tokens.RefreshToken)
	}

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	require.Len(t, stored.RefreshTokens, 5)
	for i, entry := range stored.RefreshTokens {
		assert.Equal(t, f.tokens.HashToken(refreshTokens[i+1]), entry.TokenDigest)
	}

	_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: refreshTokens[0]})
	require.ErrorIs(t, err, domainerrors.ErrTokenRevoked)

	for _, token := range refreshTokens[1:] {
		_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: token})
		require.NoError(t, err)
	}
}

func TestSessionService_RefreshToken_Rotation(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Auth.RotateRefreshTokens = true
	})
	ctx := context.Background()
	registered := f.register(t, testEmail)

	f.clock.Advance(time.Second)

	out, err := f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: registered.Tokens.RefreshToken})
	require.NoError(t, err)
	require.NotEmpty(t, out.RefreshToken)
	require.NotNil(t, out.RefreshTokenExpiresAt)
	assert.NotEqual(t, registered.Tokens.RefreshToken, out.RefreshToken)

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	require.Len(t, stored.RefreshTokens, 1)
	assert.Equal(t, f.tokens.HashToken(registered.Tokens.RefreshToken), stored.RefreshTokens[0].RotatedFrom)

	f.clock.Advance(time.Second)

	next, err := f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: out.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, out.RefreshToken, next.RefreshToken)
	assert.NotContains(t, f.publishedEvents(), service.EventRefreshTokenReused)
}

func TestSessionService_RefreshToken_RotatedTokenReuseRevokesAllSessions(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Auth.RotateRefreshTokens = true
	})
	ctx := context.Background()
	registered := f.register(t, testEmail)

	f.clock.Advance(time.Second)
	otherDevice, err := f.login(testEmail, testPassword)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	rotated, err := f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: registered.Tokens.RefreshToken})
	require.NoError(t, err)

	// The replaced token shows up again.
	_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: registered.Tokens.RefreshToken})
	require.ErrorIs(t, err, domainerrors.ErrTokenRevoked)
	assert.Contains(t, f.publishedEvents(), service.EventRefreshTokenReused)

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.RefreshTokens)

	for _, token := range []string{rotated.RefreshToken, otherDevice.Tokens.RefreshToken} {
		_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: token})
		require.ErrorIs(t, err, domainerrors.ErrTokenRevoked)
	}
}

func TestSessionService_RefreshToken_RotationLoggedOutTokenIsNotReuse(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Auth.RotateRefreshTokens = true
	})
	ctx := context.Background()
	registered := f.register(t, testEmail)
	identity := entity.IdentityContext{UserID: registered.Identity.ID, Email: testEmail, Role: entity.RoleUser}

	f.clock.Advance(time.Second)
	otherDevice, err := f.login(testEmail, testPassword)
	require.NoError(t, err)

	require.NoError(t, f.session.Logout(ctx, identity, &usecase.LogoutInput{RefreshToken: registered.Tokens.RefreshToken}))

	_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: registered.Tokens.RefreshToken})
	require.ErrorIs(t, err, domainerrors.ErrTokenRevoked)
	assert.Contains(t, f.publishedEvents(), service.EventRefreshTokenRejected)
	assert.NotContains(t, f.publishedEvents(), service.EventRefreshTokenReused)

	_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: otherDevice.Tokens.RefreshToken})
	require.NoError(t, err)
}

func TestSessionService_Login_PasswordResetAfterCheckWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	const newPassword = "EvenStronger456!"
	hasher := &interleavingHasher{PasswordHasher: auth.NewBcryptHasher(f.cfg)}
	hasher.afterCheck = func() { f.resetPassword(t, testEmail, newPassword) }

	_, err := f.sessionWithHasher(hasher).Login(ctx, &usecase.LoginInput{Email: testEmail, Password: testPassword})
	require.ErrorIs(t, err, domainerrors.ErrInvalidCredentials)

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.RefreshTokens)
	assert.Zero(t, stored.LoginAttempts)

	_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: registered.Tokens.RefreshToken})
	require.ErrorIs(t, err, domainerrors.ErrTokenRevoked)

	_, err = f.login(testEmail, newPassword)
	require.NoError(t, err)
}

func TestSessionService_Login_FailureAgainstReplacedPasswordIsNotCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	const newPassword = "EvenStronger456!"
	hasher := &interleavingHasher{PasswordHasher: auth.NewBcryptHasher(f.cfg)}
	hasher.afterCheck = func() { f.resetPassword(t, testEmail, newPassword) }

	_, err := f.sessionWithHasher(hasher).Login(ctx, &usecase.LoginInput{Email: testEmail, Password: "WrongPass999!"})
	require.ErrorIs(t, err, domainerrors.ErrInvalidCredentials)

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginAttempts)
	assert.Nil(t, stored.LockUntil)
	assert.NotContains(t, f.publishedEvents(), service.EventLoginFailed)
}

func TestSessionService_RefreshToken_DeactivatedIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	stored.Active = false
	require.NoError(t, f.store.IdentityRepository().Update(ctx, stored))

	_, err = f.session.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: registered.Tokens.RefreshToken})
	require.ErrorIs(t, err, domainerrors.ErrAccountDeactivated)
}

func TestSessionService_VerifyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)

	require.ErrorIs(t, f.session.VerifyEmail(ctx, ""), domainerrors.ErrInvalidOrExpiredToken)
	require.ErrorIs(t, f.session.VerifyEmail(ctx, "unknown-token"), domainerrors.ErrInvalidOrExpiredToken)

	require.NoError(t, f.session.VerifyEmail(ctx, registered.VerificationToken))

	stored, err := f.store.IdentityRepository().FindByID(ctx, registered.Identity.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)
	assert.Empty(t, stored.EmailVerificationDigest)

	require.ErrorIs(t, f.session.VerifyEmail(ctx, registered.VerificationToken), domainerrors.ErrInvalidOrExpiredToken)
	assert.Contains(t, f.publishedEvents(), service.EventEmailVerified)
}

func TestSessionService_ListSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, testEmail)
	identity := entity.IdentityContext{UserID: registered.Identity.ID, Email: testEmail, Role: entity.RoleUser}

	f.clock.Advance(time.Hour)
	_, err := f.session.Login(ctx, &usecase.LoginInput{
		Email:    testEmail,
		Password: testPassword,
		Device:   entity.DeviceInfo{UserAgent: "curl/8.0", IPAddress: "203.0.113.7"},
	})
	require.NoError(t, err)

	sessions, err := f.session.ListSessions(ctx, identity)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].CreatedAt.Before(sessions[1].CreatedAt))
	assert.Equal(t, "curl/8.0", sessions[1].UserAgent)
	assert.Equal(t, "203.0.113.7", sessions[1].IPAddress)

	// The registration session expires first.
	f.clock.Advance(7*24*time.Hour - 30*time.Minute)
	sessions, err = f.session.ListSessions(ctx, identity)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
