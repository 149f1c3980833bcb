package auth_test

import (
	"context"
	"sync"
	"testing"

	auth "github.com/primelogic/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []auth.Notification
}

func (c *captureNotifier) Notify(_ context.Context, msg auth.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureNotifier) last() (auth.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return auth.Notification{}, false
	}
	return c.sent[len(c.sent)-1], true
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type userTrackerAdapter struct {
	users auth.Users
}

func (a userTrackerAdapter) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	return a.users.GetByIdentifier(ctx, identifier)
}

func (a userTrackerAdapter) TrackAttemptedLogin(ctx context.Context, user *auth.User) error {
	return a.users.TrackAttemptedLogin(ctx, user)
}

func (a userTrackerAdapter) TrackSucccessfulLogin(ctx context.Context, user *auth.User) error {
	return a.users.TrackSucccessfulLogin(ctx, user)
}

func testAuthConfig() *auth.AuthConfig {
	return &auth.AuthConfig{
		SigningKey:          "test-signing-key",
		TokenExpiration:     1,
		Issuer:              "identity-test",
		VerificationBaseURL: "http://localhost:8572",
	}
}

func newTestAuther(t *testing.T, repo auth.RepositoryManager, notifier auth.Notifier) *auth.Auther {
	t.Helper()

	provider := auth.NewUserProvider(userTrackerAdapter{users: repo.Users()}).
		WithLogger(testLogger{})

	return auth.NewAuthenticator(provider, repo, testAuthConfig()).
		WithLogger(testLogger{}).
		WithNotifier(notifier)
}

const testPassword = "long-enough-password"

func seedCredentialedUser(t *testing.T, repo auth.RepositoryManager, mutate ...func(*auth.User)) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)

	return seedUser(t, repo, append([]func(*auth.User){func(u *auth.User) {
		u.PasswordHash = hash
	}}, mutate...)...)
}

func TestLoginIssuesTokenWithoutMFA(t *testing.T) {
	_, repo := setupTestDB(t)
	notifier := &captureNotifier{}
	auther := newTestAuther(t, repo, notifier)

	user := seedCredentialedUser(t, repo)

	result, err := auther.Login(context.Background(), user.Email, testPassword)
	require.NoError(t, err)

	assert.False(t, result.MFARequired)
	require.NotEmpty(t, result.Token)
	assert.Zero(t, notifier.count())

	claims, err := auther.TokenService().Validate(result.Token)
	require.NoError(t, err)
	assert.Equal(t, user.Email, claims.Subject())
	assert.Equal(t, user.ID.String(), claims.UserID())
	assert.True(t, claims.HasAuthority("READ:USER"))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, repo := setupTestDB(t)
	auther := newTestAuther(t, repo, &captureNotifier{})

	user := seedCredentialedUser(t, repo)

	t.Run("wrong password", func(t *testing.T) {
		_, err := auther.Login(context.Background(), user.Email, "not-the-password")
		assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)
	})

	t.Run("unknown identifier looks identical", func(t *testing.T) {
		_, err := auther.Login(context.Background(), "nobody@example.com", testPassword)
		assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)
	})
}

func TestLoginRejectsDisabledAndLockedAccounts(t *testing.T) {
	_, repo := setupTestDB(t)
	auther := newTestAuther(t, repo, &captureNotifier{})

	disabled := seedCredentialedUser(t, repo, func(u *auth.User) { u.Enabled = false })
	locked := seedCredentialedUser(t, repo, func(u *auth.User) { u.Locked = true })

	_, err := auther.Login(context.Background(), disabled.Email, testPassword)
	assert.ErrorIs(t, err, auth.ErrIdentityDisabled)

	_, err = auther.Login(context.Background(), locked.Email, testPassword)
	assert.ErrorIs(t, err, auth.ErrIdentityLocked)
}

func TestLoginWithMFADispatchesChallenge(t *testing.T) {
	_, repo := setupTestDB(t)
	notifier := &captureNotifier{}
	auther := newTestAuther(t, repo, notifier)
	ctx := context.Background()

	user := seedCredentialedUser(t, repo, func(u *auth.User) { u.UsingMFA = true })

	result, err := auther.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)

	assert.True(t, result.MFARequired)
	assert.Empty(t, result.Token)

	msg, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, auth.NotificationMFACode, msg.Kind)
	assert.Equal(t, user.Email, msg.Recipient)
	assert.Len(t, msg.Secret, 8)

	t.Run("wrong code", func(t *testing.T) {
		_, err := auther.VerifyMFA(ctx, user.Email, "WRONGCOD")
		assert.ErrorIs(t, err, auth.ErrCodeInvalid)
	})

	t.Run("unknown identifier collapses into the same error", func(t *testing.T) {
		_, err := auther.VerifyMFA(ctx, "nobody@example.com", msg.Secret)
		assert.ErrorIs(t, err, auth.ErrCodeInvalid)
	})

	t.Run("correct code mints a token once", func(t *testing.T) {
		token, err := auther.VerifyMFA(ctx, user.Email, msg.Secret)
		require.NoError(t, err)

		claims, err := auther.TokenService().Validate(token)
		require.NoError(t, err)
		assert.Equal(t, user.Email, claims.Subject())

		// a second presentation of the consumed code fails
		_, err = auther.VerifyMFA(ctx, user.Email, msg.Secret)
		assert.ErrorIs(t, err, auth.ErrCodeInvalid)
	})
}

func TestLoginWithMFAReplacesPendingChallenge(t *testing.T) {
	_, repo := setupTestDB(t)
	notifier := &captureNotifier{}
	auther := newTestAuther(t, repo, notifier)
	ctx := context.Background()

	user := seedCredentialedUser(t, repo, func(u *auth.User) { u.UsingMFA = true })

	_, err := auther.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)
	first, _ := notifier.last()

	_, err = auther.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)
	second, _ := notifier.last()

	require.NotEqual(t, first.Secret, second.Secret)

	_, err = auther.VerifyMFA(ctx, user.Email, first.Secret)
	assert.ErrorIs(t, err, auth.ErrCodeInvalid)

	_, err = auther.VerifyMFA(ctx, user.Email, second.Secret)
	assert.NoError(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	_, repo := setupTestDB(t)
	notifier := &captureNotifier{}
	auther := newTestAuther(t, repo, notifier)
	ctx := context.Background()

	user := seedCredentialedUser(t, repo)

	require.NoError(t, auther.RequestPasswordReset(ctx, user.Email))

	msg, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, auth.NotificationPasswordReset, msg.Kind)
	assert.Contains(t, msg.URL, msg.Secret)

	t.Run("confirm does not consume", func(t *testing.T) {
		identity, err := auther.ConfirmResetToken(ctx, msg.Secret)
		require.NoError(t, err)
		assert.Equal(t, user.Email, identity.Email())

		_, err = auther.ConfirmResetToken(ctx, msg.Secret)
		assert.NoError(t, err)
	})

	t.Run("mismatched confirmation", func(t *testing.T) {
		err := auther.CompletePasswordReset(ctx, msg.Secret, "new-password-value", "different-value")
		assert.ErrorIs(t, err, auth.ErrPasswordMismatch)
	})

	t.Run("complete rotates the credential", func(t *testing.T) {
		const newPassword = "brand-new-password"

		err := auther.CompletePasswordReset(ctx, msg.Secret, newPassword, newPassword)
		require.NoError(t, err)

		changed, ok := notifier.last()
		require.True(t, ok)
		assert.Equal(t, auth.NotificationPasswordChanged, changed.Kind)
		assert.Equal(t, user.Email, changed.Recipient)

		_, err = auther.Login(ctx, user.Email, testPassword)
		assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)

		result, err := auther.Login(ctx, user.Email, newPassword)
		require.NoError(t, err)
		assert.NotEmpty(t, result.Token)
	})

	t.Run("token is single use", func(t *testing.T) {
		err := auther.CompletePasswordReset(ctx, msg.Secret, "another-password-x", "another-password-x")
		assert.True(t, auth.IsVerificationNotFound(err), "expected not found, got %v", err)
	})
}

func TestRequestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	_, repo := setupTestDB(t)
	notifier := &captureNotifier{}
	auther := newTestAuther(t, repo, notifier)

	err := auther.RequestPasswordReset(context.Background(), "nobody@example.com")
	assert.NoError(t, err)
	assert.Zero(t, notifier.count())
}

func TestRegistrationAndAccountVerification(t *testing.T) {
	_, repo := setupTestDB(t)
	notifier := &captureNotifier{}
	auther := newTestAuther(t, repo, notifier)
	ctx := context.Background()

	handler := auth.NewRegisterUserHandler(repo, testAuthConfig()).
		WithNotifier(notifier).
		WithLogger(testLogger{})

	created, err := handler.Execute(ctx, auth.RegisterUserMessage{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Password:  testPassword,
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "ada@example.com", created.Email)
	assert.NotEmpty(t, created.ID)

	msg, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, auth.NotificationAccountVerification, msg.Kind)
	assert.Equal(t, "ada@example.com", msg.Recipient)
	assert.Contains(t, msg.URL, msg.Secret)

	// username falls back to the email local part
	fetched, err := repo.Users().GetByIdentifier(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.False(t, fetched.Enabled)

	t.Run("login blocked until verified", func(t *testing.T) {
		_, err := auther.Login(ctx, "ada@example.com", testPassword)
		assert.ErrorIs(t, err, auth.ErrIdentityDisabled)
	})

	t.Run("verification enables the account", func(t *testing.T) {
		require.NoError(t, auther.VerifyAccount(ctx, msg.Secret))

		result, err := auther.Login(ctx, "ada@example.com", testPassword)
		require.NoError(t, err)
		assert.NotEmpty(t, result.Token)
	})

	t.Run("verification link is single use", func(t *testing.T) {
		err := auther.VerifyAccount(ctx, msg.Secret)
		assert.True(t, auth.IsVerificationNotFound(err))
	})
}

func TestIdentityFromToken(t *testing.T) {
	_, repo := setupTestDB(t)
	auther := newTestAuther(t, repo, &captureNotifier{})
	ctx := context.Background()

	user := seedCredentialedUser(t, repo)

	result, err := auther.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)

	identity, err := auther.IdentityFromToken(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), identity.ID())
	assert.Equal(t, user.Email, identity.Email())

	_, err = auther.IdentityFromToken(ctx, "garbage")
	assert.Error(t, err)
}
