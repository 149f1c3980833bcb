package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	auth "github.com/primelogic/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, repo auth.RepositoryManager, mutate ...func(*auth.User)) *auth.User {
	t.Helper()

	user := &auth.User{
		Username: "user-" + uuid.NewString()[:8],
		Email:    uuid.NewString()[:8] + "@example.com",
		Role:     auth.RoleUser,
		Enabled:  true,
	}

	for _, m := range mutate {
		m(user)
	}

	created, err := repo.Users().Register(context.Background(), user)
	require.NoError(t, err)
	return created
}

func TestLedgerIssueShapesSecretByKind(t *testing.T) {
	_, repo := setupTestDB(t)
	ledger := auth.NewVerificationLedger(repo, auth.WithLedgerLogger(testLogger{}))
	ctx := context.Background()
	user := seedUser(t, repo)

	t.Run("mfa code is short and typed", func(t *testing.T) {
		record, err := ledger.Issue(ctx, user.ID, auth.VerificationMFA)
		require.NoError(t, err)

		assert.Len(t, record.Secret, 8)
		for _, r := range record.Secret {
			assert.True(t, (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
				"unexpected character %q in mfa code", r)
		}

		require.NotNil(t, record.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), *record.ExpiresAt, time.Minute)
	})

	t.Run("reset token is a url token", func(t *testing.T) {
		record, err := ledger.Issue(ctx, user.ID, auth.VerificationPasswordReset)
		require.NoError(t, err)

		_, err = uuid.Parse(record.Secret)
		assert.NoError(t, err)

		require.NotNil(t, record.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(10*time.Minute), *record.ExpiresAt, time.Minute)
	})

	t.Run("account token never lapses", func(t *testing.T) {
		record, err := ledger.Issue(ctx, user.ID, auth.VerificationAccount)
		require.NoError(t, err)
		assert.Nil(t, record.ExpiresAt)
	})
}

func TestLedgerIssueRetiresPreviousRecord(t *testing.T) {
	_, repo := setupTestDB(t)
	ledger := auth.NewVerificationLedger(repo)
	ctx := context.Background()
	user := seedUser(t, repo)

	first, err := ledger.Issue(ctx, user.ID, auth.VerificationMFA)
	require.NoError(t, err)

	second, err := ledger.Issue(ctx, user.ID, auth.VerificationMFA)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	// the retired secret no longer matches the single active record
	_, err = ledger.Verify(ctx, user.ID, auth.VerificationMFA, first.Secret)
	assert.True(t, auth.IsVerificationMismatch(err), "expected mismatch, got %v", err)

	_, err = ledger.Verify(ctx, user.ID, auth.VerificationMFA, second.Secret)
	assert.NoError(t, err)
}

func TestLedgerIssueIsScopedPerKind(t *testing.T) {
	_, repo := setupTestDB(t)
	ledger := auth.NewVerificationLedger(repo)
	ctx := context.Background()
	user := seedUser(t, repo)

	mfa, err := ledger.Issue(ctx, user.ID, auth.VerificationMFA)
	require.NoError(t, err)

	_, err = ledger.Issue(ctx, user.ID, auth.VerificationPasswordReset)
	require.NoError(t, err)

	// issuing a reset token must not retire the MFA challenge
	_, err = ledger.Verify(ctx, user.ID, auth.VerificationMFA, mfa.Secret)
	assert.NoError(t, err)
}

func TestLedgerVerifyConsumesExactlyOnce(t *testing.T) {
	_, repo := setupTestDB(t)
	ledger := auth.NewVerificationLedger(repo)
	ctx := context.Background()
	user := seedUser(t, repo)

	record, err := ledger.Issue(ctx, user.ID, auth.VerificationMFA)
	require.NoError(t, err)

	consumed, err := ledger.Verify(ctx, user.ID, auth.VerificationMFA, record.Secret)
	require.NoError(t, err)
	assert.Equal(t, user.ID, consumed.UserID)

	_, err = ledger.Verify(ctx, user.ID, auth.VerificationMFA, record.Secret)
	assert.True(t, auth.IsVerificationNotFound(err), "expected not found, got %v", err)
}

func TestLedgerVerifyWrongSecretKeepsRecord(t *testing.T) {
	_, repo := setupTestDB(t)
	ledger := auth.NewVerificationLedger(repo)
	ctx := context.Background()
	user := seedUser(t, repo)

	record, err := ledger.Issue(ctx, user.ID, auth.VerificationMFA)
	require.NoError(t, err)

	_, err = ledger.Verify(ctx, user.ID, auth.VerificationMFA, "WRONGCOD")
	assert.True(t, auth.IsVerificationMismatch(err))

	// a failed guess does not burn the active record
	_, err = ledger.Verify(ctx, user.ID, auth.VerificationMFA, record.Secret)
	assert.NoError(t, err)
}

func TestLedgerVerifyPurgesExpiredRecords(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	user := seedUser(t, repo)

	ledger := auth.NewVerificationLedger(repo)
	record, err := ledger.Issue(ctx, user.ID, auth.VerificationPasswordReset)
	require.NoError(t, err)

	// same store, but observed from a clock past the record's TTL
	lateLedger := auth.NewVerificationLedger(repo, auth.WithLedgerClock(func() time.Time {
		return time.Now().Add(time.Hour)
	}))

	_, err = lateLedger.Verify(ctx, user.ID, auth.VerificationPasswordReset, record.Secret)
	assert.True(t, auth.IsVerificationExpired(err), "expected expired, got %v", err)

	// the expired row was deleted, not left behind
	_, err = ledger.Verify(ctx, user.ID, auth.VerificationPasswordReset, record.Secret)
	assert.True(t, auth.IsVerificationNotFound(err), "expected not found, got %v", err)
}

func TestLedgerVerifyBySecretPurgesExpiredRecords(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	user := seedUser(t, repo)

	ledger := auth.NewVerificationLedger(repo)
	record, err := ledger.Issue(ctx, user.ID, auth.VerificationPasswordReset)
	require.NoError(t, err)

	lateLedger := auth.NewVerificationLedger(repo, auth.WithLedgerClock(func() time.Time {
		return time.Now().Add(time.Hour)
	}))

	_, err = lateLedger.VerifyBySecret(ctx, auth.VerificationPasswordReset, record.Secret)
	assert.True(t, auth.IsVerificationExpired(err), "expected expired, got %v", err)

	// the expired row was deleted, not left behind
	_, err = ledger.VerifyBySecret(ctx, auth.VerificationPasswordReset, record.Secret)
	assert.True(t, auth.IsVerificationNotFound(err), "expected not found, got %v", err)
}

func TestLedgerVerifyBySecret(t *testing.T) {
	_, repo := setupTestDB(t)
	ledger := auth.NewVerificationLedger(repo)
	ctx := context.Background()
	user := seedUser(t, repo)

	record, err := ledger.Issue(ctx, user.ID, auth.VerificationAccount)
	require.NoError(t, err)

	t.Run("unknown secret", func(t *testing.T) {
		_, err := ledger.VerifyBySecret(ctx, auth.VerificationAccount, uuid.NewString())
		assert.True(t, auth.IsVerificationNotFound(err))
	})

	t.Run("kind is part of the address", func(t *testing.T) {
		_, err := ledger.VerifyBySecret(ctx, auth.VerificationPasswordReset, record.Secret)
		assert.True(t, auth.IsVerificationNotFound(err))
	})

	t.Run("consumes on success", func(t *testing.T) {
		consumed, err := ledger.VerifyBySecret(ctx, auth.VerificationAccount, record.Secret)
		require.NoError(t, err)
		assert.Equal(t, user.ID, consumed.UserID)

		_, err = ledger.VerifyBySecret(ctx, auth.VerificationAccount, record.Secret)
		assert.True(t, auth.IsVerificationNotFound(err))
	})
}

func TestLedgerPeekDoesNotConsume(t *testing.T) {
	_, repo := setupTestDB(t)
	ledger := auth.NewVerificationLedger(repo)
	ctx := context.Background()
	user := seedUser(t, repo)

	record, err := ledger.Issue(ctx, user.ID, auth.VerificationPasswordReset)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		peeked, err := ledger.Peek(ctx, auth.VerificationPasswordReset, record.Secret)
		require.NoError(t, err)
		assert.Equal(t, user.ID, peeked.UserID)
	}

	// still consumable after peeking
	_, err = ledger.VerifyBySecret(ctx, auth.VerificationPasswordReset, record.Secret)
	assert.NoError(t, err)
}

func TestLedgerPeekPurgesExpired(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	user := seedUser(t, repo)

	ledger := auth.NewVerificationLedger(repo)
	record, err := ledger.Issue(ctx, user.ID, auth.VerificationPasswordReset)
	require.NoError(t, err)

	lateLedger := auth.NewVerificationLedger(repo, auth.WithLedgerClock(func() time.Time {
		return time.Now().Add(time.Hour)
	}))

	_, err = lateLedger.Peek(ctx, auth.VerificationPasswordReset, record.Secret)
	assert.True(t, auth.IsVerificationExpired(err))

	_, err = ledger.Peek(ctx, auth.VerificationPasswordReset, record.Secret)
	assert.True(t, auth.IsVerificationNotFound(err))
}

func TestLedgerRejectsEmptyInput(t *testing.T) {
	_, repo := setupTestDB(t)
	ledger := auth.NewVerificationLedger(repo)
	ctx := context.Background()

	_, err := ledger.Issue(ctx, uuid.Nil, auth.VerificationMFA)
	assert.Error(t, err)

	_, err = ledger.Verify(ctx, uuid.New(), auth.VerificationMFA, "")
	assert.Error(t, err)

	_, err = ledger.VerifyBySecret(ctx, auth.VerificationMFA, "")
	assert.Error(t, err)
}
