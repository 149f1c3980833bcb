package auth_test

import (
	"database/sql"
	"testing"

	auth "github.com/primelogic/go-identity"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const sqliteCreateUsers = `CREATE TABLE users (
	id TEXT NOT NULL PRIMARY KEY,
	user_role TEXT NOT NULL DEFAULT 'user',
	first_name TEXT,
	last_name TEXT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	phone_number TEXT,
	password_hash TEXT,
	is_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	is_locked BOOLEAN NOT NULL DEFAULT FALSE,
	is_using_mfa BOOLEAN NOT NULL DEFAULT FALSE,
	is_email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	login_attempts INTEGER NOT NULL DEFAULT 0,
	login_attempt_at TIMESTAMP,
	loggedin_at TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	deleted_at TIMESTAMP
);`

const sqliteCreateVerifications = `CREATE TABLE verification_records (
	id TEXT NOT NULL PRIMARY KEY,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	secret TEXT NOT NULL,
	expires_at TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

func setupTestDB(t *testing.T) (*bun.DB, auth.RepositoryManager) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec(sqliteCreateUsers)
	require.NoError(t, err)

	_, err = bunDB.Exec(sqliteCreateVerifications)
	require.NoError(t, err)

	t.Cleanup(func() {
		bunDB.Close()
	})

	return bunDB, auth.NewRepositoryManager(bunDB)
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}
