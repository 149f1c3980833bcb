package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleUser is the default role assigned at registration
	RoleUser UserRole = "user"
	// RoleManager can act on resources owned by other users
	RoleManager UserRole = "manager"
	// RoleAdmin holds every authority
	RoleAdmin UserRole = "admin"
)

// User is the user model. The business profile is owned by the enclosing
// application; this core only reads the authentication attributes.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role           UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	FirstName      string     `bun:"first_name" json:"first_name,omitempty"`
	LastName       string     `bun:"last_name" json:"last_name,omitempty"`
	Username       string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone          string     `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"-"`
	Enabled        bool       `bun:"is_enabled" json:"is_enabled,omitempty"`
	Locked         bool       `bun:"is_locked" json:"is_locked,omitempty"`
	UsingMFA       bool       `bun:"is_using_mfa" json:"is_using_mfa,omitempty"`
	EmailValidated bool       `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// VerificationKind discriminates the verification-record families.
type VerificationKind string

const (
	// VerificationAccount activates a freshly registered account
	VerificationAccount VerificationKind = "ACCOUNT"
	// VerificationMFA is the second-factor login challenge
	VerificationMFA VerificationKind = "MFA"
	// VerificationPasswordReset authorizes a password change
	VerificationPasswordReset VerificationKind = "PASSWORD_RESET"
)

// TTL returns the lifetime records of this kind are issued with. Zero
// means the record never lapses on its own; it stays single-use.
func (k VerificationKind) TTL() time.Duration {
	switch k {
	case VerificationMFA:
		return 24 * time.Hour
	case VerificationPasswordReset:
		return 10 * time.Minute
	default:
		return 0
	}
}

// IsValid reports whether k is one of the known kinds.
func (k VerificationKind) IsValid() bool {
	switch k {
	case VerificationAccount, VerificationMFA, VerificationPasswordReset:
		return true
	default:
		return false
	}
}

// VerificationRecord is a single-use secret tied to an identity and a
// purpose. At most one record per (user, kind) pair exists at any time;
// consumption deletes the row.
type VerificationRecord struct {
	bun.BaseModel `bun:"table:verification_records,alias:vrf"`
	ID            uuid.UUID        `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID        `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Kind          VerificationKind `bun:"kind,notnull" json:"kind,omitempty"`
	Secret        string           `bun:"secret,notnull" json:"-"`
	ExpiresAt     *time.Time       `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	CreatedAt     *time.Time       `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Expired reports whether the record's TTL has elapsed at the given time.
func (r *VerificationRecord) Expired(now time.Time) bool {
	if r == nil || r.ExpiresAt == nil {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}
