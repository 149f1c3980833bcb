package auth

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an authenticated identity
type Identity interface {
	ID() string
	Username() string
	Email() string
	Authorities() []string
}

// Authenticator holds the authentication workflows
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (*LoginResult, error)
	VerifyMFA(ctx context.Context, identifier, code string) (string, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmResetToken(ctx context.Context, secret string) (Identity, error)
	CompletePasswordReset(ctx context.Context, secret, newPassword, confirmPassword string) error
	VerifyAccount(ctx context.Context, secret string) error
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetContextKey() string
	GetTokenExpiration() int
	GetTokenLookup() string
	GetAuthScheme() string
	GetIssuer() string
	GetAudience() []string
	GetPublicRoutes() []string
	GetRegistrationRoute() (path, method string)
	GetVerificationBaseURL() string
}

// IdentityProvider ensures we have a store to retrieve auth identities
type IdentityProvider interface {
	VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error)
	FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// mfaCapableIdentity is an optional interface identities implement to
// signal that a second-factor challenge is required after credentials.
type mfaCapableIdentity interface {
	UsingMFA() bool
}

func identityUsesMFA(identity Identity) bool {
	if identity == nil {
		return false
	}
	if mfa, ok := identity.(mfaCapableIdentity); ok {
		return mfa.UsingMFA()
	}
	return false
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
