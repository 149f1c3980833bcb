package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// TextCodeTokenMalformed tags tokens that fail parsing or signature checks.
	TextCodeTokenMalformed = "TOKEN_MALFORMED"
	// TextCodeTokenExpired tags tokens presented past their encoded expiry.
	TextCodeTokenExpired = "TOKEN_EXPIRED"
	// TextCodeTokenSubjectMismatch tags tokens whose subject differs from the expected one.
	TextCodeTokenSubjectMismatch = "TOKEN_SUBJECT_MISMATCH"

	// TextCodeVerificationNotFound tags verify attempts with no live record.
	TextCodeVerificationNotFound = "VERIFICATION_NOT_FOUND"
	// TextCodeVerificationExpired tags verify attempts against a lapsed record.
	TextCodeVerificationExpired = "VERIFICATION_EXPIRED"
	// TextCodeVerificationMismatch tags verify attempts with the wrong secret.
	TextCodeVerificationMismatch = "VERIFICATION_MISMATCH"
	// TextCodeCodeInvalid is the collapsed, enumeration-safe MFA failure.
	TextCodeCodeInvalid = "CODE_INVALID"

	// TextCodePasswordMismatch tags reset completions where the two passwords differ.
	TextCodePasswordMismatch = "PASSWORD_MISMATCH"
)

// ErrTokenMalformed is returned when a token cannot be parsed or verified
// against its signature.
var ErrTokenMalformed = goerrors.New("authentication token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token is presented past its expiry.
var ErrTokenExpired = goerrors.New("authentication token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenSubjectMismatch is returned when claims carry a subject other
// than the one the caller expected.
var ErrTokenSubjectMismatch = goerrors.New("token subject does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenSubjectMismatch).
	WithCode(goerrors.CodeUnauthorized)

// ErrVerificationNotFound is returned when no live verification record
// matches the lookup key. A consumed record yields the same error.
var ErrVerificationNotFound = goerrors.New("verification code not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeVerificationNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrVerificationExpired is returned when the record's TTL has elapsed.
// The record is purged as part of the failure.
var ErrVerificationExpired = goerrors.New("verification code has expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeVerificationExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrVerificationMismatch is returned when a live record exists but the
// supplied secret differs.
var ErrVerificationMismatch = goerrors.New("verification code does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeVerificationMismatch).
	WithCode(goerrors.CodeUnauthorized)

// ErrCodeInvalid collapses not-found and mismatch for MFA verification so
// callers cannot distinguish "no such user" from "wrong code".
var ErrCodeInvalid = goerrors.New("invalid verification code", goerrors.CategoryAuth).
	WithTextCode(TextCodeCodeInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrPasswordMismatch is returned when the new password and its
// confirmation disagree.
var ErrPasswordMismatch = goerrors.New("passwords do not match", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrIdentityDisabled is returned when the account is not enabled.
var ErrIdentityDisabled = goerrors.New("account is disabled", goerrors.CategoryAuth).
	WithTextCode("ACCOUNT_DISABLED").
	WithCode(goerrors.CodeForbidden)

// ErrIdentityLocked is returned when the account is locked.
var ErrIdentityLocked = goerrors.New("account is locked", goerrors.CategoryAuth).
	WithTextCode("ACCOUNT_LOCKED").
	WithCode(goerrors.CodeForbidden)

// ErrMismatchedHashAndPassword is the generic credential failure; it never
// leaks whether the identity exists.
var ErrMismatchedHashAndPassword = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS").
	WithCode(goerrors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned during the cool down window.
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryAuth).
	WithTextCode("TOO_MANY_ATTEMPTS").
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString rejects empty required inputs (passwords, subjects).
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// ErrUnableToMapClaims unable to get claims from token
var ErrUnableToMapClaims = goerrors.New("unable to map claims", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// IsTokenExpiredError will check for expired tokens, including legacy
// string-matched errors coming from the JWT library.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsVerificationNotFound reports whether err is the ledger's not-found failure.
func IsVerificationNotFound(err error) bool {
	return hasTextCode(err, TextCodeVerificationNotFound)
}

// IsVerificationExpired reports whether err is the ledger's expired failure.
func IsVerificationExpired(err error) bool {
	return hasTextCode(err, TextCodeVerificationExpired)
}

// IsVerificationMismatch reports whether err is the ledger's mismatch failure.
func IsVerificationMismatch(err error) bool {
	return hasTextCode(err, TextCodeVerificationMismatch)
}
