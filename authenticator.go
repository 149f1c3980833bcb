package auth

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// LoginResult is the outcome of a credential check. When the identity has
// MFA enabled no token is issued; the caller must complete VerifyMFA with
// the challenge code that was dispatched out of band.
type LoginResult struct {
	Token       string
	MFARequired bool
	Identity    Identity
}

// Auther orchestrates the authentication flows on top of the identity
// provider, the verification ledger, and the token service.
type Auther struct {
	provider        IdentityProvider
	repo            RepositoryManager
	ledger          VerificationLedger
	signingKey      []byte
	tokenExpiration int
	issuer          string
	audience        []string
	baseURL         string
	logger          Logger
	tokenService    TokenService
	tokenValidator  TokenValidator
	claimsDecorator ClaimsDecorator
	notifier        Notifier
	activitySink    ActivitySink
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, repo RepositoryManager, opts Config) *Auther {
	tokenService := NewTokenService(
		[]byte(opts.GetSigningKey()),
		opts.GetTokenExpiration(),
		opts.GetIssuer(),
		opts.GetAudience(),
		defLogger{},
	)

	return &Auther{
		provider:        provider,
		repo:            repo,
		ledger:          NewVerificationLedger(repo),
		signingKey:      []byte(opts.GetSigningKey()),
		tokenExpiration: opts.GetTokenExpiration(),
		audience:        opts.GetAudience(),
		issuer:          opts.GetIssuer(),
		baseURL:         strings.TrimRight(opts.GetVerificationBaseURL(), "/"),
		logger:          defLogger{},
		tokenService:    tokenService,
		notifier:        noopNotifier{},
		activitySink:    noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = logger
	s.tokenService = NewTokenService(
		s.signingKey,
		s.tokenExpiration,
		s.issuer,
		s.audience,
		logger,
	).WithDecorator(s.claimsDecorator)
	return s
}

// WithClaimsDecorator registers a hook that can add claim extensions before
// tokens are signed.
func (s *Auther) WithClaimsDecorator(decorator ClaimsDecorator) *Auther {
	s.claimsDecorator = decorator
	if ts, ok := s.tokenService.(*TokenServiceImpl); ok {
		ts.WithDecorator(decorator)
	}
	return s
}

// WithNotifier configures the delivery channel for verification secrets.
func (s *Auther) WithNotifier(notifier Notifier) *Auther {
	if notifier != nil {
		s.notifier = notifier
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithLedger overrides the verification ledger, mostly for tests.
func (s *Auther) WithLedger(ledger VerificationLedger) *Auther {
	if ledger != nil {
		s.ledger = ledger
	}
	return s
}

// WithTokenValidator sets a custom token validator for externally issued tokens.
func (s *Auther) WithTokenValidator(validator TokenValidator) *Auther {
	s.tokenValidator = validator
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Ledger returns the verification ledger used by this Authenticator.
func (s *Auther) Ledger() VerificationLedger {
	return s.ledger
}

// Login verifies credentials. Identities with MFA enabled get a challenge
// code dispatched instead of a token; everyone else gets a signed JWT.
func (s *Auther) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identity, err := s.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		s.logger.Error("Login verify identity error", "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return nil, err
	}

	if identity == nil || reflect.ValueOf(identity).IsZero() {
		s.logger.Error("Login identity is nil or zero value")
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      ErrIdentityNotFound.Error(),
		})
		return nil, ErrIdentityNotFound
	}

	if identityUsesMFA(identity) {
		if err := s.issueMFAChallenge(ctx, identity); err != nil {
			return nil, err
		}

		s.emitAuthEvent(ctx, ActivityEventMFAChallenge, s.actorFromIdentity(identity), identity.ID(), map[string]any{
			"identifier": identifier,
		})

		return &LoginResult{MFARequired: true, Identity: identity}, nil
	}

	token, err := s.tokenService.GenerateWithContext(ctx, identity)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromIdentity(identity), identity.ID(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, s.actorFromIdentity(identity), identity.ID(), map[string]any{
		"identifier": identifier,
	})

	return &LoginResult{Token: token, Identity: identity}, nil
}

// VerifyMFA consumes the challenge code issued at login and returns a
// signed token. Missing identities, missing records, and wrong codes all
// collapse into ErrCodeInvalid so the endpoint leaks nothing.
func (s *Auther) VerifyMFA(ctx context.Context, identifier, code string) (string, error) {
	if code == "" {
		return "", ErrCodeInvalid
	}

	identity, err := s.provider.FindIdentityByIdentifier(ctx, identifier)
	if err != nil {
		s.logger.Warn("VerifyMFA identity lookup failed", "error", err)
		s.emitAuthEvent(ctx, ActivityEventMFAFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
		})
		return "", ErrCodeInvalid
	}

	userID, err := uuid.Parse(identity.ID())
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "identity ID is not a valid UUID")
	}

	if _, err := s.ledger.Verify(ctx, userID, VerificationMFA, code); err != nil {
		s.emitAuthEvent(ctx, ActivityEventMFAFailure, s.actorFromIdentity(identity), identity.ID(), map[string]any{
			"identifier": identifier,
		})

		if IsVerificationExpired(err) {
			return "", ErrVerificationExpired
		}
		if IsVerificationNotFound(err) || IsVerificationMismatch(err) {
			return "", ErrCodeInvalid
		}
		return "", err
	}

	token, err := s.tokenService.GenerateWithContext(ctx, identity)
	if err != nil {
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventMFASuccess, s.actorFromIdentity(identity), identity.ID(), map[string]any{
		"identifier": identifier,
	})

	return token, nil
}

// RequestPasswordReset issues a reset token and dispatches it to the
// account's email. Unknown emails return success so the endpoint cannot be
// used to enumerate accounts.
func (s *Auther) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return ErrNoEmptyString
	}

	user, err := s.repo.Users().GetByIdentifier(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.logger.Warn("password reset requested for unknown email")
			return nil
		}
		return errors.Wrap(err, errors.CategoryInternal, "failed to look up user for password reset")
	}

	record, err := s.ledger.Issue(ctx, user.ID, VerificationPasswordReset)
	if err != nil {
		return err
	}

	s.notify(ctx, Notification{
		Kind:      NotificationPasswordReset,
		Recipient: user.Email,
		Subject:   "Reset your password",
		Secret:    record.Secret,
		URL:       s.verificationURL("/users/reset-password/confirm/", record.Secret),
	})

	s.emitAuthEvent(ctx, ActivityEventPasswordResetRequest, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), nil)

	return nil
}

// ConfirmResetToken checks a reset token without consuming it, so a reset
// form can be rendered before the user commits to a new password.
func (s *Auther) ConfirmResetToken(ctx context.Context, secret string) (Identity, error) {
	record, err := s.ledger.Peek(ctx, VerificationPasswordReset, secret)
	if err != nil {
		return nil, err
	}

	identity, err := s.provider.FindIdentityByIdentifier(ctx, record.UserID.String())
	if err != nil {
		return nil, err
	}

	return identity, nil
}

// CompletePasswordReset consumes the reset token and updates the password.
// The token is single use: a concurrent or repeated completion fails with
// ErrVerificationNotFound.
func (s *Auther) CompletePasswordReset(ctx context.Context, secret, newPassword, confirmPassword string) error {
	if newPassword == "" {
		return ErrNoEmptyString
	}

	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}

	record, err := s.ledger.VerifyBySecret(ctx, VerificationPasswordReset, secret)
	if err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to hash new password")
	}

	if err := s.repo.Users().ResetPassword(ctx, record.UserID, hash); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to update password")
	}

	if user, lookupErr := s.repo.Users().GetByIdentifier(ctx, record.UserID.String()); lookupErr == nil {
		s.notify(ctx, Notification{
			Kind:      NotificationPasswordChanged,
			Recipient: user.Email,
			Subject:   "Your password was changed",
		})
	} else {
		s.logger.Warn("password change notice skipped, user lookup failed", "error", lookupErr)
	}

	s.emitAuthEvent(ctx, ActivityEventPasswordResetSuccess, ActorRef{ID: record.UserID.String(), Type: "user"}, record.UserID.String(), nil)

	return nil
}

// VerifyAccount consumes an account verification token and enables the user.
func (s *Auther) VerifyAccount(ctx context.Context, secret string) error {
	record, err := s.ledger.VerifyBySecret(ctx, VerificationAccount, secret)
	if err != nil {
		return err
	}

	if _, err := s.repo.Users().MarkEmailVerified(ctx, record.UserID); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to mark email verified")
	}

	s.emitAuthEvent(ctx, ActivityEventAccountVerified, ActorRef{ID: record.UserID.String(), Type: "user"}, record.UserID.String(), nil)

	return nil
}

// IdentityFromToken validates a raw token and resolves the identity it names.
func (s *Auther) IdentityFromToken(ctx context.Context, raw string) (Identity, error) {
	validator := s.tokenValidator
	if validator == nil {
		validator = s.tokenService
	}

	claims, err := validator.Validate(raw)
	if err != nil {
		s.logger.Error("IdentityFromToken validation failed", "error", err)
		return nil, err
	}

	return s.provider.FindIdentityByIdentifier(ctx, claims.Subject())
}

func (s *Auther) issueMFAChallenge(ctx context.Context, identity Identity) error {
	userID, err := uuid.Parse(identity.ID())
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "identity ID is not a valid UUID")
	}

	record, err := s.ledger.Issue(ctx, userID, VerificationMFA)
	if err != nil {
		return err
	}

	s.notify(ctx, Notification{
		Kind:      NotificationMFACode,
		Recipient: identity.Email(),
		Subject:   "Your verification code",
		Secret:    record.Secret,
	})

	return nil
}

func (s *Auther) notify(ctx context.Context, msg Notification) {
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Warn("notification delivery error", "kind", msg.Kind, "error", err)
	}
}

func (s *Auther) verificationURL(path, secret string) string {
	if s.baseURL == "" {
		return secret
	}
	return s.baseURL + path + secret
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func (s *Auther) actorFromIdentity(identity Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   identity.ID(),
		Type: "user",
	}
}
