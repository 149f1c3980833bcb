package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenService signs, parses, and validates bearer tokens. Implementations
// are pure: no state beyond the signing key is consulted.
type TokenService interface {
	TokenValidator
	Generate(identity Identity) (string, error)
	GenerateWithContext(ctx context.Context, identity Identity) (string, error)
	Mint(subject string, authorities []string) (string, error)
	SignClaims(claims *JWTClaims) (string, error)
	AuthoritiesOf(tokenString string) ([]string, error)
}

// ValidateOption customizes a single Validate call.
type ValidateOption func(*validateOptions)

type validateOptions struct {
	expectedSubject string
}

// WithExpectedSubject makes Validate fail with ErrTokenSubjectMismatch when
// the claims carry a different subject.
func WithExpectedSubject(subject string) ValidateOption {
	return func(o *validateOptions) {
		o.expectedSubject = subject
	}
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey      []byte
	tokenExpiration int
	issuer          string
	audience        jwt.ClaimStrings
	logger          Logger
	decorator       ClaimsDecorator
}

// NewTokenService creates a new TokenService instance. tokenExpiration is
// the issued token TTL in hours.
func NewTokenService(signingKey []byte, tokenExpiration int, issuer string, audience jwt.ClaimStrings, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		signingKey:      signingKey,
		tokenExpiration: tokenExpiration,
		issuer:          issuer,
		audience:        audience,
		logger:          logger,
		decorator:       noopClaimsDecorator{},
	}
}

// WithDecorator registers a ClaimsDecorator run before every identity token
// is signed.
func (ts *TokenServiceImpl) WithDecorator(decorator ClaimsDecorator) *TokenServiceImpl {
	ts.decorator = normalizeClaimsDecorator(decorator)
	return ts
}

// Generate creates a JWT for the given identity carrying its authorities
func (ts *TokenServiceImpl) Generate(identity Identity) (string, error) {
	return ts.GenerateWithContext(context.Background(), identity)
}

// GenerateWithContext creates a JWT for the given identity, running the
// configured ClaimsDecorator before signing. The subject is the identity's
// email with the stable ID carried in the uid claim. Registered and identity
// claims are restored after decoration; only extensions survive.
func (ts *TokenServiceImpl) GenerateWithContext(ctx context.Context, identity Identity) (string, error) {
	if identity == nil {
		return "", errors.New("identity is required", errors.CategoryBadInput)
	}

	subject := identity.Email()
	if subject == "" {
		subject = identity.ID()
	}

	claims, err := ts.newClaims(subject, identity.Authorities())
	if err != nil {
		return "", err
	}
	claims.UID = identity.ID()

	registered := claims.RegisteredClaims
	uid := claims.UID
	grants := claims.Grants

	if err := ts.decorator.Decorate(ctx, identity, claims); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "claims decorator failed")
	}

	claims.RegisteredClaims = registered
	claims.UID = uid
	claims.Grants = grants

	return ts.SignClaims(claims)
}

// Mint creates a JWT for an arbitrary subject and authority set
func (ts *TokenServiceImpl) Mint(subject string, authorities []string) (string, error) {
	claims, err := ts.newClaims(subject, authorities)
	if err != nil {
		return "", err
	}
	return ts.SignClaims(claims)
}

func (ts *TokenServiceImpl) newClaims(subject string, authorities []string) (*JWTClaims, error) {
	if subject == "" {
		return nil, ErrNoEmptyString
	}

	now := time.Now()
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   subject,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ts.tokenExpiration) * time.Hour)),
		},
		UID:    subject,
		Grants: append([]string(nil), authorities...),
	}

	ensureTokenID(&claims.RegisteredClaims)

	return claims, nil
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims
func (ts *TokenServiceImpl) Validate(tokenString string, opts ...ValidateOption) (AuthClaims, error) {
	options := &validateOptions{}
	for _, opt := range opts {
		opt(options)
	}

	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService validate could not decode or validate claims")
		return nil, ErrUnableToMapClaims
	}

	if options.expectedSubject != "" && claims.Subject() != options.expectedSubject {
		return nil, ErrTokenSubjectMismatch
	}

	return claims, nil
}

// AuthoritiesOf derives the authority set from a token. The token is fully
// validated first; authorities are never read from unverified claims.
func (ts *TokenServiceImpl) AuthoritiesOf(tokenString string) ([]string, error) {
	claims, err := ts.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims.Authorities(), nil
}
