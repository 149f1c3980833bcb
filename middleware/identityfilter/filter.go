package identityfilter

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup       = "header:" + router.HeaderAuthorization
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
)

// TokenValidator interface for validating tokens without import cycles.
// This mirrors the TokenService.Validate method from the auth package.
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// AuthClaims interface for structured claims without import cycles.
// This mirrors the AuthClaims interface from the auth package.
type AuthClaims interface {
	Subject() string
	UserID() string
	Authorities() []string
	HasAuthority(authority string) bool
}

// Config configures the identity filter.
//
// The filter is fail-open: it resolves an identity when a valid token is
// present and otherwise lets the request continue anonymously. Rejection is
// the job of downstream guards like RequireAuthority.
type Config struct {
	// Filter skips the middleware entirely when it returns true.
	Filter func(router.Context) bool
	// TokenValidator is required for token validation
	TokenValidator TokenValidator
	// ContextKey is the router Locals key claims are stored under.
	ContextKey string
	// TokenLookup is a comma separated list of `source:name` pairs, e.g.
	// "header:Authorization,cookie:jwt,query:auth_token".
	TokenLookup string
	// AuthScheme is the expected header scheme prefix, default "Bearer".
	AuthScheme string
	// PublicRoutes are path prefixes that never go through token resolution.
	PublicRoutes []string
	// RegistrationPath and RegistrationMethod identify the open signup
	// endpoint. Only that exact pair bypasses resolution; a GET on the same
	// path still goes through the filter.
	RegistrationPath   string
	RegistrationMethod string

	// ContextEnricher is an optional function to propagate claims to the
	// standard Go context. Called after successful token validation.
	ContextEnricher func(c context.Context, claims AuthClaims) context.Context

	Logger Logger
}

// Logger mirrors the auth package logger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// New returns the identity resolution middleware.
//
// Every request passes through. Preflight requests, public routes, and the
// registration endpoint skip token handling; all other requests get their
// bearer token validated and, on success, the claims attached under
// ContextKey. Invalid or absent tokens leave the request anonymous.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			if cfg.shouldBypass(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil || raw == "" {
				return ctx.Next()
			}

			claims, err := cfg.TokenValidator.Validate(raw)
			if err != nil {
				cfg.Logger.Debug("identity filter token rejected", "error", err)
				return ctx.Next()
			}

			ctx.Locals(cfg.ContextKey, claims)

			if cfg.ContextEnricher != nil {
				stdCtx := ctx.Context()
				ctx.SetContext(cfg.ContextEnricher(stdCtx, claims))
			}

			return ctx.Next()
		}
	}
}

// RequireAuthenticated is the fail-closed counterpart: it rejects requests
// the filter left anonymous.
func RequireAuthenticated(contextKey string) router.MiddlewareFunc {
	if contextKey == "" {
		contextKey = "user"
	}
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if _, ok := ClaimsFromContext(ctx, contextKey); !ok {
				return ctx.Status(router.StatusUnauthorized).SendString("authentication required")
			}
			return hf(ctx)
		}
	}
}

// RequireAuthority rejects requests whose resolved identity lacks the
// given authority. Anonymous requests are rejected as unauthorized.
func RequireAuthority(contextKey, authority string) router.MiddlewareFunc {
	if contextKey == "" {
		contextKey = "user"
	}
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			claims, ok := ClaimsFromContext(ctx, contextKey)
			if !ok {
				return ctx.Status(router.StatusUnauthorized).SendString("authentication required")
			}
			if !claims.HasAuthority(authority) {
				return ctx.Status(router.StatusForbidden).SendString("insufficient authority")
			}
			return hf(ctx)
		}
	}
}

// ClaimsFromContext retrieves the claims the filter stored, if any.
func ClaimsFromContext(ctx router.Context, contextKey string) (AuthClaims, bool) {
	raw := ctx.Locals(contextKey)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(AuthClaims)
	return claims, ok
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenValidator == nil {
		panic("AUTH: identity filter configuration: TokenValidator is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return cfg
}

func (cfg *Config) shouldBypass(ctx router.Context) bool {
	method := strings.ToUpper(ctx.Method())

	// CORS preflight never carries credentials
	if method == "OPTIONS" {
		return true
	}

	path := ctx.Path()

	for _, route := range cfg.PublicRoutes {
		if route == "" {
			continue
		}
		if strings.HasPrefix(path, route) {
			return true
		}
	}

	if cfg.RegistrationPath != "" && path == cfg.RegistrationPath {
		registrationMethod := cfg.RegistrationMethod
		if registrationMethod == "" {
			registrationMethod = "POST"
		}
		if strings.EqualFold(method, registrationMethod) {
			return true
		}
	}

	return false
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,cookie:jwt,query:auth_token,param:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		//header:Authorization
		parts := strings.Split(strings.TrimSpace(rootPart), ":")

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, jwtFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, jwtFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(parts[1]))
		}
	}

	return extractors
}

type JWTExtractor func(c router.Context) (string, error)

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if l == 0 {
			return "", ErrJWTMissingOrMalformed
		}
		authScheme = strings.TrimSpace(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
