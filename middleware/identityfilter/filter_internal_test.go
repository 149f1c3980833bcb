package identityfilter

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClaims struct {
	subject     string
	authorities []string
}

func (c stubClaims) Subject() string        { return c.subject }
func (c stubClaims) UserID() string         { return c.subject }
func (c stubClaims) Authorities() []string  { return c.authorities }
func (c stubClaims) HasAuthority(a string) bool {
	for _, grant := range c.authorities {
		if grant == a {
			return true
		}
	}
	return false
}

type stubValidator struct {
	claims AuthClaims
	err    error
	calls  int
}

func (v *stubValidator) Validate(tokenString string) (AuthClaims, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

// routerContext aliases the interface so embedding it does not collide
// with the Context() method below.
type routerContext = router.Context

// stubContext implements the handful of router.Context methods the filter
// touches; everything else panics through the embedded nil interface.
type stubContext struct {
	routerContext
	method     string
	path       string
	authHeader string
	locals     map[any]any
	stdCtx     context.Context
	nextCalled bool
	status     int
	body       string
}

func newStubContext(method, path, authHeader string) *stubContext {
	return &stubContext{
		method:     method,
		path:       path,
		authHeader: authHeader,
		locals:     map[any]any{},
		stdCtx:     context.Background(),
	}
}

func (c *stubContext) Method() string { return c.method }
func (c *stubContext) Path() string   { return c.path }

func (c *stubContext) Next() error {
	c.nextCalled = true
	return nil
}

func (c *stubContext) GetString(key string, defaultValue string) string {
	if key == router.HeaderAuthorization && c.authHeader != "" {
		return c.authHeader
	}
	return defaultValue
}

func (c *stubContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *stubContext) Cookies(key string, defaultValue ...string) string { return "" }

func (c *stubContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		c.locals[key] = value[0]
		return nil
	}
	return c.locals[key]
}

func (c *stubContext) Context() context.Context       { return c.stdCtx }
func (c *stubContext) SetContext(ctx context.Context) { c.stdCtx = ctx }

func (c *stubContext) Status(code int) router.Context {
	c.status = code
	return c
}

func (c *stubContext) SendString(s string) error {
	c.body = s
	return nil
}

func runFilter(t *testing.T, cfg Config, ctx *stubContext) {
	t.Helper()

	handler := New(cfg)(func(c router.Context) error {
		return nil
	})
	require.NoError(t, handler(ctx))
}

func TestFilterResolvesIdentityFromBearerToken(t *testing.T) {
	validator := &stubValidator{claims: stubClaims{subject: "user-1", authorities: []string{"READ:USER"}}}
	ctx := newStubContext("GET", "/orders", "Bearer some-token")

	runFilter(t, Config{TokenValidator: validator}, ctx)

	assert.True(t, ctx.nextCalled)
	assert.Equal(t, 1, validator.calls)

	claims, ok := ClaimsFromContext(ctx, "user")
	require.True(t, ok)
	assert.Equal(t, "user-1", claims.Subject())
}

func TestFilterIsFailOpen(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		validator := &stubValidator{claims: stubClaims{subject: "user-1"}}
		ctx := newStubContext("GET", "/orders", "")

		runFilter(t, Config{TokenValidator: validator}, ctx)

		assert.True(t, ctx.nextCalled)
		assert.Zero(t, validator.calls)
		_, ok := ClaimsFromContext(ctx, "user")
		assert.False(t, ok)
	})

	t.Run("invalid token continues anonymously", func(t *testing.T) {
		validator := &stubValidator{err: errors.New("token is malformed")}
		ctx := newStubContext("GET", "/orders", "Bearer bad-token")

		runFilter(t, Config{TokenValidator: validator}, ctx)

		assert.True(t, ctx.nextCalled)
		assert.Equal(t, 1, validator.calls)
		_, ok := ClaimsFromContext(ctx, "user")
		assert.False(t, ok)
	})

	t.Run("wrong scheme is treated as absent", func(t *testing.T) {
		validator := &stubValidator{claims: stubClaims{subject: "user-1"}}
		ctx := newStubContext("GET", "/orders", "Basic dXNlcjpwYXNz")

		runFilter(t, Config{TokenValidator: validator}, ctx)

		assert.True(t, ctx.nextCalled)
		assert.Zero(t, validator.calls)
	})
}

func TestFilterBypassRules(t *testing.T) {
	newCfg := func(v *stubValidator) Config {
		return Config{
			TokenValidator:     v,
			PublicRoutes:       []string{"/public", "/health"},
			RegistrationPath:   "/users",
			RegistrationMethod: "POST",
		}
	}

	t.Run("preflight", func(t *testing.T) {
		validator := &stubValidator{}
		ctx := newStubContext("OPTIONS", "/orders", "Bearer token")
		runFilter(t, newCfg(validator), ctx)
		assert.True(t, ctx.nextCalled)
		assert.Zero(t, validator.calls)
	})

	t.Run("public route prefix", func(t *testing.T) {
		validator := &stubValidator{}
		ctx := newStubContext("GET", "/public/docs", "Bearer token")
		runFilter(t, newCfg(validator), ctx)
		assert.True(t, ctx.nextCalled)
		assert.Zero(t, validator.calls)
	})

	t.Run("registration endpoint", func(t *testing.T) {
		validator := &stubValidator{}
		ctx := newStubContext("POST", "/users", "Bearer token")
		runFilter(t, newCfg(validator), ctx)
		assert.True(t, ctx.nextCalled)
		assert.Zero(t, validator.calls)
	})

	t.Run("same path different method goes through the filter", func(t *testing.T) {
		validator := &stubValidator{claims: stubClaims{subject: "user-1"}}
		ctx := newStubContext("GET", "/users", "Bearer token")
		runFilter(t, newCfg(validator), ctx)
		assert.True(t, ctx.nextCalled)
		assert.Equal(t, 1, validator.calls)
	})
}

func TestFilterContextEnricher(t *testing.T) {
	type ctxKey struct{}

	validator := &stubValidator{claims: stubClaims{subject: "user-1"}}
	ctx := newStubContext("GET", "/orders", "Bearer token")

	runFilter(t, Config{
		TokenValidator: validator,
		ContextEnricher: func(c context.Context, claims AuthClaims) context.Context {
			return context.WithValue(c, ctxKey{}, claims.Subject())
		},
	}, ctx)

	assert.Equal(t, "user-1", ctx.stdCtx.Value(ctxKey{}))
}

func TestRequireAuthenticated(t *testing.T) {
	guarded := RequireAuthenticated("user")(func(c router.Context) error {
		return c.SendString("ok")
	})

	t.Run("anonymous request is rejected", func(t *testing.T) {
		ctx := newStubContext("GET", "/orders", "")
		require.NoError(t, guarded(ctx))
		assert.Equal(t, router.StatusUnauthorized, ctx.status)
	})

	t.Run("resolved identity passes", func(t *testing.T) {
		ctx := newStubContext("GET", "/orders", "")
		ctx.Locals("user", AuthClaims(stubClaims{subject: "user-1"}))
		require.NoError(t, guarded(ctx))
		assert.Equal(t, "ok", ctx.body)
	})
}

func TestRequireAuthority(t *testing.T) {
	guarded := RequireAuthority("user", "DELETE:USER")(func(c router.Context) error {
		return c.SendString("ok")
	})

	t.Run("anonymous", func(t *testing.T) {
		ctx := newStubContext("DELETE", "/users/1", "")
		require.NoError(t, guarded(ctx))
		assert.Equal(t, router.StatusUnauthorized, ctx.status)
	})

	t.Run("missing authority", func(t *testing.T) {
		ctx := newStubContext("DELETE", "/users/1", "")
		ctx.Locals("user", AuthClaims(stubClaims{subject: "u", authorities: []string{"READ:USER"}}))
		require.NoError(t, guarded(ctx))
		assert.Equal(t, router.StatusForbidden, ctx.status)
	})

	t.Run("authorized", func(t *testing.T) {
		ctx := newStubContext("DELETE", "/users/1", "")
		ctx.Locals("user", AuthClaims(stubClaims{subject: "u", authorities: []string{"DELETE:USER"}}))
		require.NoError(t, guarded(ctx))
		assert.Equal(t, "ok", ctx.body)
	})
}

func TestGetExtractorsParsesLookup(t *testing.T) {
	extractors := GetExtractors("header:Authorization,query:auth_token,cookie:jwt")
	assert.Len(t, extractors, 3)

	extractors = GetExtractors("header:Authorization")
	assert.Len(t, extractors, 1)
}
