package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/primelogic/go-identity/middleware/identityfilter"
)

// ServerDeps carries everything the HTTP surface needs.
type ServerDeps struct {
	Config       Config
	Repo         RepositoryManager
	Auther       *Auther
	Registration *RegisterUserHandler
	Logger       Logger
}

// NewServer builds a fiber-backed server with identity resolution applied to
// every route and the auth endpoints mounted. The filter is fail-open;
// attach identityfilter.RequireAuthority guards to routes that need them.
func NewServer(deps ServerDeps) router.Server[*fiber.App] {
	if deps.Logger == nil {
		deps.Logger = defLogger{}
	}

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:  true,
			StrictRouting: false,
		}))
	})

	registrationPath, registrationMethod := deps.Config.GetRegistrationRoute()

	srv.Router().Use(identityfilter.New(identityfilter.Config{
		TokenValidator:     validatorAdapter{deps.Auther.TokenService()},
		ContextKey:         deps.Config.GetContextKey(),
		TokenLookup:        deps.Config.GetTokenLookup(),
		AuthScheme:         deps.Config.GetAuthScheme(),
		PublicRoutes:       deps.Config.GetPublicRoutes(),
		RegistrationPath:   registrationPath,
		RegistrationMethod: registrationMethod,
		Logger:             deps.Logger,
		ContextEnricher: func(c context.Context, claims identityfilter.AuthClaims) context.Context {
			if authClaims, ok := claims.(AuthClaims); ok {
				return WithClaimsContext(c, authClaims)
			}
			return c
		},
	}))

	RegisterAuthRoutes(srv.Router().Group("/"),
		WithControllerAuther(deps.Auther),
		WithControllerRepo(deps.Repo),
		WithControllerRegistration(deps.Registration),
		WithControllerLogger(deps.Logger),
	)

	return srv
}

// validatorAdapter bridges the auth TokenValidator to the filter's local
// mirror interface, which drops the variadic options.
type validatorAdapter struct {
	validator TokenValidator
}

func (v validatorAdapter) Validate(tokenString string) (identityfilter.AuthClaims, error) {
	claims, err := v.validator.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
