package auth

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// APIResponse is the envelope every auth endpoint responds with.
type APIResponse struct {
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Errors    map[string]any `json:"errors,omitempty"`
}

// RegisterAuthRoutes mounts the authentication endpoints on the router.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {

	controller := NewAuthController(opts...)

	app.Post(controller.Routes.Register, controller.Register).
		SetName("users.register")

	app.Post(controller.Routes.Login, controller.Login).
		SetName("users.login")

	app.Post(controller.Routes.VerifyMFA, controller.VerifyMFA).
		SetName("users.verify-mfa")

	app.Get(controller.Routes.VerifyAccount+"/:token", controller.VerifyAccount).
		SetName("users.verify-account")

	app.Post(controller.Routes.ResetRequest, controller.ResetRequest).
		SetName("users.reset-request")

	app.Get(controller.Routes.ResetConfirm+"/:token", controller.ResetConfirm).
		SetName("users.reset-confirm")

	app.Post(controller.Routes.ResetComplete, controller.ResetComplete).
		SetName("users.reset-complete")
}

type AuthControllerRoutes struct {
	Register      string
	Login         string
	VerifyMFA     string
	VerifyAccount string
	ResetRequest  string
	ResetConfirm  string
	ResetComplete string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Routes       *AuthControllerRoutes
	Auther       Authenticator
	Register_    *RegisterUserHandler
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerAuther(auther Authenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithControllerRegistration(handler *RegisterUserHandler) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Register_ = handler
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &AuthControllerRoutes{
			Register:      "/users",
			Login:         "/users/login",
			VerifyMFA:     "/users/verify/mfa",
			VerifyAccount: "/users/verify/account",
			ResetRequest:  "/users/reset-password/request",
			ResetConfirm:  "/users/reset-password/confirm",
			ResetComplete: "/users/reset-password/complete",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	return c
}

// RegistrationCreatePayload is the signup payload
type RegistrationCreatePayload struct {
	FirstName       string `form:"first_name" json:"first_name"`
	LastName        string `form:"last_name" json:"last_name"`
	Username        string `form:"username" json:"username"`
	Email           string `form:"email" json:"email"`
	Phone           string `form:"phone_number" json:"phone_number"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.Length(10, 11), is.Digit),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register user parse payload: ", "error", err)
		return a.respondError(ctx, router.StatusBadRequest, "Error parsing body", nil)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("register user validate payload: ", "error", err)
		return a.respondError(ctx, router.StatusBadRequest, "Error validating payload", FormatValidationErrorToMap(err))
	}

	req := RegisterUserMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Username:  payload.Username,
		Email:     payload.Email,
		Phone:     payload.Phone,
		Password:  payload.Password,
	}

	if a.Debug {
		a.Logger.Debug(print.MaybePrettyJSON(req))
	}

	registerUser := a.Register_
	if registerUser == nil {
		registerUser = &RegisterUserHandler{
			repo:     a.Repo,
			ledger:   NewVerificationLedger(a.Repo),
			notifier: noopNotifier{},
			logger:   a.Logger,
		}
	}

	user, err := registerUser.Execute(ctx.Context(), req)
	if err != nil {
		a.Logger.Error("register user error: ", "error", err)
		return a.respondRichError(ctx, err)
	}

	return a.respond(ctx, router.StatusCreated, "Account created. Check your email to verify your account.", map[string]any{
		"user": user,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.respondError(ctx, router.StatusBadRequest, "Error parsing body", nil)
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, router.StatusBadRequest, "Error validating payload", FormatValidationErrorToMap(err))
	}

	result, err := a.Auther.Login(ctx.Context(), payload.Identifier, payload.Password)
	if err != nil {
		a.Logger.Warn("login error", "error", err)
		return a.respondRichError(ctx, err)
	}

	if result.MFARequired {
		return a.respond(ctx, router.StatusOK, "Verification code sent", map[string]any{
			"mfa_required": true,
		})
	}

	return a.respond(ctx, router.StatusOK, "Login success", map[string]any{
		"access_token": result.Token,
	})
}

// MFAVerifyPayload carries the login challenge answer
type MFAVerifyPayload struct {
	Identifier string `form:"identifier" json:"identifier"`
	Code       string `form:"code" json:"code"`
}

// Validate will run validation rules
func (r MFAVerifyPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required),
		validation.Field(&r.Code, validation.Required, validation.Length(8, 8)),
	)
}

func (a *AuthController) VerifyMFA(ctx router.Context) error {
	payload := new(MFAVerifyPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.respondError(ctx, router.StatusBadRequest, "Error parsing body", nil)
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, router.StatusBadRequest, "Error validating payload", FormatValidationErrorToMap(err))
	}

	token, err := a.Auther.VerifyMFA(ctx.Context(), payload.Identifier, payload.Code)
	if err != nil {
		a.Logger.Warn("mfa verify error", "error", err)
		return a.respondRichError(ctx, err)
	}

	return a.respond(ctx, router.StatusOK, "Login success", map[string]any{
		"access_token": token,
	})
}

func (a *AuthController) VerifyAccount(ctx router.Context) error {
	token := ctx.Param("token", "")
	if token == "" {
		return a.respondError(ctx, router.StatusBadRequest, "Missing verification token", nil)
	}

	if err := a.Auther.VerifyAccount(ctx.Context(), token); err != nil {
		a.Logger.Warn("account verify error", "error", err)
		return a.respondRichError(ctx, err)
	}

	return a.respond(ctx, router.StatusOK, "Account verified", nil)
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) ResetRequest(ctx router.Context) error {
	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.respondError(ctx, router.StatusBadRequest, "Error parsing body", nil)
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, router.StatusBadRequest, "Error validating payload", FormatValidationErrorToMap(err))
	}

	if err := a.Auther.RequestPasswordReset(ctx.Context(), payload.Email); err != nil {
		a.Logger.Error("password reset request error", "error", err)
		return a.respondRichError(ctx, err)
	}

	// same response whether or not the email exists
	return a.respond(ctx, router.StatusOK, "If the email exists, a reset link was sent", nil)
}

func (a *AuthController) ResetConfirm(ctx router.Context) error {
	token := ctx.Param("token", "")
	if token == "" {
		return a.respondError(ctx, router.StatusBadRequest, "Missing reset token", nil)
	}

	identity, err := a.Auther.ConfirmResetToken(ctx.Context(), token)
	if err != nil {
		a.Logger.Warn("reset token confirm error", "error", err)
		return a.respondRichError(ctx, err)
	}

	return a.respond(ctx, router.StatusOK, "Reset token is valid", map[string]any{
		"email": identity.Email(),
	})
}

// PasswordResetCompletePayload carries the new credentials
type PasswordResetCompletePayload struct {
	Token           string `form:"token" json:"token"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordResetCompletePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) ResetComplete(ctx router.Context) error {
	payload := new(PasswordResetCompletePayload)

	if err := ctx.Bind(payload); err != nil {
		return a.respondError(ctx, router.StatusBadRequest, "Error parsing body", nil)
	}

	if err := payload.Validate(); err != nil {
		return a.respondError(ctx, router.StatusBadRequest, "Error validating payload", FormatValidationErrorToMap(err))
	}

	if err := a.Auther.CompletePasswordReset(ctx.Context(), payload.Token, payload.Password, payload.ConfirmPassword); err != nil {
		a.Logger.Warn("password reset complete error", "error", err)
		return a.respondRichError(ctx, err)
	}

	return a.respond(ctx, router.StatusOK, "Password updated", nil)
}

func (a *AuthController) respond(ctx router.Context, status int, message string, data map[string]any) error {
	return ctx.JSON(status, APIResponse{
		Timestamp: time.Now(),
		Success:   true,
		Message:   message,
		Data:      data,
	})
}

func (a *AuthController) respondError(ctx router.Context, status int, message string, errs map[string]any) error {
	return ctx.JSON(status, APIResponse{
		Timestamp: time.Now(),
		Success:   false,
		Message:   message,
		Errors:    errs,
	})
}

// respondRichError maps domain errors onto HTTP responses using the code
// carried by the error itself.
func (a *AuthController) respondRichError(ctx router.Context, err error) error {
	status := router.StatusInternalServerError
	message := "Internal error"
	var errs map[string]any

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Code > 0 {
			status = int(richErr.Code)
		}
		message = richErr.Message
		if richErr.TextCode != "" {
			errs = map[string]any{"code": richErr.TextCode}
		}
	}

	return a.respondError(ctx, status, message, errs)
}

// FormatValidationErrorToMap flattens ozzo validation errors into a field map.
func FormatValidationErrorToMap(err error) map[string]any {
	out := map[string]any{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}
	out["error"] = err.Error()
	return out
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func defaultErrHandler(c router.Context, err error) error {
	return c.JSON(router.StatusInternalServerError, APIResponse{
		Timestamp: time.Now(),
		Success:   false,
		Message:   err.Error(),
	})
}
