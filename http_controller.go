package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// Route describes one endpoint served by the controller.
type Route struct {
	Name       string
	Method     string
	Path       string
	Handler    router.HandlerFunc
	Middleware []router.MiddlewareFunc
}

// Chain wraps the handler with the route middleware, first entry outermost.
func (r Route) Chain() router.HandlerFunc {
	handler := r.Handler
	for i := len(r.Middleware) - 1; i >= 0; i-- {
		handler = r.Middleware[i](handler)
	}
	return handler
}

// RegisterAuthRoutes mounts every controller route on app.
func RegisterAuthRoutes[T any](app router.Router[T], controller *HTTPController) {
	for _, route := range controller.Routes() {
		handler := route.Chain()
		switch route.Method {
		case http.MethodGet:
			app.Get(route.Path, handler).SetName(route.Name)
		default:
			app.Post(route.Path, handler).SetName(route.Name)
		}
	}
}

// HTTPController exposes the session and account lifecycle over HTTP.
type HTTPController struct {
	Debug  bool
	Logger Logger

	cfg       Config
	repo      RepositoryManager
	mailer    Mailer
	limiter   Limiter
	activity  ActivitySink
	siblings  bool
	hashids   bool
	now       func() time.Time
	userRoles []RoleName

	tokens            *TokenManager
	sessions          *SessionIssuer
	machine           *AccountStateMachine
	register          *RegisterAccountHandler
	requestActivation *RequestActivationHandler
	activate          *ActivateAccountHandler
	resetInit         *InitializePasswordResetHandler
	resetFinalize     *FinalizePasswordResetHandler
	update            *UpdateAccountHandler
}

type HTTPControllerOption func(*HTTPController)

func WithControllerLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) {
		c.Logger = normalizeLogger(logger)
	}
}

func WithControllerMailer(mailer Mailer) HTTPControllerOption {
	return func(c *HTTPController) {
		c.mailer = mailer
	}
}

func WithControllerLimiter(limiter Limiter) HTTPControllerOption {
	return func(c *HTTPController) {
		c.limiter = limiter
	}
}

func WithControllerActivitySink(sink ActivitySink) HTTPControllerOption {
	return func(c *HTTPController) {
		c.activity = normalizeActivitySink(sink)
	}
}

func WithControllerClock(now func() time.Time) HTTPControllerOption {
	return func(c *HTTPController) {
		if now != nil {
			c.now = now
		}
	}
}

// WithControllerInvalidateSiblings makes every new token retire older unused
// tokens of the same kind.
func WithControllerInvalidateSiblings() HTTPControllerOption {
	return func(c *HTTPController) {
		c.siblings = true
	}
}

// WithControllerHashidIDs derives new account ids from the email address.
func WithControllerHashidIDs() HTTPControllerOption {
	return func(c *HTTPController) {
		c.hashids = true
	}
}

func WithControllerDebug(debug bool) HTTPControllerOption {
	return func(c *HTTPController) {
		c.Debug = debug
	}
}

func NewHTTPController(repo RepositoryManager, cfg Config, opts ...HTTPControllerOption) *HTTPController {
	c := &HTTPController{
		Logger:    defLogger{},
		cfg:       cfg,
		repo:      repo,
		limiter:   noopLimiter{},
		activity:  noopActivitySink{},
		now:       time.Now,
		userRoles: []RoleName{RoleUser, RolePremium, RoleVisitor},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	tokenOpts := []TokenManagerOption{
		WithTokenManagerClock(c.now),
		WithTokenManagerLogger(c.Logger),
		WithTokenManagerActivitySink(c.activity),
	}
	if c.siblings {
		tokenOpts = append(tokenOpts, WithInvalidateSiblings())
	}
	c.tokens = NewTokenManager(repo, tokenOpts...)

	c.sessions = NewSessionIssuer(repo, cfg,
		WithSessionClock(c.now),
		WithSessionLogger(c.Logger),
		WithSessionActivitySink(c.activity),
	)

	c.machine = NewAccountStateMachine(repo, c.tokens,
		WithStateMachineClock(c.now),
		WithStateMachineLogger(c.Logger),
		WithStateMachineActivitySink(c.activity),
	)

	c.register = NewRegisterAccountHandler(repo, c.tokens, cfg).
		WithMailer(c.mailer).
		WithLogger(c.Logger).
		WithActivitySink(c.activity)

	c.requestActivation = NewRequestActivationHandler(repo, c.tokens, cfg).
		WithMailer(c.mailer).
		WithLimiter(c.limiter).
		WithLogger(c.Logger).
		WithActivitySink(c.activity)

	c.activate = NewActivateAccountHandler(c.machine)

	c.resetInit = NewInitializePasswordResetHandler(repo, c.tokens, cfg).
		WithMailer(c.mailer).
		WithLimiter(c.limiter).
		WithLogger(c.Logger).
		WithActivitySink(c.activity)

	c.resetFinalize = NewFinalizePasswordResetHandler(c.machine)

	c.update = NewUpdateAccountHandler(repo, AnyRole()).
		WithClock(c.now).
		WithLogger(c.Logger).
		WithActivitySink(c.activity)

	return c
}

// Sessions returns the issuer used by the controller.
func (a *HTTPController) Sessions() *SessionIssuer {
	return a.sessions
}

// Routes lists every endpoint with its middleware chain.
func (a *HTTPController) Routes() []Route {
	session := RequireSession(a.sessions, a.cfg, a.Logger)
	admin := RequireRole(a.repo, a.Logger, RoleAdmin)

	return []Route{
		{Name: "auth.login", Method: http.MethodPost, Path: "/auth/login", Handler: a.Login},
		{Name: "auth.logout", Method: http.MethodPost, Path: "/auth/logout", Handler: a.Logout, Middleware: []router.MiddlewareFunc{session}},
		{Name: "auth.refresh", Method: http.MethodPost, Path: "/auth/refresh", Handler: a.Refresh},
		{Name: "auth.register", Method: http.MethodPost, Path: "/auth/register", Handler: a.Register},
		{Name: "auth.activate", Method: http.MethodPost, Path: "/auth/activate", Handler: a.Activate},
		{Name: "auth.activation.resend", Method: http.MethodPost, Path: "/auth/activation/resend", Handler: a.ResendActivation},
		{Name: "auth.password.forgot", Method: http.MethodPost, Path: "/auth/password/forgot", Handler: a.ForgotPassword},
		{Name: "auth.password.reset", Method: http.MethodPost, Path: "/auth/password/reset", Handler: a.ResetPassword},
		{Name: "admin.accounts.create", Method: http.MethodPost, Path: "/admin/accounts", Handler: a.AdminCreateAccount, Middleware: []router.MiddlewareFunc{session, admin}},
		{Name: "admin.accounts.get", Method: http.MethodGet, Path: "/admin/accounts/:id", Handler: a.AdminGetAccount, Middleware: []router.MiddlewareFunc{session, admin}},
		{Name: "admin.accounts.update", Method: http.MethodPost, Path: "/admin/accounts/:id/update", Handler: a.AdminUpdateAccount, Middleware: []router.MiddlewareFunc{session, admin}},
		{Name: "admin.accounts.soft-delete", Method: http.MethodPost, Path: "/admin/accounts/:id/soft-delete", Handler: a.AdminSoftDelete, Middleware: []router.MiddlewareFunc{session, admin}},
		{Name: "admin.accounts.restore", Method: http.MethodPost, Path: "/admin/accounts/:id/restore", Handler: a.AdminRestore, Middleware: []router.MiddlewareFunc{session, admin}},
		{Name: "accounts.get", Method: http.MethodGet, Path: "/accounts/:id", Handler: a.GetSelf, Middleware: []router.MiddlewareFunc{session}},
		{Name: "accounts.update", Method: http.MethodPost, Path: "/accounts/:id/update", Handler: a.UpdateSelf, Middleware: []router.MiddlewareFunc{session}},
		{Name: "accounts.soft-delete", Method: http.MethodPost, Path: "/accounts/:id/soft-delete", Handler: a.SoftDeleteSelf, Middleware: []router.MiddlewareFunc{session}},
		{Name: "accounts.restore", Method: http.MethodPost, Path: "/accounts/:id/restore", Handler: a.RestoreSelf, Middleware: []router.MiddlewareFunc{session}},
	}
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// SessionResponse is returned after login and refresh. Tokens travel in
// cookies only.
type SessionResponse struct {
	Account       *Account  `json:"account,omitempty"`
	AccessExpiry  time.Time `json:"access_expiry"`
	RefreshExpiry time.Time `json:"refresh_expiry"`
}

func (a *HTTPController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return WriteError(ctx, a.Logger, NewValidationError("body", "failed to parse request"))
	}

	account, tokens, err := a.sessions.Authenticate(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	setCookies(ctx, SessionCookies(tokens, a.cfg))
	return ctx.JSON(http.StatusOK, SessionResponse{
		Account:       account,
		AccessExpiry:  tokens.AccessExpiry,
		RefreshExpiry: tokens.RefreshExpiry,
	})
}

func (a *HTTPController) Logout(ctx router.Context) error {
	accountID, ok := AccountIDFromContext(ctx)
	if !ok {
		return WriteError(ctx, a.Logger, ErrInvalidSession)
	}

	if err := a.sessions.Logout(ctx.Context(), accountID); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	setCookies(ctx, ClearSessionCookies(a.cfg))
	return ctx.NoContent(http.StatusNoContent)
}

// RefreshRequest may carry the refresh token when it is not sent as a cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *HTTPController) Refresh(ctx router.Context) error {
	token := ctx.Cookies(a.cfg.GetRefreshCookieName())
	if token == "" {
		payload := new(RefreshRequest)
		if err := ctx.Bind(payload); err == nil {
			token = payload.RefreshToken
		}
	}
	if token == "" {
		return WriteError(ctx, a.Logger, ErrInvalidSession)
	}

	tokens, err := a.sessions.Refresh(ctx.Context(), token)
	if err != nil {
		setCookies(ctx, ClearSessionCookies(a.cfg))
		return WriteError(ctx, a.Logger, err)
	}

	setCookies(ctx, SessionCookies(tokens, a.cfg))
	return ctx.JSON(http.StatusOK, SessionResponse{
		AccessExpiry:  tokens.AccessExpiry,
		RefreshExpiry: tokens.RefreshExpiry,
	})
}

// RegistrationRequest is the sign-up payload.
type RegistrationRequest struct {
	Email             string `form:"email" json:"email"`
	Password          string `form:"password" json:"password"`
	ConfirmPassword   string `form:"confirm_password" json:"confirm_password"`
	ProfilePictureURL string `form:"profile_picture_url" json:"profile_picture_url"`
	Role              string `form:"role" json:"role"`
}

// AccountResponse wraps an account returned by lifecycle endpoints.
type AccountResponse struct {
	Account   *Account `json:"account"`
	State     string   `json:"state"`
	IsActive  bool     `json:"is_active"`
	IsDeleted bool     `json:"is_deleted"`
	Delivered *bool    `json:"delivered,omitempty"`
}

func newAccountResponse(account *Account, delivered *bool) AccountResponse {
	return AccountResponse{
		Account:   account,
		State:     string(account.State()),
		IsActive:  account.IsActive,
		IsDeleted: account.IsDeleted(),
		Delivered: delivered,
	}
}

func (a *HTTPController) Register(ctx router.Context) error {
	return a.registerAccount(ctx, false)
}

// AdminCreateAccount registers an account with an explicit role.
func (a *HTTPController) AdminCreateAccount(ctx router.Context) error {
	return a.registerAccount(ctx, true)
}

func (a *HTTPController) registerAccount(ctx router.Context, allowRole bool) error {
	payload := new(RegistrationRequest)
	if err := ctx.Bind(payload); err != nil {
		return WriteError(ctx, a.Logger, NewValidationError("body", "failed to parse request"))
	}

	role := RoleDefault
	if allowRole && payload.Role != "" {
		r, ok := ParseRole(payload.Role)
		if !ok {
			return WriteError(ctx, a.Logger, NewValidationError("role", "unknown role"))
		}
		role = r
	}

	var res *RegisterAccountResponse
	msg := RegisterAccountMessage{
		Email:             payload.Email,
		Password:          payload.Password,
		ConfirmPassword:   payload.ConfirmPassword,
		ProfilePictureURL: payload.ProfilePictureURL,
		Role:              role,
		UseHashid:         a.hashids,
		OnResponse: func(resp *RegisterAccountResponse) {
			res = resp
		},
	}

	if err := a.register.Execute(ctx.Context(), msg); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	if a.Debug {
		fmt.Println(print.MaybePrettyJSON(res))
	}

	return ctx.JSON(http.StatusCreated, newAccountResponse(res.Account, &res.Delivered))
}

// ActivationRequest carries the activation token. AccountID is optional.
type ActivationRequest struct {
	AccountID string `form:"account_id" json:"account_id"`
	Token     string `form:"token" json:"token"`
}

func (a *HTTPController) Activate(ctx router.Context) error {
	payload := new(ActivationRequest)
	if err := ctx.Bind(payload); err != nil {
		return WriteError(ctx, a.Logger, NewValidationError("body", "failed to parse request"))
	}

	msg := ActivateAccountMessage{Token: payload.Token}
	if payload.AccountID != "" {
		id, err := uuid.Parse(payload.AccountID)
		if err != nil {
			return WriteError(ctx, a.Logger, NewValidationError("account_id", "must be a valid id"))
		}
		msg.AccountID = id
	}

	var account *Account
	msg.OnResponse = func(acc *Account) {
		account = acc
	}

	if err := a.activate.Execute(ctx.Context(), msg); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return ctx.JSON(http.StatusOK, newAccountResponse(account, nil))
}

// EmailRequest carries a single email address.
type EmailRequest struct {
	Email string `form:"email" json:"email"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

func (a *HTTPController) ResendActivation(ctx router.Context) error {
	payload := new(EmailRequest)
	if err := ctx.Bind(payload); err != nil {
		return WriteError(ctx, a.Logger, NewValidationError("body", "failed to parse request"))
	}

	if err := a.requestActivation.Execute(ctx.Context(), RequestActivationMessage{Email: payload.Email}); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return ctx.JSON(http.StatusAccepted, MessageResponse{Message: "activation link sent"})
}

func (a *HTTPController) ForgotPassword(ctx router.Context) error {
	payload := new(EmailRequest)
	if err := ctx.Bind(payload); err != nil {
		return WriteError(ctx, a.Logger, NewValidationError("body", "failed to parse request"))
	}

	if err := a.resetInit.Execute(ctx.Context(), InitializePasswordResetMessage{Email: payload.Email}); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return ctx.JSON(http.StatusAccepted, MessageResponse{Message: PasswordResetRequestedMessage})
}

// PasswordResetRequest finalizes a reset.
type PasswordResetRequest struct {
	Token           string `form:"token" json:"token"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (a *HTTPController) ResetPassword(ctx router.Context) error {
	payload := new(PasswordResetRequest)
	if err := ctx.Bind(payload); err != nil {
		return WriteError(ctx, a.Logger, NewValidationError("body", "failed to parse request"))
	}

	msg := FinalizePasswordResetMessage{
		Token:           payload.Token,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
	}

	if err := a.resetFinalize.Execute(ctx.Context(), msg); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	setCookies(ctx, ClearSessionCookies(a.cfg))
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}

// AdminSoftDelete soft-deletes an ADMIN account.
func (a *HTTPController) AdminSoftDelete(ctx router.Context) error {
	return a.transition(ctx, RoleScope(RoleAdmin), false, a.softDelete)
}

// AdminRestore restores an ADMIN account.
func (a *HTTPController) AdminRestore(ctx router.Context) error {
	return a.transition(ctx, RoleScope(RoleAdmin), false, a.restore)
}

// SoftDeleteSelf lets a non-admin account delete itself.
func (a *HTTPController) SoftDeleteSelf(ctx router.Context) error {
	return a.transition(ctx, RoleScope(a.userRoles...), true, a.softDelete)
}

// RestoreSelf lets a non-admin account restore itself.
func (a *HTTPController) RestoreSelf(ctx router.Context) error {
	return a.transition(ctx, RoleScope(a.userRoles...), true, a.restore)
}

type transitionFunc func(ctx context.Context, machine *AccountStateMachine, id uuid.UUID) (*Account, error)

func (a *HTTPController) softDelete(ctx context.Context, machine *AccountStateMachine, id uuid.UUID) (*Account, error) {
	return machine.SoftDelete(ctx, id)
}

func (a *HTTPController) restore(ctx context.Context, machine *AccountStateMachine, id uuid.UUID) (*Account, error) {
	return machine.Restore(ctx, id)
}

func (a *HTTPController) transition(ctx router.Context, scope Scope, selfOnly bool, fn transitionFunc) error {
	callerID, id, err := a.targetAccount(ctx, selfOnly)
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	reqCtx := WithActorContext(ctx.Context(), ActorRef{ID: callerID.String(), Type: "account"})
	account, err := fn(reqCtx, a.machine.WithScope(scope), id)
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return ctx.JSON(http.StatusOK, newAccountResponse(account, nil))
}

// targetAccount resolves the session account and the :id route parameter.
func (a *HTTPController) targetAccount(ctx router.Context, selfOnly bool) (uuid.UUID, uuid.UUID, error) {
	callerID, ok := AccountIDFromContext(ctx)
	if !ok {
		return uuid.Nil, uuid.Nil, ErrInvalidSession
	}

	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, NewValidationError("id", "must be a valid id")
	}

	if selfOnly && id != callerID {
		return uuid.Nil, uuid.Nil, ErrForbidden
	}
	return callerID, id, nil
}

// GetSelf returns the caller's own account.
func (a *HTTPController) GetSelf(ctx router.Context) error {
	return a.read(ctx, RoleScope(a.userRoles...), true)
}

// AdminGetAccount returns an ADMIN account. With ?deleted=true soft-deleted
// accounts are visible too.
func (a *HTTPController) AdminGetAccount(ctx router.Context) error {
	scope := RoleScope(RoleAdmin)
	if raw := ctx.Query("deleted"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return WriteError(ctx, a.Logger, NewValidationError("deleted", "must be a boolean"))
		}
		if include {
			scope = scope.IncludingDeleted()
		}
	}
	return a.read(ctx, scope, false)
}

func (a *HTTPController) read(ctx router.Context, scope Scope, selfOnly bool) error {
	_, id, err := a.targetAccount(ctx, selfOnly)
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	account, err := NewScopedAccounts(a.repo.Accounts(), scope).Find(ctx.Context(), id)
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return ctx.JSON(http.StatusOK, newAccountResponse(account, nil))
}

// UpdateAccountRequest carries the editable profile fields. Absent fields are
// left unchanged.
type UpdateAccountRequest struct {
	Email             *string `form:"email" json:"email"`
	ProfilePictureURL *string `form:"profile_picture_url" json:"profile_picture_url"`
}

// UpdateSelf lets a non-admin account edit its own profile.
func (a *HTTPController) UpdateSelf(ctx router.Context) error {
	return a.updateAccount(ctx, RoleScope(a.userRoles...), true)
}

// AdminUpdateAccount edits an ADMIN account.
func (a *HTTPController) AdminUpdateAccount(ctx router.Context) error {
	return a.updateAccount(ctx, RoleScope(RoleAdmin), false)
}

func (a *HTTPController) updateAccount(ctx router.Context, scope Scope, selfOnly bool) error {
	callerID, id, err := a.targetAccount(ctx, selfOnly)
	if err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	payload := new(UpdateAccountRequest)
	if err := ctx.Bind(payload); err != nil {
		return WriteError(ctx, a.Logger, NewValidationError("body", "failed to parse request"))
	}

	var account *Account
	msg := UpdateAccountMessage{
		AccountID:         id,
		Email:             payload.Email,
		ProfilePictureURL: payload.ProfilePictureURL,
		OnResponse: func(acc *Account) {
			account = acc
		},
	}

	reqCtx := WithActorContext(ctx.Context(), ActorRef{ID: callerID.String(), Type: "account"})
	if err := a.update.WithScope(scope).Execute(reqCtx, msg); err != nil {
		return WriteError(ctx, a.Logger, err)
	}

	return ctx.JSON(http.StatusOK, newAccountResponse(account, nil))
}
