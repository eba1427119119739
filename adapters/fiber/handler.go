package fiber

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/lborres/kapitbahay/core"
)

type authResponse struct {
	User     *core.Identity `json:"user"`
	Session  *core.Session  `json:"session"`
	Redirect string         `json:"redirect"`
}

func (a *Adapter) health(c fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status":  "ok",
		"clients": a.kb.Clients.Len(),
		"cache":   a.kb.Issuer.CacheStats(),
	})
}

// authView names where the browser goes after signing in. A client that
// is already signed in is sent there right away.
func (a *Adapter) authView(c fiber.Ctx) error {
	returnTo := a.kb.Guard.ReturnTarget(c.Query(a.kb.Guard.Config().RedirectParam))

	state := a.settledState(c, clientFrom(c))
	if !state.Loading && state.Identity != nil {
		return c.Redirect().Status(fiber.StatusFound).To(returnTo)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"view":     "auth",
		"redirect": returnTo,
	})
}

func (a *Adapter) signup(c fiber.Ctx) error {
	var input core.SignUpInput
	if err := c.Bind().Body(&input); err != nil {
		return c.Status(http.StatusBadRequest).JSON(core.ErrorResponse{Error: "invalid request body"})
	}

	client := clientFrom(c)
	result, err := client.Provider.SignUp(c.Context(), input, clientMeta(c))
	if err != nil {
		return handleAuthError(c, err)
	}

	a.setToken(c, result.Token, result.Session.ExpiresAt)
	a.awaitState(c, client, signedInAs(result.User.ID))
	return c.Status(http.StatusCreated).JSON(a.authResponse(c, result.User, result.Session))
}

func (a *Adapter) signin(c fiber.Ctx) error {
	var input core.SignInInput
	if err := c.Bind().Body(&input); err != nil {
		return c.Status(http.StatusBadRequest).JSON(core.ErrorResponse{Error: "invalid request body"})
	}

	client := clientFrom(c)
	result, err := client.Provider.SignIn(c.Context(), input, clientMeta(c))
	if err != nil {
		return handleAuthError(c, err)
	}

	a.setToken(c, result.Token, result.Session.ExpiresAt)
	a.awaitState(c, client, signedInAs(result.User.ID))
	return c.Status(http.StatusOK).JSON(a.authResponse(c, result.User, result.Session))
}

func (a *Adapter) recoverPassword(c fiber.Ctx) error {
	var input struct {
		Email string `json:"email"`
	}
	if err := c.Bind().Body(&input); err != nil {
		return c.Status(http.StatusBadRequest).JSON(core.ErrorResponse{Error: "invalid request body"})
	}

	if err := a.kb.Auth.RequestPasswordRecovery(c.Context(), input.Email); err != nil {
		return handleAuthError(c, err)
	}

	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": "if the address is registered, a recovery link is on its way",
	})
}

// completeRecovery trades the recovery link's token for a session cookie
func (a *Adapter) completeRecovery(c fiber.Ctx) error {
	client := clientFrom(c)
	token := c.Query("token")

	result, err := client.Provider.Recover(c.Context(), token, clientMeta(c))
	if err != nil {
		return handleAuthError(c, err)
	}

	a.setToken(c, result.Token, result.Session.ExpiresAt)
	a.awaitState(c, client, signedInAs(result.User.ID))
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"view": "update-password",
		"user": result.User,
	})
}

func (a *Adapter) updatePassword(c fiber.Ctx) error {
	var input core.PasswordInput
	if err := c.Bind().Body(&input); err != nil {
		return c.Status(http.StatusBadRequest).JSON(core.ErrorResponse{Error: "invalid request body"})
	}

	if err := clientFrom(c).Provider.ChangePassword(c.Context(), input.Password); err != nil {
		return handleAuthError(c, err)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "password updated",
	})
}

// session reports the client's state and hands over its pending toasts
func (a *Adapter) session(c fiber.Ctx) error {
	client := clientFrom(c)
	state := a.settledState(c, client)

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"state":         state,
		"notifications": client.Notifications.Drain(),
	})
}

func (a *Adapter) signout(c fiber.Ctx) error {
	client := clientFrom(c)
	if err := client.Session.SignOut(c.Context()); err != nil {
		return handleAuthError(c, err)
	}

	c.ClearCookie(a.kb.Cookies.Token)
	a.awaitState(c, client, signedOut)
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "signed out successfully",
	})
}

func (a *Adapter) signoutEverywhere(c fiber.Ctx) error {
	client := clientFrom(c)
	count, err := client.Provider.RevokeEverywhere(c.Context())
	if err != nil {
		return handleAuthError(c, err)
	}

	c.ClearCookie(a.kb.Cookies.Token)
	a.awaitState(c, client, signedOut)
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "signed out everywhere",
		"revoked": count,
	})
}

func (a *Adapter) refresh(c fiber.Ctx) error {
	provider := clientFrom(c).Provider

	data, err := provider.Refresh(c.Context())
	if err != nil {
		return handleAuthError(c, err)
	}

	a.setToken(c, provider.Token(), data.Session.ExpiresAt)
	return c.Status(http.StatusOK).JSON(data)
}

func (a *Adapter) dashboard(c fiber.Ctx) error {
	state := stateFrom(c)
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"view":     "dashboard",
		"identity": state.Identity,
		"profile":  state.Profile,
	})
}

func (a *Adapter) locationSetup(c fiber.Ctx) error {
	state := stateFrom(c)
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"view":    "location-setup",
		"profile": state.Profile,
	})
}

func (a *Adapter) updateLocation(c fiber.Ctx) error {
	var input core.LocationInput
	if err := c.Bind().Body(&input); err != nil {
		return c.Status(http.StatusBadRequest).JSON(core.ErrorResponse{Error: "invalid request body"})
	}

	client := clientFrom(c)
	profile, err := client.Provider.UpdateLocation(c.Context(), input.Latitude, input.Longitude)
	if err != nil {
		return handleAuthError(c, err)
	}

	a.awaitState(c, client, inNeighborhood(profile))

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"profile":  profile,
		"redirect": a.kb.Guard.Config().HomePath,
	})
}

// admin renders for administrators only; the guard lets every signed-in
// identity reach the admin path.
func (a *Adapter) admin(c fiber.Ctx) error {
	state := stateFrom(c)
	if state.Identity == nil || !state.Identity.IsAdmin {
		return handleAuthError(c, core.ErrForbidden)
	}

	neighborhoods, err := a.kb.Neighborhoods.List(c.Context())
	if err != nil {
		return handleAuthError(c, err)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"view":          "admin",
		"neighborhoods": neighborhoods,
	})
}

func (a *Adapter) createNeighborhood(c fiber.Ctx) error {
	var input core.NeighborhoodInput
	if err := c.Bind().Body(&input); err != nil {
		return c.Status(http.StatusBadRequest).JSON(core.ErrorResponse{Error: "invalid request body"})
	}

	n, err := a.kb.Neighborhoods.Create(c.Context(), stateFrom(c).Identity, input)
	if err != nil {
		return handleAuthError(c, err)
	}

	return c.Status(http.StatusCreated).JSON(n)
}

func (a *Adapter) authResponse(c fiber.Ctx, user *core.Identity, session *core.Session) authResponse {
	return authResponse{
		User:     user,
		Session:  session,
		Redirect: a.kb.Guard.ReturnTarget(c.Query(a.kb.Guard.Config().RedirectParam)),
	}
}

func (a *Adapter) setToken(c fiber.Ctx, token string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     a.kb.Cookies.Token,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   a.kb.Cookies.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func clientMeta(c fiber.Ctx) core.ClientMeta {
	return core.ClientMeta{
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}

// extractToken extracts the session token from the request.
// Checks Authorization header (Bearer token) first, then falls back to cookie.
func extractToken(c fiber.Ctx, cookie string) string {
	// Try Bearer token first
	authHeader := c.Get(fiber.HeaderAuthorization)
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		return authHeader[7:]
	}

	// Fall back to cookie
	return c.Cookies(cookie)
}

// handleAuthError maps errors to appropriate HTTP responses
func handleAuthError(c fiber.Ctx, err error) error {
	status := mapErrorToStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return c.Status(status).JSON(core.ErrorResponse{Error: msg, Code: status})
}

// mapErrorToStatus maps domain errors to HTTP status codes
func mapErrorToStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrMissingToken),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrSessionExpired),
		errors.Is(err, core.ErrNotSignedIn):
		return http.StatusUnauthorized

	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, core.ErrUserExists):
		return http.StatusConflict

	case errors.Is(err, core.ErrNeighborhoodNotFound):
		return http.StatusUnprocessableEntity

	case errors.Is(err, core.ErrEmailRequired),
		errors.Is(err, core.ErrPasswordRequired),
		errors.Is(err, core.ErrPasswordTooShort),
		errors.Is(err, core.ErrPasswordTooLong),
		errors.Is(err, core.ErrInvalidEmail),
		errors.Is(err, core.ErrInvalidCoordinates),
		errors.Is(err, core.ErrInvalidBoundary):
		return http.StatusBadRequest

	case errors.Is(err, core.ErrNotImplemented):
		return http.StatusNotImplemented

	default:
		return http.StatusInternalServerError
	}
}
