package fiber

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/lborres/kapitbahay/core"
	"github.com/lborres/kapitbahay/services"
)

const (
	localsClient = "client"
	localsState  = "state"

	clientCookieMaxAge = 365 * 24 * time.Hour
	loadingRetryAfter  = time.Second
)

// attachClient finds the client behind the client-id cookie, or starts a
// new one seeded with whatever session token the browser still holds.
func (a *Adapter) attachClient(c fiber.Ctx) error {
	id := c.Cookies(a.kb.Cookies.Client)
	token := extractToken(c, a.kb.Cookies.Token)

	client, created, err := a.kb.Clients.GetOrCreate(c.Context(), id, token)
	if err != nil {
		a.kb.Logger.Error().Err(err).Msg("failed to create client")
		return handleAuthError(c, err)
	}
	if created {
		c.Cookie(&fiber.Cookie{
			Name:     a.kb.Cookies.Client,
			Value:    client.ID,
			Path:     "/",
			MaxAge:   int(clientCookieMaxAge.Seconds()),
			HTTPOnly: true,
			Secure:   a.kb.Cookies.Secure,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}

	c.Locals(localsClient, client)
	return c.Next()
}

// settledState waits up to LoadingWait for the client's first settle
func (a *Adapter) settledState(c fiber.Ctx, client *services.Client) core.SessionState {
	ctx, cancel := context.WithTimeout(c.Context(), a.kb.LoadingWait)
	defer cancel()
	state := client.Session.WaitSettled(ctx)
	c.Locals(localsState, state)
	return state
}

// awaitState waits up to LoadingWait for the client's state to satisfy
// done, so a response to sign-in or sign-out already reflects it.
func (a *Adapter) awaitState(c fiber.Ctx, client *services.Client, done func(core.SessionState) bool) {
	ctx, cancel := context.WithTimeout(c.Context(), a.kb.LoadingWait)
	defer cancel()

	states, stop := client.Session.Watch()
	defer stop()
	for {
		select {
		case state, ok := <-states:
			if !ok || done(state) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func signedInAs(userID string) func(core.SessionState) bool {
	return func(s core.SessionState) bool {
		return s.Identity != nil && s.Identity.ID == userID
	}
}

// inNeighborhood waits for the session to carry the neighborhood of an
// updated profile
func inNeighborhood(updated *core.Profile) func(core.SessionState) bool {
	return func(s core.SessionState) bool {
		if updated == nil || updated.NeighborhoodID == nil {
			return true
		}
		return s.Profile != nil && s.Profile.NeighborhoodID != nil &&
			*s.Profile.NeighborhoodID == *updated.NeighborhoodID
	}
}

func signedOut(s core.SessionState) bool {
	return s.Identity == nil && !s.Loading
}

// requireAuth lets the request through once the client has an identity
func (a *Adapter) requireAuth(c fiber.Ctx) error {
	client := clientFrom(c)
	state := a.settledState(c, client)
	if state.Loading {
		return loading(c)
	}
	if state.Identity == nil {
		return handleAuthError(c, core.ErrNotSignedIn)
	}
	return c.Next()
}

// guard applies the route guard to the requested URI
func (a *Adapter) guard(c fiber.Ctx) error {
	client := clientFrom(c)
	state := a.settledState(c, client)

	decision := a.kb.Guard.Decide(state, c.OriginalURL())
	a.kb.Logger.Debug().
		Str("client_id", client.ID).
		Str("target", c.OriginalURL()).
		Stringer("action", decision.Action).
		Msg("guard decision")

	switch decision.Action {
	case services.ActionLoading:
		return loading(c)
	case services.ActionRedirect:
		return c.Redirect().Status(fiber.StatusFound).To(decision.Location)
	}
	return c.Next()
}

func loading(c fiber.Ctx) error {
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(loadingRetryAfter.Seconds())))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "loading"})
}

func clientFrom(c fiber.Ctx) *services.Client {
	client, _ := c.Locals(localsClient).(*services.Client)
	return client
}

// stateFrom returns the state the middleware acted on
func stateFrom(c fiber.Ctx) core.SessionState {
	if state, ok := c.Locals(localsState).(core.SessionState); ok {
		return state
	}
	return clientFrom(c).Session.State()
}
