package fiber

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/encryptcookie"

	"github.com/lborres/kapitbahay"
	"github.com/lborres/kapitbahay/core"
)

type Adapter struct {
	app *fiber.App
	kb  *kapitbahay.App
}

var _ kapitbahay.HTTPAdapter = (*Adapter)(nil)

func New(app *fiber.App) *Adapter {
	return &Adapter{app: app}
}

// RegisterRoutes mounts the cookie and client middleware, then binds every
// registered endpoint to its handler behind the middleware its Access
// level asks for.
func (a *Adapter) RegisterRoutes(kb *kapitbahay.App) error {
	a.kb = kb
	handlers := a.handlers()

	for _, ep := range kb.Endpoints.Endpoints() {
		if _, ok := handlers[ep.Metadata.OperationID]; !ok {
			return fmt.Errorf("no handler for operation %q (%s %s)", ep.Metadata.OperationID, ep.Method, ep.Path)
		}
	}

	a.app.Use(encryptcookie.New(encryptcookie.Config{Key: kb.Cookies.Key}))
	a.app.Use(a.attachClient)

	for _, ep := range kb.Endpoints.Endpoints() {
		h := handlers[ep.Metadata.OperationID]
		methods := []string{ep.Method}

		switch ep.Access {
		case core.AccessAuthenticated:
			a.app.Add(methods, ep.Path, a.requireAuth, h)
		case core.AccessGuarded:
			a.app.Add(methods, ep.Path, a.guard, h)
		default:
			a.app.Add(methods, ep.Path, h)
		}
	}

	return nil
}

func (a *Adapter) handlers() map[string]fiber.Handler {
	return map[string]fiber.Handler{
		"health":                     a.health,
		"authView":                   a.authView,
		"signUpWithEmailAndPassword": a.signup,
		"signInWithEmailAndPassword": a.signin,
		"requestPasswordRecovery":    a.recoverPassword,
		"completePasswordRecovery":   a.completeRecovery,
		"getSession":                 a.session,
		"signOut":                    a.signout,
		"revokeAllSessions":          a.signoutEverywhere,
		"refreshToken":               a.refresh,
		"updatePassword":             a.updatePassword,
		"dashboardView":              a.dashboard,
		"locationSetupView":          a.locationSetup,
		"updateLocation":             a.updateLocation,
		"adminView":                  a.admin,
		"createNeighborhood":         a.createNeighborhood,
	}
}
