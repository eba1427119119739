package services

import (
	"net/url"
	"strings"

	"github.com/lborres/kapitbahay/core"
)

// GuardAction is what the route guard tells the caller to do with a navigation
type GuardAction int

const (
	// ActionRender shows the requested view
	ActionRender GuardAction = iota
	// ActionLoading shows a loading indicator and waits for the next state
	ActionLoading
	// ActionRedirect sends the client to Decision.Location
	ActionRedirect
)

func (a GuardAction) String() string {
	switch a {
	case ActionRender:
		return "render"
	case ActionLoading:
		return "loading"
	case ActionRedirect:
		return "redirect"
	}
	return "unknown"
}

type GuardConfig struct {
	AuthPath          string `yaml:"auth_path" env:"AUTH_PATH"`
	LocationSetupPath string `yaml:"location_setup_path" env:"LOCATION_SETUP_PATH"`
	AdminPath         string `yaml:"admin_path" env:"ADMIN_PATH"`
	HomePath          string `yaml:"home_path" env:"HOME_PATH"`
	RedirectParam     string `yaml:"redirect_param" env:"REDIRECT_PARAM"`
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		AuthPath:          "/auth",
		LocationSetupPath: "/location-setup",
		AdminPath:         "/admin",
		HomePath:          "/dashboard",
		RedirectParam:     "redirect",
	}
}

// Decision is the outcome for one navigation. Location and ReturnTo are
// only set for ActionRedirect.
type Decision struct {
	Action   GuardAction
	Location string
	ReturnTo string
}

// RouteGuard maps a session state and a navigation target to a Decision.
// It keeps no state between calls.
type RouteGuard struct {
	cfg GuardConfig
}

func NewRouteGuard(cfg GuardConfig) *RouteGuard {
	def := DefaultGuardConfig()
	if cfg.AuthPath == "" {
		cfg.AuthPath = def.AuthPath
	}
	if cfg.LocationSetupPath == "" {
		cfg.LocationSetupPath = def.LocationSetupPath
	}
	if cfg.AdminPath == "" {
		cfg.AdminPath = def.AdminPath
	}
	if cfg.HomePath == "" {
		cfg.HomePath = def.HomePath
	}
	if cfg.RedirectParam == "" {
		cfg.RedirectParam = def.RedirectParam
	}
	return &RouteGuard{cfg: cfg}
}

func (g *RouteGuard) Config() GuardConfig {
	return g.cfg
}

// Decide evaluates the guard table top to bottom for target, a request
// URI (path plus optional query).
func (g *RouteGuard) Decide(state core.SessionState, target string) Decision {
	path := requestPath(target)

	switch {
	case state.Loading:
		return Decision{Action: ActionLoading}

	case state.Identity == nil:
		return g.redirect(g.cfg.AuthPath, target)

	case underPath(path, g.cfg.AdminPath):
		return Decision{Action: ActionRender}

	case underPath(path, g.cfg.LocationSetupPath):
		return Decision{Action: ActionRender}

	case state.Profile == nil:
		return Decision{Action: ActionLoading}

	case !state.Profile.HasNeighborhood():
		return g.redirect(g.cfg.LocationSetupPath, target)
	}

	return Decision{Action: ActionRender}
}

// ReturnTarget turns the redirect parameter of a guard redirect back into
// a local path. Anything that is not a same-origin absolute path yields
// the home path.
func (g *RouteGuard) ReturnTarget(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return g.cfg.HomePath
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return g.cfg.HomePath
	}
	return raw
}

func (g *RouteGuard) redirect(to, target string) Decision {
	q := url.Values{}
	q.Set(g.cfg.RedirectParam, target)
	return Decision{
		Action:   ActionRedirect,
		Location: to + "?" + q.Encode(),
		ReturnTo: target,
	}
}

func requestPath(target string) string {
	if u, err := url.ParseRequestURI(target); err == nil {
		return u.Path
	}
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		return target[:i]
	}
	return target
}

// underPath reports whether path is base or a segment-wise descendant of
// it. Matching ignores case, as fiber's default router does.
func underPath(path, base string) bool {
	path = strings.ToLower(path)
	base = strings.ToLower(strings.TrimSuffix(base, "/"))
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+"/")
}
