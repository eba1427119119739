package kapitbahay

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
	"github.com/lborres/kapitbahay/pkg/cache"
	"github.com/lborres/kapitbahay/pkg/crypto"
	"github.com/lborres/kapitbahay/services"
)

// interfaces
type (
	Storage  = core.Storage
	Cache    = core.Cache
	Provider = core.Provider
	Notifier = core.Notifier
	Clock    = core.Clock
	Mailer   = core.Mailer

	PasswordHandler = crypto.PasswordHandler
)

// structs
type (
	SessionConfig = core.SessionConfig
	CacheConfig   = core.CacheConfig
	RetryPolicy   = services.RetryPolicy
	GuardConfig   = services.GuardConfig
)

type (
	Identity     = core.Identity
	Account      = core.Account
	Profile      = core.Profile
	Neighborhood = core.Neighborhood
	Session      = core.Session
	SessionData  = core.SessionData
	SessionState = core.SessionState
	AuthEvent    = core.AuthEvent
	AuthChange   = core.AuthChange
	Notification = core.Notification
	CacheStats   = core.CacheStats
)

const (
	EventSignedIn         = core.EventSignedIn
	EventSignedOut        = core.EventSignedOut
	EventTokenRefreshed   = core.EventTokenRefreshed
	EventPasswordRecovery = core.EventPasswordRecovery
	EventUserUpdated      = core.EventUserUpdated
)

const (
	defaultSecretLen   = 32
	defaultLoadingWait = 1500 * time.Millisecond

	DefaultClientCookie = "kapitbahay_client"
	DefaultTokenCookie  = "kapitbahay_token"
)

// Constructors & helpers (convenience re-exports)
var (
	NewArgon2            = crypto.NewArgon2
	DefaultSessionConfig = core.DefaultSessionConfig
	DefaultRetryPolicy   = services.DefaultRetryPolicy
	DefaultGuardConfig   = services.DefaultGuardConfig
	NewSessionManager    = services.NewSessionManager
	NewRouteGuard        = services.NewRouteGuard
)

var (
	ErrUserExists         = core.ErrUserExists
	ErrUserNotFound       = core.ErrUserNotFound
	ErrInvalidCredentials = core.ErrInvalidCredentials
	ErrForbidden          = core.ErrForbidden
)

var (
	ErrMissingToken    = core.ErrMissingToken
	ErrInvalidToken    = core.ErrInvalidToken
	ErrSessionNotFound = core.ErrSessionNotFound
	ErrSessionExpired  = core.ErrSessionExpired
	ErrNotSignedIn     = core.ErrNotSignedIn
	ErrCacheNotFound   = core.ErrCacheNotFound
)

var (
	ErrNeighborhoodNotFound = core.ErrNeighborhoodNotFound
	ErrInvalidCoordinates   = core.ErrInvalidCoordinates
	ErrInvalidBoundary      = core.ErrInvalidBoundary
)

var (
	ErrEmailRequired    = core.ErrEmailRequired
	ErrPasswordRequired = core.ErrPasswordRequired
	ErrPasswordTooShort = core.ErrPasswordTooShort
	ErrPasswordTooLong  = core.ErrPasswordTooLong
	ErrInvalidEmail     = core.ErrInvalidEmail
)

var (
	ErrStorageRequired     = core.ErrStorageRequired
	ErrHTTPAdapterRequired = core.ErrHTTPAdapterRequired
	ErrSecretRequired      = core.ErrSecretRequired
	ErrSecretTooShort      = core.ErrSecretTooShort
	ErrInvalidRetryPolicy  = core.ErrInvalidRetryPolicy
)

var (
	ErrNotImplemented = core.ErrNotImplemented
)

// HTTPAdapter binds the app's endpoints to a web framework
type HTTPAdapter interface {
	RegisterRoutes(app *App) error
}

type Config struct {
	Secret  string
	Storage Storage
	HTTP    HTTPAdapter

	Cache         Cache
	DisableCache  bool
	CacheConfig   *CacheConfig
	SessionConfig *SessionConfig

	PasswordHasher PasswordHandler

	Retry *RetryPolicy
	Guard GuardConfig

	// ClientIdleTTL disposes clients that made no request for this long
	ClientIdleTTL time.Duration
	MaxClients    int

	// LoadingWait is how long a guarded request waits for the session
	// to settle before it is answered with a loading response
	LoadingWait time.Duration

	AdminEmails []string

	// Mailer and RecoveryURL enable emailed recovery links
	Mailer      Mailer
	RecoveryURL string
	RecoveryTTL time.Duration

	ClientCookie string
	TokenCookie  string
	CookieSecure bool

	Clock  Clock
	Logger *zerolog.Logger
}

// CookieConfig names the two cookies a browser carries: the client id and
// the session token.
type CookieConfig struct {
	Client string
	Token  string
	Secure bool
	// Key is the base64 cookie encryption key derived from the secret
	Key string
}

// App is the wired application handed to the HTTP adapter
type App struct {
	Auth          *services.AuthService
	Issuer        *services.SessionIssuer
	Hub           *services.EventHub
	Clients       *services.ClientRegistry
	Guard         *services.RouteGuard
	Neighborhoods *services.NeighborhoodService
	Endpoints     *services.EndpointRegistry
	Storage       Storage

	LoadingWait time.Duration
	Cookies     CookieConfig
	Logger      zerolog.Logger
}

func New(config Config) (*App, error) {
	if config.Secret == "" {
		return nil, ErrSecretRequired
	}
	if len(config.Secret) < defaultSecretLen {
		return nil, fmt.Errorf("%w - minimum of %d characters", ErrSecretTooShort, defaultSecretLen)
	}
	if config.Storage == nil {
		return nil, ErrStorageRequired
	}
	if config.HTTP == nil {
		return nil, ErrHTTPAdapterRequired
	}

	// Set Defaults

	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}

	retry := DefaultRetryPolicy()
	if config.Retry != nil {
		retry = *config.Retry
	}
	if err := retry.Validate(); err != nil {
		return nil, err
	}

	cacheAdapter := config.Cache
	if cacheAdapter == nil && !config.DisableCache {
		cacheConfig := CacheConfig{TTL: 5 * time.Minute, MaxSize: 500}
		if config.CacheConfig != nil {
			cacheConfig = *config.CacheConfig
		}
		cacheAdapter = cache.NewMemory[*Session](cacheConfig)
	}

	sessionConfig := DefaultSessionConfig()
	if config.SessionConfig != nil {
		sessionConfig = *config.SessionConfig
	}

	passwordHasher := config.PasswordHasher
	if passwordHasher == nil {
		passwordHasher = NewArgon2()
	}

	loadingWait := config.LoadingWait
	if loadingWait <= 0 {
		loadingWait = defaultLoadingWait
	}

	cookies := CookieConfig{
		Client: config.ClientCookie,
		Token:  config.TokenCookie,
		Secure: config.CookieSecure,
		Key:    cookieKey(config.Secret),
	}
	if cookies.Client == "" {
		cookies.Client = DefaultClientCookie
	}
	if cookies.Token == "" {
		cookies.Token = DefaultTokenCookie
	}

	hub := services.NewEventHub(log.With().Str("component", "hub").Logger())
	issuer := services.NewSessionIssuer(sessionConfig, config.Storage, cacheAdapter)
	auth := services.NewAuthService(config.Storage, passwordHasher, issuer, services.AuthServiceConfig{
		AdminEmails: config.AdminEmails,
		Publisher:   hub,
		Logger:      log.With().Str("component", "auth").Logger(),
		Mailer:      config.Mailer,
		RecoveryURL: config.RecoveryURL,
		RecoveryTTL: config.RecoveryTTL,
	})
	clients := services.NewClientRegistry(auth, config.Storage, hub, services.ClientRegistryConfig{
		IdleTTL:    config.ClientIdleTTL,
		MaxClients: config.MaxClients,
		Retry:      retry,
		Clock:      config.Clock,
		Logger:     log.With().Str("component", "clients").Logger(),
	})

	app := &App{
		Auth:          auth,
		Issuer:        issuer,
		Hub:           hub,
		Clients:       clients,
		Guard:         NewRouteGuard(config.Guard),
		Neighborhoods: services.NewNeighborhoodService(config.Storage, log.With().Str("component", "neighborhoods").Logger()),
		Endpoints:     services.NewEndpointRegistry(),
		Storage:       config.Storage,
		LoadingWait:   loadingWait,
		Cookies:       cookies,
		Logger:        log,
	}

	if err := config.HTTP.RegisterRoutes(app); err != nil {
		clients.Close()
		return nil, err
	}

	return app, nil
}

// Close disposes every live client
func (a *App) Close() {
	a.Clients.Close()
}

// cookieKey derives a 32-byte AES key from the secret
func cookieKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}
