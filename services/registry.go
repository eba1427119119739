package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
	"github.com/lborres/kapitbahay/pkg/cache"
)

// Client is everything the server keeps for one browser: its provider
// handle, its session manager and its pending toasts.
type Client struct {
	ID            string
	Provider      *LocalProvider
	Session       *SessionManager
	Notifications *NotificationQueue
	CreatedAt     time.Time
}

func (c *Client) dispose() {
	c.Session.Dispose()
	c.Provider.Close()
}

type ClientRegistryConfig struct {
	IdleTTL           time.Duration
	MaxClients        int
	NotificationLimit int
	Retry             RetryPolicy
	Clock             core.Clock
	Logger            zerolog.Logger
}

// ClientRegistry owns the live clients. Clients that go unused for IdleTTL
// are disposed on the next Sweep or lookup.
type ClientRegistry struct {
	auth    *AuthService
	storage core.Storage
	hub     *EventHub
	cfg     ClientRegistryConfig
	clients *cache.Memory[*Client]
	log     zerolog.Logger
}

var ErrClientNotFound = errors.New("client not found")

func NewClientRegistry(auth *AuthService, storage core.Storage, hub *EventHub, cfg ClientRegistryConfig) *ClientRegistry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}

	r := &ClientRegistry{
		auth:    auth,
		storage: storage,
		hub:     hub,
		cfg:     cfg,
		clients: cache.NewMemory[*Client](core.CacheConfig{TTL: cfg.IdleTTL, MaxSize: cfg.MaxClients}),
		log:     cfg.Logger,
	}
	r.clients.OnEvict = func(id string, c *Client) {
		r.log.Debug().Str("client_id", id).Msg("client evicted")
		c.dispose()
	}
	return r
}

// Create starts a new client, optionally restoring a session token the
// browser still holds.
func (r *ClientRegistry) Create(ctx context.Context, token string) (*Client, error) {
	id := uuid.NewString()
	log := r.log.With().Str("client_id", id).Logger()

	notifications := NewNotificationQueue(r.cfg.NotificationLimit, log)
	provider := NewLocalProvider(r.auth, r.storage, r.hub, log)
	if token != "" {
		provider.Restore(token)
	}
	manager := NewSessionManager(provider, SessionManagerConfig{
		Retry:    r.cfg.Retry,
		Clock:    r.cfg.Clock,
		Notifier: notifications,
		Logger:   log,
	})

	c := &Client{
		ID:            id,
		Provider:      provider,
		Session:       manager,
		Notifications: notifications,
		CreatedAt:     r.cfg.Clock.Now(),
	}

	if err := r.clients.Set(id, c); err != nil {
		c.dispose()
		return nil, err
	}
	manager.Init(ctx)

	log.Debug().Bool("restored", token != "").Msg("client created")
	return c, nil
}

// Get returns a live client and marks it as used
func (r *ClientRegistry) Get(id string) (*Client, error) {
	if id == "" {
		return nil, ErrClientNotFound
	}
	c, err := r.clients.Get(id)
	if err != nil {
		return nil, ErrClientNotFound
	}
	r.clients.Touch(id)
	return c, nil
}

// GetOrCreate returns the client with id, or a new one when it is unknown.
// created reports which happened.
func (r *ClientRegistry) GetOrCreate(ctx context.Context, id, token string) (c *Client, created bool, err error) {
	if c, err := r.Get(id); err == nil {
		return c, false, nil
	}
	c, err = r.Create(ctx, token)
	return c, err == nil, err
}

// Remove disposes a client right away
func (r *ClientRegistry) Remove(id string) {
	c, err := r.clients.Get(id)
	if err != nil {
		return
	}
	_ = r.clients.Delete(id)
	c.dispose()
}

// Sweep disposes idle clients and returns how many were removed
func (r *ClientRegistry) Sweep() int {
	return r.clients.Sweep()
}

func (r *ClientRegistry) Len() int {
	return r.clients.Len()
}

// Run sweeps on every interval until ctx is done, then disposes every client
func (r *ClientRegistry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Debug().Int("removed", n).Int("live", r.Len()).Msg("swept idle clients")
			}
		}
	}
}

// Close disposes every client
func (r *ClientRegistry) Close() {
	_ = r.clients.Clear()
}
