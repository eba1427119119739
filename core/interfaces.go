package core

import (
	"context"
	"time"
)

// Ports define interfaces for external dependencies

// ============================================
// PROVIDER PORT (identity & data backend as seen by one client)
// ============================================

// Provider is the client-side view of the identity & data backend.
//
// QueryProfileByID returns (nil, nil) when no profile row exists yet;
// a missing row is not an error.
type Provider interface {
	GetCurrentSession(ctx context.Context) (*SessionData, error)
	OnAuthStateChange(fn func(AuthChange)) Subscription
	QueryProfileByID(ctx context.Context, id string) (*Profile, error)
	SignOut(ctx context.Context) error
}

// Subscription is the handle returned by Provider.OnAuthStateChange
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain func to Subscription
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// AuthEventPublisher fans realtime auth events out to every client
// currently signed in as userID.
type AuthEventPublisher interface {
	PublishUser(userID string, event AuthEvent)
}

// Notifier surfaces toasts to the user
type Notifier interface {
	Notify(n Notification)
}

// Mailer delivers outbound email
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// ============================================
// CLOCK PORT
// ============================================

// Clock schedules delayed callbacks. Tests substitute a fake.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

// SystemClock is the Clock backed by package time
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ============================================
// STORAGE PORTS (Database operations)
// ============================================

// SessionStorage defines session-related database operations
type SessionStorage interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByHash(ctx context.Context, tokenHash string) (*Session, error)
	GetSessionByID(ctx context.Context, id string) (*Session, error)
	GetUserSessions(ctx context.Context, userID string) ([]*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	DeleteSessionByID(ctx context.Context, id string) error
	DeleteSessionByHash(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, userID string) (int, error)
	DeleteExpiredSessions(ctx context.Context) (int, error)
}

// UserStorage defines identity-related database operations
type UserStorage interface {
	CreateUser(ctx context.Context, u *Identity) error
	GetUserByID(ctx context.Context, id string) (*Identity, error)
	GetUserByEmail(ctx context.Context, email string) (*Identity, error)
	UpdateUser(ctx context.Context, u *Identity) error
	DeleteUser(ctx context.Context, id string) error
}

// AccountStorage defines account-related database operations
type AccountStorage interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountByUserAndProvider(ctx context.Context, userID, providerID string) ([]*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error
	DeleteAccount(ctx context.Context, id string) error
}

// ProfileStorage defines profile rows. GetProfileByID returns (nil, nil)
// when the row does not exist.
type ProfileStorage interface {
	GetProfileByID(ctx context.Context, id string) (*Profile, error)
	UpsertProfile(ctx context.Context, p *Profile) error
}

// NeighborhoodStorage defines neighborhood boundaries and the
// database-side point-in-polygon lookup.
type NeighborhoodStorage interface {
	CreateNeighborhood(ctx context.Context, n *Neighborhood) error
	ListNeighborhoods(ctx context.Context) ([]*Neighborhood, error)
	ResolveNeighborhood(ctx context.Context, lat, lng float64) (*Neighborhood, error)
}

type Storage interface {
	UserStorage
	AccountStorage
	SessionStorage
	ProfileStorage
	NeighborhoodStorage
}

// ============================================
// CACHE PORT
// ============================================

// Cache stores verified sessions keyed by token hash
type Cache interface {
	Get(tokenHash string) (*Session, error)
	Set(tokenHash string, session *Session) error
	Delete(tokenHash string) error
	Clear() error
	Stats() CacheStats
}

// CacheConfig configures cache behavior
type CacheConfig struct {
	TTL     time.Duration
	MaxSize int
}

// CacheStats tracks cache performance metrics
type CacheStats struct {
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Sets      int64         `json:"sets"`
	Deletes   int64         `json:"deletes"`
	Evictions int64         `json:"evictions"`
	Size      int           `json:"size"`
	TTL       time.Duration `json:"ttl"`
}

// SessionConfig controls provider session lifetime
type SessionConfig struct {
	MaxAge time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAge: 24 * time.Hour,
	}
}
