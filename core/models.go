package core

import "time"

// Identity represents an authenticated user
//
// This is the handle the provider issues on sign-in - who someone is
type Identity struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	Name          string    `json:"name"`
	IsAdmin       bool      `json:"isAdmin"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Account represents an authentication method
//
// This is the "credential" - how someone proves who they are
type Account struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ProviderID string    `json:"providerId"` // "credential"
	AccountID  string    `json:"accountId"`
	Password   *string   `json:"-"` // Never expose in JSON
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Profile is the app-owned extension of an Identity.
//
// Profile.ID always equals the owning Identity.ID. Coordinates and the
// neighborhood reference stay nil until location setup completes.
type Profile struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"displayName"`
	AvatarURL      *string   `json:"avatarUrl,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	NeighborhoodID *string   `json:"neighborhoodId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HasNeighborhood reports whether location setup has assigned a neighborhood.
func (p *Profile) HasNeighborhood() bool {
	return p != nil && p.NeighborhoodID != nil && *p.NeighborhoodID != ""
}

// Neighborhood is an administrator-defined region. Boundary holds a GeoJSON
// polygon; containment checks run inside the database.
type Neighborhood struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Boundary  string    `json:"boundary"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session represents an active login session stored by the provider
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"-"` // Never expose in JSON (security!)
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionData combines identity and session info
// The model the provider hands to its clients
type SessionData struct {
	User    *Identity `json:"user"`
	Session *Session  `json:"session"`
}

// SessionState is the single source of truth for who is logged in.
//
// Identity == nil implies Profile == nil. Profile is only meaningful once
// Loading is false.
type SessionState struct {
	Identity *Identity `json:"identity"`
	Profile  *Profile  `json:"profile"`
	Loading  bool      `json:"loading"`
}

// AuthEvent names a provider authentication state change.
type AuthEvent string

const (
	EventSignedIn         AuthEvent = "SIGNED_IN"
	EventSignedOut        AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed   AuthEvent = "TOKEN_REFRESHED"
	EventPasswordRecovery AuthEvent = "PASSWORD_RECOVERY"
	EventUserUpdated      AuthEvent = "USER_UPDATED"
)

// Valid reports whether e is one of the known events.
func (e AuthEvent) Valid() bool {
	switch e {
	case EventSignedIn, EventSignedOut, EventTokenRefreshed, EventPasswordRecovery, EventUserUpdated:
		return true
	}
	return false
}

// AuthChange is one notification on the provider's event stream.
// Session is nil for events that carry no session (e.g. SIGNED_OUT).
type AuthChange struct {
	Event   AuthEvent
	Session *SessionData
}

// NotificationLevel is the severity of a user-visible toast.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a non-blocking, user-visible message (a toast).
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	At      time.Time         `json:"at"`
}

// SignUpInput is the request to register with email and password
type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// SignInInput is the request to authenticate with email and password
type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ClientMeta describes the browser a session is issued to
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// AuthResult is returned by sign-up and sign-in. Token is the only copy of
// the opaque session token; storage keeps its hash.
type AuthResult struct {
	User    *Identity `json:"user"`
	Session *Session  `json:"session"`
	Token   string    `json:"-"`
}

// LocationInput is the coordinate pair submitted by location setup
type LocationInput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NeighborhoodInput is the admin request to define a neighborhood
type NeighborhoodInput struct {
	Name     string `json:"name"`
	Boundary string `json:"boundary"`
}

// Email is one outbound plain-text message
type Email struct {
	To      []string
	Subject string
	Body    string
}

// PasswordInput is the new password submitted after recovery
type PasswordInput struct {
	Password string `json:"password"`
}
