package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
)

const remoteRefreshTimeout = 5 * time.Second

// LocalProvider is one client's handle on the identity and data backend.
// It holds that client's session token, and reports every change to it,
// local or pushed through the EventHub, to its subscribers.
type LocalProvider struct {
	auth          *AuthService
	profiles      core.ProfileStorage
	neighborhoods core.NeighborhoodStorage
	hub           *EventHub
	log           zerolog.Logger

	mu      sync.Mutex
	token   string
	session *core.SessionData
	hubSub  core.Subscription
	subs    map[uint64]func(core.AuthChange)
	nextSub uint64
	closed  bool

	// emitMu keeps events in order for subscribers
	emitMu sync.Mutex
}

var _ core.Provider = (*LocalProvider)(nil)

func NewLocalProvider(auth *AuthService, storage core.Storage, hub *EventHub, log zerolog.Logger) *LocalProvider {
	return &LocalProvider{
		auth:          auth,
		profiles:      storage,
		neighborhoods: storage,
		hub:           hub,
		log:           log,
		subs:          make(map[uint64]func(core.AuthChange)),
	}
}

// Token returns the client's current session token, if any
func (p *LocalProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// Restore adopts a token presented by the client (from its cookie) without
// emitting an event; the next GetCurrentSession validates it.
func (p *LocalProvider) Restore(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" && !p.closed {
		p.token = token
	}
}

func (p *LocalProvider) GetCurrentSession(ctx context.Context) (*core.SessionData, error) {
	token := p.Token()
	if token == "" {
		return nil, nil
	}

	data, err := p.auth.GetSession(ctx, token)
	if err != nil {
		if isDeadSession(err) {
			p.log.Debug().Err(err).Msg("stored session is no longer valid")
			p.clear()
			return nil, nil
		}
		return nil, err
	}

	p.adopt(token, data)
	return data, nil
}

func (p *LocalProvider) OnAuthStateChange(fn func(core.AuthChange)) core.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn

	var once sync.Once
	return core.SubscriptionFunc(func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
		})
	})
}

// QueryProfileByID reads a profile row. A missing row is (nil, nil).
func (p *LocalProvider) QueryProfileByID(ctx context.Context, id string) (*core.Profile, error) {
	if p.Token() == "" {
		return nil, core.ErrNotSignedIn
	}
	return p.profiles.GetProfileByID(ctx, id)
}

func (p *LocalProvider) SignOut(ctx context.Context) error {
	token := p.Token()
	if token == "" {
		return nil
	}

	if err := p.auth.SignOut(ctx, token); err != nil {
		return err
	}

	p.clear()
	p.emit(core.AuthChange{Event: core.EventSignedOut})
	return nil
}

func (p *LocalProvider) SignUp(ctx context.Context, input core.SignUpInput, meta core.ClientMeta) (*core.AuthResult, error) {
	result, err := p.auth.SignUp(ctx, input, meta)
	if err != nil {
		return nil, err
	}
	p.signedIn(ctx, result)
	return result, nil
}

func (p *LocalProvider) SignIn(ctx context.Context, input core.SignInInput, meta core.ClientMeta) (*core.AuthResult, error) {
	result, err := p.auth.SignIn(ctx, input, meta)
	if err != nil {
		return nil, err
	}
	p.signedIn(ctx, result)
	return result, nil
}

func (p *LocalProvider) signedIn(ctx context.Context, result *core.AuthResult) {
	// a previous session on this client is replaced
	if old := p.Token(); old != "" && old != result.Token {
		if err := p.auth.SignOut(ctx, old); err != nil {
			p.log.Warn().Err(err).Msg("failed to end replaced session")
		}
	}

	data := &core.SessionData{User: result.User, Session: result.Session}
	p.adopt(result.Token, data)
	p.emit(core.AuthChange{Event: core.EventSignedIn, Session: data})
}

// Recover redeems the token from a recovery link for a fresh session,
// signs the client in with it and emits SIGNED_IN followed by
// PASSWORD_RECOVERY. A link works once.
func (p *LocalProvider) Recover(ctx context.Context, token string, meta core.ClientMeta) (*core.AuthResult, error) {
	result, err := p.auth.RedeemRecovery(ctx, token, meta)
	if err != nil {
		return nil, err
	}

	if old := p.Token(); old != "" {
		if err := p.auth.SignOut(ctx, old); err != nil {
			p.log.Warn().Err(err).Msg("failed to end replaced session")
		}
	}

	data := &core.SessionData{User: result.User, Session: result.Session}
	p.adopt(result.Token, data)
	p.emit(core.AuthChange{Event: core.EventSignedIn, Session: data})
	p.emit(core.AuthChange{Event: core.EventPasswordRecovery, Session: data})
	return result, nil
}

// ChangePassword sets a new password for the signed-in user
func (p *LocalProvider) ChangePassword(ctx context.Context, password string) error {
	data := p.Session()
	if data == nil {
		return core.ErrNotSignedIn
	}
	return p.auth.ChangePassword(ctx, data.User.ID, password)
}

// Refresh extends the current session and emits TOKEN_REFRESHED
func (p *LocalProvider) Refresh(ctx context.Context) (*core.SessionData, error) {
	token := p.Token()
	if token == "" {
		return nil, core.ErrNotSignedIn
	}

	data, err := p.auth.Refresh(ctx, token)
	if err != nil {
		if isDeadSession(err) {
			p.clear()
			p.emit(core.AuthChange{Event: core.EventSignedOut})
		}
		return nil, err
	}

	p.adopt(token, data)
	p.emit(core.AuthChange{Event: core.EventTokenRefreshed, Session: data})
	return data, nil
}

// RevokeEverywhere ends every session of the signed-in user
func (p *LocalProvider) RevokeEverywhere(ctx context.Context) (int, error) {
	data := p.Session()
	if data == nil {
		return 0, core.ErrNotSignedIn
	}
	// the hub delivers SIGNED_OUT to this client as well
	return p.auth.RevokeUser(ctx, data.User.ID)
}

// UpdateLocation resolves the neighborhood containing (lat, lng), stores
// it on the signed-in user's profile and announces USER_UPDATED.
func (p *LocalProvider) UpdateLocation(ctx context.Context, lat, lng float64) (*core.Profile, error) {
	data := p.Session()
	if data == nil {
		return nil, core.ErrNotSignedIn
	}
	if !validCoordinates(lat, lng) {
		return nil, core.ErrInvalidCoordinates
	}

	n, err := p.neighborhoods.ResolveNeighborhood(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	userID := data.User.ID
	profile, err := p.profiles.GetProfileByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		profile = &core.Profile{ID: userID, DisplayName: data.User.Name}
	}
	profile.Latitude = &lat
	profile.Longitude = &lng
	profile.NeighborhoodID = &n.ID

	if err := p.profiles.UpsertProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	p.log.Info().Str("user_id", userID).Str("neighborhood_id", n.ID).Msg("location updated")
	p.hub.PublishUser(userID, core.EventUserUpdated)
	return profile, nil
}

// Session returns the last session data seen by this client
func (p *LocalProvider) Session() *core.SessionData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Close drops the hub subscription and every subscriber
func (p *LocalProvider) Close() {
	p.mu.Lock()
	p.closed = true
	sub := p.hubSub
	p.hubSub = nil
	p.subs = make(map[uint64]func(core.AuthChange))
	p.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (p *LocalProvider) adopt(token string, data *core.SessionData) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var stale core.Subscription
	prevUser := ""
	if p.session != nil {
		prevUser = p.session.User.ID
	}
	if prevUser != data.User.ID || p.hubSub == nil {
		stale = p.hubSub
		userID := data.User.ID
		p.hubSub = p.hub.Subscribe(userID, func(ev core.AuthEvent) { p.onRemote(userID, ev) })
	}
	p.token = token
	p.session = data
	p.mu.Unlock()

	if stale != nil {
		stale.Unsubscribe()
	}
}

func (p *LocalProvider) clear() {
	p.mu.Lock()
	sub := p.hubSub
	p.hubSub = nil
	p.token = ""
	p.session = nil
	p.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// onRemote handles an event published for userID by another client, an
// admin action or the database listener.
func (p *LocalProvider) onRemote(userID string, event core.AuthEvent) {
	token := p.Token()
	if token == "" {
		return
	}

	if event == core.EventSignedOut {
		// only a revoked session signs this client out
		ctx, cancel := context.WithTimeout(context.Background(), remoteRefreshTimeout)
		defer cancel()
		if _, err := p.auth.GetFreshSession(ctx, token); err != nil && isDeadSession(err) {
			p.clear()
			p.emit(core.AuthChange{Event: core.EventSignedOut})
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteRefreshTimeout)
	defer cancel()

	data, err := p.auth.GetFreshSession(ctx, token)
	if err != nil {
		if isDeadSession(err) {
			p.clear()
			p.emit(core.AuthChange{Event: core.EventSignedOut})
			return
		}
		p.log.Warn().Err(err).Str("user_id", userID).Msg("failed to refresh session after remote event")
		data = p.Session()
		if data == nil {
			return
		}
	}

	p.adopt(token, data)
	p.emit(core.AuthChange{Event: event, Session: data})
}

func (p *LocalProvider) emit(change core.AuthChange) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	fns := make([]func(core.AuthChange), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

func isDeadSession(err error) bool {
	return errors.Is(err, core.ErrInvalidToken) ||
		errors.Is(err, core.ErrSessionExpired) ||
		errors.Is(err, core.ErrSessionNotFound) ||
		errors.Is(err, core.ErrUserNotFound)
}

func validCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
