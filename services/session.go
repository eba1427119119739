package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
)

const defaultEventBuffer = 64

type SessionManagerConfig struct {
	Retry    RetryPolicy
	Clock    core.Clock
	Notifier core.Notifier
	Logger   zerolog.Logger

	// OnChange runs on the manager's loop after every state write
	OnChange func(core.SessionState)

	// EventBuffer is the capacity of the loop's inbox
	EventBuffer int
}

// SessionManager owns the SessionState of one client.
//
// All state writes happen on a single loop goroutine. Provider calls run
// on their own goroutines and post their results back to the loop, where
// they are applied in arrival order. A result is only applied while the
// manager is alive and, for profile fetches, only if it belongs to the
// current retry chain.
type SessionManager struct {
	provider core.Provider
	retry    RetryPolicy
	clock    core.Clock
	notifier core.Notifier
	log      zerolog.Logger
	onChange func(core.SessionState)

	alive    atomic.Bool
	initOnce sync.Once
	stopOnce sync.Once
	running  bool
	inbox    chan any
	quit     chan struct{}
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	mu          sync.RWMutex
	state       core.SessionState
	sub         core.Subscription
	settled     chan struct{}
	isSettled   bool
	watchers    map[int]chan core.SessionState
	nextWatcher int
	closed      bool

	// loop-owned
	sawEvent   bool
	generation uint64
	chain      *fetchChain
}

// fetchChain is one profile-fetch retry sequence for one identity
type fetchChain struct {
	gen        uint64
	identityID string
	ctx        context.Context
	cancel     context.CancelFunc
	timer      core.Timer
}

type snapshotResult struct {
	data *core.SessionData
	err  error
}

type profileResult struct {
	gen     uint64
	attempt int
	profile *core.Profile
	err     error
}

type retryDue struct {
	gen     uint64
	attempt int
}

func NewSessionManager(provider core.Provider, cfg SessionManagerConfig) *SessionManager {
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	return &SessionManager{
		provider: provider,
		retry:    cfg.Retry,
		clock:    cfg.Clock,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
		onChange: cfg.OnChange,
		inbox:    make(chan any, cfg.EventBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    core.SessionState{Loading: true},
		settled:  make(chan struct{}),
		watchers: make(map[int]chan core.SessionState),
	}
}

// Init starts the manager: it subscribes to auth changes and runs the
// one-shot session check. Only the first call has an effect, and none
// after Dispose.
//
// ctx contributes values only; the manager lives until Dispose.
func (m *SessionManager) Init(ctx context.Context) {
	m.initOnce.Do(func() {
		m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
		m.running = true
		m.alive.Store(true)

		go m.run()

		sub := m.provider.OnAuthStateChange(func(change core.AuthChange) {
			m.post(change)
		})
		m.mu.Lock()
		m.sub = sub
		m.mu.Unlock()

		go func() {
			data, err := m.provider.GetCurrentSession(m.ctx)
			m.post(snapshotResult{data: data, err: err})
		}()
	})
}

// Dispose tears the manager down. Once it returns, the state is frozen:
// no pending continuation, retry timer or auth event mutates it again and
// OnChange is never called again.
func (m *SessionManager) Dispose() {
	m.initOnce.Do(func() {})

	m.stopOnce.Do(func() {
		m.alive.Store(false)

		if !m.running {
			close(m.done)
			m.closeWatchers()
			return
		}

		close(m.quit)
		<-m.done

		// the loop has exited; its fields are ours now
		m.cancelChain()
		m.cancel()

		m.mu.Lock()
		sub := m.sub
		m.sub = nil
		m.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}

		m.closeWatchers()
		m.log.Debug().Msg("session manager disposed")
	})
}

// Done is closed once the manager has been disposed
func (m *SessionManager) Done() <-chan struct{} {
	return m.done
}

// Alive reports whether the manager has been initialized and not disposed
func (m *SessionManager) Alive() bool {
	return m.alive.Load()
}

// State returns a snapshot of the current session state
func (m *SessionManager) State() core.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// WaitSettled blocks until Loading is false for the first time, ctx is done
// or the manager is disposed, and returns the state at that point.
func (m *SessionManager) WaitSettled(ctx context.Context) core.SessionState {
	select {
	case <-m.settled:
	case <-ctx.Done():
	case <-m.done:
	}
	return m.State()
}

// Watch returns a channel that always holds the most recent state. The
// channel is closed by cancel or Dispose.
func (m *SessionManager) Watch() (<-chan core.SessionState, func()) {
	ch := make(chan core.SessionState, 1)

	m.mu.Lock()
	if m.closed {
		ch <- m.state
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = ch
	ch <- m.state
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if w, ok := m.watchers[id]; ok {
				delete(m.watchers, id)
				close(w)
			}
		})
	}
}

// SignOut asks the provider to end the session. The resulting SIGNED_OUT
// event clears the state.
func (m *SessionManager) SignOut(ctx context.Context) error {
	return m.provider.SignOut(ctx)
}

func (m *SessionManager) post(msg any) {
	select {
	case m.inbox <- msg:
	case <-m.quit:
	}
}

func (m *SessionManager) run() {
	defer close(m.done)

	for {
		select {
		case <-m.quit:
			return
		case msg := <-m.inbox:
			if !m.alive.Load() {
				continue
			}
			switch msg := msg.(type) {
			case snapshotResult:
				m.onSnapshot(msg)
			case core.AuthChange:
				m.onAuthEvent(msg)
			case profileResult:
				m.onProfileResult(msg)
			case retryDue:
				m.onRetryDue(msg)
			}
		}
	}
}

// onSnapshot applies the one-shot session check unless an event that wrote
// state was already processed. Events that leave the state alone, such as
// PASSWORD_RECOVERY, do not supersede it.
func (m *SessionManager) onSnapshot(res snapshotResult) {
	if m.sawEvent {
		m.log.Debug().Msg("session check superseded by auth event")
		return
	}

	if res.err != nil {
		m.log.Warn().Err(res.err).Msg("session check failed")
		m.notifier.Notify(core.Notification{
			Level:   core.LevelWarning,
			Title:   "Session check failed",
			Message: "We could not verify your session. Please sign in again if this keeps happening.",
		})
		m.setState(core.SessionState{})
		return
	}

	if res.data == nil || res.data.User == nil {
		m.setState(core.SessionState{})
		return
	}

	m.adoptIdentity(res.data.User)
}

func (m *SessionManager) onAuthEvent(change core.AuthChange) {
	if !change.Event.Valid() {
		m.log.Warn().Str("event", string(change.Event)).Msg("ignoring unknown auth event")
		return
	}

	log := m.log.With().Str("event", string(change.Event)).Logger()

	switch {
	case change.Event == core.EventPasswordRecovery:
		log.Info().Msg("password recovery requested")
		m.notifier.Notify(core.Notification{
			Level:   core.LevelInfo,
			Title:   "Password recovery",
			Message: "Check your email for a link to reset your password.",
		})

	case change.Event == core.EventSignedOut, change.Session == nil, change.Session.User == nil:
		log.Debug().Msg("clearing session")
		m.sawEvent = true
		m.cancelChain()
		m.setState(core.SessionState{})

	default:
		log.Debug().Str("user_id", change.Session.User.ID).Msg("session updated")
		m.sawEvent = true
		m.adoptIdentity(change.Session.User)
	}
}

// adoptIdentity sets the identity and restarts the profile fetch for it.
// A profile that belongs to someone else is dropped right away.
func (m *SessionManager) adoptIdentity(identity *core.Identity) {
	next := m.State()
	next.Identity = identity
	if next.Profile != nil && next.Profile.ID != identity.ID {
		next.Profile = nil
	}
	m.setState(next)
	m.startChain(identity.ID)
}

func (m *SessionManager) startChain(identityID string) {
	m.cancelChain()

	m.generation++
	ctx, cancel := context.WithCancel(m.ctx)
	m.chain = &fetchChain{
		gen:        m.generation,
		identityID: identityID,
		ctx:        ctx,
		cancel:     cancel,
	}
	m.fetchProfile(m.chain, 0)
}

func (m *SessionManager) cancelChain() {
	if m.chain == nil {
		return
	}
	if m.chain.timer != nil {
		m.chain.timer.Stop()
	}
	m.chain.cancel()
	m.chain = nil
}

func (m *SessionManager) fetchProfile(chain *fetchChain, attempt int) {
	m.log.Debug().
		Str("user_id", chain.identityID).
		Int("attempt", attempt).
		Msg("fetching profile")

	go func() {
		profile, err := m.provider.QueryProfileByID(chain.ctx, chain.identityID)
		m.post(profileResult{gen: chain.gen, attempt: attempt, profile: profile, err: err})
	}()
}

func (m *SessionManager) onProfileResult(res profileResult) {
	chain := m.chain
	if chain == nil || chain.gen != res.gen {
		m.log.Debug().Int("attempt", res.attempt).Msg("dropping profile result from a superseded fetch")
		return
	}

	log := m.log.With().Str("user_id", chain.identityID).Int("attempt", res.attempt).Logger()

	if res.err == nil {
		profile := res.profile
		if profile != nil && profile.ID != chain.identityID {
			log.Error().Str("profile_id", profile.ID).Msg("provider returned a profile for another identity")
			profile = nil
		}

		next := m.State()
		next.Profile = profile
		next.Loading = false
		m.setState(next)
		m.cancelChain()
		return
	}

	if m.retry.ShouldRetry(res.attempt) {
		delay := m.retry.Backoff(res.attempt)
		log.Warn().Err(res.err).Dur("backoff", delay).Msg("profile fetch failed, retrying")

		attempt := res.attempt + 1
		chain.timer = m.clock.AfterFunc(delay, func() {
			m.post(retryDue{gen: chain.gen, attempt: attempt})
		})
		return
	}

	log.Error().Err(res.err).Msg("profile fetch failed, giving up")
	m.notifier.Notify(core.Notification{
		Level:   core.LevelError,
		Title:   "Profile unavailable",
		Message: "We could not load your profile. Some features may be unavailable.",
	})

	next := m.State()
	next.Profile = nil
	next.Loading = false
	m.setState(next)
	m.cancelChain()
}

func (m *SessionManager) onRetryDue(due retryDue) {
	chain := m.chain
	if chain == nil || chain.gen != due.gen {
		return
	}
	chain.timer = nil
	m.fetchProfile(chain, due.attempt)
}

func (m *SessionManager) setState(next core.SessionState) {
	if !m.alive.Load() {
		return
	}
	if next.Identity == nil {
		next.Profile = nil
	}

	m.mu.Lock()
	m.state = next
	if !next.Loading && !m.isSettled {
		m.isSettled = true
		close(m.settled)
	}
	for _, ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(next)
	}
}

func (m *SessionManager) closeWatchers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, ch := range m.watchers {
		delete(m.watchers, id)
		close(ch)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(core.Notification) {}
