package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lborres/kapitbahay/core"
)

// FakeStorage is a test-only fake implementing core.Storage.
// It keeps every table in a map and exposes per-operation error injection.
type FakeStorage struct {
	mu            sync.RWMutex
	users         map[string]*core.Identity
	accounts      map[string]*core.Account
	sessions      map[string]*core.Session // keyed by token hash
	profiles      map[string]*core.Profile
	neighborhoods map[string]*core.Neighborhood
	errs          map[string]error
	resolver      func(lat, lng float64) (*core.Neighborhood, error)
}

var _ core.Storage = (*FakeStorage)(nil)

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		users:         make(map[string]*core.Identity),
		accounts:      make(map[string]*core.Account),
		sessions:      make(map[string]*core.Session),
		profiles:      make(map[string]*core.Profile),
		neighborhoods: make(map[string]*core.Neighborhood),
		errs:          make(map[string]error),
	}
}

// SetError makes every call to the named method fail with err until cleared
// with a nil err.
func (f *FakeStorage) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// SetResolver replaces the point-in-polygon lookup. Without one, every
// location resolves to core.ErrNeighborhoodNotFound.
func (f *FakeStorage) SetResolver(fn func(lat, lng float64) (*core.Neighborhood, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolver = fn
}

func (f *FakeStorage) fail(method string) error {
	return f.errs[method]
}

// UserStorage implementation
func (f *FakeStorage) CreateUser(_ context.Context, u *core.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateUser"); err != nil {
		return err
	}
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return core.ErrUserExists
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	f.users[u.ID] = u
	return nil
}

func (f *FakeStorage) GetUserByID(_ context.Context, id string) (*core.Identity, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.fail("GetUserByID"); err != nil {
		return nil, err
	}
	if u, ok := f.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, core.ErrUserNotFound
}

func (f *FakeStorage) GetUserByEmail(_ context.Context, email string) (*core.Identity, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.fail("GetUserByEmail"); err != nil {
		return nil, err
	}
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, core.ErrUserNotFound
}

func (f *FakeStorage) UpdateUser(_ context.Context, u *core.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[u.ID]; !exists {
		return core.ErrUserNotFound
	}
	u.UpdatedAt = time.Now()
	f.users[u.ID] = u
	return nil
}

func (f *FakeStorage) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[id]; !exists {
		return core.ErrUserNotFound
	}
	delete(f.users, id)
	return nil
}

// AccountStorage implementation
func (f *FakeStorage) CreateAccount(_ context.Context, a *core.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateAccount"); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	f.accounts[a.ID] = a
	return nil
}

func (f *FakeStorage) GetAccountByID(_ context.Context, id string) (*core.Account, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if a, ok := f.accounts[id]; ok {
		return a, nil
	}
	return nil, errors.New("account not found")
}

func (f *FakeStorage) GetAccountByUserAndProvider(_ context.Context, userID, providerID string) ([]*core.Account, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.fail("GetAccountByUserAndProvider"); err != nil {
		return nil, err
	}
	var accounts []*core.Account
	for _, a := range f.accounts {
		if a.UserID == userID && a.ProviderID == providerID {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

func (f *FakeStorage) UpdateAccount(_ context.Context, a *core.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.accounts[a.ID]; !exists {
		return errors.New("account not found")
	}
	f.accounts[a.ID] = a
	return nil
}

func (f *FakeStorage) DeleteAccount(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.accounts[id]; !exists {
		return errors.New("account not found")
	}
	delete(f.accounts, id)
	return nil
}

// SessionStorage implementation
func (f *FakeStorage) CreateSession(_ context.Context, s *core.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateSession"); err != nil {
		return err
	}
	f.sessions[s.TokenHash] = s
	return nil
}

func (f *FakeStorage) GetSessionByHash(_ context.Context, tokenHash string) (*core.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.fail("GetSessionByHash"); err != nil {
		return nil, err
	}
	s, ok := f.sessions[tokenHash]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *FakeStorage) GetSessionByID(_ context.Context, id string) (*core.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sessions {
		if s.ID == id {
			copied := *s
			return &copied, nil
		}
	}
	return nil, core.ErrSessionNotFound
}

func (f *FakeStorage) GetUserSessions(_ context.Context, userID string) ([]*core.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var sessions []*core.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

func (f *FakeStorage) UpdateSession(_ context.Context, s *core.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateSession"); err != nil {
		return err
	}
	if _, ok := f.sessions[s.TokenHash]; !ok {
		return core.ErrSessionNotFound
	}
	copied := *s
	f.sessions[s.TokenHash] = &copied
	return nil
}

func (f *FakeStorage) DeleteSessionByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, s := range f.sessions {
		if s.ID == id {
			delete(f.sessions, k)
			return nil
		}
	}
	return core.ErrSessionNotFound
}

func (f *FakeStorage) DeleteSessionByHash(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteSessionByHash"); err != nil {
		return err
	}
	if _, ok := f.sessions[tokenHash]; !ok {
		return core.ErrSessionNotFound
	}
	delete(f.sessions, tokenHash)
	return nil
}

func (f *FakeStorage) DeleteUserSessions(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for k, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, k)
			count++
		}
	}
	return count, nil
}

func (f *FakeStorage) DeleteExpiredSessions(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	count := 0
	for k, s := range f.sessions {
		if now.After(s.ExpiresAt) {
			delete(f.sessions, k)
			count++
		}
	}
	return count, nil
}

// SessionCount returns the number of stored sessions
func (f *FakeStorage) SessionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sessions)
}

// ProfileStorage implementation
func (f *FakeStorage) GetProfileByID(_ context.Context, id string) (*core.Profile, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.fail("GetProfileByID"); err != nil {
		return nil, err
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (f *FakeStorage) UpsertProfile(_ context.Context, p *core.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpsertProfile"); err != nil {
		return err
	}
	now := time.Now()
	if existing, ok := f.profiles[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	copied := *p
	f.profiles[p.ID] = &copied
	return nil
}

// NeighborhoodStorage implementation
func (f *FakeStorage) CreateNeighborhood(_ context.Context, n *core.Neighborhood) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateNeighborhood"); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now()
	f.neighborhoods[n.ID] = n
	return nil
}

func (f *FakeStorage) ListNeighborhoods(_ context.Context) ([]*core.Neighborhood, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	list := make([]*core.Neighborhood, 0, len(f.neighborhoods))
	for _, n := range f.neighborhoods {
		list = append(list, n)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (f *FakeStorage) ResolveNeighborhood(_ context.Context, lat, lng float64) (*core.Neighborhood, error) {
	f.mu.RLock()
	resolver := f.resolver
	err := f.fail("ResolveNeighborhood")
	f.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, core.ErrNeighborhoodNotFound
	}
	return resolver(lat, lng)
}

// FakeProvider is a test-only fake implementing core.Provider.
//
// Profile queries fail with the queued errors first, one per call, and then
// succeed with whatever SetProfile stored. Every query is reported on
// ProfileCalls.
type FakeProvider struct {
	mu           sync.Mutex
	session      *core.SessionData
	sessionErr   error
	sessionGate  chan struct{}
	profiles     map[string]*core.Profile
	profileErrs  []error
	profileGate  chan struct{}
	subs         map[int]func(core.AuthChange)
	nextSub      int
	signOutErr   error
	signOuts     int
	profileCalls chan string
}

var _ core.Provider = (*FakeProvider)(nil)

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		profiles:     make(map[string]*core.Profile),
		subs:         make(map[int]func(core.AuthChange)),
		profileCalls: make(chan string, 64),
	}
}

func (f *FakeProvider) SetSession(data *core.SessionData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = data
}

func (f *FakeProvider) SetSessionError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionErr = err
}

// HoldSession makes GetCurrentSession block until the returned func is called
func (f *FakeProvider) HoldSession() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.sessionGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// HoldProfiles makes QueryProfileByID block until the returned func is
// called or the query's context is cancelled.
func (f *FakeProvider) HoldProfiles() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.profileGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *FakeProvider) SetProfile(p *core.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

// FailProfile queues n failures with err
func (f *FakeProvider) FailProfile(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.profileErrs = append(f.profileErrs, err)
	}
}

func (f *FakeProvider) SetSignOutError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutErr = err
}

// ProfileCalls receives the identity id of every profile query
func (f *FakeProvider) ProfileCalls() <-chan string {
	return f.profileCalls
}

// Emit delivers change to every subscriber, synchronously
func (f *FakeProvider) Emit(change core.AuthChange) {
	f.mu.Lock()
	subs := make([]func(core.AuthChange), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(change)
	}
}

func (f *FakeProvider) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *FakeProvider) SignOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

func (f *FakeProvider) GetCurrentSession(ctx context.Context) (*core.SessionData, error) {
	f.mu.Lock()
	gate := f.sessionGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.sessionErr
}

func (f *FakeProvider) OnAuthStateChange(fn func(core.AuthChange)) core.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return core.SubscriptionFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	})
}

func (f *FakeProvider) QueryProfileByID(ctx context.Context, id string) (*core.Profile, error) {
	select {
	case f.profileCalls <- id:
	default:
	}

	f.mu.Lock()
	gate := f.profileGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.profileErrs) > 0 {
		err := f.profileErrs[0]
		f.profileErrs = f.profileErrs[1:]
		return nil, err
	}
	return f.profiles[id], nil
}

func (f *FakeProvider) SignOut(_ context.Context) error {
	f.mu.Lock()
	f.signOuts++
	err := f.signOutErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.Emit(core.AuthChange{Event: core.EventSignedOut})
	return nil
}

// FakeClock is a test-only core.Clock whose time only moves on Advance
type FakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	scheduled chan time.Duration
}

type fakeTimer struct {
	clock *FakeClock
	at    time.Time
	fn    func()
	done  bool
}

var _ core.Clock = (*FakeClock)(nil)

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start, scheduled: make(chan time.Duration, 64)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, fn func()) core.Timer {
	c.mu.Lock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	c.mu.Unlock()

	select {
	case c.scheduled <- d:
	default:
	}
	return t
}

// Scheduled receives the delay of every AfterFunc call
func (c *FakeClock) Scheduled() <-chan time.Duration {
	return c.scheduled
}

// Advance moves time forward and runs every timer that came due, in order
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, pending []*fakeTimer
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		} else {
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of timers that have neither fired nor stopped
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			break
		}
	}
	return true
}

// RecordingNotifier is a test-only core.Notifier that keeps every toast
type RecordingNotifier struct {
	mu    sync.Mutex
	items []core.Notification
}

func (r *RecordingNotifier) Notify(n core.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *RecordingNotifier) Notifications() []core.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Notification(nil), r.items...)
}

// Count returns how many toasts of the given level were sent
func (r *RecordingNotifier) Count(level core.NotificationLevel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Level == level {
			n++
		}
	}
	return n
}

// RecordingMailer is a test-only core.Mailer that keeps every message and
// optionally fails.
type RecordingMailer struct {
	mu   sync.Mutex
	sent []core.Email
	err  error
}

func (r *RecordingMailer) Send(_ context.Context, msg core.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *RecordingMailer) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *RecordingMailer) Sent() []core.Email {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Email(nil), r.sent...)
}

// FakeCache is a test-only fake implementing core.Cache.
// It stores sessions in a map and exposes error fields for behavior injection.
type FakeCache struct {
	cache  map[string]*core.Session
	mu     sync.RWMutex
	getErr error
	setErr error
	hits   int
	misses int
}

var _ core.Cache = (*FakeCache)(nil)

func NewFakeCache() *FakeCache {
	return &FakeCache{
		cache: make(map[string]*core.Session),
	}
}

func (f *FakeCache) Get(tokenHash string) (*core.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.cache[tokenHash]
	if !ok {
		f.misses++
		return nil, core.ErrCacheNotFound
	}
	f.hits++
	return s, nil
}

func (f *FakeCache) Set(tokenHash string, session *core.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.cache[tokenHash] = session
	return nil
}

func (f *FakeCache) Delete(tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, tokenHash)
	return nil
}

func (f *FakeCache) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]*core.Session)
	return nil
}

func (f *FakeCache) Stats() core.CacheStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return core.CacheStats{
		Hits:   int64(f.hits),
		Misses: int64(f.misses),
		Size:   len(f.cache),
	}
}

// Test helper methods
func (f *FakeCache) SetGetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

func (f *FakeCache) SetSetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setErr = err
}

func (f *FakeCache) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}
