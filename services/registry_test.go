package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
)

func newTestRegistry(cfg ClientRegistryConfig) (*ClientRegistry, *providerFixture) {
	f := newProviderFixture()
	cfg.Logger = zerolog.Nop()
	r := NewClientRegistry(f.auth, f.storage, f.hub, cfg)
	return r, f
}

// waitFor watches m until a state satisfies ok
func waitFor(t *testing.T, m *SessionManager, ok func(core.SessionState) bool) core.SessionState {
	t.Helper()
	ch, cancel := m.Watch()
	defer cancel()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s, open := <-ch:
			if !open {
				t.Fatal("manager disposed while waiting")
			}
			if ok(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state, last known %+v", m.State())
		}
	}
}

// Requirement: a new client settles signed out, and Get finds it again.
func TestClientRegistry_CreateAndGet(t *testing.T) {
	// Arrange
	r, _ := newTestRegistry(ClientRegistryConfig{})
	defer r.Close()

	// Act
	c, err := r.Create(context.Background(), "")

	// Assert
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s := c.Session.WaitSettled(context.Background())
	if s.Loading || s.Identity != nil {
		t.Errorf("new client state = %+v, want settled and signed out", s)
	}
	got, err := r.Get(c.ID)
	if err != nil || got != c {
		t.Errorf("Get() = %v, %v; want the created client", got, err)
	}
	if _, err := r.Get("unknown"); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrClientNotFound", err)
	}
}

// Requirement: GetOrCreate reuses live clients and replaces unknown ones.
func TestClientRegistry_GetOrCreate(t *testing.T) {
	r, _ := newTestRegistry(ClientRegistryConfig{})
	defer r.Close()
	first, created, err := r.GetOrCreate(context.Background(), "", "")
	if err != nil || !created {
		t.Fatalf("GetOrCreate() = %v, %v; want created", created, err)
	}

	again, created, err := r.GetOrCreate(context.Background(), first.ID, "")

	if err != nil || created || again != first {
		t.Errorf("GetOrCreate(existing) = %v, created=%v, %v", again, created, err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

// Requirement: sign-up through a client walks the session state from
// signed out, to needing location setup, to complete.
func TestClientRegistry_OnboardingFlow(t *testing.T) {
	// Arrange
	r, f := newTestRegistry(ClientRegistryConfig{})
	defer r.Close()
	f.storage.SetResolver(func(lat, lng float64) (*core.Neighborhood, error) {
		return &core.Neighborhood{ID: "n1"}, nil
	})
	guard := NewRouteGuard(DefaultGuardConfig())
	c, _ := r.Create(context.Background(), "")
	c.Session.WaitSettled(context.Background())

	// Act & Assert
	if d := guard.Decide(c.Session.State(), "/dashboard"); d.Action != ActionRedirect || d.ReturnTo != "/dashboard" {
		t.Fatalf("signed out decision = %+v, want redirect to auth", d)
	}

	result, err := c.Provider.SignUp(context.Background(), aliceSignUp, testMeta)
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	s := waitFor(t, c.Session, func(s core.SessionState) bool { return s.Profile != nil })
	if s.Identity.ID != result.User.ID {
		t.Fatalf("identity = %s, want %s", s.Identity.ID, result.User.ID)
	}
	if d := guard.Decide(s, "/dashboard"); d.Action != ActionRedirect || d.Location != "/location-setup?redirect=%2Fdashboard" {
		t.Fatalf("no-neighborhood decision = %+v, want redirect to location setup", d)
	}

	if _, err := c.Provider.UpdateLocation(context.Background(), 14.5, 121.0); err != nil {
		t.Fatalf("UpdateLocation() error = %v", err)
	}
	s = waitFor(t, c.Session, func(s core.SessionState) bool { return s.Profile.HasNeighborhood() })
	if d := guard.Decide(s, "/dashboard"); d.Action != ActionRender {
		t.Errorf("complete profile decision = %+v, want render", d)
	}

	if err := c.Session.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	waitFor(t, c.Session, func(s core.SessionState) bool { return s.Identity == nil })
}

// Requirement: a client created with a live token resumes its session.
func TestClientRegistry_RestoresToken(t *testing.T) {
	r, f := newTestRegistry(ClientRegistryConfig{})
	defer r.Close()
	result, _ := f.auth.SignUp(context.Background(), aliceSignUp, testMeta)

	c, _ := r.Create(context.Background(), result.Token)
	s := c.Session.WaitSettled(context.Background())

	if s.Identity == nil || s.Identity.ID != result.User.ID {
		t.Errorf("restored state = %+v, want alice", s)
	}
}

// Requirement: Remove and idle expiry dispose the client's session manager.
func TestClientRegistry_RemoveAndSweep(t *testing.T) {
	// Arrange
	r, _ := newTestRegistry(ClientRegistryConfig{IdleTTL: 20 * time.Millisecond})
	removed, _ := r.Create(context.Background(), "")
	idle, _ := r.Create(context.Background(), "")

	// Act
	r.Remove(removed.ID)
	time.Sleep(40 * time.Millisecond)
	swept := r.Sweep()

	// Assert
	if swept != 1 {
		t.Errorf("Sweep() = %d, want 1", swept)
	}
	for _, c := range []*Client{removed, idle} {
		select {
		case <-c.Session.Done():
		case <-time.After(waitTimeout):
			t.Errorf("client %s was not disposed", c.ID)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

// Requirement: Run disposes every client when its context ends.
func TestClientRegistry_RunStopsOnCancel(t *testing.T) {
	r, _ := newTestRegistry(ClientRegistryConfig{})
	c, _ := r.Create(context.Background(), "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Hour) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
	if c.Session.Alive() {
		t.Error("client should be disposed after Run returns")
	}
}
