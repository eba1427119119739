package kapitbahay

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/lborres/kapitbahay/services"
)

const testSecret = "secretshouldbeatleast32charslong"

type fakeHTTP struct {
	called bool
	app    *App
	err    error
}

func (f *fakeHTTP) RegisterRoutes(app *App) error {
	f.called = true
	f.app = app
	return f.err
}

// Requirement: New validates secret, storage, HTTP adapter and retry policy.
func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "missing secret",
			config:  Config{Storage: services.NewFakeStorage(), HTTP: &fakeHTTP{}},
			wantErr: ErrSecretRequired,
		},
		{
			name:    "short secret",
			config:  Config{Secret: "short", Storage: services.NewFakeStorage(), HTTP: &fakeHTTP{}},
			wantErr: ErrSecretTooShort,
		},
		{
			name:    "missing storage",
			config:  Config{Secret: testSecret, HTTP: &fakeHTTP{}},
			wantErr: ErrStorageRequired,
		},
		{
			name:    "missing http adapter",
			config:  Config{Secret: testSecret, Storage: services.NewFakeStorage()},
			wantErr: ErrHTTPAdapterRequired,
		},
		{
			name: "invalid retry policy",
			config: Config{
				Secret:  testSecret,
				Storage: services.NewFakeStorage(),
				HTTP:    &fakeHTTP{},
				Retry:   &RetryPolicy{MaxRetries: 3, InitialBackoff: time.Second, BackoffFactor: 0.5},
			},
			wantErr: ErrInvalidRetryPolicy,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Act
			app, err := New(test.config)

			// Assert
			if !errors.Is(err, test.wantErr) {
				t.Errorf("New() error = %v, want %v", err, test.wantErr)
			}
			if app != nil {
				t.Error("New() should not return an app on error")
			}
		})
	}
}

// Requirement: New applies defaults and hands the wired app to the adapter.
func TestNew_Defaults(t *testing.T) {
	// Arrange
	http := &fakeHTTP{}

	// Act
	app, err := New(Config{Secret: testSecret, Storage: services.NewFakeStorage(), HTTP: http})

	// Assert
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	defer app.Close()

	if !http.called || http.app != app {
		t.Error("RegisterRoutes should receive the new app")
	}
	if app.LoadingWait != defaultLoadingWait {
		t.Errorf("LoadingWait = %v, want %v", app.LoadingWait, defaultLoadingWait)
	}
	if app.Cookies.Client != DefaultClientCookie || app.Cookies.Token != DefaultTokenCookie {
		t.Errorf("Cookies = %+v, want default names", app.Cookies)
	}
	key, err := base64.StdEncoding.DecodeString(app.Cookies.Key)
	if err != nil || len(key) != 32 {
		t.Errorf("cookie key should be 32 base64 bytes, got %d (%v)", len(key), err)
	}
	if got := app.Guard.Config(); got != DefaultGuardConfig() {
		t.Errorf("Guard config = %+v, want defaults", got)
	}
	if len(app.Endpoints.Endpoints()) != len(services.BaseEndpoints()) {
		t.Errorf("Endpoints = %d, want base endpoints", len(app.Endpoints.Endpoints()))
	}
}

// Requirement: the cookie key depends on the secret.
func TestCookieKey_DiffersPerSecret(t *testing.T) {
	a := cookieKey(testSecret)
	b := cookieKey(testSecret + "x")

	if a == b {
		t.Error("different secrets should derive different cookie keys")
	}
	if a != cookieKey(testSecret) {
		t.Error("cookie key should be deterministic")
	}
}

// Requirement: an adapter error aborts New.
func TestNew_AdapterError(t *testing.T) {
	boom := errors.New("route conflict")

	app, err := New(Config{Secret: testSecret, Storage: services.NewFakeStorage(), HTTP: &fakeHTTP{err: boom}})

	if !errors.Is(err, boom) || app != nil {
		t.Errorf("New() = %v, %v; want nil, %v", app, err, boom)
	}
}
