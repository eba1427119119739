package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
	"github.com/lborres/kapitbahay/pkg/crypto"
)

func testPasswords() crypto.PasswordHandler {
	return &crypto.Argon2{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newTestAuthService(storage *FakeStorage, hub *EventHub, admins ...string) *AuthService {
	issuer := NewSessionIssuer(core.SessionConfig{MaxAge: 24 * time.Hour}, storage, nil)
	cfg := AuthServiceConfig{AdminEmails: admins, Logger: zerolog.Nop()}
	if hub != nil {
		cfg.Publisher = hub
	}
	return NewAuthService(storage, testPasswords(), issuer, cfg)
}

// Requirement: SignUp validates input, creates identity, credential,
// empty profile and session.
func TestAuthService_SignUp(t *testing.T) {
	tests := []struct {
		name     string
		input    core.SignUpInput
		setup    func(*FakeStorage)
		wantErr  error
		wantName string
	}{
		{
			name:     "creates user and session for valid input",
			input:    core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!", Name: "Alice"},
			wantName: "Alice",
		},
		{
			name:     "normalizes email and derives a name",
			input:    core.SignUpInput{Email: "  Bob@Example.com ", Password: "SecurePass123!"},
			wantName: "bob",
		},
		{
			name:    "empty email",
			input:   core.SignUpInput{Password: "SecurePass123!"},
			wantErr: core.ErrEmailRequired,
		},
		{
			name:    "malformed email",
			input:   core.SignUpInput{Email: "not-an-email", Password: "SecurePass123!"},
			wantErr: core.ErrInvalidEmail,
		},
		{
			name:    "empty password",
			input:   core.SignUpInput{Email: "alice@example.com"},
			wantErr: core.ErrPasswordRequired,
		},
		{
			name:    "short password",
			input:   core.SignUpInput{Email: "alice@example.com", Password: "short"},
			wantErr: core.ErrPasswordTooShort,
		},
		{
			name:  "duplicate email",
			input: core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"},
			setup: func(s *FakeStorage) {
				_ = s.CreateUser(context.Background(), &core.Identity{ID: "existing-user", Email: "alice@example.com"})
			},
			wantErr: core.ErrUserExists,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			storage := NewFakeStorage()
			if test.setup != nil {
				test.setup(storage)
			}
			service := newTestAuthService(storage, nil)

			// Act
			result, err := service.SignUp(context.Background(), test.input, testMeta)

			// Assert
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("SignUp() error = %v, want %v", err, test.wantErr)
			}
			if test.wantErr != nil {
				return
			}
			if result.Token == "" || result.Session == nil {
				t.Fatal("SignUp() should return a session and token")
			}
			if result.User.Name != test.wantName {
				t.Errorf("Name = %q, want %q", result.User.Name, test.wantName)
			}
			profile, _ := storage.GetProfileByID(context.Background(), result.User.ID)
			if profile == nil {
				t.Fatal("SignUp() should create an empty profile")
			}
			if profile.HasNeighborhood() {
				t.Error("new profile should have no neighborhood")
			}
		})
	}
}

// Requirement: configured admin emails get the admin flag on sign-up.
func TestAuthService_SignUpAdmin(t *testing.T) {
	service := newTestAuthService(NewFakeStorage(), nil, "Admin@Example.com")

	admin, err := service.SignUp(context.Background(), core.SignUpInput{Email: "admin@example.com", Password: "SecurePass123!"}, testMeta)
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	user, _ := service.SignUp(context.Background(), core.SignUpInput{Email: "user@example.com", Password: "SecurePass123!"}, testMeta)

	if !admin.User.IsAdmin {
		t.Error("admin email should be flagged as admin")
	}
	if user.User.IsAdmin {
		t.Error("regular email should not be admin")
	}
}

// Requirement: SignIn succeeds only with the right password and never
// reveals whether the email exists.
func TestAuthService_SignIn(t *testing.T) {
	tests := []struct {
		name    string
		input   core.SignInInput
		wantErr error
	}{
		{name: "valid credentials", input: core.SignInInput{Email: "alice@example.com", Password: "SecurePass123!"}},
		{name: "email is case-insensitive", input: core.SignInInput{Email: "ALICE@example.com", Password: "SecurePass123!"}},
		{name: "wrong password", input: core.SignInInput{Email: "alice@example.com", Password: "WrongPass123!"}, wantErr: core.ErrInvalidCredentials},
		{name: "unknown email", input: core.SignInInput{Email: "nobody@example.com", Password: "SecurePass123!"}, wantErr: core.ErrInvalidCredentials},
		{name: "empty email", input: core.SignInInput{Password: "SecurePass123!"}, wantErr: core.ErrEmailRequired},
		{name: "empty password", input: core.SignInInput{Email: "alice@example.com"}, wantErr: core.ErrPasswordRequired},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			storage := NewFakeStorage()
			service := newTestAuthService(storage, nil)
			_, err := service.SignUp(context.Background(), core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"}, testMeta)
			if err != nil {
				t.Fatalf("SignUp() error = %v", err)
			}

			// Act
			result, err := service.SignIn(context.Background(), test.input, testMeta)

			// Assert
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("SignIn() error = %v, want %v", err, test.wantErr)
			}
			if test.wantErr == nil && result.Token == "" {
				t.Error("SignIn() should return a token")
			}
		})
	}
}

// Requirement: GetSession resolves a live token and rejects a signed-out one.
func TestAuthService_GetSessionAndSignOut(t *testing.T) {
	// Arrange
	service := newTestAuthService(NewFakeStorage(), nil)
	result, _ := service.SignUp(context.Background(), core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"}, testMeta)

	// Act
	data, err := service.GetSession(context.Background(), result.Token)

	// Assert
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if data.User.ID != result.User.ID {
		t.Errorf("GetSession() user = %s, want %s", data.User.ID, result.User.ID)
	}

	if err := service.SignOut(context.Background(), result.Token); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, err := service.GetSession(context.Background(), result.Token); !errors.Is(err, core.ErrInvalidToken) {
		t.Errorf("GetSession() after sign-out error = %v, want ErrInvalidToken", err)
	}
}

// Requirement: Refresh returns the session with a later expiry.
func TestAuthService_Refresh(t *testing.T) {
	service := newTestAuthService(NewFakeStorage(), nil)
	result, _ := service.SignUp(context.Background(), core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"}, testMeta)

	data, err := service.Refresh(context.Background(), result.Token)

	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if data.Session.ExpiresAt.Before(result.Session.ExpiresAt) {
		t.Error("Refresh() should not move expiry backwards")
	}
	if _, err := service.Refresh(context.Background(), "bogus"); !errors.Is(err, core.ErrInvalidToken) {
		t.Errorf("Refresh(bogus) error = %v, want ErrInvalidToken", err)
	}
}

// Requirement: RevokeUser deletes every session and publishes SIGNED_OUT.
func TestAuthService_RevokeUser(t *testing.T) {
	// Arrange
	storage := NewFakeStorage()
	hub := NewEventHub(zerolog.Nop())
	service := newTestAuthService(storage, hub)
	result, _ := service.SignUp(context.Background(), core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"}, testMeta)
	service.SignIn(context.Background(), core.SignInInput{Email: "alice@example.com", Password: "SecurePass123!"}, testMeta)
	var got []core.AuthEvent
	hub.Subscribe(result.User.ID, func(ev core.AuthEvent) { got = append(got, ev) })

	// Act
	count, err := service.RevokeUser(context.Background(), result.User.ID)

	// Assert
	if err != nil || count != 2 {
		t.Fatalf("RevokeUser() = %d, %v; want 2, nil", count, err)
	}
	if len(got) != 1 || got[0] != core.EventSignedOut {
		t.Errorf("published events = %v, want [SIGNED_OUT]", got)
	}
}

// Requirement: password recovery notifies known users and stays silent for unknown ones.
func TestAuthService_RequestPasswordRecovery(t *testing.T) {
	hub := NewEventHub(zerolog.Nop())
	service := newTestAuthService(NewFakeStorage(), hub)
	result, _ := service.SignUp(context.Background(), core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"}, testMeta)
	var got []core.AuthEvent
	hub.Subscribe(result.User.ID, func(ev core.AuthEvent) { got = append(got, ev) })

	if err := service.RequestPasswordRecovery(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordRecovery() error = %v", err)
	}
	if err := service.RequestPasswordRecovery(context.Background(), "nobody@example.com"); err != nil {
		t.Errorf("unknown email should not error, got %v", err)
	}
	if err := service.RequestPasswordRecovery(context.Background(), "bad"); !errors.Is(err, core.ErrInvalidEmail) {
		t.Errorf("malformed email error = %v, want ErrInvalidEmail", err)
	}

	if len(got) != 1 || got[0] != core.EventPasswordRecovery {
		t.Errorf("published events = %v, want [PASSWORD_RECOVERY]", got)
	}
}

func newMailingAuthService(storage *FakeStorage, mailer *RecordingMailer) *AuthService {
	issuer := NewSessionIssuer(core.SessionConfig{MaxAge: 24 * time.Hour}, storage, nil)
	return NewAuthService(storage, testPasswords(), issuer, AuthServiceConfig{
		Logger:      zerolog.Nop(),
		Mailer:      mailer,
		RecoveryURL: "https://app.example.com/auth/recover/callback",
	})
}

// Requirement: with a mailer configured, recovery mails a link carrying a
// token for a new session.
func TestAuthService_RecoveryLink(t *testing.T) {
	// Arrange
	storage := NewFakeStorage()
	mailer := &RecordingMailer{}
	service := newMailingAuthService(storage, mailer)
	if _, err := service.SignUp(context.Background(), core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"}, testMeta); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	// Act
	err := service.RequestPasswordRecovery(context.Background(), "alice@example.com")

	// Assert
	if err != nil {
		t.Fatalf("RequestPasswordRecovery() error = %v", err)
	}
	sent := mailer.Sent()
	if len(sent) != 1 || sent[0].To[0] != "alice@example.com" {
		t.Fatalf("sent = %+v, want one mail to alice", sent)
	}
	const prefix = "https://app.example.com/auth/recover/callback?token="
	i := strings.Index(sent[0].Body, prefix)
	if i < 0 {
		t.Fatalf("body has no recovery link:\n%s", sent[0].Body)
	}
	token := strings.Fields(sent[0].Body[i+len(prefix):])[0]
	if storage.SessionCount() != 2 {
		t.Errorf("sessions = %d, want sign-up and recovery sessions", storage.SessionCount())
	}
	if _, err := service.GetSession(context.Background(), token); !errors.Is(err, core.ErrInvalidToken) {
		t.Errorf("GetSession(link token) error = %v, want ErrInvalidToken before redemption", err)
	}
	result, err := service.RedeemRecovery(context.Background(), token, core.ClientMeta{})
	if err != nil {
		t.Fatalf("RedeemRecovery() error = %v", err)
	}
	if result.User.Email != "alice@example.com" || result.Token == token {
		t.Errorf("RedeemRecovery() = %+v, want a fresh session for alice", result)
	}
}

// Requirement: a recovery link is single-use and short-lived, and regular
// session tokens cannot be redeemed as links.
func TestAuthService_RedeemRecovery(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		token   func(t *testing.T, svc *AuthService, clock *time.Time, userID, signUpToken string) string
		wantErr error
	}{
		{
			name: "second redemption fails",
			token: func(t *testing.T, svc *AuthService, _ *time.Time, userID, _ string) string {
				issued, err := svc.issueRecovery(ctx, userID)
				if err != nil {
					t.Fatalf("issueRecovery() error = %v", err)
				}
				if _, err := svc.RedeemRecovery(ctx, issued.Token, core.ClientMeta{}); err != nil {
					t.Fatalf("first RedeemRecovery() error = %v", err)
				}
				return issued.Token
			},
			wantErr: core.ErrInvalidToken,
		},
		{
			name: "expired link",
			token: func(t *testing.T, svc *AuthService, clock *time.Time, userID, _ string) string {
				issued, err := svc.issueRecovery(ctx, userID)
				if err != nil {
					t.Fatalf("issueRecovery() error = %v", err)
				}
				*clock = clock.Add(2 * time.Hour)
				return issued.Token
			},
			wantErr: core.ErrInvalidToken,
		},
		{
			name: "regular session token",
			token: func(_ *testing.T, _ *AuthService, _ *time.Time, _, signUpToken string) string {
				return signUpToken
			},
			wantErr: core.ErrInvalidToken,
		},
		{
			name: "empty token",
			token: func(*testing.T, *AuthService, *time.Time, string, string) string {
				return ""
			},
			wantErr: core.ErrMissingToken,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			storage := NewFakeStorage()
			svc := newTestAuthService(storage, nil)
			clock := time.Now()
			svc.sessions.now = func() time.Time { return clock }
			signedUp, err := svc.SignUp(ctx, core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"}, core.ClientMeta{})
			if err != nil {
				t.Fatalf("SignUp() error = %v", err)
			}
			token := test.token(t, svc, &clock, signedUp.User.ID, signedUp.Token)

			// Act
			_, err = svc.RedeemRecovery(ctx, token, core.ClientMeta{})

			// Assert
			if !errors.Is(err, test.wantErr) {
				t.Errorf("RedeemRecovery() error = %v, want %v", err, test.wantErr)
			}
		})
	}
}

// Requirement: a mail failure is reported and leaves no recovery session.
func TestAuthService_RecoveryMailFailure(t *testing.T) {
	storage := NewFakeStorage()
	mailer := &RecordingMailer{}
	service := newMailingAuthService(storage, mailer)
	service.SignUp(context.Background(), core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"}, testMeta)
	boom := errors.New("smtp down")
	mailer.SetError(boom)

	err := service.RequestPasswordRecovery(context.Background(), "alice@example.com")

	if !errors.Is(err, boom) {
		t.Errorf("RequestPasswordRecovery() error = %v, want %v", err, boom)
	}
	if storage.SessionCount() != 1 {
		t.Errorf("sessions = %d, want only the sign-up session", storage.SessionCount())
	}
}

// Requirement: ChangePassword validates and replaces the credential.
func TestAuthService_ChangePassword(t *testing.T) {
	// Arrange
	service := newTestAuthService(NewFakeStorage(), nil)
	result, _ := service.SignUp(context.Background(), core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"}, testMeta)

	// Act
	short := service.ChangePassword(context.Background(), result.User.ID, "short")
	unknown := service.ChangePassword(context.Background(), "nobody", "NewSecurePass456!")
	err := service.ChangePassword(context.Background(), result.User.ID, "NewSecurePass456!")

	// Assert
	if !errors.Is(short, core.ErrPasswordTooShort) {
		t.Errorf("short password error = %v, want ErrPasswordTooShort", short)
	}
	if !errors.Is(unknown, core.ErrUserNotFound) {
		t.Errorf("unknown user error = %v, want ErrUserNotFound", unknown)
	}
	if err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := service.SignIn(context.Background(), core.SignInInput{Email: "alice@example.com", Password: "SecurePass123!"}, testMeta); !errors.Is(err, core.ErrInvalidCredentials) {
		t.Errorf("old password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := service.SignIn(context.Background(), core.SignInInput{Email: "alice@example.com", Password: "NewSecurePass456!"}, testMeta); err != nil {
		t.Errorf("new password sign-in error = %v", err)
	}
}

// Requirement: signing in with a password stored under older hashing
// parameters re-hashes it with the current ones.
func TestAuthService_SignInUpgradesHash(t *testing.T) {
	// Arrange
	ctx := context.Background()
	storage := NewFakeStorage()
	old := newTestAuthService(storage, nil)
	result, err := old.SignUp(ctx, core.SignUpInput{Email: "alice@example.com", Password: "SecurePass123!"}, core.ClientMeta{})
	if err != nil {
		t.Fatalf("SignUp() unexpected error: %v", err)
	}

	stronger := &crypto.Argon2{Memory: 1024, Iterations: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	issuer := NewSessionIssuer(core.SessionConfig{MaxAge: time.Hour}, storage, nil)
	svc := NewAuthService(storage, stronger, issuer, AuthServiceConfig{Logger: zerolog.Nop()})

	// Act
	_, err = svc.SignIn(ctx, core.SignInInput{Email: "alice@example.com", Password: "SecurePass123!"}, core.ClientMeta{})

	// Assert
	if err != nil {
		t.Fatalf("SignIn() unexpected error: %v", err)
	}
	accounts, _ := storage.GetAccountByUserAndProvider(ctx, result.User.ID, credentialProvider)
	if len(accounts) != 1 || !strings.Contains(*accounts[0].Password, "t=2") {
		t.Fatalf("stored hash was not upgraded: %v", accounts)
	}
	if _, err := svc.SignIn(ctx, core.SignInInput{Email: "alice@example.com", Password: "SecurePass123!"}, core.ClientMeta{}); err != nil {
		t.Errorf("SignIn() after upgrade unexpected error: %v", err)
	}
}
