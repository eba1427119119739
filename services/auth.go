package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
	"github.com/lborres/kapitbahay/pkg/crypto"
)

const (
	credentialProvider = "credential"
	MinPasswordLength  = 8
	MaxPasswordLength  = 128

	// recoveryAgent marks the sessions behind recovery links
	recoveryAgent      = "password-recovery"
	defaultRecoveryTTL = time.Hour
)

func isRecoverySession(session *core.Session) bool {
	return session.UserAgent == recoveryAgent
}

type AuthServiceConfig struct {
	// AdminEmails are granted the admin flag when they sign up
	AdminEmails []string
	Publisher   core.AuthEventPublisher
	Logger      zerolog.Logger

	// Mailer and RecoveryURL enable recovery links; the link is
	// RecoveryURL with the recovery session token as ?token=
	Mailer      core.Mailer
	RecoveryURL string
	// RecoveryTTL is the lifetime of a recovery link, one hour by default
	RecoveryTTL time.Duration
}

// AuthService implements email/password authentication on top of the
// storage port. It is the server half of the identity provider.
type AuthService struct {
	db        core.Storage
	passwords crypto.PasswordHandler
	sessions  *SessionIssuer
	admins    map[string]bool
	publisher core.AuthEventPublisher
	mailer    core.Mailer
	recovery  string
	linkTTL   time.Duration
	log       zerolog.Logger
}

func NewAuthService(db core.Storage, passwords crypto.PasswordHandler, sessions *SessionIssuer, cfg AuthServiceConfig) *AuthService {
	admins := make(map[string]bool, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		admins[normalizeEmail(email)] = true
	}
	if cfg.RecoveryTTL <= 0 {
		cfg.RecoveryTTL = defaultRecoveryTTL
	}
	return &AuthService{
		db:        db,
		passwords: passwords,
		sessions:  sessions,
		admins:    admins,
		publisher: cfg.Publisher,
		mailer:    cfg.Mailer,
		recovery:  cfg.RecoveryURL,
		linkTTL:   cfg.RecoveryTTL,
		log:       cfg.Logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return core.ErrEmailRequired
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return core.ErrInvalidEmail
	}
	return nil
}

func validatePassword(password string) error {
	switch {
	case password == "":
		return core.ErrPasswordRequired
	case len(password) < MinPasswordLength:
		return core.ErrPasswordTooShort
	case len(password) > MaxPasswordLength:
		return core.ErrPasswordTooLong
	}
	return nil
}

// SignUp registers a new identity with email and password, creates its
// empty profile and signs it in.
func (s *AuthService) SignUp(ctx context.Context, input core.SignUpInput, meta core.ClientMeta) (*core.AuthResult, error) {
	email := normalizeEmail(input.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	existing, err := s.db.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, core.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, core.ErrUserExists
	}

	hashed, err := s.passwords.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = email[:strings.IndexByte(email, '@')]
	}

	user := &core.Identity{
		Email:   email,
		Name:    name,
		IsAdmin: s.admins[email],
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	account := &core.Account{
		UserID:     user.ID,
		ProviderID: credentialProvider,
		AccountID:  user.ID,
		Password:   &hashed,
	}
	if err := s.db.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	// location setup fills in coordinates and neighborhood later
	if err := s.db.UpsertProfile(ctx, &core.Profile{ID: user.ID, DisplayName: name}); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	issued, err := s.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Bool("admin", user.IsAdmin).Msg("user signed up")

	return &core.AuthResult{User: user, Session: issued.Session, Token: issued.Token}, nil
}

// SignIn authenticates with email and password and issues a new session
func (s *AuthService) SignIn(ctx context.Context, input core.SignInInput, meta core.ClientMeta) (*core.AuthResult, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, core.ErrEmailRequired
	}
	if input.Password == "" {
		return nil, core.ErrPasswordRequired
	}

	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	accounts, err := s.db.GetAccountByUserAndProvider(ctx, user.ID, credentialProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if len(accounts) == 0 || accounts[0].Password == nil {
		return nil, core.ErrInvalidCredentials
	}

	valid, err := s.passwords.Verify(input.Password, *accounts[0].Password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, core.ErrInvalidCredentials
	}
	s.upgradeHash(ctx, accounts[0], input.Password)

	issued, err := s.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &core.AuthResult{User: user, Session: issued.Session, Token: issued.Token}, nil
}

// upgradeHash re-hashes a verified password stored with outdated
// parameters. Failures only cost the upgrade, never the sign-in.
func (s *AuthService) upgradeHash(ctx context.Context, account *core.Account, password string) {
	r, ok := s.passwords.(crypto.Rehasher)
	if !ok || !r.NeedsRehash(*account.Password) {
		return
	}
	hashed, err := s.passwords.Hash(password)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", account.UserID).Msg("password rehash failed")
		return
	}
	account.Password = &hashed
	if err := s.db.UpdateAccount(ctx, account); err != nil {
		s.log.Warn().Err(err).Str("user_id", account.UserID).Msg("failed to store rehashed password")
		return
	}
	s.log.Debug().Str("user_id", account.UserID).Msg("password hash upgraded")
}

// SignOut invalidates the session behind token
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetSession resolves token to its session and identity. Recovery link
// tokens are not sessions until redeemed.
func (s *AuthService) GetSession(ctx context.Context, token string) (*core.SessionData, error) {
	return s.lookupSession(ctx, token, s.sessions.Verify)
}

// GetFreshSession is GetSession read from storage, bypassing the session
// cache. Remote events use it since they may describe changes made by
// another instance.
func (s *AuthService) GetFreshSession(ctx context.Context, token string) (*core.SessionData, error) {
	return s.lookupSession(ctx, token, s.sessions.VerifyFresh)
}

func (s *AuthService) lookupSession(ctx context.Context, token string, verify func(context.Context, string) (*core.Session, error)) (*core.SessionData, error) {
	session, err := verify(ctx, token)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil, core.ErrInvalidToken
		}
		return nil, err
	}
	if isRecoverySession(session) {
		return nil, core.ErrInvalidToken
	}

	user, err := s.db.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &core.SessionData{User: user, Session: session}, nil
}

// Refresh extends the session behind token
func (s *AuthService) Refresh(ctx context.Context, token string) (*core.SessionData, error) {
	if _, err := s.GetSession(ctx, token); err != nil {
		return nil, err
	}
	session, err := s.sessions.Refresh(ctx, token)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil, core.ErrInvalidToken
		}
		return nil, err
	}

	user, err := s.db.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &core.SessionData{User: user, Session: session}, nil
}

// RevokeUser ends every session of userID and tells its live clients
func (s *AuthService) RevokeUser(ctx context.Context, userID string) (int, error) {
	count, err := s.sessions.DestroyAllUserSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	if s.publisher != nil {
		s.publisher.PublishUser(userID, core.EventSignedOut)
	}
	s.log.Info().Str("user_id", userID).Int("sessions", count).Msg("user sessions revoked")
	return count, nil
}

// RequestPasswordRecovery signals PASSWORD_RECOVERY to the live clients of
// the identity with email. Unknown emails are not reported.
func (s *AuthService) RequestPasswordRecovery(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("failed to find user: %w", err)
	}

	if s.mailer != nil && s.recovery != "" {
		if err := s.sendRecoveryLink(ctx, user); err != nil {
			return err
		}
	}
	if s.publisher != nil {
		s.publisher.PublishUser(user.ID, core.EventPasswordRecovery)
	}
	s.log.Info().Str("user_id", user.ID).Msg("password recovery requested")
	return nil
}

// sendRecoveryLink mails a link that signs the user in with a fresh
// session so they can choose a new password.
func (s *AuthService) sendRecoveryLink(ctx context.Context, user *core.Identity) error {
	link, err := url.Parse(s.recovery)
	if err != nil {
		return fmt.Errorf("invalid recovery url: %w", err)
	}

	issued, err := s.issueRecovery(ctx, user.ID)
	if err != nil {
		return err
	}

	q := link.Query()
	q.Set("token", issued.Token)
	link.RawQuery = q.Encode()

	err = s.mailer.Send(ctx, core.Email{
		To:      []string{user.Email},
		Subject: "Reset your password",
		Body: "Someone asked to reset the password for this address.\n\n" +
			"Open this link to choose a new one:\n" + link.String() + "\n\n" +
			"If it was not you, ignore this message.",
	})
	if err != nil {
		if derr := s.sessions.Destroy(ctx, issued.Token); derr != nil {
			s.log.Warn().Err(derr).Msg("failed to drop unused recovery session")
		}
		return fmt.Errorf("failed to send recovery email: %w", err)
	}
	return nil
}

// issueRecovery creates the short-lived session a recovery link carries.
// It can only be redeemed, never used as a regular session token.
func (s *AuthService) issueRecovery(ctx context.Context, userID string) (*IssuedSession, error) {
	issued, err := s.sessions.CreateWithTTL(ctx, userID, core.ClientMeta{UserAgent: recoveryAgent}, s.linkTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create recovery session: %w", err)
	}
	return issued, nil
}

// RedeemRecovery exchanges a recovery link token for a regular session.
// The link token is consumed, so a second redemption fails.
func (s *AuthService) RedeemRecovery(ctx context.Context, token string, meta core.ClientMeta) (*core.AuthResult, error) {
	if token == "" {
		return nil, core.ErrMissingToken
	}

	link, err := s.sessions.Consume(ctx, token, isRecoverySession)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) || errors.Is(err, core.ErrSessionExpired) {
			return nil, core.ErrInvalidToken
		}
		return nil, err
	}

	user, err := s.db.GetUserByID(ctx, link.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	issued, err := s.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("recovery link redeemed")
	return &core.AuthResult{User: user, Session: issued.Session, Token: issued.Token}, nil
}

// ChangePassword replaces the credential password of userID
func (s *AuthService) ChangePassword(ctx context.Context, userID, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	accounts, err := s.db.GetAccountByUserAndProvider(ctx, userID, credentialProvider)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	if len(accounts) == 0 {
		return core.ErrUserNotFound
	}

	hashed, err := s.passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	account := accounts[0]
	account.Password = &hashed
	if err := s.db.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	s.log.Info().Str("user_id", userID).Msg("password changed")
	return nil
}
