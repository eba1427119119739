package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lborres/kapitbahay/core"
	"github.com/lborres/kapitbahay/pkg/crypto"
)

// IssuedSession is a freshly created session and the only copy of its token
type IssuedSession struct {
	Session *core.Session
	Token   string
}

// SessionIssuer creates and verifies the opaque session tokens the
// provider hands out. Only the SHA-256 hash of a token is persisted.
type SessionIssuer struct {
	config  core.SessionConfig
	storage core.SessionStorage
	cache   core.Cache // optional, can be nil if caching is disabled
	now     func() time.Time
}

func NewSessionIssuer(config core.SessionConfig, storage core.SessionStorage, cache core.Cache) *SessionIssuer {
	if config.MaxAge <= 0 {
		config.MaxAge = core.DefaultSessionConfig().MaxAge
	}
	return &SessionIssuer{config: config, storage: storage, cache: cache, now: time.Now}
}

func (si *SessionIssuer) Create(ctx context.Context, userID string, meta core.ClientMeta) (*IssuedSession, error) {
	return si.CreateWithTTL(ctx, userID, meta, si.config.MaxAge)
}

// CreateWithTTL issues a session that expires after ttl instead of MaxAge
func (si *SessionIssuer) CreateWithTTL(ctx context.Context, userID string, meta core.ClientMeta, ttl time.Duration) (*IssuedSession, error) {
	if ttl <= 0 {
		ttl = si.config.MaxAge
	}
	pair, err := crypto.NewToken(crypto.DefaultTokenLength)
	if err != nil {
		return nil, err
	}

	now := si.now()
	session := &core.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: pair.Hash,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := si.storage.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	if si.cache != nil {
		// a failed cache write only costs a storage read later
		_ = si.cache.Set(pair.Hash, session)
	}

	return &IssuedSession{Session: session, Token: pair.Token}, nil
}

// Verify resolves token to its live session
func (si *SessionIssuer) Verify(ctx context.Context, token string) (*core.Session, error) {
	if token == "" {
		return nil, core.ErrInvalidToken
	}

	tokenHash := crypto.HashToken(token)

	if si.cache != nil {
		if session, err := si.cache.Get(tokenHash); err == nil {
			if si.now().After(session.ExpiresAt) {
				_ = si.cache.Delete(tokenHash)
				return nil, core.ErrSessionExpired
			}
			return session, nil
		}
	}

	session, err := si.storage.GetSessionByHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, core.ErrSessionNotFound
	}

	if si.now().After(session.ExpiresAt) {
		return nil, core.ErrSessionExpired
	}

	if si.cache != nil {
		_ = si.cache.Set(tokenHash, session)
	}

	return session, nil
}

// VerifyFresh is Verify without the cache. The cached entry for token is
// dropped first, so a revocation made by another instance is seen.
func (si *SessionIssuer) VerifyFresh(ctx context.Context, token string) (*core.Session, error) {
	if si.cache != nil && token != "" {
		_ = si.cache.Delete(crypto.HashToken(token))
	}
	return si.Verify(ctx, token)
}

// Refresh pushes the expiry of a live session MaxAge into the future
func (si *SessionIssuer) Refresh(ctx context.Context, token string) (*core.Session, error) {
	session, err := si.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	refreshed := *session
	now := si.now()
	refreshed.ExpiresAt = now.Add(si.config.MaxAge)
	refreshed.UpdatedAt = now

	if err := si.storage.UpdateSession(ctx, &refreshed); err != nil {
		return nil, err
	}
	if si.cache != nil {
		_ = si.cache.Set(refreshed.TokenHash, &refreshed)
	}
	return &refreshed, nil
}

func (si *SessionIssuer) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return core.ErrInvalidToken
	}

	tokenHash := crypto.HashToken(token)

	if si.cache != nil {
		_ = si.cache.Delete(tokenHash)
	}

	err := si.storage.DeleteSessionByHash(ctx, tokenHash)
	if errors.Is(err, core.ErrSessionNotFound) {
		return nil
	}
	return err
}

func (si *SessionIssuer) DestroyBySessionID(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return core.ErrSessionNotFound
	}

	if si.cache != nil {
		session, err := si.storage.GetSessionByID(ctx, sessionID)
		if err == nil && session != nil {
			_ = si.cache.Delete(session.TokenHash)
		}
	}

	return si.storage.DeleteSessionByID(ctx, sessionID)
}

func (si *SessionIssuer) DestroyAllUserSessions(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, core.ErrUserNotFound
	}

	if si.cache != nil {
		sessions, err := si.storage.GetUserSessions(ctx, userID)
		if err == nil {
			for _, s := range sessions {
				_ = si.cache.Delete(s.TokenHash)
			}
		}
	}

	return si.storage.DeleteUserSessions(ctx, userID)
}

// Consume deletes the session behind token and returns it, so a token
// works once. It reads storage, not the cache, and only the caller whose
// delete removed the row succeeds. Sessions rejected by accept are left
// in place and reported as core.ErrInvalidToken.
func (si *SessionIssuer) Consume(ctx context.Context, token string, accept func(*core.Session) bool) (*core.Session, error) {
	if token == "" {
		return nil, core.ErrInvalidToken
	}

	tokenHash := crypto.HashToken(token)

	session, err := si.storage.GetSessionByHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, core.ErrSessionNotFound
	}
	if accept != nil && !accept(session) {
		return nil, core.ErrInvalidToken
	}

	if si.cache != nil {
		_ = si.cache.Delete(tokenHash)
	}
	if err := si.storage.DeleteSessionByHash(ctx, tokenHash); err != nil {
		return nil, err
	}

	if si.now().After(session.ExpiresAt) {
		return nil, core.ErrSessionExpired
	}
	return session, nil
}

// PurgeExpired removes expired sessions from storage
func (si *SessionIssuer) PurgeExpired(ctx context.Context) (int, error) {
	return si.storage.DeleteExpiredSessions(ctx)
}

func (si *SessionIssuer) CacheStats() core.CacheStats {
	if si.cache == nil {
		return core.CacheStats{}
	}
	return si.cache.Stats()
}
