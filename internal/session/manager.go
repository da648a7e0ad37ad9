// Package session authenticates credentials and tracks per-session state.
// Session state is explicit and owned by the Manager; nothing here is
// ambient, handlers receive the session through the request context.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/savegress/medvault/internal/audit"
	"github.com/savegress/medvault/internal/store"
	"github.com/savegress/medvault/pkg/models"
)

var (
	// ErrInvalidCredentials is returned on a failed login.
	ErrInvalidCredentials = errors.New("session: invalid credentials")

	// ErrUnauthenticated is returned for missing, expired, or tampered
	// tokens and for sessions that have been logged out.
	ErrUnauthenticated = errors.New("session: not authenticated")
)

// UserStore is the credential-verification surface the manager needs.
type UserStore interface {
	VerifyUser(ctx context.Context, username, password string) (models.User, error)
}

// Session is one authenticated login. The auto-cleanup flag guards the
// once-per-session retention purge.
type Session struct {
	ID        string
	User      models.User
	LoginTime time.Time
	ExpiresAt time.Time

	autoCleanupDone bool
}

// Manager issues and validates session tokens.
type Manager struct {
	users  UserStore
	audit  *audit.Logger
	secret []byte
	ttl    time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. Tokens are HS256 JWTs signed with
// secret and valid for ttl.
func NewManager(users UserStore, auditLog *audit.Logger, secret string, ttl time.Duration) *Manager {
	return &Manager{
		users:    users,
		audit:    auditLog,
		secret:   []byte(secret),
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Login verifies the credentials, records the outcome in the audit log, and
// on success returns the new session and its signed token.
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, string, error) {
	user, err := m.users.VerifyUser(ctx, username, password)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			if logErr := m.audit.RecordFailedLogin(ctx, username); logErr != nil {
				return nil, "", logErr
			}
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.New().String(),
		User:      user,
		LoginTime: now,
		ExpiresAt: now.Add(m.ttl),
	}

	claims := jwt.MapClaims{
		"sub":      fmt.Sprintf("%d", user.UserID),
		"sid":      sess.ID,
		"username": user.Username,
		"role":     string(user.Role),
		"iat":      now.Unix(),
		"exp":      now.Add(m.ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, "", fmt.Errorf("session: sign token: %w", err)
	}

	m.mu.Lock()
	m.pruneExpiredLocked(now)
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	if err := m.audit.Record(ctx, user, audit.ActionLogin, "User logged in"); err != nil {
		return nil, "", err
	}
	return sess, token, nil
}

// Authenticate validates a token and returns its live session. Tokens whose
// session has been logged out are rejected even before they expire.
func (m *Manager) Authenticate(tokenString string) (*Session, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		// Expired tokens land here; sweep their sessions out while we
		// are at it.
		m.mu.Lock()
		m.pruneExpiredLocked(time.Now().UTC())
		m.mu.Unlock()
		return nil, ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthenticated
	}
	sid, ok := claims["sid"].(string)
	if !ok {
		return nil, ErrUnauthenticated
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sid]
	if !ok {
		return nil, ErrUnauthenticated
	}
	if !time.Now().UTC().Before(sess.ExpiresAt) {
		delete(m.sessions, sid)
		return nil, ErrUnauthenticated
	}
	return sess, nil
}

// pruneExpiredLocked drops sessions whose lifetime has passed, so the session
// map cannot grow without bound across logins. Callers must hold mu.
func (m *Manager) pruneExpiredLocked(now time.Time) {
	for id, sess := range m.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(m.sessions, id)
		}
	}
}

// Logout ends a session and records it.
func (m *Manager) Logout(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()

	return m.audit.Record(ctx, sess.User, audit.ActionLogout, "User logged out")
}

// MarkAutoCleanupDone test-and-sets the session's auto-cleanup flag. It
// returns true exactly once per session, which is what limits the automatic
// retention purge to one run per privileged session.
func (m *Manager) MarkAutoCleanupDone(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok || sess.autoCleanupDone {
		return false
	}
	sess.autoCleanupDone = true
	return true
}
