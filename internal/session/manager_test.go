package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/savegress/medvault/internal/audit"
	"github.com/savegress/medvault/internal/store"
	"github.com/savegress/medvault/pkg/models"
)

type fakeUserStore struct {
	users map[string]string // username -> password
}

func (f *fakeUserStore) VerifyUser(ctx context.Context, username, password string) (models.User, error) {
	want, ok := f.users[username]
	if !ok || want != password {
		return models.User{}, store.ErrInvalidCredentials
	}
	return models.User{UserID: 1, Username: username, Role: models.RoleAdmin}, nil
}

type memAuditStore struct {
	entries []models.AuditLogEntry
}

func (m *memAuditStore) AppendLog(ctx context.Context, entry models.AuditLogEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAuditStore) GetLogs(ctx context.Context) ([]models.AuditLogEntry, error) {
	return m.entries, nil
}

func newTestManager(ttl time.Duration) (*Manager, *memAuditStore) {
	auditStore := &memAuditStore{}
	users := &fakeUserStore{users: map[string]string{"admin": "admin123"}}
	return NewManager(users, audit.NewLogger(auditStore), "test-secret", ttl), auditStore
}

func TestLogin(t *testing.T) {
	m, auditStore := newTestManager(time.Hour)

	sess, token, err := m.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.ID == "" || token == "" {
		t.Fatal("login returned empty session id or token")
	}
	if sess.User.Username != "admin" || sess.User.Role != models.RoleAdmin {
		t.Errorf("session user = %+v", sess.User)
	}

	if len(auditStore.entries) != 1 || auditStore.entries[0].Action != "LOGIN" {
		t.Errorf("audit trail = %+v, want one LOGIN entry", auditStore.entries)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	m, auditStore := newTestManager(time.Hour)

	_, _, err := m.Login(context.Background(), "hacker123", "guess")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}

	if len(auditStore.entries) != 1 {
		t.Fatalf("audit trail has %d entries, want the failed-login entry", len(auditStore.entries))
	}
	entry := auditStore.entries[0]
	if entry.Action != "FAILED_LOGIN" || entry.Username != "hacker123" || entry.UserID != 0 {
		t.Errorf("failed-login entry = %+v", entry)
	}
}

func TestAuthenticate(t *testing.T) {
	m, _ := newTestManager(time.Hour)

	sess, token, err := m.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	got, err := m.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("authenticated session %q, want %q", got.ID, sess.ID)
	}
}

func TestAuthenticate_Garbage(t *testing.T) {
	m, _ := newTestManager(time.Hour)
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := m.Authenticate(token); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("Authenticate(%q) err = %v, want ErrUnauthenticated", token, err)
		}
	}
}

func TestAuthenticate_WrongSecret(t *testing.T) {
	m, _ := newTestManager(time.Hour)
	if _, _, err := m.Login(context.Background(), "admin", "admin123"); err != nil {
		t.Fatalf("login: %v", err)
	}

	claims := jwt.MapClaims{
		"sub": "1", "sid": "forged", "username": "admin", "role": "admin",
		"iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}

	if _, err := m.Authenticate(forged); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("forged token err = %v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	m, _ := newTestManager(-time.Minute)
	_, token, err := m.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := m.Authenticate(token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expired token err = %v, want ErrUnauthenticated", err)
	}

	// The expired session is also dropped from the session map.
	m.mu.Lock()
	n := len(m.sessions)
	m.mu.Unlock()
	if n != 0 {
		t.Errorf("%d sessions retained after expiry, want 0", n)
	}
}

func TestLogin_PrunesExpiredSessions(t *testing.T) {
	m, _ := newTestManager(-time.Minute)

	// Every login is born expired; each subsequent login must sweep the
	// previous ones so the map does not grow with stale sessions.
	for i := 0; i < 3; i++ {
		if _, _, err := m.Login(context.Background(), "admin", "admin123"); err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
	}

	m.mu.Lock()
	n := len(m.sessions)
	m.mu.Unlock()
	if n != 1 {
		t.Errorf("%d sessions retained, want only the newest", n)
	}
}

func TestSession_ExpiresAt(t *testing.T) {
	m, _ := newTestManager(time.Hour)
	sess, _, err := m.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := sess.ExpiresAt.Sub(sess.LoginTime); got != time.Hour {
		t.Errorf("session lifetime = %v, want the configured ttl", got)
	}
}

func TestLogout_InvalidatesToken(t *testing.T) {
	m, auditStore := newTestManager(time.Hour)

	sess, token, err := m.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := m.Logout(context.Background(), sess); err != nil {
		t.Fatalf("logout: %v", err)
	}

	// The JWT is still within its lifetime, but the session is gone.
	if _, err := m.Authenticate(token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("post-logout token err = %v, want ErrUnauthenticated", err)
	}

	last := auditStore.entries[len(auditStore.entries)-1]
	if last.Action != "LOGOUT" {
		t.Errorf("last audit action = %q, want LOGOUT", last.Action)
	}
}

func TestMarkAutoCleanupDone_Once(t *testing.T) {
	m, _ := newTestManager(time.Hour)
	sess, _, err := m.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if !m.MarkAutoCleanupDone(sess.ID) {
		t.Fatal("first mark must return true")
	}
	if m.MarkAutoCleanupDone(sess.ID) {
		t.Error("second mark must return false")
	}
	if m.MarkAutoCleanupDone("nonexistent") {
		t.Error("unknown session must return false")
	}

	// A fresh login is a fresh session with its own flag.
	next, _, err := m.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if !m.MarkAutoCleanupDone(next.ID) {
		t.Error("new session must get its own auto-cleanup run")
	}
}
