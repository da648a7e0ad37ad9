package audit

import (
	"context"
	"testing"

	"github.com/savegress/medvault/pkg/models"
)

type memStore struct {
	entries []models.AuditLogEntry
	err     error
}

func (m *memStore) AppendLog(ctx context.Context, entry models.AuditLogEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memStore) GetLogs(ctx context.Context) ([]models.AuditLogEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]models.AuditLogEntry, len(m.entries))
	for i := range m.entries {
		out[len(m.entries)-1-i] = m.entries[i]
	}
	return out, nil
}

func TestRecord(t *testing.T) {
	store := &memStore{}
	logger := NewLogger(store)
	user := models.User{UserID: 7, Username: "admin", Role: models.RoleAdmin}

	if err := logger.Record(context.Background(), user, ActionAddPatient, "Added patient ID: 3"); err != nil {
		t.Fatalf("record: %v", err)
	}

	if len(store.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(store.entries))
	}
	entry := store.entries[0]
	if entry.UserID != 7 || entry.Username != "admin" || entry.Role != "admin" {
		t.Errorf("attribution = %+v", entry)
	}
	if entry.Action != "ADD_PATIENT" {
		t.Errorf("action = %q, want ADD_PATIENT", entry.Action)
	}
	if entry.Details != "Added patient ID: 3" {
		t.Errorf("details = %q", entry.Details)
	}
	if entry.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestRecordFailedLogin(t *testing.T) {
	store := &memStore{}
	logger := NewLogger(store)

	if err := logger.RecordFailedLogin(context.Background(), "hacker123"); err != nil {
		t.Fatalf("record failed login: %v", err)
	}

	entry := store.entries[0]
	if entry.UserID != 0 {
		t.Errorf("user id = %d, want 0 for an unauthenticated attempt", entry.UserID)
	}
	if entry.Username != "hacker123" {
		t.Errorf("username = %q, want the attempted name verbatim", entry.Username)
	}
	if entry.Role != FailedLoginRole {
		t.Errorf("role = %q, want the %q sentinel", entry.Role, FailedLoginRole)
	}
	if entry.Action != string(ActionFailedLogin) {
		t.Errorf("action = %q, want FAILED_LOGIN", entry.Action)
	}
	if entry.Details != "Failed login attempt for username: hacker123" {
		t.Errorf("details = %q", entry.Details)
	}
}

func TestEntries_NewestFirst(t *testing.T) {
	store := &memStore{}
	logger := NewLogger(store)
	user := models.User{UserID: 1, Username: "admin", Role: models.RoleAdmin}

	logger.Record(context.Background(), user, ActionLogin, "")
	logger.Record(context.Background(), user, ActionDeletePatient, "Deleted patient ID: 2")

	entries, err := logger.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Action != "DELETE_PATIENT" {
		t.Errorf("entries[0].Action = %q, want the most recent entry first", entries[0].Action)
	}
}
