// Package audit appends immutable activity entries to the record store.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/savegress/medvault/pkg/models"
)

// Action is an audit log verb. The vocabulary is fixed; extend it by adding
// new members, never by renaming existing ones.
type Action string

const (
	ActionLogin                    Action = "LOGIN"
	ActionLogout                   Action = "LOGOUT"
	ActionFailedLogin              Action = "FAILED_LOGIN"
	ActionAddPatient               Action = "ADD_PATIENT"
	ActionEditPatient              Action = "EDIT_PATIENT"
	ActionDeletePatient            Action = "DELETE_PATIENT"
	ActionAnonymizeData            Action = "ANONYMIZE_DATA"
	ActionEncryptData              Action = "ENCRYPT_DATA"
	ActionDecryptData              Action = "DECRYPT_DATA"
	ActionViewAnonymizedData       Action = "VIEW_ANONYMIZED_DATA"
	ActionExportAnonymizedData     Action = "EXPORT_ANONYMIZED_DATA"
	ActionAutoDataRetentionCleanup Action = "AUTO_DATA_RETENTION_CLEANUP"
	ActionDataRetentionCleanup     Action = "DATA_RETENTION_CLEANUP"
	ActionError                    Action = "ERROR"
)

// FailedLoginRole is the sentinel recorded in the role column when
// authentication fails. It is distinct from every real role.
const FailedLoginRole = "FAILED_LOGIN"

// Store is the persistence surface the logger needs.
type Store interface {
	AppendLog(ctx context.Context, entry models.AuditLogEntry) error
	GetLogs(ctx context.Context) ([]models.AuditLogEntry, error)
}

// Logger appends audit entries on behalf of authenticated users.
type Logger struct {
	store Store
}

// NewLogger creates a new audit logger.
func NewLogger(store Store) *Logger {
	return &Logger{store: store}
}

// Record appends one entry attributed to the given user.
func (l *Logger) Record(ctx context.Context, user models.User, action Action, details string) error {
	return l.store.AppendLog(ctx, models.AuditLogEntry{
		UserID:    user.UserID,
		Username:  user.Username,
		Role:      string(user.Role),
		Action:    string(action),
		Timestamp: time.Now().UTC(),
		Details:   details,
	})
}

// RecordFailedLogin appends the failed-login entry: user id zero, the
// sentinel role, and the attempted username verbatim in the details. Admins
// triage break-in attempts from these entries, so the username is not
// redacted.
func (l *Logger) RecordFailedLogin(ctx context.Context, username string) error {
	return l.store.AppendLog(ctx, models.AuditLogEntry{
		UserID:    0,
		Username:  username,
		Role:      FailedLoginRole,
		Action:    string(ActionFailedLogin),
		Timestamp: time.Now().UTC(),
		Details:   fmt.Sprintf("Failed login attempt for username: %s", username),
	})
}

// Entries returns the full audit trail, newest first.
func (l *Logger) Entries(ctx context.Context) ([]models.AuditLogEntry, error) {
	return l.store.GetLogs(ctx)
}
