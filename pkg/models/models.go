package models

import (
	"time"
)

// Role identifies one of the three system roles. The set is closed: every
// switch over Role must carry a fail-closed default.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
)

// ParseRole maps a stored role string onto the closed Role set. Anything
// outside the set is rejected so unknown roles never gain access.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleDoctor, RoleReceptionist:
		return Role(s), true
	}
	return "", false
}

// DefaultRetentionDays applies when a record has no per-record override.
const DefaultRetentionDays = 365

// PatientRecord is a patient row as held by the record store. Raw fields are
// always retained; protection only restricts what is surfaced to callers.
// IsEncrypted implies IsAnonymized. Editing raw fields resets IsAnonymized
// and clears the anonymized display fields, because a stale mask no longer
// matches the new content.
type PatientRecord struct {
	ID                 int64     `json:"patient_id"`
	Name               string    `json:"name"`
	Contact            string    `json:"contact"`
	Diagnosis          string    `json:"diagnosis"`
	AnonymizedName     string    `json:"anonymized_name,omitempty"`
	AnonymizedContact  string    `json:"anonymized_contact,omitempty"`
	EncryptedName      string    `json:"encrypted_name,omitempty"`
	EncryptedContact   string    `json:"encrypted_contact,omitempty"`
	EncryptedDiagnosis string    `json:"encrypted_diagnosis,omitempty"`
	IsAnonymized       bool      `json:"is_anonymized"`
	IsEncrypted        bool      `json:"is_encrypted"`
	CreatedAt          time.Time `json:"date_added"`
}

// RetentionPolicy governs how long its patient record may be stored. It is
// created atomically with the record and cascade-deleted with it.
type RetentionPolicy struct {
	PatientID     int64     `json:"patient_id"`
	RetentionDays int       `json:"retention_days"`
	ConsentGiven  bool      `json:"consent_given"`
	ConsentDate   time.Time `json:"consent_date"`
}

// RetainedRecord pairs a patient record with its retention policy.
type RetainedRecord struct {
	Record PatientRecord   `json:"record"`
	Policy RetentionPolicy `json:"policy"`
}

// AuditLogEntry is an immutable activity record. Entries are appended by the
// audit logger and never updated or deleted by the application. A UserID of
// zero marks an unauthenticated actor (failed logins).
type AuditLogEntry struct {
	LogID     int64     `json:"log_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
}

// User is an authenticated identity. The password hash never leaves the
// store layer in API responses.
type User struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}
