// Package store owns all persisted state: patient records, retention
// policies, users, and the append-only audit log. Every mutating operation is
// transactional; callers never observe partial writes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/savegress/medvault/pkg/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidCredentials is returned when a username/password pair does
	// not verify. It deliberately does not distinguish unknown users from
	// wrong passwords.
	ErrInvalidCredentials = errors.New("store: invalid credentials")
)

// Store is a SQLite-backed record store.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) the database at path, initializes the schema, and
// seeds the fixed bootstrap identities on a fresh deployment.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	if err := s.seedUsers(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: seed users: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK(role IN ('admin', 'doctor', 'receptionist'))
	);

	CREATE TABLE IF NOT EXISTS patients (
		patient_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		contact TEXT NOT NULL,
		diagnosis TEXT NOT NULL,
		anonymized_name TEXT NOT NULL DEFAULT '',
		anonymized_contact TEXT NOT NULL DEFAULT '',
		encrypted_name TEXT NOT NULL DEFAULT '',
		encrypted_contact TEXT NOT NULL DEFAULT '',
		encrypted_diagnosis TEXT NOT NULL DEFAULT '',
		is_anonymized INTEGER NOT NULL DEFAULT 0,
		is_encrypted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS retention_policies (
		patient_id INTEGER PRIMARY KEY REFERENCES patients(patient_id) ON DELETE CASCADE,
		retention_days INTEGER NOT NULL DEFAULT 365,
		consent_given INTEGER NOT NULL DEFAULT 0,
		consent_date INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		log_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		role TEXT NOT NULL,
		action TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		details TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_ts ON audit_logs(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// seedUsers inserts the fixed bootstrap identities so a fresh deployment can
// authenticate once before rotating credentials. Existing users are left
// untouched.
func (s *Store) seedUsers() error {
	defaults := []struct {
		username string
		password string
		role     models.Role
	}{
		{"admin", "admin123", models.RoleAdmin},
		{"Dr.Bob", "doc123", models.RoleDoctor},
		{"Alice_recep", "rec123", models.RoleReceptionist},
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, u := range defaults {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO users (username, password_hash, role) VALUES (?, ?, ?)`,
			u.username, string(hash), string(u.role),
		); err != nil {
			return err
		}
	}
	return nil
}

// CreateRecord inserts a patient record together with its default retention
// policy in one transaction and returns the assigned id.
func (s *Store) CreateRecord(ctx context.Context, name, contact, diagnosis string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin create: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO patients (name, contact, diagnosis, created_at) VALUES (?, ?, ?, ?)`,
		name, contact, diagnosis, now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert patient: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: patient id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO retention_policies (patient_id, retention_days, consent_given, consent_date) VALUES (?, ?, 1, ?)`,
		id, models.DefaultRetentionDays, now.Unix(),
	); err != nil {
		return 0, fmt.Errorf("store: insert retention policy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit create: %w", err)
	}
	return id, nil
}

const recordColumns = `patient_id, name, contact, diagnosis,
	anonymized_name, anonymized_contact,
	encrypted_name, encrypted_contact, encrypted_diagnosis,
	is_anonymized, is_encrypted, created_at`

func scanRecord(row interface{ Scan(...any) error }) (models.PatientRecord, error) {
	var rec models.PatientRecord
	var createdAt int64
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Contact, &rec.Diagnosis,
		&rec.AnonymizedName, &rec.AnonymizedContact,
		&rec.EncryptedName, &rec.EncryptedContact, &rec.EncryptedDiagnosis,
		&rec.IsAnonymized, &rec.IsEncrypted, &createdAt,
	)
	if err != nil {
		return rec, err
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return rec, nil
}

// GetRecord returns a single patient record.
func (s *Store) GetRecord(ctx context.Context, id int64) (models.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM patients WHERE patient_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("store: get record: %w", err)
	}
	return rec, nil
}

// GetAll returns every patient record, newest id first.
func (s *Store) GetAll(ctx context.Context) ([]models.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM patients ORDER BY patient_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	defer rows.Close()

	var records []models.PatientRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetAllWithPolicies returns every record joined with its retention policy,
// falling back to the default policy for records that somehow lack one.
func (s *Store) GetAllWithPolicies(ctx context.Context) ([]models.RetainedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.patient_id, p.name, p.contact, p.diagnosis,
			p.anonymized_name, p.anonymized_contact,
			p.encrypted_name, p.encrypted_contact, p.encrypted_diagnosis,
			p.is_anonymized, p.is_encrypted, p.created_at,
			COALESCE(r.retention_days, ?),
			COALESCE(r.consent_given, 0),
			COALESCE(r.consent_date, p.created_at)
		FROM patients p
		LEFT JOIN retention_policies r ON p.patient_id = r.patient_id
		ORDER BY p.patient_id DESC
	`, models.DefaultRetentionDays)
	if err != nil {
		return nil, fmt.Errorf("store: list records with policies: %w", err)
	}
	defer rows.Close()

	var results []models.RetainedRecord
	for rows.Next() {
		var rec models.PatientRecord
		var createdAt, consentDate int64
		var policy models.RetentionPolicy
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.Contact, &rec.Diagnosis,
			&rec.AnonymizedName, &rec.AnonymizedContact,
			&rec.EncryptedName, &rec.EncryptedContact, &rec.EncryptedDiagnosis,
			&rec.IsAnonymized, &rec.IsEncrypted, &createdAt,
			&policy.RetentionDays, &policy.ConsentGiven, &consentDate,
		); err != nil {
			return nil, fmt.Errorf("store: scan record with policy: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		policy.PatientID = rec.ID
		policy.ConsentDate = time.Unix(consentDate, 0).UTC()
		results = append(results, models.RetainedRecord{Record: rec, Policy: policy})
	}
	return results, rows.Err()
}

// UpdateRecord applies the non-empty fields to a record. Any edit resets
// IsAnonymized and clears the anonymized display fields: a stale mask no
// longer matches the new content. Reports whether a row changed.
func (s *Store) UpdateRecord(ctx context.Context, id int64, name, contact, diagnosis string) (bool, error) {
	var sets []string
	var params []any
	if name != "" {
		sets = append(sets, "name = ?")
		params = append(params, name)
	}
	if contact != "" {
		sets = append(sets, "contact = ?")
		params = append(params, contact)
	}
	if diagnosis != "" {
		sets = append(sets, "diagnosis = ?")
		params = append(params, diagnosis)
	}
	if len(sets) == 0 {
		return false, nil
	}
	sets = append(sets,
		"is_anonymized = 0",
		"anonymized_name = ''",
		"anonymized_contact = ''",
	)
	params = append(params, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE patients SET `+strings.Join(sets, ", ")+` WHERE patient_id = ?`, params...)
	if err != nil {
		return false, fmt.Errorf("store: update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: update record: %w", err)
	}
	return n > 0, nil
}

// SaveProtection persists a record's protection fields and flags, as produced
// by the privacy transform. Raw fields are never written here.
func (s *Store) SaveProtection(ctx context.Context, rec models.PatientRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE patients
		SET anonymized_name = ?, anonymized_contact = ?,
			encrypted_name = ?, encrypted_contact = ?, encrypted_diagnosis = ?,
			is_anonymized = ?, is_encrypted = ?
		WHERE patient_id = ?
	`, rec.AnonymizedName, rec.AnonymizedContact,
		rec.EncryptedName, rec.EncryptedContact, rec.EncryptedDiagnosis,
		rec.IsAnonymized, rec.IsEncrypted, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("store: save protection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: save protection: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecord removes a record and its retention policy in one transaction.
// Reports whether the record existed.
func (s *Store) DeleteRecord(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM retention_policies WHERE patient_id = ?`, id); err != nil {
		return false, fmt.Errorf("store: delete retention policy: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM patients WHERE patient_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete patient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete patient: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit delete: %w", err)
	}
	return n > 0, nil
}

// GetPolicy returns the retention policy of a record.
func (s *Store) GetPolicy(ctx context.Context, id int64) (models.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var policy models.RetentionPolicy
	var consentDate int64
	err := s.db.QueryRowContext(ctx, `
		SELECT patient_id, retention_days, consent_given, consent_date
		FROM retention_policies WHERE patient_id = ?
	`, id).Scan(&policy.PatientID, &policy.RetentionDays, &policy.ConsentGiven, &consentDate)
	if errors.Is(err, sql.ErrNoRows) {
		return policy, ErrNotFound
	}
	if err != nil {
		return policy, fmt.Errorf("store: get policy: %w", err)
	}
	policy.ConsentDate = time.Unix(consentDate, 0).UTC()
	return policy, nil
}

// SetPolicy overrides the retention period of a record.
func (s *Store) SetPolicy(ctx context.Context, id int64, retentionDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE retention_policies SET retention_days = ? WHERE patient_id = ?`,
		retentionDays, id)
	if err != nil {
		return fmt.Errorf("store: set policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set policy: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLog appends one audit entry. Entries are immutable once written.
func (s *Store) AppendLog(ctx context.Context, entry models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, username, role, action, timestamp, details)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.UserID, entry.Username, entry.Role, entry.Action, entry.Timestamp.UTC().Unix(), entry.Details)
	if err != nil {
		return fmt.Errorf("store: append log: %w", err)
	}
	return nil
}

// GetLogs returns all audit entries, newest first.
func (s *Store) GetLogs(ctx context.Context) ([]models.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT log_id, user_id, username, role, action, timestamp, details
		FROM audit_logs ORDER BY timestamp DESC, log_id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list logs: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditLogEntry
	for rows.Next() {
		var entry models.AuditLogEntry
		var ts int64
		if err := rows.Scan(&entry.LogID, &entry.UserID, &entry.Username,
			&entry.Role, &entry.Action, &ts, &entry.Details); err != nil {
			return nil, fmt.Errorf("store: scan log: %w", err)
		}
		entry.Timestamp = time.Unix(ts, 0).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// VerifyUser checks a credential pair and returns the matching user.
func (s *Store) VerifyUser(ctx context.Context, username, password string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var user models.User
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, password_hash, role FROM users WHERE username = ?
	`, username).Scan(&user.UserID, &user.Username, &user.PasswordHash, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, fmt.Errorf("store: verify user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	parsed, ok := models.ParseRole(role)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	user.Role = parsed
	return user, nil
}

// CreateUser adds a user with a bcrypt-hashed password.
func (s *Store) CreateUser(ctx context.Context, username, password string, role models.Role) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("store: hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)`,
		username, string(hash), string(role))
	if err != nil {
		return 0, fmt.Errorf("store: create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: user id: %w", err)
	}
	return id, nil
}

// GetUsers returns all users, ordered by id. Password hashes stay internal to
// the returned structs and are excluded from JSON.
func (s *Store) GetUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, username, role FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		var role string
		if err := rows.Scan(&user.UserID, &user.Username, &role); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		user.Role, _ = models.ParseRole(role)
		users = append(users, user)
	}
	return users, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
