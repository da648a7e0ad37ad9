package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/savegress/medvault/internal/access"
	"github.com/savegress/medvault/internal/audit"
	"github.com/savegress/medvault/internal/export"
	"github.com/savegress/medvault/internal/privacy"
	"github.com/savegress/medvault/internal/retention"
	"github.com/savegress/medvault/internal/session"
	"github.com/savegress/medvault/internal/store"
	"github.com/savegress/medvault/pkg/models"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	store         *store.Store
	privacy       *privacy.Transform
	retention     *retention.Engine
	audit         *audit.Logger
	sessions      *session.Manager
	warnThreshold int
}

// NewHandlers creates new handlers.
func NewHandlers(st *store.Store, transform *privacy.Transform, eng *retention.Engine,
	auditLog *audit.Logger, sessions *session.Manager, warnThreshold int) *Handlers {
	return &Handlers{
		store:         st,
		privacy:       transform,
		retention:     eng,
		audit:         auditLog,
		sessions:      sessions,
		warnThreshold: warnThreshold,
	}
}

// HealthCheck handles health check requests.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "medvault",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Login authenticates a credential pair and issues a session token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess, token, err := h.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to authenticate")
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  sess.User,
	})
}

// Logout ends the current session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := h.sessions.Logout(r.Context(), sess); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to log out")
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// ListPatients returns the role-filtered record list. The first admin hit in
// a session also runs the automatic retention purge.
func (h *Handlers) ListPatients(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if sess.User.Role == models.RoleAdmin && h.sessions.MarkAutoCleanupDone(sess.ID) {
		h.autoCleanup(r, sess)
	}

	records, err := h.store.GetAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load patients")
		return
	}

	if sess.User.Role == models.RoleDoctor {
		if err := h.audit.Record(r.Context(), sess.User, audit.ActionViewAnonymizedData,
			fmt.Sprintf("Viewed anonymized data for %d patient(s)", len(records))); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to record audit entry")
			return
		}
	}

	respond(w, http.StatusOK, access.FilterRecords(records, sess.User.Role))
}

// autoCleanup runs the once-per-admin-session retention purge. Purge errors
// are reported through the audit trail and the log, never to the client; the
// dashboard must still load.
func (h *Handlers) autoCleanup(r *http.Request, sess *session.Session) {
	count, _, err := h.retention.PurgeExpired(r.Context())
	if err != nil {
		log.Printf("automatic retention cleanup: %v", err)
	}
	if count > 0 {
		details := fmt.Sprintf("Automatic cleanup deleted %d expired patient record(s)", count)
		if err := h.audit.Record(r.Context(), sess.User, audit.ActionAutoDataRetentionCleanup, details); err != nil {
			log.Printf("record auto-cleanup audit entry: %v", err)
		}
	}
}

// GetPatient returns one role-filtered record.
func (h *Handlers) GetPatient(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid patient id")
		return
	}

	rec, err := h.store.GetRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Patient not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load patient")
		return
	}

	respond(w, http.StatusOK, access.FilterRecord(rec, sess.User.Role))
}

type patientRequest struct {
	Name      string `json:"name"`
	Contact   string `json:"contact"`
	Diagnosis string `json:"diagnosis"`
}

// AddPatient creates a patient record with its default retention policy.
func (h *Handlers) AddPatient(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermAddPatient) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	var req patientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := privacy.ValidateRecord(req.Name, req.Contact, req.Diagnosis); err != nil {
		var verr *privacy.ValidationError
		if errors.As(err, &verr) {
			respond(w, http.StatusBadRequest, map[string]interface{}{
				"error":      "Validation failed",
				"violations": verr.Violations,
			})
			return
		}
		respondError(w, http.StatusBadRequest, "Validation failed")
		return
	}

	id, err := h.store.CreateRecord(r.Context(), req.Name, req.Contact, req.Diagnosis)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to add patient")
		return
	}

	if err := h.audit.Record(r.Context(), sess.User, audit.ActionAddPatient,
		fmt.Sprintf("Added patient: %s", req.Name)); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record audit entry")
		return
	}

	respond(w, http.StatusCreated, map[string]int64{"patient_id": id})
}

// UpdatePatient applies a partial edit. Editing always resets the record's
// anonymization display state.
func (h *Handlers) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermEditPatient) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid patient id")
		return
	}

	var req patientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" && req.Contact == "" && req.Diagnosis == "" {
		respondError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	if err := privacy.ValidateUpdate(req.Name, req.Contact, req.Diagnosis); err != nil {
		var verr *privacy.ValidationError
		if errors.As(err, &verr) {
			respond(w, http.StatusBadRequest, map[string]interface{}{
				"error":      "Validation failed",
				"violations": verr.Violations,
			})
			return
		}
		respondError(w, http.StatusBadRequest, "Validation failed")
		return
	}

	changed, err := h.store.UpdateRecord(r.Context(), id, req.Name, req.Contact, req.Diagnosis)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update patient")
		return
	}
	if !changed {
		respondError(w, http.StatusNotFound, "Patient not found")
		return
	}

	if err := h.audit.Record(r.Context(), sess.User, audit.ActionEditPatient,
		fmt.Sprintf("Edited patient ID %d", id)); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record audit entry")
		return
	}

	respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeletePatient removes a record and its retention policy.
func (h *Handlers) DeletePatient(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermDeletePatient) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid patient id")
		return
	}

	deleted, err := h.store.DeleteRecord(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to delete patient")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "Patient not found")
		return
	}

	if err := h.audit.Record(r.Context(), sess.User, audit.ActionDeletePatient,
		fmt.Sprintf("Deleted patient ID %d", id)); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record audit entry")
		return
	}

	respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AnonymizePatients masks every record not yet anonymized. Already-protected
// records are untouched, which makes a re-run a no-op for them.
func (h *Handlers) AnonymizePatients(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermAnonymizeData) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	records, err := h.store.GetAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load patients")
		return
	}

	count := 0
	for _, rec := range records {
		if rec.IsAnonymized {
			continue
		}
		if err := h.store.SaveProtection(r.Context(), privacy.Anonymize(rec)); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to anonymize patients")
			return
		}
		count++
	}

	if err := h.audit.Record(r.Context(), sess.User, audit.ActionAnonymizeData,
		fmt.Sprintf("Anonymized %d patient record(s)", count)); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record audit entry")
		return
	}

	respond(w, http.StatusOK, map[string]int{"anonymized": count})
}

// EncryptPatients encrypts every record not yet encrypted.
func (h *Handlers) EncryptPatients(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermAnonymizeData) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	records, err := h.store.GetAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load patients")
		return
	}

	count := 0
	for _, rec := range records {
		if rec.IsEncrypted {
			continue
		}
		encrypted, err := h.privacy.EncryptRecord(rec)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to encrypt patients")
			return
		}
		if err := h.store.SaveProtection(r.Context(), encrypted); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to encrypt patients")
			return
		}
		count++
	}

	if err := h.audit.Record(r.Context(), sess.User, audit.ActionEncryptData,
		fmt.Sprintf("Encrypted %d patient record(s)", count)); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record audit entry")
		return
	}

	respond(w, http.StatusOK, map[string]int{"encrypted": count})
}

// DecryptPatient reveals the plaintext of an encrypted record to a privileged
// caller. Decryption failure is recoverable: the client gets a labeled
// fallback, never ciphertext or a crash.
func (h *Handlers) DecryptPatient(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermViewRawData) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid patient id")
		return
	}

	rec, err := h.store.GetRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Patient not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load patient")
		return
	}
	if !rec.IsEncrypted {
		respondError(w, http.StatusBadRequest, "Patient record is not encrypted")
		return
	}

	name, contact, diagnosis, err := h.privacy.DecryptRecord(rec)
	if err != nil {
		var derr *privacy.DecryptionError
		if errors.As(err, &derr) {
			respond(w, http.StatusOK, map[string]interface{}{
				"patient_id":        id,
				"decryption_failed": true,
				"name":              "[DECRYPTION FAILED]",
				"contact":           "[DECRYPTION FAILED]",
				"diagnosis":         "[DECRYPTION FAILED]",
			})
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to decrypt patient")
		return
	}

	if err := h.audit.Record(r.Context(), sess.User, audit.ActionDecryptData,
		fmt.Sprintf("Decrypted data for patient ID %d", id)); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record audit entry")
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"patient_id": id,
		"name":       name,
		"contact":    contact,
		"diagnosis":  diagnosis,
	})
}

// ExportPatients serializes the role-filtered record list. Raw fields never
// reach a non-admin export because filtering happens before serialization.
func (h *Handlers) ExportPatients(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermExportData) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	records, err := h.store.GetAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load patients")
		return
	}
	filtered := access.FilterRecords(records, sess.User.Role)

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	var payload []byte
	var contentType, filename string
	switch format {
	case "csv":
		payload, err = export.RecordsCSV(filtered)
		contentType, filename = "text/csv", "patients.csv"
	case "json":
		payload, err = export.RecordsJSON(filtered)
		contentType, filename = "application/json", "patients.json"
	default:
		respondError(w, http.StatusBadRequest, "Unsupported export format")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to export patients")
		return
	}

	if sess.User.Role == models.RoleDoctor {
		if err := h.audit.Record(r.Context(), sess.User, audit.ActionExportAnonymizedData,
			fmt.Sprintf("Exported %d anonymized patient record(s) as %s", len(filtered), format)); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to record audit entry")
			return
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// ListLogs returns the audit trail, newest first.
func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermViewLogs) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	entries, err := h.audit.Entries(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load logs")
		return
	}
	respond(w, http.StatusOK, entries)
}

// ExportLogs downloads the audit trail as delimited text.
func (h *Handlers) ExportLogs(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermViewLogs) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	entries, err := h.audit.Entries(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load logs")
		return
	}
	payload, err := export.LogsCSV(entries)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to export logs")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=audit_logs.csv")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// ListExpiring returns records nearing their retention limit, most urgent
// first.
func (h *Handlers) ListExpiring(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermViewRawData) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	threshold := h.warnThreshold
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid days threshold")
			return
		}
		threshold = n
	}

	expiring, err := h.retention.ListExpiring(r.Context(), threshold)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list expiring records")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"threshold_days": threshold,
		"expiring":       expiring,
	})
}

// Cleanup runs the on-demand retention purge.
func (h *Handlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermDeletePatient) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	count, purged, err := h.retention.PurgeExpired(r.Context())
	if err != nil && count == 0 {
		respondError(w, http.StatusInternalServerError, "Failed to run retention cleanup")
		return
	}
	if err != nil {
		// Partial failure: some records were purged, some were not.
		// Report what went through and keep the failures in the log.
		log.Printf("retention cleanup completed with errors: %v", err)
	}

	if count > 0 {
		if err := h.audit.Record(r.Context(), sess.User, audit.ActionDataRetentionCleanup,
			fmt.Sprintf("Deleted %d expired patient record(s)", count)); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to record audit entry")
			return
		}
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"deleted_count": count,
		"purged":        purged,
	})
}

// ListUsers returns all users without credential material.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermManageUsers) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	users, err := h.store.GetUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load users")
		return
	}
	respond(w, http.StatusOK, users)
}

// CreateUser adds a user with one of the three fixed roles.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok || !access.HasPermission(sess.User.Role, access.PermManageUsers) {
		respondError(w, http.StatusForbidden, "Forbidden")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		respondError(w, http.StatusBadRequest, "Unknown role")
		return
	}
	if req.Username == "" || len(req.Password) < 6 {
		respondError(w, http.StatusBadRequest, "Username and a password of at least 6 characters are required")
		return
	}

	id, err := h.store.CreateUser(r.Context(), req.Username, req.Password, role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	respond(w, http.StatusCreated, map[string]int64{"user_id": id})
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}
