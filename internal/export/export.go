// Package export serializes record collections for download. Callers must
// pass role-filtered views; nothing here re-checks permissions.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"

	"github.com/savegress/medvault/pkg/models"
)

// RecordsCSV renders patient views as delimited text.
func RecordsCSV(records []models.PatientRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"patient_id", "name", "contact", "diagnosis", "date_added", "is_anonymized", "is_encrypted"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.Name,
			rec.Contact,
			rec.Diagnosis,
			rec.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(rec.IsAnonymized),
			strconv.FormatBool(rec.IsEncrypted),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RecordsJSON renders patient views as an indented JSON document.
func RecordsJSON(records []models.PatientRecord) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

// LogsCSV renders audit entries as delimited text.
func LogsCSV(entries []models.AuditLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"log_id", "user_id", "username", "role", "action", "timestamp", "details"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		row := []string{
			strconv.FormatInt(entry.LogID, 10),
			strconv.FormatInt(entry.UserID, 10),
			entry.Username,
			entry.Role,
			entry.Action,
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.Details,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
