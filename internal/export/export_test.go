package export

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/savegress/medvault/pkg/models"
)

func exportRecords() []models.PatientRecord {
	return []models.PatientRecord{
		{
			ID:           1,
			Name:         "ANON_0001",
			Contact:      "XXX-XXX-7890",
			Diagnosis:    "Common Cold",
			IsAnonymized: true,
			CreatedAt:    time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			ID:        2,
			Name:      "ANON_0002",
			Contact:   "XXX-XXX-XXXX",
			Diagnosis: "Flu***",
			CreatedAt: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
		},
	}
}

func TestRecordsCSV(t *testing.T) {
	out, err := RecordsCSV(exportRecords())
	if err != nil {
		t.Fatalf("RecordsCSV: %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2 records", len(rows))
	}

	wantHeader := []string{"patient_id", "name", "contact", "diagnosis", "date_added", "is_anonymized", "is_encrypted"}
	for i, col := range wantHeader {
		if rows[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], col)
		}
	}

	first := rows[1]
	if first[0] != "1" || first[1] != "ANON_0001" || first[2] != "XXX-XXX-7890" {
		t.Errorf("row = %v", first)
	}
	if first[4] != "2026-01-15T10:30:00Z" {
		t.Errorf("date_added = %q, want RFC 3339 UTC", first[4])
	}
	if first[5] != "true" || first[6] != "false" {
		t.Errorf("flags = %q/%q", first[5], first[6])
	}
}

func TestRecordsCSV_Empty(t *testing.T) {
	out, err := RecordsCSV(nil)
	if err != nil {
		t.Fatalf("RecordsCSV: %v", err)
	}
	if got := strings.TrimSpace(string(out)); !strings.HasPrefix(got, "patient_id,") || strings.Count(got, "\n") != 0 {
		t.Errorf("empty export = %q, want header only", got)
	}
}

func TestRecordsJSON(t *testing.T) {
	out, err := RecordsJSON(exportRecords())
	if err != nil {
		t.Fatalf("RecordsJSON: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("got %d records, want 2", len(decoded))
	}
	if decoded[0]["patient_id"] != float64(1) || decoded[0]["name"] != "ANON_0001" {
		t.Errorf("decoded[0] = %v", decoded[0])
	}
	if _, ok := decoded[0]["date_added"]; !ok {
		t.Error("date_added key missing from JSON export")
	}
}

func TestLogsCSV(t *testing.T) {
	entries := []models.AuditLogEntry{
		{
			LogID:     5,
			UserID:    1,
			Username:  "admin",
			Role:      "admin",
			Action:    "DELETE_PATIENT",
			Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			Details:   "Deleted patient ID: 2",
		},
	}

	out, err := LogsCSV(entries)
	if err != nil {
		t.Fatalf("LogsCSV: %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header + 1 entry", len(rows))
	}
	row := rows[1]
	if row[0] != "5" || row[2] != "admin" || row[4] != "DELETE_PATIENT" {
		t.Errorf("row = %v", row)
	}
	if row[6] != "Deleted patient ID: 2" {
		t.Errorf("details = %q", row[6])
	}
}
