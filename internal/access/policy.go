// Package access implements role-based access control: the permission table
// and the role-filtered record projections. Both entry points are total
// functions with no I/O; anything outside the known role and permission sets
// fails closed to "no access".
package access

import (
	"sort"

	"github.com/savegress/medvault/internal/privacy"
	"github.com/savegress/medvault/pkg/models"
)

// Permission names a single gated capability.
type Permission string

const (
	PermViewRawData        Permission = "view_raw_data"
	PermViewAnonymizedData Permission = "view_anonymized_data"
	PermAddPatient         Permission = "add_patient"
	PermEditPatient        Permission = "edit_patient"
	PermDeletePatient      Permission = "delete_patient"
	PermAnonymizeData      Permission = "anonymize_data"
	PermViewLogs           Permission = "view_logs"
	PermExportData         Permission = "export_data"
	PermManageUsers        Permission = "manage_users"
)

// Redacted replaces every sensitive field in the receptionist projection.
const Redacted = "***CONFIDENTIAL***"

var permissions = map[models.Role]map[Permission]bool{
	models.RoleAdmin: {
		PermViewRawData:        true,
		PermViewAnonymizedData: true,
		PermAddPatient:         true,
		PermEditPatient:        true,
		PermDeletePatient:      true,
		PermAnonymizeData:      true,
		PermViewLogs:           true,
		PermExportData:         true,
		PermManageUsers:        true,
	},
	models.RoleDoctor: {
		PermViewAnonymizedData: true,
		PermExportData:         true,
	},
	models.RoleReceptionist: {
		PermAddPatient:  true,
		PermEditPatient: true,
	},
}

// HasPermission reports whether a role holds a permission. Unknown roles and
// unknown permissions are denied.
func HasPermission(role models.Role, perm Permission) bool {
	perms, ok := permissions[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// AllowedActions lists the permissions a role holds, sorted for stable output.
func AllowedActions(role models.Role) []Permission {
	perms, ok := permissions[role]
	if !ok {
		return nil
	}
	var allowed []Permission
	for perm, granted := range perms {
		if granted {
			allowed = append(allowed, perm)
		}
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })
	return allowed
}

// FilterRecord projects a record down to what a role may see. The input is
// never mutated; callers always receive a fresh value.
//
//   - admin sees the record as stored.
//   - doctor sees the anonymized display fields in place of raw name and
//     contact. Records not yet anonymized are masked on the fly so raw data
//     never reaches a doctor, not even transiently.
//   - receptionist sees id and creation date only.
//
// Unknown roles get the fully redacted projection.
func FilterRecord(rec models.PatientRecord, role models.Role) models.PatientRecord {
	switch role {
	case models.RoleAdmin:
		return rec

	case models.RoleDoctor:
		filtered := rec
		filtered.EncryptedName = ""
		filtered.EncryptedContact = ""
		filtered.EncryptedDiagnosis = ""
		if rec.IsAnonymized {
			filtered.Name = rec.AnonymizedName
			filtered.Contact = rec.AnonymizedContact
			if filtered.Name == "" {
				filtered.Name = "ANON_XXXX"
			}
			if filtered.Contact == "" {
				filtered.Contact = privacy.MaskedContactPlaceholder
			}
			// Diagnosis stays readable on anonymized records; doctors
			// need it for treatment.
			return filtered
		}
		// Fallback masking for records an admin has not protected yet.
		// This is a view-time transform, never a stored mutation.
		filtered.Name = privacy.MaskName(rec.ID)
		filtered.Contact = privacy.MaskContact(rec.Contact)
		filtered.Diagnosis = privacy.MaskDiagnosis(rec.Diagnosis)
		return filtered
	}

	// Receptionist, and any role outside the closed set: minimal projection.
	return models.PatientRecord{
		ID:        rec.ID,
		Name:      Redacted,
		Contact:   Redacted,
		Diagnosis: Redacted,
		CreatedAt: rec.CreatedAt,
	}
}

// FilterRecords applies FilterRecord to a whole result set.
func FilterRecords(recs []models.PatientRecord, role models.Role) []models.PatientRecord {
	filtered := make([]models.PatientRecord, len(recs))
	for i, rec := range recs {
		filtered[i] = FilterRecord(rec, role)
	}
	return filtered
}
