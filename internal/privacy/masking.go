package privacy

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/savegress/medvault/pkg/models"
)

const (
	// MaskedContactPlaceholder is returned when a contact has fewer than
	// four digits to preserve.
	MaskedContactPlaceholder = "XXX-XXX-XXXX"

	// MaskedDiagnosisPlaceholder is returned for an empty diagnosis.
	MaskedDiagnosisPlaceholder = "CONFIDENTIAL"
)

// MaskName replaces a patient name with an anonymous identifier derived from
// the record id. Deterministic: the same id always yields the same mask.
func MaskName(id int64) string {
	return fmt.Sprintf("ANON_%04d", id)
}

// MaskContact keeps only the last four digits of a contact. Non-digit
// characters are stripped before the tail is taken.
func MaskContact(contact string) string {
	var digits []rune
	for _, r := range contact {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return MaskedContactPlaceholder
	}
	return "XXX-XXX-" + string(digits[len(digits)-4:])
}

// MaskDiagnosis reduces a diagnosis to its first whitespace-delimited token.
func MaskDiagnosis(diagnosis string) string {
	fields := strings.Fields(diagnosis)
	if len(fields) == 0 {
		return MaskedDiagnosisPlaceholder
	}
	return fields[0] + "***"
}

// Anonymize returns a copy of the record with the anonymized display fields
// populated and IsAnonymized set. The raw fields and IsEncrypted are left
// untouched; masking never destroys source data. Re-applying to an already
// anonymized record yields the same result.
func Anonymize(rec models.PatientRecord) models.PatientRecord {
	out := rec
	out.AnonymizedName = MaskName(rec.ID)
	out.AnonymizedContact = MaskContact(rec.Contact)
	out.IsAnonymized = true
	return out
}
