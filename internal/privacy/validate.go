package privacy

import (
	"strings"
	"unicode/utf8"
)

// ValidationError collects every rule a record submission violated, so the
// caller can surface all of them at once rather than only the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "privacy: invalid patient data: " + strings.Join(e.Violations, "; ")
}

// Minimum lengths count characters, not bytes, so multi-byte names are not
// over-credited. Leading and trailing whitespace does not count.
func checkName(name string) (string, bool) {
	if utf8.RuneCountInString(strings.TrimSpace(name)) < 2 {
		return "Name must be at least 2 characters long", false
	}
	return "", true
}

func checkContact(contact string) (string, bool) {
	if utf8.RuneCountInString(strings.TrimSpace(contact)) < 10 {
		return "Contact must be at least 10 characters long", false
	}
	return "", true
}

func checkDiagnosis(diagnosis string) (string, bool) {
	if utf8.RuneCountInString(strings.TrimSpace(diagnosis)) < 3 {
		return "Diagnosis must be at least 3 characters long", false
	}
	return "", true
}

// ValidateRecord checks all raw patient fields before persistence.
func ValidateRecord(name, contact, diagnosis string) error {
	var violations []string
	if msg, ok := checkName(name); !ok {
		violations = append(violations, msg)
	}
	if msg, ok := checkContact(contact); !ok {
		violations = append(violations, msg)
	}
	if msg, ok := checkDiagnosis(diagnosis); !ok {
		violations = append(violations, msg)
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// ValidateUpdate checks only the fields a partial edit supplies. An empty
// field means "leave unchanged" and is not validated; the same rules as
// ValidateRecord apply to the rest.
func ValidateUpdate(name, contact, diagnosis string) error {
	var violations []string
	if name != "" {
		if msg, ok := checkName(name); !ok {
			violations = append(violations, msg)
		}
	}
	if contact != "" {
		if msg, ok := checkContact(contact); !ok {
			violations = append(violations, msg)
		}
	}
	if diagnosis != "" {
		if msg, ok := checkDiagnosis(diagnosis); !ok {
			violations = append(violations, msg)
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
