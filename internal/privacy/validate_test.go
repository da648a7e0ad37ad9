package privacy

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRecord_Valid(t *testing.T) {
	if err := ValidateRecord("John Doe", "123-456-7890", "Common Cold"); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
}

func TestValidateRecord_CollectsAllViolations(t *testing.T) {
	err := ValidateRecord("J", "123", "OK")
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if len(verr.Violations) != 3 {
		t.Fatalf("got %d violations, want all 3: %v", len(verr.Violations), verr.Violations)
	}
}

func TestValidateRecord_CountsCharactersNotBytes(t *testing.T) {
	// "é" is two bytes but one character; it must not satisfy the
	// two-character name minimum on its own.
	if err := ValidateRecord("é", "123-456-7890", "Common Cold"); err == nil {
		t.Error("one-rune name accepted")
	}
	// Two multi-byte runes are two characters and pass.
	if err := ValidateRecord("éé", "123-456-7890", "Common Cold"); err != nil {
		t.Errorf("two-rune name rejected: %v", err)
	}
	// A ten-rune contact passes even when it is more than ten bytes.
	if err := ValidateRecord("John Doe", "åååååååååå", "Common Cold"); err != nil {
		t.Errorf("ten-rune contact rejected: %v", err)
	}
}

func TestValidateUpdate(t *testing.T) {
	// Empty fields mean "leave unchanged" and are not validated.
	if err := ValidateUpdate("", "", "Seasonal Flu"); err != nil {
		t.Errorf("partial update rejected: %v", err)
	}
	if err := ValidateUpdate("", "", ""); err != nil {
		t.Errorf("no-op update rejected: %v", err)
	}

	// Supplied fields follow the same rules as a full submission.
	err := ValidateUpdate("J", "", "OK")
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if len(verr.Violations) != 2 {
		t.Fatalf("got %d violations, want 2: %v", len(verr.Violations), verr.Violations)
	}
	if !strings.HasPrefix(verr.Violations[0], "Name") || !strings.HasPrefix(verr.Violations[1], "Diagnosis") {
		t.Errorf("violations = %v", verr.Violations)
	}
}

func TestValidateRecord_Rules(t *testing.T) {
	tests := []struct {
		name      string
		fieldName string
		contact   string
		diagnosis string
		wantRule  string
	}{
		{"short name", "J", "123-456-7890", "Common Cold", "Name"},
		{"short contact", "John Doe", "123456789", "Common Cold", "Contact"},
		{"short diagnosis", "John Doe", "123-456-7890", "OK", "Diagnosis"},
		{"whitespace does not count", "  J  ", "123-456-7890", "Common Cold", "Name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(tt.fieldName, tt.contact, tt.diagnosis)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T", err)
			}
			if len(verr.Violations) != 1 {
				t.Fatalf("got %d violations, want 1: %v", len(verr.Violations), verr.Violations)
			}
			if !strings.HasPrefix(verr.Violations[0], tt.wantRule) {
				t.Errorf("violation %q does not name rule %q", verr.Violations[0], tt.wantRule)
			}
		})
	}
}
