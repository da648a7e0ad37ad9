package privacy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/savegress/medvault/pkg/models"
)

const keySize = 32 // AES-256

// EncryptedDisplay is stored in the anonymized display fields of an encrypted
// record so consumers that only read those fields get a safe default.
const EncryptedDisplay = "🔐 ENCRYPTED"

// ErrEmptyPlaintext is returned when there is nothing to encrypt.
var ErrEmptyPlaintext = errors.New("privacy: cannot encrypt empty value")

// DecryptionError reports a ciphertext that could not be decrypted, either
// because it is malformed or because the key does not match. Callers treat it
// as recoverable and render a fallback instead of the ciphertext.
type DecryptionError struct {
	Cause error
}

func (e *DecryptionError) Error() string {
	return "privacy: decryption failed: " + e.Cause.Error()
}

func (e *DecryptionError) Unwrap() error { return e.Cause }

// Transform performs reversible field encryption with a process-wide key.
// Construct it once at startup and share the instance; the key is read-only
// after initialization.
type Transform struct {
	aead cipher.AEAD
}

// NewTransform loads the symmetric key from keyPath, generating and
// persisting a fresh one if the file does not exist yet. Losing the key file
// makes previously encrypted records permanently unrecoverable.
func NewTransform(keyPath string) (*Transform, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("privacy: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("privacy: create GCM: %w", err)
	}
	return &Transform{aead: aead}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != keySize {
			return nil, fmt.Errorf("privacy: key file %s holds %d bytes, want %d", path, len(key), keySize)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("privacy: read key file: %w", err)
	}

	key = make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("privacy: generate key: %w", err)
	}

	// Write through a temp file so a crash cannot leave a truncated key.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, key, 0o600); err != nil {
		return nil, fmt.Errorf("privacy: persist key: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("privacy: persist key: %w", err)
	}
	return key, nil
}

// Encrypt seals a plaintext with a fresh nonce per call, so two calls on the
// same input produce different ciphertexts. The result is
// base64(nonce || ciphertext).
func (t *Transform) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}
	nonce := make([]byte, t.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("privacy: nonce generation failed: %w", err)
	}
	ciphertext := t.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Malformed input, truncated
// input, and key mismatches all surface as *DecryptionError.
func (t *Transform) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &DecryptionError{Cause: err}
	}
	nonceSize := t.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", &DecryptionError{Cause: errors.New("ciphertext shorter than nonce")}
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := t.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", &DecryptionError{Cause: err}
	}
	return string(plaintext), nil
}

// EncryptRecord returns a copy of the record with the sensitive fields
// encrypted, both protection flags set, and the anonymized display fields
// replaced by the encrypted-display sentinel. The raw fields are retained.
func (t *Transform) EncryptRecord(rec models.PatientRecord) (models.PatientRecord, error) {
	out := rec
	var err error
	if out.EncryptedName, err = t.Encrypt(rec.Name); err != nil {
		return rec, err
	}
	if out.EncryptedContact, err = t.Encrypt(rec.Contact); err != nil {
		return rec, err
	}
	if out.EncryptedDiagnosis, err = t.Encrypt(rec.Diagnosis); err != nil {
		return rec, err
	}
	out.AnonymizedName = EncryptedDisplay
	out.AnonymizedContact = EncryptedDisplay
	out.IsAnonymized = true
	out.IsEncrypted = true
	return out, nil
}

// DecryptRecord recovers the plaintext triple from a record's encrypted
// fields. The record itself is not modified.
func (t *Transform) DecryptRecord(rec models.PatientRecord) (name, contact, diagnosis string, err error) {
	if name, err = t.Decrypt(rec.EncryptedName); err != nil {
		return "", "", "", err
	}
	if contact, err = t.Decrypt(rec.EncryptedContact); err != nil {
		return "", "", "", err
	}
	if diagnosis, err = t.Decrypt(rec.EncryptedDiagnosis); err != nil {
		return "", "", "", err
	}
	return name, contact, diagnosis, nil
}
