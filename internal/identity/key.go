package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// PlaceholderNames are values that indicate missing/test data
var PlaceholderNames = map[string]bool{
	"":          true,
	"UNKNOWN":   true,
	"NONAME":    true,
	"NAMENO":    true,
	"ANONYMOUS": true,
	"ANONYME":   true,
	"INCONNU":   true,
	"TEST":      true,
	"PATIENT":   true,
}

// PlaceholderDOBs are values that indicate missing/test DOB data
var PlaceholderDOBs = map[string]bool{
	"":         true,
	"00000000": true,
	"11111111": true,
	"19000101": true,
	"99999999": true,
}

// UnknownPatient is the key shared by records carrying no identity at all.
const UnknownPatient = "UNKNOWN"

// IsValidIdentity checks if name and DOB are real values, not placeholders.
func IsValidIdentity(name, dob string) bool {
	nameNormalized := NormalizeName(name)
	dobStr := strings.TrimSpace(dob)

	if PlaceholderNames[nameNormalized] || len(nameNormalized) < 3 {
		return false
	}
	if PlaceholderDOBs[dobStr] || len(dobStr) != 8 {
		return false
	}
	return true
}

// CreateIdentityHash creates a consistent hash from patient name, DOB, and optional salt.
// Returns uppercase 12-character hex string.
func CreateIdentityHash(name, dob, salt string) string {
	identityString := fmt.Sprintf("%s|%s|%s", NormalizeName(name), strings.TrimSpace(dob), salt)
	hash := sha256.Sum256([]byte(identityString))
	return strings.ToUpper(hex.EncodeToString(hash[:])[:12])
}

// PatientKey resolves the key that groups records of one patient. Name+DOB
// wins when both are real values, the patient ID is the fallback.
func PatientKey(patientID, name, dob string) string {
	name = strings.TrimSpace(name)
	dob = strings.TrimSpace(dob)
	patientID = strings.TrimSpace(patientID)

	if IsValidIdentity(name, dob) {
		return "ID:" + CreateIdentityHash(name, dob, "")
	}
	if patientID != "" {
		return "PID:" + patientID
	}
	return UnknownPatient
}

// HashValue derives a 16-character uppercase hex digest of value under salt.
func HashValue(value, salt string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%d:%s|%s", len(value), value, salt)))
	return strings.ToUpper(hex.EncodeToString(hash[:])[:16])
}
