package identity

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
)

const (
	// MaxUIDLength is the DICOM limit for UI values.
	MaxUIDLength = 64
	// MinUIDSuffix is the number of digest digits a generated UID must keep.
	MinUIDSuffix = 30
)

// UIDFormatError means a UID or org root breaks the DICOM UID syntax.
type UIDFormatError struct {
	UID    string
	Reason string
}

func (e *UIDFormatError) Error() string {
	return fmt.Sprintf("invalid UID %q: %s", e.UID, e.Reason)
}

// ValidateUID checks DICOM UID syntax: dot separated numeric components, no
// leading zeros, at most 64 characters.
func ValidateUID(uid string) error {
	if uid == "" {
		return &UIDFormatError{UID: uid, Reason: "empty"}
	}
	if len(uid) > MaxUIDLength {
		return &UIDFormatError{UID: uid, Reason: fmt.Sprintf("longer than %d characters", MaxUIDLength)}
	}
	for _, part := range strings.Split(uid, ".") {
		if part == "" {
			return &UIDFormatError{UID: uid, Reason: "empty component"}
		}
		if len(part) > 1 && part[0] == '0' {
			return &UIDFormatError{UID: uid, Reason: "component with leading zero"}
		}
		for _, c := range part {
			if c < '0' || c > '9' {
				return &UIDFormatError{UID: uid, Reason: "non-numeric component"}
			}
		}
	}
	return nil
}

// GenDicomUID derives a reproducible UID under orgRoot from the patient key
// and run salt. The SHA-256 digest of the inputs is rendered in decimal and
// truncated so the whole UID fits in 64 characters.
func GenDicomUID(patientKey, runSalt, orgRoot string) (string, error) {
	orgRoot = strings.TrimSuffix(strings.TrimSpace(orgRoot), ".")
	if err := ValidateUID(orgRoot); err != nil {
		return "", err
	}
	room := MaxUIDLength - len(orgRoot) - 1
	if room < MinUIDSuffix {
		return "", &UIDFormatError{
			UID:    orgRoot,
			Reason: fmt.Sprintf("org root leaves %d characters, need %d", room, MinUIDSuffix),
		}
	}

	h := sha256.New()
	for _, part := range []string{orgRoot, patientKey, runSalt} {
		fmt.Fprintf(h, "%d:%s|", len(part), part)
	}
	suffix := new(big.Int).SetBytes(h.Sum(nil)).String()
	if len(suffix) > room {
		suffix = suffix[:room]
	}

	uid := orgRoot + "." + suffix
	if err := ValidateUID(uid); err != nil {
		return "", err
	}
	return uid, nil
}
