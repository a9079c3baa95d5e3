package identity

import (
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SMITH^JOHN", "JOHNSMITH"},
		{"John Smith", "JOHNSMITH"},
		{"smith, john", "JOHNSMITH"},
		{"Hélène^Dupont-Durand", "DUPONTDURANDHELENE"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidIdentity(t *testing.T) {
	tests := []struct {
		name, dob string
		want      bool
	}{
		{"DOE^JANE", "19700101", true},
		{"ANONYMOUS", "19700101", false},
		{"No Name", "19700101", false},
		{"DOE^JANE", "19000101", false},
		{"DOE^JANE", "1970", false},
		{"AB", "19700101", false},
	}
	for _, tt := range tests {
		if got := IsValidIdentity(tt.name, tt.dob); got != tt.want {
			t.Errorf("IsValidIdentity(%q, %q) = %v, want %v", tt.name, tt.dob, got, tt.want)
		}
	}
}

func TestPatientKey(t *testing.T) {
	a := PatientKey("111", "DOE^JANE", "19700101")
	b := PatientKey("222", "Jane Doe", "19700101")
	assert.Equal(t, a, b, "same identity with different IDs must share a key")
	assert.True(t, strings.HasPrefix(a, "ID:"))

	assert.Equal(t, "PID:333", PatientKey(" 333 ", "ANONYMOUS", ""))
	assert.Equal(t, UnknownPatient, PatientKey("", "", ""))
}

func TestValidateUID(t *testing.T) {
	valid := []string{"1.2.3.4", "9.9.9.9.9", "1.2.840.10008.1.2.1", "0.1"}
	for _, uid := range valid {
		assert.NoError(t, ValidateUID(uid), uid)
	}

	invalid := []string{"", "1..2", "1.02", "1.2.a", ".1.2", "1.2.", strings.Repeat("1", 65)}
	for _, uid := range invalid {
		var uerr *UIDFormatError
		assert.True(t, errors.As(ValidateUID(uid), &uerr), uid)
	}
}

func TestGenDicomUID_Deterministic(t *testing.T) {
	a, err := GenDicomUID("PATIENT-1", "salt", "1.2.3.4")
	require.NoError(t, err)
	b, err := GenDicomUID("PATIENT-1", "salt", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "1.2.3.4."))
	assert.LessOrEqual(t, len(a), MaxUIDLength)
	assert.NoError(t, ValidateUID(a))

	c, err := GenDicomUID("PATIENT-1", "other-salt", "1.2.3.4")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenDicomUID_NoCollisions(t *testing.T) {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const digits = "0123456789"
	rng := rand.New(rand.NewSource(42))

	randString := func(alphabet string, n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return string(b)
	}

	seen := make(map[string]struct{}, 10000)
	inputs := make(map[string]struct{}, 10000)
	for len(inputs) < 10000 {
		patientID := randString(letters, 5+rng.Intn(26))
		suffix := randString(digits, 30)
		if _, dup := inputs[patientID+"|"+suffix]; dup {
			continue
		}
		inputs[patientID+"|"+suffix] = struct{}{}

		uid, err := GenDicomUID(patientID, suffix, "1.2.3.4")
		require.NoError(t, err)
		_, clash := seen[uid]
		require.False(t, clash, "collision on %s", uid)
		seen[uid] = struct{}{}

		again, err := GenDicomUID(patientID, suffix, "1.2.3.4")
		require.NoError(t, err)
		require.Equal(t, uid, again)
	}
}

func TestGenDicomUID_OrgRootErrors(t *testing.T) {
	tests := []struct {
		name    string
		orgRoot string
	}{
		{"empty", ""},
		{"letters", "1.2.abc"},
		{"too long", "1.2.840.10008.999999.999999.999999.999999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenDicomUID("key", "salt", tt.orgRoot)
			var uerr *UIDFormatError
			require.True(t, errors.As(err, &uerr), "got %v", err)
		})
	}
}

func TestLedger_RecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	l, err := OpenLedger(path, "salt")
	require.NoError(t, err)
	assert.Nil(t, l.Record("PID:1", "1.2.3.4.55", 30))
	assert.Nil(t, l.Record("PID:1", "1.2.3.4.55", 30))
	require.NoError(t, l.Save())

	reloaded, err := OpenLedger(path, "salt")
	require.NoError(t, err)
	entry, ok := reloaded.Lookup("PID:1")
	require.True(t, ok)
	assert.Equal(t, 2, entry.Records)
	assert.Equal(t, 30, entry.OffsetDays)

	conflict := reloaded.Record("PID:1", "1.2.3.4.66", 12)
	require.NotNil(t, conflict)
	assert.Equal(t, "1.2.3.4.55", conflict.Previous)
	assert.Equal(t, []string{"1.2.3.4.66"}, reloaded.Pseudonyms())
}

func TestLedger_NeverStoresRawKeys(t *testing.T) {
	l, err := OpenLedger("", "salt")
	require.NoError(t, err)
	l.Record("PID:SECRET-ID", "1.2.3", 1)
	for key := range l.patients {
		assert.NotContains(t, key, "SECRET")
	}
}
