package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// LedgerEntry records the pseudonym and date offset issued for one patient.
type LedgerEntry struct {
	Pseudonym  string `json:"pseudonym"`
	OffsetDays int    `json:"offset_days"`
	Records    int    `json:"records"`
	FirstSeen  string `json:"first_seen"`
	LastSeen   string `json:"last_seen"`
}

// LedgerData is the JSON structure for persistence
type LedgerData struct {
	Patients map[string]*LedgerEntry `json:"patients"`
	Updated  string                  `json:"updated"`
	Note     string                  `json:"note"`
}

// Ledger is an audit trail of issued pseudonyms, keyed by a salted hash of
// the patient key so it never stores names or raw patient IDs.
type Ledger struct {
	mu       sync.Mutex
	path     string
	salt     string
	patients map[string]*LedgerEntry
}

// Conflict describes a patient whose pseudonym differs from a previous run.
type Conflict struct {
	KeyHash  string
	Previous string
	Current  string
}

// OpenLedger loads path if it exists. An empty path keeps the ledger in memory.
func OpenLedger(path, salt string) (*Ledger, error) {
	l := &Ledger{
		path:     path,
		salt:     salt,
		patients: make(map[string]*LedgerEntry),
	}
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read ledger: %w", err)
	}

	var ld LedgerData
	if err := json.Unmarshal(data, &ld); err != nil {
		return nil, fmt.Errorf("could not parse ledger %s: %w", path, err)
	}
	if ld.Patients != nil {
		l.patients = ld.Patients
	}
	return l, nil
}

// Record notes that a record of patientKey was issued pseudonym and offset.
// It returns a Conflict when an earlier run issued a different pseudonym,
// which happens when the salt or org root changed between runs.
func (l *Ledger) Record(patientKey, pseudonym string, offsetDays int) *Conflict {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := HashValue(patientKey, l.salt)
	now := time.Now().Format(time.RFC3339)

	entry, ok := l.patients[key]
	if !ok {
		l.patients[key] = &LedgerEntry{
			Pseudonym:  pseudonym,
			OffsetDays: offsetDays,
			Records:    1,
			FirstSeen:  now,
			LastSeen:   now,
		}
		return nil
	}

	entry.Records++
	entry.LastSeen = now
	if entry.Pseudonym != pseudonym {
		c := &Conflict{KeyHash: key, Previous: entry.Pseudonym, Current: pseudonym}
		entry.Pseudonym = pseudonym
		entry.OffsetDays = offsetDays
		return c
	}
	return nil
}

// Lookup returns the entry for patientKey.
func (l *Ledger) Lookup(patientKey string) (LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.patients[HashValue(patientKey, l.salt)]
	if !ok {
		return LedgerEntry{}, false
	}
	return *entry, true
}

// Len returns the number of patients in the ledger.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.patients)
}

// Pseudonyms returns every issued pseudonym, sorted.
func (l *Ledger) Pseudonyms() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.patients))
	for _, e := range l.patients {
		out = append(out, e.Pseudonym)
	}
	sort.Strings(out)
	return out
}

// Save writes the ledger to disk.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("could not create ledger directory: %w", err)
	}

	data, err := json.MarshalIndent(LedgerData{
		Patients: l.patients,
		Updated:  time.Now().Format(time.RFC3339),
		Note:     "keys are salted hashes of the patient key (Name+DOB or PatientID)",
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal ledger: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0600); err != nil {
		return fmt.Errorf("could not save ledger: %w", err)
	}
	return nil
}
