package anonymizer

import (
	"sort"
	"strings"
	"sync"

	"mammo-deid/internal/dateshift"
	"mammo-deid/internal/identity"
)

// MatchMethod indicates how a patient was matched
type MatchMethod string

const (
	MatchIdentity MatchMethod = "identity"
	MatchPID      MatchMethod = "pid"
	MatchNone     MatchMethod = "none"
)

// PatientContext is the per-run state of one patient. It is immutable once
// created and shared by every record of that patient.
type PatientContext struct {
	Key        string
	Pseudonym  string
	OffsetDays int
	Method     MatchMethod
}

func methodForKey(key string) MatchMethod {
	switch {
	case strings.HasPrefix(key, "ID:"):
		return MatchIdentity
	case strings.HasPrefix(key, "PID:"):
		return MatchPID
	}
	return MatchNone
}

type registryEntry struct {
	once sync.Once
	ctx  *PatientContext
	err  error
}

// Registry hands out exactly one PatientContext per patient key. The first
// caller for a key builds the context; concurrent callers for the same key
// wait for it.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	build   func(key string) (*PatientContext, error)
}

// NewRegistry returns a registry deriving contexts from salt and orgRoot.
func NewRegistry(orgRoot, salt string, minDays, maxDays int) *Registry {
	return newRegistry(func(key string) (*PatientContext, error) {
		uid, err := identity.GenDicomUID(key, salt, orgRoot)
		if err != nil {
			return nil, err
		}
		return &PatientContext{
			Key:        key,
			Pseudonym:  uid,
			OffsetDays: dateshift.OffsetFor(key, salt, minDays, maxDays),
			Method:     methodForKey(key),
		}, nil
	})
}

func newRegistry(build func(string) (*PatientContext, error)) *Registry {
	return &Registry{entries: make(map[string]*registryEntry), build: build}
}

// Resolve returns the context for key, creating it on first use.
func (r *Registry) Resolve(key string) (*PatientContext, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &registryEntry{}
		r.entries[key] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.ctx, e.err = r.build(key)
	})
	return e.ctx, e.err
}

// Contexts returns every successfully built context, sorted by key.
func (r *Registry) Contexts() []*PatientContext {
	r.mu.Lock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]*PatientContext, 0, len(entries))
	for _, e := range entries {
		e.once.Do(func() {})
		if e.ctx != nil {
			out = append(out, e.ctx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
