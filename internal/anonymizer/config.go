package anonymizer

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"mammo-deid/internal/scrub"
)

// UnmappedPolicy decides what happens to a field no recipe rule covers.
type UnmappedPolicy string

const (
	// UnmappedError fails the record.
	UnmappedError UnmappedPolicy = "error"
	// UnmappedRemove drops the field and counts it.
	UnmappedRemove UnmappedPolicy = "remove"
	// UnmappedKeep passes the field through and counts it.
	UnmappedKeep UnmappedPolicy = "keep"
)

// ParseUnmappedPolicy validates a policy name.
func ParseUnmappedPolicy(s string) (UnmappedPolicy, error) {
	switch p := UnmappedPolicy(s); p {
	case UnmappedError, UnmappedRemove, UnmappedKeep:
		return p, nil
	case "":
		return UnmappedError, nil
	}
	return "", fmt.Errorf("unknown unmapped policy %q (want error, remove or keep)", s)
}

// Status is the outcome of one record.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCollision Status = "collision"
	StatusSkipped   Status = "skipped"
)

// ProgressCallback is called after each record with the number of records
// done so far and the record's row.
type ProgressCallback func(done, total int, row Row)

// Config holds the anonymization configuration
type Config struct {
	// OrgRoot prefixes every generated UID.
	OrgRoot string
	// Salt makes pseudonyms and date offsets reproducible across runs.
	Salt string

	MinShiftDays int
	MaxShiftDays int

	Scrub scrub.Options
	// Identities are names redacted from free text in every record, on top
	// of the names found in the record itself.
	Identities []string

	Unmapped UnmappedPolicy

	// Workers bounds concurrent records. Zero means GOMAXPROCS.
	Workers int
	// EraseOutdir resets the sink before the run.
	EraseOutdir bool

	// Skip, when set, marks records as skipped without reading them.
	Skip     func(source string) bool
	Progress ProgressCallback
	Logger   zerolog.Logger
}

// DefaultConfig returns the configuration DeidentifyAttributes runs with.
func DefaultConfig(orgRoot string) Config {
	return Config{
		OrgRoot:      orgRoot,
		MinShiftDays: 30,
		MaxShiftDays: 730,
		Scrub:        scrub.DefaultOptions(),
		Unmapped:     UnmappedError,
		Logger:       zerolog.Nop(),
	}
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
