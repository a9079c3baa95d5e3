package anonymizer

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Row is the outcome of one record.
type Row struct {
	Source  string
	Output  string
	Patient string
	Method  MatchMethod
	Counts  Counts
	Status  Status
	// Err is a *RecordError for failed and collided records.
	Err error
}

// ErrorText returns the cause of a failed row without the source prefix.
func (r Row) ErrorText() string {
	var re *RecordError
	switch {
	case r.Err == nil:
		return ""
	case errors.As(r.Err, &re):
		return re.Err.Error()
	}
	return r.Err.Error()
}

// Columns is the header of Table.
var Columns = []string{
	"source", "output", "patient", "removed", "kept", "replaced",
	"hashed", "shifted", "scrubbed", "redactions", "unmapped",
	"failures", "status", "error",
}

// Totals aggregates a summary.
type Totals struct {
	Success         int
	Failed          int
	Collisions      int
	Skipped         int
	Patients        int
	IdentityMatched int
	PIDMatched      int
}

// RunSummary is the report of one run, one row per source record in listing
// order. It is read-only once returned.
type RunSummary struct {
	RunID    uuid.UUID
	OrgRoot  string
	Started  time.Time
	Finished time.Time
	rows     []Row
}

// Rows returns a copy of the rows.
func (s *RunSummary) Rows() []Row {
	return append([]Row(nil), s.rows...)
}

// Len returns the number of rows.
func (s *RunSummary) Len() int { return len(s.rows) }

// Totals counts rows per status and distinct patients per match method.
func (s *RunSummary) Totals() Totals {
	var t Totals
	patients := make(map[string]MatchMethod)
	for _, r := range s.rows {
		switch r.Status {
		case StatusSuccess:
			t.Success++
		case StatusFailed:
			t.Failed++
		case StatusCollision:
			t.Collisions++
		case StatusSkipped:
			t.Skipped++
		}
		if r.Patient != "" {
			patients[r.Patient] = r.Method
		}
	}
	t.Patients = len(patients)
	for _, m := range patients {
		switch m {
		case MatchIdentity:
			t.IdentityMatched++
		case MatchPID:
			t.PIDMatched++
		}
	}
	return t
}

// Table renders the rows as strings under Columns.
func (s *RunSummary) Table() [][]string {
	return lo.Map(s.rows, func(r Row, _ int) []string {
		c := r.Counts
		failures := lo.Map(c.Failures, func(f FieldFailure, _ int) string { return f.String() })
		return []string{
			r.Source, r.Output, r.Patient,
			strconv.Itoa(c.Removed), strconv.Itoa(c.Kept), strconv.Itoa(c.Replaced),
			strconv.Itoa(c.Hashed), strconv.Itoa(c.Shifted), strconv.Itoa(c.Scrubbed),
			strconv.Itoa(c.Redactions), strconv.Itoa(c.Unmapped),
			strings.Join(failures, "; "), string(r.Status), r.ErrorText(),
		}
	})
}

// summaryBuilder collects rows from concurrent workers.
type summaryBuilder struct {
	mu      sync.Mutex
	summary *RunSummary
	done    int
}

func newSummaryBuilder(orgRoot string, sources []string) *summaryBuilder {
	rows := make([]Row, len(sources))
	for i, src := range sources {
		rows[i] = Row{Source: src, Status: StatusSkipped}
	}
	return &summaryBuilder{summary: &RunSummary{
		RunID:   uuid.New(),
		OrgRoot: orgRoot,
		Started: time.Now(),
		rows:    rows,
	}}
}

// set stores the row at index i and reports progress. Callbacks are
// serialized.
func (b *summaryBuilder) set(i int, row Row, progress ProgressCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary.rows[i] = row
	b.done++
	if progress != nil {
		progress(b.done, len(b.summary.rows), row)
	}
}

func (b *summaryBuilder) finish() *RunSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary.Finished = time.Now()
	return b.summary
}
