// Package anonymizer applies a de-identification recipe to record sets.
package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"mammo-deid/internal/identity"
	"mammo-deid/internal/recipe"
	"mammo-deid/internal/record"
)

// Source lists and reads input records. Read must be safe for concurrent use.
type Source interface {
	List() ([]string, error)
	Read(ref string) (*record.Record, error)
}

// Sink stores transformed records. Write must be safe for concurrent use,
// must never overwrite and returns ErrOutputExists when the destination is
// taken. It returns where the record went.
type Sink interface {
	Reset() error
	Write(rec *record.Record, patient *PatientContext) (string, error)
}

// DeidentifyAttributes runs the built-in recipe over every record of src
// with default options.
func DeidentifyAttributes(ctx context.Context, src Source, sink Sink, orgRoot string, eraseOutdir bool) (*RunSummary, error) {
	r, err := recipe.Load()
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig(orgRoot)
	cfg.EraseOutdir = eraseOutdir
	return Run(ctx, r, cfg, src, sink)
}

// Run validates cfg, then de-identifies every record of src into sink.
//
// Configuration errors and a failing List abort before any record is
// processed. Failures of single records are reported in their row and the
// run goes on. When ctx is cancelled no new record is started, rows never
// started stay skipped and ctx.Err() is returned with the summary.
func Run(ctx context.Context, r *recipe.Recipe, cfg Config, src Source, sink Sink) (*RunSummary, error) {
	engine, err := NewEngine(r, cfg)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, src, sink)
}

// Run processes src into sink with this engine's registry.
func (e *Engine) Run(ctx context.Context, src Source, sink Sink) (*RunSummary, error) {
	refs, err := src.List()
	if err != nil {
		return nil, fmt.Errorf("could not list records: %w", err)
	}
	if e.cfg.EraseOutdir {
		if err := sink.Reset(); err != nil {
			return nil, fmt.Errorf("could not reset output: %w", err)
		}
	}

	e.log.Info().Int("records", len(refs)).Int("workers", e.cfg.workers()).Msg("starting run")

	b := newSummaryBuilder(e.cfg.OrgRoot, refs)
	p := pool.New().WithMaxGoroutines(e.cfg.workers())
	for i, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		if e.cfg.Skip != nil && e.cfg.Skip(ref) {
			b.set(i, Row{Source: ref, Status: StatusSkipped}, e.cfg.Progress)
			continue
		}
		p.Go(func() {
			b.set(i, e.process(src, sink, ref), e.cfg.Progress)
		})
	}
	p.Wait()

	summary := b.finish()
	t := summary.Totals()
	e.log.Info().
		Str("run_id", summary.RunID.String()).
		Int("success", t.Success).
		Int("failed", t.Failed).
		Int("collisions", t.Collisions).
		Int("skipped", t.Skipped).
		Int("patients", t.Patients).
		Msg("run complete")

	return summary, ctx.Err()
}

func (e *Engine) process(src Source, sink Sink, ref string) Row {
	row := Row{Source: ref}

	rec, err := src.Read(ref)
	if err != nil {
		return e.failed(row, StatusFailed, fmt.Errorf("could not read: %w", err))
	}

	pc, err := e.Patient(rec)
	if err != nil {
		return e.failed(row, StatusFailed, err)
	}
	row.Patient, row.Method = pc.Pseudonym, pc.Method

	out, counts, err := e.deidentify(rec, pc)
	if err != nil {
		return e.failed(row, StatusFailed, err)
	}
	row.Counts = counts
	if out.Source == "" {
		out.Source = ref
	}

	dest, err := sink.Write(out, pc)
	row.Output = dest
	switch {
	case errors.Is(err, ErrOutputExists):
		return e.failed(row, StatusCollision, err)
	case err != nil:
		return e.failed(row, StatusFailed, fmt.Errorf("could not write: %w", err))
	}

	row.Status = StatusSuccess
	e.log.Debug().Str("source", ref).Str("output", dest).Int("removed", counts.Removed).Msg("record done")
	return row
}

func (e *Engine) failed(row Row, status Status, err error) Row {
	row.Status = status
	row.Err = &RecordError{Source: row.Source, Err: err}
	e.log.Warn().Str("source", row.Source).Str("status", string(status)).Err(err).Msg("record not written")
	return row
}

// PatientGroup is one patient of a dry run.
type PatientGroup struct {
	Pseudonym  string
	Method     MatchMethod
	OffsetDays int
	Sources    []string
}

// Preview groups the records of src by patient without transforming or
// writing anything. Unreadable records are returned separately.
func Preview(ctx context.Context, cfg Config, src Source) ([]*PatientGroup, []*RecordError, error) {
	if _, err := identity.GenDicomUID("", cfg.Salt, cfg.OrgRoot); err != nil {
		return nil, nil, fmt.Errorf("org root: %w", err)
	}
	refs, err := src.List()
	if err != nil {
		return nil, nil, fmt.Errorf("could not list records: %w", err)
	}

	registry := NewRegistry(cfg.OrgRoot, cfg.Salt, cfg.MinShiftDays, cfg.MaxShiftDays)
	groups := make(map[string]*PatientGroup)
	var unreadable []*RecordError

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rec, err := src.Read(ref)
		if err != nil {
			unreadable = append(unreadable, &RecordError{Source: ref, Err: err})
			continue
		}
		pc, err := registry.Resolve(patientKey(rec))
		if err != nil {
			unreadable = append(unreadable, &RecordError{Source: ref, Err: err})
			continue
		}
		g, ok := groups[pc.Key]
		if !ok {
			g = &PatientGroup{Pseudonym: pc.Pseudonym, Method: pc.Method, OffsetDays: pc.OffsetDays}
			groups[pc.Key] = g
		}
		g.Sources = append(g.Sources, ref)
	}

	out := make([]*PatientGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pseudonym < out[j].Pseudonym })
	return out, unreadable, nil
}

func patientKey(rec *record.Record) string {
	return identity.PatientKey(
		rec.GetString(patientIDTag),
		rec.GetString(patientNameTag),
		rec.GetString(patientDOBTag),
	)
}
