package anonymizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom/pkg/tag"

	"mammo-deid/internal/dateshift"
	"mammo-deid/internal/identity"
	"mammo-deid/internal/recipe"
	"mammo-deid/internal/record"
	"mammo-deid/internal/scrub"
)

// PseudonymPlaceholder in a REPLACE value is substituted with the patient
// pseudonym.
const PseudonymPlaceholder = "{pseudonym}"

// FieldFailure is a field the engine could not transform. The field is
// dropped from the output and the record still succeeds.
type FieldFailure struct {
	Tag    tag.Tag
	Action recipe.Action
	Err    error
}

func (f FieldFailure) String() string {
	return fmt.Sprintf("%s %s: %v", recipe.FormatTag(f.Tag), f.Action, f.Err)
}

// Counts tallies what happened to the fields of one record, nested sequence
// items included.
type Counts struct {
	Removed    int
	Kept       int
	Replaced   int
	Hashed     int
	Shifted    int
	Scrubbed   int
	Redactions int
	Unmapped   int
	Failures   []FieldFailure
}

// Engine applies a recipe to records. It is safe for concurrent use; the
// patient registry is its only mutable state.
type Engine struct {
	recipe   *recipe.Recipe
	cfg      Config
	registry *Registry
	log      zerolog.Logger
}

// NewEngine validates cfg against r and returns an engine for one run.
func NewEngine(r *recipe.Recipe, cfg Config) (*Engine, error) {
	if r == nil {
		return nil, errors.New("no recipe")
	}
	// Generating a throwaway UID checks both syntax and remaining room.
	if _, err := identity.GenDicomUID("", cfg.Salt, cfg.OrgRoot); err != nil {
		return nil, fmt.Errorf("org root: %w", err)
	}
	if cfg.MaxShiftDays < cfg.MinShiftDays {
		return nil, fmt.Errorf("shift range [%d, %d] is empty", cfg.MinShiftDays, cfg.MaxShiftDays)
	}
	policy, err := ParseUnmappedPolicy(string(cfg.Unmapped))
	if err != nil {
		return nil, err
	}
	cfg.Unmapped = policy
	if cfg.Scrub.Placeholder == "" && cfg.Scrub.Threshold == 0 && cfg.Scrub.MinTokenLength == 0 {
		cfg.Scrub = scrub.DefaultOptions()
	}

	return &Engine{
		recipe:   r,
		cfg:      cfg,
		registry: NewRegistry(cfg.OrgRoot, cfg.Salt, cfg.MinShiftDays, cfg.MaxShiftDays),
		log:      cfg.Logger,
	}, nil
}

// Registry exposes the patient contexts created so far.
func (e *Engine) Registry() *Registry { return e.registry }

// Patient resolves the context of the patient rec belongs to.
func (e *Engine) Patient(rec *record.Record) (*PatientContext, error) {
	return e.registry.Resolve(patientKey(rec))
}

// DeidentifyRecord transforms in into a new record. in is never modified.
// On error no output is returned.
func (e *Engine) DeidentifyRecord(in *record.Record) (*record.Record, *PatientContext, Counts, error) {
	pc, err := e.Patient(in)
	if err != nil {
		return nil, nil, Counts{}, err
	}
	out, counts, err := e.deidentify(in, pc)
	if err != nil {
		return nil, pc, Counts{}, err
	}
	return out, pc, counts, nil
}

func (e *Engine) deidentify(in *record.Record, pc *PatientContext) (*record.Record, Counts, error) {
	t := &transform{
		engine:  e,
		patient: pc,
		scrub:   scrub.New(e.identities(in), e.cfg.Scrub),
		log:     e.log.With().Str("source", in.Source).Logger(),
	}
	out, err := t.apply(in)
	if err != nil {
		return nil, Counts{}, err
	}
	return out, t.counts, nil
}

// identities collects the configured names plus every name-bearing value of
// the record.
func (e *Engine) identities(rec *record.Record) []string {
	names := append([]string(nil), e.cfg.Identities...)
	sourceTags := make(map[tag.Tag]bool, len(IdentitySourceTags))
	for _, t := range IdentitySourceTags {
		sourceTags[t] = true
	}
	rec.Walk(func(f record.Field) {
		if sourceTags[f.Tag] || f.Value.Kind == record.KindPersonName {
			names = append(names, f.Value.Strings...)
		}
	})
	return names
}

type transform struct {
	engine  *Engine
	patient *PatientContext
	scrub   *scrub.Scrubber
	counts  Counts
	log     zerolog.Logger
}

func (t *transform) apply(in *record.Record) (*record.Record, error) {
	out := record.New(in.Source)
	for _, f := range in.Fields() {
		rule, err := t.engine.recipe.Match(f.Tag)
		if err != nil {
			var unmapped *recipe.UnmappedFieldError
			if !errors.As(err, &unmapped) {
				return nil, err
			}
			if err := t.unmapped(out, f, err); err != nil {
				return nil, err
			}
			continue
		}
		if err := t.field(out, f, rule); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *transform) unmapped(out *record.Record, f record.Field, cause error) error {
	switch t.engine.cfg.Unmapped {
	case UnmappedRemove:
		t.counts.Unmapped++
		return nil
	case UnmappedKeep:
		t.counts.Unmapped++
		return t.keep(out, f)
	}
	return cause
}

func (t *transform) field(out *record.Record, f record.Field, rule recipe.Rule) error {
	if rule.Action != recipe.ActionRemove && rule.Action != recipe.ActionKeep && !f.Value.IsString() {
		t.fail(f, rule.Action, fmt.Errorf("%s value cannot be rewritten", vrOf(f.Value)))
		return nil
	}

	v := f.Value
	switch rule.Action {
	case recipe.ActionRemove:
		t.counts.Removed++

	case recipe.ActionKeep:
		t.counts.Kept++
		return t.keep(out, f)

	case recipe.ActionReplace:
		value := strings.ReplaceAll(rule.Param, PseudonymPlaceholder, t.patient.Pseudonym)
		out.Set(f.Tag, record.StringValue(v.VR, value))
		t.counts.Replaced++

	case recipe.ActionHash:
		hashed, err := t.hash(f)
		if err != nil {
			return err
		}
		out.Set(f.Tag, record.StringValue(v.VR, hashed...))
		t.counts.Hashed++

	case recipe.ActionDateShift:
		shifted := make([]string, len(v.Strings))
		for i, s := range v.Strings {
			d, err := dateshift.ShiftValue(v.VR, s, t.patient.OffsetDays)
			if err != nil {
				t.fail(f, rule.Action, err)
				return nil
			}
			shifted[i] = d
		}
		out.Set(f.Tag, record.StringValue(v.VR, shifted...))
		t.counts.Shifted++

	case recipe.ActionScrubText:
		cleaned := make([]string, len(v.Strings))
		for i, s := range v.Strings {
			var n int
			cleaned[i], n = t.scrub.Scrub(s)
			t.counts.Redactions += n
		}
		out.Set(f.Tag, record.StringValue(v.VR, cleaned...))
		t.counts.Scrubbed++

	default:
		return fmt.Errorf("%s: unsupported action %s", recipe.FormatTag(f.Tag), rule.Action)
	}
	return nil
}

// keep copies f, applying the recipe to the fields of every sequence item.
func (t *transform) keep(out *record.Record, f record.Field) error {
	if f.Value.Kind != record.KindSequence {
		out.Set(f.Tag, f.Value.Clone())
		return nil
	}
	items := make([]*record.Record, 0, len(f.Value.Items))
	for _, item := range f.Value.Items {
		cleaned, err := t.apply(item)
		if err != nil {
			return fmt.Errorf("%s item: %w", recipe.FormatTag(f.Tag), err)
		}
		items = append(items, cleaned)
	}
	out.Set(f.Tag, record.SequenceValue(items...))
	return nil
}

func (t *transform) hash(f record.Field) ([]string, error) {
	cfg := t.engine.cfg
	out := make([]string, len(f.Value.Strings))
	for i, s := range f.Value.Strings {
		s = strings.TrimSpace(s)
		switch {
		case f.Tag == patientIDTag:
			out[i] = t.patient.Pseudonym
		case s == "":
		case f.Value.Kind == record.KindUID:
			uid, err := identity.GenDicomUID(s, cfg.Salt, cfg.OrgRoot)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", recipe.FormatTag(f.Tag), err)
			}
			out[i] = uid
		default:
			out[i] = identity.HashValue(s, cfg.Salt)
		}
	}
	return out, nil
}

func (t *transform) fail(f record.Field, action recipe.Action, err error) {
	t.counts.Failures = append(t.counts.Failures, FieldFailure{Tag: f.Tag, Action: action, Err: err})
	t.log.Warn().
		Str("tag", recipe.FormatTag(f.Tag)).
		Str("action", action.String()).
		Msg("field removed")
}

func vrOf(v record.Value) string {
	if v.VR == "" {
		return "untyped"
	}
	return v.VR
}
