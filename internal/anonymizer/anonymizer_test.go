package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	"mammo-deid/internal/dateshift"
	"mammo-deid/internal/identity"
	"mammo-deid/internal/recipe"
	"mammo-deid/internal/record"
)

const testOrgRoot = "1.2.826.0.1.3680043.10.1234"

var (
	viewCodeSequence = tag.Tag{Group: 0x0054, Element: 0x0220}
	codeValue        = tag.Tag{Group: 0x0008, Element: 0x0100}
	overlayData      = tag.Tag{Group: 0x6000, Element: 0x3000}
	accessionNumber  = tag.Tag{Group: 0x0008, Element: 0x0050}
)

type memSource struct {
	refs    []string
	recs    map[string]*record.Record
	listErr error
}

func (s *memSource) List() ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.refs, nil
}

func (s *memSource) Read(ref string) (*record.Record, error) {
	rec, ok := s.recs[ref]
	if !ok {
		return nil, fmt.Errorf("%s: not a DICOM file", ref)
	}
	return rec, nil
}

func (s *memSource) add(rec *record.Record) {
	if s.recs == nil {
		s.recs = make(map[string]*record.Record)
	}
	s.refs = append(s.refs, rec.Source)
	s.recs[rec.Source] = rec
}

type memSink struct {
	mu     sync.Mutex
	out    map[string]*record.Record
	resets int
}

func (s *memSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = make(map[string]*record.Record)
	s.resets++
	return nil
}

func (s *memSink) Write(rec *record.Record, pc *PatientContext) (string, error) {
	dest := pc.Pseudonym + "/" + path.Base(rec.Source)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		s.out = make(map[string]*record.Record)
	}
	if _, ok := s.out[dest]; ok {
		return dest, ErrOutputExists
	}
	s.out[dest] = rec
	return dest, nil
}

func (s *memSink) get(dest string) *record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out[dest]
}

// mammo builds a small mammography record for one patient.
func mammo(ref, pid, name, dob string) *record.Record {
	rec := record.New(ref)
	rec.SetString(tag.SpecificCharacterSet, "CS", "ISO_IR 100")
	rec.SetString(tag.StudyDate, "DA", "20240315")
	rec.SetString(tag.StudyTime, "TM", "101500")
	rec.SetString(accessionNumber, "SH", "ACC"+pid)
	rec.SetString(tag.Modality, "CS", "MG")
	rec.SetString(tag.InstitutionName, "LO", "CENTRE SENOLOGIE")
	rec.SetString(tag.StudyDescription, "LO", "Mammo bilaterale "+strings.Split(name, "^")[0])
	rec.SetString(tag.PatientName, "PN", name)
	rec.SetString(tag.PatientID, "LO", pid)
	rec.SetString(tag.PatientBirthDate, "DA", dob)
	rec.SetString(tag.PatientSex, "CS", "F")
	rec.SetString(tag.StudyInstanceUID, "UI", "1.2.840.99999."+strings.TrimLeft(pid, "P"))

	view := record.New("")
	view.SetString(codeValue, "SH", "R-10242")
	view.SetString(tag.PatientName, "PN", name)
	rec.Set(viewCodeSequence, record.SequenceValue(view))

	rec.Set(overlayData, record.Value{VR: "OW", Kind: record.KindOpaque, Opaque: []byte{0, 1}})
	rec.Set(tag.PixelData, record.Value{VR: "OW", Kind: record.KindOpaque, Opaque: []byte{1, 2, 3}})
	return rec
}

func sampleSource() *memSource {
	src := &memSource{}
	src.add(mammo("study1/RCC.dcm", "P1001", "DUPONT^MARIE", "19650412"))
	src.add(mammo("study1/LCC.dcm", "P1001", "DUPONT^MARIE", "19650412"))
	src.add(mammo("study2/RMLO.dcm", "P2002", "MARTIN^ANNE", "19700101"))
	src.refs = append(src.refs, "broken.dcm")
	return src
}

func testConfig(salt string) Config {
	cfg := DefaultConfig(testOrgRoot)
	cfg.Salt = salt
	cfg.Workers = 4
	return cfg
}

func TestDeidentifyAttributes_ReportsEveryRecord(t *testing.T) {
	src := sampleSource()
	sink := &memSink{}

	summary, err := DeidentifyAttributes(context.Background(), src, sink, testOrgRoot, false)
	require.NoError(t, err)
	require.Equal(t, 4, summary.Len())
	assert.Zero(t, sink.resets)

	rows := summary.Rows()
	for i, row := range rows {
		assert.Equal(t, src.refs[i], row.Source)
	}
	assert.Equal(t, StatusSuccess, rows[0].Status)
	assert.Equal(t, StatusSuccess, rows[1].Status)
	assert.Equal(t, StatusSuccess, rows[2].Status)
	assert.Equal(t, StatusFailed, rows[3].Status)

	var recErr *RecordError
	require.True(t, errors.As(rows[3].Err, &recErr))
	assert.Equal(t, "broken.dcm", recErr.Source)
	assert.Contains(t, rows[3].ErrorText(), "not a DICOM file")

	assert.Equal(t, rows[0].Patient, rows[1].Patient)
	assert.NotEqual(t, rows[0].Patient, rows[2].Patient)
	assert.True(t, strings.HasPrefix(rows[0].Patient, testOrgRoot+"."))

	for _, line := range summary.Table() {
		assert.Len(t, line, len(Columns))
	}

	totals := summary.Totals()
	assert.Equal(t, Totals{Success: 3, Failed: 1, Patients: 2, IdentityMatched: 2}, totals)
}

func TestDeidentifyAttributes_TransformsFields(t *testing.T) {
	src := sampleSource()
	sink := &memSink{}

	summary, err := DeidentifyAttributes(context.Background(), src, sink, testOrgRoot, false)
	require.NoError(t, err)
	row := summary.Rows()[0]
	out := sink.get(row.Output)
	require.NotNil(t, out)

	assert.Equal(t, "ANONYMOUS", out.GetString(tag.PatientName))
	assert.Equal(t, row.Patient, out.GetString(tag.PatientID))
	assert.Equal(t, "MG", out.GetString(tag.Modality))
	assert.Equal(t, "Mammo bilaterale [REDACTED]", out.GetString(tag.StudyDescription))
	assert.False(t, out.Has(tag.StudyTime))
	assert.False(t, out.Has(tag.InstitutionName))
	assert.False(t, out.Has(overlayData))
	assert.True(t, out.Has(tag.PixelData))

	uid := out.GetString(tag.StudyInstanceUID)
	assert.NoError(t, identity.ValidateUID(uid))
	assert.NotEqual(t, "1.2.840.99999.1001", uid)
	assert.Equal(t, identity.HashValue("ACCP1001", ""), out.GetString(accessionNumber))

	offset := dateshift.OffsetFor(identity.PatientKey("P1001", "DUPONT^MARIE", "19650412"), "", 30, 730)
	wantStudy, err := dateshift.Offset4Date("20240315", offset)
	require.NoError(t, err)
	assert.Equal(t, wantStudy, out.GetString(tag.StudyDate))

	seq, ok := out.Get(viewCodeSequence)
	require.True(t, ok)
	require.Len(t, seq.Items, 1)
	assert.Equal(t, "R-10242", seq.Items[0].GetString(codeValue))
	assert.Equal(t, "ANONYMOUS", seq.Items[0].GetString(tag.PatientName))
}

func TestRun_ReproducibleAcrossRuns(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)

	run := func(salt string) (*RunSummary, *memSink) {
		sink := &memSink{}
		summary, err := Run(context.Background(), r, testConfig(salt), sampleSource(), sink)
		require.NoError(t, err)
		return summary, sink
	}

	first, firstSink := run("site-salt")
	second, secondSink := run("site-salt")
	if diff := cmp.Diff(first.Table(), second.Table()); diff != "" {
		t.Errorf("reports differ between runs (-first +second):\n%s", diff)
	}
	assert.NotEqual(t, first.RunID, second.RunID)

	for _, row := range first.Rows() {
		if row.Status != StatusSuccess {
			continue
		}
		a, b := firstSink.get(row.Output), secondSink.get(row.Output)
		require.NotNil(t, b)
		assert.Equal(t, a.GetString(tag.StudyDate), b.GetString(tag.StudyDate))
		assert.Equal(t, a.GetString(tag.PatientBirthDate), b.GetString(tag.PatientBirthDate))
		assert.Equal(t, a.GetString(tag.StudyInstanceUID), b.GetString(tag.StudyInstanceUID))
	}

	other, _ := run("other-salt")
	assert.NotEqual(t, first.Rows()[0].Patient, other.Rows()[0].Patient)
}

func TestRun_SamePatientConsistentUnderConcurrency(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)

	src := &memSource{}
	names := []string{"DUPONT^MARIE", "MARTIN^ANNE", "BERNARD^LUCIE", "PETIT^CLAIRE", "ROUX^EMMA"}
	for i := 0; i < 200; i++ {
		n := i % len(names)
		src.add(mammo(fmt.Sprintf("p%d/img%03d.dcm", n, i), fmt.Sprintf("P%d", n), names[n], "19600101"))
	}

	cfg := testConfig("salt")
	cfg.Workers = 16
	engine, err := NewEngine(r, cfg)
	require.NoError(t, err)

	sink := &memSink{}
	summary, err := engine.Run(context.Background(), src, sink)
	require.NoError(t, err)
	assert.Equal(t, 200, summary.Totals().Success)
	assert.Len(t, engine.Registry().Contexts(), len(names))

	pseudonyms := make(map[string]string)
	dates := make(map[string]string)
	for _, row := range summary.Rows() {
		patient := strings.Split(row.Source, "/")[0]
		out := sink.get(row.Output)
		require.NotNil(t, out)
		if prev, ok := pseudonyms[patient]; ok {
			assert.Equal(t, prev, row.Patient, "pseudonym for %s", patient)
			assert.Equal(t, dates[patient], out.GetString(tag.StudyDate), "study date for %s", patient)
			continue
		}
		pseudonyms[patient] = row.Patient
		dates[patient] = out.GetString(tag.StudyDate)
	}
	assert.Len(t, pseudonyms, len(names))
}

func TestRegistry_BuildsOncePerKey(t *testing.T) {
	var builds atomic.Int32
	reg := newRegistry(func(key string) (*PatientContext, error) {
		builds.Add(1)
		return &PatientContext{Key: key, Pseudonym: "1.2." + key}, nil
	})

	var wg sync.WaitGroup
	results := make([]*PatientContext, 100)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc, err := reg.Resolve(fmt.Sprintf("%d", i%3))
			assert.NoError(t, err)
			results[i] = pc
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), builds.Load())
	for i, pc := range results {
		assert.Same(t, results[i%3], pc)
	}
	assert.Len(t, reg.Contexts(), 3)
}

func TestRun_Collision(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)
	sink := &memSink{}

	_, err = Run(context.Background(), r, testConfig("s"), sampleSource(), sink)
	require.NoError(t, err)

	summary, err := Run(context.Background(), r, testConfig("s"), sampleSource(), sink)
	require.NoError(t, err)
	for _, row := range summary.Rows()[:3] {
		assert.Equal(t, StatusCollision, row.Status, row.Source)
		assert.ErrorIs(t, row.Err, ErrOutputExists)
		assert.NotEmpty(t, row.Output)
	}
	assert.Equal(t, 3, summary.Totals().Collisions)

	cfg := testConfig("s")
	cfg.EraseOutdir = true
	summary, err = Run(context.Background(), r, cfg, sampleSource(), sink)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.resets)
	assert.Equal(t, 3, summary.Totals().Success)
}

func TestRun_ListFailureIsFatal(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)
	listErr := errors.New("permission denied")

	summary, err := Run(context.Background(), r, testConfig(""), &memSource{listErr: listErr}, &memSink{})
	assert.Nil(t, summary)
	assert.ErrorIs(t, err, listErr)
}

func TestRun_Cancelled(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &memSink{}
	summary, err := Run(ctx, r, testConfig(""), sampleSource(), sink)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 4, summary.Totals().Skipped)
	assert.Empty(t, sink.out)
}

func TestRun_SkipAndProgress(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)

	cfg := testConfig("")
	cfg.Skip = func(ref string) bool { return strings.HasPrefix(ref, "study2/") }
	var calls []string
	cfg.Progress = func(done, total int, row Row) {
		assert.Equal(t, 4, total)
		assert.Equal(t, len(calls)+1, done)
		calls = append(calls, row.Source+":"+string(row.Status))
	}

	summary, err := Run(context.Background(), r, cfg, sampleSource(), &memSink{})
	require.NoError(t, err)
	assert.Len(t, calls, 4)
	assert.Contains(t, calls, "study2/RMLO.dcm:skipped")
	assert.Equal(t, Totals{Success: 2, Failed: 1, Skipped: 1, Patients: 1, IdentityMatched: 1}, summary.Totals())
}

func TestRun_UnmappedPolicy(t *testing.T) {
	r, err := recipe.Build("test", []recipe.Entry{
		{Tag: "(0010,0010)", Action: "REPLACE", Value: "PAT-{pseudonym}", Line: 1},
		{Tag: "(0010,0020)", Action: "HASH", Line: 2},
		{Tag: "(0010,0030)", Action: "DATE_SHIFT", Line: 3},
	})
	require.NoError(t, err)

	build := func() *memSource {
		rec := record.New("a.dcm")
		rec.SetString(tag.PatientName, "PN", "DOE^JANE")
		rec.SetString(tag.PatientID, "LO", "42")
		rec.SetString(tag.PatientBirthDate, "DA", "19800101")
		rec.SetString(tag.Modality, "CS", "MG")
		src := &memSource{}
		src.add(rec)
		return src
	}

	tests := []struct {
		policy     UnmappedPolicy
		wantStatus Status
		wantKept   bool
	}{
		{UnmappedError, StatusFailed, false},
		{UnmappedRemove, StatusSuccess, false},
		{UnmappedKeep, StatusSuccess, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			cfg := testConfig("")
			cfg.Unmapped = tt.policy
			sink := &memSink{}
			summary, err := Run(context.Background(), r, cfg, build(), sink)
			require.NoError(t, err)

			row := summary.Rows()[0]
			assert.Equal(t, tt.wantStatus, row.Status)
			if tt.wantStatus == StatusFailed {
				var unmapped *recipe.UnmappedFieldError
				require.True(t, errors.As(row.Err, &unmapped))
				assert.Equal(t, tag.Modality, unmapped.Tag)
				assert.Empty(t, sink.out)
				return
			}

			assert.Equal(t, 1, row.Counts.Unmapped)
			out := sink.get(row.Output)
			require.NotNil(t, out)
			assert.Equal(t, tt.wantKept, out.Has(tag.Modality))
			assert.Equal(t, "PAT-"+row.Patient, out.GetString(tag.PatientName))
		})
	}
}

func TestDeidentifyRecord_LeavesInputUntouched(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)
	engine, err := NewEngine(r, testConfig("salt"))
	require.NoError(t, err)

	in := mammo("x.dcm", "P7", "LEROY^ANNE", "19591231")
	before := in.Clone()

	out, pc, counts, err := engine.DeidentifyRecord(in)
	require.NoError(t, err)
	assert.Equal(t, before, in)
	assert.NotSame(t, in, out)
	assert.Equal(t, MatchIdentity, pc.Method)
	assert.Positive(t, counts.Removed)
	assert.Positive(t, counts.Shifted)
	assert.Equal(t, 1, counts.Redactions)
	assert.Empty(t, counts.Failures)
}

func TestDeidentifyRecord_ScrubsOnlyPersonNames(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)
	engine, err := NewEngine(r, testConfig("salt"))
	require.NoError(t, err)

	in := mammo("x.dcm", "P8", "DE LA FONTAINE^MARIE", "19591231")
	in.SetString(tag.InstitutionName, "LO", "CENTRE DE SENOLOGIE")
	in.SetString(tag.StationName, "SH", "MAMMO")
	in.SetString(tag.StudyDescription, "LO", "Mammographie de depistage la semaine, Mme de la Fontaine")
	in.SetString(tag.SeriesDescription, "LO", "MAMMO CC DROITE")

	out, _, counts, err := engine.DeidentifyRecord(in)
	require.NoError(t, err)
	assert.Equal(t, "Mammographie de depistage la semaine, Mme de la [REDACTED]", out.GetString(tag.StudyDescription))
	assert.Equal(t, "MAMMO CC DROITE", out.GetString(tag.SeriesDescription))
	assert.Equal(t, 1, counts.Redactions)
}

func TestRun_KeepsSourceRecordUnchanged(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)

	ref := "study9/LMLO.dcm"
	rec := mammo("", "P9", "ROUX^CLAIRE", "19750606")
	src := &memSource{refs: []string{ref}, recs: map[string]*record.Record{ref: rec}}
	sink := &memSink{}

	summary, err := Run(context.Background(), r, testConfig("salt"), src, sink)
	require.NoError(t, err)
	row := summary.Rows()[0]
	require.Equal(t, StatusSuccess, row.Status)
	assert.Equal(t, row.Patient+"/LMLO.dcm", row.Output)
	assert.Empty(t, rec.Source)

	out := sink.get(row.Output)
	require.NotNil(t, out)
	assert.Equal(t, ref, out.Source)
}

func TestDeidentifyRecord_MalformedDateRemovesField(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)
	engine, err := NewEngine(r, testConfig("salt"))
	require.NoError(t, err)

	in := mammo("x.dcm", "P8", "LEROY^ANNE", "19591231")
	in.SetString(tag.StudyDate, "DA", "2024-03-15")

	out, _, counts, err := engine.DeidentifyRecord(in)
	require.NoError(t, err)
	assert.False(t, out.Has(tag.StudyDate))
	require.Len(t, counts.Failures, 1)
	assert.Equal(t, tag.StudyDate, counts.Failures[0].Tag)
	assert.Equal(t, recipe.ActionDateShift, counts.Failures[0].Action)
}

func TestDeidentifyRecord_PatientIDFallback(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)
	engine, err := NewEngine(r, testConfig("salt"))
	require.NoError(t, err)

	a := mammo("a.dcm", "P9", "ANONYMOUS", "19591231")
	b := mammo("b.dcm", "P9", "ANONYMOUS", "19000101")

	_, pa, _, err := engine.DeidentifyRecord(a)
	require.NoError(t, err)
	_, pb, _, err := engine.DeidentifyRecord(b)
	require.NoError(t, err)
	assert.Equal(t, MatchPID, pa.Method)
	assert.Same(t, pa, pb)
}

func TestNewEngine_Errors(t *testing.T) {
	r, err := recipe.Load()
	require.NoError(t, err)

	var uidErr *identity.UIDFormatError
	_, err = NewEngine(r, DefaultConfig("1.2.abc"))
	assert.True(t, errors.As(err, &uidErr))

	_, err = NewEngine(r, DefaultConfig("1."+strings.Repeat("2.", 16)+"3"))
	assert.True(t, errors.As(err, &uidErr))

	cfg := DefaultConfig(testOrgRoot)
	cfg.MinShiftDays, cfg.MaxShiftDays = 10, 5
	_, err = NewEngine(r, cfg)
	assert.Error(t, err)

	cfg = DefaultConfig(testOrgRoot)
	cfg.Unmapped = "ignore"
	_, err = NewEngine(r, cfg)
	assert.Error(t, err)

	_, err = NewEngine(nil, DefaultConfig(testOrgRoot))
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	groups, unreadable, err := Preview(context.Background(), testConfig("salt"), sampleSource())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Len(t, unreadable, 1)
	assert.Equal(t, "broken.dcm", unreadable[0].Source)

	sizes := []int{len(groups[0].Sources), len(groups[1].Sources)}
	assert.ElementsMatch(t, []int{2, 1}, sizes)
	for _, g := range groups {
		assert.Equal(t, MatchIdentity, g.Method)
		assert.GreaterOrEqual(t, g.OffsetDays, 30)
		assert.LessOrEqual(t, g.OffsetDays, 730)
	}
}
